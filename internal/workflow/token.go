package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
)

// revokeTokenVersion is bumped whenever the token shape changes so stale
// in-flight modals fail closed instead of being misread.
const revokeTokenVersion = 1

// ErrMalformedToken indicates the opaque correlation metadata on a form
// submission could not be decoded. Callers must fail closed: no emoji
// removal or notification may be issued from an undecodable token.
var ErrMalformedToken = errors.New("workflow: malformed correlation token")

// RevokeRequest is the correlation token carried through the modal round
// trip. It is the workflow's only session state; nothing is stored server
// side. The JSON keys match the metadata contract with the modal surface.
type RevokeRequest struct {
	SchemaVersion int    `json:"v"`
	EmojiName     string `json:"emoji"`
	UploaderID    string `json:"user_id"`
	MessageTS     string `json:"message_ts"`
	MessageText   string `json:"current_message"`
}

// EncodeRevokeToken serializes a RevokeRequest into the opaque string placed
// in the modal's private metadata.
func EncodeRevokeToken(request RevokeRequest) (string, error) {
	request.SchemaVersion = revokeTokenVersion
	encoded, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("workflow: encode revoke token: %w", err)
	}
	return string(encoded), nil
}

// DecodeRevokeToken parses and validates an opaque correlation token.
// Undecodable payloads, unsupported schema versions, and missing required
// fields all return ErrMalformedToken.
func DecodeRevokeToken(raw string) (RevokeRequest, error) {
	var request RevokeRequest
	if err := json.Unmarshal([]byte(raw), &request); err != nil {
		return RevokeRequest{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if request.SchemaVersion != revokeTokenVersion {
		return RevokeRequest{}, fmt.Errorf("%w: unsupported schema version %d", ErrMalformedToken, request.SchemaVersion)
	}
	if request.EmojiName == "" {
		return RevokeRequest{}, fmt.Errorf("%w: missing emoji name", ErrMalformedToken)
	}
	if request.MessageTS == "" {
		return RevokeRequest{}, fmt.Errorf("%w: missing message timestamp", ErrMalformedToken)
	}
	return request, nil
}
