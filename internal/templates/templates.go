// Package templates builds the Slack surfaces the moderation workflow emits:
// the upload notification, the revoke modal, and the revoke audit line.
// Every function constructs a fresh value per call.
package templates

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

const (
	// RemoveActionID is the action identifier carried by the Remove button.
	RemoveActionID = "remove_emoji"
	// RevokeCallbackID is the fixed callback identifier of the revoke modal.
	RevokeCallbackID = "revoke_emoji_modal"
	// JustificationBlockID is the block identifier of the justification input.
	JustificationBlockID = "justification_block"
	// JustificationActionID is the action identifier of the justification input.
	JustificationActionID = "justification"

	unknownUploader = "an unknown user"
)

// Mention formats a Slack user mention.
func Mention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}

// UploadNotification renders the moderation-channel message for a newly
// uploaded emoji: fallback text plus a section and a danger "Remove" button
// whose value is the emoji name. An empty uploaderID renders as unknown.
func UploadNotification(emojiName, uploaderID, eventTimestamp string) (string, []slack.Block, error) {
	occurredAt, err := ParseTimestamp(eventTimestamp)
	if err != nil {
		return "", nil, err
	}

	uploader := unknownUploader
	if uploaderID != "" {
		uploader = Mention(uploaderID)
	}
	text := fmt.Sprintf(":%s: was uploaded by %s on %s", emojiName, uploader, FormatPacific(occurredAt))

	section := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, text, false, false),
		nil, nil,
	)
	removeButton := slack.NewButtonBlockElement(
		RemoveActionID,
		emojiName,
		slack.NewTextBlockObject(slack.PlainTextType, "Remove", true, false),
	)
	removeButton.Style = slack.StyleDanger
	actions := slack.NewActionBlock("", removeButton)

	return text, []slack.Block{section, actions}, nil
}

// RevokeModal renders the justification modal. The correlation token rides in
// private_metadata and is never displayed.
func RevokeModal(privateMetadata string) slack.ModalViewRequest {
	justificationInput := slack.NewPlainTextInputBlockElement(nil, JustificationActionID)
	justificationInput.Multiline = true

	inputBlock := slack.NewInputBlock(
		JustificationBlockID,
		slack.NewTextBlockObject(slack.PlainTextType, "Anything else you want to tell the user?", true, false),
		nil,
		justificationInput,
	)
	inputBlock.Optional = true

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		Title:           slack.NewTextBlockObject(slack.PlainTextType, "Remove Emoji", true, false),
		Submit:          slack.NewTextBlockObject(slack.PlainTextType, "Submit", true, false),
		Close:           slack.NewTextBlockObject(slack.PlainTextType, "Cancel", true, false),
		CallbackID:      RevokeCallbackID,
		PrivateMetadata: privateMetadata,
		Blocks:          slack.Blocks{BlockSet: []slack.Block{inputBlock}},
	}
}

// RevokeAuditLine renders the line appended to the original notification when
// an emoji is revoked. The Justification label is always present; its value
// may be empty.
func RevokeAuditLine(decidedBy, emojiName, justification string, decidedAt time.Time) string {
	return fmt.Sprintf(":x: `:%s:` was removed by %s on %s\nJustification: %s",
		emojiName, Mention(decidedBy), FormatPacific(decidedAt), justification)
}

// UploaderNotice renders the direct message sent to the uploader. The
// justification line is omitted entirely when the justification is empty.
func UploaderNotice(emojiName, justification string, decidedAt time.Time) string {
	notice := fmt.Sprintf("Your emoji, :%s:, was removed on %s", emojiName, FormatPacific(decidedAt))
	if strings.TrimSpace(justification) != "" {
		notice += "\nJustification: " + justification
	}
	return notice
}
