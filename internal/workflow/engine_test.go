package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/emberops/emojiwarden/internal/auditlog"
	"github.com/emberops/emojiwarden/internal/templates"
)

const testChannel = "C0MODCHAN"

type postCall struct {
	channel string
	text    string
	blocks  []slack.Block
}

type updateCall struct {
	channel   string
	messageTS string
	newText   string
}

type openCall struct {
	triggerID string
	view      slack.ModalViewRequest
}

type fakeGateway struct {
	postCalls   []postCall
	updateCalls []updateCall
	openCalls   []openCall
	removeCalls []string

	postErr   error
	updateErr error
	openErr   error
	removeErr error
}

func (g *fakeGateway) PostMessage(_ context.Context, channel, fallbackText string, blocks []slack.Block) (string, error) {
	g.postCalls = append(g.postCalls, postCall{channel: channel, text: fallbackText, blocks: blocks})
	if g.postErr != nil {
		return "", g.postErr
	}
	return "1700000100.000200", nil
}

func (g *fakeGateway) UpdateMessage(_ context.Context, channel, messageTS, newText string) error {
	g.updateCalls = append(g.updateCalls, updateCall{channel: channel, messageTS: messageTS, newText: newText})
	return g.updateErr
}

func (g *fakeGateway) OpenModal(_ context.Context, triggerID string, view slack.ModalViewRequest) error {
	g.openCalls = append(g.openCalls, openCall{triggerID: triggerID, view: view})
	return g.openErr
}

func (g *fakeGateway) RemoveEmoji(_ context.Context, name string) error {
	g.removeCalls = append(g.removeCalls, name)
	return g.removeErr
}

type fakeResolver struct {
	userID string
	err    error
}

func (r *fakeResolver) ResolveActor(_ context.Context, _ string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.userID, nil
}

func newTestEngine(t *testing.T, gateway *fakeGateway, resolver *fakeResolver) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{
		Gateway:           gateway,
		Resolver:          resolver,
		ModerationChannel: testChannel,
		Clock:             func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return engine
}

func TestNewEngineValidatesDependencies(t *testing.T) {
	if _, err := NewEngine(EngineConfig{Resolver: &fakeResolver{}, ModerationChannel: testChannel}); err == nil {
		t.Fatalf("expected error for missing gateway")
	}
	if _, err := NewEngine(EngineConfig{Gateway: &fakeGateway{}, ModerationChannel: testChannel}); err == nil {
		t.Fatalf("expected error for missing resolver")
	}
	if _, err := NewEngine(EngineConfig{Gateway: &fakeGateway{}, Resolver: &fakeResolver{}}); err == nil {
		t.Fatalf("expected error for missing channel")
	}
}

func TestHandleEmojiAddedPostsNotification(t *testing.T) {
	gateway := &fakeGateway{}
	engine := newTestEngine(t, gateway, &fakeResolver{userID: "U123"})

	err := engine.HandleEmojiAdded(context.Background(), UploadEvent{
		EmojiName:      "partyparrot",
		EventTimestamp: "1700000000.000100",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gateway.postCalls) != 1 {
		t.Fatalf("expected one post call, got %d", len(gateway.postCalls))
	}
	posted := gateway.postCalls[0]
	if posted.channel != testChannel {
		t.Fatalf("posted to %q, want moderation channel", posted.channel)
	}
	if !strings.Contains(posted.text, ":partyparrot:") || !strings.Contains(posted.text, "<@U123>") {
		t.Fatalf("unexpected notification text %q", posted.text)
	}
	if len(posted.blocks) != 2 {
		t.Fatalf("expected section and actions blocks, got %d", len(posted.blocks))
	}
}

func TestHandleEmojiAddedToleratesResolutionMiss(t *testing.T) {
	gateway := &fakeGateway{}
	engine := newTestEngine(t, gateway, &fakeResolver{err: auditlog.ErrActorNotFound})

	err := engine.HandleEmojiAdded(context.Background(), UploadEvent{
		EmojiName:      "partyparrot",
		EventTimestamp: "1700000000",
	})
	if err != nil {
		t.Fatalf("resolution miss must not fail the workflow: %v", err)
	}

	if len(gateway.postCalls) != 1 {
		t.Fatalf("expected notification despite unresolved uploader, got %d posts", len(gateway.postCalls))
	}
	if !strings.Contains(gateway.postCalls[0].text, "an unknown user") {
		t.Fatalf("expected unknown-uploader text, got %q", gateway.postCalls[0].text)
	}
}

func TestHandleEmojiAddedToleratesResolverTransportError(t *testing.T) {
	gateway := &fakeGateway{}
	engine := newTestEngine(t, gateway, &fakeResolver{err: errors.New("audit log unreachable")})

	err := engine.HandleEmojiAdded(context.Background(), UploadEvent{
		EmojiName:      "partyparrot",
		EventTimestamp: "1700000000",
	})
	if err != nil {
		t.Fatalf("resolver failure must degrade, not fail: %v", err)
	}
	if len(gateway.postCalls) != 1 {
		t.Fatalf("expected notification, got %d posts", len(gateway.postCalls))
	}
}

func TestHandleEmojiAddedDropsEventWhenPostFails(t *testing.T) {
	gateway := &fakeGateway{postErr: errors.New("channel_not_found")}
	engine := newTestEngine(t, gateway, &fakeResolver{userID: "U123"})

	err := engine.HandleEmojiAdded(context.Background(), UploadEvent{
		EmojiName:      "partyparrot",
		EventTimestamp: "1700000000",
	})
	if err == nil {
		t.Fatalf("expected error when the notification post fails")
	}
}

func TestHandleRemoveClickOpensModalWithDecodableToken(t *testing.T) {
	gateway := &fakeGateway{}
	engine := newTestEngine(t, gateway, &fakeResolver{})

	messageText := ":partyparrot: was uploaded by <@U123> on 2023-11-14 02:13:20 PM PST"
	err := engine.HandleRemoveClick(context.Background(), RemoveClick{
		TriggerID:   "trigger-1",
		EmojiName:   "partyparrot",
		MessageTS:   "1700000100.000200",
		MessageText: messageText,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gateway.openCalls) != 1 {
		t.Fatalf("expected one modal open, got %d", len(gateway.openCalls))
	}
	opened := gateway.openCalls[0]
	if opened.triggerID != "trigger-1" {
		t.Fatalf("unexpected trigger id %q", opened.triggerID)
	}
	if opened.view.CallbackID != templates.RevokeCallbackID {
		t.Fatalf("unexpected callback id %q", opened.view.CallbackID)
	}

	decoded, err := DecodeRevokeToken(opened.view.PrivateMetadata)
	if err != nil {
		t.Fatalf("modal metadata must decode: %v", err)
	}
	if decoded.EmojiName != "partyparrot" {
		t.Fatalf("unexpected emoji %q", decoded.EmojiName)
	}
	if decoded.UploaderID != "U123" {
		t.Fatalf("uploader should be recovered from the mention, got %q", decoded.UploaderID)
	}
	if decoded.MessageTS != "1700000100.000200" {
		t.Fatalf("unexpected message ts %q", decoded.MessageTS)
	}
	if decoded.MessageText != messageText {
		t.Fatalf("token should capture the original text, got %q", decoded.MessageText)
	}
}

func TestHandleRemoveClickReportsModalFailure(t *testing.T) {
	gateway := &fakeGateway{openErr: errors.New("expired_trigger_id")}
	engine := newTestEngine(t, gateway, &fakeResolver{})

	err := engine.HandleRemoveClick(context.Background(), RemoveClick{
		TriggerID:   "trigger-1",
		EmojiName:   "partyparrot",
		MessageTS:   "1700000100.000200",
		MessageText: "<@U123>",
	})
	if err == nil {
		t.Fatalf("expected error when modal open fails")
	}
}

func TestCompleteRevocationRunsAllSteps(t *testing.T) {
	gateway := &fakeGateway{}
	engine := newTestEngine(t, gateway, &fakeResolver{})

	decidedAt := time.Unix(1700000000, 0)
	request := RevokeRequest{
		EmojiName:   "partyparrot",
		UploaderID:  "U123",
		MessageTS:   "1700000100.000200",
		MessageText: ":partyparrot: was uploaded by <@U123> on 2023-11-14 02:13:20 PM PST",
	}
	err := engine.CompleteRevocation(context.Background(), request, RevokeDecision{
		Justification: "duplicate",
		DecidedBy:     "UMOD",
		DecidedAt:     decidedAt,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gateway.removeCalls) != 1 || gateway.removeCalls[0] != "partyparrot" {
		t.Fatalf("unexpected emoji removals %v", gateway.removeCalls)
	}

	if len(gateway.updateCalls) != 1 {
		t.Fatalf("expected one message update, got %d", len(gateway.updateCalls))
	}
	updated := gateway.updateCalls[0]
	if updated.channel != testChannel || updated.messageTS != request.MessageTS {
		t.Fatalf("update targeted %q/%q", updated.channel, updated.messageTS)
	}
	wantText := request.MessageText + "\n" + templates.RevokeAuditLine("UMOD", "partyparrot", "duplicate", decidedAt)
	if updated.newText != wantText {
		t.Fatalf("updated text mismatch:\n got %q\nwant %q", updated.newText, wantText)
	}

	if len(gateway.postCalls) != 1 {
		t.Fatalf("expected one uploader notice, got %d posts", len(gateway.postCalls))
	}
	notice := gateway.postCalls[0]
	if notice.channel != "U123" {
		t.Fatalf("notice sent to %q, want uploader", notice.channel)
	}
	if !strings.Contains(notice.text, "Justification: duplicate") {
		t.Fatalf("notice should carry the justification, got %q", notice.text)
	}
}

func TestCompleteRevocationContinuesPastStepFailures(t *testing.T) {
	gateway := &fakeGateway{removeErr: errors.New("emoji_not_found")}
	engine := newTestEngine(t, gateway, &fakeResolver{})

	request := RevokeRequest{
		EmojiName:   "partyparrot",
		UploaderID:  "U123",
		MessageTS:   "1700000100.000200",
		MessageText: "<@U123>",
	}
	err := engine.CompleteRevocation(context.Background(), request, RevokeDecision{DecidedBy: "UMOD"})
	if err == nil {
		t.Fatalf("expected error to surface the failed step")
	}

	if len(gateway.updateCalls) != 1 {
		t.Fatalf("message update should still run after removal failure, got %d", len(gateway.updateCalls))
	}
	if len(gateway.postCalls) != 1 {
		t.Fatalf("uploader notice should still run after removal failure, got %d", len(gateway.postCalls))
	}
}

func TestCompleteRevocationSkipsNoticeForUnknownUploader(t *testing.T) {
	gateway := &fakeGateway{}
	engine := newTestEngine(t, gateway, &fakeResolver{})

	request := RevokeRequest{
		EmojiName:   "partyparrot",
		MessageTS:   "1700000100.000200",
		MessageText: ":partyparrot: was uploaded by an unknown user on 2023-11-14 02:13:20 PM PST",
	}
	err := engine.CompleteRevocation(context.Background(), request, RevokeDecision{DecidedBy: "UMOD"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gateway.postCalls) != 0 {
		t.Fatalf("no notice should be sent without an uploader, got %d posts", len(gateway.postCalls))
	}
	if len(gateway.removeCalls) != 1 || len(gateway.updateCalls) != 1 {
		t.Fatalf("removal and update should still run")
	}
}

func TestCompleteRevocationEmptyJustificationPolicy(t *testing.T) {
	gateway := &fakeGateway{}
	engine := newTestEngine(t, gateway, &fakeResolver{})

	request := RevokeRequest{
		EmojiName:   "partyparrot",
		UploaderID:  "U123",
		MessageTS:   "1700000100.000200",
		MessageText: "<@U123>",
	}
	err := engine.CompleteRevocation(context.Background(), request, RevokeDecision{DecidedBy: "UMOD"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(gateway.updateCalls[0].newText, "Justification: ") {
		t.Fatalf("audit line should keep the empty justification label, got %q", gateway.updateCalls[0].newText)
	}
	if strings.Contains(gateway.postCalls[0].text, "Justification") {
		t.Fatalf("uploader notice should omit an empty justification, got %q", gateway.postCalls[0].text)
	}
}

// Documents the unguarded double-revoke behavior: two submissions carrying the
// same captured base text both succeed, and each update overwrites the message
// from that same base. This is a known risk, not an endorsed outcome.
func TestCompleteRevocationIsUnguardedAgainstDoubleSubmit(t *testing.T) {
	gateway := &fakeGateway{}
	engine := newTestEngine(t, gateway, &fakeResolver{})

	request := RevokeRequest{
		EmojiName:   "partyparrot",
		UploaderID:  "U123",
		MessageTS:   "1700000100.000200",
		MessageText: "<@U123> base text",
	}

	for i := 0; i < 2; i++ {
		if err := engine.CompleteRevocation(context.Background(), request, RevokeDecision{DecidedBy: "UMOD"}); err != nil {
			t.Fatalf("submission %d failed: %v", i+1, err)
		}
	}

	if len(gateway.updateCalls) != 2 {
		t.Fatalf("expected two independent update calls, got %d", len(gateway.updateCalls))
	}
	if gateway.updateCalls[0].newText != gateway.updateCalls[1].newText {
		t.Fatalf("both updates should overwrite from the same captured base text")
	}
	if len(gateway.removeCalls) != 2 {
		t.Fatalf("expected two removal attempts, got %d", len(gateway.removeCalls))
	}
}
