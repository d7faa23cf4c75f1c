// Package workflow implements the emoji moderation state machine: an upload
// event becomes a moderation-channel notification, a moderator's Remove click
// opens a justification modal, and the submitted modal drives the revocation
// side effects. All correlation state rides in the opaque token; the engine
// keeps nothing between calls.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/emberops/emojiwarden/internal/auditlog"
	"github.com/emberops/emojiwarden/internal/metrics"
	"github.com/emberops/emojiwarden/internal/templates"
)

var (
	errMissingGateway  = errors.New("platform gateway is required")
	errMissingResolver = errors.New("actor resolver is required")
	errMissingChannel  = errors.New("moderation channel is required")

	// mentionPattern recovers the uploader id from the notification's own
	// rendered text, avoiding a server-side lookup table.
	mentionPattern = regexp.MustCompile(`<@([^>]+)>`)
)

// EngineError carries an operation code alongside the underlying cause.
type EngineError struct {
	code string
	err  error
}

func (e *EngineError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *EngineError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable operation code.
func (e *EngineError) Code() string {
	return e.code
}

const (
	opEngineNew        = "workflow.engine.new"
	opEmojiAdded       = "workflow.emoji_added"
	opRemoveClick      = "workflow.remove_click"
	opRevokeCompletion = "workflow.revoke_completion"
)

func newEngineError(operation, reason string, cause error) error {
	return &EngineError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Gateway is the outbound surface the engine drives. Implemented by
// platform.Gateway.
type Gateway interface {
	PostMessage(ctx context.Context, channel, fallbackText string, blocks []slack.Block) (string, error)
	UpdateMessage(ctx context.Context, channel, messageTS, newText string) error
	OpenModal(ctx context.Context, triggerID string, view slack.ModalViewRequest) error
	RemoveEmoji(ctx context.Context, name string) error
}

// ActorResolver correlates an event timestamp with the acting user.
// Implemented by auditlog.Client.
type ActorResolver interface {
	ResolveActor(ctx context.Context, eventTimestamp string) (string, error)
}

// UploadEvent is an inbound emoji-added event.
type UploadEvent struct {
	EmojiName      string
	EventTimestamp string
}

// RemoveClick is a moderator's click on the Remove button.
type RemoveClick struct {
	TriggerID   string
	EmojiName   string
	MessageTS   string
	MessageText string
}

// RevokeDecision is the terminal outcome of the modal round trip.
type RevokeDecision struct {
	Justification string
	DecidedBy     string
	DecidedAt     time.Time
}

// EngineConfig describes the engine's collaborators.
type EngineConfig struct {
	Gateway           Gateway
	Resolver          ActorResolver
	ModerationChannel string
	Clock             func() time.Time
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
}

// Engine is the moderation workflow state machine.
type Engine struct {
	gateway  Gateway
	resolver ActorResolver
	channel  string
	clock    func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewEngine validates the configuration and constructs the engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Gateway == nil {
		return nil, newEngineError(opEngineNew, "missing_gateway", errMissingGateway)
	}
	if cfg.Resolver == nil {
		return nil, newEngineError(opEngineNew, "missing_resolver", errMissingResolver)
	}
	if cfg.ModerationChannel == "" {
		return nil, newEngineError(opEngineNew, "missing_channel", errMissingChannel)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		gateway:  cfg.Gateway,
		resolver: cfg.Resolver,
		channel:  cfg.ModerationChannel,
		clock:    clock,
		logger:   logger,
		metrics:  cfg.Metrics,
	}, nil
}

// HandleEmojiAdded resolves the uploader, renders the notification, and posts
// it to the moderation channel. A resolution miss degrades to an unknown
// uploader; a post failure drops the event after logging.
func (e *Engine) HandleEmojiAdded(ctx context.Context, event UploadEvent) error {
	uploaderID, err := e.resolver.ResolveActor(ctx, event.EventTimestamp)
	if err != nil {
		if errors.Is(err, auditlog.ErrActorNotFound) {
			e.logger.Info("uploader not found in audit log",
				zap.String("emoji", event.EmojiName),
				zap.String("event_ts", event.EventTimestamp))
		} else {
			e.logger.Warn("uploader resolution failed",
				zap.String("emoji", event.EmojiName),
				zap.Error(err))
		}
		uploaderID = ""
	}

	fallbackText, blocks, err := templates.UploadNotification(event.EmojiName, uploaderID, event.EventTimestamp)
	if err != nil {
		e.logger.Error("notification render failed", zap.String("emoji", event.EmojiName), zap.Error(err))
		return newEngineError(opEmojiAdded, "render", err)
	}

	messageTS, err := e.gateway.PostMessage(ctx, e.channel, fallbackText, blocks)
	if err != nil {
		e.countFailure("post_message")
		e.logger.Error("notification post failed, dropping event",
			zap.String("emoji", event.EmojiName),
			zap.Error(err))
		return newEngineError(opEmojiAdded, "post", err)
	}

	e.logger.Info("upload notification posted",
		zap.String("emoji", event.EmojiName),
		zap.String("uploader", uploaderID),
		zap.String("message_ts", messageTS))
	return nil
}

// HandleRemoveClick builds the correlation token from the clicked message and
// opens the justification modal. On failure nothing is persisted; the
// notification stays as it was.
func (e *Engine) HandleRemoveClick(ctx context.Context, click RemoveClick) error {
	uploaderID := ""
	if match := mentionPattern.FindStringSubmatch(click.MessageText); match != nil {
		uploaderID = match[1]
	}

	token, err := EncodeRevokeToken(RevokeRequest{
		EmojiName:   click.EmojiName,
		UploaderID:  uploaderID,
		MessageTS:   click.MessageTS,
		MessageText: click.MessageText,
	})
	if err != nil {
		return newEngineError(opRemoveClick, "encode_token", err)
	}

	if err := e.gateway.OpenModal(ctx, click.TriggerID, templates.RevokeModal(token)); err != nil {
		e.countFailure("open_modal")
		e.logger.Error("revoke modal open failed",
			zap.String("emoji", click.EmojiName),
			zap.String("message_ts", click.MessageTS),
			zap.Error(err))
		return newEngineError(opRemoveClick, "open_modal", err)
	}

	e.logger.Info("revoke modal opened",
		zap.String("emoji", click.EmojiName),
		zap.String("uploader", uploaderID),
		zap.String("message_ts", click.MessageTS))
	return nil
}

// CompleteRevocation runs the three side effects of a submitted revocation:
// remove the emoji, overwrite the original notification with the captured
// base text plus the audit line, and notify the uploader. The steps are
// independent and best effort; a failure is logged together with which prior
// steps already succeeded so an operator can reconcile by hand. Emoji removal
// is not reversible, so no rollback is attempted.
func (e *Engine) CompleteRevocation(ctx context.Context, request RevokeRequest, decision RevokeDecision) error {
	decidedAt := decision.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = e.clock()
	}

	var stepErrors []error
	emojiRemoved := false
	messageUpdated := false

	if err := e.gateway.RemoveEmoji(ctx, request.EmojiName); err != nil {
		e.countFailure("remove_emoji")
		e.logger.Error("emoji removal failed",
			zap.String("emoji", request.EmojiName),
			zap.Error(err))
		stepErrors = append(stepErrors, newEngineError(opRevokeCompletion, "remove_emoji", err))
	} else {
		emojiRemoved = true
	}

	auditLine := templates.RevokeAuditLine(decision.DecidedBy, request.EmojiName, decision.Justification, decidedAt)
	if err := e.gateway.UpdateMessage(ctx, e.channel, request.MessageTS, request.MessageText+"\n"+auditLine); err != nil {
		e.countFailure("update_message")
		e.logger.Error("notification update failed",
			zap.String("emoji", request.EmojiName),
			zap.String("message_ts", request.MessageTS),
			zap.Bool("emoji_removed", emojiRemoved),
			zap.Error(err))
		stepErrors = append(stepErrors, newEngineError(opRevokeCompletion, "update_message", err))
	} else {
		messageUpdated = true
	}

	if request.UploaderID == "" {
		e.logger.Warn("uploader unknown, skipping revocation notice",
			zap.String("emoji", request.EmojiName))
	} else {
		notice := templates.UploaderNotice(request.EmojiName, decision.Justification, decidedAt)
		if _, err := e.gateway.PostMessage(ctx, request.UploaderID, notice, nil); err != nil {
			e.countFailure("notify_uploader")
			e.logger.Error("uploader notice failed",
				zap.String("emoji", request.EmojiName),
				zap.String("uploader", request.UploaderID),
				zap.Bool("emoji_removed", emojiRemoved),
				zap.Bool("message_updated", messageUpdated),
				zap.Error(err))
			stepErrors = append(stepErrors, newEngineError(opRevokeCompletion, "notify_uploader", err))
		}
	}

	if len(stepErrors) > 0 {
		return errors.Join(stepErrors...)
	}

	if e.metrics != nil {
		e.metrics.RevocationsTotal.Inc()
	}
	e.logger.Info("emoji revoked",
		zap.String("emoji", request.EmojiName),
		zap.String("moderator", decision.DecidedBy),
		zap.String("uploader", request.UploaderID))
	return nil
}

func (e *Engine) countFailure(operation string) {
	if e.metrics != nil {
		e.metrics.OutboundFailuresTotal.WithLabelValues(operation).Inc()
	}
}
