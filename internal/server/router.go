// Package server is the ack/dispatch shell: it verifies inbound Slack
// requests, acknowledges them within the platform deadline, and hands the
// work to the workflow engine on a detached goroutine. The acknowledgment
// path never performs network I/O.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"

	"github.com/emberops/emojiwarden/internal/metrics"
	"github.com/emberops/emojiwarden/internal/templates"
	"github.com/emberops/emojiwarden/internal/workflow"
)

const defaultDispatchTimeout = 30 * time.Second

var (
	errMissingEngine        = errors.New("workflow engine dependency required")
	errMissingSigningSecret = errors.New("signing secret required")
)

// WorkflowEngine is the deferred-processing surface of the workflow package.
type WorkflowEngine interface {
	HandleEmojiAdded(ctx context.Context, event workflow.UploadEvent) error
	HandleRemoveClick(ctx context.Context, click workflow.RemoveClick) error
	CompleteRevocation(ctx context.Context, request workflow.RevokeRequest, decision workflow.RevokeDecision) error
}

// Dependencies wires the shell to its collaborators.
type Dependencies struct {
	Engine          WorkflowEngine
	SigningSecret   string
	DispatchTimeout time.Duration
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

// NewHTTPHandler builds the inbound router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.SigningSecret == "" {
		return nil, errMissingSigningSecret
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatchTimeout := deps.DispatchTimeout
	if dispatchTimeout <= 0 {
		dispatchTimeout = defaultDispatchTimeout
	}

	handler := &httpHandler{
		engine:          deps.Engine,
		signingSecret:   deps.SigningSecret,
		dispatchTimeout: dispatchTimeout,
		logger:          logger,
		metrics:         deps.Metrics,
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	router.POST("/slack/events", handler.handleEvents)
	router.POST("/slack/interactions", handler.handleInteractions)

	return router, nil
}

type httpHandler struct {
	engine          WorkflowEngine
	signingSecret   string
	dispatchTimeout time.Duration
	logger          *zap.Logger
	metrics         *metrics.Metrics
}

// verifiedBody reads the raw request body and checks the Slack signature
// against it. A failed check writes the response and returns nil.
func (h *httpHandler) verifiedBody(c *gin.Context) []byte {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_body"})
		return nil
	}

	verifier, err := slack.NewSecretsVerifier(c.Request.Header, h.signingSecret)
	if err != nil {
		h.logger.Warn("signature header missing or invalid", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
		return nil
	}
	if _, err := verifier.Write(body); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification_failed"})
		return nil
	}
	if err := verifier.Ensure(); err != nil {
		h.logger.Warn("signature verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
		return nil
	}
	return body
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	body := h.verifiedBody(c)
	if body == nil {
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unparseable_event"})
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unparseable_challenge"})
			return
		}
		c.String(http.StatusOK, challenge.Challenge)
	case slackevents.CallbackEvent:
		h.handleCallbackEvent(event)
		c.Status(http.StatusOK)
	default:
		c.Status(http.StatusOK)
	}
}

func (h *httpHandler) handleCallbackEvent(event slackevents.EventsAPIEvent) {
	emojiEvent, ok := event.InnerEvent.Data.(*slackevents.EmojiChangedEvent)
	if !ok {
		return
	}

	switch emojiEvent.Subtype {
	case "add":
		h.countEvent("emoji_added")
		eventTimestamp := emojiEvent.EventTimeStamp
		if eventTimestamp == "" {
			if envelope, ok := event.Data.(*slackevents.EventsAPICallbackEvent); ok {
				eventTimestamp = strconv.Itoa(envelope.EventTime)
			}
		}
		uploadEvent := workflow.UploadEvent{
			EmojiName:      emojiEvent.Name,
			EventTimestamp: eventTimestamp,
		}
		h.dispatch("emoji_added", func(ctx context.Context) error {
			return h.engine.HandleEmojiAdded(ctx, uploadEvent)
		})
	case "remove":
		// Acknowledged and discarded.
		h.countEvent("emoji_removed")
	}
}

func (h *httpHandler) handleInteractions(c *gin.Context) {
	body := h.verifiedBody(c)
	if body == nil {
		return
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unparseable_form"})
		return
	}
	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(values.Get("payload")), &callback); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unparseable_payload"})
		return
	}

	switch callback.Type {
	case slack.InteractionTypeBlockActions:
		h.handleBlockActions(c, callback)
	case slack.InteractionTypeViewSubmission:
		h.handleViewSubmission(c, callback)
	default:
		c.Status(http.StatusOK)
	}
}

func (h *httpHandler) handleBlockActions(c *gin.Context, callback slack.InteractionCallback) {
	for _, action := range callback.ActionCallback.BlockActions {
		if action.ActionID != templates.RemoveActionID {
			continue
		}
		h.countEvent("remove_click")
		click := workflow.RemoveClick{
			TriggerID:   callback.TriggerID,
			EmojiName:   action.Value,
			MessageTS:   callback.Message.Timestamp,
			MessageText: callback.Message.Text,
		}
		h.dispatch("remove_click", func(ctx context.Context) error {
			return h.engine.HandleRemoveClick(ctx, click)
		})
		break
	}
	c.Status(http.StatusOK)
}

func (h *httpHandler) handleViewSubmission(c *gin.Context, callback slack.InteractionCallback) {
	if callback.View.CallbackID != templates.RevokeCallbackID {
		c.Status(http.StatusOK)
		return
	}
	h.countEvent("revoke_submission")

	// Decoding is local and fast, so it happens on the ack path: a malformed
	// token must fail closed with a moderator-visible error before any side
	// effect is dispatched.
	request, err := workflow.DecodeRevokeToken(callback.View.PrivateMetadata)
	if err != nil {
		h.logger.Error("revoke submission rejected",
			zap.String("moderator", callback.User.ID),
			zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"response_action": "errors",
			"errors": gin.H{
				templates.JustificationBlockID: "This request could not be processed. Close the dialog and use the Remove button again.",
			},
		})
		return
	}

	justification := ""
	if callback.View.State != nil {
		justification = callback.View.State.Values[templates.JustificationBlockID][templates.JustificationActionID].Value
	}
	decision := workflow.RevokeDecision{
		Justification: justification,
		DecidedBy:     callback.User.ID,
	}
	h.dispatch("revoke_completion", func(ctx context.Context) error {
		return h.engine.CompleteRevocation(ctx, request, decision)
	})
	c.Status(http.StatusOK)
}

// dispatch runs a unit of work detached from the request, bounded by the
// dispatch timeout. Once started it runs to completion or fails on its own;
// there is no cancellation tied to the inbound connection.
func (h *httpHandler) dispatch(kind string, work func(ctx context.Context) error) {
	unitLogger := h.logger.With(
		zap.String("unit_of_work", uuid.NewString()),
		zap.String("kind", kind),
	)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.dispatchTimeout)
		defer cancel()
		if err := work(ctx); err != nil {
			unitLogger.Error("deferred processing failed", zap.Error(err))
			return
		}
		unitLogger.Debug("deferred processing complete")
	}()
}

func (h *httpHandler) countEvent(eventType string) {
	if h.metrics != nil {
		h.metrics.EventsTotal.WithLabelValues(eventType).Inc()
	}
}
