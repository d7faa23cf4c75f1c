// Package platform wraps the outbound Slack operations the workflow emits:
// message post, message update, modal open, and emoji removal. It holds no
// workflow state.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

const defaultAPIBaseURL = "https://slack.com/api/"

var (
	errMissingBotToken  = errors.New("platform: bot token is required")
	errMissingUserToken = errors.New("platform: user token is required")
)

// GatewayConfig describes the credentials and transport of the gateway.
type GatewayConfig struct {
	BotToken string
	// UserToken is the elevated credential required by admin.emoji.remove.
	UserToken  string
	APIBaseURL string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Gateway performs outbound calls against the Slack Web API.
type Gateway struct {
	api        *slack.Client
	userToken  string
	apiBaseURL string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGateway validates credentials and constructs the gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errMissingBotToken
	}
	if strings.TrimSpace(cfg.UserToken) == "" {
		return nil, errMissingUserToken
	}

	apiBaseURL := cfg.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}
	if !strings.HasSuffix(apiBaseURL, "/") {
		apiBaseURL += "/"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	api := slack.New(cfg.BotToken,
		slack.OptionAPIURL(apiBaseURL),
		slack.OptionHTTPClient(httpClient),
	)

	return &Gateway{
		api:        api,
		userToken:  cfg.UserToken,
		apiBaseURL: apiBaseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// PostMessage posts a message to the given channel and returns the message
// timestamp handle used for later in-place updates.
func (g *Gateway) PostMessage(ctx context.Context, channel, fallbackText string, blocks []slack.Block) (string, error) {
	options := []slack.MsgOption{slack.MsgOptionText(fallbackText, false)}
	if len(blocks) > 0 {
		options = append(options, slack.MsgOptionBlocks(blocks...))
	}
	_, messageTS, err := g.api.PostMessageContext(ctx, channel, options...)
	if err != nil {
		return "", fmt.Errorf("platform: post message: %w", err)
	}
	return messageTS, nil
}

// UpdateMessage replaces the text of an existing message in place.
func (g *Gateway) UpdateMessage(ctx context.Context, channel, messageTS, newText string) error {
	_, _, _, err := g.api.UpdateMessageContext(ctx, channel, messageTS, slack.MsgOptionText(newText, false))
	if err != nil {
		return fmt.Errorf("platform: update message: %w", err)
	}
	return nil
}

// OpenModal opens a modal view against the given interaction trigger.
func (g *Gateway) OpenModal(ctx context.Context, triggerID string, view slack.ModalViewRequest) error {
	if _, err := g.api.OpenViewContext(ctx, triggerID, view); err != nil {
		return fmt.Errorf("platform: open modal: %w", err)
	}
	return nil
}

type apiResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// RemoveEmoji deletes a custom emoji from the workspace. The endpoint is not
// covered by the SDK client and requires the elevated user token.
func (g *Gateway) RemoveEmoji(ctx context.Context, name string) error {
	form := url.Values{}
	form.Set("name", name)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.apiBaseURL+"admin.emoji.remove", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("platform: build emoji removal request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Authorization", "Bearer "+g.userToken)

	response, err := g.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("platform: remove emoji: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("platform: remove emoji: unexpected status %d", response.StatusCode)
	}
	var result apiResult
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return fmt.Errorf("platform: remove emoji: decode response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("platform: remove emoji: api error %q", result.Error)
	}
	g.logger.Info("custom emoji removed", zap.String("name", name))
	return nil
}
