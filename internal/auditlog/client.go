// Package auditlog resolves the uploader of a custom emoji by correlating an
// event timestamp against the workspace audit log. The lookup requires an
// elevated user credential with audit-log scope, distinct from the bot token.
package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL     = "https://api.slack.com/audit/v1/logs"
	emojiAddedAction   = "emoji_added"
	defaultLookupLimit = 20
)

var (
	// ErrActorNotFound indicates no audit entry matched the event timestamp
	// within the fetched window. Callers degrade to an unknown uploader.
	ErrActorNotFound = errors.New("auditlog: no matching audit entry")
	// ErrUnauthorized indicates the elevated credential was rejected. This is
	// a configuration error and should abort startup, not a per-event failure.
	ErrUnauthorized = errors.New("auditlog: credential rejected")

	errMissingUserToken = errors.New("auditlog: user token is required")
)

// ClientConfig describes the dependencies of the audit-log client.
type ClientConfig struct {
	UserToken string
	// LookupLimit bounds how many recent emoji_added entries are scanned.
	// It must be tuned against audit-log ingestion lag.
	LookupLimit int
	// ToleranceSeconds widens timestamp matching; zero means exact.
	ToleranceSeconds float64
	BaseURL          string
	HTTPClient       *http.Client
	Logger           *zap.Logger
}

// Client queries the workspace audit log for emoji_added entries.
type Client struct {
	userToken   string
	lookupLimit int
	tolerance   float64
	baseURL     string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient validates the configuration and constructs an audit-log client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.UserToken) == "" {
		return nil, errMissingUserToken
	}
	lookupLimit := cfg.LookupLimit
	if lookupLimit <= 0 {
		lookupLimit = defaultLookupLimit
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		userToken:   cfg.UserToken,
		lookupLimit: lookupLimit,
		tolerance:   cfg.ToleranceSeconds,
		baseURL:     baseURL,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

type auditEntry struct {
	DateCreate json.Number `json:"date_create"`
	Actor      struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	} `json:"actor"`
}

type auditLogResponse struct {
	Entries []auditEntry `json:"entries"`
}

// ResolveActor returns the user id that added an emoji at the given event
// timestamp, scanning the most recent emoji_added entries. Returns
// ErrActorNotFound when nothing in the window matches.
func (c *Client) ResolveActor(ctx context.Context, eventTimestamp string) (string, error) {
	eventSeconds, err := strconv.ParseFloat(strings.TrimSpace(eventTimestamp), 64)
	if err != nil {
		return "", fmt.Errorf("auditlog: invalid event timestamp %q: %w", eventTimestamp, err)
	}

	entries, err := c.fetchEntries(ctx, c.lookupLimit)
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		entrySeconds, err := entry.DateCreate.Float64()
		if err != nil {
			continue
		}
		if c.matches(eventSeconds, entrySeconds) {
			if entry.Actor.User.ID == "" {
				continue
			}
			return entry.Actor.User.ID, nil
		}
	}
	return "", ErrActorNotFound
}

// Verify probes the audit-log endpoint with a minimal query so credential
// problems surface at startup rather than on the first event.
func (c *Client) Verify(ctx context.Context) error {
	_, err := c.fetchEntries(ctx, 1)
	return err
}

func (c *Client) matches(eventSeconds, entrySeconds float64) bool {
	if c.tolerance <= 0 {
		return eventSeconds == entrySeconds
	}
	return math.Abs(eventSeconds-entrySeconds) <= c.tolerance
}

func (c *Client) fetchEntries(ctx context.Context, limit int) ([]auditEntry, error) {
	query := url.Values{}
	query.Set("action", emojiAddedAction)
	query.Set("limit", strconv.Itoa(limit))

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("auditlog: build request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.userToken)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("auditlog: fetch entries: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, response.StatusCode)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auditlog: unexpected status %d", response.StatusCode)
	}

	var decoded auditLogResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("auditlog: decode response: %w", err)
	}
	return decoded.Entries, nil
}
