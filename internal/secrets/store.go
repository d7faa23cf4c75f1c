package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrSecretNotFound indicates the named secret does not exist in the store.
	ErrSecretNotFound = errors.New("secrets: secret not found")
	// ErrEmptySecretName indicates a lookup was attempted with a blank name.
	ErrEmptySecretName = errors.New("secrets: empty secret name")
)

// Store retrieves named secrets from a backing secret manager.
type Store interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// Credentials holds the three platform credentials loaded at startup.
type Credentials struct {
	BotToken      string
	SigningSecret string
	UserToken     string
}

// CredentialNames identifies the secrets to fetch from the store.
type CredentialNames struct {
	BotToken      string
	SigningSecret string
	UserToken     string
}

// LoadCredentials fetches the bot token, signing secret, and elevated user
// token. Any missing or unreachable secret is a configuration error and the
// caller is expected to abort startup.
func LoadCredentials(ctx context.Context, store Store, names CredentialNames) (Credentials, error) {
	botToken, err := store.GetSecret(ctx, names.BotToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("bot token %q: %w", names.BotToken, err)
	}
	signingSecret, err := store.GetSecret(ctx, names.SigningSecret)
	if err != nil {
		return Credentials{}, fmt.Errorf("signing secret %q: %w", names.SigningSecret, err)
	}
	userToken, err := store.GetSecret(ctx, names.UserToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("user token %q: %w", names.UserToken, err)
	}
	return Credentials{
		BotToken:      botToken,
		SigningSecret: signingSecret,
		UserToken:     userToken,
	}, nil
}

// EnvStore resolves secrets from process environment variables, for local
// development and tests.
type EnvStore struct{}

// NewEnvStore constructs an environment-backed store.
func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

// GetSecret returns the value of the environment variable named by the secret.
func (s *EnvStore) GetSecret(_ context.Context, name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrEmptySecretName
	}
	value, ok := os.LookupEnv(trimmed)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, trimmed)
	}
	return value, nil
}
