package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "EMOJIWARDEN"
	defaultHTTPAddress       = "0.0.0.0:3000"
	defaultLogLevel          = "info"
	defaultSecretsProvider   = "aws"
	defaultAWSRegion         = "us-west-1"
	defaultAuditLookupLimit  = 20
	defaultDispatchTimeout   = 30
	defaultAuditToleranceSec = 0.0
)

// AppConfig captures runtime configuration for the moderation service.
type AppConfig struct {
	HTTPAddress         string
	LogLevel            string
	ModerationChannel   string
	SecretsProvider     string
	BotTokenSecretName  string
	SigningSecretName   string
	UserTokenSecretName string
	AWSRegion           string
	AuditLookupLimit    int
	AuditToleranceSec   float64
	DispatchTimeout     time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("secrets.provider", defaultSecretsProvider)
	configViper.SetDefault("secrets.bot_token_name", "")
	configViper.SetDefault("secrets.signing_secret_name", "")
	configViper.SetDefault("secrets.user_token_name", "")
	configViper.SetDefault("aws.region", defaultAWSRegion)
	configViper.SetDefault("slack.mod_channel", "")
	configViper.SetDefault("audit.lookup_limit", defaultAuditLookupLimit)
	configViper.SetDefault("audit.tolerance_seconds", defaultAuditToleranceSec)
	configViper.SetDefault("dispatch.timeout_seconds", defaultDispatchTimeout)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		LogLevel:            configViper.GetString("log.level"),
		ModerationChannel:   configViper.GetString("slack.mod_channel"),
		SecretsProvider:     configViper.GetString("secrets.provider"),
		BotTokenSecretName:  configViper.GetString("secrets.bot_token_name"),
		SigningSecretName:   configViper.GetString("secrets.signing_secret_name"),
		UserTokenSecretName: configViper.GetString("secrets.user_token_name"),
		AWSRegion:           configViper.GetString("aws.region"),
		AuditLookupLimit:    configViper.GetInt("audit.lookup_limit"),
		AuditToleranceSec:   configViper.GetFloat64("audit.tolerance_seconds"),
		DispatchTimeout:     time.Duration(configViper.GetInt("dispatch.timeout_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.ModerationChannel) == "" {
		return fmt.Errorf("slack.mod_channel is required")
	}
	switch c.SecretsProvider {
	case "aws", "env":
	default:
		return fmt.Errorf("secrets.provider must be aws or env, got %q", c.SecretsProvider)
	}
	if strings.TrimSpace(c.BotTokenSecretName) == "" {
		return fmt.Errorf("secrets.bot_token_name is required")
	}
	if strings.TrimSpace(c.SigningSecretName) == "" {
		return fmt.Errorf("secrets.signing_secret_name is required")
	}
	if strings.TrimSpace(c.UserTokenSecretName) == "" {
		return fmt.Errorf("secrets.user_token_name is required")
	}
	if c.AuditLookupLimit <= 0 {
		return fmt.Errorf("audit.lookup_limit must be positive, got %d", c.AuditLookupLimit)
	}
	if c.AuditToleranceSec < 0 {
		return fmt.Errorf("audit.tolerance_seconds must not be negative")
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch.timeout_seconds must be positive")
	}
	return nil
}
