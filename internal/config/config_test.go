package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	v := NewViper()
	v.Set("slack.mod_channel", "C0MODCHAN")
	v.Set("secrets.bot_token_name", "bot")
	v.Set("secrets.signing_secret_name", "signing")
	v.Set("secrets.user_token_name", "user")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.SecretsProvider != "aws" {
		t.Fatalf("unexpected secrets provider %q", cfg.SecretsProvider)
	}
	if cfg.AWSRegion != "us-west-1" {
		t.Fatalf("unexpected aws region %q", cfg.AWSRegion)
	}
	if cfg.AuditLookupLimit != 20 {
		t.Fatalf("unexpected lookup limit %d", cfg.AuditLookupLimit)
	}
	if cfg.AuditToleranceSec != 0 {
		t.Fatalf("tolerance should default to exact matching, got %v", cfg.AuditToleranceSec)
	}
	if cfg.DispatchTimeout != 30*time.Second {
		t.Fatalf("unexpected dispatch timeout %v", cfg.DispatchTimeout)
	}
}

func TestLoadRejectsMissingRequiredKeys(t *testing.T) {
	testCases := []struct {
		name  string
		unset string
	}{
		{name: "mod channel", unset: "slack.mod_channel"},
		{name: "bot token name", unset: "secrets.bot_token_name"},
		{name: "signing secret name", unset: "secrets.signing_secret_name"},
		{name: "user token name", unset: "secrets.user_token_name"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewViper()
			v.Set("slack.mod_channel", "C0MODCHAN")
			v.Set("secrets.bot_token_name", "bot")
			v.Set("secrets.signing_secret_name", "signing")
			v.Set("secrets.user_token_name", "user")
			v.Set(tc.unset, "")

			if _, err := Load(v); err == nil {
				t.Fatalf("expected error when %s is missing", tc.name)
			}
		})
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	base := func() map[string]any {
		return map[string]any{
			"slack.mod_channel":           "C0MODCHAN",
			"secrets.bot_token_name":      "bot",
			"secrets.signing_secret_name": "signing",
			"secrets.user_token_name":     "user",
		}
	}

	testCases := []struct {
		name     string
		override map[string]any
		wantPart string
	}{
		{name: "bad provider", override: map[string]any{"secrets.provider": "vault"}, wantPart: "secrets.provider"},
		{name: "zero lookup limit", override: map[string]any{"audit.lookup_limit": 0}, wantPart: "audit.lookup_limit"},
		{name: "negative tolerance", override: map[string]any{"audit.tolerance_seconds": -1.0}, wantPart: "audit.tolerance_seconds"},
		{name: "zero dispatch timeout", override: map[string]any{"dispatch.timeout_seconds": 0}, wantPart: "dispatch.timeout_seconds"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewViper()
			for key, value := range base() {
				v.Set(key, value)
			}
			for key, value := range tc.override {
				v.Set(key, value)
			}

			_, err := Load(v)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantPart) {
				t.Fatalf("error %q should name %q", err.Error(), tc.wantPart)
			}
		})
	}
}
