package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(testContext *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("load failed: %v", err)
	}
	if cfg.Profile != defaultProfile || cfg.DatabasePath != defaultDatabasePath {
		testContext.Fatalf("unexpected storage defaults %+v", cfg)
	}
	if cfg.AutosaveDelay != time.Second || cfg.WriteAttempts != defaultWriteAttempts {
		testContext.Fatalf("unexpected timing defaults %+v", cfg)
	}
	if cfg.AIModel != "gpt-4o" || cfg.SettingsCacheTTL != defaultSettingsCacheTTL {
		testContext.Fatalf("unexpected ai defaults %+v", cfg)
	}
}

func TestLoadReadsEnvironment(testContext *testing.T) {
	testContext.Setenv("NOTEPRO_PROFILE", "alice")
	testContext.Setenv("NOTEPRO_AUTOSAVE_DELAY", "250ms")
	testContext.Setenv("NOTEPRO_AI_BUILTIN_API_KEY", "sk-env")

	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("load failed: %v", err)
	}
	if cfg.Profile != "alice" || cfg.AutosaveDelay != 250*time.Millisecond || cfg.AIBuiltinAPIKey != "sk-env" {
		testContext.Fatalf("environment not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(testContext *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{name: "blank-database", key: "database.path", value: "  "},
		{name: "zero-attempts", key: "durable.write_attempts", value: 0},
		{name: "unknown-level", key: "log.level", value: "verbose"},
		{name: "slow-autosave", key: "autosave.delay", value: 2 * time.Minute},
		{name: "tiny-ttl", key: "settings.cache_ttl", value: time.Millisecond},
	}
	for _, tt := range tests {
		testContext.Run(tt.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(tt.key, tt.value)
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Fatalf("expected error naming %s, got %v", tt.key, err)
			}
		})
	}
}
