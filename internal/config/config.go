package config

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

const (
	envPrefix               = "NOTEPRO"
	defaultProfile          = "default"
	defaultHTTPAddress      = "127.0.0.1:8080"
	defaultDatabasePath     = "notepro.db"
	defaultLogLevel         = "info"
	defaultWriteAttempts    = 3
	defaultMaxValueBytes    = 5 * 1024 * 1024
	defaultAutosaveDelay    = time.Second
	defaultSettingsCacheTTL = 10 * time.Minute
	defaultAIEndpoint       = "https://api.openai.com/v1/chat/completions"
	defaultAIModel          = "gpt-4o"
	maxAutosaveDelay        = time.Minute
	minimumSettingsCacheTTL = time.Second
)

// AppConfig captures runtime configuration for the note core and its local API.
type AppConfig struct {
	Profile          string
	DatabasePath     string
	WriteAttempts    int
	MaxValueBytes    int
	AutosaveDelay    time.Duration
	LogLevel         string
	LogFile          string
	HTTPAddress      string
	AIEndpoint       string
	AIModel          string
	AIBuiltinAPIKey  string
	SettingsCacheTTL time.Duration
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

	configViper.SetDefault("profile", defaultProfile)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("durable.write_attempts", defaultWriteAttempts)
	configViper.SetDefault("cache.max_value_bytes", defaultMaxValueBytes)
	configViper.SetDefault("autosave.delay", defaultAutosaveDelay)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("ai.endpoint", defaultAIEndpoint)
	configViper.SetDefault("ai.model", defaultAIModel)
	configViper.SetDefault("ai.builtin_api_key", "")
	configViper.SetDefault("settings.cache_ttl", defaultSettingsCacheTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		Profile:          strings.TrimSpace(configViper.GetString("profile")),
		DatabasePath:     strings.TrimSpace(configViper.GetString("database.path")),
		WriteAttempts:    configViper.GetInt("durable.write_attempts"),
		MaxValueBytes:    configViper.GetInt("cache.max_value_bytes"),
		AutosaveDelay:    configViper.GetDuration("autosave.delay"),
		LogLevel:         strings.ToLower(strings.TrimSpace(configViper.GetString("log.level"))),
		LogFile:          strings.TrimSpace(configViper.GetString("log.file")),
		HTTPAddress:      strings.TrimSpace(configViper.GetString("http.address")),
		AIEndpoint:       strings.TrimSpace(configViper.GetString("ai.endpoint")),
		AIModel:          strings.TrimSpace(configViper.GetString("ai.model")),
		AIBuiltinAPIKey:  strings.TrimSpace(configViper.GetString("ai.builtin_api_key")),
		SettingsCacheTTL: configViper.GetDuration("settings.cache_ttl"),
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// Validate reports every invalid field at once.
func (c AppConfig) Validate() error {
	return validation.Errors{
		"profile":                validation.Validate(c.Profile, validation.Required),
		"database.path":          validation.Validate(c.DatabasePath, validation.Required),
		"durable.write_attempts": validation.Validate(c.WriteAttempts, validation.Min(1)),
		"cache.max_value_bytes":  validation.Validate(c.MaxValueBytes, validation.Min(0)),
		"autosave.delay":         validation.Validate(c.AutosaveDelay, validation.Min(time.Duration(0)), validation.Max(maxAutosaveDelay)),
		"log.level":              validation.Validate(c.LogLevel, validation.In("debug", "info", "warn", "warning", "error")),
		"http.address":           validation.Validate(c.HTTPAddress, validation.Required),
		"ai.endpoint":            validation.Validate(c.AIEndpoint, validation.Required),
		"ai.model":               validation.Validate(c.AIModel, validation.Required),
		"settings.cache_ttl":     validation.Validate(c.SettingsCacheTTL, validation.Min(minimumSettingsCacheTTL)),
	}.Filter()
}
