// Package config loads process configuration from defaults and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variable names, so
// CODEMATE_STATE_TABLE sets state_table.
const EnvPrefix = "CODEMATE_"

// Supported model providers.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var defaultModels = map[string]string{
	ProviderGemini:    "gemini-2.0-flash",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-sonnet-4-0",
}

// Config is the full runtime configuration.
type Config struct {
	StateTable         string  `koanf:"state_table"`
	ParamPrefix        string  `koanf:"param_prefix"`
	Provider           string  `koanf:"provider"`
	Model              string  `koanf:"model"`
	BaseURL            string  `koanf:"base_url"`
	MaxOutputTokens    int     `koanf:"max_output_tokens"`
	Temperature        float64 `koanf:"temperature"`
	ReasoningMode      bool    `koanf:"reasoning_mode"`
	MaxContextMessages int     `koanf:"max_context_messages"`
	RequestTimeoutSecs int     `koanf:"request_timeout_seconds"`
	HTTPAddr           string  `koanf:"http_addr"`
	AuthIssuer         string  `koanf:"auth_issuer"`
	AuthAudience       string  `koanf:"auth_audience"`
	LogLevel           string  `koanf:"log_level"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"provider":                ProviderGemini,
		"max_output_tokens":       2048,
		"temperature":             0.7,
		"reasoning_mode":          false,
		"max_context_messages":    0,
		"request_timeout_seconds": 60,
		"http_addr":               ":8080",
		"log_level":               "info",
	}
}

// Load reads defaults and then CODEMATE_* environment variables.
func Load() (*Config, error) {
	return load(env.Provider(EnvPrefix, ".", envKey))
}

func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

func load(providers ...koanf.Provider) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}
	for _, p := range providers {
		if err := k.Load(p, nil); err != nil {
			return nil, fmt.Errorf("config: load: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.ParamPrefix = strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/")
	c.StateTable = strings.TrimSpace(c.StateTable)
	if strings.TrimSpace(c.Model) == "" {
		c.Model = defaultModels[c.Provider]
	}
}

// Validate reports the first configuration problem.
func (c *Config) Validate() error {
	if c.StateTable == "" {
		return errors.New("config: state_table is required")
	}
	if c.ParamPrefix == "" {
		return errors.New("config: param_prefix is required")
	}
	if _, ok := defaultModels[c.Provider]; !ok {
		return fmt.Errorf("config: unsupported provider %q", c.Provider)
	}
	if c.MaxOutputTokens <= 0 {
		return errors.New("config: max_output_tokens must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("config: temperature %v out of range [0,2]", c.Temperature)
	}
	if c.MaxContextMessages < 0 {
		return errors.New("config: max_context_messages must not be negative")
	}
	return nil
}

// ProviderTokenParam is the SSM parameter holding the active provider's API token.
func (c *Config) ProviderTokenParam() string {
	return c.ParamPrefix + "/providers/" + c.Provider + "/token"
}

// SigningKeyParam is the SSM parameter holding the bearer token verification key.
func (c *Config) SigningKeyParam() string {
	return c.ParamPrefix + "/auth/signing-key"
}
