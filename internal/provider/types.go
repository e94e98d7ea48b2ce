package provider

import (
	"context"
	"time"
)

// Config carries per-call overrides for a provider. Values set here take
// precedence over the values a provider was constructed with.
type Config struct {
	APIKey  string        `mapstructure:"api_key" json:"api_key"`
	Model   string        `mapstructure:"model" json:"model"`
	BaseURL string        `mapstructure:"base_url" json:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// GenerateRequest is one prompt submitted to a text-generation service.
type GenerateRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// GenerateResult is the outcome of a single generate call. When the call
// fails, Error holds a human-readable description and the returned error
// carries the machine-readable kind.
type GenerateResult struct {
	ProviderName string            `json:"provider_name"`
	Text         string            `json:"text"`
	Metadata     map[string]string `json:"metadata"`
	Latency      time.Duration     `json:"latency"`
	Error        string            `json:"error,omitempty"`
}

// Provider is the uniform contract over heterogeneous text-generation
// services: one prompt in, one text out. Implementations own their
// authentication and transport.
type Provider interface {
	Name() string
	Generate(ctx context.Context, cfg Config, req GenerateRequest) (*GenerateResult, error)
	IsAvailable(ctx context.Context) error
}

// Default sampling parameters, matching the production configuration.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
	DefaultTimeout     = 30 * time.Second
)
