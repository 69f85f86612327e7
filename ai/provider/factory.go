// Package provider selects and configures the judge endpoint.
package provider

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pact/ai/chat"
	"github.com/teranos/pact/am"
	"github.com/teranos/pact/errors"
)

// Provider represents an LLM provider type
type Provider string

const (
	// ProviderOpenAI uses the OpenAI API
	ProviderOpenAI Provider = "openai"
	// ProviderOpenRouter uses OpenRouter.ai
	ProviderOpenRouter Provider = "openrouter"
	// ProviderLocal uses an OpenAI-compatible local server (Ollama, LocalAI)
	ProviderLocal Provider = "local"
)

// Default endpoints, all OpenAI-compatible.
const (
	OpenAIBaseURL     = "https://api.openai.com/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	LocalBaseURL      = "http://localhost:11434/v1"
)

// ParseProvider converts a string to a Provider type
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai", "":
		return ProviderOpenAI, nil
	case "openrouter", "or":
		return ProviderOpenRouter, nil
	case "local", "ollama", "localai":
		return ProviderLocal, nil
	}
	return "", errors.NewConfigurationError("unknown provider: %s (valid: openai, openrouter, local)", s)
}

// BaseURL returns the provider's default endpoint.
func (p Provider) BaseURL() string {
	switch p {
	case ProviderOpenRouter:
		return OpenRouterBaseURL
	case ProviderLocal:
		return LocalBaseURL
	}
	return OpenAIBaseURL
}

// apiKey resolves the key: configuration first, then the provider's
// conventional environment variable.
func (p Provider) apiKey(configured string) string {
	if configured != "" {
		return configured
	}
	switch p {
	case ProviderOpenRouter:
		return os.Getenv("OPENROUTER_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// NewJudgeClient builds the chat client for cfg. Cloud providers need an
// API key; local servers do not.
func NewJudgeClient(cfg am.JudgeConfig, logger *zap.SugaredLogger) (*chat.Client, error) {
	p, err := ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	key := p.apiKey(cfg.APIKey)
	if key == "" && p != ProviderLocal {
		return nil, errors.WithHintf(
			errors.NewConfigurationError("%s API key not configured", p),
			"set judge.api_key in am.toml or PACT_JUDGE_API_KEY")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = p.BaseURL()
	}

	return chat.NewClient(chat.Config{
		BaseURL:           baseURL,
		APIKey:            key,
		Model:             cfg.Model,
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		Timeout:           time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxAttempts:       cfg.MaxAttempts,
		MinBackoff:        seconds(cfg.MinBackoffSeconds),
		MaxBackoff:        seconds(cfg.MaxBackoffSeconds),
		RequestsPerSecond: cfg.RequestsPerSecond,
		BlockPrivateIP:    cfg.BlockPrivateIP && p != ProviderLocal,
		Logger:            logger,
	}), nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
