// Package llm provides the reasoning client used by investigations.
//
// A Client streams a chat completion from the configured provider and
// returns the final assembled text. Two providers ship with the
// service: Anthropic (SSE streaming) and Ollama (NDJSON streaming, for
// local models). There is no default provider and no bundled API key;
// when credentials are missing the service runs degraded and every
// call returns ErrNotConfigured.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/stackwatch/stackwatch-ai/internal/config"
	"github.com/stackwatch/stackwatch-ai/internal/metrics"
)

// Provider names accepted in configuration.
const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// ErrNotConfigured is returned when no provider credentials are present.
var ErrNotConfigured = errors.New("llm provider not configured")

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

// Client streams chat completions from a provider.
type Client interface {
	// ChatStream sends the conversation and streams the reply. onChunk
	// is invoked for each text fragment as it arrives (nil is allowed);
	// the assembled final text is returned once the stream ends.
	ChatStream(ctx context.Context, messages []Message, systemPrompt string, onChunk func(string)) (string, error)

	// Model returns the model identifier requests are sent to.
	Model() string

	// Provider returns the provider name.
	Provider() string
}

// New builds the provider client selected by cfg, wrapped with rate
// limiting, a per-call timeout, and request metrics. When
// cfg.LLM.Configured is false the returned client fails every call
// with ErrNotConfigured.
func New(cfg *config.Config) (Client, error) {
	if !cfg.LLM.Configured {
		return &unconfigured{}, nil
	}

	var (
		inner Client
		err   error
	)
	switch cfg.LLM.Provider {
	case ProviderAnthropic:
		inner, err = NewAnthropic(cfg.LLM.Anthropic)
	case ProviderOllama:
		inner, err = NewOllama(cfg.LLM.Ollama)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if rpm := cfg.LLM.RequestsPerMinute; rpm > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}

	return &metered{
		inner:   inner,
		limiter: limiter,
		timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	}, nil
}

// metered wraps a provider client with rate limiting, a call timeout,
// and prometheus instrumentation.
type metered struct {
	inner   Client
	limiter *rate.Limiter
	timeout time.Duration
}

func (m *metered) ChatStream(ctx context.Context, messages []Message, systemPrompt string, onChunk func(string)) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := m.inner.ChatStream(ctx, messages, systemPrompt, onChunk)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LLMRequestsTotal.WithLabelValues(m.inner.Provider(), m.inner.Model(), status).Inc()
	metrics.LLMRequestDuration.WithLabelValues(m.inner.Provider(), m.inner.Model()).Observe(time.Since(start).Seconds())

	return text, err
}

func (m *metered) Model() string    { return m.inner.Model() }
func (m *metered) Provider() string { return m.inner.Provider() }

// unconfigured is the degraded-mode client.
type unconfigured struct{}

func (unconfigured) ChatStream(context.Context, []Message, string, func(string)) (string, error) {
	return "", ErrNotConfigured
}

func (unconfigured) Model() string    { return "none" }
func (unconfigured) Provider() string { return "none" }

// stringOpt reads a string key from a provider config map.
func stringOpt(m map[string]interface{}, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// intOpt reads an integer key from a provider config map. Viper hands
// numbers back as int or float64 depending on the source.
func intOpt(m map[string]interface{}, key string, fallback int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}
