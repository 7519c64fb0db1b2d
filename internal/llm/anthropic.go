package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Anthropic API constants.
const (
	anthropicBaseURL    = "https://api.anthropic.com/v1"
	anthropicModel      = "claude-3-5-sonnet-20241022"
	anthropicMaxTokens  = 2048
	anthropicAPIVersion = "2023-06-01"
)

// Anthropic streams completions from the Anthropic messages API.
type Anthropic struct {
	apiKey    string
	model     string
	maxTokens int
	baseURL   string
	// No transport timeout: streams are long lived, the caller's
	// context bounds the call.
	httpClient *http.Client
}

type anthMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []anthMessage `json:"messages"`
	System    string        `json:"system,omitempty"`
	Stream    bool          `json:"stream"`
}

// sseEvent mirrors the streaming message events.
type sseEvent struct {
	Type  string    `json:"type"`
	Delta *sseDelta `json:"delta,omitempty"`
	Error *sseError `json:"error,omitempty"`
}

type sseDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type sseError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewAnthropic builds the client from the anthropic section of the
// configuration. The api key falls back to ANTHROPIC_API_KEY.
func NewAnthropic(cfg map[string]interface{}) (*Anthropic, error) {
	apiKey := stringOpt(cfg, "api_key", os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}

	return &Anthropic{
		apiKey:     apiKey,
		model:      stringOpt(cfg, "model", anthropicModel),
		maxTokens:  intOpt(cfg, "max_tokens", anthropicMaxTokens),
		baseURL:    stringOpt(cfg, "base_url", anthropicBaseURL),
		httpClient: &http.Client{},
	}, nil
}

// Model returns the configured model id.
func (c *Anthropic) Model() string { return c.model }

// Provider returns "anthropic".
func (c *Anthropic) Provider() string { return ProviderAnthropic }

// SetBaseURL overrides the Anthropic API base URL. Used in tests.
func (c *Anthropic) SetBaseURL(url string) { c.baseURL = strings.TrimRight(url, "/") }

// ChatStream sends the conversation with stream=true and assembles the
// reply from text deltas. The system prompt travels as the top-level
// system field, as the messages API requires.
func (c *Anthropic) ChatStream(ctx context.Context, messages []Message, systemPrompt string, onChunk func(string)) (string, error) {
	req := anthRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  make([]anthMessage, 0, len(messages)),
		System:    systemPrompt,
		Stream:    true,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, anthMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("streaming request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("anthropic API error %d: %s", resp.StatusCode, string(b))
	}

	var final strings.Builder
	var eventType string

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event sseEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}

		switch eventType {
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				final.WriteString(event.Delta.Text)
				if onChunk != nil {
					onChunk(event.Delta.Text)
				}
			}
		case "error":
			if event.Error != nil {
				return "", fmt.Errorf("anthropic stream error: %s", event.Error.Message)
			}
		case "message_stop":
			return final.String(), nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("read stream: %w", err)
	}
	return final.String(), nil
}
