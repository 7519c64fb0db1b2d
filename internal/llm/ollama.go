package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Ollama defaults.
const (
	ollamaBaseURL = "http://localhost:11434"
	ollamaModel   = "llama3"
)

// Ollama streams completions from a local Ollama instance through the
// /api/chat endpoint. Runs entirely on the user's machine; no API key.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// ollamaChatChunk is one NDJSON line of the streaming response.
type ollamaChatChunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// NewOllama builds the client from the ollama section of the
// configuration.
func NewOllama(cfg map[string]interface{}) (*Ollama, error) {
	return &Ollama{
		baseURL:    strings.TrimRight(stringOpt(cfg, "base_url", ollamaBaseURL), "/"),
		model:      stringOpt(cfg, "model", ollamaModel),
		httpClient: &http.Client{},
	}, nil
}

// Model returns the configured model name.
func (c *Ollama) Model() string { return c.model }

// Provider returns "ollama".
func (c *Ollama) Provider() string { return ProviderOllama }

// SetBaseURL overrides the Ollama base URL. Used in tests.
func (c *Ollama) SetBaseURL(url string) { c.baseURL = strings.TrimRight(url, "/") }

// ChatStream sends the conversation and assembles the reply from the
// NDJSON stream. Ollama takes the system prompt as a leading
// system-role message.
func (c *Ollama) ChatStream(ctx context.Context, messages []Message, systemPrompt string, onChunk func(string)) (string, error) {
	msgs := make([]Message, 0, len(messages)+1)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, messages...)

	body, err := json.Marshal(ollamaChatRequest{Model: c.model, Messages: msgs, Stream: true})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("streaming request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error %d: %s", resp.StatusCode, string(b))
	}

	var final strings.Builder
	dec := json.NewDecoder(resp.Body)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		var chunk ollamaChatChunk
		if err := dec.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("decode stream: %w", err)
		}

		if chunk.Error != "" {
			return "", fmt.Errorf("ollama stream error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			final.WriteString(chunk.Message.Content)
			if onChunk != nil {
				onChunk(chunk.Message.Content)
			}
		}
		if chunk.Done {
			break
		}
	}

	return final.String(), nil
}
