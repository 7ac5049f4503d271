package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAIBackend calls an OpenAI-compatible chat-completions endpoint.
type OpenAIBackend struct {
	BaseURL string
	APIKey  string
	ModelID string
	HTTP    *http.Client
}

// NewOpenAIBackend returns a backend for the given model. baseURL should
// include the /v1 prefix (e.g. https://api.openai.com/v1).
func NewOpenAIBackend(baseURL, apiKey, model string) *OpenAIBackend {
	return &OpenAIBackend{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		ModelID: model,
		HTTP:    &http.Client{Timeout: 20 * time.Second},
	}
}

func (b *OpenAIBackend) Model() string { return b.ModelID }

func (b *OpenAIBackend) Summarize(ctx context.Context, system, transcriptText string) (string, error) {
	payload := map[string]interface{}{
		"model": b.ModelID,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": transcriptText},
		},
		"max_tokens":  200,
		"temperature": 0.4,
	}
	body, _ := json.Marshal(payload)

	url := fmt.Sprintf("%s/chat/completions", b.BaseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.APIKey)
	}

	resp, err := b.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == 429 {
		return "", fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode error: %v", ErrTransient, err)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
