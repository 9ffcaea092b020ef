// ABOUTME: OpenAI-compatible chat completions adapter over plain HTTP
// ABOUTME: Bearer auth, status-based failure classification, gjson response unwrapping

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultOpenAIBaseURL is used when no base URL is configured.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// maxResponseBytes bounds how much of a reply body is read.
const maxResponseBytes = 4 << 20

// OpenAI talks to any endpoint implementing POST /chat/completions.
type OpenAI struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewOpenAI creates an adapter from cfg.
func NewOpenAI(cfg Config) *OpenAI {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// Submit implements Adapter.
func (o *OpenAI) Submit(ctx context.Context, req Request) (string, error) {
	body := chatRequest{
		Model:       o.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	// Configured values override the per-request defaults.
	if o.temperature > 0 {
		body.Temperature = o.temperature
	}
	if o.maxTokens > 0 {
		body.MaxTokens = o.maxTokens
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	data, err := json.Marshal(body)
	if err != nil {
		return "", o.fail(0, "encoding request", false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", o.fail(0, "creating request", false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		// Cancellation by the caller is not worth retrying.
		transient := !errors.Is(err, context.Canceled)
		return "", o.fail(0, "request failed", transient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", o.fail(resp.StatusCode, "reading response", true, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", o.fail(resp.StatusCode, msg, TransientStatus(resp.StatusCode), nil)
	}

	if !gjson.ValidBytes(raw) {
		return "", o.fail(resp.StatusCode, "response is not JSON", true, nil)
	}

	content := strings.TrimSpace(gjson.GetBytes(raw, "choices.0.message.content").String())
	if content == "" {
		return "", o.fail(resp.StatusCode, "empty completion", true, nil)
	}
	return content, nil
}

func (o *OpenAI) fail(status int, msg string, transient bool, err error) error {
	return &Error{
		Provider:  KindOpenAI,
		Status:    status,
		Message:   msg,
		Transient: transient,
		Err:       err,
	}
}

// String identifies the adapter in logs.
func (o *OpenAI) String() string {
	return fmt.Sprintf("openai(%s @ %s)", o.model, o.baseURL)
}
