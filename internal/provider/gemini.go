// ABOUTME: Gemini adapter built on the google.golang.org/genai SDK
// ABOUTME: Maps SDK API errors onto the transient and permanent failure classes

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini submits prompts through the Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewGemini creates a Gemini adapter. The API key may also come from the
// GOOGLE_API_KEY or GEMINI_API_KEY environment variables.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		timeout := cfg.Timeout
		cc.HTTPOptions.Timeout = &timeout
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Gemini{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Submit implements Adapter.
func (g *Gemini) Submit(ctx context.Context, req Request) (string, error) {
	temperature, maxTokens := req.Temperature, req.MaxTokens
	if g.temperature > 0 {
		temperature = g.temperature
	}
	if g.maxTokens > 0 {
		maxTokens = g.maxTokens
	}

	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temperature)),
	}
	if maxTokens > 0 {
		gc.MaxOutputTokens = int32(maxTokens)
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, gc)
	if err != nil {
		return "", classifyGeminiError(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &Error{Provider: KindGemini, Message: "empty completion", Transient: true}
	}
	return text, nil
}

func classifyGeminiError(err error) error {
	status := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Code
	case errors.As(err, &apiErrPtr):
		status = apiErrPtr.Code
	}

	transient := true
	if status != 0 {
		transient = TransientStatus(status)
	} else if errors.Is(err, context.Canceled) {
		transient = false
	}

	return &Error{
		Provider:  KindGemini,
		Status:    status,
		Transient: transient,
		Err:       err,
	}
}
