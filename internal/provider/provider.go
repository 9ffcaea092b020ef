// ABOUTME: Language-model provider capability and selection by model-name prefix
// ABOUTME: Classifies failures as transient (retry) or permanent (drop the task)

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the closed set of supported provider families.
type Kind string

const (
	KindOpenAI Kind = "openai"
	KindGemini Kind = "gemini"
)

// Select picks the provider family from the model identifier alone.
// Gemini models are recognized by name; everything else is treated as an
// OpenAI-compatible chat completions endpoint.
func Select(model string) Kind {
	m := strings.ToLower(strings.TrimSpace(model))
	if strings.HasPrefix(m, "gemini-") || strings.HasPrefix(m, "models/gemini") {
		return KindGemini
	}
	return KindOpenAI
}

// Request is one completion request.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Adapter submits a prompt to a vendor and returns the raw text reply.
// Errors wrap ErrTransient or ErrPermanent.
type Adapter interface {
	Submit(ctx context.Context, req Request) (string, error)
}

var (
	// ErrTransient marks failures worth retrying: network errors, rate
	// limits, server errors and empty replies.
	ErrTransient = errors.New("transient provider failure")

	// ErrPermanent marks failures that will not improve on retry.
	ErrPermanent = errors.New("permanent provider failure")
)

// Error is a classified provider failure.
type Error struct {
	Provider  Kind
	Status    int
	Message   string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}
	msg := fmt.Sprintf("%s %s failure", e.Provider, class)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	class := ErrPermanent
	if e.Transient {
		class = ErrTransient
	}
	if e.Err != nil {
		return []error{class, e.Err}
	}
	return []error{class}
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsPermanent reports whether err is a non-retryable provider failure.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// TransientStatus reports whether an HTTP status code should be retried.
func TransientStatus(status int) bool {
	return status == 408 || status == 429 || status >= 500
}

// Config holds adapter-local settings. Timeout and credentials never leave
// the adapter. A positive Temperature or MaxTokens replaces the value carried
// by every Request; zero keeps the per-request value.
type Config struct {
	Model       string
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// New builds the adapter for the configured model.
func New(ctx context.Context, cfg Config) (Kind, Adapter, error) {
	kind := Select(cfg.Model)
	switch kind {
	case KindGemini:
		a, err := NewGemini(ctx, cfg)
		if err != nil {
			return kind, nil, err
		}
		return kind, a, nil
	default:
		return kind, NewOpenAI(cfg), nil
	}
}
