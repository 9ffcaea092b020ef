// ABOUTME: Tests for provider selection and failure classification
// ABOUTME: Covers prefix-based selection and the transient/permanent error classes

package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		model string
		want  Kind
	}{
		{"gemini-2.0-flash", KindGemini},
		{"Gemini-1.5-pro", KindGemini},
		{"models/gemini-2.5-flash", KindGemini},
		{"gpt-4o-mini", KindOpenAI},
		{"deepseek-chat", KindOpenAI},
		{"qwen-gemini-clone", KindOpenAI},
		{"", KindOpenAI},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(tt.model))
		})
	}
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	transient := &Error{Provider: KindOpenAI, Transient: true, Err: cause}
	permanent := &Error{Provider: KindOpenAI, Status: http.StatusUnauthorized, Message: "bad key"}

	assert.True(t, IsTransient(transient))
	assert.False(t, IsPermanent(transient))
	assert.ErrorIs(t, transient, cause)

	assert.True(t, IsPermanent(permanent))
	assert.False(t, IsTransient(permanent))
	assert.Contains(t, permanent.Error(), "status 401")
	assert.Contains(t, permanent.Error(), "bad key")
}

func TestTransientStatus(t *testing.T) {
	for _, status := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, TransientStatus(status), status)
	}
	for _, status := range []int{400, 401, 403, 404, 422} {
		assert.False(t, TransientStatus(status), status)
	}
}

func TestClassifyGeminiError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		status    int
	}{
		{"rate limited", genai.APIError{Code: 429, Message: "quota"}, true, 429},
		{"server error", genai.APIError{Code: 503}, true, 503},
		{"bad request", genai.APIError{Code: 400, Message: "invalid model"}, false, 400},
		{"network", errors.New("connection reset"), true, 0},
		{"canceled", context.Canceled, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyGeminiError(tt.err)

			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, KindGemini, perr.Provider)
			assert.Equal(t, tt.status, perr.Status)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, !tt.transient, IsPermanent(err))
		})
	}
}

func TestNew_SelectsOpenAI(t *testing.T) {
	kind, adapter, err := New(t.Context(), Config{Model: "gpt-4o-mini", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, KindOpenAI, kind)
	assert.IsType(t, &OpenAI{}, adapter)
}

func TestNew_SelectsGemini(t *testing.T) {
	kind, adapter, err := New(t.Context(), Config{Model: "gemini-2.0-flash", APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, KindGemini, kind)
	assert.IsType(t, &Gemini{}, adapter)
}
