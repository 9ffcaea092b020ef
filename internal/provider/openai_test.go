// ABOUTME: Tests for the OpenAI-compatible adapter against an httptest server
// ABOUTME: Validates request shaping, auth header placement and failure classification

package provider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	return newOpenAITestServerWith(t, Config{}, handler)
}

func newOpenAITestServerWith(t *testing.T, cfg Config, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.Model = "gpt-test"
	cfg.APIKey = "sk-test"
	cfg.BaseURL = srv.URL + "/v1/"
	cfg.Timeout = 2 * time.Second
	return NewOpenAI(cfg)
}

func TestOpenAI_Submit(t *testing.T) {
	var got chatRequest
	adapter := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  {\"label\":\"happy\"}  "}}]}`))
	})

	text, err := adapter.Submit(t.Context(), Request{System: "be brief", Prompt: "alice: hi", Temperature: 0.3, MaxTokens: 50})
	require.NoError(t, err)
	assert.Equal(t, `{"label":"happy"}`, text)

	assert.Equal(t, "gpt-test", got.Model)
	assert.Equal(t, 50, got.MaxTokens)
	assert.InDelta(t, 0.3, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "alice: hi", got.Messages[1].Content)
}

func TestOpenAI_ConfigOverridesRequest(t *testing.T) {
	var got chatRequest
	adapter := newOpenAITestServerWith(t, Config{Temperature: 0.9, MaxTokens: 120}, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	_, err := adapter.Submit(t.Context(), Request{Prompt: "alice: hi", Temperature: 0.3, MaxTokens: 500})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.Temperature, 1e-9)
	assert.Equal(t, 120, got.MaxTokens)
}

func TestOpenAI_FailureClasses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, true},
		{"server error", http.StatusBadGateway, `upstream down`, true},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"invalid api key"}}`, false},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"unknown model"}}`, false},
		{"empty completion", http.StatusOK, `{"choices":[{"message":{"content":""}}]}`, true},
		{"no choices", http.StatusOK, `{"choices":[]}`, true},
		{"not json", http.StatusOK, `<html>gateway</html>`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := adapter.Submit(t.Context(), Request{Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err), err)
			assert.Equal(t, !tt.transient, IsPermanent(err), err)
		})
	}
}

func TestOpenAI_ErrorMessageExtracted(t *testing.T) {
	adapter := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	})

	_, err := adapter.Submit(t.Context(), Request{Prompt: "x"})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusUnauthorized, perr.Status)
	assert.Equal(t, "invalid api key", perr.Message)
}

func TestOpenAI_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	adapter := NewOpenAI(Config{Model: "gpt-test", BaseURL: url, Timeout: time.Second})
	_, err := adapter.Submit(t.Context(), Request{Prompt: "x"})
	assert.True(t, IsTransient(err), err)
}

func TestNewOpenAI_Defaults(t *testing.T) {
	adapter := NewOpenAI(Config{Model: "gpt-4o-mini"})
	assert.Equal(t, DefaultOpenAIBaseURL, adapter.baseURL)
	assert.Equal(t, 60*time.Second, adapter.httpClient.Timeout)
}
