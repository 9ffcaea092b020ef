// ABOUTME: HTTP admin API for health checks, live sessions, stats and stored history
// ABOUTME: Read-mostly JSON endpoints over the registry, router/orchestrator counters and the store

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/petchat-gateway/internal/ai"
	"github.com/2389/petchat-gateway/internal/router"
	"github.com/2389/petchat-gateway/internal/session"
	"github.com/2389/petchat-gateway/internal/store"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// StatsResponse is the JSON response for GET /api/stats.
type StatsResponse struct {
	Provider      string       `json:"provider"`
	Model         string       `json:"model"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Router        router.Stats `json:"router"`
	AI            ai.Stats     `json:"ai"`
}

// MessageResponse is one entry of GET /api/messages.
type MessageResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient,omitempty"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// MemoryResponse is one entry of GET /api/memories.
type MemoryResponse struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Category  string `json:"category"`
	Session   string `json:"session,omitempty"`
	CreatedAt string `json:"created_at"`
}

// EmotionResponse is one entry of GET /api/emotions.
type EmotionResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Session    string  `json:"session,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// routes builds the admin mux.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	mux.HandleFunc("/api/sessions", g.handleSessions)
	mux.HandleFunc("/api/stats", g.handleStats)
	mux.HandleFunc("/api/messages", g.handleMessages)
	mux.HandleFunc("/api/memories", g.handleMemories)
	mux.HandleFunc("/api/emotions", g.handleEmotions)
	return mux
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the chat listener accepts connections.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	select {
	case <-g.ready:
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("chat listener not started"))
		return
	}

	g.connMu.Lock()
	closing := g.closing
	g.connMu.Unlock()
	if closing {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", g.registry.Len())
}

// handleSessions handles GET /api/sessions.
func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sessions := g.registry.List()
	if sessions == nil {
		sessions = []session.Info{}
	}
	g.writeJSON(w, http.StatusOK, sessions)
}

// handleStats handles GET /api/stats.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.writeJSON(w, http.StatusOK, StatsResponse{
		Provider:      string(g.orchestrator.Provider()),
		Model:         g.config.Provider.Model,
		UptimeSeconds: int64(time.Since(g.started).Seconds()),
		Router:        g.router.Stats(),
		AI:            g.orchestrator.Stats(),
	})
}

// handleMessages handles GET /api/messages?session=&since=&limit=.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	since, err := parseSince(q.Get("since"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := g.store.QueryMessages(r.Context(), q.Get("session"), since, limit)
	if err != nil {
		g.logger.Error("failed to query messages", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]MessageResponse, len(messages))
	for i, m := range messages {
		response[i] = MessageResponse{
			ID:        m.ID,
			Kind:      m.Kind,
			Sender:    m.Sender,
			Recipient: m.Recipient,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
		}
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleMemories handles GET and DELETE /api/memories?category=.
func (g *Gateway) handleMemories(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")

	switch r.Method {
	case http.MethodGet:
		memories, err := g.store.QueryMemories(r.Context(), category)
		if err != nil {
			g.logger.Error("failed to query memories", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		g.writeJSON(w, http.StatusOK, memoryResponses(memories))

	case http.MethodDelete:
		n, err := g.store.ClearMemories(r.Context(), category)
		if err != nil {
			g.logger.Error("failed to clear memories", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		g.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func memoryResponses(memories []*store.Memory) []MemoryResponse {
	out := make([]MemoryResponse, len(memories))
	for i, m := range memories {
		out[i] = MemoryResponse{
			ID:        m.ID,
			Text:      m.Text,
			Category:  m.Category,
			Session:   m.Session,
			CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
		}
	}
	return out
}

// handleEmotions handles GET /api/emotions?since=&limit=.
func (g *Gateway) handleEmotions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	since, err := parseSince(q.Get("since"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	emotions, err := g.store.QueryEmotions(r.Context(), since, limit)
	if err != nil {
		g.logger.Error("failed to query emotions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]EmotionResponse, len(emotions))
	for i, e := range emotions {
		response[i] = EmotionResponse{
			Label:      e.Label,
			Confidence: e.Confidence,
			Session:    e.Session,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339Nano),
		}
	}
	g.writeJSON(w, http.StatusOK, response)
}

// parseSince accepts an RFC 3339 timestamp or a Go duration meaning "that
// long ago". Empty means the beginning of time.
func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return time.Now().Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("since must be an RFC 3339 time or a duration, got %q", s)
}

// parseLimit parses ?limit= (default 100, max 1000).
func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultQueryLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(n, maxQueryLimit), nil
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
