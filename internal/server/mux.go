// Package server provides HTTP server construction for ambient-dash.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/ambient-dash/internal/dashboard"
	apperrors "github.com/alexjbarnes/ambient-dash/internal/errors"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Dashboard *dashboard.Dashboard
	// Stream serves the websocket snapshot stream on /ws.
	Stream http.Handler
	// MCPHandler is mounted on /mcp when set.
	MCPHandler http.Handler
	Logger     *slog.Logger
	// AuthLimit bounds requests to /auth/ per client IP. The zero value
	// uses DefaultAuthLimit.
	AuthLimit RateLimit
}

// NewMux builds the HTTP mux with the widget API, the websocket stream,
// the provider login endpoints and, when configured, the MCP endpoint.
func NewMux(cfg MuxConfig) *http.ServeMux {
	h := &handlers{dash: cfg.Dashboard, logger: cfg.Logger}

	authMux := http.NewServeMux()
	authMux.HandleFunc("GET /auth/{provider}/login", h.login)
	authMux.HandleFunc("GET /auth/{provider}/callback", h.callback)
	authMux.HandleFunc("POST /auth/{provider}/logout", h.logout)

	limit := cfg.AuthLimit
	if limit.Burst == 0 {
		limit = DefaultAuthLimit
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /api/widgets", h.widgets)
	mux.HandleFunc("GET /api/widgets/{name}", h.widget)
	mux.Handle("/auth/", RateLimitByIP(limit, cfg.Logger)(authMux))

	if cfg.Stream != nil {
		mux.Handle("GET /ws", cfg.Stream)
	}

	if cfg.MCPHandler != nil {
		mux.Handle("/mcp", cfg.MCPHandler)
	}

	return mux
}

type handlers struct {
	dash   *dashboard.Dashboard
	logger *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

func (h *handlers) widgets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.dash.Snapshots())
}

func (h *handlers) widget(w http.ResponseWriter, r *http.Request) {
	snap, err := h.dash.Snapshot(r.PathValue("name"))
	if errors.Is(err, apperrors.ErrUnknownWidget) {
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	if err != nil {
		h.logger.Error("reading widget", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, description string) {
	writeJSON(w, status, map[string]string{
		"error":             errCode,
		"error_description": description,
	})
}
