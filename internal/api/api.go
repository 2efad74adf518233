// Package api serves the turn engine over HTTP.
//
// Routes:
//
//	POST /play                     run one turn, reply with the narration
//	GET  /play/stream              websocket: one play request, streamed reply
//	GET  /memory/search?q=         scored memory matches
//	GET  /memory/retrieve?q=       the formatted fact block for q
//	POST /memory/facts             promote a fact into memory
//	POST /memory/docs/{id}/stale   retire a memory document
//	GET  /turns/latest             most recent transcript event
//	GET  /turns/{player_id}        a player's transcript, newest first
//	GET  /healthz, /readyz         probes
//	GET  /metrics                  Prometheus exposition
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/foglamp/internal/app"
	"github.com/MrWong99/foglamp/internal/health"
	"github.com/MrWong99/foglamp/internal/observe"
	"github.com/MrWong99/foglamp/internal/turn"
	"github.com/MrWong99/foglamp/pkg/memory"
)

// DefaultPlayerID is used when a play request names no player.
const DefaultPlayerID = "demo"

// Server exposes an [app.App] over HTTP.
type Server struct {
	app     *app.App
	metrics *observe.Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics overrides observe.DefaultMetrics() for the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New returns a Server for a.
func New(a *app.App, opts ...Option) *Server {
	s := &Server{app: a}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the complete route table wrapped in the observe middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /play", s.handlePlay)
	mux.HandleFunc("GET /play/stream", s.handlePlayStream)
	mux.HandleFunc("GET /memory/search", s.handleMemorySearch)
	mux.HandleFunc("GET /memory/retrieve", s.handleMemoryRetrieve)
	mux.HandleFunc("POST /memory/facts", s.handlePromoteFact)
	mux.HandleFunc("POST /memory/docs/{id}/stale", s.handleMarkStale)
	mux.HandleFunc("GET /turns/latest", s.handleLatestTurn)
	mux.HandleFunc("GET /turns/{player_id}", s.handlePlayerTurns)
	health.New(s.app.HealthCheckers()...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	return observe.Middleware(s.metrics)(mux)
}

type errorBody struct {
	Error      string   `json:"error"`
	Kind       string   `json:"kind,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

// StatusFor maps an error from the turn engine to an HTTP status code.
func StatusFor(err error) int {
	if errors.Is(err, memory.ErrNotFound) {
		return http.StatusNotFound
	}
	switch turn.KindOf(err) {
	case turn.KindPlanInvalid, turn.KindNarrativeFormat, turn.KindRedLine:
		return http.StatusUnprocessableEntity
	case turn.KindUpstream:
		return http.StatusBadGateway
	case turn.KindTimeout:
		return http.StatusGatewayTimeout
	case turn.KindCanceled:
		// nginx's "client closed request".
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	body := errorBody{Error: err.Error()}
	var te *turn.Error
	if errors.As(err, &te) {
		body.Kind = string(te.Kind)
		body.Violations = te.Violations
	}
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}
