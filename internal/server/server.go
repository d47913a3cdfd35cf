// Package server exposes the websocket endpoint, a small read API and the
// webhook triggers over one chi router.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/agentloom/internal/command"
	"github.com/user/agentloom/internal/dispatch"
	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/readmodel"
	"github.com/user/agentloom/internal/relay"
	"github.com/user/agentloom/internal/state"
	"github.com/user/agentloom/internal/types"
)

// Dispatcher is the command side the handlers drive.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID types.SessionID, cmd command.Command) error
	CreateSession(ctx context.Context) (types.SessionID, error)
	Submit(ctx context.Context, id types.SessionID, text string, skipEvent bool) error
	Epoch() types.Epoch
}

// Registry is the read side the handlers query.
type Registry interface {
	Session(id types.SessionID) (readmodel.SessionMeta, bool)
	SessionList() readmodel.SessionList
	LatestSession() types.SessionID
}

// Config wires a Server. Tasks may be nil, in which case named webhooks
// answer 404.
type Config struct {
	Log        *state.EventLog
	Registry   Registry
	Dispatcher Dispatcher
	Relay      *relay.Relay
	Tasks      *state.TaskStore

	// WebhookRateLimit is requests per minute per client IP. Zero disables
	// the limit.
	WebhookRateLimit int

	Outbox    int
	HighWater int
	LowWater  int

	Logger *slog.Logger
}

// Server is an http.Handler.
type Server struct {
	cfg    Config
	router *chi.Mux
	logger *slog.Logger
}

// New builds the router.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Outbox <= 0 {
		cfg.Outbox = 256
	}
	if cfg.HighWater <= 0 || cfg.HighWater > cfg.Outbox {
		cfg.HighWater = cfg.Outbox * 3 / 4
	}
	if cfg.LowWater < 0 || cfg.LowWater >= cfg.HighWater {
		cfg.LowWater = cfg.HighWater / 3
	}
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: cfg.Logger.With("component", "server"),
	}

	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.handleSessions)
		r.Get("/sessions/{id}/events", s.handleSessionEvents)
		r.Post("/next-block", s.handleNextBlock)
	})

	r.Group(func(r chi.Router) {
		if cfg.WebhookRateLimit > 0 {
			r.Use(rateLimit(cfg.WebhookRateLimit, time.Minute))
		}
		r.Post("/webhook", s.handleAdHoc)
		r.Post("/webhook/{name}", s.handleNamedTask)
	})
	return s
}

// ServeHTTP delegates to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"epoch":  string(s.cfg.Dispatcher.Epoch()),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Registry.SessionList())
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(chi.URLParam(r, "id"))
	if _, ok := s.cfg.Registry.Session(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var after int64
	if q := r.URL.Query().Get("after"); q != "" {
		n, err := strconv.ParseInt(q, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = n
	}

	events := []event.Event{}
	for _, ev := range s.cfg.Log.BySession(id) {
		if ev.Seq > after {
			events = append(events, ev)
		}
	}
	writeJSON(w, http.StatusOK, events)
}

type nextBlockRequest struct {
	SessionID   types.SessionID `json:"sessionId"`
	Label       string          `json:"label"`
	CommandText string          `json:"commandText"`
	MetaContext string          `json:"metaContext"`
}

func (s *Server) handleNextBlock(w http.ResponseWriter, r *http.Request) {
	var req nextBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.CommandText == "" {
		writeError(w, http.StatusBadRequest, "commandText is required")
		return
	}
	if _, ok := s.cfg.Registry.Session(req.SessionID); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	cmd := command.NextBlockClick{Label: req.Label, CommandText: req.CommandText, MetaContext: req.MetaContext}
	if err := s.cfg.Dispatcher.Dispatch(r.Context(), req.SessionID, cmd); err != nil {
		s.logger.Error("next block failed", "session", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// adHocRequest is the JSON body for POST /webhook. An empty session id
// targets the most recently created session.
type adHocRequest struct {
	Prompt    string          `json:"prompt"`
	SessionID types.SessionID `json:"session_id"`
	Silent    bool            `json:"silent"`
}

func (s *Server) handleAdHoc(w http.ResponseWriter, r *http.Request) {
	var req adHocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	s.submit(w, r, req.SessionID, req.Prompt, req.Silent)
}

// namedTaskRequest is the optional JSON body for POST /webhook/{name}.
type namedTaskRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleNamedTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.cfg.Tasks == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	task, err := s.cfg.Tasks.Get(name)
	if errors.Is(err, state.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("load task", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load task")
		return
	}
	if !task.Enabled {
		writeError(w, http.StatusForbidden, "task is disabled")
		return
	}

	prompt := task.Prompt
	var body namedTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Prompt != "" {
		prompt = body.Prompt
	}
	s.submit(w, r, task.SessionID, prompt, false)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, id types.SessionID, prompt string, silent bool) {
	if id == "" {
		id = s.cfg.Registry.LatestSession()
	}
	if id == "" {
		writeError(w, http.StatusNotFound, "no session")
		return
	}

	err := s.cfg.Dispatcher.Submit(r.Context(), id, prompt, silent)
	switch {
	case errors.Is(err, dispatch.ErrUnknownSession):
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
	case err != nil:
		s.logger.Error("webhook submit failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "session_id": string(id)})
	}
}
