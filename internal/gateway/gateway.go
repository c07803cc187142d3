// Package gateway exposes the hook endpoint, the live event stream and a
// small observation API over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/KafClaw/hivemind/internal/broadcast"
	"github.com/KafClaw/hivemind/internal/hooks"
	"github.com/KafClaw/hivemind/internal/memory"
	"github.com/KafClaw/hivemind/internal/store"
)

// Options tunes the gateway.
type Options struct {
	Version      string
	SSEBuffer    int
	MaxBodyBytes int64
}

// Server routes HTTP requests to the ingestor, hub and memory service.
type Server struct {
	ingestor *hooks.Ingestor
	hub      *broadcast.Hub
	memory   *memory.Service
	store    *store.Store
	opts     Options
	started  time.Time
}

func New(in *hooks.Ingestor, hub *broadcast.Hub, mem *memory.Service, st *store.Store, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 4 << 20
	}
	if opts.SSEBuffer <= 0 {
		opts.SSEBuffer = 64
	}
	return &Server{
		ingestor: in,
		hub:      hub,
		memory:   mem,
		store:    st,
		opts:     opts,
		started:  time.Now(),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/hooks", s.handleHook)
	mux.HandleFunc("GET /api/v1/events", broadcast.ServeSSE(s.hub, s.opts.SSEBuffer))
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("POST /api/v1/observations", s.handleSaveObservation)
	mux.HandleFunc("GET /api/v1/observations/search", s.handleSearchObservations)
	mux.HandleFunc("GET /api/v1/observations/{id}", s.handleGetObservation)
	mux.HandleFunc("GET /api/v1/observations/{id}/timeline", s.handleTimeline)
	return withCORS(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// SSE handlers only return once their listener is closed.
	s.hub.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleHook always answers 200 with a JSON body so the agent runtime
// never blocks on hivemind failures.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		slog.Warn("Hook body read failed", "error", err, "bytes", len(body))
		writeJSON(w, http.StatusOK, hooks.FallbackResponse(body))
		return
	}
	ev, err := hooks.ParseEvent(body)
	if err != nil {
		slog.Debug("Hook payload is not valid JSON", "error", err, "bytes", len(body))
	}
	// Processing continues even if the caller hangs up.
	resp := s.ingestor.Handle(context.WithoutCancel(r.Context()), ev)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"version":        s.opts.Version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"listeners":      s.hub.Count(),
	}
	if s.memory != nil {
		status["embedding_enabled"] = s.memory.EmbeddingEnabled()
		status["embeddings_in_flight"] = s.memory.InFlight()
	}
	writeJSON(w, http.StatusOK, status)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
