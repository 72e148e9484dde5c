// Package web serves registration run status over HTTP and streams live
// progress over a websocket.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"astroreg/internal/pipeline"
	"astroreg/internal/storage"
)

// Server exposes run history and live pipeline results.
type Server struct {
	port     int
	log      *slog.Logger
	store    *storage.Store
	pipe     *pipeline.Pipeline
	upgrader websocket.Upgrader
}

// NewServer builds a status server over the given store and pipeline.
func NewServer(port int, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		port:  port,
		log:   log,
		store: store,
		pipe:  pipe,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/runs", s.handleRuns).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}/shifts", s.handleRunShifts).Methods(http.MethodGet)
	r.HandleFunc("/api/register", s.handleSubmitRegister).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWebSocket)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections stay open
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("status server listening", "port", s.port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.RecentRuns(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunShifts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	shifts, err := s.store.RunShifts(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, shifts)
}

type registerRequest struct {
	SequenceDir string         `json:"sequence_dir"`
	Options     map[string]any `json:"options"`
}

func (s *Server) handleSubmitRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.SequenceDir == "" {
		http.Error(w, "sequence_dir is required", http.StatusBadRequest)
		return
	}

	job := pipeline.Job{
		ID:          uuid.NewString(),
		Type:        pipeline.JobRegister,
		SequenceDir: req.SequenceDir,
		Options:     req.Options,
	}
	if err := s.pipe.Submit(job); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": job.ID})
}

type resultPayload struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Error string         `json:"error,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	results, unsub := s.pipe.Subscribe()
	defer unsub()

	// drain the read side so pings and close frames are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				unsub()
				return
			}
		}
	}()

	for res := range results {
		payload := resultPayload{
			ID:   res.Job.ID,
			Type: string(res.Job.Type),
			Meta: res.Meta,
		}
		if res.Error != nil {
			payload.Error = res.Error.Error()
		}
		if err := conn.WriteJSON(payload); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
