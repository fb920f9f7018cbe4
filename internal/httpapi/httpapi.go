// Package httpapi provides the researcher HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jxucoder/researcher/internal/engine"
	"github.com/jxucoder/researcher/pkg/eventbus"
	"github.com/jxucoder/researcher/pkg/model"
	"github.com/jxucoder/researcher/pkg/store"
)

// Engine is the subset of *engine.Engine the API serves.
type Engine interface {
	StartRun(topic string, depth model.Depth) (*model.Run, error)
	GetRun(id string) (*model.Run, error)
	ListRuns() []*model.Run
	Events(runID string, afterID int64) ([]*model.Event, error)
	Store() store.ReportStore
	Bus() eventbus.Bus
}

var _ Engine = (*engine.Engine)(nil)

// Server is the researcher HTTP API server.
type Server struct {
	engine Engine
	router chi.Router
	logger *log.Logger
}

// New creates a Server backed by eng.
func New(eng Engine, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{engine: eng, logger: logger.WithPrefix("http")}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves the API on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		// The event stream outlives any request timeout.
		r.Get("/runs/{id}/events", s.handleRunEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/runs", s.handleCreateRun)
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{id}", s.handleGetRun)
			r.Get("/reports", s.handleListReports)
			r.Get("/reports/{id}", s.handleGetReport)
			r.Get("/reports/{id}/markdown", s.handleGetReportMarkdown)
		})
	})

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type createRunRequest struct {
	Topic string `json:"topic"`
	Depth string `json:"depth,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var depth model.Depth
	if req.Depth != "" {
		depth = model.Depth(req.Depth)
		if !depth.Valid() {
			writeError(w, http.StatusBadRequest, "depth must be quick, standard or deep")
			return
		}
	}

	run, err := s.engine.StartRun(req.Topic, depth)
	if err != nil {
		if errors.Is(err, engine.ErrEmptyTopic) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("starting run", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ListRuns())
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.GetRun(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleRunEvents streams a run's events as SSE: recorded history first,
// then live events until the run finishes or the client disconnects. A
// Last-Event-ID header resumes after that event.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.engine.GetRun(id); err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var lastID int64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastID, _ = strconv.ParseInt(v, 10, 64)
	}

	// Subscribe before reading history so nothing falls in between.
	bus := s.engine.Bus()
	ch := bus.Subscribe(id)
	defer bus.Unsubscribe(id, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	history, _ := s.engine.Events(id, lastID)
	for _, e := range history {
		writeSSE(w, e)
		lastID = e.ID
		if isTerminal(e) {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.ID <= lastID {
				continue
			}
			writeSSE(w, event)
			flusher.Flush()
			lastID = event.ID
			if isTerminal(event) {
				return
			}
		}
	}
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	sums, err := s.engine.Store().List()
	if err != nil {
		s.logger.Error("listing reports", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	if sums == nil {
		sums = []model.Summary{}
	}
	writeJSON(w, http.StatusOK, sums)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.loadReport(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleGetReportMarkdown(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.loadReport(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rep.Filename()))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(rep.Markdown()))
}

func (s *Server) loadReport(w http.ResponseWriter, id string) (*model.Report, bool) {
	rep, err := s.engine.Store().Load(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return nil, false
		}
		s.logger.Error("loading report", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return nil, false
	}
	return rep, true
}

// --- Helpers ---

func isTerminal(e *model.Event) bool {
	return e.Type == model.EventDone || e.Type == model.EventError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, event *model.Event) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Type, string(data))
}
