// Package server exposes the submit/status HTTP surface: POST a workflow to
// start a run, then follow it through the runs endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"matrixci/internal/store"
	"matrixci/internal/trigger"
	"matrixci/internal/workflow"
)

// Server tracks in-flight runs in memory and serves finished runs from the
// history store.
type Server struct {
	dispatcher *trigger.Dispatcher
	store      *store.Store

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	workflow  string
	event     string
	startedAt time.Time
	cancel    context.CancelFunc
}

// New wires a server to a dispatcher and the history store.
func New(d *trigger.Dispatcher, st *store.Store) *Server {
	return &Server{
		dispatcher: d,
		store:      st,
		active:     make(map[string]*activeRun),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/workflows", s.handleSubmitWorkflow)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Post("/runs/{id}/cancel", s.handleCancelRun)
	return r
}

// handleSubmitWorkflow accepts workflow YAML, validates it, and starts an
// asynchronous run. The event defaults to workflow_dispatch (a manual run);
// an ?event=push query selects another declared trigger.
func (s *Server) handleSubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		httpError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	wf, err := workflow.Parse(data)
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid workflow: %v", err))
		return
	}
	if err := wf.Validate(); err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid workflow: %v", err))
		return
	}

	event := r.URL.Query().Get("event")
	if event == "" {
		event = workflow.EventWorkflowDispatch
	}
	if !workflow.KnownEvent(event) {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("unknown event %q", event))
		return
	}
	if !wf.TriggeredBy(event) {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("workflow %q does not declare event %q", wf.Name, event))
		return
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.active[id] = &activeRun{workflow: wf.Name, event: event, startedAt: time.Now(), cancel: cancel}
	s.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.active, id)
			s.mu.Unlock()
		}()
		if _, err := s.dispatcher.FireWithID(runCtx, wf, event, id); err != nil {
			fmt.Printf("run %s: %v\n", id, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "pending"})
}

type runSummary struct {
	ID         string    `json:"id"`
	Workflow   string    `json:"workflow"`
	Event      string    `json:"event"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// handleListRuns returns in-flight runs first, then recent history.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var summaries []runSummary

	s.mu.Lock()
	for id, run := range s.active {
		summaries = append(summaries, runSummary{
			ID:        id,
			Workflow:  run.workflow,
			Event:     run.event,
			Status:    "running",
			StartedAt: run.startedAt,
		})
	}
	s.mu.Unlock()

	records, err := s.store.ListRuns(20)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, rec := range records {
		summaries = append(summaries, runSummary{
			ID:         rec.ID,
			Workflow:   rec.Workflow,
			Event:      rec.Event,
			Status:     rec.Status,
			StartedAt:  rec.StartedAt,
			FinishedAt: rec.FinishedAt,
		})
	}
	if summaries == nil {
		summaries = []runSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	run, inFlight := s.active[id]
	s.mu.Unlock()
	if inFlight {
		writeJSON(w, http.StatusOK, runSummary{
			ID:        id,
			Workflow:  run.workflow,
			Event:     run.event,
			Status:    "running",
			StartedAt: run.startedAt,
		})
		return
	}

	record, err := s.store.GetRun(id)
	if errors.Is(err, store.ErrNotFound) {
		httpError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	run, inFlight := s.active[id]
	s.mu.Unlock()
	if inFlight {
		run.cancel()
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
		return
	}

	if _, err := s.store.GetRun(id); errors.Is(err, store.ErrNotFound) {
		httpError(w, http.StatusNotFound, "run not found")
		return
	}
	httpError(w, http.StatusConflict, "run already finished")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
