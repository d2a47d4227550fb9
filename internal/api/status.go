// Package api serves the loopd status surface over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/psantana5/loopd/internal/report"
	"github.com/psantana5/loopd/pkg/daemon"
	"github.com/psantana5/loopd/pkg/metrics"
	"github.com/psantana5/loopd/pkg/ratelimit"
	"github.com/psantana5/loopd/pkg/resources"
	"github.com/psantana5/loopd/pkg/store"
)

// StatusSource is the part of the controller that is safe to read from
// another goroutine
type StatusSource interface {
	State() daemon.State
	IsShutdownRequested() bool
}

// RunLister reads past runs from the event journal
type RunLister interface {
	Runs(limit int) ([]store.RunSummary, error)
	Events(runID string) ([]store.Record, error)
}

// Status is the /status payload
type Status struct {
	Daemon            string                  `json:"daemon"`
	RunID             string                  `json:"run_id"`
	State             string                  `json:"state"`
	ShutdownRequested bool                    `json:"shutdown_requested"`
	Iterations        int                     `json:"iterations"`
	Uptime            string                  `json:"uptime"`
	PeakMemory        uint64                  `json:"peak_memory_bytes"`
	EventCounts       map[string]uint64       `json:"event_counts"`
	Finished          bool                    `json:"finished"`
	ExitCode          *int                    `json:"exit_code,omitempty"`
	LastError         string                  `json:"last_error,omitempty"`
	System            *resources.SystemMemory `json:"system,omitempty"`
}

// Handler handles status API requests
type Handler struct {
	source   StatusSource
	tally    *report.Tally
	gatherer prometheus.Gatherer
	runs     RunLister

	systemMemory func() (resources.SystemMemory, error)
	now          func() time.Time
}

// NewHandler creates a status handler. The tally must be subscribed to the
// same controller as source.
func NewHandler(source StatusSource, tally *report.Tally, g prometheus.Gatherer) *Handler {
	return &Handler{
		source:       source,
		tally:        tally,
		gatherer:     g,
		systemMemory: resources.ReadSystemMemory,
		now:          time.Now,
	}
}

// SetRunLister enables the /runs endpoints
func (h *Handler) SetRunLister(r RunLister) {
	h.runs = r
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/status", h.Status).Methods("GET")
	r.HandleFunc("/runs", h.ListRuns).Methods("GET")
	r.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")
	if h.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(h.gatherer)).Methods("GET")
	}
}

// NewRouter builds the router, rate limited per client address when
// limiter is non-nil
func NewRouter(h *Handler, limiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()
	if limiter != nil {
		r.Use(mux.MiddlewareFunc(limiter.Middleware(ratelimit.IPKeyFunc)))
	}
	h.RegisterRoutes(r)
	return r
}

// Health reports whether the loop is still alive
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.source.State()
	status := "healthy"
	code := http.StatusOK
	switch {
	case state == daemon.StateStopped:
		status = "stopped"
		code = http.StatusServiceUnavailable
	case state == daemon.StateDraining || h.source.IsShutdownRequested():
		status = "draining"
	}
	writeJSON(w, code, map[string]string{
		"status": status,
		"state":  state.String(),
	})
}

// Status returns the live counters of the current run
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	summary, done := h.tally.Summary()

	st := Status{
		Daemon:            summary.Daemon,
		RunID:             summary.RunID,
		State:             h.source.State().String(),
		ShutdownRequested: h.source.IsShutdownRequested(),
		Iterations:        summary.Iterations,
		PeakMemory:        summary.PeakMemory,
		EventCounts:       summary.EventCounts,
		Finished:          done,
	}
	if !summary.StartTime.IsZero() {
		end := h.now()
		if done {
			end = summary.EndTime
		}
		st.Uptime = end.Sub(summary.StartTime).Round(time.Millisecond).String()
	}
	if done {
		code := summary.ExitCode
		st.ExitCode = &code
		st.LastError = summary.LastError
	}
	if sys, err := h.systemMemory(); err == nil {
		st.System = &sys
	}

	writeJSON(w, http.StatusOK, st)
}

// ListRuns returns the most recent runs recorded in the journal
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		http.Error(w, "Journal not configured", http.StatusNotFound)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.runs.Runs(limit)
	if err != nil {
		http.Error(w, "Failed to read journal: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun returns every recorded event of one run
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		http.Error(w, "Journal not configured", http.StatusNotFound)
		return
	}

	id := mux.Vars(r)["id"]
	records, err := h.runs.Events(id)
	if err != nil {
		http.Error(w, "Failed to read journal: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(records) == 0 {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
