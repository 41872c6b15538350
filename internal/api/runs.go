package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tzfnuist/ClimWIP/internal/ensemble"
	"github.com/tzfnuist/ClimWIP/internal/pipeline"
	"github.com/tzfnuist/ClimWIP/internal/source"
	"github.com/tzfnuist/ClimWIP/internal/store"
)

const maxBodyBytes = source.MaxInputBytes

type RunsHandler struct {
	store    store.Store
	pipeline *pipeline.Runner
	logger   *slog.Logger
}

func NewRunsHandler(s store.Store, p *pipeline.Runner, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{store: s, pipeline: p, logger: logger}
}

// CreateRunRequest is a pipeline request plus the choice of execution. Async
// runs are queued and answered with 202.
type CreateRunRequest struct {
	pipeline.Request
	Async bool `json:"async,omitempty"`
}

type RunResponse struct {
	Run     *store.Run           `json:"run"`
	Outcome *pipeline.Outcome    `json:"outcome,omitempty"`
	Weights []*store.ModelWeight `json:"weights,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	RunID string `json:"run_id,omitempty"`
}

func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Input == nil && req.InputRef == "" {
		writeError(w, http.StatusBadRequest, "input or input_ref required")
		return
	}
	req.Source = "api"

	if req.Async {
		run, err := h.pipeline.Submit(r.Context(), req.Request)
		if err != nil {
			writeRunError(w, run, err)
			return
		}
		writeJSON(w, http.StatusAccepted, RunResponse{Run: run})
		return
	}

	run, out, err := h.pipeline.Execute(r.Context(), req.Request)
	if err != nil {
		writeRunError(w, run, err)
		return
	}
	writeJSON(w, http.StatusCreated, RunResponse{Run: run, Outcome: out})
}

func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no run store configured")
		return
	}
	q := r.URL.Query()
	filter := store.RunFilter{Name: q.Get("name")}
	if s := q.Get("status"); s != "" {
		status := store.RunStatus(s)
		filter.Status = &status
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid "+key)
				return
			}
			*dst = n
		}
	}

	runs, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	weights, err := h.store.GetWeights(r.Context(), run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{Run: run, Weights: weights})
}

func (h *RunsHandler) Calibration(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if run.Calibration == nil {
		writeError(w, http.StatusNotFound, "run has no calibration result")
		return
	}
	writeJSON(w, http.StatusOK, run.Calibration)
}

func (h *RunsHandler) lookup(w http.ResponseWriter, r *http.Request) (*store.Run, bool) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no run store configured")
		return nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return nil, false
	}
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	return run, true
}

// StatusFor maps a run error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ensemble.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, ensemble.ErrCalibration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeRunError(w http.ResponseWriter, run *store.Run, err error) {
	resp := errorResponse{Error: err.Error(), Kind: pipeline.ErrorKind(err)}
	if run != nil {
		resp.RunID = run.ID.String()
	}
	writeJSON(w, StatusFor(err), resp)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
