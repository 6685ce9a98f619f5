package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"hls-monitor/internal/monitor"
)

// Handler exposes the engine façade over HTTP using go-chi.
type Handler struct {
	registry *monitor.Registry
	log      *slog.Logger
}

// NewHandler returns a Handler over the given registry.
func NewHandler(registry *monitor.Registry, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{registry: registry, log: log}
}

// Routes mounts the monitor API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/monitors", func(r chi.Router) {
		r.Post("/", h.CreateMonitor)
		r.Get("/", h.ListMonitors)
		r.Route("/{monitor_id}", func(r chi.Router) {
			r.Get("/", h.GetMonitor)
			r.Delete("/", h.DeleteMonitor)
			r.Post("/start", h.StartMonitor)
			r.Post("/stop", h.StopMonitor)
			r.Post("/poll", h.PollMonitor)
			r.Post("/streams", h.AddStream)
			r.Delete("/streams/{stream_id}", h.RemoveStream)
			r.Get("/errors", h.GetErrors)
			r.Delete("/errors", h.ClearErrors)
			r.Get("/events", h.GetEvents)
		})
	})
}

type configRequest struct {
	StaleLimitMS                int64   `json:"stale_limit_ms"`
	PollIntervalMS              int64   `json:"poll_interval_ms"`
	SCTE35                      bool    `json:"scte35"`
	ErrorLimit                  int     `json:"error_limit"`
	EventLimit                  int     `json:"event_limit"`
	TargetDurationTolerance     float64 `json:"target_duration_tolerance"`
	MseqGapThreshold            int64   `json:"mseq_gap_threshold"`
	VariantSyncDriftThreshold   int64   `json:"variant_sync_drift_threshold"`
	VariantFailureThreshold     int     `json:"variant_failure_threshold"`
	SegmentDurationAnomalyRatio float64 `json:"segment_duration_anomaly_ratio"`
	MaxConcurrentFetches        int     `json:"max_concurrent_fetches"`
	RequestTimeoutMS            int64   `json:"request_timeout_ms"`
	Scte35UnclosedTimeoutMS     int64   `json:"scte35_unclosed_timeout_ms"`

	Webhooks []monitor.Destination `json:"webhooks"`
}

func (c configRequest) toConfig() monitor.Config {
	return monitor.Config{
		StaleLimit:                  time.Duration(c.StaleLimitMS) * time.Millisecond,
		PollInterval:                time.Duration(c.PollIntervalMS) * time.Millisecond,
		SCTE35:                      c.SCTE35,
		ErrorLimit:                  c.ErrorLimit,
		EventLimit:                  c.EventLimit,
		TargetDurationTolerance:     c.TargetDurationTolerance,
		MseqGapThreshold:            c.MseqGapThreshold,
		VariantSyncDriftThreshold:   c.VariantSyncDriftThreshold,
		VariantFailureThreshold:     c.VariantFailureThreshold,
		SegmentDurationAnomalyRatio: c.SegmentDurationAnomalyRatio,
		MaxConcurrentFetches:        c.MaxConcurrentFetches,
		RequestTimeout:              time.Duration(c.RequestTimeoutMS) * time.Millisecond,
		Scte35UnclosedTimeout:       time.Duration(c.Scte35UnclosedTimeoutMS) * time.Millisecond,
		Webhooks:                    c.Webhooks,
	}
}

type createMonitorRequest struct {
	ID      string          `json:"id"`
	Config  configRequest   `json:"config"`
	Streams []streamRequest `json:"streams"`
	Start   bool            `json:"start"`
}

type streamRequest struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// CreateMonitor handles POST /monitors.
func (h *Handler) CreateMonitor(w http.ResponseWriter, r *http.Request) {
	var req createMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid create monitor body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mon, err := h.registry.Create(req.ID, req.Config.toConfig())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	for _, s := range req.Streams {
		if _, err := mon.AddStream(s.URL, s.ID); err != nil {
			_ = h.registry.Delete(mon.ID())
			h.writeEngineError(w, err)
			return
		}
	}

	if req.Start {
		if err := mon.Start(); err != nil {
			_ = h.registry.Delete(mon.ID())
			h.writeEngineError(w, err)
			return
		}
	}

	h.log.Info("monitor created",
		slog.String("monitor_id", mon.ID()),
		slog.Int("streams", len(req.Streams)),
		slog.Bool("started", req.Start))
	writeJSON(w, http.StatusCreated, mon.SnapshotStatus())
}

// ListMonitors handles GET /monitors.
func (h *Handler) ListMonitors(w http.ResponseWriter, r *http.Request) {
	monitors := h.registry.List()
	out := make([]monitor.Status, 0, len(monitors))
	for _, m := range monitors {
		out = append(out, m.SnapshotStatus())
	}
	writeJSON(w, http.StatusOK, out)
}

// GetMonitor handles GET /monitors/{monitor_id}.
func (h *Handler) GetMonitor(w http.ResponseWriter, r *http.Request) {
	mon, ok := h.monitorFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, mon.SnapshotStatus())
}

// DeleteMonitor handles DELETE /monitors/{monitor_id}: stops first.
func (h *Handler) DeleteMonitor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "monitor_id")
	if err := h.registry.Delete(id); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.log.Info("monitor deleted", slog.String("monitor_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// StartMonitor handles POST /monitors/{monitor_id}/start.
func (h *Handler) StartMonitor(w http.ResponseWriter, r *http.Request) {
	mon, ok := h.monitorFrom(w, r)
	if !ok {
		return
	}
	if err := mon.Start(); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mon.SnapshotStatus())
}

// StopMonitor handles POST /monitors/{monitor_id}/stop.
func (h *Handler) StopMonitor(w http.ResponseWriter, r *http.Request) {
	mon, ok := h.monitorFrom(w, r)
	if !ok {
		return
	}
	if err := mon.Stop(); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mon.SnapshotStatus())
}

// PollMonitor handles POST /monitors/{monitor_id}/poll: one validation cycle.
func (h *Handler) PollMonitor(w http.ResponseWriter, r *http.Request) {
	mon, ok := h.monitorFrom(w, r)
	if !ok {
		return
	}
	if err := mon.PollOnce(r.Context()); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mon.SnapshotStatus())
}

// AddStream handles POST /monitors/{monitor_id}/streams.
func (h *Handler) AddStream(w http.ResponseWriter, r *http.Request) {
	mon, ok := h.monitorFrom(w, r)
	if !ok {
		return
	}

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, err := mon.AddStream(req.URL, req.ID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"stream_id": s.ID, "url": s.URL})
}

// RemoveStream handles DELETE /monitors/{monitor_id}/streams/{stream_id}.
func (h *Handler) RemoveStream(w http.ResponseWriter, r *http.Request) {
	mon, ok := h.monitorFrom(w, r)
	if !ok {
		return
	}
	if err := mon.RemoveStream(chi.URLParam(r, "stream_id")); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetErrors handles GET /monitors/{monitor_id}/errors (newest first).
func (h *Handler) GetErrors(w http.ResponseWriter, r *http.Request) {
	mon, ok := h.monitorFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, mon.SnapshotErrors())
}

// ClearErrors handles DELETE /monitors/{monitor_id}/errors.
func (h *Handler) ClearErrors(w http.ResponseWriter, r *http.Request) {
	mon, ok := h.monitorFrom(w, r)
	if !ok {
		return
	}
	mon.ClearErrors()
	w.WriteHeader(http.StatusNoContent)
}

// GetEvents handles GET /monitors/{monitor_id}/events (newest first).
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	mon, ok := h.monitorFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, mon.SnapshotEvents())
}

func (h *Handler) monitorFrom(w http.ResponseWriter, r *http.Request) (*monitor.Monitor, bool) {
	id := chi.URLParam(r, "monitor_id")
	mon, err := h.registry.Get(id)
	if err != nil {
		h.writeEngineError(w, err)
		return nil, false
	}
	return mon, true
}

// writeEngineError maps engine error types onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	var invalidURL *monitor.InvalidURLError
	var invalidThreshold *monitor.InvalidThresholdError
	var invalidID *monitor.InvalidMonitorIDError

	switch {
	case errors.Is(err, monitor.ErrMonitorNotFound), errors.Is(err, monitor.ErrStreamNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, monitor.ErrMonitorIdConflict), errors.Is(err, monitor.ErrStreamIdConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, monitor.ErrAlreadyRunning), errors.Is(err, monitor.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &invalidURL), errors.As(err, &invalidThreshold), errors.As(err, &invalidID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("internal error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
