package monitor

import (
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/google/uuid"

	"hls-monitor/internal/platform/metrics"
)

var monitorIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// shortToken returns a compact random id for auto-generated monitor and
// stream ids.
func shortToken() string {
	return uuid.NewString()[:8]
}

// Registry is the named collection of monitors. It owns them: Delete removes
// a monitor and stops it before returning, and DeleteAll tears the whole set
// down.
type Registry struct {
	fetcher Fetcher
	log     *slog.Logger
	met     *metrics.Metrics

	mu       sync.Mutex
	monitors map[string]*Monitor
}

// NewRegistry builds an empty registry sharing one fetcher across monitors.
func NewRegistry(fetcher Fetcher, log *slog.Logger, met *metrics.Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		fetcher:  fetcher,
		log:      log,
		met:      met,
		monitors: make(map[string]*Monitor),
	}
}

// Create registers a new idle monitor. An empty id gets a generated token; a
// caller-provided id must match [A-Za-z0-9_.-]{1,128}. A notifier is attached
// when the config names webhook destinations.
func (r *Registry) Create(id string, cfg Config) (*Monitor, error) {
	if id == "" {
		id = shortToken()
	} else if !monitorIDPattern.MatchString(id) {
		return nil, &InvalidMonitorIDError{ID: id}
	}

	var nfy *Notifier
	if len(cfg.Webhooks) > 0 {
		nfy = NewNotifier(cfg.Webhooks, r.log, r.met)
	}

	mon, err := New(id, cfg, r.fetcher, nfy, r.log, r.met)
	if err != nil {
		if nfy != nil {
			nfy.Close()
		}
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.monitors[id]; exists {
		if nfy != nil {
			nfy.Close()
		}
		return nil, ErrMonitorIdConflict
	}
	r.monitors[id] = mon
	return mon, nil
}

// Get returns the monitor under id.
func (r *Registry) Get(id string) (*Monitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mon, ok := r.monitors[id]
	if !ok {
		return nil, ErrMonitorNotFound
	}
	return mon, nil
}

// List returns the monitors sorted by id.
func (r *Registry) List() []*Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Delete removes the monitor from the registry, then stops it (if running)
// before returning.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	mon, ok := r.monitors[id]
	if !ok {
		r.mu.Unlock()
		return ErrMonitorNotFound
	}
	delete(r.monitors, id)
	r.mu.Unlock()

	if err := mon.Stop(); err != nil {
		return err
	}
	if mon.nfy != nil {
		mon.nfy.Close()
	}
	return nil
}

// DeleteAll stops and removes every monitor.
func (r *Registry) DeleteAll() {
	r.mu.Lock()
	monitors := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	r.monitors = make(map[string]*Monitor)
	r.mu.Unlock()

	for _, m := range monitors {
		_ = m.Stop()
		if m.nfy != nil {
			m.nfy.Close()
		}
	}
}

// Counts returns (total, running) for the metrics gauges.
func (r *Registry) Counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	running := 0
	for _, m := range r.monitors {
		if m.State() == StateRunning {
			running++
		}
	}
	return len(r.monitors), running
}
