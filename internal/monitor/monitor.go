package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"hls-monitor/internal/platform/metrics"
	"hls-monitor/internal/playlist"
)

// RunState is the monitor lifecycle state.
type RunState string

const (
	StateIdle     RunState = "idle"
	StateRunning  RunState = "running"
	StateStopping RunState = "stopping"
)

// Stream is one master playlist URL under watch.
type Stream struct {
	ID  string
	URL string
}

// Monitor owns the polling loop for a set of streams and the state the
// checks correlate against. All mutable state sits behind one mutex that is
// held only for bounded, non-blocking sections; fetches and webhook delivery
// happen outside it.
type Monitor struct {
	id      string
	cfg     Config
	fetcher Fetcher
	nfy     *Notifier
	clock   Clock
	log     *slog.Logger
	met     *metrics.Metrics
	checks  []Check

	mu       sync.Mutex
	state    RunState
	streams  []Stream
	variants map[string]*VariantState // keyed by stream id + "\x00" + variant url
	known    map[string][]string      // stream id -> variant urls in discovery order
	errors   *findingRing
	events   *findingRing
	counters map[Kind]uint64

	// cycleMu admits one poll cycle at a time.
	cycleMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}

	jitter *rand.Rand
}

// New builds an idle monitor. The fetcher may be shared across monitors; the
// notifier may be nil when no webhooks are configured.
func New(id string, cfg Config, fetcher Fetcher, nfy *Notifier, log *slog.Logger, met *metrics.Metrics) (*Monitor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		id:       id,
		cfg:      cfg,
		fetcher:  fetcher,
		nfy:      nfy,
		clock:    systemClock{},
		log:      log.With(slog.String("monitor_id", id)),
		met:      met,
		checks:   defaultChecks(&cfg),
		state:    StateIdle,
		variants: make(map[string]*VariantState),
		known:    make(map[string][]string),
		errors:   newFindingRing(cfg.ErrorLimit),
		events:   newFindingRing(cfg.EventLimit),
		counters: make(map[Kind]uint64),
		jitter:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// WithClock swaps the time source. For tests; call before Start.
func (m *Monitor) WithClock(c Clock) *Monitor {
	m.clock = c
	return m
}

// ID returns the monitor id.
func (m *Monitor) ID() string { return m.id }

// Config returns the effective configuration snapshot.
func (m *Monitor) Config() Config { return m.cfg }

// State returns the current run state.
func (m *Monitor) State() RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func variantKey(streamID, url string) string { return streamID + "\x00" + url }

// AddStream registers a master playlist URL. An empty id gets a generated
// one. Serialized against the polling task through the state mutex; a stream
// added mid-cycle joins the next cycle.
func (m *Monitor) AddStream(url, id string) (Stream, error) {
	if err := validateHTTPURL(url); err != nil {
		return Stream{}, err
	}
	if id == "" {
		id = shortToken()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.streams {
		if s.ID == id {
			return Stream{}, fmt.Errorf("stream %q: %w", id, ErrStreamIdConflict)
		}
	}
	s := Stream{ID: id, URL: url}
	m.streams = append(m.streams, s)
	return s, nil
}

// RemoveStream drops a stream and all its variant state.
func (m *Monitor) RemoveStream(streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, s := range m.streams {
		if s.ID == streamID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrStreamNotFound
	}
	m.streams = append(m.streams[:idx], m.streams[idx+1:]...)
	for _, url := range m.known[streamID] {
		delete(m.variants, variantKey(streamID, url))
	}
	delete(m.known, streamID)
	return nil
}

// Streams returns a copy of the registered streams.
func (m *Monitor) Streams() []Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Stream, len(m.streams))
	copy(out, m.streams)
	return out
}

// Start transitions Idle -> Running, emits MonitorStarted and launches the
// polling loop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.state = StateRunning
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.record([]Finding{m.stamp(newFinding(KindMonitorStarted, "monitor started", nil), "", "")})
	m.log.Info("monitor started", slog.Duration("poll_interval", m.cfg.effectivePollInterval()))

	go m.runLoop(ctx, done)
	return nil
}

// Stop transitions Running -> Stopping, cancels in-flight fetches, awaits the
// loop, then lands on Idle and emits MonitorStopped. Stopping an idle monitor
// is a no-op.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopping
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done

	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()

	m.record([]Finding{m.stamp(newFinding(KindMonitorStopped, "monitor stopped", nil), "", "")})
	m.log.Info("monitor stopped")
	return nil
}

// PollOnce runs a single poll cycle with the staleness check disabled and no
// lifecycle events. Shared with the one-shot validator. Cancelling ctx
// discards the cycle's findings.
func (m *Monitor) PollOnce(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.mu.Unlock()
	return m.runCycle(ctx, false)
}

func (m *Monitor) runLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("poll loop panic", slog.Any("panic", r))
			m.mu.Lock()
			m.state = StateIdle
			m.mu.Unlock()
			m.record([]Finding{m.stamp(newFinding(KindFetchError, "poll loop aborted", map[string]any{"panic": fmt.Sprint(r)}), "", "")})
		}
	}()

	interval := m.cfg.effectivePollInterval()
	timer := time.NewTimer(0) // first cycle immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := m.runCycle(ctx, true); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("poll cycle failed", slog.String("error", err.Error()))
		}

		timer.Reset(m.jittered(interval))
	}
}

// jittered spreads ticks by +-1/7th of the interval so many monitors against
// one origin do not phase-lock.
func (m *Monitor) jittered(interval time.Duration) time.Duration {
	spread := int64(interval) / 7
	if spread <= 0 {
		return interval
	}
	d := interval + time.Duration(m.jitter.Int63n(2*spread)-spread)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

type variantTarget struct {
	streamID string
	url      string
	// body is pre-loaded when the stream URL itself was a media playlist.
	body []byte
}

type fetchResult struct {
	body []byte
	err  error
}

// runCycle executes one poll: master resolution, bounded variant fan-out,
// per-variant checks, then cross-variant checks. All findings are committed
// atomically at the end; a cancelled cycle commits nothing.
func (m *Monitor) runCycle(ctx context.Context, withStale bool) error {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	m.mu.Lock()
	streams := make([]Stream, len(m.streams))
	copy(streams, m.streams)
	m.mu.Unlock()

	var cycle []Finding
	sem := semaphore.NewWeighted(int64(m.cfg.MaxConcurrentFetches))

	for _, stream := range streams {
		findings, err := m.pollStream(ctx, stream, sem)
		if err != nil {
			return err // cancelled; discard everything
		}
		cycle = append(cycle, findings...)
	}

	cycle = append(cycle, m.crossVariantFindings(streams, withStale)...)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.record(cycle)
	if m.met != nil {
		m.met.IncPollCycles()
	}
	return nil
}

// pollStream resolves one stream's variants and updates each of them.
func (m *Monitor) pollStream(ctx context.Context, stream Stream, sem *semaphore.Weighted) ([]Finding, error) {
	var findings []Finding

	body, err := m.fetch(ctx, stream.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		findings = append(findings, m.stamp(newFinding(KindFetchError,
			fmt.Sprintf("master fetch failed: %v", err), fetchErrDetails(err)), stream.ID, ""))
		if m.met != nil {
			m.met.IncFetchFailures()
		}
		return findings, nil
	}

	pl, err := playlist.Parse(body, stream.URL)
	if err != nil {
		findings = append(findings, m.stamp(newFinding(KindFetchError,
			fmt.Sprintf("master parse failed: %v", err), nil), stream.ID, ""))
		return findings, nil
	}

	var targets []variantTarget
	if pl.Media != nil {
		// The stream URL is itself a media playlist: synthetic single
		// variant, body already in hand.
		targets = []variantTarget{{streamID: stream.ID, url: stream.URL, body: body}}
	} else {
		targets = resolveTargets(stream, pl.Master)
	}

	if f := m.reconcileVariantSet(stream, targets); f != nil {
		findings = append(findings, *f)
	}

	results := m.fanOut(ctx, targets, sem)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, t := range targets {
		key := variantKey(t.streamID, t.url)
		vs := m.variants[key]
		if vs == nil {
			vs = newVariantState(t.streamID, t.url)
			m.variants[key] = vs
		}

		res := results[i]
		var raw []Finding
		if res.err != nil {
			raw = vs.recordFailure(fmt.Sprintf("variant fetch failed: %v", res.err), fetchStatus(res.err), &m.cfg)
			if m.met != nil {
				m.met.IncFetchFailures()
			}
		} else {
			media, perr := playlist.ParseMedia(res.body, t.url)
			if perr != nil {
				raw = vs.recordFailure(fmt.Sprintf("variant parse failed: %v", perr), 0, &m.cfg)
			} else {
				raw = vs.update(media, &m.cfg, m.checks, now)
			}
		}
		for _, f := range raw {
			findings = append(findings, m.stamp(f, t.streamID, t.url))
		}
	}

	return findings, nil
}

// resolveTargets expands a master playlist into the unique variant URL list,
// discovery order preserved: stream variants first, then renditions with
// their own playlists.
func resolveTargets(stream Stream, master *playlist.Master) []variantTarget {
	seen := make(map[string]bool)
	var targets []variantTarget

	add := func(url string) {
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		targets = append(targets, variantTarget{streamID: stream.ID, url: url})
	}

	for _, v := range master.Variants {
		add(v.URI)
	}
	for _, r := range master.Renditions {
		add(r.URI)
	}
	return targets
}

// reconcileVariantSet compares the resolved variant URLs against the last
// poll, drops state for removed variants and emits MasterRefreshed when the
// set changed.
func (m *Monitor) reconcileVariantSet(stream Stream, targets []variantTarget) *Finding {
	urls := make([]string, len(targets))
	for i, t := range targets {
		urls[i] = t.url
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, had := m.known[stream.ID]
	m.known[stream.ID] = urls
	if !had || equalStrings(prev, urls) {
		return nil
	}

	current := make(map[string]bool, len(urls))
	for _, u := range urls {
		current[u] = true
	}
	var removed []string
	for _, u := range prev {
		if !current[u] {
			removed = append(removed, u)
			delete(m.variants, variantKey(stream.ID, u))
		}
	}
	var added []string
	prevSet := make(map[string]bool, len(prev))
	for _, u := range prev {
		prevSet[u] = true
	}
	for _, u := range urls {
		if !prevSet[u] {
			added = append(added, u)
		}
	}

	f := m.stamp(newFinding(KindMasterRefreshed,
		fmt.Sprintf("variant set changed: %d added, %d removed", len(added), len(removed)),
		map[string]any{"added": added, "removed": removed}), stream.ID, "")
	return &f
}

// fanOut fetches every target through the shared semaphore. Targets with a
// pre-loaded body skip the network. Fetches are independent; one failure does
// not cancel siblings.
func (m *Monitor) fanOut(ctx context.Context, targets []variantTarget, sem *semaphore.Weighted) []fetchResult {
	results := make([]fetchResult, len(targets))
	var wg sync.WaitGroup

	for i, t := range targets {
		if t.body != nil {
			results[i] = fetchResult{body: t.body}
			continue
		}
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = fetchResult{err: err}
				return
			}
			defer sem.Release(1)
			body, err := m.fetch(ctx, url)
			results[i] = fetchResult{body: body, err: err}
		}(i, t.url)
	}

	wg.Wait()
	return results
}

func (m *Monitor) fetch(ctx context.Context, url string) ([]byte, error) {
	fctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	return m.fetcher.Fetch(fctx, url)
}

// crossVariantFindings runs the per-cycle checks that need every variant:
// sync drift per stream, staleness, and SCTE-35 unclosed cues.
func (m *Monitor) crossVariantFindings(streams []Stream, withStale bool) []Finding {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var findings []Finding

	for _, stream := range streams {
		findings = append(findings, m.driftFindingsLocked(stream)...)
	}

	if withStale {
		for _, stream := range streams {
			for _, url := range m.known[stream.ID] {
				vs := m.variants[variantKey(stream.ID, url)]
				if vs == nil || !vs.everFetched || vs.wasStale {
					continue
				}
				age := now.Sub(vs.LastFetchAt)
				if age > m.cfg.StaleLimit {
					vs.wasStale = true
					findings = append(findings, m.stamp(newFinding(KindStaleManifest,
						fmt.Sprintf("manifest unchanged for %dms, limit %dms",
							age.Milliseconds(), m.cfg.StaleLimit.Milliseconds()),
						map[string]any{
							"stale_ms": age.Milliseconds(),
							"limit_ms": m.cfg.StaleLimit.Milliseconds(),
						}), stream.ID, url))
				}
			}
		}
	}

	if m.cfg.SCTE35 {
		for _, stream := range streams {
			for _, url := range m.known[stream.ID] {
				vs := m.variants[variantKey(stream.ID, url)]
				if vs == nil {
					continue
				}
				for id, cue := range vs.OpenCues {
					if cue.Reported || now.Sub(cue.OpenedAt) <= m.cfg.Scte35UnclosedTimeout {
						continue
					}
					cue.Reported = true
					findings = append(findings, m.stamp(newFinding(KindScte35UnclosedCueOut,
						fmt.Sprintf("CUE-OUT %q open for %s without CUE-IN", id, now.Sub(cue.OpenedAt).Round(time.Second)),
						map[string]any{
							"cue_id":     id,
							"open_ms":    now.Sub(cue.OpenedAt).Milliseconds(),
							"timeout_ms": m.cfg.Scte35UnclosedTimeout.Milliseconds(),
						}), stream.ID, url))
				}
			}
		}
	}

	return findings
}

// driftFindingsLocked reports the widest media-sequence spread among a
// stream's variants when it exceeds the threshold.
func (m *Monitor) driftFindingsLocked(stream Stream) []Finding {
	urls := m.known[stream.ID]
	if len(urls) < 2 {
		return nil
	}

	var (
		minURL, maxURL string
		minSeq, maxSeq int64
		found          bool
	)
	for _, url := range urls {
		vs := m.variants[variantKey(stream.ID, url)]
		if vs == nil || vs.LastMediaSequence == nil {
			continue
		}
		seq := *vs.LastMediaSequence
		if !found {
			minURL, maxURL = url, url
			minSeq, maxSeq = seq, seq
			found = true
			continue
		}
		if seq < minSeq {
			minSeq, minURL = seq, url
		}
		if seq > maxSeq {
			maxSeq, maxURL = seq, url
		}
	}
	if !found {
		return nil
	}

	gap := maxSeq - minSeq
	if gap <= m.cfg.VariantSyncDriftThreshold {
		return nil
	}
	return []Finding{m.stamp(newFinding(KindVariantSyncDrift,
		fmt.Sprintf("variant %s at sequence %d is %d ahead of %s at %d",
			maxURL, maxSeq, gap, minURL, minSeq),
		map[string]any{
			"max_gap":   gap,
			"threshold": m.cfg.VariantSyncDriftThreshold,
			"ahead":     maxURL,
			"behind":    minURL,
		}), stream.ID, "")}
}

// stamp fills in identity and timestamp on a raw finding.
func (m *Monitor) stamp(f Finding, streamID, variantURL string) Finding {
	f.MonitorID = m.id
	f.StreamID = streamID
	f.VariantURL = variantURL
	f.Timestamp = m.clock.Now().UTC()
	return f
}

// record appends a cycle's findings to the rings and counters under one
// critical section, then hands them to the notifier outside it.
func (m *Monitor) record(findings []Finding) {
	if len(findings) == 0 {
		return
	}

	m.mu.Lock()
	for _, f := range findings {
		m.counters[f.Kind]++
		switch f.Severity {
		case SeverityEvent:
			before := m.events.Dropped()
			m.events.Push(f)
			if m.met != nil && m.events.Dropped() > before {
				m.met.IncFindingsDropped()
			}
		default:
			before := m.errors.Dropped()
			m.errors.Push(f)
			if m.met != nil && m.errors.Dropped() > before {
				m.met.IncFindingsDropped()
			}
		}
		if m.met != nil {
			m.met.ObserveFinding(string(f.Kind), string(f.Severity))
		}
	}
	m.mu.Unlock()

	if m.nfy != nil {
		for _, f := range findings {
			m.nfy.Publish(f)
		}
	}
}

// SnapshotErrors returns a newest-first copy of the error ring.
func (m *Monitor) SnapshotErrors() []Finding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors.Snapshot()
}

// ClearErrors empties the error ring. Counters and drop totals persist.
func (m *Monitor) ClearErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors.Clear()
}

// SnapshotEvents returns a newest-first copy of the event ring.
func (m *Monitor) SnapshotEvents() []Finding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events.Snapshot()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func fetchErrDetails(err error) map[string]any {
	if fe, ok := err.(*FetchErr); ok && fe.Status > 0 {
		return map[string]any{"status": fe.Status}
	}
	return nil
}

func fetchStatus(err error) int {
	if fe, ok := err.(*FetchErr); ok {
		return fe.Status
	}
	return 0
}
