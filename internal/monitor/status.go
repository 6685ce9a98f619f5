package monitor

import "time"

// Status is a point-in-time copy of a monitor's observable state. No shared
// references escape the engine.
type Status struct {
	ID            string          `json:"id"`
	State         RunState        `json:"state"`
	PollInterval  time.Duration   `json:"-"`
	PollMS        int64           `json:"poll_interval_ms"`
	Streams       []StreamStatus  `json:"streams"`
	Counters      map[Kind]uint64 `json:"counters"`
	ErrorCount    int             `json:"error_count"`
	EventCount    int             `json:"event_count"`
	DroppedErrors uint64          `json:"dropped_errors"`
	DroppedEvents uint64          `json:"dropped_events"`
}

// StreamStatus is the per-stream slice of a Status.
type StreamStatus struct {
	StreamID string          `json:"stream_id"`
	URL      string          `json:"url"`
	Variants []VariantStatus `json:"variants"`
}

// VariantStatus is the per-variant slice of a Status.
type VariantStatus struct {
	URL                   string     `json:"url"`
	MediaSequence         *int64     `json:"media_sequence,omitempty"`
	DiscontinuitySequence *int64     `json:"discontinuity_sequence,omitempty"`
	SegmentCount          int        `json:"segment_count"`
	PlaylistType          string     `json:"playlist_type,omitempty"`
	Version               *int64     `json:"version,omitempty"`
	LastChangeAt          *time.Time `json:"last_change_at,omitempty"`
	ConsecutiveFailures   int        `json:"consecutive_failures"`
	OpenCues              int        `json:"open_cues"`
	Stale                 bool       `json:"stale"`
}

// SnapshotStatus returns a deep copy of the monitor's status.
func (m *Monitor) SnapshotStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		ID:            m.id,
		State:         m.state,
		PollInterval:  m.cfg.effectivePollInterval(),
		PollMS:        m.cfg.effectivePollInterval().Milliseconds(),
		Counters:      make(map[Kind]uint64, len(m.counters)),
		ErrorCount:    m.errors.Len(),
		EventCount:    m.events.Len(),
		DroppedErrors: m.errors.Dropped(),
		DroppedEvents: m.events.Dropped(),
	}
	for k, v := range m.counters {
		st.Counters[k] = v
	}

	for _, s := range m.streams {
		ss := StreamStatus{StreamID: s.ID, URL: s.URL}
		for _, url := range m.known[s.ID] {
			vs := m.variants[variantKey(s.ID, url)]
			if vs == nil {
				ss.Variants = append(ss.Variants, VariantStatus{URL: url})
				continue
			}
			v := VariantStatus{
				URL:                 url,
				SegmentCount:        vs.lastSegmentCount,
				ConsecutiveFailures: vs.ConsecutiveFailures,
				OpenCues:            len(vs.OpenCues),
				Stale:               vs.wasStale,
			}
			if vs.LastMediaSequence != nil {
				seq := *vs.LastMediaSequence
				v.MediaSequence = &seq
			}
			if vs.LastDiscontinuitySequence != nil {
				seq := *vs.LastDiscontinuitySequence
				v.DiscontinuitySequence = &seq
			}
			if vs.LastVersion != nil {
				ver := *vs.LastVersion
				v.Version = &ver
			}
			if vs.LastPlaylistType != nil && *vs.LastPlaylistType != "" {
				v.PlaylistType = string(*vs.LastPlaylistType)
			}
			if vs.everFetched {
				t := vs.LastFetchAt
				v.LastChangeAt = &t
			}
			ss.Variants = append(ss.Variants, v)
		}
		st.Streams = append(st.Streams, ss)
	}

	return st
}
