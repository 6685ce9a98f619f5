package monitor

import (
	"fmt"
	"strconv"
	"time"

	"hls-monitor/internal/playlist"
)

// VariantState is the rolling per-variant state the checks correlate against.
// A variant is identified by (stream id, absolute variant URL).
type VariantState struct {
	StreamID string
	URL      string

	LastMediaSequence         *int64
	LastDiscontinuitySequence *int64
	LastSegmentURIs           []string
	LastVersion               *int64
	LastPlaylistType          *playlist.Type
	LastProgramDateTime       *time.Time

	// LastFetchAt is when the manifest last changed or was first fetched;
	// it deliberately does not advance on identical re-fetches so staleness
	// measures time since the manifest last evolved.
	LastFetchAt         time.Time
	ConsecutiveFailures int

	// OpenCues maps cue id to its opening time, maintained only when SCTE-35
	// checks are enabled.
	OpenCues map[string]*openCue

	// lastDiscFlags mirrors LastSegmentURIs: whether each segment of the last
	// window carried a discontinuity marker. Needed to count markers that
	// slide out between polls.
	lastDiscFlags []bool

	// lastCueOutIDs are the cue ids whose CUE-OUT tag was visible in the last
	// window.
	lastCueOutIDs map[string]bool

	lastSegmentCount int
	wasStale         bool
	everFetched      bool
}

type openCue struct {
	OpenedAt time.Time
	// Reported latches the unclosed-timeout finding so it fires once per cue.
	Reported bool
}

func newVariantState(streamID, url string) *VariantState {
	return &VariantState{
		StreamID: streamID,
		URL:      url,
		OpenCues: make(map[string]*openCue),
	}
}

// cueIDFor returns the identity of a cue carried by the segment at absolute
// sequence seq. Tags without an ID attribute are identified by that sequence
// number.
func cueIDFor(seg *playlist.Segment, seq int64) string {
	if seg.CueID != "" {
		return seg.CueID
	}
	return strconv.FormatInt(seq, 10)
}

// update applies a successfully fetched playlist to the variant: recovery
// accounting, the per-variant checks against the previous state, then the
// state roll of all tracked fields. Returned findings are unstamped.
func (v *VariantState) update(pl *playlist.Media, cfg *Config, checks []Check, now time.Time) []Finding {
	var findings []Finding

	if v.ConsecutiveFailures > 0 {
		findings = append(findings, newFinding(KindVariantRecovered,
			fmt.Sprintf("variant recovered after %d failed fetches", v.ConsecutiveFailures),
			map[string]any{"failures": v.ConsecutiveFailures}))
		v.ConsecutiveFailures = 0
	}

	for _, c := range checks {
		findings = append(findings, c.Run(v, pl, cfg)...)
	}

	changed := v.contentChanged(pl)
	if changed || !v.everFetched {
		if v.wasStale {
			findings = append(findings, newFinding(KindStaleRecovered,
				"manifest evolving again after staleness", nil))
			v.wasStale = false
		}
		v.LastFetchAt = now
	}

	v.roll(pl, cfg, now)
	v.everFetched = true

	return findings
}

// recordFailure accounts a fetch or parse failure: a FetchError finding
// always, plus VariantUnavailable exactly when the consecutive-failure count
// reaches the threshold.
func (v *VariantState) recordFailure(reason string, statusCode int, cfg *Config) []Finding {
	v.ConsecutiveFailures++

	details := map[string]any{"failures": v.ConsecutiveFailures}
	if statusCode > 0 {
		details["status"] = statusCode
	}
	findings := []Finding{newFinding(KindFetchError, reason, details)}

	if v.ConsecutiveFailures == cfg.VariantFailureThreshold {
		findings = append(findings, newFinding(KindVariantUnavailable,
			fmt.Sprintf("variant unavailable after %d consecutive failed fetches", v.ConsecutiveFailures),
			map[string]any{
				"failures":  v.ConsecutiveFailures,
				"threshold": cfg.VariantFailureThreshold,
			}))
	}
	return findings
}

func (v *VariantState) contentChanged(pl *playlist.Media) bool {
	if !v.everFetched {
		return true
	}
	if v.LastMediaSequence == nil || *v.LastMediaSequence != pl.MediaSequenceBase {
		return true
	}
	if len(v.LastSegmentURIs) != len(pl.Segments) {
		return true
	}
	for i, s := range pl.Segments {
		if v.LastSegmentURIs[i] != s.URI {
			return true
		}
	}
	return false
}

// roll replaces the rolling fields with the new window.
func (v *VariantState) roll(pl *playlist.Media, cfg *Config, now time.Time) {
	mseq := pl.MediaSequenceBase
	dseq := pl.DiscontinuitySequenceBase
	v.LastMediaSequence = &mseq
	v.LastDiscontinuitySequence = &dseq

	v.LastSegmentURIs = pl.SegmentURIs()
	v.lastDiscFlags = make([]bool, len(pl.Segments))
	for i, s := range pl.Segments {
		v.lastDiscFlags[i] = s.Discontinuity
	}
	v.lastSegmentCount = len(pl.Segments)

	if pl.Version != nil {
		ver := *pl.Version
		v.LastVersion = &ver
	}
	// The observed type is stored even when absent, so one type flip yields
	// one violation rather than one per poll.
	pt := pl.PlaylistType
	v.LastPlaylistType = &pt
	if len(pl.Segments) > 0 && pl.Segments[0].ProgramDateTime != nil {
		pdt := *pl.Segments[0].ProgramDateTime
		v.LastProgramDateTime = &pdt
	}

	if cfg.SCTE35 {
		v.rollCues(pl, now)
	}
}

// rollCues updates the open-cue set: CUE-OUTs open, CUE-INs close, CUE-OUT-
// CONTs retain.
func (v *VariantState) rollCues(pl *playlist.Media, now time.Time) {
	v.lastCueOutIDs = make(map[string]bool)

	for i := range pl.Segments {
		seg := &pl.Segments[i]
		seq := pl.MediaSequenceBase + int64(i)

		if seg.CueOut {
			id := cueIDFor(seg, seq)
			v.lastCueOutIDs[id] = true
			if _, open := v.OpenCues[id]; !open {
				v.OpenCues[id] = &openCue{OpenedAt: now}
			}
		}
		if seg.CueIn {
			if seg.CueID != "" {
				delete(v.OpenCues, seg.CueID)
			} else {
				// An id-less CUE-IN closes the oldest open cue.
				v.closeOldestCue()
			}
		}
	}
}

func (v *VariantState) closeOldestCue() {
	var oldestID string
	var oldest time.Time
	for id, cue := range v.OpenCues {
		if oldestID == "" || cue.OpenedAt.Before(oldest) {
			oldestID = id
			oldest = cue.OpenedAt
		}
	}
	if oldestID != "" {
		delete(v.OpenCues, oldestID)
	}
}
