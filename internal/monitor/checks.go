package monitor

import (
	"fmt"
	"math"
	"strings"
	"time"

	"hls-monitor/internal/playlist"
)

// Check is one entry of the per-variant check registry. Run is a pure
// function of (previous state, new playlist, config); checks never mutate the
// state and are independent of each other, so the registry order exists only
// to fix the emission order within a poll cycle.
type Check struct {
	Kind Kind
	Run  func(prev *VariantState, pl *playlist.Media, cfg *Config) []Finding
}

// defaultChecks returns the per-variant checks in catalogue order. SCTE-35
// checks join only when enabled.
func defaultChecks(cfg *Config) []Check {
	checks := []Check{
		{KindTargetDurationExceeded, checkTargetDuration},
		{KindSegmentDurationAnomaly, checkSegmentDurationAnomaly},
		{KindPlaylistGap, checkPlaylistGap},
		{KindPlaylistTypeViolation, checkPlaylistType},
		{KindVersionViolation, checkVersion},
		{KindMediaSequenceRegression, checkMediaSequenceRegression},
		{KindMediaSequenceGap, checkMediaSequenceGap},
		{KindDiscontinuitySequenceMismatch, checkDiscontinuitySequence},
		{KindSegmentContinuityBreak, checkSegmentContinuity},
		{KindPlaylistSizeShrank, checkPlaylistSizeShrank},
		{KindPlaylistContentChanged, checkPlaylistContentChanged},
		{KindProgramDateTimeJump, checkProgramDateTimeJump},
		{KindDateRangeViolation, checkDateRange},
	}
	if cfg.SCTE35 {
		checks = append(checks,
			Check{KindScte35OrphanCueIn, checkScte35OrphanCueIn},
			Check{KindScte35MissingContinuation, checkScte35MissingContinuation},
		)
	}
	return checks
}

func checkTargetDuration(_ *VariantState, pl *playlist.Media, cfg *Config) []Finding {
	if pl.TargetDuration <= 0 {
		return nil
	}
	limit := float64(pl.TargetDuration) + cfg.TargetDurationTolerance

	var findings []Finding
	for _, seg := range pl.Segments {
		if seg.Duration > limit {
			findings = append(findings, newFinding(KindTargetDurationExceeded,
				fmt.Sprintf("segment %s runs %.3fs, over target duration %ds (+%.1fs tolerance)",
					seg.URI, seg.Duration, pl.TargetDuration, cfg.TargetDurationTolerance),
				map[string]any{
					"segment_uri":     seg.URI,
					"duration":        seg.Duration,
					"target_duration": pl.TargetDuration,
					"tolerance":       cfg.TargetDurationTolerance,
				}))
		}
	}
	return findings
}

func checkSegmentDurationAnomaly(_ *VariantState, pl *playlist.Media, cfg *Config) []Finding {
	if pl.TargetDuration <= 0 {
		return nil
	}
	floor := float64(pl.TargetDuration) * cfg.SegmentDurationAnomalyRatio

	var findings []Finding
	for _, seg := range pl.Segments {
		if seg.Duration < floor {
			findings = append(findings, newFinding(KindSegmentDurationAnomaly,
				fmt.Sprintf("segment %s runs %.3fs, under %.1f x target duration %ds",
					seg.URI, seg.Duration, cfg.SegmentDurationAnomalyRatio, pl.TargetDuration),
				map[string]any{
					"segment_uri":     seg.URI,
					"duration":        seg.Duration,
					"target_duration": pl.TargetDuration,
					"ratio":           cfg.SegmentDurationAnomalyRatio,
				}))
		}
	}
	return findings
}

func checkPlaylistGap(_ *VariantState, pl *playlist.Media, _ *Config) []Finding {
	var findings []Finding
	for i, seg := range pl.Segments {
		if seg.Gap {
			findings = append(findings, newFinding(KindPlaylistGap,
				fmt.Sprintf("segment %s at sequence %d is marked as a gap",
					seg.URI, pl.MediaSequenceBase+int64(i)),
				map[string]any{
					"segment_uri": seg.URI,
					"sequence":    pl.MediaSequenceBase + int64(i),
				}))
		}
	}
	return findings
}

func checkPlaylistType(prev *VariantState, pl *playlist.Media, _ *Config) []Finding {
	if prev.LastPlaylistType == nil || *prev.LastPlaylistType == "" {
		return nil
	}
	if pl.PlaylistType == *prev.LastPlaylistType {
		return nil
	}
	return []Finding{newFinding(KindPlaylistTypeViolation,
		fmt.Sprintf("playlist type changed from %s to %s",
			typeLabel(*prev.LastPlaylistType), typeLabel(pl.PlaylistType)),
		map[string]any{
			"expected": typeLabel(*prev.LastPlaylistType),
			"observed": typeLabel(pl.PlaylistType),
		})}
}

func typeLabel(t playlist.Type) string {
	if t == "" {
		return "absent"
	}
	return string(t)
}

func checkVersion(prev *VariantState, pl *playlist.Media, _ *Config) []Finding {
	if prev.LastVersion == nil || pl.Version == nil || *pl.Version == *prev.LastVersion {
		return nil
	}
	return []Finding{newFinding(KindVersionViolation,
		fmt.Sprintf("EXT-X-VERSION changed from %d to %d", *prev.LastVersion, *pl.Version),
		map[string]any{
			"expected": *prev.LastVersion,
			"observed": *pl.Version,
		})}
}

func checkMediaSequenceRegression(prev *VariantState, pl *playlist.Media, _ *Config) []Finding {
	if prev.LastMediaSequence == nil || pl.MediaSequenceBase >= *prev.LastMediaSequence {
		return nil
	}
	return []Finding{newFinding(KindMediaSequenceRegression,
		fmt.Sprintf("media sequence went backwards: expected >= %d, got %d",
			*prev.LastMediaSequence, pl.MediaSequenceBase),
		map[string]any{
			"expected": *prev.LastMediaSequence,
			"observed": pl.MediaSequenceBase,
		})}
}

func checkMediaSequenceGap(prev *VariantState, pl *playlist.Media, cfg *Config) []Finding {
	if prev.LastMediaSequence == nil {
		return nil
	}
	diff := pl.MediaSequenceBase - *prev.LastMediaSequence
	if diff <= cfg.MseqGapThreshold {
		return nil
	}
	return []Finding{newFinding(KindMediaSequenceGap,
		fmt.Sprintf("media sequence jumped forward by %d (from %d to %d), over threshold %d",
			diff, *prev.LastMediaSequence, pl.MediaSequenceBase, cfg.MseqGapThreshold),
		map[string]any{
			"expected":  *prev.LastMediaSequence,
			"observed":  pl.MediaSequenceBase,
			"threshold": cfg.MseqGapThreshold,
		})}
}

// checkDiscontinuitySequence verifies that the discontinuity sequence base
// advanced by exactly the number of discontinuity markers that slid out of
// the window since the previous poll.
func checkDiscontinuitySequence(prev *VariantState, pl *playlist.Media, _ *Config) []Finding {
	if prev.LastMediaSequence == nil || prev.LastDiscontinuitySequence == nil {
		return nil
	}
	slid := pl.MediaSequenceBase - *prev.LastMediaSequence
	if slid <= 0 || slid > int64(len(prev.lastDiscFlags)) {
		return nil
	}

	var slidOut int64
	for _, disc := range prev.lastDiscFlags[:slid] {
		if disc {
			slidOut++
		}
	}

	expected := *prev.LastDiscontinuitySequence + slidOut
	if pl.DiscontinuitySequenceBase == expected {
		return nil
	}
	return []Finding{newFinding(KindDiscontinuitySequenceMismatch,
		fmt.Sprintf("discontinuity sequence expected %d (%d markers slid out), got %d",
			expected, slidOut, pl.DiscontinuitySequenceBase),
		map[string]any{
			"expected": expected,
			"observed": pl.DiscontinuitySequenceBase,
			"slid_out": slidOut,
		})}
}

// checkSegmentContinuity verifies that when the window slides forward, the
// new first segment is the URI the previous window predicted at that offset.
func checkSegmentContinuity(prev *VariantState, pl *playlist.Media, _ *Config) []Finding {
	if prev.LastMediaSequence == nil || len(prev.LastSegmentURIs) == 0 || len(pl.Segments) == 0 {
		return nil
	}
	slid := pl.MediaSequenceBase - *prev.LastMediaSequence
	if slid <= 0 || slid >= int64(len(prev.LastSegmentURIs)) {
		return nil
	}

	expected := prev.LastSegmentURIs[slid]
	observed := pl.Segments[0].URI
	if stripQuery(expected) == stripQuery(observed) {
		return nil
	}
	return []Finding{newFinding(KindSegmentContinuityBreak,
		fmt.Sprintf("expected first segment of window %d to be %q, got %q",
			pl.MediaSequenceBase, expected, observed),
		map[string]any{
			"expected": expected,
			"observed": observed,
			"offset":   0,
		})}
}

// stripQuery drops query strings so rotating CDN tokens do not read as
// content changes.
func stripQuery(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}

func checkPlaylistSizeShrank(prev *VariantState, pl *playlist.Media, _ *Config) []Finding {
	if prev.LastMediaSequence == nil || pl.MediaSequenceBase != *prev.LastMediaSequence {
		return nil
	}
	if len(pl.Segments) >= len(prev.LastSegmentURIs) {
		return nil
	}
	return []Finding{newFinding(KindPlaylistSizeShrank,
		fmt.Sprintf("segment count shrank from %d to %d at unchanged media sequence %d",
			len(prev.LastSegmentURIs), len(pl.Segments), pl.MediaSequenceBase),
		map[string]any{
			"expected": len(prev.LastSegmentURIs),
			"observed": len(pl.Segments),
			"sequence": pl.MediaSequenceBase,
		})}
}

func checkPlaylistContentChanged(prev *VariantState, pl *playlist.Media, _ *Config) []Finding {
	if prev.LastMediaSequence == nil || pl.MediaSequenceBase != *prev.LastMediaSequence {
		return nil
	}
	n := len(prev.LastSegmentURIs)
	if len(pl.Segments) < n {
		n = len(pl.Segments)
	}
	for i := 0; i < n; i++ {
		expected := prev.LastSegmentURIs[i]
		observed := pl.Segments[i].URI
		if stripQuery(expected) != stripQuery(observed) {
			return []Finding{newFinding(KindPlaylistContentChanged,
				fmt.Sprintf("segment at index %d changed from %q to %q at unchanged media sequence %d",
					i, expected, observed, pl.MediaSequenceBase),
				map[string]any{
					"index":    i,
					"expected": expected,
					"observed": observed,
					"sequence": pl.MediaSequenceBase,
				})}
		}
	}
	return nil
}

// checkProgramDateTimeJump compares PDT deltas between adjacent stamped
// segments against the advertised segment duration.
func checkProgramDateTimeJump(_ *VariantState, pl *playlist.Media, _ *Config) []Finding {
	tolerance := math.Max(1.0, 0.5*float64(pl.TargetDuration))

	var findings []Finding
	for i := 0; i+1 < len(pl.Segments); i++ {
		a, b := &pl.Segments[i], &pl.Segments[i+1]
		if a.ProgramDateTime == nil || b.ProgramDateTime == nil {
			continue
		}
		observedGap := b.ProgramDateTime.Sub(*a.ProgramDateTime).Seconds()
		drift := math.Abs(observedGap - a.Duration)
		if drift > tolerance {
			findings = append(findings, newFinding(KindProgramDateTimeJump,
				fmt.Sprintf("PDT gap after %s is %.3fs, segment duration is %.3fs (drift %.3fs over %.1fs tolerance)",
					a.URI, observedGap, a.Duration, drift, tolerance),
				map[string]any{
					"segment_uri":  a.URI,
					"expected_gap": a.Duration,
					"observed_gap": observedGap,
					"tolerance":    tolerance,
				}))
		}
	}
	return findings
}

func checkDateRange(_ *VariantState, pl *playlist.Media, _ *Config) []Finding {
	var findings []Finding
	seen := make(map[string]string)

	for _, seg := range pl.Segments {
		for _, dr := range seg.DateRanges {
			switch {
			case dr.ID == "":
				findings = append(findings, newFinding(KindDateRangeViolation,
					"EXT-X-DATERANGE without ID attribute",
					map[string]any{"segment_uri": seg.URI}))
				continue
			case dr.StartDate == nil:
				findings = append(findings, newFinding(KindDateRangeViolation,
					fmt.Sprintf("EXT-X-DATERANGE %q without START-DATE", dr.ID),
					map[string]any{"id": dr.ID}))
				continue
			}

			if prevRaw, dup := seen[dr.ID]; dup && prevRaw != dr.Raw {
				findings = append(findings, newFinding(KindDateRangeViolation,
					fmt.Sprintf("duplicate EXT-X-DATERANGE id %q with conflicting attributes", dr.ID),
					map[string]any{"id": dr.ID}))
			}
			seen[dr.ID] = dr.Raw

			if dr.Duration != nil && dr.EndDate != nil {
				implied := dr.StartDate.Add(time.Duration(*dr.Duration * float64(time.Second)))
				if math.Abs(implied.Sub(*dr.EndDate).Seconds()) > 0.5 {
					findings = append(findings, newFinding(KindDateRangeViolation,
						fmt.Sprintf("EXT-X-DATERANGE %q DURATION conflicts with END-DATE", dr.ID),
						map[string]any{
							"id":       dr.ID,
							"duration": *dr.Duration,
							"end_date": dr.EndDate.UTC().Format(time.RFC3339),
						}))
				}
			}
		}
	}
	return findings
}

// checkScte35OrphanCueIn flags CUE-IN markers with no matching open CUE-OUT,
// either from state or from earlier in the same window.
func checkScte35OrphanCueIn(prev *VariantState, pl *playlist.Media, _ *Config) []Finding {
	open := make(map[string]bool, len(prev.OpenCues))
	for id := range prev.OpenCues {
		open[id] = true
	}

	var findings []Finding
	for i := range pl.Segments {
		seg := &pl.Segments[i]
		seq := pl.MediaSequenceBase + int64(i)

		if seg.CueOut {
			open[cueIDFor(seg, seq)] = true
			continue
		}
		if !seg.CueIn {
			continue
		}

		switch {
		case seg.CueID != "":
			if !open[seg.CueID] {
				findings = append(findings, newFinding(KindScte35OrphanCueIn,
					fmt.Sprintf("CUE-IN for cue %q with no open CUE-OUT at sequence %d", seg.CueID, seq),
					map[string]any{"cue_id": seg.CueID, "segment_uri": seg.URI}))
			} else {
				delete(open, seg.CueID)
			}
		case len(open) == 0:
			findings = append(findings, newFinding(KindScte35OrphanCueIn,
				fmt.Sprintf("CUE-IN with no open CUE-OUT at sequence %d", seq),
				map[string]any{"segment_uri": seg.URI}))
		default:
			// Id-less CUE-IN closes one open cue.
			for id := range open {
				delete(open, id)
				break
			}
		}
	}
	return findings
}

// checkScte35MissingContinuation flags cues whose CUE-OUT was visible in the
// previous window but vanished without a CUE-IN or CUE-OUT-CONT.
func checkScte35MissingContinuation(prev *VariantState, pl *playlist.Media, _ *Config) []Finding {
	if len(prev.lastCueOutIDs) == 0 {
		return nil
	}
	if prev.LastMediaSequence == nil || pl.MediaSequenceBase <= *prev.LastMediaSequence {
		return nil
	}

	present := make(map[string]bool)
	anonContinuation := false
	for i := range pl.Segments {
		seg := &pl.Segments[i]
		if !seg.CueOut && !seg.CueIn && !seg.CueOutCont {
			continue
		}
		if seg.CueID != "" {
			present[seg.CueID] = true
		} else {
			anonContinuation = true
		}
	}

	var findings []Finding
	for id := range prev.lastCueOutIDs {
		if present[id] || anonContinuation {
			continue
		}
		findings = append(findings, newFinding(KindScte35MissingContinuation,
			fmt.Sprintf("CUE-OUT %q left the window without CUE-IN or CUE-OUT-CONT", id),
			map[string]any{"cue_id": id}))
	}
	return findings
}
