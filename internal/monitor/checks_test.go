package monitor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hls-monitor/internal/playlist"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	return &cfg
}

// mediaWindow builds a media playlist with 6s segments and target duration 6.
func mediaWindow(base int64, uris ...string) *playlist.Media {
	m := &playlist.Media{
		URL:               "http://example.com/v.m3u8",
		TargetDuration:    6,
		MediaSequenceBase: base,
	}
	for _, u := range uris {
		m.Segments = append(m.Segments, playlist.Segment{URI: u, Duration: 6.0})
	}
	return m
}

// stateAfter rolls a fresh variant state over the playlist, giving checks a
// populated "previous poll".
func stateAfter(pl *playlist.Media, cfg *Config) *VariantState {
	v := newVariantState("stream_1", pl.URL)
	v.update(pl, cfg, nil, time.Unix(1000, 0))
	return v
}

func kinds(findings []Finding) []Kind {
	out := make([]Kind, len(findings))
	for i, f := range findings {
		out[i] = f.Kind
	}
	return out
}

func TestCheck_media_sequence_regression(t *testing.T) {
	cfg := testConfig()
	prev := stateAfter(mediaWindow(100, "a.ts", "b.ts", "c.ts"), cfg)

	findings := checkMediaSequenceRegression(prev, mediaWindow(98, "x.ts", "y.ts", "z.ts"), cfg)
	require.Len(t, findings, 1)
	assert.Equal(t, KindMediaSequenceRegression, findings[0].Kind)
	assert.EqualValues(t, 100, findings[0].Details["expected"])
	assert.EqualValues(t, 98, findings[0].Details["observed"])
}

func TestCheck_media_sequence_no_regression_on_advance(t *testing.T) {
	cfg := testConfig()
	prev := stateAfter(mediaWindow(100, "a.ts", "b.ts"), cfg)

	assert.Empty(t, checkMediaSequenceRegression(prev, mediaWindow(100, "a.ts", "b.ts"), cfg))
	assert.Empty(t, checkMediaSequenceRegression(prev, mediaWindow(101, "b.ts", "c.ts"), cfg))
}

func TestCheck_media_sequence_gap(t *testing.T) {
	cfg := testConfig() // threshold 5
	prev := stateAfter(mediaWindow(10, "a.ts", "b.ts"), cfg)

	assert.Empty(t, checkMediaSequenceGap(prev, mediaWindow(15, "x.ts"), cfg))

	findings := checkMediaSequenceGap(prev, mediaWindow(16, "x.ts"), cfg)
	require.Len(t, findings, 1)
	assert.EqualValues(t, 10, findings[0].Details["expected"])
	assert.EqualValues(t, 16, findings[0].Details["observed"])
	assert.EqualValues(t, 5, findings[0].Details["threshold"])
}

func TestCheck_segment_continuity_break(t *testing.T) {
	cfg := testConfig()
	prev := stateAfter(mediaWindow(10, "s10.ts", "s11.ts", "s12.ts"), cfg)

	findings := checkSegmentContinuity(prev, mediaWindow(11, "sX.ts", "s12.ts", "s13.ts"), cfg)
	require.Len(t, findings, 1)
	assert.Equal(t, KindSegmentContinuityBreak, findings[0].Kind)
	assert.Equal(t, "s11.ts", findings[0].Details["expected"])
	assert.Equal(t, "sX.ts", findings[0].Details["observed"])
	assert.EqualValues(t, 0, findings[0].Details["offset"])
}

func TestCheck_segment_continuity_clean_slide(t *testing.T) {
	cfg := testConfig()
	prev := stateAfter(mediaWindow(10, "s10.ts", "s11.ts", "s12.ts"), cfg)

	assert.Empty(t, checkSegmentContinuity(prev, mediaWindow(11, "s11.ts", "s12.ts", "s13.ts"), cfg))
}

func TestCheck_segment_continuity_ignores_query_rotation(t *testing.T) {
	cfg := testConfig()
	prev := stateAfter(mediaWindow(10, "s10.ts?tok=1", "s11.ts?tok=1"), cfg)

	assert.Empty(t, checkSegmentContinuity(prev, mediaWindow(11, "s11.ts?tok=2", "s12.ts?tok=2"), cfg))
}

func TestCheck_segment_continuity_skips_full_window_slide(t *testing.T) {
	cfg := testConfig()
	prev := stateAfter(mediaWindow(10, "s10.ts", "s11.ts"), cfg)

	assert.Empty(t, checkSegmentContinuity(prev, mediaWindow(14, "s14.ts", "s15.ts"), cfg))
}

func TestCheck_target_duration_tolerance(t *testing.T) {
	pl := mediaWindow(1, "a.ts")
	pl.Segments[0].Duration = 7.2

	cfg := testConfig() // tolerance 0.5
	findings := checkTargetDuration(nil, pl, cfg)
	require.Len(t, findings, 1)
	assert.Equal(t, "a.ts", findings[0].Details["segment_uri"])
	assert.EqualValues(t, 7.2, findings[0].Details["duration"])

	cfg.TargetDurationTolerance = 1.5
	assert.Empty(t, checkTargetDuration(nil, pl, cfg))
}

func TestCheck_segment_duration_anomaly(t *testing.T) {
	pl := mediaWindow(1, "a.ts", "b.ts")
	pl.Segments[0].Duration = 2.0 // under 6 * 0.5

	findings := checkSegmentDurationAnomaly(nil, pl, testConfig())
	require.Len(t, findings, 1)
	assert.Equal(t, "a.ts", findings[0].Details["segment_uri"])
}

func TestCheck_playlist_gap(t *testing.T) {
	pl := mediaWindow(40, "a.ts", "b.ts")
	pl.Segments[1].Gap = true

	findings := checkPlaylistGap(nil, pl, testConfig())
	require.Len(t, findings, 1)
	assert.Equal(t, "b.ts", findings[0].Details["segment_uri"])
	assert.EqualValues(t, 41, findings[0].Details["sequence"])
}

func TestCheck_playlist_type_violation(t *testing.T) {
	cfg := testConfig()
	evented := mediaWindow(1, "a.ts")
	evented.PlaylistType = playlist.TypeEvent
	prev := stateAfter(evented, cfg)

	vod := mediaWindow(1, "a.ts")
	vod.PlaylistType = playlist.TypeVOD
	findings := checkPlaylistType(prev, vod, cfg)
	require.Len(t, findings, 1)
	assert.Equal(t, "EVENT", findings[0].Details["expected"])
	assert.Equal(t, "VOD", findings[0].Details["observed"])

	// A previously absent type never triggers.
	prevAbsent := stateAfter(mediaWindow(1, "a.ts"), cfg)
	assert.Empty(t, checkPlaylistType(prevAbsent, vod, cfg))
}

func TestCheck_version_violation(t *testing.T) {
	cfg := testConfig()
	v3 := int64(3)
	withVer := mediaWindow(1, "a.ts")
	withVer.Version = &v3
	prev := stateAfter(withVer, cfg)

	v6 := int64(6)
	next := mediaWindow(1, "a.ts")
	next.Version = &v6
	findings := checkVersion(prev, next, cfg)
	require.Len(t, findings, 1)
	assert.EqualValues(t, 3, findings[0].Details["expected"])
	assert.EqualValues(t, 6, findings[0].Details["observed"])

	assert.Empty(t, checkVersion(prev, withVer, cfg))
}

func TestCheck_playlist_size_shrank(t *testing.T) {
	cfg := testConfig()
	prev := stateAfter(mediaWindow(7, "a.ts", "b.ts", "c.ts"), cfg)

	findings := checkPlaylistSizeShrank(prev, mediaWindow(7, "a.ts", "b.ts"), cfg)
	require.Len(t, findings, 1)
	assert.EqualValues(t, 3, findings[0].Details["expected"])
	assert.EqualValues(t, 2, findings[0].Details["observed"])

	// Different base: not this check's business.
	assert.Empty(t, checkPlaylistSizeShrank(prev, mediaWindow(8, "b.ts"), cfg))
}

func TestCheck_playlist_content_changed(t *testing.T) {
	cfg := testConfig()
	prev := stateAfter(mediaWindow(7, "a.ts", "b.ts"), cfg)

	findings := checkPlaylistContentChanged(prev, mediaWindow(7, "a.ts", "q.ts"), cfg)
	require.Len(t, findings, 1)
	assert.EqualValues(t, 1, findings[0].Details["index"])
	assert.Equal(t, "b.ts", findings[0].Details["expected"])
	assert.Equal(t, "q.ts", findings[0].Details["observed"])

	assert.Empty(t, checkPlaylistContentChanged(prev, mediaWindow(7, "a.ts", "b.ts"), cfg))
}

func TestCheck_discontinuity_sequence(t *testing.T) {
	cfg := testConfig()
	first := mediaWindow(10, "s10.ts", "s11.ts", "s12.ts")
	first.Segments[1].Discontinuity = true // boundary slides out with s11
	first.DiscontinuitySequenceBase = 4
	prev := stateAfter(first, cfg)

	// Window slides past s10 and s11: one marker slid out, dseq must be 5.
	good := mediaWindow(12, "s12.ts", "s13.ts", "s14.ts")
	good.DiscontinuitySequenceBase = 5
	assert.Empty(t, checkDiscontinuitySequence(prev, good, cfg))

	bad := mediaWindow(12, "s12.ts", "s13.ts", "s14.ts")
	bad.DiscontinuitySequenceBase = 4
	findings := checkDiscontinuitySequence(prev, bad, cfg)
	require.Len(t, findings, 1)
	assert.EqualValues(t, 5, findings[0].Details["expected"])
	assert.EqualValues(t, 4, findings[0].Details["observed"])
	assert.EqualValues(t, 1, findings[0].Details["slid_out"])
}

func TestCheck_discontinuity_sequence_no_slide_no_check(t *testing.T) {
	cfg := testConfig()
	first := mediaWindow(10, "s10.ts", "s11.ts")
	first.DiscontinuitySequenceBase = 4
	prev := stateAfter(first, cfg)

	same := mediaWindow(10, "s10.ts", "s11.ts")
	same.DiscontinuitySequenceBase = 7
	assert.Empty(t, checkDiscontinuitySequence(prev, same, cfg))
}

func TestCheck_program_date_time_jump(t *testing.T) {
	base := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	pl := mediaWindow(1, "a.ts", "b.ts", "c.ts")
	t0 := base
	t1 := base.Add(6 * time.Second)
	t2 := base.Add(30 * time.Second) // 24s after t1 vs 6s duration
	pl.Segments[0].ProgramDateTime = &t0
	pl.Segments[1].ProgramDateTime = &t1
	pl.Segments[2].ProgramDateTime = &t2

	findings := checkProgramDateTimeJump(nil, pl, testConfig())
	require.Len(t, findings, 1)
	assert.Equal(t, "b.ts", findings[0].Details["segment_uri"])
	assert.EqualValues(t, 24.0, findings[0].Details["observed_gap"])
}

func TestCheck_program_date_time_within_tolerance(t *testing.T) {
	base := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	pl := mediaWindow(1, "a.ts", "b.ts")
	t0 := base
	t1 := base.Add(8 * time.Second) // 2s drift, tolerance max(1, 3) = 3
	pl.Segments[0].ProgramDateTime = &t0
	pl.Segments[1].ProgramDateTime = &t1

	assert.Empty(t, checkProgramDateTimeJump(nil, pl, testConfig()))
}

func TestCheck_daterange_violations(t *testing.T) {
	cfg := testConfig()
	start := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)

	missingID := mediaWindow(1, "a.ts")
	missingID.Segments[0].DateRanges = []playlist.DateRange{{StartDate: &start, Raw: "x"}}
	findings := checkDateRange(nil, missingID, cfg)
	require.Len(t, findings, 1)

	missingStart := mediaWindow(1, "a.ts")
	missingStart.Segments[0].DateRanges = []playlist.DateRange{{ID: "ad-1", Raw: "y"}}
	findings = checkDateRange(nil, missingStart, cfg)
	require.Len(t, findings, 1)

	dur := 30.0
	conflictEnd := start.Add(45 * time.Second)
	conflicting := mediaWindow(1, "a.ts")
	conflicting.Segments[0].DateRanges = []playlist.DateRange{{
		ID: "ad-2", StartDate: &start, Duration: &dur, EndDate: &conflictEnd, Raw: "z",
	}}
	findings = checkDateRange(nil, conflicting, cfg)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Message, "DURATION conflicts")

	okEnd := start.Add(30 * time.Second)
	consistent := mediaWindow(1, "a.ts")
	consistent.Segments[0].DateRanges = []playlist.DateRange{{
		ID: "ad-3", StartDate: &start, Duration: &dur, EndDate: &okEnd, Raw: "w",
	}}
	assert.Empty(t, checkDateRange(nil, consistent, cfg))
}

func TestCheck_daterange_duplicate_id(t *testing.T) {
	start := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	pl := mediaWindow(1, "a.ts", "b.ts")
	pl.Segments[0].DateRanges = []playlist.DateRange{{ID: "ad-1", StartDate: &start, Raw: "one"}}
	pl.Segments[1].DateRanges = []playlist.DateRange{{ID: "ad-1", StartDate: &start, Raw: "two"}}

	findings := checkDateRange(nil, pl, testConfig())
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Message, "duplicate")
}

func TestCheck_scte35_orphan_cue_in(t *testing.T) {
	cfg := testConfig()
	cfg.SCTE35 = true
	prev := newVariantState("stream_1", "http://example.com/v.m3u8")

	pl := mediaWindow(5, "a.ts")
	pl.Segments[0].CueIn = true

	findings := checkScte35OrphanCueIn(prev, pl, cfg)
	require.Len(t, findings, 1)
	assert.Equal(t, KindScte35OrphanCueIn, findings[0].Kind)
}

func TestCheck_scte35_cue_in_matches_same_window_cue_out(t *testing.T) {
	cfg := testConfig()
	cfg.SCTE35 = true
	prev := newVariantState("stream_1", "http://example.com/v.m3u8")

	pl := mediaWindow(5, "a.ts", "b.ts")
	pl.Segments[0].CueOut = true
	pl.Segments[1].CueIn = true

	assert.Empty(t, checkScte35OrphanCueIn(prev, pl, cfg))
}

func TestCheck_scte35_cue_in_matches_open_state(t *testing.T) {
	cfg := testConfig()
	cfg.SCTE35 = true

	opened := mediaWindow(5, "a.ts")
	opened.Segments[0].CueOut = true
	opened.Segments[0].CueID = "break-1"
	prev := stateAfter(opened, cfg)
	require.Contains(t, prev.OpenCues, "break-1")

	pl := mediaWindow(6, "b.ts")
	pl.Segments[0].CueIn = true
	pl.Segments[0].CueID = "break-1"
	assert.Empty(t, checkScte35OrphanCueIn(prev, pl, cfg))
}

func TestCheck_scte35_missing_continuation(t *testing.T) {
	cfg := testConfig()
	cfg.SCTE35 = true

	opened := mediaWindow(5, "a.ts", "b.ts")
	opened.Segments[0].CueOut = true
	opened.Segments[0].CueID = "break-1"
	prev := stateAfter(opened, cfg)

	// CUE-OUT slid out, nothing continues or closes it.
	vanished := mediaWindow(7, "c.ts", "d.ts")
	findings := checkScte35MissingContinuation(prev, vanished, cfg)
	require.Len(t, findings, 1)
	assert.Equal(t, "break-1", findings[0].Details["cue_id"])

	// A CUE-OUT-CONT for the cue suppresses it.
	continued := mediaWindow(7, "c.ts", "d.ts")
	continued.Segments[0].CueOutCont = true
	continued.Segments[0].CueID = "break-1"
	assert.Empty(t, checkScte35MissingContinuation(prev, continued, cfg))
}

func TestDefaultChecks_order_and_scte35_gating(t *testing.T) {
	plain := defaultChecks(testConfig())
	var plainKinds []Kind
	for _, c := range plain {
		plainKinds = append(plainKinds, c.Kind)
	}
	assert.Equal(t, []Kind{
		KindTargetDurationExceeded,
		KindSegmentDurationAnomaly,
		KindPlaylistGap,
		KindPlaylistTypeViolation,
		KindVersionViolation,
		KindMediaSequenceRegression,
		KindMediaSequenceGap,
		KindDiscontinuitySequenceMismatch,
		KindSegmentContinuityBreak,
		KindPlaylistSizeShrank,
		KindPlaylistContentChanged,
		KindProgramDateTimeJump,
		KindDateRangeViolation,
	}, plainKinds)

	withCues := testConfig()
	withCues.SCTE35 = true
	assert.Len(t, defaultChecks(withCues), len(plain)+2)
}

func TestChecks_no_regression_for_monotonic_sequences(t *testing.T) {
	cfg := testConfig()
	v := newVariantState("stream_1", "http://example.com/v.m3u8")
	checks := defaultChecks(cfg)

	base := int64(100)
	for poll := 0; poll < 10; poll++ {
		pl := mediaWindow(base,
			fmt.Sprintf("s%d.ts", base),
			fmt.Sprintf("s%d.ts", base+1),
			fmt.Sprintf("s%d.ts", base+2))
		findings := v.update(pl, cfg, checks, time.Unix(int64(1000+poll), 0))
		assert.NotContains(t, kinds(findings), KindMediaSequenceRegression,
			"poll %d must not regress", poll)
		base++ // non-decreasing
	}
}
