package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantState_last_fetch_advances_only_on_change(t *testing.T) {
	cfg := testConfig()
	v := newVariantState("stream_1", "http://example.com/v.m3u8")

	t0 := time.Unix(1000, 0)
	v.update(mediaWindow(10, "a.ts", "b.ts"), cfg, nil, t0)
	assert.Equal(t, t0, v.LastFetchAt)

	// Identical playlist: the change timestamp must hold still.
	t1 := t0.Add(2 * time.Second)
	v.update(mediaWindow(10, "a.ts", "b.ts"), cfg, nil, t1)
	assert.Equal(t, t0, v.LastFetchAt)

	// Evolving playlist: it advances.
	t2 := t0.Add(4 * time.Second)
	v.update(mediaWindow(11, "b.ts", "c.ts"), cfg, nil, t2)
	assert.Equal(t, t2, v.LastFetchAt)
}

func TestVariantState_recovered_event_after_failures(t *testing.T) {
	cfg := testConfig()
	v := newVariantState("stream_1", "http://example.com/v.m3u8")

	v.update(mediaWindow(10, "a.ts"), cfg, nil, time.Unix(1000, 0))

	findings := v.recordFailure("variant fetch failed: HTTP 503", 503, cfg)
	require.Len(t, findings, 1)
	assert.Equal(t, KindFetchError, findings[0].Kind)
	assert.EqualValues(t, 503, findings[0].Details["status"])
	assert.Equal(t, 1, v.ConsecutiveFailures)

	findings = v.update(mediaWindow(11, "b.ts"), cfg, nil, time.Unix(1002, 0))
	require.NotEmpty(t, findings)
	assert.Equal(t, KindVariantRecovered, findings[0].Kind)
	assert.Equal(t, 0, v.ConsecutiveFailures)
}

func TestVariantState_unavailable_on_threshold_transition_only(t *testing.T) {
	cfg := testConfig() // threshold 3
	v := newVariantState("stream_1", "http://example.com/v.m3u8")

	var unavailable int
	for i := 0; i < 5; i++ {
		for _, f := range v.recordFailure("variant fetch failed: timeout", 0, cfg) {
			if f.Kind == KindVariantUnavailable {
				unavailable++
			}
		}
	}
	assert.Equal(t, 1, unavailable, "threshold crossing reports exactly once")
	assert.Equal(t, 5, v.ConsecutiveFailures)
}

func TestVariantState_open_cues_lifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.SCTE35 = true
	v := newVariantState("stream_1", "http://example.com/v.m3u8")

	opened := mediaWindow(10, "a.ts", "b.ts")
	opened.Segments[0].CueOut = true
	opened.Segments[0].CueID = "break-1"
	v.update(opened, cfg, nil, time.Unix(1000, 0))
	require.Contains(t, v.OpenCues, "break-1")

	// CUE-OUT-CONT retains the open cue.
	continued := mediaWindow(11, "b.ts", "c.ts")
	continued.Segments[0].CueOutCont = true
	continued.Segments[0].CueID = "break-1"
	v.update(continued, cfg, nil, time.Unix(1002, 0))
	require.Contains(t, v.OpenCues, "break-1")

	// CUE-IN closes it.
	closed := mediaWindow(12, "c.ts", "d.ts")
	closed.Segments[0].CueIn = true
	closed.Segments[0].CueID = "break-1"
	v.update(closed, cfg, nil, time.Unix(1004, 0))
	assert.NotContains(t, v.OpenCues, "break-1")
	assert.Empty(t, v.OpenCues)
}

func TestVariantState_idless_cue_in_closes_oldest(t *testing.T) {
	cfg := testConfig()
	cfg.SCTE35 = true
	v := newVariantState("stream_1", "http://example.com/v.m3u8")

	first := mediaWindow(10, "a.ts")
	first.Segments[0].CueOut = true
	v.update(first, cfg, nil, time.Unix(1000, 0))
	require.Len(t, v.OpenCues, 1)

	closed := mediaWindow(12, "c.ts")
	closed.Segments[0].CueIn = true
	v.update(closed, cfg, nil, time.Unix(1004, 0))
	assert.Empty(t, v.OpenCues)
}

func TestVariantState_cues_untracked_when_disabled(t *testing.T) {
	cfg := testConfig() // scte35 off
	v := newVariantState("stream_1", "http://example.com/v.m3u8")

	opened := mediaWindow(10, "a.ts")
	opened.Segments[0].CueOut = true
	v.update(opened, cfg, nil, time.Unix(1000, 0))
	assert.Empty(t, v.OpenCues)
}

func TestVariantState_rolls_window_fields(t *testing.T) {
	cfg := testConfig()
	v := newVariantState("stream_1", "http://example.com/v.m3u8")

	ver := int64(4)
	pdt := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	pl := mediaWindow(42, "a.ts", "b.ts")
	pl.Version = &ver
	pl.DiscontinuitySequenceBase = 3
	pl.Segments[0].ProgramDateTime = &pdt

	v.update(pl, cfg, nil, time.Unix(1000, 0))

	require.NotNil(t, v.LastMediaSequence)
	assert.EqualValues(t, 42, *v.LastMediaSequence)
	require.NotNil(t, v.LastDiscontinuitySequence)
	assert.EqualValues(t, 3, *v.LastDiscontinuitySequence)
	assert.Equal(t, []string{"a.ts", "b.ts"}, v.LastSegmentURIs)
	require.NotNil(t, v.LastVersion)
	assert.EqualValues(t, 4, *v.LastVersion)
	require.NotNil(t, v.LastProgramDateTime)
	assert.True(t, v.LastProgramDateTime.Equal(pdt))
}
