package monitor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ringEntry(msg string) Finding {
	return newFinding(KindFetchError, msg, nil)
}

func TestFindingRing_within_capacity(t *testing.T) {
	r := newFindingRing(5)
	r.Push(ringEntry("e1"))
	r.Push(ringEntry("e2"))
	r.Push(ringEntry("e3"))

	assert.Equal(t, 3, r.Len())
	assert.EqualValues(t, 0, r.Dropped())
}

func TestFindingRing_evicts_oldest_and_counts_drop(t *testing.T) {
	r := newFindingRing(3)
	for i := 1; i <= 5; i++ {
		r.Push(ringEntry(fmt.Sprintf("e%d", i)))
	}

	assert.Equal(t, 3, r.Len())
	assert.EqualValues(t, 2, r.Dropped())

	chrono := r.Chronological()
	require.Len(t, chrono, 3)
	assert.Equal(t, "e3", chrono[0].Message)
	assert.Equal(t, "e5", chrono[2].Message)
}

func TestFindingRing_snapshot_newest_first(t *testing.T) {
	r := newFindingRing(5)
	r.Push(ringEntry("e1"))
	r.Push(ringEntry("e2"))
	r.Push(ringEntry("e3"))

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "e3", snap[0].Message)
	assert.Equal(t, "e1", snap[2].Message)
}

func TestFindingRing_clear_keeps_drop_counter(t *testing.T) {
	r := newFindingRing(1)
	r.Push(ringEntry("e1"))
	r.Push(ringEntry("e2"))
	require.EqualValues(t, 1, r.Dropped())

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.EqualValues(t, 1, r.Dropped())
}

func TestFindingRing_dropped_equals_inserts_minus_retained(t *testing.T) {
	const capacity, inserts = 7, 100
	r := newFindingRing(capacity)
	for i := 0; i < inserts; i++ {
		r.Push(ringEntry(fmt.Sprintf("e%d", i)))
	}
	assert.EqualValues(t, inserts-capacity, r.Dropped())
	assert.Equal(t, capacity, r.Len())
}
