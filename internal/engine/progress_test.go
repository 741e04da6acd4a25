package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func progressFragments(sizes ...int64) []*Fragment {
	fragments := make([]*Fragment, len(sizes))
	var offset int64
	for i, size := range sizes {
		fragments[i] = &Fragment{Index: i, Start: offset, End: offset + size}
		offset += size
	}
	return fragments
}

func TestAggregatorSnapshotTotals(t *testing.T) {
	agg := NewAggregator(progressFragments(1000, 1000, 2000))

	now := time.Now()
	agg.Ingest(0, 500, now)
	agg.Ingest(1, 1000, now)
	agg.Ingest(2, 100, now)

	snap := agg.Snapshot()
	require.Len(t, snap.Fragments, 3)
	assert.EqualValues(t, 1600, snap.Downloaded)
	assert.EqualValues(t, 4000, snap.Total)
	assert.InDelta(t, 40.0, snap.Percent, 0.01)
	assert.InDelta(t, 50.0, snap.Fragments[0].Percent, 0.01)
	assert.InDelta(t, 100.0, snap.Fragments[1].Percent, 0.01)
}

func TestAggregatorMonotonicUnderConcurrency(t *testing.T) {
	agg := NewAggregator(progressFragments(1<<20, 1<<20, 1<<20, 1<<20))

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			for j := 0; j < 5000; j++ {
				agg.Ingest(index, 50, time.Now())
			}
		}(i)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	var last int64
	for {
		snap := agg.Snapshot()
		require.GreaterOrEqual(t, snap.Downloaded, last,
			"aggregate bytes must never observably decrease")
		last = snap.Downloaded
		select {
		case <-done:
			assert.EqualValues(t, 4*5000*50, agg.Snapshot().Downloaded)
			return
		default:
		}
	}
}

func TestAggregatorSpeedIsSumOfFragments(t *testing.T) {
	agg := NewAggregator(progressFragments(1<<20, 1<<20))

	// Two samples per fragment, one second apart, both inside the window.
	before := time.Now().Add(-time.Second)
	agg.Ingest(0, 1000, before)
	agg.Ingest(1, 3000, before)
	agg.Ingest(0, 1000, time.Now())
	agg.Ingest(1, 3000, time.Now())

	snap := agg.Snapshot()
	assert.Greater(t, snap.Fragments[0].Speed, 0.0)
	assert.Greater(t, snap.Fragments[1].Speed, 0.0)
	assert.InDelta(t, snap.Fragments[0].Speed+snap.Fragments[1].Speed, snap.Speed, 0.01)
	assert.Greater(t, snap.Fragments[1].Speed, snap.Fragments[0].Speed)
}

func TestAggregatorStalledFragmentReadsZero(t *testing.T) {
	agg := NewAggregator(progressFragments(1 << 20))
	agg.Ingest(0, 4096, time.Now().Add(-time.Minute))

	snap := agg.Snapshot()
	assert.Zero(t, snap.Fragments[0].Speed)
	assert.Zero(t, snap.Speed)
	assert.EqualValues(t, 4096, snap.Downloaded, "stalled bytes still count toward progress")
}

func TestAggregatorSeedsResumedFragments(t *testing.T) {
	fragments := progressFragments(1000, 1000)
	fragments[1].persisted.Store(400)

	agg := NewAggregator(fragments)
	snap := agg.Snapshot()
	assert.EqualValues(t, 400, snap.Downloaded)
	assert.InDelta(t, 40.0, snap.Fragments[1].Percent, 0.01)
}

func TestAggregatorIgnoresBogusEvents(t *testing.T) {
	agg := NewAggregator(progressFragments(1000))
	agg.Ingest(-1, 100, time.Now())
	agg.Ingest(5, 100, time.Now())
	agg.Ingest(0, 0, time.Now())
	agg.Ingest(0, -100, time.Now())
	assert.Zero(t, agg.Downloaded())
}

func TestSnapshotUnknownTotal(t *testing.T) {
	agg := NewAggregator([]*Fragment{{Index: 0, Start: 0, End: -1}})
	agg.Ingest(0, 9000, time.Now())

	snap := agg.Snapshot()
	assert.EqualValues(t, -1, snap.Total)
	assert.EqualValues(t, 9000, snap.Downloaded)
	assert.Zero(t, snap.Percent)
}
