package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// speedWindow is how far back samples count toward instantaneous speed. A
// fragment with no sample newer than this reads as stalled (speed 0).
const speedWindow = 5 * time.Second

const maxSamples = 16

type sample struct {
	when time.Time
	cum  int64
}

// FragmentProgress is the per-fragment slice of a snapshot.
type FragmentProgress struct {
	Index      int
	State      FragmentState
	Downloaded int64
	Total      int64 // -1 when unknown
	Percent    float64
	Speed      float64 // bytes/sec
}

// Snapshot is an immutable point-in-time progress view, safe to hand to any
// renderer without further synchronization.
type Snapshot struct {
	Taken      time.Time
	Fragments  []FragmentProgress
	Downloaded int64
	Total      int64 // -1 when unknown
	Percent    float64
	Speed      float64 // bytes/sec, sum of per-fragment speeds
}

type fragmentTrack struct {
	mu      sync.Mutex
	samples []sample // ring of (timestamp, cumulative bytes)
	head    int
	count   int
}

// Aggregator collects byte-delta events from concurrently running workers and
// computes progress snapshots. Ingestion is an atomic add plus a short
// in-memory sample append; it never blocks on I/O.
type Aggregator struct {
	fragments []*Fragment
	counters  []atomic.Int64
	tracks    []fragmentTrack
	aggregate atomic.Int64
}

func NewAggregator(fragments []*Fragment) *Aggregator {
	a := &Aggregator{
		fragments: fragments,
		counters:  make([]atomic.Int64, len(fragments)),
		tracks:    make([]fragmentTrack, len(fragments)),
	}
	// Seed counters with bytes a fragment already persisted, so resumed
	// fragments report correctly from the first snapshot.
	for i, f := range fragments {
		if p := f.Persisted(); p > 0 {
			a.counters[i].Store(p)
			a.aggregate.Add(p)
		}
	}
	return a
}

// Ingest records that a worker added n bytes to fragment index at ts.
func (a *Aggregator) Ingest(index int, n int64, ts time.Time) {
	if index < 0 || index >= len(a.counters) || n <= 0 {
		return
	}
	cum := a.counters[index].Add(n)
	a.aggregate.Add(n)

	t := &a.tracks[index]
	t.mu.Lock()
	if len(t.samples) < maxSamples {
		t.samples = append(t.samples, sample{when: ts, cum: cum})
		t.count = len(t.samples)
	} else {
		t.samples[t.head] = sample{when: ts, cum: cum}
		t.head = (t.head + 1) % maxSamples
	}
	t.mu.Unlock()
}

// Downloaded returns the aggregate byte counter, monotonically non-decreasing.
func (a *Aggregator) Downloaded() int64 {
	return a.aggregate.Load()
}

// Snapshot produces the current progress view. Aggregate speed is the sum of
// per-fragment speeds so a stalled fragment pulls the rate down immediately.
func (a *Aggregator) Snapshot() Snapshot {
	now := time.Now()
	snap := Snapshot{
		Taken:     now,
		Fragments: make([]FragmentProgress, len(a.fragments)),
		Total:     -1,
	}

	var total int64
	sizeKnown := true
	for i, f := range a.fragments {
		downloaded := a.counters[i].Load()
		size := f.Size()
		fp := FragmentProgress{
			Index:      f.Index,
			State:      f.State(),
			Downloaded: downloaded,
			Total:      size,
			Speed:      a.fragmentSpeed(i, downloaded, now),
		}
		if size > 0 {
			fp.Percent = float64(downloaded) / float64(size) * 100
			total += size
		} else if size == 0 {
			fp.Percent = 100
		} else {
			sizeKnown = false
		}
		snap.Fragments[i] = fp
		snap.Speed += fp.Speed
	}

	snap.Downloaded = a.aggregate.Load()
	if sizeKnown {
		snap.Total = total
		if total > 0 {
			snap.Percent = float64(snap.Downloaded) / float64(total) * 100
		} else {
			snap.Percent = 100
		}
	}
	return snap
}

func (a *Aggregator) fragmentSpeed(index int, cum int64, now time.Time) float64 {
	t := &a.tracks[index]
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) == 0 {
		return 0
	}
	// Oldest sample still inside the speed window.
	var oldest *sample
	for i := 0; i < len(t.samples); i++ {
		s := &t.samples[(t.head+i)%len(t.samples)]
		if now.Sub(s.when) <= speedWindow {
			oldest = s
			break
		}
	}
	if oldest == nil {
		return 0 // stalled
	}
	elapsed := now.Sub(oldest.when).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(cum-oldest.cum) / elapsed
}
