package engine

import (
	"sync/atomic"
)

// FragmentState tracks one fragment through its download lifecycle. The only
// legal cycle is Downloading <-> RetryWaiting, bounded by the retry policy;
// everything else is monotonic.
type FragmentState int32

const (
	FragmentPending FragmentState = iota
	FragmentDownloading
	FragmentRetryWaiting
	FragmentCompleted
	FragmentFailed
)

func (s FragmentState) String() string {
	switch s {
	case FragmentPending:
		return "pending"
	case FragmentDownloading:
		return "downloading"
	case FragmentRetryWaiting:
		return "retry-waiting"
	case FragmentCompleted:
		return "completed"
	case FragmentFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Fragment is one contiguous byte range [Start, End) of the resource. A
// fragment is owned by exactly one worker while it runs; the aggregator and
// presenters only ever see it through atomic reads.
type Fragment struct {
	Index    int
	Start    int64 // inclusive
	End      int64 // exclusive; -1 when total size is unknown (open-ended stream)
	TempPath string

	state     atomic.Int32
	persisted atomic.Int64
	attempts  atomic.Int32
}

// Size returns the planned byte length, or -1 when the end is open.
func (f *Fragment) Size() int64 {
	if f.End < 0 {
		return -1
	}
	return f.End - f.Start
}

func (f *Fragment) State() FragmentState {
	return FragmentState(f.state.Load())
}

func (f *Fragment) setState(s FragmentState) {
	f.state.Store(int32(s))
}

// Persisted reports bytes durably written to the temp store so far.
func (f *Fragment) Persisted() int64 {
	return f.persisted.Load()
}

func (f *Fragment) Attempts() int {
	return int(f.attempts.Load())
}

// JobState is the orchestrator's state machine position.
type JobState int32

const (
	StateProbing JobState = iota
	StatePlanning
	StateDownloading
	StateFallbackDownloading
	StateMerging
	StateCompleted
	StateFailed
)

func (s JobState) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StatePlanning:
		return "planning"
	case StateDownloading:
		return "downloading"
	case StateFallbackDownloading:
		return "fallback-downloading"
	case StateMerging:
		return "merging"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DownloadJob identifies one logical transfer. It is created when a run starts
// and discarded when the run ends; nothing persists across runs.
type DownloadJob struct {
	ID             string
	URL            string
	OutputPath     string
	TotalSize      int64 // -1 until probed, or when the server won't disclose it
	SupportsRanges bool
	Fragments      int
	Concurrency    int
	ChunkSize      int
	TempDir        string
}

// Presenter renders progress snapshots. The engine calls Render at a fixed
// cadence and never cares what the presenter does with it.
type Presenter interface {
	Render(snap Snapshot)
}
