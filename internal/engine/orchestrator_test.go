package engine

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orchestratorOptions(t *testing.T, fragments int) Options {
	t.Helper()
	return Options{
		Fragments:       fragments,
		Concurrency:     fragments,
		ChunkSize:       1024,
		MinFragmentSize: 1024,
		Retry:           RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2},
		TempDir:         t.TempDir(),
		PresentInterval: 10 * time.Millisecond,
	}
}

func TestOrchestratorFragmentedDownload(t *testing.T) {
	data := testData(1 << 20)
	server := newRangeServer(t, data, nil)
	dest := filepath.Join(t.TempDir(), "big.bin")

	orch := New(testClient(), orchestratorOptions(t, 4))
	result, err := orch.Run(context.Background(), server.URL, dest)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, StateCompleted, orch.State())
	assert.EqualValues(t, len(data), result.Job.TotalSize)
	assert.True(t, result.Job.SupportsRanges)
	assert.EqualValues(t, len(data), result.Snapshot.Downloaded)
	assert.Len(t, result.Snapshot.Fragments, 4)
	assert.EqualValues(t, 5, server.rangeReqs.Load(), "one probe range plus one request per fragment")

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestOrchestratorSingleStreamWhenRangesUnsupported(t *testing.T) {
	data := testData(256 * 1024)
	server := newRangeServer(t, data, func(w http.ResponseWriter, r *http.Request) bool {
		// Pretend ranges were never invented.
		w.Header().Set("Content-Length", "262144")
		w.Write(data)
		return true
	})
	dest := filepath.Join(t.TempDir(), "plain.bin")

	orch := New(testClient(), orchestratorOptions(t, 4))
	result, err := orch.Run(context.Background(), server.URL, dest)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.False(t, result.Job.SupportsRanges)
	assert.Len(t, result.Snapshot.Fragments, 1, "no range support means a single-fragment plan")
	assert.EqualValues(t, 1, server.maxInFlight.Load(), "single-fragment plan must never run workers in parallel")

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestOrchestratorFallsBackToSingleStream(t *testing.T) {
	data := testData(512 * 1024)
	server := newRangeServer(t, data, func(w http.ResponseWriter, r *http.Request) bool {
		// Ranges starting mid-file fail hard; the probe (bytes=0-0) and any
		// whole-resource range still work. This breaks every multi-fragment
		// plan while leaving the single-stream path healthy.
		rangeHeader := r.Header.Get("Range")
		if rangeHeader != "" && !strings.HasPrefix(rangeHeader, "bytes=0-") {
			w.WriteHeader(http.StatusForbidden)
			return true
		}
		return false
	})
	dest := filepath.Join(t.TempDir(), "fallback.bin")

	orch := New(testClient(), orchestratorOptions(t, 4))
	result, err := orch.Run(context.Background(), server.URL, dest)
	require.NoError(t, err, "fragmentation failure is not a user-facing failure")

	assert.Equal(t, StateCompleted, result.State)
	assert.Len(t, result.Snapshot.Fragments, 1, "final snapshot reflects the fallback plan")

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestOrchestratorFailsSingleFragmentPlanWithoutFallback(t *testing.T) {
	data := testData(256 * 1024)
	var probes int
	server := newRangeServer(t, data, func(w http.ResponseWriter, r *http.Request) bool {
		probes++
		if probes == 1 {
			return false // let the probe succeed
		}
		w.WriteHeader(http.StatusForbidden)
		return true
	})
	dest := filepath.Join(t.TempDir(), "doomed.bin")

	opts := orchestratorOptions(t, 1)
	orch := New(testClient(), opts)
	result, err := orch.Run(context.Background(), server.URL, dest)
	require.Error(t, err)
	assert.Equal(t, KindNonRetryable, KindOf(err))
	assert.Equal(t, StateFailed, result.State)
}

func TestOrchestratorProbeFailure(t *testing.T) {
	server := newRangeServer(t, testData(1024), func(w http.ResponseWriter, r *http.Request) bool {
		w.WriteHeader(http.StatusNotFound)
		return true
	})
	dest := filepath.Join(t.TempDir(), "missing.bin")

	orch := New(testClient(), orchestratorOptions(t, 4))
	result, err := orch.Run(context.Background(), server.URL, dest)
	require.Error(t, err)
	assert.Equal(t, KindProbe, KindOf(err))
	assert.Equal(t, StateFailed, result.State)
	assert.EqualValues(t, 2, server.requests.Load(), "exactly one re-probe before failing the job")
}

func TestOrchestratorCancellationStopsWorkers(t *testing.T) {
	data := testData(1 << 20)
	server := newRangeServer(t, data, func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Range") == "bytes=0-0" {
			return false // probe proceeds normally
		}
		// Trickle the body so cancellation lands mid-transfer.
		start, end, ok := parseRange(r.Header.Get("Range"), int64(len(data)))
		if !ok {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return true
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		w.WriteHeader(http.StatusPartialContent)
		flusher := w.(http.Flusher)
		for off := start; off <= end; off += 1024 {
			limit := min(off+1024, end+1)
			if _, err := w.Write(data[off:limit]); err != nil {
				return true
			}
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
		return true
	})
	dest := filepath.Join(t.TempDir(), "cancelled.bin")

	opts := orchestratorOptions(t, 4)
	orch := New(testClient(), opts)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := orch.Run(ctx, server.URL, dest)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must propagate promptly")
	assert.Equal(t, StateFailed, result.State)

	// No further bytes may land in any temp store once Run has returned.
	sizes := tempStoreSizes(t, opts.TempDir)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, sizes, tempStoreSizes(t, opts.TempDir))
}

func TestOrchestratorJobTimeout(t *testing.T) {
	data := testData(64 * 1024)
	server := newRangeServer(t, data, func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Range") == "bytes=0-0" {
			return false
		}
		time.Sleep(2 * time.Second)
		return false
	})
	dest := filepath.Join(t.TempDir(), "slow.bin")

	opts := orchestratorOptions(t, 2)
	opts.JobTimeout = 200 * time.Millisecond
	orch := New(testClient(), opts)

	start := time.Now()
	_, err := orch.Run(context.Background(), server.URL, dest)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestOrchestratorCollectsPresenterSnapshots(t *testing.T) {
	data := testData(512 * 1024)
	server := newRangeServer(t, data, nil)
	dest := filepath.Join(t.TempDir(), "watched.bin")

	recorder := &snapshotRecorder{}
	opts := orchestratorOptions(t, 4)
	opts.Presenter = recorder

	orch := New(testClient(), opts)
	_, err := orch.Run(context.Background(), server.URL, dest)
	require.NoError(t, err)

	require.NotEmpty(t, recorder.snaps, "presenter must receive at least the final render")
	var last int64
	for _, s := range recorder.snaps {
		assert.GreaterOrEqual(t, s.Downloaded, last, "snapshots never move backwards")
		last = s.Downloaded
	}
	assert.EqualValues(t, len(data), recorder.snaps[len(recorder.snaps)-1].Downloaded)
}

// snapshotRecorder is only rendered to from the orchestrator's single
// presenter goroutine, which is joined before Run returns.
type snapshotRecorder struct {
	snaps []Snapshot
}

func (r *snapshotRecorder) Render(snap Snapshot) {
	r.snaps = append(r.snaps, snap)
}

func tempStoreSizes(t *testing.T, dir string) map[string]int64 {
	t.Helper()
	sizes := map[string]int64{}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return sizes
	}
	require.NoError(t, err)
	for _, e := range entries {
		info, err := e.Info()
		require.NoError(t, err)
		sizes[e.Name()] = info.Size()
	}
	return sizes
}
