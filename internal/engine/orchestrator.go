package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/halvar-l/grabbit/internal/utils"
)

// Options configures one orchestrator. The zero value is not usable; build it
// from a validated configuration.
type Options struct {
	Fragments       int
	Concurrency     int
	ChunkSize       int
	MinFragmentSize int64
	Retry           RetryPolicy
	TempDir         string
	JobTimeout      time.Duration // 0 disables the job-level deadline
	Presenter       Presenter
	PresentInterval time.Duration
}

// Result is the final report of a run: terminal state, last snapshot, timing.
type Result struct {
	Job      *DownloadJob
	State    JobState
	Snapshot Snapshot
	Elapsed  time.Duration
}

// Orchestrator drives probe -> plan -> download -> merge for one job at a
// time, owning fallback and cancellation.
type Orchestrator struct {
	client *utils.HTTPClient
	opts   Options
	log    zerolog.Logger
	state  atomic.Int32
}

func New(client *utils.HTTPClient, opts Options) *Orchestrator {
	if opts.PresentInterval <= 0 {
		opts.PresentInterval = 200 * time.Millisecond
	}
	return &Orchestrator{
		client: client,
		opts:   opts,
		log:    utils.GetLogger("engine"),
	}
}

func (o *Orchestrator) State() JobState {
	return JobState(o.state.Load())
}

func (o *Orchestrator) setState(s JobState) {
	o.state.Store(int32(s))
	o.log.Debug().Msgf("Job state: %s", s)
}

// Run executes one download job to a terminal state. The returned result is
// valid even on error and carries the last progress snapshot.
func (o *Orchestrator) Run(ctx context.Context, link, outputPath string) (*Result, error) {
	start := time.Now()
	if o.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.JobTimeout)
		defer cancel()
	}

	job := &DownloadJob{
		ID:          uuid.NewString(),
		URL:         link,
		OutputPath:  outputPath,
		TotalSize:   -1,
		Fragments:   o.opts.Fragments,
		Concurrency: o.opts.Concurrency,
		ChunkSize:   o.opts.ChunkSize,
		TempDir:     o.opts.TempDir,
	}
	result := &Result{Job: job}
	fail := func(err error) (*Result, error) {
		o.setState(StateFailed)
		result.State = StateFailed
		result.Elapsed = time.Since(start)
		return result, err
	}

	o.setState(StateProbing)
	probe, err := Probe(ctx, o.client, link)
	if err != nil && ctx.Err() == nil {
		// A single re-probe before failing the job.
		o.log.Warn().Err(err).Msg("Probe failed, re-probing once")
		probe, err = Probe(ctx, o.client, link)
	}
	if err != nil {
		return fail(err)
	}
	job.TotalSize = probe.TotalSize
	job.SupportsRanges = probe.SupportsRanges
	o.log.Debug().Int64("size", probe.TotalSize).Bool("ranges", probe.SupportsRanges).Msg("Probe complete")

	o.setState(StatePlanning)
	if err := os.MkdirAll(job.TempDir, 0755); err != nil {
		return fail(NewError(KindDisk, "plan", err))
	}
	fragments := o.plan(job, job.Fragments)
	o.log.Info().Msgf("Downloading %s in %d fragment(s)", filepath.Base(outputPath), len(fragments))

	o.setState(StateDownloading)
	aggregator, err := o.downloadPlan(ctx, job, fragments)
	result.Snapshot = aggregator.Snapshot()
	if err != nil {
		if ctx.Err() != nil {
			return fail(err)
		}
		if KindOf(err) != KindNonRetryable || len(fragments) == 1 {
			return fail(err)
		}
		// Fragmentation failed for a non-retryable cause under a
		// multi-fragment plan: discard the plan and retry the whole resource
		// as a single stream on the same machinery.
		o.log.Warn().Err(err).Msg("Fragmented download failed, falling back to single stream")
		removeTempStores(fragments)
		o.setState(StateFallbackDownloading)
		fragments = o.plan(job, 1)
		aggregator, err = o.downloadPlan(ctx, job, fragments)
		result.Snapshot = aggregator.Snapshot()
		if err != nil {
			return fail(err)
		}
	}

	o.setState(StateMerging)
	if err := Merge(job, fragments, o.log); err != nil {
		return fail(err)
	}

	o.setState(StateCompleted)
	result.State = StateCompleted
	result.Snapshot = aggregator.Snapshot()
	result.Elapsed = time.Since(start)
	return result, nil
}

func (o *Orchestrator) plan(job *DownloadJob, count int) []*Fragment {
	return PlanFragments(PlanInput{
		TotalSize:       job.TotalSize,
		SupportsRanges:  job.SupportsRanges,
		Count:           count,
		MinFragmentSize: o.opts.MinFragmentSize,
		TempDir:         job.TempDir,
		BaseName:        filepath.Base(job.OutputPath),
	})
}

// downloadPlan runs the bounded worker pool for one plan and returns the
// aggregator that collected its progress.
func (o *Orchestrator) downloadPlan(ctx context.Context, job *DownloadJob, fragments []*Fragment) (*Aggregator, error) {
	aggregator := NewAggregator(fragments)
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workersDone := make(chan struct{})
	var presentWG sync.WaitGroup
	if o.opts.Presenter != nil {
		presentWG.Add(1)
		go func() {
			defer presentWG.Done()
			ticker := time.NewTicker(o.opts.PresentInterval)
			defer ticker.Stop()
			for {
				select {
				case <-workersDone:
					o.opts.Presenter.Render(aggregator.Snapshot())
					return
				case <-ticker.C:
					o.opts.Presenter.Render(aggregator.Snapshot())
				}
			}
		}()
	}

	concurrency := job.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(fragments) {
		concurrency = len(fragments)
	}
	sem := make(chan struct{}, concurrency)
	errCh := make(chan error, len(fragments))
	var wg sync.WaitGroup
	for _, frag := range fragments {
		wg.Add(1)
		go func(frag *Fragment) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-wctx.Done():
				errCh <- wctx.Err()
				return
			}
			defer func() { <-sem }()

			worker := NewWorker(job, frag, o.client, o.opts.Retry, aggregator, o.log)
			if err := worker.Run(wctx); err != nil {
				errCh <- err
				// A fatal fragment terminates the whole plan promptly;
				// transient exhaustion lets siblings finish so the error
				// report reflects the true cause.
				if k := KindOf(err); k == KindNonRetryable || k == KindDisk {
					cancel()
				}
			}
		}(frag)
	}
	wg.Wait()
	close(workersDone)
	presentWG.Wait()
	close(errCh)

	return aggregator, mostSevere(errCh)
}

// mostSevere picks the error that should represent the plan's failure:
// disk beats non-retryable beats transient beats bare cancellation.
func mostSevere(errCh <-chan error) error {
	rank := func(err error) int {
		switch KindOf(err) {
		case KindDisk:
			return 4
		case KindNonRetryable:
			return 3
		case KindTransient:
			return 2
		default:
			return 1
		}
	}
	var picked error
	for err := range errCh {
		if picked == nil || rank(err) > rank(picked) {
			picked = err
		}
	}
	return picked
}

func removeTempStores(fragments []*Fragment) {
	for _, f := range fragments {
		os.Remove(f.TempPath)
	}
}
