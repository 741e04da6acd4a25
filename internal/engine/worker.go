package engine

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/halvar-l/grabbit/internal/utils"
)

const stageDownload = "download"

// Worker downloads one fragment. It owns the fragment exclusively while it
// runs: nothing else mutates fragment state until Run returns.
type Worker struct {
	job      *DownloadJob
	frag     *Fragment
	client   *utils.HTTPClient
	policy   RetryPolicy
	progress *Aggregator
	log      zerolog.Logger

	// counted is the high-water mark of bytes already reported to the
	// aggregator. It only matters when a restart-from-scratch re-downloads
	// bytes that were counted before: those are not reported again, keeping
	// the aggregate monotonic.
	counted int64
}

func NewWorker(job *DownloadJob, frag *Fragment, client *utils.HTTPClient, policy RetryPolicy, progress *Aggregator, log zerolog.Logger) *Worker {
	return &Worker{
		job:      job,
		frag:     frag,
		client:   client,
		policy:   policy,
		progress: progress,
		log:      log.With().Int("fragment", frag.Index).Logger(),
	}
}

// Run drives the fragment to Completed or Failed. Transient failures are
// retried with backoff, resuming from the bytes already persisted; anything
// non-retryable fails the fragment without consuming retry attempts.
func (w *Worker) Run(ctx context.Context) error {
	w.counted = w.frag.Persisted()
	for {
		attempt := int(w.frag.attempts.Add(1))
		w.frag.setState(FragmentDownloading)

		err := w.attempt(ctx)
		if err == nil {
			w.frag.setState(FragmentCompleted)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if KindOf(err) != KindTransient {
			w.frag.setState(FragmentFailed)
			w.log.Debug().Err(err).Int("attempt", attempt).Msg("Fragment failed with non-retryable cause")
			return err
		}
		if w.policy.Exhausted(attempt) {
			w.frag.setState(FragmentFailed)
			return NewError(KindTransient, stageDownload,
				fmt.Errorf("fragment %d exhausted %d attempts: %w", w.frag.Index, attempt, err))
		}

		w.frag.setState(FragmentRetryWaiting)
		w.log.Warn().Err(err).Msgf("Retrying fragment %d (attempt %d/%d)", w.frag.Index, attempt, w.policy.MaxAttempts)
		if werr := w.policy.Wait(ctx, attempt); werr != nil {
			return werr
		}
	}
}

// attempt issues one range request for [Start+persisted, End) and streams it
// into the temp store, advancing the persisted counter only after each chunk
// write returns.
func (w *Worker) attempt(ctx context.Context) error {
	persisted := w.reconcileTempStore()
	offset := w.frag.Start + persisted
	if w.frag.End >= 0 && offset >= w.frag.End {
		return nil // already complete from a previous attempt
	}

	flag := os.O_WRONLY | os.O_CREATE
	if persisted > 0 {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	store, err := os.OpenFile(w.frag.TempPath, flag, 0644)
	if err != nil {
		return NewError(KindDisk, stageDownload, err)
	}
	defer store.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.job.URL, nil)
	if err != nil {
		return NewError(KindNonRetryable, stageDownload, err)
	}
	wantPartial := false
	if w.frag.End >= 0 && w.job.SupportsRanges {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, w.frag.End-1))
		wantPartial = true
	} else if offset > 0 {
		// Resume attempt on the full-stream path; the server may ignore it.
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		wantPartial = true
	}
	req.Header.Set("Connection", "keep-alive")

	resp, err := w.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case wantPartial && resp.StatusCode == http.StatusPartialContent:
		// expected
	case wantPartial && resp.StatusCode == http.StatusOK && w.coversWholeResource():
		// Server ignored the range and is sending the whole resource. Only
		// acceptable for a whole-resource fragment: start over from zero.
		w.log.Warn().Msg("Server ignored range request, restarting stream from scratch")
		if err := store.Truncate(0); err != nil {
			return NewError(KindDisk, stageDownload, err)
		}
		if _, err := store.Seek(0, io.SeekStart); err != nil {
			return NewError(KindDisk, stageDownload, err)
		}
		w.frag.persisted.Store(0)
	case !wantPartial && resp.StatusCode == http.StatusOK:
		// expected for the full-stream case
	default:
		return classifyStatus(resp.StatusCode)
	}

	return w.stream(resp.Body, store)
}

func (w *Worker) stream(body io.Reader, store *os.File) error {
	chunk := w.job.ChunkSize
	if chunk <= 0 {
		chunk = 8192
	}
	buffer := make([]byte, chunk)
	sessionStart := w.frag.Persisted()

	for {
		n, readErr := body.Read(buffer)
		if n > 0 {
			if _, writeErr := store.Write(buffer[:n]); writeErr != nil {
				return NewError(KindDisk, stageDownload, writeErr)
			}
			cum := w.frag.persisted.Add(int64(n))
			if cum > w.counted {
				w.progress.Ingest(w.frag.Index, cum-w.counted, time.Now())
				w.counted = cum
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return classifyTransportError(readErr)
		}
	}

	if err := store.Sync(); err != nil {
		return NewError(KindDisk, stageDownload, err)
	}
	if size := w.frag.Size(); size >= 0 && w.frag.Persisted() != size {
		return NewError(KindTransient, stageDownload,
			fmt.Errorf("fragment %d size mismatch: have %d of %d bytes after stream ended (session started at %d)",
				w.frag.Index, w.frag.Persisted(), size, sessionStart))
	}
	return nil
}

// coversWholeResource reports whether this fragment spans the entire
// resource, i.e. a 200 full-body response can legitimately satisfy it.
func (w *Worker) coversWholeResource() bool {
	return w.frag.Start == 0 && (w.frag.End < 0 || w.frag.End == w.job.TotalSize)
}

// reconcileTempStore aligns the persisted counter with what is actually on
// disk, so a crash mid-chunk can never overcount. The file is the source of
// truth up to the counter; anything past it is discarded.
func (w *Worker) reconcileTempStore() int64 {
	persisted := w.frag.Persisted()
	fi, err := os.Stat(w.frag.TempPath)
	if err != nil {
		if persisted != 0 {
			w.frag.persisted.Store(0)
		}
		return 0
	}
	onDisk := fi.Size()
	switch {
	case onDisk == persisted:
		return persisted
	case onDisk > persisted:
		os.Truncate(w.frag.TempPath, persisted)
		return persisted
	default:
		w.frag.persisted.Store(onDisk)
		return onDisk
	}
}

func classifyStatus(status int) error {
	err := fmt.Errorf("unexpected status code: %d", status)
	switch {
	case status >= 500,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests:
		return &Error{Kind: KindTransient, Stage: stageDownload, Status: status, Err: err}
	default:
		return &Error{Kind: KindNonRetryable, Stage: stageDownload, Status: status, Err: err}
	}
}

func classifyTransportError(err error) error {
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var certInvalid x509.CertificateInvalidError
	if errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) || errors.As(err, &certInvalid) {
		return NewError(KindNonRetryable, stageDownload, err)
	}
	// Timeouts, resets and other transport hiccups are retryable.
	return NewError(KindTransient, stageDownload, err)
}
