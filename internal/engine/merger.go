package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

const stageMerge = "merge"

// Merge concatenates completed fragment stores into the destination file in
// ascending index order and verifies the written byte count. On an integrity
// mismatch the destination is discarded and the temp stores are preserved for
// inspection; they are only removed after a verified merge.
func Merge(job *DownloadJob, fragments []*Fragment, log zerolog.Logger) error {
	for _, f := range fragments {
		if f.State() != FragmentCompleted {
			return NewError(KindMergeIntegrity, stageMerge,
				fmt.Errorf("fragment %d is %s, not completed", f.Index, f.State()))
		}
	}

	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0755); err != nil {
		return NewError(KindDisk, stageMerge, err)
	}
	dest, err := os.Create(job.OutputPath)
	if err != nil {
		return NewError(KindDisk, stageMerge, err)
	}

	var written int64
	for _, f := range fragments {
		store, err := os.Open(f.TempPath)
		if err != nil {
			dest.Close()
			os.Remove(job.OutputPath)
			return NewError(KindMergeIntegrity, stageMerge,
				fmt.Errorf("fragment %d store missing: %w", f.Index, err))
		}
		n, err := io.Copy(dest, store)
		store.Close()
		if err != nil {
			dest.Close()
			os.Remove(job.OutputPath)
			return NewError(KindDisk, stageMerge, err)
		}
		written += n
	}
	if err := dest.Close(); err != nil {
		return NewError(KindDisk, stageMerge, err)
	}

	// Size verification is skipped only when the server never disclosed a
	// total (single-stream unknown-length download).
	if job.TotalSize >= 0 && written != job.TotalSize {
		os.Remove(job.OutputPath)
		return NewError(KindMergeIntegrity, stageMerge,
			fmt.Errorf("size mismatch: wrote %d bytes, expected %d", written, job.TotalSize))
	}

	for _, f := range fragments {
		if err := os.Remove(f.TempPath); err != nil {
			log.Warn().Err(err).Msgf("Could not remove temp store for fragment %d", f.Index)
		}
	}
	if remaining, err := os.ReadDir(job.TempDir); err == nil && len(remaining) == 0 {
		os.Remove(job.TempDir)
	}
	log.Debug().Msgf("Merged %d fragments (%d bytes) into %s", len(fragments), written, job.OutputPath)
	return nil
}
