package engine

import (
	"fmt"
	"path/filepath"
)

// DefaultMinFragmentSize keeps fragments from degenerating into tiny range
// requests that cost more than they save.
const DefaultMinFragmentSize int64 = 2 * 1024 * 1024

// PlanInput carries everything the planner needs to partition a resource.
type PlanInput struct {
	TotalSize       int64 // -1 when unknown
	SupportsRanges  bool
	Count           int
	MinFragmentSize int64
	TempDir         string
	BaseName        string
}

// PlanFragments partitions [0, TotalSize) into Count contiguous fragments.
// Every fragment gets floor(total/count) bytes except the last, which absorbs
// the remainder. When ranges are unsupported, the size is unknown, or the
// resource is too small to split, the plan collapses to a single fragment
// spanning the whole resource; that plan runs on the same worker machinery.
func PlanFragments(in PlanInput) []*Fragment {
	if in.MinFragmentSize <= 0 {
		in.MinFragmentSize = DefaultMinFragmentSize
	}
	count := in.Count
	if count < 1 {
		count = 1
	}
	if !in.SupportsRanges || in.TotalSize < 0 || in.TotalSize/int64(count) < in.MinFragmentSize {
		count = 1
	}

	fragments := make([]*Fragment, 0, count)
	if count == 1 {
		fragments = append(fragments, &Fragment{
			Index:    0,
			Start:    0,
			End:      in.TotalSize, // -1 stays open-ended
			TempPath: tempStorePath(in.TempDir, in.BaseName, 0),
		})
		return fragments
	}

	per := in.TotalSize / int64(count)
	for i := 0; i < count; i++ {
		start := int64(i) * per
		end := start + per
		if i == count-1 {
			end = in.TotalSize
		}
		fragments = append(fragments, &Fragment{
			Index:    i,
			Start:    start,
			End:      end,
			TempPath: tempStorePath(in.TempDir, in.BaseName, i),
		})
	}
	return fragments
}

func tempStorePath(tempDir, baseName string, index int) string {
	return filepath.Join(tempDir, fmt.Sprintf("%s.part%d", baseName, index))
}
