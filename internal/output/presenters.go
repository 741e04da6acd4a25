package output

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/halvar-l/grabbit/internal/engine"
	"github.com/halvar-l/grabbit/internal/utils"
)

// NewPresenter selects the presenter variant for the configured style. The
// set is closed: unknown styles fall back to inline.
func NewPresenter(style string, w io.Writer) engine.Presenter {
	if w == nil {
		w = os.Stdout
	}
	switch style {
	case "full_screen":
		return &FullScreenPresenter{out: w}
	case "simple":
		return &SimplePresenter{out: w, lastBucket: -1}
	default:
		return &InlinePresenter{out: w}
	}
}

// InlinePresenter redraws a block of per-fragment lines in place.
type InlinePresenter struct {
	mu        sync.Mutex
	out       io.Writer
	lastLines int
}

func (p *InlinePresenter) Render(snap engine.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastLines > 0 {
		fmt.Fprintf(p.out, "\033[%dA\033[J", p.lastLines)
	}
	lines := 0
	if len(snap.Fragments) > 1 {
		for _, f := range snap.Fragments {
			fmt.Fprintln(p.out, fragmentLine(f))
			lines++
		}
	}
	fmt.Fprintln(p.out, aggregateLine(snap))
	lines++
	p.lastLines = lines
}

// FullScreenPresenter clears and repaints the whole screen on every render.
type FullScreenPresenter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *FullScreenPresenter) Render(snap engine.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, "\033[2J\033[H")
	fmt.Fprintln(p.out, headerStyle.Render("Grabbit Download Progress"))
	fmt.Fprintln(p.out, detailStyle.Render(StyleSymbols["hline"]+StyleSymbols["hline"]+StyleSymbols["hline"]))
	for _, f := range snap.Fragments {
		fmt.Fprintln(p.out, fragmentLine(f))
	}
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, aggregateLine(snap))
}

// SimplePresenter prints a fresh line whenever overall progress crosses the
// next 10% threshold; no escape sequences, safe for dumb terminals and logs.
type SimplePresenter struct {
	mu         sync.Mutex
	out        io.Writer
	lastBucket int
}

func (p *SimplePresenter) Render(snap engine.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var bucket int
	if snap.Total > 0 {
		bucket = int(snap.Percent) / 10
	} else {
		// Unknown total: report every 10MB instead.
		bucket = int(snap.Downloaded / (10 * 1024 * 1024))
	}
	if bucket <= p.lastBucket {
		return
	}
	p.lastBucket = bucket
	fmt.Fprintln(p.out, aggregateLine(snap))
}

func fragmentLine(f engine.FragmentProgress) string {
	marker := pendingStyle.Render(StyleSymbols["pending"])
	switch f.State {
	case engine.FragmentCompleted:
		marker = successStyle.Render(StyleSymbols["pass"])
	case engine.FragmentFailed:
		marker = errorStyle.Render(StyleSymbols["fail"])
	case engine.FragmentRetryWaiting:
		marker = warningStyle.Render(StyleSymbols["warning"])
	}
	if f.Total < 0 {
		return fmt.Sprintf("%s Fragment %d  %s %s %s", marker, f.Index+1,
			detailStyle.Render(utils.FormatBytes(uint64(f.Downloaded))),
			StyleSymbols["bullet"], detailStyle.Render(utils.FormatSpeed(f.Speed)))
	}
	return fmt.Sprintf("%s Fragment %d  %s %s", marker, f.Index+1,
		ProgressBar(f.Downloaded, f.Total, barWidth()), detailStyle.Render(utils.FormatSpeed(f.Speed)))
}

func aggregateLine(snap engine.Snapshot) string {
	if snap.Total < 0 {
		return fmt.Sprintf("%s %s %s %s", infoStyle.Render("Total"),
			utils.FormatBytes(uint64(snap.Downloaded)), StyleSymbols["bullet"],
			utils.FormatSpeed(snap.Speed))
	}
	return fmt.Sprintf("%s %s %s / %s %s %s", infoStyle.Render("Total"),
		ProgressBar(snap.Downloaded, snap.Total, barWidth()),
		utils.FormatBytes(uint64(snap.Downloaded)), utils.FormatBytes(uint64(snap.Total)),
		StyleSymbols["bullet"], utils.FormatSpeed(snap.Speed))
}

func barWidth() int {
	width := getTerminalWidth() - 50
	if width < 10 {
		return 10
	}
	if width > 40 {
		return 40
	}
	return width
}
