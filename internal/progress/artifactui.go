package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// ArtifactUI renders one bar per exported artifact.
type ArtifactUI struct {
	progress   *mpb.Progress
	mu         sync.Mutex // serializes writes to out
	out        io.Writer
	isTerminal bool
	total      int
	completed  int32
}

// ArtifactBar is the bar of a single artifact transfer.
type ArtifactBar struct {
	bar       *mpb.Bar
	ui        *ArtifactUI
	index     int
	name      string
	dest      string
	size      int64
	retries   int32
	startTime time.Time
}

// NewArtifactUI creates a UI on stderr for total artifacts.
func NewArtifactUI(total int) *ArtifactUI {
	tty := IsTerminal(os.Stderr)
	if tty {
		enableANSI(os.Stderr)
	}
	return NewArtifactUIWithWriter(os.Stderr, tty, total)
}

// NewArtifactUIWithWriter creates a UI writing to w. Bars are only drawn
// when tty is true; otherwise one line per start and completion is printed.
func NewArtifactUIWithWriter(w io.Writer, tty bool, total int) *ArtifactUI {
	var p *mpb.Progress
	if tty {
		p = mpb.New(
			mpb.WithOutput(w),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}
	return &ArtifactUI{progress: p, out: w, isTerminal: tty, total: total}
}

// AddBar registers an artifact of size bytes. A size of 0 means unknown.
func (u *ArtifactUI) AddBar(index int, name, dest string, size int64) *ArtifactBar {
	ab := &ArtifactBar{
		ui:        u,
		index:     index,
		name:      name,
		dest:      dest,
		size:      size,
		startTime: time.Now(),
	}
	short := truncatePath(dest, 2)

	if u.isTerminal {
		ab.bar = u.progress.New(size,
			mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
			mpb.PrependDecorators(
				decor.Any(func(s decor.Statistics) string {
					label := fmt.Sprintf("[%d/%d] %s → %s", ab.index, u.total, name, short)
					if r := atomic.LoadInt32(&ab.retries); r > 0 {
						return fmt.Sprintf("%s (retry %d)", label, r)
					}
					return label
				}, decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.Percentage(decor.WCSyncSpace),
			),
			mpb.BarRemoveOnComplete(),
		)
	} else {
		fmt.Fprintf(u.Writer(), "Exporting [%d/%d]: %s → %s\n", index, u.total, name, short)
	}
	return ab
}

// ProxyReader counts bytes read from r on the bar.
func (b *ArtifactBar) ProxyReader(r io.Reader) io.Reader {
	if b.bar == nil {
		return r
	}
	return b.bar.ProxyReader(r)
}

// SetRetry records a retry attempt on the label.
func (b *ArtifactBar) SetRetry(count int) {
	atomic.StoreInt32(&b.retries, int32(count))
	if b.bar != nil && count > 0 {
		b.bar.SetCurrent(0)
	}
}

// Complete ends the bar and prints a summary line.
func (b *ArtifactBar) Complete(location string, err error) {
	elapsed := time.Since(b.startTime).Round(time.Millisecond)
	var msg string
	if err == nil {
		if b.bar != nil {
			b.bar.SetTotal(-1, true)
		}
		msg = fmt.Sprintf("✓ %s → %s (%s)\n", b.name, location, elapsed)
	} else {
		if b.bar != nil {
			b.bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ %s: %v (after %d retries)\n", b.name, err, atomic.LoadInt32(&b.retries))
	}
	_, _ = b.ui.Writer().Write([]byte(msg))
	atomic.AddInt32(&b.ui.completed, 1)
}

// Wait blocks until all bars complete.
func (u *ArtifactUI) Wait() {
	if u.progress != nil {
		u.progress.Wait()
	}
}

// Writer prints above the bars on a terminal.
func (u *ArtifactUI) Writer() io.Writer {
	if u.isTerminal && u.progress != nil {
		return u.progress
	}
	return lockedWriter{u}
}

type lockedWriter struct{ u *ArtifactUI }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.u.mu.Lock()
	defer w.u.mu.Unlock()
	return w.u.out.Write(p)
}

// Completed returns the number of finished artifacts, failed or not.
func (u *ArtifactUI) Completed() int {
	return int(atomic.LoadInt32(&u.completed))
}

func (u *ArtifactUI) IsTerminal() bool {
	return u.isTerminal
}

// truncatePath keeps the last n components of path.
func truncatePath(path string, n int) string {
	if path == "" || n <= 0 {
		return path
	}
	clean := filepath.ToSlash(path)
	if strings.Contains(clean, "://") {
		return clean
	}
	parts := strings.Split(strings.TrimRight(clean, "/"), "/")
	if len(parts) <= n {
		return path
	}
	return ".../" + strings.Join(parts[len(parts)-n:], "/")
}
