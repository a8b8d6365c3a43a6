// Package progress is the one-line terminal progress sink used by the SPI
// flash driver and vendor programming flows to report sector/byte counts
// without coupling either to a terminal library directly. Grounded on
// periph-extra's screen.Dev (github.com/mattn/go-colorable for a Windows-
// safe ANSI writer) and on mgutz/ansi for the color codes, the same stack
// the teacher's console-output helpers use.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
)

// Sink receives progress updates as (done, total) pairs. Implementations
// must tolerate total == 0 (unknown length).
type Sink interface {
	Update(done, total int)
	Done()
}

// Discard ignores every update, used where no progress reporting is wanted
// (library callers, tests).
type Discard struct{}

func (Discard) Update(int, int) {}
func (Discard) Done()           {}

// Bar renders a single in-place ANSI progress bar to w, redrawing on every
// Update. The bar is 40 '=' cells wide.
type Bar struct {
	mu      sync.Mutex
	w       io.Writer
	label   string
	width   int
	tty     bool
	printed bool
}

// New creates a Bar labelled label, writing to a colorable wrapper of out
// (typically os.Stderr) so ANSI sequences render correctly on Windows too.
func New(out *os.File, label string) *Bar {
	return &Bar{
		w:     colorable.NewColorable(out),
		label: label,
		width: 40,
		tty:   isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()),
	}
}

func (b *Bar) Update(done, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if total <= 0 {
		fmt.Fprintf(b.w, "\r%s: %d", b.label, done)
		b.printed = true
		return
	}
	if done > total {
		done = total
	}
	filled := done * b.width / total
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", b.width-filled)
	pct := done * 100 / total
	line := fmt.Sprintf("%s [%s] %3d%% (%d/%d)", b.label, bar, pct, done, total)
	if b.tty {
		fmt.Fprintf(b.w, "\r%s%s%s", ansi.ColorCode("cyan"), line, ansi.ColorCode("reset"))
	} else {
		fmt.Fprint(b.w, line+"\n")
	}
	b.printed = true
}

// Done finishes the bar, moving the cursor to a fresh line.
func (b *Bar) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.printed && b.tty {
		fmt.Fprintln(b.w)
	}
}
