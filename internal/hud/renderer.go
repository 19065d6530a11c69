package hud

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// Renderer periodically redraws a Store in place. The store is read on every
// tick and never copied ahead of time, so updates appear on the next frame.
type Renderer struct {
	store *Store
	frame frame
	out   io.Writer
	live  bool
	width func() int

	mu        sync.Mutex
	lastLines int

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRenderer creates a renderer writing to out. Live redraw and color are
// only enabled when out is a terminal.
func NewRenderer(store *Store, opts Options, out io.Writer) *Renderer {
	opts.setDefaults()

	tty := false
	width := func() int { return defaultWidth }
	if f, ok := out.(*os.File); ok {
		fd := f.Fd()
		tty = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
		width = func() int { return terminalWidth(int(fd)) }
	}
	opts.Color = opts.Color && tty

	return &Renderer{
		store: store,
		frame: frame{opts: opts, styles: newStyles(opts)},
		out:   out,
		live:  tty,
		width: width,
	}
}

// terminalWidth returns the column count of fd, or defaultWidth.
func terminalWidth(fd int) int {
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

// Render returns one frame for the given terminal width.
func (r *Renderer) Render(width int) string {
	return r.frame.render(r.store.Snapshot(), width)
}

// Start begins redrawing every Refresh interval until ctx is canceled or
// Stop is called. It does nothing when output is not a terminal.
func (r *Renderer) Start(ctx context.Context) {
	if !r.live {
		return
	}
	r.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		r.cancel = cancel
		r.done = make(chan struct{})

		go func() {
			defer close(r.done)
			ticker := time.NewTicker(r.frame.opts.Refresh)
			defer ticker.Stop()

			r.draw()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					r.draw()
				}
			}
		}()
	})
}

// Stop ends live redraw and prints a final frame that stays on screen.
// It is safe to call more than once.
func (r *Renderer) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
			<-r.done
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		r.clear()
		fmt.Fprintln(r.out, r.Render(r.width()))
		r.lastLines = 0
	})
}

// draw replaces the previous live frame with a fresh one.
func (r *Renderer) draw() {
	text := r.Render(r.width())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clear()
	fmt.Fprintln(r.out, text)
	r.lastLines = strings.Count(text, "\n") + 1
}

// clear erases the last live frame: cursor to the start of its first line,
// then erase to the end of the screen.
func (r *Renderer) clear() {
	if r.lastLines == 0 {
		return
	}
	fmt.Fprintf(r.out, "\x1b[%dF\x1b[J", r.lastLines)
}
