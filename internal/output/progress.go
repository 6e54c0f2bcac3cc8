package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// writerIsTTY reports whether w is a terminal. Writers without an Fd
// method, such as *bytes.Buffer, are never terminals.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd())
	}
	return false
}

// ProgressBar tracks packages becoming ready during a transaction.
// Example: [=========>          ]  4/9 Downloading (12 MB) numpy
type ProgressBar struct {
	total       int
	current     int
	bytes       uint64
	last        string
	description string
	width       int
	mu          sync.Mutex
	writer      io.Writer
}

// NewProgress creates a progress bar over total items writing to w.
func NewProgress(w io.Writer, total int, description string) *ProgressBar {
	return &ProgressBar{
		total:       total,
		description: description,
		width:       30,
		writer:      w,
	}
}

// Add marks one item done. size is added to the byte counter.
// Safe for concurrent use.
func (p *ProgressBar) Add(name string, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current < p.total {
		p.current++
	}
	if size > 0 {
		p.bytes += uint64(size)
	}
	p.last = name
	p.render()
}

// Finish completes the bar and moves to a new line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	alreadyDone := p.current == p.total
	p.current = p.total
	p.last = ""

	if writerIsTTY(p.writer) {
		p.render()
		fmt.Fprintln(p.writer)
		return
	}
	// Off a terminal render only prints at completion, so a bar that was
	// already complete has printed its line.
	if !alreadyDone {
		p.render()
	}
}

// render draws the bar. Must be called with the lock held.
func (p *ProgressBar) render() {
	filled := 0
	if p.total > 0 {
		filled = (p.current * p.width) / p.total
	}

	var bar strings.Builder
	bar.WriteString("[")
	for i := 0; i < p.width; i++ {
		switch {
		case i < filled-1:
			bar.WriteString("=")
		case i == filled-1:
			bar.WriteString(">")
		default:
			bar.WriteString(" ")
		}
	}
	bar.WriteString("]")

	line := fmt.Sprintf("%s %*d/%d %s", bar.String(), len(fmt.Sprint(p.total)), p.current, p.total, p.description)
	if p.bytes > 0 {
		line += " (" + humanize.Bytes(p.bytes) + ")"
	}

	if writerIsTTY(p.writer) {
		if p.last != "" {
			line += " " + p.last
		}
		fmt.Fprintf(p.writer, "\r\033[K%s", line)
		return
	}
	if p.current == p.total {
		fmt.Fprintln(p.writer, line)
	}
}

// Spinner shows an indeterminate operation such as solving.
// Example: /  Solving environment (3s)
type Spinner struct {
	message   string
	running   bool
	frames    []string
	mu        sync.Mutex
	writer    io.Writer
	done      chan struct{}
	startTime time.Time
}

// NewSpinner creates a stopped spinner writing to w.
func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{
		message: message,
		frames:  []string{"|", "/", "-", "\\"},
		writer:  w,
	}
}

// Start begins the animation. Off a terminal the message is printed once.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.startTime = time.Now()
	done := make(chan struct{})
	s.done = done

	if !writerIsTTY(s.writer) {
		fmt.Fprintf(s.writer, "%s...\n", s.message)
		return
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	go func() {
		defer ticker.Stop()
		idx := 0
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				if s.running {
					elapsed := int(time.Since(s.startTime).Seconds())
					fmt.Fprintf(s.writer, "\r%s  %s (%ds)", s.frames[idx], s.message, elapsed)
					idx = (idx + 1) % len(s.frames)
				}
				s.mu.Unlock()
			case <-done:
				return
			}
		}
	}()
}

// Stop ends the animation and clears the line. Calling Stop more than once
// is harmless.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	if s.done != nil {
		close(s.done)
		s.done = nil
	}

	if writerIsTTY(s.writer) {
		fmt.Fprint(s.writer, "\r\033[K")
	}
}
