// Package progress renders a single-line batch progress bar.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const barWidth = 40

// Bar represents a simple progress bar
type Bar struct {
	total     int
	current   int
	failed    int
	out       io.Writer
	mu        sync.Mutex
	startTime time.Time
	lastPrint time.Time
	now       func() time.Time
	done      bool
}

// New creates a progress bar writing to stdout.
func New(total int) *Bar {
	return NewWithWriter(total, os.Stdout)
}

// NewWithWriter creates a progress bar writing to w.
func NewWithWriter(total int, w io.Writer) *Bar {
	now := time.Now()
	return &Bar{
		total:     total,
		out:       w,
		startTime: now,
		lastPrint: now,
		now:       time.Now,
	}
}

// Increment records one finished item. Failed items are counted separately
// and shown next to the bar.
func (b *Bar) Increment(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current++
	if !ok {
		b.failed++
	}

	// Update display every 500ms or when complete
	now := b.now()
	if now.Sub(b.lastPrint) > 500*time.Millisecond || b.current >= b.total {
		b.render()
		b.lastPrint = now
	}
}

// Finish marks the progress as complete
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.done {
		b.current = b.total
		b.render()
		fmt.Fprintln(b.out)
		b.done = true
	}
}

// render displays the progress bar
func (b *Bar) render() {
	if b.done || b.total <= 0 {
		return
	}

	percentage := float64(b.current) / float64(b.total) * 100
	elapsed := b.now().Sub(b.startTime)

	var eta time.Duration
	if b.current > 0 {
		avgTime := elapsed / time.Duration(b.current)
		eta = avgTime * time.Duration(b.total-b.current)
	}

	filled := barWidth * b.current / b.total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	failed := ""
	if b.failed > 0 {
		failed = color.RedString(" %d failed", b.failed)
	}

	fmt.Fprintf(b.out, "\r[%s] %d/%d (%.1f%%)%s - Elapsed: %s - ETA: %s   ",
		bar,
		b.current,
		b.total,
		percentage,
		failed,
		formatDuration(elapsed),
		formatDuration(eta),
	)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
