// Package cliui provides terminal UI helpers for quarry CLI commands.
package cliui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	SuccessMark  = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")
	FailMark     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	PendingMark  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("…")
	RunningMark  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("●")
	StepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	KeyStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("111"))
	ValueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	DimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	barStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	trackStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

// stepSpinner shares its frames with the tasks --watch view.
var stepSpinner = spinner.MiniDot

// Step runs fn and reports it as one line: a ✓ or ✗, msg and the elapsed
// time. On a terminal an animated spinner stands in for the mark while fn
// runs; elsewhere only the final line is written.
func Step(w io.Writer, msg string, fn func() error) error {
	var (
		done    = make(chan struct{})
		stopped = make(chan struct{})
	)

	if IsTerminal(w) {
		go func() {
			defer close(stopped)
			ticker := time.NewTicker(stepSpinner.FPS)
			defer ticker.Stop()

			for frame := 0; ; frame++ {
				fmt.Fprintf(w, "\r  %s %s", spinnerStyle.Render(stepSpinner.Frames[frame%len(stepSpinner.Frames)]), msg)
				select {
				case <-done:
					return
				case <-ticker.C:
				}
			}
		}()
	} else {
		close(stopped)
	}

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	close(done)
	<-stopped

	fmt.Fprintf(w, "\r  %s %s %s\n",
		Mark(err),
		msg,
		StepStyle.Render(fmt.Sprintf("(%s)", FormatDuration(elapsed))),
	)

	return err
}

// IsTerminal reports whether w is a character device such as a TTY.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Mark returns a ✓ for nil errors or ✗ for non-nil errors.
func Mark(err error) string {
	if err != nil {
		return FailMark
	}
	return SuccessMark
}

// FormatDuration formats a duration for display (e.g. "12ms" or "3.2s").
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// RenderMarkdown renders markdown content for terminal display using glamour.
func RenderMarkdown(content string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return content, err
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content, err
	}

	return rendered, nil
}

// StatusMark returns the mark for a task status: completed, failed,
// processing or anything else as pending.
func StatusMark(status string) string {
	switch status {
	case "completed":
		return SuccessMark
	case "failed":
		return FailMark
	case "processing":
		return RunningMark
	default:
		return PendingMark
	}
}

// ProgressBar renders percent (0..100, clamped) as a bar width cells wide
// followed by the percentage.
func ProgressBar(percent float64, width int) string {
	if width < 1 {
		width = 1
	}
	percent = min(max(percent, 0), 100)

	filled := int(percent / 100 * float64(width))
	return fmt.Sprintf("%s%s %5.1f%%",
		barStyle.Render(strings.Repeat("█", filled)),
		trackStyle.Render(strings.Repeat("░", width-filled)),
		percent,
	)
}
