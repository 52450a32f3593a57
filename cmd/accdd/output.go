package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/accdd/internal/cycle"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failureStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func printHeader(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf(format, args...)))
}

func printSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, successStyle.Render("✓ ")+fmt.Sprintf(format, args...))
}

func printFailure(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, failureStyle.Render("✗ ")+fmt.Sprintf(format, args...))
}

func printWarn(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, warnStyle.Render("! "+fmt.Sprintf(format, args...)))
}

func printMuted(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf(format, args...)))
}

// progressPrinter renders graph transitions, one line per finished node.
func progressPrinter(w io.Writer) cycle.ProgressCallback {
	return func(p cycle.Progress) {
		if !p.Done {
			return
		}
		label := fmt.Sprintf("[cycle %s iter %d] %s", p.CycleID, p.Iteration, p.Node)
		if p.CycleID == "" {
			label = string(p.Node)
		}
		elapsed := mutedStyle.Render(p.Duration.Round(time.Millisecond).String())
		if p.Err != nil {
			fmt.Fprintf(w, "%s %s %s\n", failureStyle.Render("✗"), label, elapsed)
			return
		}
		fmt.Fprintf(w, "%s %s %s\n", successStyle.Render("✓"), label, elapsed)
	}
}
