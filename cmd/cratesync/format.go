package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

func init() {
	// fatih/color already checks os.Stdout; cratesync's status lines go to
	// stderr, so gate on that descriptor too rather than trust the default.
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		color.NoColor = true
	}
}

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes uint64) string {
	return humanize.Bytes(bytes)
}

// formatTime returns a relative, human-readable timestamp (e.g. "3 hours ago").
func formatTime(t time.Time) string {
	return humanize.Time(t)
}

// colorCount renders n in green when positive, as a plain "0" when zero, and
// red when it represents a failure count — errors and conflicts always stand
// out even in an otherwise quiet summary.
func colorCount(n int, isFailure bool) string {
	switch {
	case n == 0:
		return "0"
	case isFailure:
		return color.RedString("%d", n)
	default:
		return color.GreenString("%d", n)
	}
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}
