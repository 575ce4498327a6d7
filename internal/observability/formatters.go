// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// RunSummary is what the printer shows at the end of a run.
type RunSummary struct {
	RunID         string
	Rows          int
	OrderIDs      []string
	TimedOutRows  []int
	ModalTimeouts int
	ArchivePath   string
	Elapsed       time.Duration
}

// PrintRunSummary outputs the receipts, skipped rows and archive of a run.
func (p *Printer) PrintRunSummary(s RunSummary) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Run:      %s\n", s.RunID))
	sb.WriteString(fmt.Sprintf("Orders:   %d rows, %d receipts\n", s.Rows, len(s.OrderIDs)))
	sb.WriteString(fmt.Sprintf("Elapsed:  %s\n", s.Elapsed.Round(time.Millisecond)))
	if s.ArchivePath != "" {
		sb.WriteString(fmt.Sprintf("Archive:  %s\n", s.ArchivePath))
	}

	if len(s.OrderIDs) > 0 {
		sb.WriteString("\nReceipts:\n")
		count := min(len(s.OrderIDs), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s\n", s.OrderIDs[i]))
		}
		if len(s.OrderIDs) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(s.OrderIDs)-maxItemsToShow))
		}
	}

	if len(s.TimedOutRows) > 0 || s.ModalTimeouts > 0 {
		sb.WriteString("\n")
		if len(s.TimedOutRows) > 0 {
			rows := make([]string, len(s.TimedOutRows))
			for i, r := range s.TimedOutRows {
				rows[i] = fmt.Sprint(r)
			}
			sb.WriteString(fmt.Sprintf("⚠ No receipt for rows %s\n", strings.Join(rows, ", ")))
		}
		if s.ModalTimeouts > 0 {
			sb.WriteString(fmt.Sprintf("⚠ Modal stayed open %d time(s)\n", s.ModalTimeouts))
		}
	}

	p.printBox("ROBOT ORDER RUN", strings.TrimSuffix(sb.String(), "\n"))
}
