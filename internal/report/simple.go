package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// SimpleWriter outputs the history as aligned plain text.
type SimpleWriter struct {
	baseWriter

	// showErrors adds the failure message under failed rotations.
	showErrors bool

	// location is the time zone timestamps are shown in.
	location *time.Location
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithErrors prints the error message of every failed rotation.
func WithErrors(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showErrors = show
	}
}

// WithLocation shows timestamps in loc instead of local time.
func WithLocation(loc *time.Location) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.location = loc
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
		location:   time.Local,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the history in human-readable format.
func (w *SimpleWriter) Write(h *History) (int, error) {
	var sb strings.Builder

	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                      TORSWITCH ROTATION HISTORY\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	if h.Total() == 0 {
		sb.WriteString("No rotations recorded.\n")
		return io.WriteString(w.output, sb.String())
	}

	fmt.Fprintf(&sb, "Total rotations: %d\n", h.Total())
	for _, o := range h.Outcomes {
		fmt.Fprintf(&sb, "  %-12s %d\n", OutcomeLabel(o.Outcome)+":", o.Count)
	}
	sb.WriteString("\n")

	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDURATION\tBEFORE\tAFTER\tOUTCOME\tSESSION")
	for _, r := range h.Rotations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.In(w.location).Format(timeLayout),
			r.Duration().Round(time.Millisecond),
			orDash(r.Before),
			orDash(r.After),
			OutcomeLabel(r.Outcome),
			shortSession(r.SessionID),
		)
		if w.showErrors && r.Error != "" {
			fmt.Fprintf(tw, "\t\t\t\t  %s\t\n", r.Error)
		}
	}
	if err := tw.Flush(); err != nil {
		return 0, err
	}

	return io.WriteString(w.output, sb.String())
}

var titleCaser = cases.Title(language.English)

// OutcomeLabel returns the display form of an outcome, e.g. "Timed Out".
func OutcomeLabel(outcome string) string {
	if outcome == "" {
		return "-"
	}
	return titleCaser.String(outcome)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// shortSession returns the first block of a session UUID.
func shortSession(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
