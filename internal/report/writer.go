package report

import (
	"io"
	"time"

	"github.com/nao1215/torswitch/internal/database"
)

// History is the data a Writer renders.
type History struct {
	// Rotations are listed newest first.
	Rotations []database.Rotation

	// Outcomes counts every stored rotation by outcome, not only the listed ones.
	Outcomes []database.OutcomeCount

	// GeneratedAt is when the report was produced.
	GeneratedAt time.Time
}

// Total returns the number of stored rotations.
func (h *History) Total() int {
	total := 0
	for _, o := range h.Outcomes {
		total += o.Count
	}
	return total
}

// Count returns the number of stored rotations with the given outcome.
func (h *History) Count(outcome string) int {
	for _, o := range h.Outcomes {
		if o.Outcome == outcome {
			return o.Count
		}
	}
	return 0
}

// Writer renders a History.
type Writer interface {
	// Write renders h and returns the number of bytes written.
	Write(h *History) (int, error)
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// timeLayout is used for every timestamp in the text and Markdown reports.
const timeLayout = "2006-01-02 15:04:05 MST"
