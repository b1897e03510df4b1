package report

import (
	"encoding/json"
	"io"
	"time"
)

// JSONWriter outputs the history as JSON.
type JSONWriter struct {
	baseWriter

	// version is the torswitch version recorded in the output.
	version string

	// indent enables pretty-printed output.
	indent bool
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithPrettyPrint enables two-space indentation.
func WithPrettyPrint() JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
	}
}

// WithVersion records the torswitch version in the output.
func WithVersion(version string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.version = version
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// jsonHistory is the JSON document written by JSONWriter.
type jsonHistory struct {
	Version     string         `json:"version,omitempty"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Total       int            `json:"total"`
	Outcomes    map[string]int `json:"outcomes"`
	Rotations   []jsonRotation `json:"rotations"`
}

type jsonRotation struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"sessionId"`
	Instance    int       `json:"instance"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	DurationMS  int64     `json:"durationMs"`
	Before      string    `json:"before,omitempty"`
	After       string    `json:"after,omitempty"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	ProxiesUsed int64     `json:"proxiesUsed"`
}

// Write outputs the history in JSON format followed by a newline.
func (w *JSONWriter) Write(h *History) (int, error) {
	doc := jsonHistory{
		Version:     w.version,
		GeneratedAt: h.GeneratedAt.UTC(),
		Total:       h.Total(),
		Outcomes:    make(map[string]int, len(h.Outcomes)),
		Rotations:   make([]jsonRotation, 0, len(h.Rotations)),
	}
	for _, o := range h.Outcomes {
		doc.Outcomes[o.Outcome] = o.Count
	}
	for _, r := range h.Rotations {
		doc.Rotations = append(doc.Rotations, jsonRotation{
			ID:          r.ID,
			SessionID:   r.SessionID,
			Instance:    r.Instance,
			StartedAt:   r.StartedAt.UTC(),
			FinishedAt:  r.FinishedAt.UTC(),
			DurationMS:  r.Duration().Milliseconds(),
			Before:      r.Before,
			After:       r.After,
			Outcome:     r.Outcome,
			Error:       r.Error,
			ProxiesUsed: r.ProxiesUsed,
		})
	}

	var (
		data []byte
		err  error
	)
	if w.indent {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')
	return w.output.Write(data)
}
