package redaction

import (
	"io"
	"sync"
)

// Writer wraps an io.Writer and redacts all data before writing.
// Safe for concurrent use; the CLI puts one under the log handler.
type Writer struct {
	underlying io.Writer
	redactor   *Redactor
	mu         sync.Mutex
}

// NewWriter creates a redacting writer. A nil redactor passes data through.
func NewWriter(w io.Writer, r *Redactor) *Writer {
	return &Writer{
		underlying: w,
		redactor:   r,
	}
}

// Write redacts p and writes it. It reports len(p) on success even when the
// redacted text has a different length.
func (w *Writer) Write(p []byte) (n int, err error) {
	out := p
	if w.redactor != nil {
		out = []byte(w.redactor.ScrubString(string(p)))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.underlying.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}
