package logx

import (
	"bytes"
	"io"
	"sync"
)

// LineWriter returns an io.Writer that logs each complete line written to
// it as a separate event with a "line" field. A trailing partial line is
// held until its newline arrives.
func (l Logger) LineWriter(level Level, msg string) io.Writer {
	return &lineWriter{log: l, level: level, msg: msg}
}

type lineWriter struct {
	log   Logger
	level Level
	msg   string

	mu      sync.Mutex
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		line, rest, ok := bytes.Cut(w.pending, []byte{'\n'})
		if !ok {
			break
		}
		w.log.emit(w.level, w.msg, []Field{String("line", string(bytes.TrimSuffix(line, []byte{'\r'})))})
		w.pending = rest
	}
	if len(w.pending) == 0 {
		w.pending = nil
	}
	return len(p), nil
}
