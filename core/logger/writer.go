package logger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
)

var errWriterClosed = errors.New("logger: writer closed")

// lineWriter fans every log line out to all sinks. A sink that fails is dropped and its
// error kept for Close, so a full disk never silences stdout.
type lineWriter struct {
	mu     sync.Mutex
	sinks  []*sink
	closed bool
}

type sink struct {
	buf *bufio.Writer
	err error
}

func newLineWriter(writers []io.Writer, bufSize int) *lineWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	w := &lineWriter{}
	for _, out := range writers {
		if out != nil {
			w.sinks = append(w.sinks, &sink{buf: bufio.NewWriterSize(out, bufSize)})
		}
	}
	return w
}

// Write stores one complete line. It fails only when no sink is left.
func (w *lineWriter) Write(line []byte) error {
	if len(line) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWriterClosed
	}
	alive := 0
	for i, s := range w.sinks {
		if s.err != nil {
			continue
		}
		if _, err := s.buf.Write(line); err != nil {
			s.err = fmt.Errorf("logger: sink %d: %w", i, err)
			continue
		}
		if err := s.buf.Flush(); err != nil {
			s.err = fmt.Errorf("logger: sink %d: %w", i, err)
			continue
		}
		alive++
	}
	if alive == 0 && len(w.sinks) > 0 {
		return w.errLocked()
	}
	return nil
}

// Flush pushes buffered output of the remaining sinks.
func (w *lineWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// Close flushes and reports every sink failure seen so far. Later writes fail.
func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.flushLocked()
	return w.errLocked()
}

func (w *lineWriter) flushLocked() error {
	for i, s := range w.sinks {
		if s.err != nil {
			continue
		}
		if err := s.buf.Flush(); err != nil {
			s.err = fmt.Errorf("logger: sink %d: %w", i, err)
		}
	}
	return w.errLocked()
}

func (w *lineWriter) errLocked() error {
	var errs []error
	for _, s := range w.sinks {
		if s.err != nil {
			errs = append(errs, s.err)
		}
	}
	return errors.Join(errs...)
}
