package trace

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// Stream writes events through a buffer as they arrive. Flush pushes the
// buffer out; events are lost on a crash unless the driver flushes first.
type Stream struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	seq    uint64
	level  Level
	format Format
	line   []byte
}

// NewStream returns a stream sink writing to w.
func NewStream(w io.Writer, level Level, format Format) *Stream {
	if format == FormatAuto {
		format = FormatText
	}
	return &Stream{w: bufio.NewWriter(w), level: level, format: format}
}

func (s *Stream) Emit(ev *Event) {
	if ev.Kind != KindHeartbeat && !s.level.Prints(ev.Scope) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ev.Seq = s.seq
	s.line = appendEvent(s.line[:0], ev, s.format)
	// a failing trace sink never stops the optimizer; Flush reports it
	_, _ = s.w.Write(s.line)
}

func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// Close flushes and closes a file the stream opened itself.
func (s *Stream) Close() error {
	err := s.Flush()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
		s.closer = nil
	}
	return err
}

func (s *Stream) Level() Level { return s.level }
