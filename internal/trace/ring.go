package trace

import (
	"io"
	"sync"
)

// Ring keeps the most recent events in memory.
type Ring struct {
	mu    sync.Mutex
	buf   []Event
	next  uint64 // events ever stored; also the next sequence number
	level Level
}

// NewRing returns a ring holding up to size events.
func NewRing(size int, level Level) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{buf: make([]Event, size), level: level}
}

func (r *Ring) Emit(ev *Event) {
	if ev.Kind != KindHeartbeat && !r.level.Keeps(ev.Scope) {
		return
	}
	r.mu.Lock()
	r.next++
	slot := &r.buf[(r.next-1)%uint64(len(r.buf))]
	*slot = *ev
	slot.Seq = r.next
	r.mu.Unlock()
}

// Snapshot returns the stored events, oldest first.
func (r *Ring) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := uint64(len(r.buf))
	first := uint64(0)
	if r.next > size {
		first = r.next - size
	}
	out := make([]Event, 0, r.next-first)
	for seq := first; seq < r.next; seq++ {
		out = append(out, r.buf[seq%size])
	}
	return out
}

// Dump writes the stored events to w.
func (r *Ring) Dump(w io.Writer, format Format) error {
	for _, ev := range r.Snapshot() {
		if _, err := w.Write(appendEvent(nil, &ev, format)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Ring) Flush() error { return nil }
func (r *Ring) Close() error { return nil }
func (r *Ring) Level() Level { return r.level }

// RingOf returns the ring behind t, or nil when t keeps none.
func RingOf(t Tracer) *Ring {
	switch t := t.(type) {
	case *Ring:
		return t
	case *tee:
		for _, s := range t.sinks {
			if r, ok := s.(*Ring); ok {
				return r
			}
		}
	}
	return nil
}
