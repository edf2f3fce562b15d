package trace

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

var lastSpanID atomic.Uint64

// scope is what a context carries: the sink, the enclosing span and the
// function under optimization.
type scope struct {
	tracer Tracer
	span   uint64
	fn     string
}

type ctxKey struct{}

func stateOf(ctx context.Context) scope {
	if ctx != nil {
		if s, ok := ctx.Value(ctxKey{}).(scope); ok {
			return s
		}
	}
	return scope{tracer: Nop}
}

// WithTracer returns a context whose events go to t.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	if t == nil {
		t = Nop
	}
	s := stateOf(ctx)
	s.tracer = t
	return context.WithValue(ctx, ctxKey{}, s)
}

// WithFunc tags the events emitted under ctx with a function name.
func WithFunc(ctx context.Context, name string) context.Context {
	s := stateOf(ctx)
	s.fn = name
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the tracer carried by ctx, or Nop.
func FromContext(ctx context.Context) Tracer {
	return stateOf(ctx).tracer
}

// SpanID returns the innermost span open in ctx, zero at the root.
func SpanID(ctx context.Context) uint64 {
	return stateOf(ctx).span
}

// Span is an open begin/end pair. A nil or inactive span ignores every
// call.
type Span struct {
	tracer  Tracer
	id      uint64
	parent  uint64
	scope   Scope
	fn      string
	name    string
	started time.Time
	attrs   map[string]string
}

// Start opens a span under the one carried by ctx and returns a context
// that carries the new span. Nothing is emitted when the tracer does not
// keep events of scope.
func Start(ctx context.Context, sc Scope, name string) (context.Context, *Span) {
	st := stateOf(ctx)
	if !st.tracer.Level().Keeps(sc) {
		return ctx, nil
	}
	sp := &Span{
		tracer:  st.tracer,
		id:      lastSpanID.Add(1),
		parent:  st.span,
		scope:   sc,
		fn:      st.fn,
		name:    name,
		started: time.Now(),
	}
	sp.emit(KindBegin, sp.started, "", nil)
	st.span = sp.id
	return context.WithValue(ctx, ctxKey{}, st), sp
}

// Set attaches an attribute reported with the end event.
func (s *Span) Set(key, value string) *Span {
	if s == nil {
		return nil
	}
	if s.attrs == nil {
		s.attrs = make(map[string]string)
	}
	s.attrs[key] = value
	return s
}

// End closes the span and returns its duration.
func (s *Span) End(detail string) time.Duration {
	if s == nil {
		return 0
	}
	now := time.Now()
	s.emit(KindEnd, now, detail, s.attrs)
	return now.Sub(s.started)
}

// ID returns the span identifier, zero for an inactive span.
func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}

func (s *Span) emit(k Kind, at time.Time, detail string, attrs map[string]string) {
	s.tracer.Emit(&Event{
		Time:   at,
		Kind:   k,
		Scope:  s.scope,
		Span:   s.id,
		Parent: s.parent,
		Func:   s.fn,
		Name:   s.name,
		Detail: detail,
		Attrs:  attrs,
	})
}

// Point emits an instant event under the span carried by ctx.
func Point(ctx context.Context, sc Scope, name, detail string) {
	st := stateOf(ctx)
	if !st.tracer.Level().Keeps(sc) {
		return
	}
	st.tracer.Emit(&Event{
		Time:   time.Now(),
		Kind:   KindPoint,
		Scope:  sc,
		Parent: st.span,
		Func:   st.fn,
		Name:   name,
		Detail: detail,
	})
}

// Pointf is Point with a formatted detail, rendered only when the event is
// kept.
func Pointf(ctx context.Context, sc Scope, name, format string, args ...any) {
	if !FromContext(ctx).Level().Keeps(sc) {
		return
	}
	Point(ctx, sc, name, fmt.Sprintf(format, args...))
}
