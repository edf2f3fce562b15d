package trace

import "time"

// Kind is the type of an event.
type Kind uint8

const (
	KindBegin Kind = iota + 1
	KindEnd
	KindPoint
	KindHeartbeat
)

var kindNames = [...]string{
	KindBegin:     "begin",
	KindEnd:       "end",
	KindPoint:     "point",
	KindHeartbeat: "heartbeat",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// Scope is the granularity of an event. Lower values are coarser.
type Scope uint8

const (
	// ScopeDriver covers command-level work: loading, caching, printing.
	ScopeDriver Scope = iota + 1
	// ScopePass covers a pipeline run over a function tree.
	ScopePass
	// ScopeFunc covers the work on one function.
	ScopeFunc
	// ScopeRewrite covers a single IR rewrite.
	ScopeRewrite
)

var scopeNames = [...]string{
	ScopeDriver:  "driver",
	ScopePass:    "pass",
	ScopeFunc:    "func",
	ScopeRewrite: "rewrite",
}

func (s Scope) String() string {
	if int(s) < len(scopeNames) && scopeNames[s] != "" {
		return scopeNames[s]
	}
	return "unknown"
}

// Event is one trace record. Seq is assigned by the sink that stores it.
type Event struct {
	Time   time.Time
	Seq    uint64
	Kind   Kind
	Scope  Scope
	Span   uint64 // zero for points and heartbeats
	Parent uint64
	Func   string // function being optimized, empty outside the pipeline
	Name   string
	Detail string
	Attrs  map[string]string
}
