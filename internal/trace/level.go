package trace

import (
	"fmt"
	"strings"
)

// Level controls tracing verbosity.
type Level uint8

const (
	LevelOff    Level = iota
	LevelError        // keep pass boundaries for crash dumps, print nothing
	LevelPhase        // driver and pass boundaries
	LevelDetail       // per-function work
	LevelDebug        // every rewrite
)

var levelNames = [...]string{"off", "error", "phase", "detail", "debug"}

// printed is the finest scope written to a stream at each level.
var printed = [...]Scope{
	LevelOff:    0,
	LevelError:  0,
	LevelPhase:  ScopePass,
	LevelDetail: ScopeFunc,
	LevelDebug:  ScopeRewrite,
}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// ParseLevel converts a level name; the empty string means off.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return LevelOff, nil
	}
	for i, name := range levelNames {
		if name == s {
			return Level(i), nil //nolint:gosec // bounded by levelNames
		}
	}
	return LevelOff, fmt.Errorf("invalid trace level: %q (expected: %s)", s, strings.Join(levelNames[:], "|"))
}

// Prints reports whether events of scope are written out at level l.
func (l Level) Prints(scope Scope) bool {
	return int(l) < len(printed) && scope <= printed[l]
}

// Keeps reports whether events of scope are recorded at all at level l.
func (l Level) Keeps(scope Scope) bool {
	if l == LevelError {
		return scope <= ScopePass
	}
	return l.Prints(scope)
}
