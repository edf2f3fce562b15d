package trace_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unlua/internal/trace"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]trace.Level{
		"":       trace.LevelOff,
		"off":    trace.LevelOff,
		"Error":  trace.LevelError,
		"phase":  trace.LevelPhase,
		"detail": trace.LevelDetail,
		" DEBUG": trace.LevelDebug,
	} {
		got, err := trace.ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := trace.ParseLevel("verbose")
	require.ErrorContains(t, err, "off|error|phase|detail|debug")
	assert.Equal(t, "detail", trace.LevelDetail.String())
}

func TestLevelScopes(t *testing.T) {
	assert.True(t, trace.LevelPhase.Prints(trace.ScopePass))
	assert.False(t, trace.LevelPhase.Prints(trace.ScopeFunc))
	assert.True(t, trace.LevelDetail.Prints(trace.ScopeFunc))
	assert.False(t, trace.LevelDetail.Prints(trace.ScopeRewrite))
	assert.True(t, trace.LevelDebug.Prints(trace.ScopeRewrite))
	assert.False(t, trace.LevelOff.Keeps(trace.ScopeDriver))

	// error level prints nothing but keeps pass boundaries for crash dumps
	assert.False(t, trace.LevelError.Prints(trace.ScopeDriver))
	assert.True(t, trace.LevelError.Keeps(trace.ScopePass))
	assert.False(t, trace.LevelError.Keeps(trace.ScopeFunc))
}

func TestStream_Text(t *testing.T) {
	var buf bytes.Buffer
	s := trace.NewStream(&buf, trace.LevelDetail, trace.FormatText)
	ctx := trace.WithFunc(trace.WithTracer(context.Background(), s), "main")

	pctx, span := trace.Start(ctx, trace.ScopePass, "propagate")
	trace.Point(pctx, trace.ScopeFunc, "round", "3 blocks")
	trace.Point(pctx, trace.ScopeRewrite, "substitute", "dropped at this level")
	span.Set("removed", "2").End("done")
	assert.Empty(t, buf.String(), "events stay buffered until flushed")
	require.NoError(t, s.Flush())

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3, buf.String())
	assert.Equal(t, "#000001 pass      → propagate [main]", lines[0])
	assert.Equal(t, "#000002 func        • round [main] (3 blocks)", lines[1])
	assert.Equal(t, "#000003 pass      ← propagate [main] (done) {removed=2}", lines[2])
}

func TestStream_NDJSON(t *testing.T) {
	var buf bytes.Buffer
	s := trace.NewStream(&buf, trace.LevelDebug, trace.FormatNDJSON)
	ctx := trace.WithTracer(context.Background(), s)
	ctx, span := trace.Start(ctx, trace.ScopeFunc, "func:f")
	trace.Pointf(trace.WithFunc(ctx, "f"), trace.ScopeRewrite, "substitute", "%s into pc %d", "r0", 3)
	require.NoError(t, s.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var ev map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, "point", ev["kind"])
	assert.Equal(t, "rewrite", ev["scope"])
	assert.Equal(t, "f", ev["func"])
	assert.Equal(t, "r0 into pc 3", ev["detail"])
	assert.EqualValues(t, span.ID(), ev["parent"])
}

func TestRing_Wraps(t *testing.T) {
	ring := trace.NewRing(4, trace.LevelDebug)
	ctx := trace.WithTracer(context.Background(), ring)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		trace.Point(ctx, trace.ScopeFunc, name, "")
	}
	var names []string
	var seqs []uint64
	for _, ev := range ring.Snapshot() {
		names = append(names, ev.Name)
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []string{"c", "d", "e", "f"}, names)
	assert.Equal(t, []uint64{3, 4, 5, 6}, seqs)

	var buf bytes.Buffer
	require.NoError(t, ring.Dump(&buf, trace.FormatText))
	assert.Equal(t, 4, strings.Count(buf.String(), "\n"))
}

func TestOpen(t *testing.T) {
	tr, err := trace.Open(trace.Config{Level: trace.LevelOff})
	require.NoError(t, err)
	assert.False(t, trace.On(tr))
	assert.Nil(t, trace.RingOf(tr))

	var buf bytes.Buffer
	tr, err = trace.Open(trace.Config{Level: trace.LevelPhase, Mode: trace.ModeBoth, Output: &buf})
	require.NoError(t, err)
	ring := trace.RingOf(tr)
	require.NotNil(t, ring)

	_, span := trace.Start(trace.WithTracer(context.Background(), tr), trace.ScopePass, "optimize")
	span.End("")
	require.NoError(t, tr.Close())
	assert.Len(t, ring.Snapshot(), 2)
	assert.Equal(t, 2, strings.Count(buf.String(), "optimize"))

	_, err = trace.ParseMode("disk")
	require.Error(t, err)
}

func TestOpen_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	tr, err := trace.Open(trace.Config{Level: trace.LevelPhase, Mode: trace.ModeStream, OutputPath: path})
	require.NoError(t, err)
	trace.Point(trace.WithTracer(context.Background(), tr), trace.ScopeDriver, "cache-hit", "")
	require.NoError(t, tr.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(bytes.TrimSpace(data)), string(data))
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	assert.False(t, trace.On(trace.FromContext(ctx)))
	assert.Zero(t, trace.SpanID(ctx))

	// without a tracer spans are inactive and leave ctx alone
	same, span := trace.Start(ctx, trace.ScopePass, "x")
	assert.Nil(t, span)
	assert.Equal(t, ctx, same)
	assert.Zero(t, span.Set("k", "v").End("done"))

	ring := trace.NewRing(8, trace.LevelDebug)
	ctx = trace.WithTracer(ctx, ring)
	outer, span := trace.Start(ctx, trace.ScopePass, "outer")
	assert.Same(t, ring, trace.FromContext(outer))
	assert.Equal(t, span.ID(), trace.SpanID(outer))

	_, inner := trace.Start(outer, trace.ScopeFunc, "inner")
	inner.End("")
	events := ring.Snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, "inner", events[1].Name)
	assert.Equal(t, span.ID(), events[1].Parent)
}

func TestHeartbeat(t *testing.T) {
	ring := trace.NewRing(64, trace.LevelError)
	h := trace.StartHeartbeat(ring, time.Millisecond)
	require.NotNil(t, h)
	assert.Eventually(t, func() bool { return len(ring.Snapshot()) >= 2 }, time.Second, time.Millisecond)
	h.Stop()
	h.Stop()

	got := ring.Snapshot()
	assert.Equal(t, trace.KindHeartbeat, got[0].Kind)
	assert.True(t, strings.HasPrefix(got[0].Detail, "#1 at "), got[0].Detail)

	assert.Nil(t, trace.StartHeartbeat(trace.Nop, time.Millisecond))
	var stopped *trace.Heartbeat
	stopped.Stop()
}
