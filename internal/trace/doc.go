// Package trace records what the optimizer does while it runs.
//
// Work is described by spans (begin/end pairs) and points. Everything is
// threaded through a context.Context that carries the tracer, the enclosing
// span and the function being worked on:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	ctx = trace.WithFunc(ctx, f.Name)
//	ctx, span := trace.Start(ctx, trace.ScopePass, "propagate")
//	defer span.End("")
//	trace.Pointf(ctx, trace.ScopeRewrite, "substitute", "%s into pc %d", id, pc)
//
// A Level decides which scopes are printed and which are only kept in
// memory. At LevelError nothing is printed, but pass boundaries stay in the
// ring so a consistency fault can be reported with the events that led to
// it.
//
// Sinks are a streaming writer (text or NDJSON), an in-memory ring, or both;
// Open builds the one a Config asks for.
package trace
