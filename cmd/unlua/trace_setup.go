package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"unlua/internal/config"
	"unlua/internal/trace"
)

// setupTracing builds the tracer described by cfg and attaches it to the
// command context. It returns the tracer and an idempotent cleanup function.
func setupTracing(cmd *cobra.Command, cfg config.Config) (trace.Tracer, func(), error) {
	heartbeatInterval, err := cmd.Flags().GetDuration("trace-heartbeat")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}

	tcfg, err := cfg.TraceConfig()
	if err != nil {
		return nil, nil, err
	}

	// If level is off, skip tracing
	if tcfg.Level == trace.LevelOff {
		ctx := trace.WithTracer(cmd.Context(), trace.Nop)
		cmd.SetContext(ctx)
		return trace.Nop, func() {}, nil
	}
	tcfg.Heartbeat = heartbeatInterval

	tracer, err := trace.Open(tcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	ctx := trace.WithTracer(cmd.Context(), tracer)
	cmd.SetContext(ctx)

	var heartbeat *trace.Heartbeat
	if heartbeatInterval > 0 {
		heartbeat = trace.StartHeartbeat(tracer, heartbeatInterval)
	}

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			// Stop heartbeat first
			heartbeat.Stop()

			if err := tracer.Flush(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
			}
			if err := tracer.Close(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
			}
		})
	}
	return tracer, cleanup, nil
}
