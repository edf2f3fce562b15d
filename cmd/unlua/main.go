package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"unlua/internal/config"
	"unlua/internal/ir"
	"unlua/internal/observ"
	"unlua/internal/prof"
	"unlua/internal/trace"
	"unlua/internal/version"
)

// session carries what the persistent pre-run resolved for the subcommands.
type session struct {
	cfg     config.Config
	tracer  trace.Tracer
	timer   *observ.Timer
	cleanup func()
}

func newRootCmd() (*cobra.Command, *session) {
	s := &session{tracer: trace.Nop, cleanup: func() {}}
	root := &cobra.Command{
		Use:           "unlua",
		Short:         "Optimization core of a Lua bytecode decompiler",
		Long:          `unlua rebuilds expressions in decompiled register IR and reports the control- and data-flow facts it relies on`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			s.finish(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "settings file (default: nearest "+config.FileName+")")
	flags.String("color", "auto", "colorize output (auto|on|off)")
	flags.Bool("timings", false, "show timing information")
	flags.Int("jobs", 0, "functions optimized in parallel (0 = GOMAXPROCS)")
	flags.Bool("no-cache", false, "bypass the result cache")
	flags.String("trace", "", "trace output file (- for stderr)")
	flags.String("trace-level", "", "trace level (off|error|phase|detail|debug)")
	flags.String("trace-mode", "", "trace storage (stream|ring|both)")
	flags.String("trace-format", "", "trace format (auto|text|ndjson)")
	flags.Int("trace-ring-size", 0, "events kept for crash dumps")
	flags.Duration("trace-heartbeat", 0, "emit a heartbeat event at this interval")
	flags.String("cpu-profile", "", "write a CPU profile to file")
	flags.String("mem-profile", "", "write a heap profile to file on exit")
	flags.String("runtime-trace", "", "write a Go runtime trace to file")

	root.AddCommand(newOptCmd(s), newAnalyzeCmd(s), newCfgCmd(s), newVersionCmd(s))
	return root, s
}

func (s *session) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s.cfg = cfg
	if timings, _ := cmd.Flags().GetBool("timings"); timings {
		s.timer = observ.NewTimer()
	}
	profiling, err := startProfiling(cmd)
	if err != nil {
		return err
	}
	tracer, cleanup, err := setupTracing(cmd, cfg)
	if err != nil {
		_ = profiling.Stop()
		return err
	}
	s.tracer = tracer
	s.cleanup = func() {
		cleanup()
		if err := profiling.Stop(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "profiling: %v\n", err)
		}
	}
	return nil
}

// startProfiling starts the profilers requested by the persistent flags.
func startProfiling(cmd *cobra.Command) (*prof.Session, error) {
	flags := cmd.Flags()
	var opts prof.Options
	opts.CPU, _ = flags.GetString("cpu-profile")
	opts.Mem, _ = flags.GetString("mem-profile")
	opts.Trace, _ = flags.GetString("runtime-trace")
	if !opts.Enabled() {
		return nil, nil
	}
	return prof.Start(opts)
}

func (s *session) finish(cmd *cobra.Command) {
	if s.timer != nil {
		fmt.Fprint(cmd.ErrOrStderr(), s.timer.Summary())
	}
}

// loadConfig reads --config or the nearest unlua.toml, then applies flags
// that were set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	var (
		cfg config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.Discover(".")
	}
	if err != nil {
		return config.Config{}, err
	}

	if flags.Changed("jobs") {
		cfg.Optimize.Jobs, _ = flags.GetInt("jobs")
	}
	if flags.Changed("no-cache") {
		noCache, _ := flags.GetBool("no-cache")
		cfg.Cache.Enabled = !noCache
	}
	overrides := []struct {
		flag string
		dst  *string
	}{
		{"trace", &cfg.Trace.Output},
		{"trace-level", &cfg.Trace.Level},
		{"trace-mode", &cfg.Trace.Mode},
		{"trace-format", &cfg.Trace.Format},
	}
	for _, o := range overrides {
		if flags.Changed(o.flag) {
			*o.dst, _ = flags.GetString(o.flag)
		}
	}
	// --trace alone implies a streamed trace at phase level
	if flags.Changed("trace") {
		if !flags.Changed("trace-level") && (cfg.Trace.Level == "" || cfg.Trace.Level == "off") {
			cfg.Trace.Level = "phase"
		}
		if !flags.Changed("trace-mode") && cfg.Trace.Mode == "ring" {
			cfg.Trace.Mode = "stream"
		}
	}
	if flags.Changed("trace-ring-size") {
		cfg.Trace.RingSize, _ = flags.GetInt("trace-ring-size")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// useColor resolves --color for output written to w.
func useColor(cmd *cobra.Command, w io.Writer) bool {
	mode, _ := cmd.Flags().GetString("color")
	switch mode {
	case "on":
		return true
	case "off":
		return false
	}
	f, ok := w.(*os.File)
	return ok && isTerminal(f)
}

// isTerminal reports whether f is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// execute runs the command tree and turns an internal consistency fault
// into an error report with the trace ring dumped.
func execute(root *cobra.Command, s *session, stderr io.Writer) (code int) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		var fault *ir.InternalError
		err, isErr := r.(error)
		if !isErr || !errors.As(err, &fault) {
			panic(r)
		}
		fmt.Fprintf(stderr, "unlua: %v\n", fault)
		if ring := trace.RingOf(s.tracer); ring != nil {
			fmt.Fprintln(stderr, "last trace events:")
			_ = ring.Dump(stderr, trace.FormatText)
		}
		code = 2
	}()
	// flush streamed events before any crash report
	defer func() { s.cleanup() }()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "unlua: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	root, s := newRootCmd()
	os.Exit(execute(root, s, os.Stderr))
}
