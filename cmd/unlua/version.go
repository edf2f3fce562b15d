package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"unlua/internal/trace"
	"unlua/internal/version"
)

const versionTagline = "registers in, expressions out"

// versionPayload is the report of version --format json. Optional fields are
// filled only when asked for; a requested but unrecorded field reads "unknown".
type versionPayload struct {
	Tool       string `json:"tool"`
	Version    string `json:"version"`
	Tagline    string `json:"tagline"`
	GitCommit  string `json:"git_commit,omitempty"`
	GitMessage string `json:"git_message,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
}

// buildFields selects the optional build metadata to report.
type buildFields struct {
	hash, message, date bool
}

func newVersionCmd(s *session) *cobra.Command {
	var (
		format string
		fields buildFields
		full   bool
	)
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show unlua build fingerprints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			if format != "pretty" && format != "json" {
				return fmt.Errorf("unknown format %q (want pretty or json)", format)
			}
			if full {
				fields = buildFields{hash: true, message: true, date: true}
			}
			return s.runVersion(cmd, format, fields)
		},
	}
	cmd.Flags().BoolVar(&fields.hash, "hash", false, "include git commit hash")
	cmd.Flags().BoolVar(&fields.message, "message", false, "include git commit message")
	cmd.Flags().BoolVar(&fields.date, "date", false, "include build timestamp")
	cmd.Flags().BoolVar(&full, "full", false, "show every recorded bit of build metadata")
	cmd.Flags().StringVar(&format, "format", "pretty", "output format (pretty|json)")
	return cmd
}

func (s *session) runVersion(cmd *cobra.Command, format string, fields buildFields) error {
	_, span := trace.Start(cmd.Context(), trace.ScopeDriver, "version")
	defer span.End(format)

	p := collectVersion(fields)
	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}
	return printVersion(out, p, useColor(cmd, out))
}

func collectVersion(fields buildFields) versionPayload {
	p := versionPayload{
		Tool:    "unlua",
		Version: strings.TrimSpace(version.Version),
		Tagline: versionTagline,
	}
	if p.Version == "" {
		p.Version = "dev"
	}
	recorded := func(want bool, v string) string {
		if !want {
			return ""
		}
		if v = strings.TrimSpace(v); v == "" {
			return "unknown"
		}
		return v
	}
	p.GitCommit = recorded(fields.hash, version.GitCommit)
	p.GitMessage = recorded(fields.message, version.GitMessage)
	p.BuildDate = recorded(fields.date, version.BuildDate)
	return p
}

func printVersion(w io.Writer, p versionPayload, useColor bool) error {
	v := p.Version
	if useColor {
		saved := color.NoColor
		color.NoColor = false
		v = version.Colored()
		color.NoColor = saved
	}
	lines := []string{fmt.Sprintf("%s %s: %s", p.Tool, v, p.Tagline)}
	for _, kv := range [][2]string{
		{"commit: ", p.GitCommit},
		{"message: ", p.GitMessage},
		{"built:  ", p.BuildDate},
	} {
		if kv[1] != "" {
			lines = append(lines, kv[0]+kv[1])
		}
	}
	if len(lines) == 1 {
		lines = append(lines, "set --hash, --message, --date, or --full for more build trivia")
	}
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}
