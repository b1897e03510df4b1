package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/torswitch/internal/database"
	"github.com/nao1215/torswitch/internal/report"
)

// defaultHistoryLimit is how many rotations history lists by default.
const defaultHistoryLimit = 20

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded rotations",
		Long: `History prints the rotations recorded by previous rotate runs, newest first,
together with a count of every outcome.

Examples:
  # Last 20 rotations as text
  torswitch history

  # Markdown report with a pie chart of outcomes
  torswitch history --markdown -o history.md

  # Rotations of one session as JSON
  torswitch history --json --session 6f1c...`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "l", defaultHistoryLimit, "Maximum number of rotations to list (0 for all)")
	cmd.Flags().String("session", "", "Only list the rotations of this session")
	cmd.Flags().BoolP("errors", "E", false, "Show error messages in the text report")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.MarkFlagsMutuallyExclusive("json", "markdown")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	limit, err := flags.GetInt("limit")
	if err != nil {
		return err
	}
	if limit < 0 {
		return errors.New("limit must not be negative")
	}
	sessionID, err := flags.GetString("session")
	if err != nil {
		return err
	}
	showErrors, err := flags.GetBool("errors")
	if err != nil {
		return err
	}
	jsonOutput, err := flags.GetBool("json")
	if err != nil {
		return err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return err
	}
	outputPath, err := flags.GetString("output")
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-only

	ctx := cmd.Context()
	h := &report.History{GeneratedAt: time.Now()}
	if sessionID != "" {
		h.Rotations, err = db.SessionRotations(ctx, sessionID)
	} else {
		h.Rotations, err = db.ListRotations(ctx, limit)
	}
	if err != nil {
		return err
	}
	if h.Outcomes, err = db.CountByOutcome(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputPath != "" {
		f, err := createOutputFile(outputPath)
		if err != nil {
			return err
		}
		defer f.Close() //nolint:errcheck // closed after a successful write
		out = f
	}

	var w report.Writer
	switch {
	case jsonOutput:
		w = report.NewJSONWriter(out, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	case cfg.MarkdownReport:
		w = report.NewMarkdownWriter(out)
	default:
		w = report.NewSimpleWriter(out, report.WithErrors(showErrors))
	}
	if _, err := w.Write(h); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if outputPath != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Report written to: %s\n", outputPath)
	}
	return nil
}

// createOutputFile creates path and its parent directories.
func createOutputFile(path string) (io.WriteCloser, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path) //nolint:gosec // User-provided output path is intentional
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}
