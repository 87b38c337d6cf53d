package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskweave/internal/store"
)

var (
	statusFormat string
	statusList   int
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show a recorded run",
	Long: `Display a run from the state database with every task's status and
result. Without a run id the most recent run is shown.

Use --list to show recent runs instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", formatTable, "Output format: table, json, yaml")
	statusCmd.Flags().IntVarP(&statusList, "list", "l", 0, "List the N most recent runs")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := checkFormat(statusFormat); err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if _, err := os.Stat(cfg.Store.Path); os.IsNotExist(err) {
		fmt.Fprintln(out, "No runs recorded. Run 'taskweave run <file>' to start.")
		return nil
	}

	db, err := store.Open(cfg.Store.Path, cfg.Store.Driver)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	db.SetLogger(logger)

	// Ensure schema is up to date
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if statusList > 0 {
		runs, err := db.ListRuns(statusList)
		if err != nil {
			return err
		}
		if statusFormat != formatTable {
			return encode(out, statusFormat, runs)
		}
		printRuns(out, runs)
		return nil
	}

	var rec *store.RunRecord
	if len(args) == 1 {
		rec, err = db.LoadRun(args[0])
	} else {
		rec, err = db.LatestRun()
	}
	if errors.Is(err, store.ErrRunNotFound) && len(args) == 0 {
		fmt.Fprintln(out, "No runs recorded. Run 'taskweave run <file>' to start.")
		return nil
	}
	if err != nil {
		return err
	}

	if statusFormat != formatTable {
		return encode(out, statusFormat, rec)
	}
	printRun(out, rec)
	return nil
}

func printRuns(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		symbol, attr := runSymbol(r.Status)
		printStatus(w, symbol, fmt.Sprintf("%s  %-9s %d/%d completed  started %s  %s",
			r.ID, r.Status, r.Counts.Completed, r.Counts.Total, humanize.Time(r.StartedAt), r.Source), attr)
	}
}

func printRun(w io.Writer, rec *store.RunRecord) {
	r := rec.Run
	symbol, attr := runSymbol(r.Status)
	printStatus(w, symbol, fmt.Sprintf("Run %s (%s)", r.ID, r.Status), attr)
	if r.Source != "" {
		fmt.Fprintf(w, "  Source:   %s\n", r.Source)
	}
	fmt.Fprintf(w, "  Graph:    %s\n", shortID(r.Fingerprint))
	fmt.Fprintf(w, "  Started:  %s\n", humanize.Time(r.StartedAt))
	if r.FinishedAt != nil {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(r.FinishedAt.Sub(r.StartedAt)))
		fmt.Fprintf(w, "  Tasks:    %d completed, %d failed, %d cancelled of %d\n",
			r.Counts.Completed, r.Counts.Failed, r.Counts.Cancelled, r.Counts.Total)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, taskTable(rec.Tasks))

	for _, t := range rec.Tasks {
		if t.Result == nil || t.Result.Error == "" {
			continue
		}
		sym, a := statusSymbol(t.Status)
		printStatus(w, sym, fmt.Sprintf("%s: %s", t.ID, t.Result.Error), a)
	}
}

func runSymbol(s store.RunStatus) (string, color.Attribute) {
	switch s {
	case store.RunCompleted:
		return "✓", okColor
	case store.RunFailed:
		return "✗", failColor
	case store.RunCancelled:
		return "⊘", warnColor
	default:
		return "▶", infoColor
	}
}
