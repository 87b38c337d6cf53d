package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/taskweave/internal/collab"
	"github.com/ShayCichocki/taskweave/internal/config"
	"github.com/ShayCichocki/taskweave/internal/contextmgr"
	"github.com/ShayCichocki/taskweave/internal/engine"
	"github.com/ShayCichocki/taskweave/internal/signals"
	"github.com/ShayCichocki/taskweave/internal/store"
	"github.com/ShayCichocki/taskweave/pkg/models"
)

var (
	errTasksFailed  = errors.New("tasks failed")
	errRunCancelled = errors.New("run cancelled")
)

// runOptions holds the run command flags. Each one overrides its config
// setting only when set on the command line.
type runOptions struct {
	maxConcurrency int
	timeout        time.Duration
	retries        int
	policy         string
	collaborator   string
	endpoint       string
	model          string
	bedrock        bool
	db             string
	noStore        bool
	decompose      bool
	format         string
	initial        map[string]string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run <file|->",
	Short: "Parse, plan and execute requirements",
	Long: `Run parses the input into tasks, plans dependency phases and executes
them against the configured collaborator. Tasks within a phase run
concurrently up to --max-concurrency.

Interrupting the process, or running 'taskweave cancel' from another
terminal, stops dispatch: running calls are abandoned and pending tasks are
marked cancelled.

Each run is recorded in the state database unless --no-store is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	registerRunFlags(runCmd.Flags(), &runOpts)
}

func registerRunFlags(f *pflag.FlagSet, o *runOptions) {
	f.IntVarP(&o.maxConcurrency, "max-concurrency", "j", 0, "Maximum tasks running at once")
	f.DurationVar(&o.timeout, "timeout", 0, "Timeout for each collaborator call (0 disables)")
	f.IntVar(&o.retries, "retries", 0, "Attempts per task, including the first")
	f.StringVar(&o.policy, "policy", "", "Failure policy: continue, skip-dependents, abort-phase")
	f.StringVar(&o.collaborator, "collaborator", "", "Collaborator: anthropic or http")
	f.StringVar(&o.endpoint, "endpoint", "", "Endpoint for the http collaborator")
	f.StringVar(&o.model, "model", "", "Anthropic model")
	f.BoolVar(&o.bedrock, "bedrock", false, "Call Anthropic through AWS Bedrock")
	f.StringVar(&o.db, "db", "", "State database path")
	f.BoolVar(&o.noStore, "no-store", false, "Do not record the run")
	f.BoolVar(&o.decompose, "decompose", false, "Ask the collaborator to decompose the input first")
	f.StringVarP(&o.format, "format", "f", formatTable, "Report format: table, json, yaml")
	f.StringToStringVar(&o.initial, "context", nil, "Initial shared context as key=value pairs")
}

// apply copies the flags that were set onto c and validates the result.
func (o *runOptions) apply(flags *pflag.FlagSet, c *config.Config) error {
	if flags.Changed("max-concurrency") {
		c.Execution.MaxConcurrency = o.maxConcurrency
	}
	if flags.Changed("timeout") {
		c.Collaborator.Timeout = o.timeout
	}
	if flags.Changed("retries") {
		c.Execution.Retries = o.retries
	}
	if flags.Changed("policy") {
		c.Execution.Policy = o.policy
	}
	if flags.Changed("collaborator") {
		c.Collaborator.Kind = o.collaborator
	}
	if flags.Changed("endpoint") {
		c.Collaborator.Endpoint = o.endpoint
		if !flags.Changed("collaborator") {
			c.Collaborator.Kind = config.CollaboratorHTTP
		}
	}
	if flags.Changed("model") {
		c.Anthropic.Model = o.model
	}
	if flags.Changed("bedrock") {
		c.Anthropic.Bedrock = o.bedrock
	}
	if flags.Changed("db") {
		c.Store.Path = o.db
	}
	if flags.Changed("no-store") {
		c.Store.Enabled = !o.noStore
	}
	if flags.Changed("decompose") {
		c.Parser.Decompose = o.decompose
	}
	return c.Validate()
}

// engineOptions translates the config into engine options.
func engineOptions(c *config.Config, initial map[string]string) ([]engine.Option, error) {
	policy, err := engine.ParseFailurePolicy(c.Execution.Policy)
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, len(initial))
	pinned := make([]string, 0, len(initial))
	for k, v := range initial {
		values[k] = v
		pinned = append(pinned, k)
	}
	shared := contextmgr.New(contextmgr.WithInitial(values), contextmgr.WithPinned(pinned...))

	return []engine.Option{
		engine.WithMaxConcurrency(c.Execution.MaxConcurrency),
		engine.WithCallTimeout(c.Collaborator.Timeout),
		engine.WithRetryPolicy(c.Execution.RetryPolicy()),
		engine.WithFailurePolicy(policy),
		engine.WithContextManager(shared),
		engine.WithCompressThreshold(c.Execution.CompressThreshold),
		engine.WithResultLimit(c.Execution.ResultLimit),
		engine.WithLogger(logger),
	}, nil
}

// runReport is the machine-readable outcome of a run.
type runReport struct {
	RunID   string             `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Graph   string             `json:"graph" yaml:"graph"`
	Summary *engine.RunSummary `json:"summary" yaml:"summary"`
	Results []*models.Result   `json:"results" yaml:"results"`
	Context map[string]any     `json:"context,omitempty" yaml:"context,omitempty"`
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := checkFormat(runOpts.format); err != nil {
		return err
	}
	if err := runOpts.apply(cmd.Flags(), cfg); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	verbose := runOpts.format == formatTable

	res, source, err := loadTasks(ctx, cmd, args[0], cfg.Parser.Decompose)
	if err != nil {
		return err
	}
	g, phases, err := buildPlan(res.Tasks)
	if err != nil {
		return err
	}
	printWarnings(errOut, res.Warnings, g.Warnings())
	if g.Size() == 0 {
		fmt.Fprintln(out, "No tasks found.")
		return nil
	}
	tasks := g.Tasks()

	c, err := newCollaborator(ctx, cfg)
	if err != nil {
		return err
	}
	opts, err := engineOptions(cfg, runOpts.initial)
	if err != nil {
		return err
	}
	eng := engine.New(c, opts...)

	var db *store.DB
	var run *store.Run
	if cfg.Store.Enabled {
		db, run, err = startRun(g.Fingerprint(), source, tasks)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	if err := signals.Clear(stateDir); err != nil {
		return fmt.Errorf("clear signals: %w", err)
	}

	if verbose {
		printStatus(out, "▶", fmt.Sprintf("Running %d tasks in %d phases (max %d at once)",
			len(tasks), len(phases), cfg.Execution.MaxConcurrency), infoColor)
	}

	record := func(r *models.Result) {
		if db == nil {
			return
		}
		if err := db.RecordResult(run.ID, r); err != nil {
			logger.Warn("record result failed", "task_id", r.TaskID, "error", err)
		}
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	var (
		summary *engine.RunSummary
		execErr error
		grp     errgroup.Group
	)
	grp.Go(func() error {
		defer stopWatch()
		summary, execErr = eng.Execute(ctx, tasks, phases)
		return nil
	})
	grp.Go(func() error {
		return signals.Watch(watchCtx, stateDir, eng.CancelAll, logger)
	})
	grp.Go(func() error {
		printEvents(out, eng.Events(), len(tasks), verbose, record)
		return nil
	})
	if err := grp.Wait(); err != nil {
		logger.Warn("cancel signal watcher stopped", "error", err)
	}
	if summary == nil {
		return execErr
	}

	results := eng.Results().All()
	if db != nil {
		if err := finishRun(db, run, tasks, results, summary); err != nil {
			logger.Error("save run failed", "run_id", run.ID, "error", err)
		}
	}

	if !verbose {
		report := runReport{Graph: g.Fingerprint(), Summary: summary, Results: results,
			Context: eng.SharedContext().Snapshot()}
		if run != nil {
			report.RunID = run.ID
		}
		if err := encode(out, runOpts.format, report); err != nil {
			return err
		}
	} else {
		printSummary(out, summary, run, eng, c)
	}

	switch {
	case execErr != nil:
		return execErr
	case summary.Failed > 0:
		return fmt.Errorf("%d of %d: %w", summary.Failed, summary.Total, errTasksFailed)
	case summary.Cancelled > 0:
		return errRunCancelled
	}
	return nil
}

// startRun opens the state database and records the pending tasks.
func startRun(fingerprint, source string, tasks []*models.Task) (*store.DB, *store.Run, error) {
	db, err := store.Open(cfg.Store.Path, cfg.Store.Driver)
	if err != nil {
		return nil, nil, err
	}
	db.SetLogger(logger)
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, err
	}

	if cfg.Store.Retention > 0 {
		n, err := db.PurgeOldRuns(cfg.Store.Retention)
		if err != nil {
			logger.Warn("purge old runs failed", "error", err)
		} else if n > 0 {
			logger.Info("purged old runs", "count", n)
		}
	}

	run, err := db.CreateRun(fingerprint, source)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := db.SaveRun(run, tasks, nil); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, run, nil
}

// finishRun writes final task states and stamps the run's tallies.
func finishRun(db *store.DB, run *store.Run, tasks []*models.Task, results []*models.Result, s *engine.RunSummary) error {
	if err := db.SaveRun(run, tasks, results); err != nil {
		return err
	}
	return db.FinishRun(run.ID, store.Counts{
		Total:     s.Total,
		Completed: s.Completed,
		Failed:    s.Failed,
		Cancelled: s.Cancelled,
	})
}

// printEvents reports engine progress until the stream closes. Every
// finalized result is passed to record.
func printEvents(w io.Writer, events <-chan engine.Event, total int, verbose bool, record func(*models.Result)) {
	done := 0
	for ev := range events {
		switch ev.Type {
		case engine.EventResult:
			if ev.Result != nil {
				record(ev.Result)
			}
			continue
		case engine.EventTaskCompleted, engine.EventTaskFailed, engine.EventTaskCancelled:
			done++
		}
		if verbose {
			printEvent(w, ev, done, total)
		}
	}
}

func printEvent(w io.Writer, ev engine.Event, done, total int) {
	switch ev.Type {
	case engine.EventPhaseStarted:
		printStatus(w, "▶", fmt.Sprintf("Phase %d: %s", ev.Phase, ev.Message), infoColor)
	case engine.EventTaskStarted:
		printStatus(w, "·", fmt.Sprintf("%s started", ev.TaskID), infoColor)
	case engine.EventTaskRetry:
		printStatus(w, "↻", fmt.Sprintf("%s attempt %d failed, retrying: %s", ev.TaskID, ev.Attempt, ev.Message), warnColor)
	case engine.EventTaskCompleted:
		printStatus(w, "✓", fmt.Sprintf("%s completed", ev.TaskID), okColor)
	case engine.EventTaskFailed:
		printStatus(w, "✗", fmt.Sprintf("%s failed: %s", ev.TaskID, ev.Message), failColor)
	case engine.EventTaskCancelled:
		printStatus(w, "⊘", fmt.Sprintf("%s cancelled", ev.TaskID), warnColor)
	case engine.EventPhaseCompleted:
		fmt.Fprintf(w, "  %s %d/%d\n", phaseBar(done, total), done, total)
	}
}

func printSummary(w io.Writer, s *engine.RunSummary, run *store.Run, eng *engine.Engine, c collab.Collaborator) {
	fmt.Fprintln(w)
	symbol, attr := "✓", okColor
	switch {
	case s.Failed > 0:
		symbol, attr = "✗", failColor
	case s.Cancelled > 0:
		symbol, attr = "⊘", warnColor
	}
	printStatus(w, symbol, fmt.Sprintf("%d completed, %d failed, %d cancelled in %s",
		s.Completed, s.Failed, s.Cancelled, formatDuration(s.Duration)), attr)
	fmt.Fprintf(w, "  Phases: %d, peak concurrency: %d\n", s.Phases, s.PeakConcurrency)
	fmt.Fprintf(w, "  Shared context: %s across %d keys\n",
		humanize.Bytes(uint64(eng.SharedContext().Size())), eng.SharedContext().Len())
	if a, ok := c.(*collab.Anthropic); ok {
		in, outTok := a.Usage().Total()
		fmt.Fprintf(w, "  Tokens: %s in, %s out over %d calls\n",
			humanize.Comma(in), humanize.Comma(outTok), a.Usage().Calls())
	}
	if n := eng.DroppedEvents(); n > 0 {
		fmt.Fprintf(w, "  Dropped %d progress events\n", n)
	}
	if run != nil {
		fmt.Fprintf(w, "  Run: %s\n", run.ID)
	}
}
