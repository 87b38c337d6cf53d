package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskweave/internal/config"
	"github.com/ShayCichocki/taskweave/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	logFile   string
	stateDir  string

	cfg      *config.Config
	logger   = logging.Nop()
	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "taskweave",
	Short: "Decompose requirements into phased tasks and execute them",
	Long: `Taskweave parses a requirements document or step plan into tasks,
orders them into dependency phases, and executes each phase concurrently
against a collaborator.

Each task receives the outputs of the tasks it depends on together with a
shared context that accumulates across phases.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default: user and project config)")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&logFormat, "log-format", "", "Log format: text or json")
	flags.StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	flags.StringVar(&stateDir, "state-dir", ".taskweave", "Directory for run state and signals")

	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads configuration and builds the logger shared by every command.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFromPath(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if flags.Changed("log-file") {
		cfg.Logging.Path = logFile
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	l, closeFn, err := logging.New(logging.Options{
		Path:   cfg.Logging.Path,
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	logger, closeLog = l, closeFn
	slog.SetDefault(logger)
	return nil
}
