package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskweave/pkg/models"
)

var (
	planFormat    string
	planDecompose bool
)

var planCmd = &cobra.Command{
	Use:   "plan <file|->",
	Short: "Show the execution phases for requirements",
	Long: `Parse the input, build the dependency graph and print the phases the
tasks would run in. Tasks in the same phase run concurrently.

Fails if the dependencies contain a cycle.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planFormat, "format", "f", formatTable, "Output format: table, json, yaml")
	planCmd.Flags().BoolVar(&planDecompose, "decompose", false, "Ask the collaborator to decompose the input first")
}

type planView struct {
	Fingerprint string         `json:"fingerprint" yaml:"fingerprint"`
	Phases      []models.Phase `json:"phases" yaml:"phases"`
	Tasks       []*models.Task `json:"tasks" yaml:"tasks"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	if err := checkFormat(planFormat); err != nil {
		return err
	}
	decompose := cfg.Parser.Decompose
	if cmd.Flags().Changed("decompose") {
		decompose = planDecompose
	}

	res, _, err := loadTasks(cmd.Context(), cmd, args[0], decompose)
	if err != nil {
		return err
	}
	g, phases, err := buildPlan(res.Tasks)
	if err != nil {
		return err
	}
	printWarnings(cmd.ErrOrStderr(), res.Warnings, g.Warnings())

	out := cmd.OutOrStdout()
	if planFormat != formatTable {
		return encode(out, planFormat, planView{Fingerprint: g.Fingerprint(), Phases: phases, Tasks: g.Tasks()})
	}

	if len(phases) == 0 {
		fmt.Fprintln(out, "No tasks found.")
		return nil
	}
	fmt.Fprintf(out, "%d tasks in %d phases (graph %s)\n\n", g.Size(), len(phases), shortID(g.Fingerprint()))
	for _, p := range phases {
		titles := make([]string, 0, len(p.TaskIDs))
		for _, id := range p.TaskIDs {
			titles = append(titles, fmt.Sprintf("%s %s", id, truncate(g.Task(id).Title, 40)))
		}
		printStatus(out, fmt.Sprintf("Phase %d", p.Index), strings.Join(titles, "; "), infoColor)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, taskTable(g.Tasks()))
	return nil
}

// shortID abbreviates ids and fingerprints for display.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
