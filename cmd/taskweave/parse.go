package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskweave/internal/parse"
	"github.com/ShayCichocki/taskweave/pkg/models"
)

var (
	parseFormat    string
	parseDecompose bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <file|->",
	Short: "Parse requirements into tasks",
	Long: `Parse a requirements document, a step plan or a JSON task list into
tasks and print them. Dependencies that cannot be resolved are reported as
warnings on stderr.`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().StringVarP(&parseFormat, "format", "f", formatTable, "Output format: table, json, yaml")
	parseCmd.Flags().BoolVar(&parseDecompose, "decompose", false, "Ask the collaborator to decompose the input first")
}

type parseView struct {
	Shape    parse.Shape    `json:"shape" yaml:"shape"`
	Tasks    []*models.Task `json:"tasks" yaml:"tasks"`
	Warnings []string       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func runParse(cmd *cobra.Command, args []string) error {
	if err := checkFormat(parseFormat); err != nil {
		return err
	}
	decompose := cfg.Parser.Decompose
	if cmd.Flags().Changed("decompose") {
		decompose = parseDecompose
	}

	res, _, err := loadTasks(cmd.Context(), cmd, args[0], decompose)
	if err != nil {
		return err
	}
	printWarnings(cmd.ErrOrStderr(), res.Warnings, nil)

	out := cmd.OutOrStdout()
	if parseFormat != formatTable {
		view := parseView{Shape: res.Shape, Tasks: res.Tasks}
		for _, w := range res.Warnings {
			view.Warnings = append(view.Warnings, w.String())
		}
		return encode(out, parseFormat, view)
	}

	if len(res.Tasks) == 0 {
		fmt.Fprintln(out, "No tasks found.")
		return nil
	}
	fmt.Fprintf(out, "Parsed %d tasks (%s)\n", len(res.Tasks), res.Shape)
	fmt.Fprintln(out, taskTable(res.Tasks))
	return nil
}
