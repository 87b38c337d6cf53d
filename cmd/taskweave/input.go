package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskweave/internal/graph"
	"github.com/ShayCichocki/taskweave/internal/parse"
	"github.com/ShayCichocki/taskweave/internal/planner"
	"github.com/ShayCichocki/taskweave/pkg/models"
)

// readInput reads the requirements at path. "-" reads stdin. The returned
// source names the input for run records.
func readInput(cmd *cobra.Command, path string) (text, source string, err error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), "stdin", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), path, nil
}

// loadTasks reads and parses the input. With decompose set, the
// collaborator breaks the text into tasks first.
func loadTasks(ctx context.Context, cmd *cobra.Command, path string, decompose bool) (*parse.Result, string, error) {
	text, source, err := readInput(cmd, path)
	if err != nil {
		return nil, "", err
	}

	opts := parse.Options{
		InferDependencies: cfg.Parser.InferDependencies,
		Logger:            logger,
	}
	if !decompose {
		return parse.ParseWithOptions(text, opts), source, nil
	}

	c, err := newCollaborator(ctx, cfg)
	if err != nil {
		return nil, "", err
	}
	res, err := parse.NewDecomposer(c, opts).Decompose(ctx, text)
	if err != nil {
		return nil, "", err
	}
	return res, source, nil
}

// buildPlan builds the dependency graph and layers it into phases.
func buildPlan(tasks []*models.Task) (*graph.DependencyGraph, []models.Phase, error) {
	g, err := graph.Build(tasks, graph.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	phases, err := planner.Plan(g)
	if err != nil {
		return nil, nil, err
	}
	return g, phases, nil
}

// printWarnings reports parse and graph warnings on stderr.
func printWarnings(w io.Writer, parseWarnings []parse.Warning, graphWarnings []graph.Warning) {
	for _, pw := range parseWarnings {
		printStatus(w, "⚠", pw.String(), warnColor)
	}
	for _, gw := range graphWarnings {
		printStatus(w, "⚠", gw.String(), warnColor)
	}
}
