package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/taskweave/pkg/models"
)

// Output formats accepted by --format.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

const (
	okColor   = color.FgGreen
	warnColor = color.FgYellow
	failColor = color.FgRed
	infoColor = color.FgCyan
)

const maxTitleWidth = 60

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	statusStyles = map[models.TaskStatus]lipgloss.Style{
		models.TaskStatusPending:   cellStyle.Foreground(lipgloss.Color("244")),
		models.TaskStatusRunning:   cellStyle.Foreground(lipgloss.Color("39")),
		models.TaskStatusCompleted: cellStyle.Foreground(lipgloss.Color("34")),
		models.TaskStatusFailed:    cellStyle.Foreground(lipgloss.Color("196")),
		models.TaskStatusCancelled: cellStyle.Foreground(lipgloss.Color("214")),
	}
)

// printStatus prints a status line with a colored symbol.
func printStatus(w io.Writer, symbol, msg string, attr color.Attribute) {
	c := color.New(attr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), msg)
}

func statusSymbol(s models.TaskStatus) (string, color.Attribute) {
	switch s {
	case models.TaskStatusCompleted:
		return "✓", okColor
	case models.TaskStatusFailed:
		return "✗", failColor
	case models.TaskStatusCancelled:
		return "⊘", warnColor
	case models.TaskStatusRunning:
		return "▶", infoColor
	default:
		return "·", infoColor
	}
}

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("cannot encode as %q", format)
}

// taskTable renders tasks with their phase, dependencies and status.
func taskTable(tasks []*models.Task) string {
	statuses := make([]models.TaskStatus, len(tasks))
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("ID", "PHASE", "PRI", "DEPENDS ON", "TITLE", "STATUS")
	for i, task := range tasks {
		statuses[i] = task.Status
		deps := strings.Join(task.Dependencies, ",")
		if deps == "" {
			deps = "-"
		}
		t.Row(task.ID, fmt.Sprint(task.Phase), fmt.Sprint(task.Priority), deps,
			truncate(task.Title, maxTitleWidth), string(task.Status))
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case col == 5 && row >= 0 && row < len(statuses):
			if s, ok := statusStyles[statuses[row]]; ok {
				return s
			}
		}
		return cellStyle
	})
	return t.String()
}

// phaseBar renders how many tasks of the plan have finished.
func phaseBar(done, total int) string {
	if total == 0 {
		return ""
	}
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(30))
	return bar.ViewAs(float64(done) / float64(total))
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// formatDuration renders d rounded for display.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
