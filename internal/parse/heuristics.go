package parse

import (
	"strings"

	"github.com/ShayCichocki/taskweave/pkg/models"
)

// Priority levels. Higher runs earlier within a phase.
const (
	PriorityLow      = 1
	PriorityNormal   = 3
	PriorityHigh     = 4
	PriorityCritical = 5
)

// tagKeywords maps each tag to the words that imply it. Tags are applied in
// this order.
var tagKeywords = []struct {
	tag   string
	words []string
}{
	{"foundation", []string{"setup", "init", "initialize", "scaffold", "bootstrap", "configure", "configuration", "install", "database", "schema", "migration", "repo", "repository"}},
	{"interface", []string{"api", "interface", "component", "service", "module", "contract", "endpoint", "protocol"}},
	{"utility", []string{"util", "utils", "utility", "helper", "helpers", "logging", "tooling", "script"}},
	{"ui", []string{"ui", "frontend", "page", "view", "screen", "button", "form", "layout", "css", "style", "dashboard"}},
	{"feature", []string{"implement", "feature", "add", "build", "support", "enable", "create"}},
	{"testing", []string{"test", "tests", "testing", "verify", "validation"}},
	{"documentation", []string{"doc", "docs", "documentation", "readme", "guide"}},
}

var priorityKeywords = []struct {
	priority int
	words    []string
}{
	{PriorityCritical, []string{"critical", "must", "urgent", "blocker", "essential"}},
	{PriorityHigh, []string{"important", "high"}},
	{PriorityNormal, []string{"should"}},
	{PriorityLow, []string{"optional", "could", "nice", "eventually", "low"}},
}

func words(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(normalizeTitle(text)) {
		set[w] = true
	}
	return set
}

// tagsOf derives tags from keyword classes.
func tagsOf(text string) []string {
	ws := words(text)
	var tags []string
	for _, class := range tagKeywords {
		for _, w := range class.words {
			if ws[w] {
				tags = append(tags, class.tag)
				break
			}
		}
	}
	return tags
}

// priorityOf returns the strongest priority keyword's level, or
// PriorityNormal.
func priorityOf(text string) int {
	ws := words(text)
	for _, level := range priorityKeywords {
		for _, w := range level.words {
			if ws[w] {
				return level.priority
			}
		}
	}
	return PriorityNormal
}

// effortOf sizes a task 1..5 by word count.
func effortOf(text string) int {
	n := len(strings.Fields(text))
	switch {
	case n < 20:
		return 1
	case n < 50:
		return 2
	case n < 100:
		return 3
	case n < 200:
		return 4
	default:
		return 5
	}
}

// inferDependencies adds dependencies implied by tags: features depend on
// earlier interface and foundation tasks, and ui tasks depend on earlier
// feature and interface tasks.
func inferDependencies(tasks []*models.Task) {
	for i, task := range tasks {
		var wants []string
		switch {
		case task.HasTag("ui"):
			wants = []string{"feature", "interface"}
		case task.HasTag("feature"):
			wants = []string{"interface", "foundation"}
		default:
			continue
		}

		have := make(map[string]bool, len(task.Dependencies))
		for _, d := range task.Dependencies {
			have[d] = true
		}
		for _, earlier := range tasks[:i] {
			if have[earlier.ID] || earlier.ID == task.ID || !hasAny(earlier, wants) {
				continue
			}
			have[earlier.ID] = true
			task.Dependencies = append(task.Dependencies, earlier.ID)
		}
	}
}

func hasAny(task *models.Task, tags []string) bool {
	for _, t := range tags {
		if task.HasTag(t) {
			return true
		}
	}
	return false
}
