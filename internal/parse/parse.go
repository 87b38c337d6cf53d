// Package parse turns requirements documents, step-numbered plans and JSON
// task lists into tasks.
package parse

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ShayCichocki/taskweave/pkg/models"
)

// Shape identifies which input format was recognized.
type Shape string

const (
	ShapeEmpty        Shape = "empty"
	ShapeJSON         Shape = "json"
	ShapeSteps        Shape = "steps"
	ShapeRequirements Shape = "requirements"
)

// WarningKind classifies a parse warning.
type WarningKind string

const (
	WarnUnresolvedDependency WarningKind = "unresolved_dependency"
	WarnMalformedStep        WarningKind = "malformed_step"
	WarnMalformedJSON        WarningKind = "malformed_json"
)

// Warning records input that was dropped while parsing. Warnings are never
// fatal.
type Warning struct {
	Kind    WarningKind `json:"kind" yaml:"kind"`
	TaskID  string      `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	Ref     string      `json:"ref,omitempty" yaml:"ref,omitempty"`
	Message string      `json:"message" yaml:"message"`
}

func (w Warning) String() string {
	if w.TaskID != "" {
		return fmt.Sprintf("%s: %s: %s", w.Kind, w.TaskID, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}

// Result is the outcome of Parse.
type Result struct {
	Tasks    []*models.Task
	Warnings []Warning
	Shape    Shape
}

// Options tunes parsing.
type Options struct {
	// InferDependencies adds dependencies implied by task tags.
	InferDependencies bool
	// Logger receives warnings as they are recorded.
	Logger *slog.Logger
}

// Parse parses text with default options.
func Parse(text string) *Result {
	return ParseWithOptions(text, Options{})
}

// ParseWithOptions detects the input shape and parses it. Empty or
// unrecognizable input yields zero tasks, never an error. The same input
// always yields the same tasks.
func ParseWithOptions(text string, opts Options) *Result {
	p := &parser{opts: opts, logger: opts.Logger}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}

	res := &Result{Shape: ShapeEmpty}
	if strings.TrimSpace(text) == "" {
		return res
	}

	var items []item
	switch {
	case looksLikeJSON(text):
		tasks, ok := p.parseJSON(text)
		if ok {
			res.Shape = ShapeJSON
			res.Tasks = tasks
			break
		}
		fallthrough
	default:
		if steps := p.parseSteps(text); steps != nil {
			res.Shape = ShapeSteps
			items = steps
		} else if reqs := p.parseRequirements(text); len(reqs) > 0 {
			res.Shape = ShapeRequirements
			items = reqs
		}
		res.Tasks = p.build(items)
	}

	if opts.InferDependencies {
		inferDependencies(res.Tasks)
	}

	res.Warnings = p.warnings
	if len(res.Tasks) == 0 && res.Shape != ShapeJSON {
		res.Shape = ShapeEmpty
	}
	return res
}

// item is one parsed unit before it becomes a task.
type item struct {
	id          string
	title       string
	description string
	refs        []string
	inline      []inlineRef
	tags        []string
}

type parser struct {
	opts     Options
	logger   *slog.Logger
	warnings []Warning
}

func (p *parser) warn(w Warning) {
	p.warnings = append(p.warnings, w)
	p.logger.Warn(w.Message, "component", "parser", "kind", string(w.Kind), "task_id", w.TaskID, "ref", w.Ref)
}

// build converts items into tasks and resolves their dependency references.
func (p *parser) build(items []item) []*models.Task {
	if len(items) == 0 {
		return nil
	}

	tasks := make([]*models.Task, len(items))
	for i, it := range items {
		tasks[i] = &models.Task{
			ID:          it.id,
			Title:       it.title,
			Description: it.description,
			Status:      models.TaskStatusPending,
		}
	}

	r := newResolver(tasks)
	for i, it := range items {
		task := tasks[i]
		refs := it.refs
		for _, c := range it.inline {
			if !r.resolvesAll(c.refs, task.ID) {
				continue
			}
			refs = append(refs, c.refs...)
			if title := removeSpan(task.Title, c.span); title != "" {
				task.Title = title
			}
			if desc := removeSpan(task.Description, c.span); desc != "" {
				task.Description = desc
			}
		}
		task.Dependencies = p.resolveAll(r, task, refs)

		text := task.Title + " " + task.Description
		task.Priority = priorityOf(text)
		task.Tags = mergeTags(it.tags, tagsOf(text))
		task.EstimatedEffort = effortOf(text)
	}
	return tasks
}

func (p *parser) resolveAll(r *resolver, task *models.Task, refs []string) []string {
	var deps []string
	seen := make(map[string]bool)
	for _, ref := range refs {
		id, ok := r.resolve(ref)
		switch {
		case !ok:
			p.warn(Warning{
				Kind:    WarnUnresolvedDependency,
				TaskID:  task.ID,
				Ref:     ref,
				Message: fmt.Sprintf("dependency %q does not match any task", ref),
			})
		case id == task.ID:
			p.warn(Warning{
				Kind:    WarnUnresolvedDependency,
				TaskID:  task.ID,
				Ref:     ref,
				Message: fmt.Sprintf("dependency %q refers to the task itself", ref),
			})
		case !seen[id]:
			seen[id] = true
			deps = append(deps, id)
		}
	}
	return deps
}

func looksLikeJSON(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "[")
}

func mergeTags(a, b []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range [][]string{a, b} {
		for _, t := range list {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
