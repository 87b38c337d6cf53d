package parse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ShayCichocki/taskweave/internal/collab"
)

// decompositionPrompt asks the collaborator for a JSON task list.
const decompositionPrompt = `Break this request into atomic tasks. Each task should be completable in one collaborator call.

Request:
%s

Return ONLY a JSON array of tasks with this exact structure (no other text):
[
  {
    "id": "task-1",
    "title": "Short task title",
    "description": "Detailed task description",
    "priority": 3,
    "tags": ["foundation"],
    "depends_on": ["task id or title of dependency"]
  }
]

Guidelines:
- Priority is 1 (optional) to 5 (critical)
- Tags are drawn from: foundation, interface, utility, ui, feature, testing, documentation
- Only add dependencies when one task truly needs another's output
- Use an empty array [] for depends_on if there are no dependencies`

// Decomposer asks a collaborator to break free text into tasks.
type Decomposer struct {
	collab collab.Collaborator
	opts   Options
}

// NewDecomposer creates a Decomposer backed by c.
func NewDecomposer(c collab.Collaborator, opts Options) *Decomposer {
	return &Decomposer{collab: c, opts: opts}
}

// Decompose returns the collaborator's task list. When the reply holds no
// usable JSON array, or yields no tasks, the text is parsed directly.
func (d *Decomposer) Decompose(ctx context.Context, text string) (*Result, error) {
	logger := d.opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	resp, err := d.collab.Call(ctx, collab.Request{
		TaskID:      "decompose",
		Title:       "Decompose request into tasks",
		Description: fmt.Sprintf(decompositionPrompt, text),
		Attempt:     1,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("decompose request: %w", err)
	}

	array, err := ExtractJSONArray(resp.Output)
	if err == nil {
		res := ParseWithOptions(array, d.opts)
		if res.Shape == ShapeJSON && len(res.Tasks) > 0 {
			return res, nil
		}
	}

	logger.Warn("decomposition reply unusable; parsing input directly", "component", "parser", "error", err)
	return ParseWithOptions(text, d.opts), nil
}
