package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/taskweave/pkg/models"
)

// ErrNoJSONArray is returned when a response holds no JSON array.
var ErrNoJSONArray = errors.New("no JSON array found")

// jsonTask is one entry of a JSON task list.
type jsonTask struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Priority     *int     `json:"priority"`
	Tags         []string `json:"tags"`
	DependsOn    []string `json:"depends_on"`
	Dependencies []string `json:"dependencies"`
}

// parseJSON parses a JSON task list. It reports false, with a warning, when
// the text is not a valid list.
func (p *parser) parseJSON(text string) ([]*models.Task, bool) {
	var list []jsonTask
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &list); err != nil {
		p.warn(Warning{
			Kind:    WarnMalformedJSON,
			Message: fmt.Sprintf("input starts with '[' but is not a task list: %v", err),
		})
		return nil, false
	}

	items := make([]item, 0, len(list))
	explicit := make(map[int]int)
	for _, jt := range list {
		title := strings.TrimSpace(jt.Title)
		if title == "" {
			title = strings.SplitN(strings.TrimSpace(jt.Description), "\n", 2)[0]
		}
		if title == "" {
			continue
		}

		id := strings.TrimSpace(jt.ID)
		if id == "" {
			id = fmt.Sprintf("task-%d", len(items)+1)
		}
		if jt.Priority != nil {
			explicit[len(items)] = *jt.Priority
		}

		items = append(items, item{
			id:          id,
			title:       title,
			description: strings.TrimSpace(jt.Description),
			refs:        append(append([]string(nil), jt.DependsOn...), jt.Dependencies...),
			tags:        jt.Tags,
		})
	}

	tasks := p.build(items)
	for i, prio := range explicit {
		tasks[i].Priority = prio
	}
	return tasks, true
}

// ExtractJSONArray returns the outermost JSON array embedded in a
// collaborator response.
func ExtractJSONArray(response string) (string, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end <= start {
		preview := response
		if len(preview) > 200 {
			preview = preview[:200] + "... (truncated)"
		}
		return "", fmt.Errorf("%w in response (got %d chars): %q", ErrNoJSONArray, len(response), preview)
	}
	return response[start : end+1], nil
}
