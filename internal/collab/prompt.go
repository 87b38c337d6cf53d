package collab

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/taskweave/internal/contextmgr"
)

// systemPrompt frames every task call.
const systemPrompt = `You are a code-generation collaborator working on one atomic task of a larger plan.
Complete only the task described. Earlier tasks have finished and their outputs are listed below.
Reply with the generated output only.`

// BuildPrompt renders a request as a user prompt.
func BuildPrompt(req Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Task %s: %s\n\n", req.TaskID, req.Title)
	if req.Description != "" {
		b.WriteString(req.Description)
		b.WriteString("\n\n")
	}

	if tags := stringList(req.Context[contextmgr.KeyTaskTags]); len(tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n\n", strings.Join(tags, ", "))
	}

	var depKeys []string
	for k := range req.Context {
		if strings.HasPrefix(k, "deps.") && strings.HasSuffix(k, ".output") {
			depKeys = append(depKeys, k)
		}
	}
	sort.Strings(depKeys)
	if len(depKeys) > 0 {
		b.WriteString("## Outputs of completed dependencies\n\n")
		for _, k := range depKeys {
			id := strings.TrimSuffix(strings.TrimPrefix(k, "deps."), ".output")
			fmt.Fprintf(&b, "### %s\n%v\n\n", id, req.Context[k])
		}
	}

	var shared []string
	for k := range req.Shared {
		if k == contextmgr.SummaryKey {
			continue
		}
		shared = append(shared, k)
	}
	sort.Strings(shared)
	if len(shared) > 0 {
		fmt.Fprintf(&b, "Shared context keys: %s\n\n", strings.Join(shared, ", "))
	}

	if req.PriorFailure != "" {
		fmt.Fprintf(&b, "## Previous attempt failed (attempt %d)\n%s\nAddress this failure in your reply.\n", req.Attempt-1, req.PriorFailure)
	}

	return strings.TrimSpace(b.String())
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, e := range list {
			out = append(out, fmt.Sprint(e))
		}
		return out
	}
	return nil
}
