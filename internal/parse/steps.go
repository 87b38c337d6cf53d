package parse

import (
	"fmt"
	"regexp"
	"strings"
)

var stepHeader = regexp.MustCompile(`^(#{1,3}\s*)?Step\s+(\d+)\s*[:.\-]?\s*(.*)$`)

// parseSteps splits a step-numbered plan. It returns nil when the text has
// no step headers at all.
func (p *parser) parseSteps(text string) []item {
	lines := strings.Split(normalizeNewlines(text), "\n")

	type block struct {
		number string
		title  string
		body   []string
	}

	var blocks []*block
	var cur *block
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if m := stepHeader.FindStringSubmatch(trimmed); m != nil {
			cur = &block{number: m[2], title: strings.TrimSpace(m[3])}
			blocks = append(blocks, cur)
			continue
		}
		if cur == nil || trimmed == "" {
			continue
		}
		cur.body = append(cur.body, trimmed)
	}

	if len(blocks) == 0 {
		return nil
	}

	items := []item{}
	for _, b := range blocks {
		if len(b.body) == 0 {
			p.warn(Warning{
				Kind:    WarnMalformedStep,
				Ref:     "Step " + b.number,
				Message: fmt.Sprintf("step %s has no body; skipped", b.number),
			})
			continue
		}

		id := fmt.Sprintf("step-%d", len(items)+1)
		title, titleRefs, titleInline := stripAnnotations(b.title)
		if title == "" {
			title = "Step " + b.number
		}
		body := strings.Join(b.body, "\n")
		description, bodyRefs, bodyInline := stripAnnotations(body)
		if description == "" {
			description = body
		}

		items = append(items, item{
			id:          id,
			title:       title,
			description: description,
			refs:        append(titleRefs, bodyRefs...),
			inline:      append(titleInline, bodyInline...),
			tags:        []string{"deployment"},
		})
	}
	return items
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
