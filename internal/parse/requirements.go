package parse

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	headingLine  = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*$`)
	sectionTitle = regexp.MustCompile(`(?i)^(requirements|tasks)\s*:?$`)
	listItem     = regexp.MustCompile(`^(\s*)(?:[-*+]|\d+[.)])\s+(.*)$`)
)

// maxTitleLen bounds task titles; longer item text keeps its full form in
// the description.
const maxTitleLen = 100

// parseRequirements extracts list items from Requirements/Tasks sections,
// or from top-level list items anywhere when no such section exists.
func (p *parser) parseRequirements(text string) []item {
	lines := strings.Split(normalizeNewlines(text), "\n")

	var raw []rawItem
	if ranges := sections(lines); len(ranges) > 0 {
		for _, rg := range ranges {
			raw = append(raw, collectItems(lines[rg[0]:rg[1]], false)...)
		}
	} else {
		raw = collectItems(lines, true)
	}

	items := make([]item, 0, len(raw))
	for _, ri := range raw {
		whole := strings.TrimSpace(strings.Join(append([]string{ri.first}, ri.rest...), "\n"))
		if whole == "" {
			continue
		}
		first, firstRefs, firstInline := stripAnnotations(ri.first)
		rest, restRefs, restInline := stripAnnotations(strings.Join(ri.rest, "\n"))
		id := fmt.Sprintf("task-%d", len(items)+1)

		title := first
		if title == "" {
			title = strings.SplitN(rest, "\n", 2)[0]
		}
		title = strings.TrimSpace(strings.Trim(title, "*_"))
		if title == "" {
			// The item was nothing but annotations or emphasis.
			title = "Task " + strings.TrimPrefix(id, "task-")
		}
		if r := []rune(title); len(r) > maxTitleLen {
			title = strings.TrimSpace(string(r[:maxTitleLen]))
		}

		description := first
		if rest != "" {
			if description != "" {
				description += "\n"
			}
			description += rest
		}

		if description == "" {
			description = whole
		}

		items = append(items, item{
			id:          id,
			title:       title,
			description: description,
			refs:        append(firstRefs, restRefs...),
			inline:      append(firstInline, restInline...),
		})
	}
	return items
}

// sections returns [start, end) line ranges of the bodies of Requirements
// and Tasks sections. A section ends at the next heading of the same or
// higher level. A bare "Requirements:" line opens a section that ends at
// the next heading of any level.
func sections(lines []string) [][2]int {
	var ranges [][2]int
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])

		level := 0
		name := trimmed
		if m := headingLine.FindStringSubmatch(trimmed); m != nil {
			level = len(m[1])
			name = m[2]
		}
		if !sectionTitle.MatchString(name) {
			continue
		}
		if level == 0 && !strings.HasSuffix(name, ":") {
			continue
		}

		end := len(lines)
		for j := i + 1; j < len(lines); j++ {
			m := headingLine.FindStringSubmatch(strings.TrimSpace(lines[j]))
			if m != nil && (level == 0 || len(m[1]) <= level) {
				end = j
				break
			}
		}
		ranges = append(ranges, [2]int{i + 1, end})
		i = end - 1
	}
	return ranges
}

type rawItem struct {
	first string
	rest  []string
}

// collectItems gathers list items at the outermost indent. Deeper list
// items and indented prose are continuation lines of the current item. When
// topLevelOnly is set, only unindented items count.
func collectItems(lines []string, topLevelOnly bool) []rawItem {
	var items []rawItem
	var cur *rawItem
	baseIndent := -1

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if headingLine.MatchString(strings.TrimSpace(line)) {
			cur = nil
			continue
		}

		indent := indentOf(line)
		if m := listItem.FindStringSubmatch(line); m != nil {
			if topLevelOnly && indent > 0 && cur == nil {
				continue
			}
			if baseIndent < 0 {
				baseIndent = indent
				if topLevelOnly {
					baseIndent = 0
				}
			}
			if indent <= baseIndent {
				items = append(items, rawItem{first: strings.TrimSpace(m[2])})
				cur = &items[len(items)-1]
				continue
			}
			if cur != nil {
				cur.rest = append(cur.rest, strings.TrimSpace(m[2]))
			}
			continue
		}

		if cur != nil && indent > baseIndent {
			cur.rest = append(cur.rest, strings.TrimSpace(line))
			continue
		}
		// Unindented prose closes the current item.
		cur = nil
	}
	return items
}

func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}
