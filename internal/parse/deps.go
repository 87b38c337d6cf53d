package parse

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ShayCichocki/taskweave/pkg/models"
)

// nearMatchThreshold is the minimum normalized similarity for a fuzzy
// title match.
const nearMatchThreshold = 0.8

var (
	parenAnnotation   = regexp.MustCompile(`(?i)\(\s*(?:depends\s+on|deps|after|requires)\s*:?\s*([^)]*)\)`)
	bracketAnnotation = regexp.MustCompile(`(?i)\[\s*(?:deps|depends\s+on)\s*:\s*([^\]]*)\]`)
	inlineAnnotation  = regexp.MustCompile(`(?i)(^|[.;,]\s*)(?:depends\s+on|after|requires)(?:\s*(:)\s*|\s+)([^.;\n]+)[.;]?`)

	ordinalRef = regexp.MustCompile(`^#(\d+)$`)
	prefixRef  = regexp.MustCompile(`(?i)^(task|step)[\s#-]*(\d+)$`)
	refSplit   = regexp.MustCompile(`(?i)\s*(?:,|;|&|\band\b)\s*`)
	spaceRun   = regexp.MustCompile(`[ \t]+`)
)

// inlineRef is a bare "after X" or "requires X" clause. It reads the same as
// prose, so it only counts as a dependency once every reference resolves to
// another task; otherwise span stays in the text.
type inlineRef struct {
	span string
	refs []string
}

// stripAnnotations removes dependency annotations from text and returns the
// cleaned text with the raw references found, in order of appearance.
// Parenthesized, bracketed, colon and id-shaped inline forms are removed
// outright. Other inline clauses are left in place and returned as
// candidates for the caller to resolve.
func stripAnnotations(text string) (string, []string, []inlineRef) {
	var refs []string
	var candidates []inlineRef
	collect := func(list string) {
		refs = append(refs, splitRefs(list)...)
	}

	text = parenAnnotation.ReplaceAllStringFunc(text, func(m string) string {
		collect(parenAnnotation.FindStringSubmatch(m)[1])
		return ""
	})
	text = bracketAnnotation.ReplaceAllStringFunc(text, func(m string) string {
		collect(bracketAnnotation.FindStringSubmatch(m)[1])
		return ""
	})

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = inlineAnnotation.ReplaceAllStringFunc(line, func(m string) string {
			sub := inlineAnnotation.FindStringSubmatch(m)
			list := splitRefs(sub[3])
			if sub[2] == ":" || allIDShaped(list) {
				refs = append(refs, list...)
				return sub[1]
			}
			if len(list) > 0 {
				candidates = append(candidates, inlineRef{span: m[len(sub[1]):], refs: list})
			}
			return m
		})
	}
	return tidy(strings.Join(lines, "\n")), refs, candidates
}

// removeSpan deletes the first occurrence of span from text.
func removeSpan(text, span string) string {
	i := strings.Index(text, span)
	if i < 0 {
		return text
	}
	return tidy(text[:i] + text[i+len(span):])
}

// tidy collapses spacing, trims dangling separators and drops blank lines.
func tidy(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		line = strings.TrimSpace(strings.TrimRight(line, ",;"))
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func allIDShaped(refs []string) bool {
	if len(refs) == 0 {
		return false
	}
	for _, ref := range refs {
		if !ordinalRef.MatchString(ref) && !prefixRef.MatchString(ref) {
			return false
		}
	}
	return true
}

func splitRefs(list string) []string {
	var refs []string
	for _, part := range refSplit.Split(list, -1) {
		part = strings.Trim(strings.TrimSpace(part), "\"'`.")
		part = strings.TrimSpace(part)
		if part != "" {
			refs = append(refs, part)
		}
	}
	return refs
}

// resolver maps references to task ids by id, ordinal, or title.
type resolver struct {
	tasks  []*models.Task
	byID   map[string]string
	titles []string
}

func newResolver(tasks []*models.Task) *resolver {
	r := &resolver{
		tasks:  tasks,
		byID:   make(map[string]string, len(tasks)),
		titles: make([]string, len(tasks)),
	}
	for i, t := range tasks {
		key := strings.ToLower(t.ID)
		if _, dup := r.byID[key]; !dup {
			r.byID[key] = t.ID
		}
		r.titles[i] = normalizeTitle(t.Title)
	}
	return r
}

func (r *resolver) resolve(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}

	if id, ok := r.byID[strings.ToLower(ref)]; ok {
		return id, true
	}

	if m := ordinalRef.FindStringSubmatch(ref); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= 1 && n <= len(r.tasks) {
			return r.tasks[n-1].ID, true
		}
		return "", false
	}

	if m := prefixRef.FindStringSubmatch(ref); m != nil {
		if id, ok := r.byID[strings.ToLower(m[1])+"-"+m[2]]; ok {
			return id, true
		}
	}

	norm := normalizeTitle(ref)
	if norm == "" {
		return "", false
	}

	for i, title := range r.titles {
		if title == norm {
			return r.tasks[i].ID, true
		}
	}

	if len(norm) >= 3 {
		match := -1
		for i, title := range r.titles {
			if strings.HasPrefix(title, norm) {
				if match >= 0 {
					match = -2
					break
				}
				match = i
			}
		}
		if match >= 0 {
			return r.tasks[match].ID, true
		}
	}

	best, bestScore := -1, 0.0
	for i, title := range r.titles {
		if score := similarity(norm, title); score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 && bestScore >= nearMatchThreshold {
		return r.tasks[best].ID, true
	}

	return "", false
}

// resolvesAll reports whether every ref names a task other than self.
func (r *resolver) resolvesAll(refs []string, self string) bool {
	for _, ref := range refs {
		if id, ok := r.resolve(ref); !ok || id == self {
			return false
		}
	}
	return len(refs) > 0
}

// normalizeTitle lowercases s and collapses punctuation and spacing.
func normalizeTitle(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// similarity returns 1 - levenshtein(a, b) / max(len(a), len(b)).
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
