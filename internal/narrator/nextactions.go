package narrator

import (
	"regexp"
	"strings"
)

var (
	// markerRE matches a trimmed line that is only the "Next actions:" label,
	// tolerating emphasis around it and the singular form. Prose that merely
	// mentions a next action does not match.
	markerRE = regexp.MustCompile(`(?i)^(?:\*\*|__)?\s*next\s+actions?\s*(?:\*\*|__)?\s*:\s*(?:\*\*|__)?$`)

	// bulletRE matches a trimmed list item. "*" needs a following space so
	// that a bold line such as "**Clue**" is not read as a bullet.
	bulletRE = regexp.MustCompile(`^(?:[-+]\s*|\*\s+)(.+)$`)

	emphasisREs = []*regexp.Regexp{
		regexp.MustCompile(`\*\*(.+?)\*\*`),
		regexp.MustCompile(`__(.+?)__`),
		regexp.MustCompile(`\*(.+?)\*`),
		regexp.MustCompile(`_(.+?)_`),
	}
)

// ExtractNextActions returns the suggested commands listed under the first
// "Next actions:" marker in markdown.
//
// After the marker, bullet lines are collected in order; blank lines and
// heading lines are skipped; the first other non-empty line ends the list.
// Emphasis markers inside an action are removed. Without a marker the result
// is empty, never nil.
func ExtractNextActions(markdown string) []string {
	actions := []string{}
	lines := strings.Split(markdown, "\n")

	start := -1
	for i, line := range lines {
		if markerRE.MatchString(strings.TrimSpace(line)) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return actions
	}

	for _, line := range lines[start:] {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		m := bulletRE.FindStringSubmatch(t)
		if m == nil {
			break
		}
		if a := stripEmphasis(strings.TrimSpace(m[1])); a != "" {
			actions = append(actions, a)
		}
	}
	return actions
}

func stripEmphasis(s string) string {
	for _, re := range emphasisREs {
		s = re.ReplaceAllString(s, "$1")
	}
	return strings.TrimSpace(s)
}
