package reporter

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/xhad/deepresearch/internal/models"
)

var (
	sections     = []string{sectionSummary, sectionAnalysis, sectionMethodology, sectionSources}
	citationRe   = regexp.MustCompile(`\[(\d+)\]`)
	sourceLineRe = regexp.MustCompile(`^\[(\d+)\] (.+) - (\S+) \(([^()]*)\)$`)
)

// Validate checks a report against its evidence: the four sections in
// order, a source list numbered 1..n whose urls are all in bundle, and body
// citations that match the list exactly and first appear in list order.
func Validate(report models.Report, bundle models.EvidenceBundle) error {
	lines := strings.Split(report.Markdown, "\n")

	var headings []string
	sourcesAt := -1
	for i, line := range lines {
		if !strings.HasPrefix(line, "# ") {
			continue
		}
		title := strings.TrimSpace(line[2:])
		headings = append(headings, title)
		if title == sectionSources {
			sourcesAt = i
		}
	}
	if !slices.Equal(headings, sections) {
		return invalid("sections %q, want %q", headings, sections)
	}

	listed := 0
	for _, line := range lines[sourcesAt+1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := sourceLineRe.FindStringSubmatch(line)
		if m == nil {
			return invalid("malformed source line %q", line)
		}
		n, _ := strconv.Atoi(m[1])
		if n != listed+1 {
			return invalid("source [%d] is out of order", n)
		}
		if n > len(report.Sources) || report.Sources[n-1].URL != m[3] {
			return invalid("source [%d] does not match the source list", n)
		}
		if _, ok := bundle.Lookup(m[3]); !ok {
			return invalid("source [%d] %s is not in the evidence", n, m[3])
		}
		listed = n
	}
	if listed == 0 {
		return invalid("no sources listed")
	}
	if listed != len(report.Sources) {
		return invalid("%d sources listed, %d recorded", listed, len(report.Sources))
	}

	next := 1
	body := strings.Join(lines[:sourcesAt], "\n")
	for _, m := range citationRe.FindAllStringSubmatch(body, -1) {
		n, _ := strconv.Atoi(m[1])
		switch {
		case n < 1 || n > listed:
			return invalid("citation [%d] has no source", n)
		case n == next:
			next++
		case n > next:
			return invalid("citation [%d] appears before [%d]", n, next)
		}
	}
	if next <= listed {
		return invalid("source [%d] is never cited", next)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidReport, fmt.Sprintf(format, args...))
}
