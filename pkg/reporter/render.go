package reporter

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/xhad/deepresearch/internal/models"
)

const (
	sectionSummary     = "Summary"
	sectionAnalysis    = "Detailed Analysis"
	sectionMethodology = "How this was researched"
	sectionSources     = "Sources"
)

var (
	draftMarkerRe = regexp.MustCompile(`(?i)\[\s*(S\d+(?:\s*[,;]\s*S\d+)*)\s*\]`)
	draftIDRe     = regexp.MustCompile(`(?i)S(\d+)`)
	bareMarkerRe  = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)
)

// citer renumbers [S#] draft markers to [n] in order of first use.
type citer struct {
	items  []models.EvidenceItem
	number map[int]int
	order  []int
	err    error
}

func newCiter(items []models.EvidenceItem) *citer {
	return &citer{items: items, number: make(map[int]int)}
}

func (c *citer) cite(text string) string {
	text = neutralize(text)
	return draftMarkerRe.ReplaceAllStringFunc(text, func(marker string) string {
		var b strings.Builder
		for _, m := range draftIDRe.FindAllStringSubmatch(marker, -1) {
			id, _ := strconv.Atoi(m[1])
			if id < 1 || id > len(c.items) {
				if c.err == nil {
					c.err = fmt.Errorf("%w: unknown source S%s", ErrInvalidReport, m[1])
				}
				continue
			}
			n, ok := c.number[id-1]
			if !ok {
				c.order = append(c.order, id-1)
				n = len(c.order)
				c.number[id-1] = n
			}
			fmt.Fprintf(&b, "[%d]", n)
		}
		return b.String()
	})
}

// neutralize turns numeric brackets that did not come from a draft marker
// into parentheses so they cannot pass for citations.
func neutralize(text string) string {
	return bareMarkerRe.ReplaceAllString(text, "($1)")
}

// clean trims model text and demotes top-level headings so it cannot open
// a section of its own.
func clean(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimLeft(line, " "), "# ") {
			lines[i] = "##" + strings.TrimLeft(line, " ")
		}
	}
	return strings.Join(lines, "\n")
}

func render(bundle models.EvidenceBundle, items []models.EvidenceItem, d draft) (models.Report, error) {
	c := newCiter(items)

	summary := c.cite(clean(d.Summary))
	analysis := c.cite(clean(d.Analysis))
	if summary == "" || analysis == "" {
		return models.Report{}, fmt.Errorf("%w: summary and analysis are required", ErrInvalidReport)
	}

	conflicts := append(append([]conflict(nil), d.Conflicts...), noteConflicts(bundle, items)...)
	var disagreements []string
	for _, cf := range conflicts {
		claim := c.cite(strings.Join(strings.Fields(cf.Claim), " "))
		if claim == "" {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "- **%s**", claim)
		for _, p := range cf.Positions {
			if p = c.cite(strings.Join(strings.Fields(p), " ")); p != "" {
				fmt.Fprintf(&b, "\n  - %s", p)
			}
		}
		disagreements = append(disagreements, b.String())
	}

	limitations := c.cite(clean(d.Limitations))

	if c.err != nil {
		return models.Report{}, c.err
	}
	if len(c.order) == 0 {
		return models.Report{}, fmt.Errorf("%w: no evidence is cited", ErrInvalidReport)
	}

	sources := make([]models.CitedSource, len(c.order))
	for i, idx := range c.order {
		it := items[idx]
		domain := domainOf(it.URL)
		title := strings.TrimSpace(it.Title)
		if title == "" {
			title = domain
		}
		sources[i] = models.CitedSource{Index: i + 1, Title: title, URL: it.URL, Domain: domain}
	}

	var md strings.Builder
	heading := func(title string) { fmt.Fprintf(&md, "# %s\n\n", title) }

	heading(sectionSummary)
	md.WriteString(summary + "\n\n")

	heading(sectionAnalysis)
	md.WriteString(analysis + "\n\n")
	if len(disagreements) > 0 {
		md.WriteString("## Where sources disagree\n\n")
		md.WriteString(strings.Join(disagreements, "\n") + "\n\n")
	}

	heading(sectionMethodology)
	fmt.Fprintf(&md, "Evidence was gathered with web search (%s) using %d queries derived from the question:\n\n",
		engineOf(bundle), len(bundle.ExpandedQueries))
	for i, q := range bundle.ExpandedQueries {
		fmt.Fprintf(&md, "%d. %s\n", i+1, neutralize(q))
	}
	fmt.Fprintf(&md, "\n%d unique sources were retained after removing duplicate urls and low-quality or off-topic results; %d are cited in this report.\n\n",
		len(items), len(sources))
	if limitations != "" {
		fmt.Fprintf(&md, "**Limitations.** %s\n\n", limitations)
	}

	heading(sectionSources)
	for i, s := range sources {
		if i > 0 {
			md.WriteString("\n")
		}
		fmt.Fprintf(&md, "%s\n", sourceLine(s))
	}

	return models.Report{Markdown: md.String(), Sources: sources}, nil
}

// noteConflicts reports queries whose notes hold both supporting and
// refuting sources.
func noteConflicts(bundle models.EvidenceBundle, items []models.EvidenceItem) []conflict {
	id := make(map[string]int, len(items))
	for i, it := range items {
		id[it.URL] = i + 1
	}

	byQuery := make(map[string][]models.Note)
	for _, n := range bundle.Notes {
		if _, ok := id[n.SourceURL]; ok {
			byQuery[n.Query] = append(byQuery[n.Query], n)
		}
	}

	var out []conflict
	for _, q := range bundle.ExpandedQueries {
		var supports, refutes []string
		for _, n := range byQuery[q] {
			position := fmt.Sprintf("%s [S%d]", strings.TrimSpace(n.Summary), id[n.SourceURL])
			switch n.Stance {
			case "supports":
				supports = append(supports, "Supports: "+position)
			case "refutes":
				refutes = append(refutes, "Refutes: "+position)
			}
		}
		if len(supports) > 0 && len(refutes) > 0 {
			out = append(out, conflict{
				Claim:     fmt.Sprintf("Sources found for \"%s\" take opposing positions", q),
				Positions: append(supports, refutes...),
			})
		}
	}
	return out
}

func sourceLine(s models.CitedSource) string {
	return fmt.Sprintf("[%d] %s - %s (%s)", s.Index, s.Title, s.URL, s.Domain)
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func engineOf(bundle models.EvidenceBundle) string {
	for _, g := range bundle.SearchResults {
		if g.Engine != "" {
			return g.Engine
		}
	}
	return "unknown engine"
}
