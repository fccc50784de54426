package gatherer

import (
	"strings"

	"github.com/xhad/deepresearch/internal/models"
)

type occurrence struct {
	group, item int
}

// Deduplicate keeps exactly one occurrence of every url across groups. An
// occurrence with a snippet beats one without. Otherwise the highest scored
// one wins when the scores can be compared, and the first seen in group
// order wins when they cannot. The retained occurrence stays in the group
// it was found in. Group order and shape are preserved, and running it on
// its own output changes nothing.
func Deduplicate(groups []models.EvidenceGroup) []models.EvidenceGroup {
	return dedupe(groups, func(_ int, item models.EvidenceItem) bool {
		return strings.TrimSpace(item.Snippet) != ""
	})
}

// deduplicate ranks occurrences by whether Filter would keep them, so a
// url is never lost to a retained duplicate that is then dropped.
func (g *Gatherer) deduplicate(groups []models.EvidenceGroup) []models.EvidenceGroup {
	terms := make([][]string, len(groups))
	for gi, group := range groups {
		terms[gi] = g.processor.Terms(group.Query)
	}
	return dedupe(groups, func(gi int, item models.EvidenceItem) bool {
		return g.reject(terms[gi], item) == ""
	})
}

func dedupe(groups []models.EvidenceGroup, keeps func(group int, item models.EvidenceItem) bool) []models.EvidenceGroup {
	best := make(map[string]occurrence)
	for gi, group := range groups {
		for ii, item := range group.Items {
			cur, seen := best[item.URL]
			if !seen {
				best[item.URL] = occurrence{group: gi, item: ii}
				continue
			}
			current := groups[cur.group].Items[cur.item]
			if outranks(item, keeps(gi, item), current, keeps(cur.group, current)) {
				best[item.URL] = occurrence{group: gi, item: ii}
			}
		}
	}

	out := make([]models.EvidenceGroup, len(groups))
	for gi, group := range groups {
		items := make([]models.EvidenceItem, 0, len(group.Items))
		for ii, item := range group.Items {
			if best[item.URL] == (occurrence{group: gi, item: ii}) {
				items = append(items, item)
			}
		}
		out[gi] = models.EvidenceGroup{
			Query:  group.Query,
			Engine: group.Engine,
			Items:  items,
		}
	}
	return out
}

// outranks prefers a keepable candidate over a current occurrence that
// would be dropped. Between equals only a strictly higher score wins; ties
// and missing scores keep the earlier occurrence.
func outranks(candidate models.EvidenceItem, candidateKept bool, current models.EvidenceItem, currentKept bool) bool {
	if candidateKept != currentKept {
		return candidateKept
	}
	if candidate.Score == nil || current.Score == nil {
		return false
	}
	return *candidate.Score > *current.Score
}
