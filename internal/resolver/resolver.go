// Package resolver turns raw candidate spans, possibly from several
// detectors and possibly overlapping, into a non-overlapping selection.
package resolver

import (
	"sort"

	"pii-firewall/internal/entity"
)

// Resolve sorts candidates by (-score, -length, start) and greedily accepts
// each one that overlaps none of the already-accepted spans.
//
// This is greedy interval scheduling weighted by confidence. It does not
// maximize total masked coverage; it is biased toward the detector's most
// confident calls, and the tie-break order is load-bearing: changing it
// changes which PII leaks through in ambiguous overlaps. The selection comes
// back sorted by start offset.
func Resolve(candidates []entity.Span) []entity.Span {
	ordered := make([]entity.Span, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Len() != b.Len() {
			return a.Len() > b.Len()
		}
		return a.Start < b.Start
	})

	var selected []entity.Span
	for _, cand := range ordered {
		ok := true
		for _, s := range selected {
			if cand.Overlaps(s) {
				ok = false
				break
			}
		}
		if ok {
			selected = append(selected, cand)
		}
	}

	sort.Slice(selected, func(i, j int) bool { return selected[i].Start < selected[j].Start })
	return selected
}
