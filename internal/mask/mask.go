// Package mask implements the reversible placeholder protocol: substituting
// selected PII spans with placeholder tokens, and the three-pass restoration
// that survives the round trip through an external text processor.
package mask

import (
	"fmt"
	"regexp"
	"sort"

	"pii-firewall/internal/entity"
	"pii-firewall/internal/maskmeta"
)

// placeholderRe matches a well-formed placeholder token.
var placeholderRe = regexp.MustCompile(`__PII_[A-Za-z_]+_[0-9a-fA-F]{8}__`)

// uidSuffixRe extracts the unique id from a placeholder token's tail.
var uidSuffixRe = regexp.MustCompile(`_([0-9a-fA-F]{8})__$`)

// Apply replaces the given spans in text with placeholder tokens of the
// shape __PII_<TYPE>_<UID>__ and returns the masked text plus the metadata
// needed to reverse it.
//
// UIDs are assigned in a single left-to-right pass (counter from 1, rendered
// as 8 hex digits) so restoration can be audited deterministically. The text
// substitution then runs right-to-left so earlier replacements never shift
// the offsets of spans not yet processed. Spans overlapping an existing
// placeholder-shaped token are skipped: masking already-masked text must
// never nest placeholders.
func Apply(text string, spans []entity.Span, language string) (string, maskmeta.Meta) {
	meta := maskmeta.Empty()
	meta.Language = language
	if len(spans) == 0 {
		return text, meta
	}

	runes := []rune(text)
	existing := placeholderRanges(text)

	type assigned struct {
		span  entity.Span
		token string
	}
	ordered := make([]entity.Span, len(spans))
	copy(ordered, spans)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	var picks []assigned
	counter := 0
	for _, s := range ordered {
		if s.Start < 0 || s.End > len(runes) || s.Start >= s.End {
			continue
		}
		if overlapsAny(s, existing) {
			continue
		}
		counter++
		token := fmt.Sprintf("__PII_%s_%08x__", s.Type, counter)
		picks = append(picks, assigned{span: s, token: token})
	}

	masked := runes
	for i := len(picks) - 1; i >= 0; i-- {
		p := picks[i]
		meta.Placeholders[p.token] = string(runes[p.span.Start:p.span.End])
		rest := masked[p.span.End:]
		masked = append(append(append([]rune{}, masked[:p.span.Start]...), []rune(p.token)...), rest...)
	}
	return string(masked), meta
}

// placeholderRanges returns the rune ranges of placeholder-shaped tokens
// already present in text.
func placeholderRanges(text string) []entity.Span {
	byteIdx := placeholderRe.FindAllStringIndex(text, -1)
	if len(byteIdx) == 0 {
		return nil
	}
	// Convert byte match bounds to rune offsets.
	runeAt := make(map[int]int, len(text)+1)
	char := 0
	for b := range text {
		runeAt[b] = char
		char++
	}
	runeAt[len(text)] = char
	out := make([]entity.Span, 0, len(byteIdx))
	for _, m := range byteIdx {
		out = append(out, entity.Span{Start: runeAt[m[0]], End: runeAt[m[1]]})
	}
	return out
}

func overlapsAny(s entity.Span, ranges []entity.Span) bool {
	for _, r := range ranges {
		if s.Overlaps(r) {
			return true
		}
	}
	return false
}
