package mask

import (
	"regexp"
	"sort"
	"strings"

	"pii-firewall/internal/maskmeta"
)

// genericVariantRe matches placeholder-looking tokens that lost some of
// their leading/trailing underscores or their entity-type segment, e.g.
// "PII_EMAIL_ADDRESS_0b9df4b0" or "_PII_0b9df4b0__".
var genericVariantRe = regexp.MustCompile(`(?i)_{0,2}PII[\w-]*_([0-9a-fA-F]{8})_{0,2}`)

// Restore reverses placeholder substitution in text, tolerating the token
// corruption an external system typically introduces. Three passes, each on
// the output of the previous one:
//
//  1. exact substitution of every placeholder token;
//  2. leaked-suffix repair: "<original><uid>__" collapses to "<original>",
//     for downstreams that echo the value but keep a dangling uid fragment;
//  3. generic variant repair: any placeholder-looking token carrying a known
//     uid is replaced with that uid's value; unknown uids stay untouched.
//
// For text produced purely by pass 1 on an unmutated masked text, Restore is
// an exact inverse of Apply. Passes 2 and 3 are best-effort: they never fail,
// and unresolved tokens are left in place.
//
// The second return value is the number of replacements actually performed
// across all three passes; a placeholder that never occurs in text counts
// zero.
func Restore(text string, meta maskmeta.Meta) (string, int) {
	if len(meta.Placeholders) == 0 {
		return text, 0
	}

	// Deterministic pass order.
	tokens := make([]string, 0, len(meta.Placeholders))
	for tok := range meta.Placeholders {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)

	// Index original values by uid for the variant sweep.
	uidValues := make(map[string]string, len(tokens))
	for _, tok := range tokens {
		if m := uidSuffixRe.FindStringSubmatch(tok); m != nil {
			uidValues[strings.ToLower(m[1])] = meta.Placeholders[tok]
		}
	}

	restored := text
	replaced := 0

	// Pass 1: exact replacements.
	for _, tok := range tokens {
		if n := strings.Count(restored, tok); n > 0 {
			restored = strings.ReplaceAll(restored, tok, meta.Placeholders[tok])
			replaced += n
		}
	}

	// Pass 2: original value followed by a leaked uid suffix.
	for _, tok := range tokens {
		m := uidSuffixRe.FindStringSubmatch(tok)
		if m == nil {
			continue
		}
		original := meta.Placeholders[tok]
		leaked, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(original) + regexp.QuoteMeta(m[1]) + `__`)
		if err != nil {
			continue
		}
		if n := len(leaked.FindAllStringIndex(restored, -1)); n > 0 {
			restored = leaked.ReplaceAllLiteralString(restored, original)
			replaced += n
		}
	}

	// Pass 3: one global sweep over degraded placeholder variants.
	restored = genericVariantRe.ReplaceAllStringFunc(restored, func(match string) string {
		sub := genericVariantRe.FindStringSubmatch(match)
		if sub == nil {
			return match
		}
		if value, ok := uidValues[strings.ToLower(sub[1])]; ok {
			replaced++
			return value
		}
		return match
	})

	return restored, replaced
}
