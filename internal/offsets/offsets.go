// Package offsets reconciles the several indexings a detection pipeline sees:
// raw UTF-8 byte offsets, rune offsets into the original text, and positions
// of sub-word tokens that were matched against a transliterated copy.
//
// Nothing in this package returns an error. A token that cannot be located
// degrades to a zero-width span; a byte offset that lands inside a multi-byte
// character clamps down to that character's start. Detection must never be
// aborted by bookkeeping.
package offsets

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ByteTable maps byte offsets to rune offsets for one UTF-8 string.
type ByteTable struct {
	table   []int // table[bytePos] = rune index at that boundary, -1 elsewhere
	runeLen int
}

// NewByteTable builds the forward byte→rune table for text.
func NewByteTable(text string) *ByteTable {
	t := &ByteTable{table: make([]int, len(text)+1)}
	for i := range t.table {
		t.table[i] = -1
	}
	char := 0
	for bytePos := range text {
		t.table[bytePos] = char
		char++
	}
	t.table[len(text)] = char
	t.runeLen = char
	return t
}

// RuneLen returns the length of the source text in runes.
func (t *ByteTable) RuneLen() int { return t.runeLen }

// CharAt converts a byte offset to a rune offset. Offsets that do not land
// on a character boundary clamp downward to the nearest boundary at or
// before the offset; rounding up would spuriously pull in the following
// character when a span edge falls mid-rune.
func (t *ByteTable) CharAt(byteOff int) int {
	if byteOff <= 0 {
		return 0
	}
	if byteOff >= len(t.table) {
		return t.runeLen
	}
	for t.table[byteOff] < 0 {
		byteOff--
	}
	return t.table[byteOff]
}

// Token is one sub-word token emitted by a NER pipeline, with any "##"
// continuation marker already meaningless for matching (it is stripped here
// either way).
type Token struct {
	Text  string
	Label string // possibly BIO-prefixed, e.g. "B-PER"
	Score float32
}

// Located is a Token with its resolved [Start, End) rune range in the
// original text. Unmatched tokens carry a zero-width range.
type Located struct {
	Token
	Start int
	End   int

	ntoks int // constituent token count, maintained by MergeAdjacent
}

// TokenOffsets locates each token's rune range in text.
//
// Matching runs in three tiers: case-insensitive substring search from a
// monotonically advancing cursor (with a global fallback), then a retry with
// diacritics stripped from both sides, then a zero-width span at the cursor.
// The cursor only moves forward after a successful match, which biases later
// tokens away from re-matching earlier, coincidentally identical substrings.
func TokenOffsets(text string, tokens []Token) []Located {
	textRunes := lowerRunes([]rune(text))
	stripped, strippedIdx := stripDiacritics(textRunes)

	out := make([]Located, 0, len(tokens))
	cursor := 0
	for _, tok := range tokens {
		raw := strings.TrimPrefix(tok.Text, "##")
		tokRunes := lowerRunes([]rune(raw))
		if len(tokRunes) == 0 {
			out = append(out, Located{Token: tok, Start: cursor, End: cursor})
			continue
		}

		start := indexFrom(textRunes, tokRunes, cursor)
		if start < 0 {
			start = indexFrom(textRunes, tokRunes, 0)
		}
		if start >= 0 {
			end := start + len(tokRunes)
			out = append(out, Located{Token: tok, Start: start, End: end})
			cursor = end
			continue
		}

		// Tier 2: both sides accent-stripped; map the hit back through the
		// stripped-index → original-index table.
		strippedTok, _ := stripDiacritics(tokRunes)
		if len(strippedTok) > 0 {
			from := strippedPos(strippedIdx, cursor)
			hit := indexFrom(stripped, strippedTok, from)
			if hit < 0 {
				hit = indexFrom(stripped, strippedTok, 0)
			}
			if hit >= 0 {
				start = strippedIdx[hit]
				end := strippedIdx[hit+len(strippedTok)-1] + 1
				out = append(out, Located{Token: tok, Start: start, End: end})
				cursor = end
				continue
			}
		}

		// Tier 3: give up on this token, keep the pipeline alive.
		out = append(out, Located{Token: tok, Start: cursor, End: cursor})
	}
	return out
}

// CoreLabel strips a BIO/IOB scheme prefix (B-, I-, E-, S-) from a label.
func CoreLabel(label string) string {
	if len(label) > 2 && label[1] == '-' {
		switch label[0] {
		case 'B', 'I', 'E', 'S':
			return label[2:]
		}
	}
	return label
}

// MergeAdjacent merges located tokens that share a core label and exactly
// touch (prev.End == next.Start) into single spans. The merged score is the
// running arithmetic mean of the constituent token scores.
func MergeAdjacent(text string, located []Located) []Located {
	runes := []rune(text)
	var out []Located
	for _, cur := range located {
		if cur.Start == cur.End {
			continue // zero-width: nothing to merge or report
		}
		if n := len(out); n > 0 {
			prev := &out[n-1]
			if prev.End == cur.Start && CoreLabel(prev.Label) == CoreLabel(cur.Label) {
				prev.Score = (prev.Score*float32(prev.ntoks) + cur.Score) / float32(prev.ntoks+1)
				prev.ntoks++
				prev.End = cur.End
				prev.Text = string(runes[prev.Start:prev.End])
				continue
			}
		}
		cur.Label = CoreLabel(cur.Label)
		cur.Text = string(runes[cur.Start:cur.End])
		cur.ntoks = 1
		out = append(out, cur)
	}
	return out
}

// lowerRunes lowercases rune-by-rune, preserving a 1:1 index mapping
// (strings.ToLower may change rune counts for a few code points).
func lowerRunes(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = unicode.ToLower(r)
	}
	return out
}

// stripDiacritics decomposes each rune and drops combining marks, returning
// the stripped rune sequence plus a map from stripped index to the index of
// the originating rune.
func stripDiacritics(rs []rune) (stripped []rune, idx []int) {
	var buf [utf8.UTFMax]byte
	for i, r := range rs {
		n := utf8.EncodeRune(buf[:], r)
		for _, d := range norm.NFD.String(string(buf[:n])) {
			if unicode.Is(unicode.Mn, d) {
				continue
			}
			stripped = append(stripped, d)
			idx = append(idx, i)
		}
	}
	return stripped, idx
}

// strippedPos returns the first stripped index whose original index is >= pos.
func strippedPos(strippedIdx []int, pos int) int {
	for i, orig := range strippedIdx {
		if orig >= pos {
			return i
		}
	}
	return len(strippedIdx)
}

// indexFrom finds needle in haystack at or after from, returning the rune
// index of the hit or -1.
func indexFrom(haystack, needle []rune, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
