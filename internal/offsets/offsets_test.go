package offsets

import "testing"

func TestByteTable_ASCII(t *testing.T) {
	tab := NewByteTable("hello")
	if tab.RuneLen() != 5 {
		t.Fatalf("RuneLen = %d, want 5", tab.RuneLen())
	}
	for i := 0; i <= 5; i++ {
		if got := tab.CharAt(i); got != i {
			t.Errorf("CharAt(%d) = %d, want %d", i, got, i)
		}
	}
}

func TestByteTable_MultiByteClampsDown(t *testing.T) {
	// "a😀b": 'a' at byte 0, the emoji spans bytes 1-4, 'b' at byte 5.
	tab := NewByteTable("a😀b")
	if tab.RuneLen() != 3 {
		t.Fatalf("RuneLen = %d, want 3", tab.RuneLen())
	}
	cases := []struct{ byteOff, want int }{
		{0, 0},
		{1, 1},
		{2, 1}, // mid-rune: clamp down, never up
		{3, 1},
		{4, 1},
		{5, 2},
		{6, 3},
	}
	for _, c := range cases {
		if got := tab.CharAt(c.byteOff); got != c.want {
			t.Errorf("CharAt(%d) = %d, want %d", c.byteOff, got, c.want)
		}
	}
}

func TestByteTable_OutOfRange(t *testing.T) {
	tab := NewByteTable("ab")
	if got := tab.CharAt(-1); got != 0 {
		t.Errorf("CharAt(-1) = %d, want 0", got)
	}
	if got := tab.CharAt(100); got != 2 {
		t.Errorf("CharAt(100) = %d, want 2", got)
	}
}

func TestTokenOffsets_CaseInsensitive(t *testing.T) {
	located := TokenOffsets("Contact ALICE today", []Token{{Text: "alice", Label: "B-PER", Score: 0.9}})
	if len(located) != 1 {
		t.Fatalf("got %d located tokens, want 1", len(located))
	}
	if located[0].Start != 8 || located[0].End != 13 {
		t.Errorf("range = [%d,%d), want [8,13)", located[0].Start, located[0].End)
	}
}

func TestTokenOffsets_CursorAdvances(t *testing.T) {
	// Two identical tokens must match two distinct occurrences.
	located := TokenOffsets("bob met bob", []Token{
		{Text: "bob", Label: "B-PER"},
		{Text: "bob", Label: "B-PER"},
	})
	if len(located) != 2 {
		t.Fatalf("got %d located tokens, want 2", len(located))
	}
	if located[0].Start != 0 || located[0].End != 3 {
		t.Errorf("first = [%d,%d), want [0,3)", located[0].Start, located[0].End)
	}
	if located[1].Start != 8 || located[1].End != 11 {
		t.Errorf("second = [%d,%d), want [8,11)", located[1].Start, located[1].End)
	}
}

func TestTokenOffsets_ContinuationMarkerStripped(t *testing.T) {
	located := TokenOffsets("username", []Token{
		{Text: "user", Label: "B-PER"},
		{Text: "##name", Label: "I-PER"},
	})
	if located[0].Start != 0 || located[0].End != 4 {
		t.Errorf("first = [%d,%d), want [0,4)", located[0].Start, located[0].End)
	}
	if located[1].Start != 4 || located[1].End != 8 {
		t.Errorf("second = [%d,%d), want [4,8)", located[1].Start, located[1].End)
	}
}

func TestTokenOffsets_DiacriticFallback(t *testing.T) {
	// Model reports the accent-free form; the text carries diacritics.
	located := TokenOffsets("Hola José!", []Token{{Text: "jose", Label: "B-PER"}})
	if len(located) != 1 {
		t.Fatalf("got %d located tokens, want 1", len(located))
	}
	if located[0].Start != 5 || located[0].End != 9 {
		t.Errorf("range = [%d,%d), want [5,9)", located[0].Start, located[0].End)
	}
}

func TestTokenOffsets_UnmatchedIsZeroWidth(t *testing.T) {
	located := TokenOffsets("nothing here", []Token{{Text: "zzz-token", Label: "B-ORG"}})
	if len(located) != 1 {
		t.Fatalf("got %d located tokens, want 1", len(located))
	}
	if located[0].Start != located[0].End {
		t.Errorf("expected zero-width span, got [%d,%d)", located[0].Start, located[0].End)
	}
}

func TestCoreLabel(t *testing.T) {
	cases := []struct{ in, want string }{
		{"B-PER", "PER"},
		{"I-ORG", "ORG"},
		{"E-LOC", "LOC"},
		{"S-PER", "PER"},
		{"PER", "PER"},
		{"X-PER", "X-PER"}, // unknown scheme prefix stays
		{"", ""},
	}
	for _, c := range cases {
		if got := CoreLabel(c.in); got != c.want {
			t.Errorf("CoreLabel(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMergeAdjacent_TouchingSameLabel(t *testing.T) {
	text := "John Smith called"
	located := []Located{
		{Token: Token{Text: "john", Label: "B-PER", Score: 0.9}, Start: 0, End: 5},
		{Token: Token{Text: "smith", Label: "I-PER", Score: 0.7}, Start: 5, End: 10},
	}
	merged := MergeAdjacent(text, located)
	if len(merged) != 1 {
		t.Fatalf("got %d merged spans, want 1", len(merged))
	}
	m := merged[0]
	if m.Start != 0 || m.End != 10 {
		t.Errorf("range = [%d,%d), want [0,10)", m.Start, m.End)
	}
	if m.Text != "John Smith" {
		t.Errorf("Text = %q, want %q", m.Text, "John Smith")
	}
	if m.Label != "PER" {
		t.Errorf("Label = %q, want PER", m.Label)
	}
	// Running mean of 0.9 and 0.7.
	if m.Score < 0.79 || m.Score > 0.81 {
		t.Errorf("Score = %v, want ~0.8", m.Score)
	}
}

func TestMergeAdjacent_RunningMeanThreeTokens(t *testing.T) {
	text := "abcdef"
	located := []Located{
		{Token: Token{Label: "B-ORG", Score: 0.9}, Start: 0, End: 2},
		{Token: Token{Label: "I-ORG", Score: 0.6}, Start: 2, End: 4},
		{Token: Token{Label: "E-ORG", Score: 0.3}, Start: 4, End: 6},
	}
	merged := MergeAdjacent(text, located)
	if len(merged) != 1 {
		t.Fatalf("got %d merged spans, want 1", len(merged))
	}
	if got := merged[0].Score; got < 0.59 || got > 0.61 {
		t.Errorf("Score = %v, want ~0.6", got)
	}
}

func TestMergeAdjacent_GapOrLabelChangeBreaksMerge(t *testing.T) {
	text := "aa bb cc"
	located := []Located{
		{Token: Token{Label: "B-PER"}, Start: 0, End: 2},
		{Token: Token{Label: "B-PER"}, Start: 3, End: 5}, // gap at index 2
		{Token: Token{Label: "B-ORG"}, Start: 5, End: 8}, // touching but different label
	}
	merged := MergeAdjacent(text, located)
	if len(merged) != 3 {
		t.Fatalf("got %d merged spans, want 3", len(merged))
	}
}

func TestMergeAdjacent_DropsZeroWidth(t *testing.T) {
	merged := MergeAdjacent("abc", []Located{
		{Token: Token{Label: "B-PER"}, Start: 1, End: 1},
	})
	if len(merged) != 0 {
		t.Errorf("got %d spans, want 0", len(merged))
	}
}
