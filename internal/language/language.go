// Package language provides the lightweight language and Han-script
// heuristics the engine uses to route text to a detector without invoking a
// full NLP pipeline.
package language

import "strings"

// Detection is the outcome of heuristic language detection.
type Detection struct {
	Lang       string  `json:"lang"`             // "en", "zh", "other"
	Script     string  `json:"script,omitempty"` // "Hans" or "Hant" when Lang == "zh"
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// Characters that exist only in one of the two Han scripts. A handful of
// high-frequency markers is enough to tell mixed real-world text apart.
var (
	simplifiedOnly = runeSet("后发台里复面余划钟观厂广圆国东乐云内两丢为价众优冲况刘师于亏仅从兴举义乌专")
	traditionalOnly = runeSet("後發臺裡複麵餘劃鐘觀廠廣圓國東樂雲內兩丟為價眾優衝況劉師於虧僅從興舉義烏專")

	simplifiedWords  = []string{"开发", "软件", "后端", "互联网", "应用", "运维", "里程", "联系", "台阶", "复用"}
	traditionalWords = []string{"開發", "軟體", "後端", "網際網路", "應用", "運維", "聯繫", "臺階", "複用"}
)

func runeSet(s string) map[rune]bool {
	m := make(map[rune]bool, len(s))
	for _, r := range s {
		m[r] = true
	}
	return m
}

func isHan(r rune) bool {
	return (r >= 0x4e00 && r <= 0x9fff) ||
		(r >= 0x3400 && r <= 0x4dbf) ||
		(r >= 0xf900 && r <= 0xfaff)
}

func isLatinLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

func hanRatio(text string) float64 {
	total, han := 0, 0
	for _, r := range text {
		total++
		if isHan(r) {
			han++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(han) / float64(total)
}

func latinRatio(text string) float64 {
	total, lat := 0, 0
	for _, r := range text {
		total++
		if isLatinLetter(r) {
			lat++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(lat) / float64(total)
}

// quickLang buckets text into a major language by rune-class ratios.
func quickLang(text string) string {
	if hanRatio(text) >= 0.3 {
		return "zh"
	}
	if latinRatio(text) >= 0.5 {
		return "en"
	}
	return "other"
}

// scriptScores counts simplified vs. traditional markers.
func scriptScores(text string) (simplified, traditional int) {
	for _, r := range text {
		if simplifiedOnly[r] {
			simplified++
		}
		if traditionalOnly[r] {
			traditional++
		}
	}
	for _, w := range simplifiedWords {
		if strings.Contains(text, w) {
			simplified += 2
		}
	}
	for _, w := range traditionalWords {
		if strings.Contains(text, w) {
			traditional += 2
		}
	}
	return simplified, traditional
}

// quickScript resolves the Han script when the marker signal is decisive.
// Returns "" when inconclusive.
func quickScript(text string) string {
	s, t := scriptScores(text)
	if s-t >= 2 {
		return "Hans"
	}
	if t-s >= 2 {
		return "Hant"
	}
	return ""
}

// candidate returns the part of text language detection should look at.
// Prompts often open with a short instruction ("translate the following:")
// whose language differs from the payload; when such a prefix ends in an
// early colon, detection runs on the text after it.
func candidate(text string) string {
	idx := -1
	for _, sep := range []string{":", "："} {
		if j := strings.Index(text, sep); j != -1 && (idx == -1 || j < idx) {
			idx = j
		}
	}
	if idx <= 0 || idx >= 80 {
		return text
	}
	prefix := text[:idx]
	for _, marker := range []string{"翻译", "如下", "请", "将", "translate", "following"} {
		if strings.Contains(prefix, marker) {
			return strings.TrimSpace(text[idx+1:])
		}
	}
	return text
}

// Detect runs the heuristic pipeline over text.
func Detect(text string) Detection {
	cand := candidate(text)
	lang := quickLang(cand)
	if lang != "zh" {
		conf := 0.6
		if lang == "en" {
			conf = 0.9
		}
		return Detection{Lang: lang, Confidence: conf, Method: "heuristic"}
	}
	script := quickScript(cand)
	if script == "" {
		// No decisive marker signal; simplified is the safer default.
		script = "Hans"
	}
	return Detection{Lang: "zh", Script: script, Confidence: 0.8, Method: "heuristic"}
}

// Resolve picks the effective language tag for a request. An empty or
// "auto" hint triggers detection; anything else passes through unchanged.
func Resolve(text, hint string) string {
	if hint != "" && !strings.EqualFold(hint, "auto") {
		return hint
	}
	det := Detect(text)
	if det.Lang == "zh" {
		if det.Script == "Hant" {
			return "zh-TW"
		}
		return "zh-CN"
	}
	if det.Lang == "" {
		return "en"
	}
	return det.Lang
}

// Base strips a regional subtag: "zh-CN" → "zh".
func Base(tag string) string {
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return tag[:i]
	}
	return tag
}
