package detector

import (
	"context"
	"regexp"

	"pii-firewall/internal/entity"
	"pii-firewall/internal/logger"
	"pii-firewall/internal/offsets"
)

// pattern pairs a compiled regex with the entity type and confidence it
// reports. When the expression defines a capture group, only group 1 is
// reported (the surrounding text is context, not PII).
type pattern struct {
	re    *regexp.Regexp
	typ   entity.Type
	score float32
}

// patternSpecs is the structured-PII rule table. Scores reflect how
// unambiguous each shape is: a PEM block is near-certain, a 4-digit code
// next to a keyword much less so.
var patternSpecs = []struct {
	expr  string
	typ   entity.Type
	score float32
}{
	{`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, entity.Email, 0.7},
	{`(?:\+?86[-\s]?)?\b1[3-9]\d[-\s]?\d{4}[-\s]?\d{4}\b`, entity.Phone, 0.6},
	{`(?:\+?1[\-.\s]?)?\(?[0-9]{3}\)?[\-.\s][0-9]{3}[\-.\s]?[0-9]{4}\b`, entity.Phone, 0.55},
	{`\bhttps?://[^\s"'<>]+`, entity.URL, 0.6},
	{`\b(?:\d{4}[\-\s]){3}\d{4}\b`, entity.BankNumber, 0.55},
	{`\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`, entity.Payment, 0.5},
	{`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`, entity.PrivateKey, 0.95},
	{`(?i)(?:password|passwd|pwd|密码)[\s"':：=]+(\S{6,})`, entity.Password, 0.65},
	{`(?i)(?:verification code|verify code|otp|验证码)[\s:：]*([0-9]{4,8})\b`, entity.VerificationCode, 0.6},
	{`(?i)(?:random[\s_-]?seed|mnemonic)[\s"':：=]+([A-Za-z0-9 ]{8,})`, entity.RandomSeed, 0.5},
}

// Regex is the rule-based detection backend. It is language-agnostic:
// structured patterns (emails, numbers, keys) look the same in every
// supported language, so it registers for all of them.
type Regex struct {
	patterns []pattern
	langs    []string
	log      *logger.Logger
}

// NewRegex compiles the rule table. Rules that fail to compile are skipped
// with a warning instead of taking the backend down.
func NewRegex(langs []string, log *logger.Logger) *Regex {
	d := &Regex{langs: langs, log: log}
	for _, s := range patternSpecs {
		re, err := regexp.Compile(s.expr)
		if err != nil {
			log.Warnf("pattern_compile", "skipping %q: %v", s.expr, err)
			continue
		}
		d.patterns = append(d.patterns, pattern{re: re, typ: s.typ, score: s.score})
	}
	return d
}

// Languages implements Detector.
func (d *Regex) Languages() []string { return d.langs }

// Detect implements Detector. regexp reports byte offsets; they are
// reconciled to rune offsets before the spans leave this package.
func (d *Regex) Detect(_ context.Context, text, _ string) ([]entity.Span, error) {
	table := offsets.NewByteTable(text)
	var spans []entity.Span
	for _, p := range d.patterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			lo, hi := m[0], m[1]
			if len(m) >= 4 && m[2] >= 0 {
				lo, hi = m[2], m[3] // capture group: the secret itself
			}
			if lo >= hi {
				continue
			}
			start, end := table.CharAt(lo), table.CharAt(hi)
			if start >= end {
				continue
			}
			spans = append(spans, entity.Span{
				Type:  p.typ,
				Start: start,
				End:   end,
				Score: p.score,
				Text:  text[lo:hi],
			})
		}
	}
	return spans, nil
}
