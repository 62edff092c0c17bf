// Package detector defines the capability every pluggable PII detection
// backend must satisfy and the backends shipped with the engine: a regex
// pattern table and an LLM-assisted detector, plus the persistent cache the
// latter runs behind.
//
// Backends report spans as rune offsets into the original text. Anything
// producing byte offsets converts through internal/offsets before returning.
package detector

import (
	"context"

	"pii-firewall/internal/entity"
)

// Detector produces candidate PII spans for one text. Implementations may be
// pattern-based, model-based, or remote; the engine never depends on a
// concrete backend type.
type Detector interface {
	// Detect returns candidate spans for text in the given base language
	// ("en", "zh", ...). Spans may overlap; the caller resolves conflicts.
	Detect(ctx context.Context, text, language string) ([]entity.Span, error)

	// Languages lists the base language tags this backend supports.
	Languages() []string
}

// Registry routes a base language tag to its detection backends.
type Registry struct {
	byLang map[string][]Detector
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byLang: make(map[string][]Detector)}
}

// Register adds d for every language it advertises.
func (r *Registry) Register(d Detector) {
	for _, lang := range d.Languages() {
		r.byLang[lang] = append(r.byLang[lang], d)
	}
}

// For returns the backends registered for the given base language.
func (r *Registry) For(language string) []Detector {
	return r.byLang[language]
}
