// Package session ties the engine together: it owns the lifecycle
// (create → init → configure → mask/restore → deinit), routes each request
// through language resolution, detection, conflict resolution, policy
// filtering, and the placeholder protocol, and exposes the batch variants.
//
// A Session is safe for concurrent use. Configuration swaps are atomic with
// respect to in-flight requests: each request reads the policy once and runs
// against that snapshot.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pii-firewall/internal/detector"
	"pii-firewall/internal/entity"
	"pii-firewall/internal/language"
	"pii-firewall/internal/logger"
	"pii-firewall/internal/mask"
	"pii-firewall/internal/maskmeta"
	"pii-firewall/internal/metrics"
	"pii-firewall/internal/policy"
	"pii-firewall/internal/resolver"
)

// Sentinel errors returned by session operations.
var (
	// ErrNotInitialized is returned by every operation on a session that
	// has not been initialized, or that has been deinitialized.
	ErrNotInitialized = errors.New("session not initialized")

	// ErrBatchLength is returned by RestoreBatch when the texts and
	// metadata slices differ in length.
	ErrBatchLength = errors.New("batch texts and metadata differ in length")
)

// state is the session lifecycle position.
type state int

const (
	stateUninitialized state = iota
	stateReady
	stateDestroyed
)

// fallbackLanguage is the detection language of last resort. When no backend
// serves the resolved language, or every backend for it fails, detection is
// retried once against this language before giving up with zero spans.
const fallbackLanguage = "en"

// MaskResult is the outcome of one mask operation.
type MaskResult struct {
	Masked string
	Meta   maskmeta.Meta
}

// BatchItem is one element of a batch mask request. Language may differ per
// item; empty or "auto" routes through heuristic detection, exactly as for a
// single-item call.
type BatchItem struct {
	Text     string
	Language string
}

// Session is one engine instance: detectors, policy, and lifecycle state.
type Session struct {
	mu        sync.RWMutex
	st        state
	pol       *policy.Policy
	detectors *detector.Registry

	defaultLang string
	met         *metrics.Metrics
	log         *logger.Logger
}

// New creates a session in the uninitialized state. defaultLang is the
// language hint applied when a request carries none and detection is
// inconclusive; empty means "en".
func New(detectors *detector.Registry, defaultLang string, met *metrics.Metrics, log *logger.Logger) *Session {
	if defaultLang == "" {
		defaultLang = fallbackLanguage
	}
	return &Session{
		st:          stateUninitialized,
		pol:         policy.Default(),
		detectors:   detectors,
		defaultLang: defaultLang,
		met:         met,
		log:         log,
	}
}

// Init moves the session to the ready state. Calling Init on an already
// initialized session is a no-op; calling it after Deinit returns
// ErrNotInitialized because a destroyed session cannot be revived.
func (s *Session) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.st {
	case stateDestroyed:
		return ErrNotInitialized
	case stateReady:
		return nil
	}
	s.st = stateReady
	s.log.Info("session_init", "session ready")
	return nil
}

// Deinit destroys the session. Idempotent: a second Deinit is a no-op.
// In-flight requests holding the read lock complete before the state flips.
func (s *Session) Deinit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st == stateDestroyed {
		return
	}
	s.st = stateDestroyed
	s.log.Info("session_deinit", "session destroyed")
}

// Configure replaces the mask policy outright. Flags apply on top of the
// documented defaults, never on top of the previous configuration, so two
// identical Configure calls always produce identical behavior. Unknown flag
// names are logged and dropped.
func (s *Session) Configure(flags map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st != stateReady {
		return ErrNotInitialized
	}
	for name := range flags {
		if !policy.Known(name) {
			s.log.Warnf("session_config", "ignoring unknown mask flag %q", name)
		}
	}
	s.pol = policy.New(flags)
	s.log.Infof("session_config", "mask policy replaced (%d overrides)", len(flags))
	return nil
}

// Policy returns the current policy snapshot.
func (s *Session) Policy() (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st != stateReady {
		return nil, ErrNotInitialized
	}
	return s.pol, nil
}

// Mask detects PII in text, filters it through the current policy, and
// substitutes placeholders. languageHint may be empty or "auto" to trigger
// detection. The returned metadata is what Restore needs to reverse the
// substitution.
func (s *Session) Mask(ctx context.Context, text, languageHint string) (MaskResult, error) {
	s.mu.RLock()
	if s.st != stateReady {
		s.mu.RUnlock()
		return MaskResult{}, ErrNotInitialized
	}
	pol := s.pol
	s.mu.RUnlock()

	s.met.MaskRequests.Add(1)
	start := time.Now()
	defer func() { s.met.RecordMaskLatency(time.Since(start)) }()

	if text == "" {
		return MaskResult{Masked: "", Meta: maskmeta.Empty()}, nil
	}

	lang := language.Resolve(text, languageHint)
	spans := resolver.Resolve(s.detect(ctx, text, lang))
	for _, sp := range spans {
		s.met.RecordSpan(sp.Type)
	}

	var eligible []entity.Span
	for _, sp := range spans {
		if pol.Enabled(sp.Type) {
			eligible = append(eligible, sp)
		}
	}

	masked, meta := mask.Apply(text, eligible, lang)
	s.met.PlaceholdersCreated.Add(int64(len(meta.Placeholders)))
	s.log.Debugf("mask", "lang=%s spans=%d masked=%d", lang, len(spans), len(meta.Placeholders))
	return MaskResult{Masked: masked, Meta: meta}, nil
}

// Restore reverses placeholder substitution in text using meta. Corrupt or
// partial metadata degrades to best-effort restoration, never an error: the
// caller gets back the text with every resolvable placeholder replaced.
func (s *Session) Restore(_ context.Context, text string, meta maskmeta.Meta) (string, error) {
	s.mu.RLock()
	if s.st != stateReady {
		s.mu.RUnlock()
		return "", ErrNotInitialized
	}
	s.mu.RUnlock()

	s.met.RestoreRequests.Add(1)
	start := time.Now()
	defer func() { s.met.RecordRestoreLatency(time.Since(start)) }()

	restored, replaced := mask.Restore(text, meta)
	s.met.PlaceholdersRestored.Add(int64(replaced))
	return restored, nil
}

// RestoreEncoded is Restore for metadata still in wire form (JSON, base64,
// or binary). Undecodable metadata is logged and counted, and restoration
// proceeds with an empty mapping.
func (s *Session) RestoreEncoded(ctx context.Context, text string, encoded []byte) (string, error) {
	meta, err := maskmeta.Decode(encoded)
	if err != nil {
		s.met.MetadataErrors.Add(1)
		s.log.Warnf("restore", "metadata decode failed: %v (best-effort restore)", err)
	}
	return s.Restore(ctx, text, meta)
}

// GetSpans returns the detected spans for text without masking anything.
// Every detection is reported, including overlapping lower-confidence
// candidates: neither the mask policy nor overlap resolution applies here,
// both belong to the mask path only. Spans are ordered by position.
func (s *Session) GetSpans(ctx context.Context, text, languageHint string) ([]entity.Span, error) {
	s.mu.RLock()
	if s.st != stateReady {
		s.mu.RUnlock()
		return nil, ErrNotInitialized
	}
	s.mu.RUnlock()

	s.met.SpanRequests.Add(1)

	if text == "" {
		return nil, nil
	}
	lang := language.Resolve(text, languageHint)
	spans := s.detect(ctx, text, lang)
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
	for _, sp := range spans {
		s.met.RecordSpan(sp.Type)
	}
	return spans, nil
}

// MaskBatch masks each item independently, honoring its own language tag,
// and returns one result per input in input order. A failed element fails
// the whole batch.
func (s *Session) MaskBatch(ctx context.Context, items []BatchItem) ([]MaskResult, error) {
	results := make([]MaskResult, len(items))
	for i, it := range items {
		r, err := s.Mask(ctx, it.Text, it.Language)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

// RestoreBatch restores each text with its positionally matching metadata.
// texts and metas must have equal length.
func (s *Session) RestoreBatch(ctx context.Context, texts []string, metas []maskmeta.Meta) ([]string, error) {
	if len(texts) != len(metas) {
		return nil, ErrBatchLength
	}
	results := make([]string, len(texts))
	for i, t := range texts {
		r, err := s.Restore(ctx, t, metas[i])
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

// detect runs every backend registered for the resolved language and returns
// their combined candidates, overlaps and all; the mask path narrows them
// through the conflict resolver afterwards. When no backend serves the
// language, or all of them fail, detection falls back to the default
// language once. A total failure yields zero spans, never an error: masking
// nothing is the documented behavior when detection is unavailable, and the
// caller's text passes through unmodified.
func (s *Session) detect(ctx context.Context, text, lang string) []entity.Span {
	base := language.Base(lang)
	candidates, ok := s.detectWith(ctx, text, base)
	if !ok && base != fallbackLanguage {
		s.met.DetectorFallbacks.Add(1)
		s.log.Warnf("detect", "no usable backend for %q, falling back to %q", base, fallbackLanguage)
		candidates, _ = s.detectWith(ctx, text, fallbackLanguage)
	}
	return candidates
}

// detectWith queries the backends for one base language. ok reports whether
// at least one backend produced a result (even an empty one).
func (s *Session) detectWith(ctx context.Context, text, base string) (spans []entity.Span, ok bool) {
	for _, d := range s.detectors.For(base) {
		found, err := d.Detect(ctx, text, base)
		if err != nil {
			s.met.DetectorErrors.Add(1)
			s.log.Errorf("detect", "backend failed for %q: %v", base, err)
			continue
		}
		ok = true
		spans = append(spans, found...)
	}
	return spans, ok
}
