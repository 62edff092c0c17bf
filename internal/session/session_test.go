package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"pii-firewall/internal/detector"
	"pii-firewall/internal/entity"
	"pii-firewall/internal/logger"
	"pii-firewall/internal/maskmeta"
	"pii-firewall/internal/metrics"
	"pii-firewall/internal/policy"
)

// stubDetector reports fixed spans, or a fixed error, for its languages.
type stubDetector struct {
	langs []string
	spans []entity.Span
	err   error
	calls int
}

func (d *stubDetector) Detect(_ context.Context, _, _ string) ([]entity.Span, error) {
	d.calls++
	return d.spans, d.err
}

func (d *stubDetector) Languages() []string { return d.langs }

// emailStub detects every "@"-word as an email with rune offsets.
type emailStub struct{ langs []string }

func (d *emailStub) Detect(_ context.Context, text, _ string) ([]entity.Span, error) {
	var spans []entity.Span
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '@' {
			continue
		}
		lo, hi := i, i
		for lo > 0 && runes[lo-1] != ' ' {
			lo--
		}
		for hi < len(runes) && runes[hi] != ' ' {
			hi++
		}
		spans = append(spans, entity.Span{
			Type: entity.Email, Start: lo, End: hi, Score: 0.9,
			Text: string(runes[lo:hi]),
		})
	}
	return spans, nil
}

func (d *emailStub) Languages() []string { return d.langs }

func newReadySession(t *testing.T, dets ...detector.Detector) *Session {
	t.Helper()
	reg := detector.NewRegistry()
	for _, d := range dets {
		reg.Register(d)
	}
	s := New(reg, "en", metrics.New(), logger.New("test", "error"))
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func TestLifecycle_OperationsBeforeInit(t *testing.T) {
	reg := detector.NewRegistry()
	s := New(reg, "en", metrics.New(), logger.New("test", "error"))
	ctx := context.Background()

	if _, err := s.Mask(ctx, "text", ""); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Mask before Init: %v, want ErrNotInitialized", err)
	}
	if _, err := s.Restore(ctx, "text", maskmeta.Empty()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Restore before Init: %v, want ErrNotInitialized", err)
	}
	if _, err := s.GetSpans(ctx, "text", ""); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("GetSpans before Init: %v, want ErrNotInitialized", err)
	}
	if err := s.Configure(nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Configure before Init: %v, want ErrNotInitialized", err)
	}
}

func TestLifecycle_InitIdempotent(t *testing.T) {
	s := newReadySession(t)
	if err := s.Init(); err != nil {
		t.Errorf("second Init: %v, want nil", err)
	}
}

func TestLifecycle_DeinitThenOperationsFail(t *testing.T) {
	s := newReadySession(t)
	s.Deinit()
	if _, err := s.Mask(context.Background(), "text", ""); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Mask after Deinit: %v, want ErrNotInitialized", err)
	}
	if err := s.Init(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Init after Deinit: %v, destroyed sessions cannot revive", err)
	}
}

func TestLifecycle_DoubleDeinitIsNoop(t *testing.T) {
	s := newReadySession(t)
	s.Deinit()
	s.Deinit() // must not panic or change anything
}

// ── Mask / Restore ──────────────────────────────────────────────────────────

func TestMaskRestore_RoundTrip(t *testing.T) {
	s := newReadySession(t, &emailStub{langs: []string{"en"}})
	ctx := context.Background()
	text := "contact alice@example.com and bob@example.com please"

	res, err := s.Mask(ctx, text, "en")
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}
	if strings.Contains(res.Masked, "alice@example.com") {
		t.Errorf("PII leaked into masked text: %q", res.Masked)
	}
	if len(res.Meta.Placeholders) != 2 {
		t.Fatalf("got %d placeholders, want 2: %#v", len(res.Meta.Placeholders), res.Meta.Placeholders)
	}
	if res.Meta.Language != "en" {
		t.Errorf("Language = %q, want en", res.Meta.Language)
	}

	restored, err := s.Restore(ctx, res.Masked, res.Meta)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored != text {
		t.Errorf("round trip = %q, want %q", restored, text)
	}
}

func TestMask_EmptyText(t *testing.T) {
	s := newReadySession(t, &emailStub{langs: []string{"en"}})
	res, err := s.Mask(context.Background(), "", "en")
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}
	if res.Masked != "" || len(res.Meta.Placeholders) != 0 {
		t.Errorf("empty input must mask to empty: %+v", res)
	}
}

func TestMask_PolicyFiltersTypes(t *testing.T) {
	s := newReadySession(t, &emailStub{langs: []string{"en"}})
	if err := s.Configure(map[string]bool{policy.FlagEmail: false}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	res, err := s.Mask(context.Background(), "mail alice@example.com now", "en")
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}
	if res.Masked != "mail alice@example.com now" {
		t.Errorf("disabled type must pass through: %q", res.Masked)
	}
}

func TestRestoreEncoded_CorruptMetadataDegradesToIdentity(t *testing.T) {
	s := newReadySession(t)
	got, err := s.RestoreEncoded(context.Background(), "text with __PII_EMAIL_ADDRESS_00000001__", []byte("%%% not metadata %%%"))
	if err != nil {
		t.Fatalf("RestoreEncoded: %v", err)
	}
	if got != "text with __PII_EMAIL_ADDRESS_00000001__" {
		t.Errorf("corrupt metadata must degrade to identity, got %q", got)
	}
}

func TestGetSpans_NotPolicyFiltered(t *testing.T) {
	s := newReadySession(t, &emailStub{langs: []string{"en"}})
	if err := s.Configure(map[string]bool{policy.FlagEmail: false}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	// The policy disables email masking, but get_spans still reports it.
	spans, err := s.GetSpans(context.Background(), "mail a@b.co now", "en")
	if err != nil {
		t.Fatalf("GetSpans: %v", err)
	}
	if len(spans) != 1 || spans[0].Type != entity.Email {
		t.Errorf("spans = %+v, want the email reported despite the policy", spans)
	}
}

// ── Detection routing ───────────────────────────────────────────────────────

func TestDetect_FallbackToDefaultLanguage(t *testing.T) {
	en := &stubDetector{
		langs: []string{"en"},
		spans: []entity.Span{{Type: entity.Phone, Start: 0, End: 4, Score: 0.8, Text: "1234"}},
	}
	s := newReadySession(t, en)

	// French has no backend; detection must fall back to en once.
	spans, err := s.GetSpans(context.Background(), "1234 is my code", "fr")
	if err != nil {
		t.Fatalf("GetSpans: %v", err)
	}
	if len(spans) != 1 {
		t.Errorf("got %d spans, want 1 from the fallback backend", len(spans))
	}
	if en.calls != 1 {
		t.Errorf("fallback backend called %d times, want 1", en.calls)
	}
}

func TestDetect_AllBackendsFailYieldsZeroSpans(t *testing.T) {
	failing := &stubDetector{langs: []string{"en"}, err: errors.New("model down")}
	s := newReadySession(t, failing)

	res, err := s.Mask(context.Background(), "text with alice@example.com", "en")
	if err != nil {
		t.Fatalf("Mask must not fail when detection is down: %v", err)
	}
	if res.Masked != "text with alice@example.com" {
		t.Errorf("with zero spans the text must pass through: %q", res.Masked)
	}
}

func TestMask_OverlapsResolvedAcrossBackends(t *testing.T) {
	weak := &stubDetector{
		langs: []string{"en"},
		spans: []entity.Span{{Type: entity.URL, Start: 0, End: 10, Score: 0.5, Text: "0123456789"}},
	}
	strong := &stubDetector{
		langs: []string{"en"},
		spans: []entity.Span{{Type: entity.Phone, Start: 2, End: 8, Score: 0.9, Text: "234567"}},
	}
	s := newReadySession(t, weak, strong)

	res, err := s.Mask(context.Background(), "0123456789", "en")
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}
	want := "01__PII_PHONE_NUMBER_00000001__89"
	if res.Masked != want {
		t.Errorf("masked = %q, want the confident span to win: %q", res.Masked, want)
	}
}

func TestGetSpans_ReportsOverlappingDetections(t *testing.T) {
	// Span reporting skips overlap resolution: a lower-confidence candidate
	// under a stronger one is still visible to the caller.
	confident := &stubDetector{
		langs: []string{"en"},
		spans: []entity.Span{{Type: entity.Email, Start: 0, End: 5, Score: 0.9, Text: "01234"}},
	}
	hedged := &stubDetector{
		langs: []string{"en"},
		spans: []entity.Span{{Type: entity.URL, Start: 0, End: 10, Score: 0.6, Text: "0123456789"}},
	}
	s := newReadySession(t, confident, hedged)

	spans, err := s.GetSpans(context.Background(), "0123456789", "en")
	if err != nil {
		t.Fatalf("GetSpans: %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want both detections: %+v", len(spans), spans)
	}
	if spans[0].Type != entity.Email || spans[1].Type != entity.URL {
		t.Errorf("spans out of order or missing: %+v", spans)
	}
}

// ── Batch ───────────────────────────────────────────────────────────────────

func TestBatch_ElementwiseEquivalence(t *testing.T) {
	s := newReadySession(t, &emailStub{langs: []string{"en"}})
	ctx := context.Background()
	texts := []string{"a@b.co here", "nothing", "two x@y.co and z@w.co"}
	items := make([]BatchItem, len(texts))
	for i, text := range texts {
		items[i] = BatchItem{Text: text, Language: "en"}
	}

	results, err := s.MaskBatch(ctx, items)
	if err != nil {
		t.Fatalf("MaskBatch: %v", err)
	}
	if len(results) != len(texts) {
		t.Fatalf("got %d results, want %d", len(results), len(texts))
	}
	for i, text := range texts {
		single, err := s.Mask(ctx, text, "en")
		if err != nil {
			t.Fatalf("Mask(%d): %v", i, err)
		}
		if results[i].Masked != single.Masked {
			t.Errorf("element %d: batch %q != single %q", i, results[i].Masked, single.Masked)
		}
	}

	metas := make([]maskmeta.Meta, len(results))
	masked := make([]string, len(results))
	for i, r := range results {
		metas[i] = r.Meta
		masked[i] = r.Masked
	}
	restored, err := s.RestoreBatch(ctx, masked, metas)
	if err != nil {
		t.Fatalf("RestoreBatch: %v", err)
	}
	for i := range texts {
		if restored[i] != texts[i] {
			t.Errorf("element %d: restored %q, want %q", i, restored[i], texts[i])
		}
	}
}

func TestRestoreBatch_LengthMismatch(t *testing.T) {
	s := newReadySession(t)
	_, err := s.RestoreBatch(context.Background(), []string{"a", "b"}, []maskmeta.Meta{maskmeta.Empty()})
	if !errors.Is(err, ErrBatchLength) {
		t.Errorf("err = %v, want ErrBatchLength", err)
	}
}

func TestMaskBatch_EmptyInput(t *testing.T) {
	s := newReadySession(t)
	results, err := s.MaskBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("MaskBatch: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestMaskBatch_PerItemLanguage(t *testing.T) {
	// Items of one batch may carry different language tags; each must route
	// to the backends of its own language.
	en := &stubDetector{
		langs: []string{"en"},
		spans: []entity.Span{{Type: entity.Email, Start: 0, End: 4, Score: 0.9, Text: "1234"}},
	}
	zh := &stubDetector{
		langs: []string{"zh"},
		spans: []entity.Span{{Type: entity.Phone, Start: 0, End: 4, Score: 0.9, Text: "1234"}},
	}
	s := newReadySession(t, en, zh)

	results, err := s.MaskBatch(context.Background(), []BatchItem{
		{Text: "1234 rest", Language: "en"},
		{Text: "1234 rest", Language: "zh-TW"},
	})
	if err != nil {
		t.Fatalf("MaskBatch: %v", err)
	}
	if !strings.Contains(results[0].Masked, "__PII_EMAIL_ADDRESS_") {
		t.Errorf("en item = %q, want the en backend's result", results[0].Masked)
	}
	if !strings.Contains(results[1].Masked, "__PII_PHONE_NUMBER_") {
		t.Errorf("zh-TW item = %q, want the zh backend's result", results[1].Masked)
	}
	if zh.calls != 1 || en.calls != 1 {
		t.Errorf("backend calls en=%d zh=%d, want 1 each", en.calls, zh.calls)
	}
}

func TestRestore_MetricCountsActualReplacements(t *testing.T) {
	met := metrics.New()
	s := New(detector.NewRegistry(), "en", met, logger.New("test", "error"))
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	meta := maskmeta.Empty()
	meta.Language = "en"
	meta.Placeholders["__PII_EMAIL_ADDRESS_00000001__"] = "a@b.co"

	if _, err := s.Restore(context.Background(), "no placeholders here", meta); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := met.PlaceholdersRestored.Load(); got != 0 {
		t.Errorf("restored counter = %d after a no-op restore, want 0", got)
	}

	text := "__PII_EMAIL_ADDRESS_00000001__ and __PII_EMAIL_ADDRESS_00000001__"
	if _, err := s.Restore(context.Background(), text, meta); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := met.PlaceholdersRestored.Load(); got != 2 {
		t.Errorf("restored counter = %d, want 2 actual replacements", got)
	}
}

// ── Configuration semantics ────────────────────────────────────────────────

func TestConfigure_ReplacesNotMerges(t *testing.T) {
	s := newReadySession(t, &emailStub{langs: []string{"en"}})
	ctx := context.Background()

	if err := s.Configure(map[string]bool{policy.FlagEmail: false}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	// Second configuration without the email flag: defaults return.
	if err := s.Configure(map[string]bool{policy.FlagAddress: true}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	res, err := s.Mask(ctx, "mail a@b.co now", "en")
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}
	if strings.Contains(res.Masked, "a@b.co") {
		t.Errorf("email masking must be back to its default: %q", res.Masked)
	}
}
