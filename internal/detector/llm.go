package detector

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pii-firewall/internal/entity"
	"pii-firewall/internal/logger"
	"pii-firewall/internal/offsets"
)

const maxLLMResponse = 10 << 20 // 10 MB

// LLM is a detection backend that asks a local Ollama-compatible model to
// enumerate PII values in the text. It is synchronous: mask and get_spans
// wait for the model, and a persistent cache keyed by text hash keeps the
// cost to one round trip per distinct input.
type LLM struct {
	url       string
	model     string
	threshold float64
	langs     []string

	cache  Cache
	sem    chan struct{} // bounds concurrent model queries
	client *http.Client
	log    *logger.Logger
}

// NewLLM creates an LLM detector against an Ollama-style /api/generate
// endpoint. cache must not be nil (use NewMemoryCache for a non-persistent
// setup). maxConcurrent < 1 is clamped to 1.
func NewLLM(endpoint, model string, threshold float64, maxConcurrent int, langs []string, cache Cache, log *logger.Logger) *LLM {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &LLM{
		url:       endpoint + "/api/generate",
		model:     model,
		threshold: threshold,
		langs:     langs,
		cache:     cache,
		sem:       make(chan struct{}, maxConcurrent),
		client:    &http.Client{Timeout: 60 * time.Second},
		log:       log,
	}
}

// Languages implements Detector.
func (d *LLM) Languages() []string { return d.langs }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// llmDetection is one item of the JSON array the model is prompted to return.
type llmDetection struct {
	Original   string  `json:"original"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Detect implements Detector.
func (d *LLM) Detect(ctx context.Context, text, language string) ([]entity.Span, error) {
	if text == "" {
		return nil, nil
	}
	key := cacheKey(text, language)
	if raw, ok := d.cache.Get(key); ok {
		var spans []entity.Span
		if err := json.Unmarshal(raw, &spans); err == nil {
			return spans, nil
		}
		d.cache.Delete(key) // undecodable entry; drop and re-query
	}

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	detections, err := d.query(ctx, text)
	if err != nil {
		return nil, err
	}
	spans := d.locate(text, detections)

	if raw, err := json.Marshal(spans); err == nil {
		d.cache.Set(key, raw)
	}
	return spans, nil
}

// query calls the model and parses the detection array out of its response.
func (d *LLM) query(ctx context.Context, text string) ([]llmDetection, error) {
	prompt := fmt.Sprintf(`Analyze the following text for PII (personally identifiable information).
Return ONLY a JSON array of detections. Each item must have:
- "original": the exact text found
- "type": one of: EMAIL_ADDRESS, PHONE_NUMBER, USER_NAME, ORGANIZATION, PHYSICAL_ADDRESS, BANK_NUMBER, PAYMENT, VERIFICATION_CODE, PASSWORD, RANDOM_SEED, PRIVATE_KEY, URL_ADDRESS
- "confidence": float 0.0-1.0

Text to analyze:
%s

Return ONLY the JSON array, no explanation. Example: [{"original":"john@corp.io","type":"EMAIL_ADDRESS","confidence":0.95}]`, text)

	reqBody, err := json.Marshal(generateRequest{Model: d.model, Prompt: prompt, Stream: false})
	if err != nil {
		return nil, fmt.Errorf("encode model request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req) // #nosec G704 -- URL from trusted config, not user input
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLLMResponse+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxLLMResponse {
		d.log.Warnf("model_response", "truncated at %d bytes", maxLLMResponse)
		body = body[:maxLLMResponse]
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return nil, fmt.Errorf("model response parse error: %w", err)
	}

	// Extract the JSON array from the model's free-text response.
	raw := strings.TrimSpace(genResp.Response)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in model response")
	}

	var detections []llmDetection
	if err := json.Unmarshal([]byte(raw[start:end+1]), &detections); err != nil {
		return nil, fmt.Errorf("detection parse error: %w", err)
	}
	return detections, nil
}

// locate turns value-level detections into spans by finding every
// occurrence of each reported value in the text. Values the model invented
// (not present in the text) are dropped.
func (d *LLM) locate(text string, detections []llmDetection) []entity.Span {
	table := offsets.NewByteTable(text)
	var spans []entity.Span
	for _, det := range detections {
		if det.Original == "" || det.Confidence < d.threshold {
			continue
		}
		typ := entity.Parse(det.Type)
		from := 0
		for {
			i := strings.Index(text[from:], det.Original)
			if i < 0 {
				break
			}
			lo := from + i
			hi := lo + len(det.Original)
			spans = append(spans, entity.Span{
				Type:  typ,
				Start: table.CharAt(lo),
				End:   table.CharAt(hi),
				Score: float32(det.Confidence),
				Text:  det.Original,
			})
			from = hi
		}
	}
	return spans
}

// cacheKey derives the persistent cache key for one (text, language) input.
func cacheKey(text, language string) string {
	h := sha256.Sum256([]byte(language + "\x00" + text))
	return hex.EncodeToString(h[:])
}
