// Package metrics provides lightweight, lock-minimal performance counters
// for the masking engine.
//
// Counters use sync/atomic so hot paths (span detection, placeholder
// replacement) incur no mutex contention. Latency statistics use a single
// mutex per dimension; they are updated at most once per request.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"pii-firewall/internal/entity"
)

// Metrics holds all runtime counters for a running engine instance.
// The zero value is NOT valid for the per-type span counters — use New().
type Metrics struct {
	// Request counters
	MaskRequests    atomic.Int64
	RestoreRequests atomic.Int64
	SpanRequests    atomic.Int64 // get_spans calls

	// Error and fallback counters
	DetectorErrors    atomic.Int64 // backend calls that failed
	DetectorFallbacks atomic.Int64 // calls re-routed to the default language
	MetadataErrors    atomic.Int64 // restore calls with undecodable metadata

	// Placeholder volume
	PlaceholdersCreated  atomic.Int64
	PlaceholdersRestored atomic.Int64

	// Detection cache counters
	CacheHits   atomic.Int64
	CacheMisses atomic.Int64

	// Per-entity-type detection counters.
	// The map is written only in New(); concurrent reads are safe without a lock.
	spansDetected map[entity.Type]*atomic.Int64

	// Latency statistics (mutex-guarded because they accumulate floats)
	maskMu   sync.Mutex
	maskStat latencyStats

	restoreMu   sync.Mutex
	restoreStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded and per-type span
// counters pre-populated for every entity type.
func New() *Metrics {
	m := &Metrics{
		startTime:     time.Now(),
		spansDetected: make(map[entity.Type]*atomic.Int64, len(entity.All)+1),
	}
	for _, t := range entity.All {
		m.spansDetected[t] = new(atomic.Int64)
	}
	m.spansDetected[entity.Unknown] = new(atomic.Int64)
	return m
}

// RecordSpan increments the detection counter for the given entity type.
func (m *Metrics) RecordSpan(t entity.Type) {
	if c, ok := m.spansDetected[t]; ok {
		c.Add(1)
	} else {
		m.spansDetected[entity.Unknown].Add(1)
	}
}

// RecordMaskLatency records the duration of one mask call.
func (m *Metrics) RecordMaskLatency(d time.Duration) {
	m.maskMu.Lock()
	m.maskStat.record(float64(d.Microseconds()) / 1000.0)
	m.maskMu.Unlock()
}

// RecordRestoreLatency records the duration of one restore call.
func (m *Metrics) RecordRestoreLatency(d time.Duration) {
	m.restoreMu.Lock()
	m.restoreStat.record(float64(d.Microseconds()) / 1000.0)
	m.restoreMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.maskMu.Lock()
	maskLat := m.maskStat.snapshot()
	m.maskMu.Unlock()

	m.restoreMu.Lock()
	restoreLat := m.restoreStat.snapshot()
	m.restoreMu.Unlock()

	spans := make(map[string]int64, len(m.spansDetected))
	for t, c := range m.spansDetected {
		if n := c.Load(); n > 0 {
			spans[string(t)] = n
		}
	}

	return Snapshot{
		Requests: RequestSnapshot{
			Mask:     m.MaskRequests.Load(),
			Restore:  m.RestoreRequests.Load(),
			GetSpans: m.SpanRequests.Load(),
		},
		Detector: DetectorSnapshot{
			Errors:      m.DetectorErrors.Load(),
			Fallbacks:   m.DetectorFallbacks.Load(),
			CacheHits:   m.CacheHits.Load(),
			CacheMisses: m.CacheMisses.Load(),
		},
		Placeholders: PlaceholderSnapshot{
			Created:        m.PlaceholdersCreated.Load(),
			Restored:       m.PlaceholdersRestored.Load(),
			MetadataErrors: m.MetadataErrors.Load(),
			SpansByType:    spans,
		},
		Latency: LatencyGroup{
			MaskMs:    maskLat,
			RestoreMs: restoreLat,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Requests     RequestSnapshot     `json:"requests"`
	Detector     DetectorSnapshot    `json:"detector"`
	Placeholders PlaceholderSnapshot `json:"placeholders"`
	Latency      LatencyGroup        `json:"latency"`
	UptimeSecs   float64             `json:"uptimeSecs"`
}

// RequestSnapshot holds request-level counters.
type RequestSnapshot struct {
	Mask     int64 `json:"mask"`
	Restore  int64 `json:"restore"`
	GetSpans int64 `json:"getSpans"`
}

// DetectorSnapshot holds backend error and cache effectiveness counters.
type DetectorSnapshot struct {
	Errors      int64 `json:"errors"`
	Fallbacks   int64 `json:"fallbacks"`
	CacheHits   int64 `json:"cacheHits"`
	CacheMisses int64 `json:"cacheMisses"`
}

// PlaceholderSnapshot holds placeholder volume counters.
type PlaceholderSnapshot struct {
	Created        int64 `json:"created"`
	Restored       int64 `json:"restored"`
	MetadataErrors int64 `json:"metadataErrors"`

	// Per-type detections (only types with non-zero counts appear).
	SpansByType map[string]int64 `json:"spansByType,omitempty"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	MaskMs    LatencySnapshot `json:"maskMs"`
	RestoreMs LatencySnapshot `json:"restoreMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
