// Package api exposes the engine over a local HTTP API.
//
// Endpoints:
//
//	GET  /api/health             - liveness probe
//	POST /api/mask_text          - {"text","language"} → masked text + metadata
//	POST /api/restore_text       - {"text","maskMeta"} → restored text
//	POST /api/mask_text_batch    - {"items":[{"text","language"}]} or
//	                               {"texts","language"} → per-element results
//	POST /api/restore_text_batch - {"texts","maskMetas"} → per-element results
//	POST /api/get_pii_entities   - {"text","language"} → resolved spans
//	POST /api/config             - {"maskConfig":{flag:bool}} → replace policy
//	GET  /status                 - engine status and backend configuration
//	GET  /metrics                - counters and latency snapshot
//
// All POST responses share one envelope: {"output": ..., "error": ...} with
// exactly one of the two fields set. maskMeta travels base64-encoded so the
// envelope stays valid JSON regardless of the metadata's contents.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"pii-firewall/internal/config"
	"pii-firewall/internal/entity"
	"pii-firewall/internal/logger"
	"pii-firewall/internal/maskmeta"
	"pii-firewall/internal/metrics"
	"pii-firewall/internal/session"
)

// maxBodyBytes bounds a single request body. PII payloads are prompt-sized;
// anything larger is a mistake or abuse.
const maxBodyBytes = 4 << 20 // 4 MB

// Server is the HTTP API server.
type Server struct {
	cfg       *config.Config
	sess      *session.Session
	met       *metrics.Metrics
	log       *logger.Logger
	token     string // bearer token for auth; empty = no auth
	startTime time.Time
}

// New creates an API server over the given session.
func New(cfg *config.Config, sess *session.Session, met *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		sess:      sess,
		met:       met,
		log:       log,
		token:     cfg.APIToken,
		startTime: time.Now(),
	}
	if s.token != "" {
		log.Info("api_init", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/mask_text", s.handleMaskText)
	mux.HandleFunc("/api/restore_text", s.handleRestoreText)
	mux.HandleFunc("/api/mask_text_batch", s.handleMaskBatch)
	mux.HandleFunc("/api/restore_text_batch", s.handleRestoreBatch)
	mux.HandleFunc("/api/get_pii_entities", s.handleGetEntities)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
// /api/health stays open so orchestrators can probe without credentials.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" || r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.log.Warnf("api_auth", "unauthorized request from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// envelope is the uniform POST response shape.
type envelope struct {
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.log, w, http.StatusOK, map[string]string{"status": "ok"})
}

type maskRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type maskOutput struct {
	MaskedText string `json:"maskedText"`
	MaskMeta   string `json:"maskMeta"`
}

func (s *Server) handleMaskText(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	reqID, ok := s.decodePost(w, r, &req)
	if !ok {
		return
	}
	res, err := s.sess.Mask(r.Context(), req.Text, req.Language)
	if err != nil {
		s.writeError(w, reqID, err)
		return
	}
	encoded, err := maskmeta.EncodeBase64(res.Meta)
	if err != nil {
		s.writeError(w, reqID, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, envelope{Output: maskOutput{MaskedText: res.Masked, MaskMeta: encoded}})
}

type restoreRequest struct {
	Text     string `json:"text"`
	MaskMeta string `json:"maskMeta"`
}

type restoreOutput struct {
	RestoredText string `json:"restoredText"`
}

func (s *Server) handleRestoreText(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	reqID, ok := s.decodePost(w, r, &req)
	if !ok {
		return
	}
	restored, err := s.sess.RestoreEncoded(r.Context(), req.Text, []byte(req.MaskMeta))
	if err != nil {
		s.writeError(w, reqID, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, envelope{Output: restoreOutput{RestoredText: restored}})
}

// maskBatchRequest accepts either items carrying their own language tags or
// a plain texts array with one shared language. An item without a tag falls
// back to the request-level language, and failing that to heuristic
// detection.
type maskBatchRequest struct {
	Items    []maskRequest `json:"items"`
	Texts    []string      `json:"texts"`
	Language string        `json:"language"`
}

func (r maskBatchRequest) batchItems() []session.BatchItem {
	if len(r.Items) > 0 {
		items := make([]session.BatchItem, len(r.Items))
		for i, it := range r.Items {
			lang := it.Language
			if lang == "" {
				lang = r.Language
			}
			items[i] = session.BatchItem{Text: it.Text, Language: lang}
		}
		return items
	}
	items := make([]session.BatchItem, len(r.Texts))
	for i, t := range r.Texts {
		items[i] = session.BatchItem{Text: t, Language: r.Language}
	}
	return items
}

type maskBatchOutput struct {
	MaskedTexts []string `json:"maskedTexts"`
	MaskMetas   []string `json:"maskMetas"`
}

func (s *Server) handleMaskBatch(w http.ResponseWriter, r *http.Request) {
	var req maskBatchRequest
	reqID, ok := s.decodePost(w, r, &req)
	if !ok {
		return
	}
	results, err := s.sess.MaskBatch(r.Context(), req.batchItems())
	if err != nil {
		s.writeError(w, reqID, err)
		return
	}
	out := maskBatchOutput{
		MaskedTexts: make([]string, len(results)),
		MaskMetas:   make([]string, len(results)),
	}
	for i, res := range results {
		encoded, err := maskmeta.EncodeBase64(res.Meta)
		if err != nil {
			s.writeError(w, reqID, err)
			return
		}
		out.MaskedTexts[i] = res.Masked
		out.MaskMetas[i] = encoded
	}
	writeJSON(s.log, w, http.StatusOK, envelope{Output: out})
}

type restoreBatchRequest struct {
	Texts     []string `json:"texts"`
	MaskMetas []string `json:"maskMetas"`
}

type restoreBatchOutput struct {
	RestoredTexts []string `json:"restoredTexts"`
}

func (s *Server) handleRestoreBatch(w http.ResponseWriter, r *http.Request) {
	var req restoreBatchRequest
	reqID, ok := s.decodePost(w, r, &req)
	if !ok {
		return
	}
	if len(req.Texts) != len(req.MaskMetas) {
		s.writeError(w, reqID, session.ErrBatchLength)
		return
	}
	metas := make([]maskmeta.Meta, len(req.MaskMetas))
	for i, encoded := range req.MaskMetas {
		m, err := maskmeta.Decode([]byte(encoded))
		if err != nil {
			s.met.MetadataErrors.Add(1)
			s.log.Warnf("api_restore_batch", "req=%s element %d metadata undecodable: %v", reqID, i, err)
		}
		metas[i] = m
	}
	restored, err := s.sess.RestoreBatch(r.Context(), req.Texts, metas)
	if err != nil {
		s.writeError(w, reqID, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, envelope{Output: restoreBatchOutput{RestoredTexts: restored}})
}

type entitiesOutput struct {
	Entities []entity.Span `json:"entities"`
}

func (s *Server) handleGetEntities(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	reqID, ok := s.decodePost(w, r, &req)
	if !ok {
		return
	}
	spans, err := s.sess.GetSpans(r.Context(), req.Text, req.Language)
	if err != nil {
		s.writeError(w, reqID, err)
		return
	}
	if spans == nil {
		spans = []entity.Span{}
	}
	writeJSON(s.log, w, http.StatusOK, envelope{Output: entitiesOutput{Entities: spans}})
}

type configRequest struct {
	MaskConfig map[string]bool `json:"maskConfig"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	reqID, ok := s.decodePost(w, r, &req)
	if !ok {
		return
	}
	if err := s.sess.Configure(req.MaskConfig); err != nil {
		s.writeError(w, reqID, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, envelope{Output: "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status      string `json:"status"`
		Uptime      string `json:"uptime"`
		APIPort     int    `json:"apiPort"`
		DefaultLang string `json:"defaultLanguage"`
		Ollama      struct {
			Endpoint string `json:"endpoint"`
			Model    string `json:"model"`
			Enabled  bool   `json:"enabled"`
		} `json:"ollama"`
	}

	resp := response{
		Status:      "running",
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		APIPort:     s.cfg.APIPort,
		DefaultLang: s.cfg.DefaultLang,
	}
	resp.Ollama.Endpoint = s.cfg.OllamaEndpoint
	resp.Ollama.Model = s.cfg.OllamaModel
	resp.Ollama.Enabled = s.cfg.UseAIDetection

	writeJSON(s.log, w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.met == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(s.log, w, http.StatusOK, s.met.Snapshot())
}

// decodePost enforces the POST method and body size limit, decodes the JSON
// body into dst, and returns a request id for log correlation. On failure it
// writes the error response itself and returns ok=false.
func (s *Server) decodePost(w http.ResponseWriter, r *http.Request, dst any) (reqID string, ok bool) {
	reqID = uuid.NewString()
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return reqID, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.log.Warnf("api_decode", "req=%s %s: %v", reqID, r.URL.Path, err)
		writeJSON(s.log, w, http.StatusBadRequest, envelope{Error: fmt.Sprintf("invalid request body: %v", err)})
		return reqID, false
	}
	return reqID, true
}

// writeError maps a session error to a status code and the error envelope.
func (s *Server) writeError(w http.ResponseWriter, reqID string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotInitialized):
		status = http.StatusConflict
	case errors.Is(err, session.ErrBatchLength):
		status = http.StatusBadRequest
	}
	s.log.Errorf("api_error", "req=%s %v", reqID, err)
	writeJSON(s.log, w, status, envelope{Error: err.Error()})
}

func writeJSON(log *logger.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("api_encode", "json encode: %v", err)
	}
}

// ListenAndServe starts the API HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.APIPort)
	s.log.Infof("api_listen", "listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
