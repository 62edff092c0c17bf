// Command aifw is the PII masking engine server.
//
// It exposes a local HTTP API that masks PII in text with reversible
// placeholder tokens before the text leaves the machine, and restores the
// original values when the processed text comes back. Detection combines a
// regex pattern table with an optional local Ollama model, fronted by a
// persistent cache.
//
// Usage:
//
//	# Default configuration
//	./aifw
//
//	# Custom port, no AI detection
//	AIFW_API_PORT=9000 USE_AI_DETECTION=false ./aifw
//
//	# Persistent detection cache
//	AIFW_CACHE_PATH=/var/lib/aifw/cache.db ./aifw
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"pii-firewall/internal/api"
	"pii-firewall/internal/config"
	"pii-firewall/internal/detector"
	"pii-firewall/internal/logger"
	"pii-firewall/internal/metrics"
	"pii-firewall/internal/session"
)

func main() {
	cfg := config.Load()

	var log *logger.Logger
	if cfg.LogFile != "" {
		log = logger.NewFile("main", cfg.LogLevel, cfg.LogFile)
		logger.CleanupMonthly(cfg.LogFile, cfg.LogKeepMonths)
	} else {
		log = logger.New("main", cfg.LogLevel)
	}
	defer log.Close() //nolint:errcheck // best-effort close on shutdown

	printBanner(cfg)

	met := metrics.New()
	registry := detector.NewRegistry()

	langs := []string{"en", "zh"}
	registry.Register(detector.NewRegex(langs, log.WithModule("regex")))

	var cache detector.Cache
	if cfg.UseAIDetection {
		cache = detector.NewCountingCache(buildCache(cfg, log), &met.CacheHits, &met.CacheMisses)
		llm := detector.NewLLM(
			cfg.OllamaEndpoint, cfg.OllamaModel, cfg.AIConfidence,
			cfg.AIMaxConcurrent, langs, cache, log.WithModule("llm"),
		)
		registry.Register(llm)
		log.Infof("startup", "AI detection enabled (%s, %s)", cfg.OllamaEndpoint, cfg.OllamaModel)
	} else {
		log.Info("startup", "AI detection disabled, regex patterns only")
	}

	sess := session.New(registry, cfg.DefaultLang, met, log.WithModule("session"))
	if err := sess.Init(); err != nil {
		log.Fatalf("startup", "session init: %v", err)
	}
	if len(cfg.MaskFlags) > 0 {
		if err := sess.Configure(cfg.MaskFlags); err != nil {
			log.Fatalf("startup", "apply mask config: %v", err)
		}
	}

	srv := api.New(cfg, sess, met, log.WithModule("api"))
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("shutdown", "received %s", sig)
	case err := <-errCh:
		log.Errorf("shutdown", "api server: %v", err)
	}

	// Orderly teardown: destroy the session first so no new work starts,
	// then flush the cache to disk.
	sess.Deinit()
	if cache != nil {
		if err := cache.Close(); err != nil {
			log.Errorf("shutdown", "cache close: %v", err)
		}
	}
	log.Info("shutdown", "done")
}

// buildCache assembles the detection cache stack: bbolt behind an S3-FIFO
// in-memory layer when a path is configured, plain in-memory otherwise.
func buildCache(cfg *config.Config, log *logger.Logger) detector.Cache {
	cacheLog := log.WithModule("cache")
	if cfg.CachePath == "" {
		log.Info("startup", "no cache path configured, using in-memory detection cache")
		return detector.NewS3FIFOCache(detector.NewMemoryCache(), cfg.CacheCapacity, cacheLog)
	}
	backing, err := detector.NewBboltCache(cfg.CachePath, cacheLog)
	if err != nil {
		log.Warnf("startup", "persistent cache unavailable: %v (using in-memory)", err)
		backing = detector.NewMemoryCache()
	}
	return detector.NewS3FIFOCache(backing, cfg.CacheCapacity, cacheLog)
}

func printBanner(cfg *config.Config) {
	auth := "disabled"
	if cfg.APIToken != "" {
		auth = "bearer token"
	}
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          AI Firewall — PII Masking Engine            ║
╚══════════════════════════════════════════════════════╝
  API address     : %s:%d
  Authentication  : %s
  Ollama endpoint : %s
  Ollama model    : %s
  AI detection    : %v
  Default language: %s

  Check status:
    curl http://%s:%d/status
`, cfg.BindAddress, cfg.APIPort, auth,
		cfg.OllamaEndpoint, cfg.OllamaModel, cfg.UseAIDetection,
		cfg.DefaultLang,
		cfg.BindAddress, cfg.APIPort)
}
