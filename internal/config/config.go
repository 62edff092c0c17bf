// Package config loads and holds all engine configuration.
//
// Precedence, lowest to highest: built-in defaults, aifw-config.json in the
// working directory, a .env file (loaded via godotenv, never overriding real
// environment variables), then environment variables.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"pii-firewall/internal/policy"
)

// Config holds the full engine configuration.
type Config struct {
	APIPort     int    `json:"apiPort"`
	BindAddress string `json:"bindAddress"`
	APIToken    string `json:"apiToken"`

	LogLevel       string `json:"logLevel"`
	LogFile        string `json:"logFile"`        // empty → stderr
	LogKeepMonths  int    `json:"logKeepMonths"`  // 0 disables cleanup
	DefaultLang    string `json:"defaultLanguage"`

	OllamaEndpoint  string  `json:"ollamaEndpoint"`
	OllamaModel     string  `json:"ollamaModel"`
	UseAIDetection  bool    `json:"useAIDetection"`
	AIConfidence    float64 `json:"aiConfidenceThreshold"`
	AIMaxConcurrent int     `json:"aiMaxConcurrent"`

	CachePath     string `json:"cachePath"` // empty → in-memory only
	CacheCapacity int    `json:"cacheCapacity"`

	// MaskFlags are policy overrides applied at startup (maskEmail,
	// maskAll, ...). Unknown names are dropped with a warning.
	MaskFlags map[string]bool `json:"maskConfig"`
}

// Load returns config with defaults overridden by aifw-config.json, .env,
// and environment variables, in that order.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "aifw-config.json")
	// .env fills gaps in the process environment; real env vars win.
	if err := godotenv.Load(); err == nil {
		log.Printf("[CONFIG] Loaded .env")
	}
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		APIPort:         8844,
		BindAddress:     "127.0.0.1",
		LogLevel:        "info",
		LogKeepMonths:   6,
		DefaultLang:     "en",
		OllamaEndpoint:  "http://localhost:11434",
		OllamaModel:     "qwen2.5:3b",
		UseAIDetection:  true,
		AIConfidence:    0.7,
		AIMaxConcurrent: 2,
		CacheCapacity:   4096,
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) // #nosec G304 -- fixed well-known filename
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
		return
	}
	for name := range cfg.MaskFlags {
		if !policy.Known(name) {
			log.Printf("[CONFIG] Warning: unknown mask flag %q in %s", name, path)
		}
	}
	log.Printf("[CONFIG] Loaded %s", path)
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("AIFW_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.APIPort = n
		}
	}
	if v := os.Getenv("AIFW_BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("AIFW_API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv("AIFW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AIFW_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("AIFW_LOG_KEEP_MONTHS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogKeepMonths = n
		}
	}
	if v := os.Getenv("AIFW_DEFAULT_LANGUAGE"); v != "" {
		cfg.DefaultLang = v
	}
	if v := os.Getenv("OLLAMA_ENDPOINT"); v != "" {
		cfg.OllamaEndpoint = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.OllamaModel = v
	}
	if v := os.Getenv("USE_AI_DETECTION"); v == "false" {
		cfg.UseAIDetection = false
	}
	if v := os.Getenv("AI_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.AIConfidence = f
		}
	}
	if v := os.Getenv("AI_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AIMaxConcurrent = n
		}
	}
	if v := os.Getenv("AIFW_CACHE_PATH"); v != "" {
		cfg.CachePath = v
	}
	if v := os.Getenv("AIFW_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheCapacity = n
		}
	}
}
