package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by Resolve when neither YAML nor env supplies a value.
const (
	defaultHost          = "127.0.0.1"
	defaultPort          = 8080
	defaultTokenTTL      = 30 * time.Minute
	defaultIndexBackend  = "flat"
	defaultIndexDir      = "data/index"
	defaultSourceFile    = "data/documents.json"
	defaultLanguage      = "ar"
	defaultChunkPolicy   = "split"
	defaultChunkSize     = 1000
	defaultChunkOverlap  = 200
	defaultTopK          = 3
	defaultAnswerBackend = "http"
	defaultAnswerTimeout = 60 * time.Second
	defaultRateLimit     = 10
	defaultRateBurst     = 20
)

// ConfigurationError reports a missing or invalid setting that prevents the
// process from starting.
type ConfigurationError struct {
	// Key is the env var (or YAML path) at fault.
	Key string
	// Reason describes what is wrong with it.
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// Settings is the fully resolved runtime configuration. It is built once at
// startup by Resolve and treated as read-only afterwards.
type Settings struct {
	// Host is the HTTP bind address.
	Host string
	// Port is the HTTP port.
	Port int
	// RateLimit is the sustained per-IP request rate on limited routes.
	RateLimit float64
	// RateBurst is the per-IP burst on limited routes.
	RateBurst int

	// JWTSecret signs access tokens.
	JWTSecret string
	// TokenTTL is the access token lifetime.
	TokenTTL time.Duration

	// DBPath is the SQLite database path. Empty means the store default.
	DBPath string

	// IndexBackend is "flat" or "qdrant".
	IndexBackend string
	// IndexDir is the flat index directory.
	IndexDir string

	// SourceFile is the JSON source document file used by ingestion.
	SourceFile string
	// Language is the ingestion target language.
	Language string
	// ChunkPolicy is "whole" or "split".
	ChunkPolicy string
	// ChunkSize is the split policy's maximum chunk length.
	ChunkSize int
	// ChunkOverlap is the split policy's target overlap.
	ChunkOverlap int

	// TopK is the default retrieval depth.
	TopK int
	// Overrides is the resolved override table with document text loaded.
	Overrides []OverrideConfig

	// AnswerBackend is "http" or "model".
	AnswerBackend string
	// AnswerURL is the external answer service endpoint.
	AnswerURL string
	// AnswerTimeout bounds each answer call.
	AnswerTimeout time.Duration
}

// Resolve builds Settings from the process environment (after Load has
// projected the YAML file into it) plus the override table from cfg.
// It validates everything that does not depend on the command being run.
func Resolve(cfg *Config) (*Settings, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	s := &Settings{
		Host:          getEnvOrDefault("INSTQA_HOST", defaultHost),
		Port:          getEnvInt("INSTQA_PORT", defaultPort),
		RateLimit:     getEnvFloat("INSTQA_RATE_LIMIT", defaultRateLimit),
		RateBurst:     getEnvInt("INSTQA_RATE_BURST", defaultRateBurst),
		JWTSecret:     os.Getenv("INSTQA_JWT_SECRET"),
		TokenTTL:      time.Duration(getEnvInt("INSTQA_TOKEN_TTL_MINUTES", int(defaultTokenTTL/time.Minute))) * time.Minute,
		DBPath:        os.Getenv("INSTQA_DB_PATH"),
		IndexBackend:  strings.ToLower(getEnvOrDefault("INDEX_BACKEND", defaultIndexBackend)),
		IndexDir:      getEnvOrDefault("INDEX_DIR", defaultIndexDir),
		SourceFile:    getEnvOrDefault("INGEST_SOURCE_FILE", defaultSourceFile),
		Language:      getEnvOrDefault("INGEST_LANGUAGE", defaultLanguage),
		ChunkPolicy:   strings.ToLower(getEnvOrDefault("INGEST_CHUNK_POLICY", defaultChunkPolicy)),
		ChunkSize:     getEnvInt("INGEST_CHUNK_SIZE", defaultChunkSize),
		ChunkOverlap:  getEnvInt("INGEST_CHUNK_OVERLAP", defaultChunkOverlap),
		TopK:          getEnvInt("RETRIEVAL_TOP_K", defaultTopK),
		AnswerBackend: strings.ToLower(getEnvOrDefault("ANSWER_BACKEND", defaultAnswerBackend)),
		AnswerURL:     os.Getenv("ANSWER_URL"),
		AnswerTimeout: time.Duration(getEnvInt("ANSWER_TIMEOUT_SECONDS", int(defaultAnswerTimeout/time.Second))) * time.Second,
	}

	overrides, err := resolveOverrides(cfg)
	if err != nil {
		return nil, err
	}
	s.Overrides = overrides

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// validate checks settings shared by every command.
func (s *Settings) validate() error {
	switch s.IndexBackend {
	case "flat", "qdrant":
	default:
		return &ConfigurationError{Key: "INDEX_BACKEND", Reason: fmt.Sprintf("unknown backend %q (valid: flat, qdrant)", s.IndexBackend)}
	}
	switch s.ChunkPolicy {
	case "whole", "split":
	default:
		return &ConfigurationError{Key: "INGEST_CHUNK_POLICY", Reason: fmt.Sprintf("unknown policy %q (valid: whole, split)", s.ChunkPolicy)}
	}
	if s.ChunkSize <= 0 {
		return &ConfigurationError{Key: "INGEST_CHUNK_SIZE", Reason: "must be positive"}
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		return &ConfigurationError{Key: "INGEST_CHUNK_OVERLAP", Reason: "must be in [0, chunk size)"}
	}
	if s.Language == "" {
		return &ConfigurationError{Key: "INGEST_LANGUAGE", Reason: "must not be empty"}
	}
	if s.TopK <= 0 {
		return &ConfigurationError{Key: "RETRIEVAL_TOP_K", Reason: "must be positive"}
	}
	if s.AnswerTimeout <= 0 {
		return &ConfigurationError{Key: "ANSWER_TIMEOUT_SECONDS", Reason: "must be positive"}
	}
	switch s.AnswerBackend {
	case "http":
		if s.AnswerURL == "" {
			return &ConfigurationError{Key: "ANSWER_URL", Reason: "required when ANSWER_BACKEND=http"}
		}
	case "model":
	default:
		return &ConfigurationError{Key: "ANSWER_BACKEND", Reason: fmt.Sprintf("unknown backend %q (valid: http, model)", s.AnswerBackend)}
	}
	return nil
}

// RequireServe checks the settings only the HTTP server needs.
func (s *Settings) RequireServe() error {
	if s.JWTSecret == "" {
		return &ConfigurationError{Key: "INSTQA_JWT_SECRET", Reason: "required to sign access tokens"}
	}
	if s.TokenTTL <= 0 {
		return &ConfigurationError{Key: "INSTQA_TOKEN_TTL_MINUTES", Reason: "must be positive"}
	}
	return nil
}

// resolveOverrides loads document files and validates each override entry.
// Relative document paths are resolved against the config file directory.
func resolveOverrides(cfg *Config) ([]OverrideConfig, error) {
	out := make([]OverrideConfig, 0, len(cfg.Retrieval.Overrides))
	baseDir := "."
	if cfg.Path != "" {
		baseDir = filepath.Dir(cfg.Path)
	}

	for i, o := range cfg.Retrieval.Overrides {
		key := fmt.Sprintf("retrieval.overrides[%d]", i)
		if o.ID == "" {
			o.ID = fmt.Sprintf("override-%d", i)
		}
		if len(o.Triggers) == 0 {
			return nil, &ConfigurationError{Key: key, Reason: "at least one trigger is required"}
		}
		if o.Document == "" && o.DocumentFile != "" {
			p := o.DocumentFile
			if !filepath.IsAbs(p) {
				p = filepath.Join(baseDir, p)
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, &ConfigurationError{Key: key, Reason: fmt.Sprintf("read document file: %v", err)}
			}
			o.Document = string(data)
		}
		if strings.TrimSpace(o.Document) == "" {
			return nil, &ConfigurationError{Key: key, Reason: "document text is empty"}
		}
		out = append(out, o)
	}
	return out, nil
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat returns the float value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
