// Package tracing wires eino callbacks to Langfuse so model-backed answers can
// be inspected per question.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// Config holds the Langfuse connection settings.
type Config struct {
	// Host is the Langfuse server URL (LANGFUSE_HOST).
	Host string
	// PublicKey is the project public key (LANGFUSE_PUBLIC_KEY).
	PublicKey string
	// SecretKey is the project secret key (LANGFUSE_SECRET_KEY).
	SecretKey string
}

// ConfigFromEnv reads the Langfuse settings from the environment.
func ConfigFromEnv() Config {
	return Config{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Setup initialises the Langfuse callback handler when cfg is enabled and
// registers it globally so every chat model call is traced. It returns a
// flush function that must be called before process exit to ensure all
// traces are sent. If Langfuse is not configured, ok is false and flush is a
// no-op.
func Setup(cfg Config) (flush func(), ok bool) {
	if !cfg.Enabled() {
		return func() {}, false
	}
	host := cfg.Host
	if host == "" {
		host = "http://localhost:3000"
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
	})
	callbacks.AppendGlobalHandlers(handler)

	return flusher, true
}
