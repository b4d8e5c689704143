package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/54b3r/instqa-go/internal/rag"
)

// ---- Ollama ----

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	var gotReq ollamaEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = io.WriteString(w, `{"embeddings":[[0.1,0.2],[0.3,0.4]]}`)
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text", Dimensions: 2})
	out, err := emb.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(out) != 2 || out[1][0] != 0.3 {
		t.Errorf("unexpected embeddings: %v", out)
	}
	if gotReq.Model != "nomic-embed-text" || len(gotReq.Input) != 2 {
		t.Errorf("unexpected request: %+v", gotReq)
	}
	if id := emb.Identity(); id.Backend != "ollama" || id.Dimensions != 2 {
		t.Errorf("identity: got %+v", id)
	}
}

func TestOllamaEmbedder_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"missing\" not found"}`)
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "missing"})
	_, err := emb.Embed(context.Background(), []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected upstream error message, got %v", err)
	}
}

func TestOllamaEmbedder_CountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"embeddings":[[0.1]]}`)
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m"})
	if _, err := emb.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error when fewer embeddings are returned than requested")
	}
}

func TestOllamaEmbedder_EmptyBatch(t *testing.T) {
	t.Parallel()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: "http://127.0.0.1:0", Model: "m"})
	out, err := emb.Embed(context.Background(), nil)
	if err != nil || out != nil {
		t.Errorf("expected nil, nil for empty batch, got %v, %v", out, err)
	}
}

// ---- OpenAI / Azure ----

func TestOpenAIEmbedder_ReordersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization: got %q", got)
		}
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"data":[{"embedding":[2],"index":1},{"embedding":[1],"index":0}]}`)
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "text-embedding-3-small"})
	out, err := emb.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if out[0][0] != 1 || out[1][0] != 2 {
		t.Errorf("embeddings not reordered by index: %v", out)
	}
}

func TestOpenAIEmbedder_AzureAuthAndPath(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-key"); got != "az-key" {
			t.Errorf("api-key: got %q", got)
		}
		if r.URL.Path != "/openai/deployments/embed-deploy/embeddings" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("api-version"); got != "2025-04-01-preview" {
			t.Errorf("api-version: got %q", got)
		}
		_, _ = io.WriteString(w, `{"data":[{"embedding":[0.5],"index":0}]}`)
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL:    srv.URL + "/openai",
		APIKey:     "az-key",
		Model:      "embed-deploy",
		Azure:      true,
		APIVersion: "2025-04-01-preview",
	})
	if _, err := emb.Embed(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if id := emb.Identity(); id.Backend != "azure" {
		t.Errorf("identity backend: got %q", id.Backend)
	}
}

func TestOpenAIEmbedder_ErrorBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"invalid api key"}}`)
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "bad", Model: "m"})
	_, err := emb.Embed(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("expected API error message, got %v", err)
	}
}

// ---- eino adapter ----

// fakeEinoEmbedder is a test double for embedding.Embedder.
type fakeEinoEmbedder struct {
	// vectors is returned from EmbedStrings.
	vectors [][]float64
	// err is returned from EmbedStrings when set.
	err error
}

func (f *fakeEinoEmbedder) EmbedStrings(_ context.Context, _ []string, _ ...embedding.Option) ([][]float64, error) {
	return f.vectors, f.err
}

// einoIdentity is the identity reported by adapters under test.
var einoIdentity = rag.ModelIdentity{Backend: "eino-openai", Model: "text-embedding-3-small", Dimensions: 2}

func TestEinoEmbedder_NarrowsToFloat32(t *testing.T) {
	t.Parallel()

	emb := NewEinoEmbedder(&fakeEinoEmbedder{vectors: [][]float64{{0.25, 0.5}}}, einoIdentity)
	out, err := emb.Embed(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(out) != 1 || out[0][0] != 0.25 || out[0][1] != 0.5 {
		t.Errorf("unexpected embeddings: %v", out)
	}
	if emb.Identity().Backend != "eino-openai" {
		t.Errorf("identity: got %+v", emb.Identity())
	}
}

func TestEinoEmbedder_PropagatesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	emb := NewEinoEmbedder(&fakeEinoEmbedder{err: boom}, einoIdentity)
	if _, err := emb.Embed(context.Background(), []string{"x"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestEinoEmbedder_CountMismatch(t *testing.T) {
	t.Parallel()

	emb := NewEinoEmbedder(&fakeEinoEmbedder{vectors: [][]float64{{1}}}, einoIdentity)
	if _, err := emb.Embed(context.Background(), []string{"x", "y"}); err == nil {
		t.Fatal("expected error on count mismatch")
	}
}

// ---- factory / validation ----

func TestDefaultDimensions(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		model   string
		env     string
		want    int
	}{
		{"ollama default model", "ollama", defaultOllamaModel, "", defaultOllamaDimensions},
		{"openai default model", "openai", defaultOpenAIModel, "", defaultOpenAIDimensions},
		{"unknown model", "ollama", "bge-m3", "", 0},
		{"env override", "ollama", "bge-m3", "1024", 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("EMBEDDING_DIMENSIONS", tt.env)
			if got := DefaultDimensions(tt.backend, tt.model); got != tt.want {
				t.Errorf("DefaultDimensions(%q, %q) = %d, want %d", tt.backend, tt.model, got, tt.want)
			}
		})
	}
}

func TestNewFromEnv_UnknownBackend(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "bedrock")

	if _, err := NewFromEnv(context.Background()); err == nil {
		t.Fatal("expected error for backend without embedding support")
	}
}

func TestNewFromEnv_OllamaDefaults(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("EMBEDDING_MODEL", "")
	t.Setenv("EMBEDDING_ENDPOINT", "")
	t.Setenv("EMBEDDING_DIMENSIONS", "")

	emb, err := NewFromEnv(context.Background())
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	id := emb.Identity()
	if id.Model != defaultOllamaModel || id.Dimensions != defaultOllamaDimensions {
		t.Errorf("identity: got %+v", id)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"ollama needs nothing", map[string]string{"EMBEDDING_PROVIDER": "ollama"}, false},
		{"openai without key", map[string]string{"EMBEDDING_PROVIDER": "openai"}, true},
		{"openai with key", map[string]string{"EMBEDDING_PROVIDER": "openai", "OPENAI_API_KEY": "sk"}, false},
		{"azure without endpoint", map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k"}, true},
		{"gemini unsupported", map[string]string{"EMBEDDING_PROVIDER": "gemini"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{
				"EMBEDDING_PROVIDER", "MODEL_PROVIDER", "EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT",
				"OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "EMBEDDING_MODEL",
			} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			err := Validate(slog.New(slog.DiscardHandler))
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
