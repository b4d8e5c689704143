package commands

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/54b3r/instqa-go/internal/config"
	"github.com/54b3r/instqa-go/internal/logging"
	"github.com/54b3r/instqa-go/internal/rag"
	"github.com/54b3r/instqa-go/internal/retrieval"
)

// fixedEmbedder returns vectors of a fixed width. model defaults to "fixed";
// hideWidth makes Identity report an unknown width.
type fixedEmbedder struct {
	dims      int
	model     string
	hideWidth bool
}

func (f fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, f.dims)
		v[0] = 1
		v[1] = float32(len(text))
		out[i] = v
	}
	return out, nil
}

func (f fixedEmbedder) Identity() rag.ModelIdentity {
	id := rag.ModelIdentity{Backend: "fake", Model: "fixed", Dimensions: f.dims}
	if f.model != "" {
		id.Model = f.model
	}
	if f.hideWidth {
		id.Dimensions = 0
	}
	return id
}

func testSettings(t *testing.T, source string) *config.Settings {
	t.Helper()
	return &config.Settings{
		IndexBackend: "flat",
		IndexDir:     filepath.Join(t.TempDir(), "index"),
		SourceFile:   source,
		Language:     "ar",
		ChunkPolicy:  "whole",
		ChunkSize:    1000,
		TopK:         3,
	}
}

func writeSources(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "documents.json")
	data := `[
  {"url": "https://example.org/ar/hours", "lang": "ar", "content": "ساعات العمل من 8 إلى 3"},
  {"url": "https://example.org/en/hours", "lang": "en", "content": "Opening hours are 8 to 3"},
  {"url": "https://example.org/ar/apply", "content": "طريقة التقديم"}
]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func Test_LoadOrBuildIndex_MissingSourceStartsWithoutIndex(t *testing.T) {
	t.Parallel()
	s := testSettings(t, filepath.Join(t.TempDir(), "missing.json"))
	b, err := openIndexBackend(s, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}

	searcher, err := loadOrBuildIndex(context.Background(), s, fixedEmbedder{dims: 3}, b, logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if searcher != nil {
		t.Error("expected no searcher when the source file is missing")
	}
}

func Test_LoadOrBuildIndex_BuildsThenReuses(t *testing.T) {
	t.Parallel()
	s := testSettings(t, writeSources(t))
	b, _ := openIndexBackend(s, logging.Discard())

	searcher, err := loadOrBuildIndex(context.Background(), s, fixedEmbedder{dims: 3}, b, logging.Discard())
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	idx, ok := searcher.(*rag.FlatIndex)
	if !ok {
		t.Fatalf("expected *rag.FlatIndex, got %T", searcher)
	}
	if idx.Len() != 2 {
		t.Errorf("chunks: got %d, want 2 (english page dropped)", idx.Len())
	}

	// Second start loads the existing index without reading the source file.
	s.SourceFile = filepath.Join(t.TempDir(), "gone.json")
	if _, err := loadOrBuildIndex(context.Background(), s, fixedEmbedder{dims: 3}, b, logging.Discard()); err != nil {
		t.Fatalf("second start: %v", err)
	}
}

func Test_LoadOrBuildIndex_DimensionMismatchIsFatal(t *testing.T) {
	t.Parallel()
	s := testSettings(t, writeSources(t))
	b, _ := openIndexBackend(s, logging.Discard())

	if _, err := loadOrBuildIndex(context.Background(), s, fixedEmbedder{dims: 3}, b, logging.Discard()); err != nil {
		t.Fatal(err)
	}
	_, err := loadOrBuildIndex(context.Background(), s, fixedEmbedder{dims: 4}, b, logging.Discard())
	if !errors.Is(err, rag.ErrIncompatibleDimensions) {
		t.Fatalf("expected ErrIncompatibleDimensions, got %v", err)
	}
}

func Test_LoadOrBuildIndex_OtherModelIsFatal(t *testing.T) {
	t.Parallel()
	s := testSettings(t, writeSources(t))
	b, _ := openIndexBackend(s, logging.Discard())

	if _, err := loadOrBuildIndex(context.Background(), s, fixedEmbedder{dims: 3}, b, logging.Discard()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		emb  fixedEmbedder
	}{
		{"same width, other model", fixedEmbedder{dims: 3, model: "other"}},
		{"unreported width, other model", fixedEmbedder{dims: 4, model: "other", hideWidth: true}},
		{"unreported width, same model", fixedEmbedder{dims: 4, hideWidth: true}},
	}
	for _, tc := range tests {
		_, err := loadOrBuildIndex(context.Background(), s, tc.emb, b, logging.Discard())
		if !errors.Is(err, rag.ErrIncompatibleDimensions) {
			t.Errorf("%s: expected ErrIncompatibleDimensions, got %v", tc.name, err)
		}
	}

	// Learning the width by embedding lets the matching model through.
	if _, err := loadOrBuildIndex(context.Background(), s, fixedEmbedder{dims: 3, hideWidth: true}, b, logging.Discard()); err != nil {
		t.Errorf("matching model with unreported width: %v", err)
	}
}

func Test_BuildEngine_Overrides(t *testing.T) {
	t.Parallel()
	s := testSettings(t, "")
	s.Overrides = []config.OverrideConfig{
		{ID: "overview", Triggers: []string{"overview", "نبذة عن"}, Document: "About us."},
	}

	engine, err := buildEngine(s, fixedEmbedder{dims: 3}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	res := engine.Retrieve(context.Background(), "نبذة عن المؤسسة", 0)
	if res.Status != retrieval.StatusOK || res.OverrideID != "overview" || res.Context != "About us." {
		t.Errorf("override result: %+v", res)
	}
	if res := engine.Retrieve(context.Background(), "opening hours", 0); res.Status != retrieval.StatusNoContext {
		t.Errorf("no index: got status %q", res.Status)
	}
}
