package retrieval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/instqa-go/internal/rag"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// keywordEmbedder maps a text to a 3-dimensional vector by counting the
// keywords "loan", "branch" and "card".
type keywordEmbedder struct {
	// err is returned from Embed when set.
	err error
	// calls counts Embed invocations.
	calls int
}

func (k *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	k.calls++
	if k.err != nil {
		return nil, k.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		out[i] = []float32{
			float32(strings.Count(lower, "loan")) + 0.01,
			float32(strings.Count(lower, "branch")) + 0.01,
			float32(strings.Count(lower, "card")) + 0.01,
		}
	}
	return out, nil
}

func (k *keywordEmbedder) Identity() rag.ModelIdentity {
	return rag.ModelIdentity{Backend: "fake", Model: "keywords", Dimensions: 3}
}

// stubSearcher returns fixed documents or an error, or panics.
type stubSearcher struct {
	// docs is returned from Search.
	docs []rag.Document
	// err is returned from Search when set.
	err error
	// panics makes Search panic.
	panics bool
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, _ int) ([]rag.Document, error) {
	if s.panics {
		panic("index corrupted")
	}
	return s.docs, s.err
}

// overviewTable returns a table with one overview override.
func overviewTable(t *testing.T) *OverrideTable {
	t.Helper()
	table, err := NewOverrideTable([]Override{{
		ID:       "overview",
		Triggers: []string{"overview", "نبذة عن"},
		Document: "The institution was founded in 1960 and operates 70 branches.",
	}})
	if err != nil {
		t.Fatal(err)
	}
	return table
}

// buildIndex writes a flat index of the given texts and loads it.
func buildIndex(t *testing.T, texts ...string) *rag.FlatIndex {
	t.Helper()
	emb := &keywordEmbedder{}
	vecs, _ := emb.Embed(context.Background(), texts)
	docs := make([]rag.Document, len(texts))
	for i, text := range texts {
		docs[i] = rag.Document{ID: fmt.Sprintf("c%d", i), Content: text, Source: fmt.Sprintf("https://example.ps/ar/%d", i), Language: "ar"}
	}
	dir := filepath.Join(t.TempDir(), "index")
	if err := rag.BuildFlat(dir, emb.Identity(), docs, vecs); err != nil {
		t.Fatalf("BuildFlat: %v", err)
	}
	idx, err := rag.LoadFlat(dir, emb.Identity())
	if err != nil {
		t.Fatalf("LoadFlat: %v", err)
	}
	return idx
}

// newEngine builds an Engine or fails the test.
func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// ---------------------------------------------------------------------------
// Override precedence
// ---------------------------------------------------------------------------

func TestRetrieve_OverrideBypassesSearch(t *testing.T) {
	t.Parallel()

	emb := &keywordEmbedder{}
	e := newEngine(t, Config{
		Embedder:  emb,
		Searcher:  buildIndex(t, "loan terms", "branch hours"),
		Overrides: overviewTable(t),
	})

	res := e.Retrieve(context.Background(), "Can you give me an OVERVIEW of the bank?", 3)
	if res.Status != StatusOK || res.OverrideID != "overview" {
		t.Fatalf("expected override result, got %+v", res)
	}
	if !strings.HasPrefix(res.Context, "The institution was founded") {
		t.Errorf("context: got %q", res.Context)
	}
	if emb.calls != 0 {
		t.Errorf("override must not embed the query, got %d calls", emb.calls)
	}
}

func TestRetrieve_OverrideWorksWithoutIndex(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Config{Overrides: overviewTable(t)})

	res := e.Retrieve(context.Background(), "أعطني نبذة عن البنك", 3)
	if res.Status != StatusOK || res.OverrideID != "overview" {
		t.Fatalf("expected Arabic trigger to match, got %+v", res)
	}
}

func TestRetrieve_OverrideOnEmptyIndex(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Config{Embedder: &keywordEmbedder{}, Searcher: buildIndex(t), Overrides: overviewTable(t)})

	if res := e.Retrieve(context.Background(), "overview please", 3); res.Status != StatusOK {
		t.Fatalf("expected override on empty index, got %+v", res)
	}
}

// ---------------------------------------------------------------------------
// Top-k and assembly
// ---------------------------------------------------------------------------

func TestRetrieve_TopKOrderedBySimilarity(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Config{
		Embedder: &keywordEmbedder{},
		Searcher: buildIndex(t, "card fees", "loan loan rates", "branch list", "loan and branch"),
	})

	res := e.Retrieve(context.Background(), "loan", 2)
	if res.Status != StatusOK {
		t.Fatalf("status: got %s", res.Status)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(res.Documents))
	}
	if res.Documents[0].Content != "loan loan rates" {
		t.Errorf("rank 0: got %q", res.Documents[0].Content)
	}
	if res.Documents[0].Score < res.Documents[1].Score {
		t.Errorf("scores not descending: %v, %v", res.Documents[0].Score, res.Documents[1].Score)
	}
	want := res.Documents[0].Content + Separator + res.Documents[1].Content
	if res.Context != want {
		t.Errorf("context: got %q, want %q", res.Context, want)
	}
}

func TestRetrieve_DefaultTopK(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Config{
		Embedder: &keywordEmbedder{},
		Searcher: buildIndex(t, "a loan", "b loan", "c loan", "d loan", "e loan"),
	})

	res := e.Retrieve(context.Background(), "loan", 0)
	if len(res.Documents) != DefaultTopK {
		t.Errorf("expected %d documents, got %d", DefaultTopK, len(res.Documents))
	}
	if got := strings.Count(res.Context, Separator); got != DefaultTopK-1 {
		t.Errorf("expected %d separators, got %d", DefaultTopK-1, got)
	}
}

func TestRetrieve_TruncatesOversizedSearchResult(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Config{
		Embedder: &keywordEmbedder{},
		Searcher: &stubSearcher{docs: []rag.Document{{Content: "one"}, {Content: "two"}, {Content: "three"}}},
	})

	if res := e.Retrieve(context.Background(), "q", 2); len(res.Documents) != 2 {
		t.Errorf("expected 2 documents, got %d", len(res.Documents))
	}
}

// ---------------------------------------------------------------------------
// Sentinels
// ---------------------------------------------------------------------------

func TestRetrieve_EmptyIndexIsNoContext(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Config{Embedder: &keywordEmbedder{}, Searcher: buildIndex(t)})

	res := e.Retrieve(context.Background(), "loan", 3)
	if res.Status != StatusNoContext {
		t.Fatalf("expected no_context, got %s", res.Status)
	}
	if res.Text() != NoContextMessage {
		t.Errorf("text: got %q", res.Text())
	}
}

func TestRetrieve_NoIndexIsNoContext(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Config{})
	if res := e.Retrieve(context.Background(), "loan", 3); res.Status != StatusNoContext {
		t.Fatalf("expected no_context without an index, got %s", res.Status)
	}
}

func TestRetrieve_FailuresBecomeStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		embedder rag.Embedder
		searcher rag.Searcher
	}{
		{"embedding failure", &keywordEmbedder{err: errors.New("provider down")}, &stubSearcher{}},
		{"search failure", &keywordEmbedder{}, &stubSearcher{err: errors.New("io error")}},
		{"search panic", &keywordEmbedder{}, &stubSearcher{panics: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEngine(t, Config{Embedder: tt.embedder, Searcher: tt.searcher})
			res := e.Retrieve(context.Background(), "loan", 3)
			if res.Status != StatusError {
				t.Fatalf("expected error status, got %+v", res)
			}
			if res.Text() != ErrorMessage {
				t.Errorf("text: got %q", res.Text())
			}
		})
	}
}

func TestRetrieve_IncompatibleIndexDegradesToNoContext(t *testing.T) {
	t.Parallel()
	searchErr := fmt.Errorf("%w: query has 4 values, index has 3", rag.ErrIncompatibleDimensions)
	e := newEngine(t, Config{Embedder: &keywordEmbedder{}, Searcher: &stubSearcher{err: searchErr}})

	res := e.Retrieve(context.Background(), "loan", 3)
	if res.Status != StatusNoContext {
		t.Fatalf("expected no_context for an incompatible index, got %+v", res)
	}
	if res.Text() != NoContextMessage {
		t.Errorf("text: got %q", res.Text())
	}
}

func TestRetrieve_ObserveReceivesStatus(t *testing.T) {
	t.Parallel()

	var seen []Status
	e := newEngine(t, Config{
		Overrides: overviewTable(t),
		Observe:   func(s Status) { seen = append(seen, s) },
	})

	e.Retrieve(context.Background(), "overview", 3)
	e.Retrieve(context.Background(), "loan", 3)

	if len(seen) != 2 || seen[0] != StatusOK || seen[1] != StatusNoContext {
		t.Errorf("observed: got %v", seen)
	}
}

func TestNewEngine_RequiresEmbedderWithIndex(t *testing.T) {
	t.Parallel()

	if _, err := NewEngine(Config{Searcher: &stubSearcher{}}); err == nil {
		t.Fatal("expected error when an index is given without an embedder")
	}
}
