//go:build integration

package rag

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// newScratchStore connects to Qdrant with a unique alias and removes every
// collection built under it when the test ends.
//
// Run with:
//
//	docker run -p 6334:6334 qdrant/qdrant
//	go test -tags=integration -run TestQdrantStore ./internal/rag/
//
// Set QDRANT_HOST / QDRANT_PORT if Qdrant is not on localhost:6334.
func newScratchStore(t *testing.T) *QdrantStore {
	t.Helper()
	port, _ := strconv.Atoi(os.Getenv("QDRANT_PORT"))
	store, err := NewQdrantStore(&QdrantConfig{
		Host:       os.Getenv("QDRANT_HOST"),
		Port:       port,
		Collection: "instqa-it-" + strconv.FormatInt(time.Now().UnixNano(), 36),
	})
	if err != nil {
		t.Fatalf("NewQdrantStore: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		_ = store.Client().DeleteAlias(ctx, store.Collection())
		names, _ := store.Client().ListCollections(ctx)
		for _, name := range names {
			if strings.HasPrefix(name, store.Collection()) {
				_ = store.Client().DeleteCollection(ctx, name)
			}
		}
		_ = store.Close()
	})
	return store
}

// scratchCollections lists the collections built under the store's alias.
func scratchCollections(t *testing.T, store *QdrantStore) []string {
	t.Helper()
	names, err := store.Client().ListCollections(context.Background())
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	var out []string
	for _, name := range names {
		if strings.HasPrefix(name, store.Collection()) {
			out = append(out, name)
		}
	}
	return out
}

func TestQdrantStore_Integration(t *testing.T) {
	store := newScratchStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	identity := ModelIdentity{Backend: "test", Model: "axes", Dimensions: 3}
	if err := store.CheckIdentity(ctx, identity); !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("before build: expected ErrIndexNotFound, got %v", err)
	}

	docs := []Document{
		{ID: uuid.NewString(), Content: "admissions", Source: "https://example.org/ar/admissions", Language: "ar"},
		{ID: uuid.NewString(), Content: "fees", Source: "https://example.org/ar/fees", Language: "ar"},
	}
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}}
	if err := store.Replace(ctx, identity, docs, vectors); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := store.Search(ctx, []float32{0.9, 0.1, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Content != "admissions" || got[0].Language != "ar" {
		t.Errorf("Search: got %+v", got)
	}

	if ok, err := store.Exists(ctx); err != nil || !ok {
		t.Errorf("Exists: got %v, %v", ok, err)
	}
	if err := store.CheckIdentity(ctx, identity); err != nil {
		t.Errorf("CheckIdentity with the building model: %v", err)
	}
	wider := ModelIdentity{Backend: "test", Model: "axes", Dimensions: 4}
	if err := store.CheckIdentity(ctx, wider); !errors.Is(err, ErrIncompatibleDimensions) {
		t.Errorf("wider: expected ErrIncompatibleDimensions, got %v", err)
	}
	other := ModelIdentity{Backend: "test", Model: "other", Dimensions: 3}
	if err := store.CheckIdentity(ctx, other); !errors.Is(err, ErrIncompatibleDimensions) {
		t.Errorf("other model: expected ErrIncompatibleDimensions, got %v", err)
	}

	// A second rebuild swaps the alias and drops the first collection.
	if err := store.Replace(ctx, identity, docs[1:], vectors[1:]); err != nil {
		t.Fatalf("second Replace: %v", err)
	}
	if names := scratchCollections(t, store); len(names) != 1 {
		t.Errorf("expected one collection after rebuild, got %v", names)
	}
	got, err = store.Search(ctx, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search after rebuild: %v", err)
	}
	if len(got) != 1 || got[0].Content != "fees" {
		t.Errorf("rebuild must replace, not merge: got %+v", got)
	}
}

func TestQdrantStore_FailedRebuildKeepsPreviousIndex(t *testing.T) {
	store := newScratchStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	identity := ModelIdentity{Backend: "test", Model: "axes", Dimensions: 3}
	if err := store.Replace(ctx, identity,
		[]Document{{ID: uuid.NewString(), Content: "admissions"}},
		[][]float32{{1, 0, 0}},
	); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	before := scratchCollections(t, store)

	// An invalid point id makes the upsert fail after the new collection exists.
	err := store.Replace(ctx, identity,
		[]Document{{ID: uuid.NewString(), Content: "fees"}, {ID: "not-a-uuid", Content: "hours"}},
		[][]float32{{0, 1, 0}, {0, 0, 1}},
	)
	if err == nil {
		t.Fatal("expected the rebuild to fail")
	}

	got, err := store.Search(ctx, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Content != "admissions" {
		t.Errorf("previous index must keep serving, got %+v", got)
	}
	if after := scratchCollections(t, store); len(after) != len(before) || after[0] != before[0] {
		t.Errorf("failed rebuild left collections behind: before %v, after %v", before, after)
	}
}
