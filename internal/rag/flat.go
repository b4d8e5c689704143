package rag

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// File names inside a flat index directory.
const (
	manifestFile = "manifest.json"
	chunksFile   = "chunks.jsonl"
	vectorsFile  = "vectors.bin"

	// flatFormatVersion is bumped whenever the on-disk layout changes.
	flatFormatVersion = 1
)

// manifest describes a flat index directory.
type manifest struct {
	// Version is the on-disk format version.
	Version int `json:"version"`
	// Identity is the embedding model the vectors came from.
	Identity ModelIdentity `json:"identity"`
	// Count is the number of chunks stored.
	Count int `json:"count"`
	// BuiltAt is the UTC build time.
	BuiltAt time.Time `json:"built_at"`
}

// chunkRecord is one line of chunks.jsonl.
type chunkRecord struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Source   string            `json:"source"`
	Language string            `json:"language"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FlatIndex is an in-memory, exhaustive cosine-similarity index loaded from a
// directory on disk. It is immutable after Load and safe for concurrent use.
type FlatIndex struct {
	// identity is the model the stored vectors were produced by.
	identity ModelIdentity
	// docs holds the stored chunks, parallel to vectors.
	docs []Document
	// vectors holds L2-normalised embeddings, parallel to docs.
	vectors [][]float32
}

// FlatWriter builds flat indexes into Dir. It satisfies IndexWriter.
type FlatWriter struct {
	// Dir is the target index directory.
	Dir string
}

// Replace implements IndexWriter by building a fresh index at w.Dir.
func (w *FlatWriter) Replace(_ context.Context, identity ModelIdentity, docs []Document, embeddings [][]float32) error {
	return BuildFlat(w.Dir, identity, docs, embeddings)
}

// FlatExists reports whether dir holds a flat index manifest.
func FlatExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, manifestFile))
	return err == nil
}

// BuildFlat writes docs and their parallel embeddings as a flat index at dir.
// The index is assembled in a sibling temporary directory and swapped into
// place with renames, so readers never observe a partially written index.
// Any prior index at dir is replaced wholesale.
func BuildFlat(dir string, identity ModelIdentity, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("rag: %d documents but %d embeddings", len(docs), len(embeddings))
	}
	dims, err := checkDimensions(embeddings)
	if err != nil {
		return err
	}
	if dims > 0 {
		if identity.Dimensions > 0 && identity.Dimensions != dims {
			return fmt.Errorf("%w: embedder reports %d, vectors have %d", ErrIncompatibleDimensions, identity.Dimensions, dims)
		}
		identity.Dimensions = dims
	}

	parent := filepath.Dir(filepath.Clean(dir))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("rag: create index parent %s: %w", parent, err)
	}
	tmp, err := os.MkdirTemp(parent, ".index-build-*")
	if err != nil {
		return fmt.Errorf("rag: create temp index dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmp)
		}
	}()

	if err := writeChunks(filepath.Join(tmp, chunksFile), docs); err != nil {
		return err
	}
	if err := writeVectors(filepath.Join(tmp, vectorsFile), embeddings); err != nil {
		return err
	}
	m := manifest{
		Version:  flatFormatVersion,
		Identity: identity,
		Count:    len(docs),
		BuiltAt:  time.Now().UTC(),
	}
	// The manifest is written last: its presence marks a complete index.
	if err := writeJSON(filepath.Join(tmp, manifestFile), m); err != nil {
		return err
	}

	if err := swapDir(tmp, dir); err != nil {
		return err
	}
	committed = true
	return nil
}

// swapDir moves the freshly built directory src to dst, replacing any
// existing directory at dst.
func swapDir(src, dst string) error {
	var backup string
	if _, err := os.Stat(dst); err == nil {
		backup = fmt.Sprintf("%s.old-%d", dst, time.Now().UnixNano())
		if err := os.Rename(dst, backup); err != nil {
			return fmt.Errorf("rag: move aside previous index: %w", err)
		}
	}
	if err := os.Rename(src, dst); err != nil {
		if backup != "" {
			_ = os.Rename(backup, dst)
		}
		return fmt.Errorf("rag: install index: %w", err)
	}
	if backup != "" {
		_ = os.RemoveAll(backup)
	}
	return nil
}

// LoadFlat reads the flat index at dir. When the manifest records a different
// model or vector width than expected, ErrIncompatibleDimensions is returned.
// A missing index yields ErrIndexNotFound.
func LoadFlat(dir string, expected ModelIdentity) (*FlatIndex, error) {
	var m manifest
	if err := readJSON(filepath.Join(dir, manifestFile), &m); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, dir)
		}
		return nil, err
	}
	if m.Version != flatFormatVersion {
		return nil, fmt.Errorf("rag: index %s has format version %d, want %d", dir, m.Version, flatFormatVersion)
	}
	if err := CheckCompatible(m.Identity, expected); err != nil {
		return nil, fmt.Errorf("index %s: %w", dir, err)
	}

	docs, err := readChunks(filepath.Join(dir, chunksFile))
	if err != nil {
		return nil, err
	}
	vectors, err := readVectors(filepath.Join(dir, vectorsFile), m.Count, m.Identity.Dimensions)
	if err != nil {
		return nil, err
	}
	if len(docs) != m.Count {
		return nil, fmt.Errorf("rag: index %s: manifest says %d chunks, found %d", dir, m.Count, len(docs))
	}

	return &FlatIndex{identity: m.Identity, docs: docs, vectors: vectors}, nil
}

// Identity returns the model identity recorded in the manifest.
func (f *FlatIndex) Identity() ModelIdentity { return f.identity }

// Len returns the number of stored chunks.
func (f *FlatIndex) Len() int { return len(f.docs) }

// Search scores every stored vector against the query by cosine similarity
// and returns the topK best, ordered by descending score. Ties keep index
// order so results are deterministic.
func (f *FlatIndex) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error) {
	if topK <= 0 || len(f.docs) == 0 {
		return nil, nil
	}
	if len(queryEmbedding) != f.identity.Dimensions {
		return nil, fmt.Errorf("%w: query has %d values, index has %d",
			ErrIncompatibleDimensions, len(queryEmbedding), f.identity.Dimensions)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := normalize(queryEmbedding)
	scores := make([]float32, len(f.vectors))
	for i, v := range f.vectors {
		scores[i] = dot(q, v)
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	if topK > len(order) {
		topK = len(order)
	}
	out := make([]Document, 0, topK)
	for _, idx := range order[:topK] {
		d := f.docs[idx]
		d.Score = scores[idx]
		out = append(out, d)
	}
	return out, nil
}

// normalize returns a unit-length copy of v. Zero vectors are returned as-is.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

// dot returns the inner product of two equal-length vectors.
func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// writeChunks writes docs as JSON lines.
func writeChunks(path string, docs []Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rag: create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, d := range docs {
		rec := chunkRecord{ID: d.ID, Text: d.Content, Source: d.Source, Language: d.Language, Metadata: d.Metadata}
		if err := enc.Encode(rec); err != nil {
			_ = f.Close()
			return fmt.Errorf("rag: encode chunk %s: %w", d.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("rag: flush %s: %w", path, err)
	}
	return syncClose(f)
}

// readChunks reads a chunks.jsonl file.
func readChunks(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rag: open %s: %w", path, err)
	}
	defer f.Close()

	var docs []Document
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var rec chunkRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("rag: decode %s: %w", path, err)
		}
		docs = append(docs, Document{
			ID:       rec.ID,
			Content:  rec.Text,
			Source:   rec.Source,
			Language: rec.Language,
			Metadata: rec.Metadata,
		})
	}
	return docs, nil
}

// writeVectors stores normalised vectors as little-endian float32 rows.
func writeVectors(path string, embeddings [][]float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rag: create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for i, v := range embeddings {
		if err := binary.Write(w, binary.LittleEndian, normalize(v)); err != nil {
			_ = f.Close()
			return fmt.Errorf("rag: write vector %d: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("rag: flush %s: %w", path, err)
	}
	return syncClose(f)
}

// readVectors reads count rows of dims float32 values.
func readVectors(path string, count, dims int) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rag: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	out := make([][]float32, count)
	for i := range out {
		row := make([]float32, dims)
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return nil, fmt.Errorf("rag: read vector %d from %s: %w", i, path, err)
		}
		out[i] = row
	}
	return out, nil
}

// writeJSON writes v as indented JSON to path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("rag: marshal %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rag: create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("rag: write %s: %w", path, err)
	}
	return syncClose(f)
}

// readJSON decodes the JSON file at path into v.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rag: decode %s: %w", path, err)
	}
	return nil
}

// syncClose flushes f to stable storage and closes it.
func syncClose(f *os.File) error {
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("rag: sync %s: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("rag: close %s: %w", f.Name(), err)
	}
	return nil
}
