package ingestion

import (
	"encoding/json"
	"fmt"
	"os"
)

// SourceDocument is one cleaned page produced by the external scraper.
type SourceDocument struct {
	// URL is the page the content was scraped from.
	URL string `json:"url"`

	// Language is the page language code. When the scraper left it empty it
	// is inferred from the URL on load.
	Language string `json:"lang"`

	// Content is the cleaned page text.
	Content string `json:"content"`
}

// LoadSources reads a JSON array of source documents from path. Explicit
// "lang" values pass through CanonicalLanguage; missing ones are filled from
// InferLanguage. A missing file is reported
// with an error wrapping fs.ErrNotExist so callers can treat it as a warning.
func LoadSources(path string) ([]SourceDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: read sources %s: %w", path, err)
	}

	var docs []SourceDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("ingestion: parse sources %s: %w", path, err)
	}

	for i := range docs {
		docs[i].Language = CanonicalLanguage(docs[i].Language)
		if docs[i].Language == "" {
			docs[i].Language = InferLanguage(docs[i].URL)
		}
	}
	return docs, nil
}
