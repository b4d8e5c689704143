package retrieval

import (
	"fmt"
	"strings"
)

// Override is one curated document served in place of semantic search when
// a query contains any of its trigger phrases.
type Override struct {
	// ID names the override in logs and results.
	ID string
	// Triggers are the phrases that select this override.
	Triggers []string
	// Document is the curated text returned as the sole context.
	Document string
}

// OverrideTable maps trigger phrases to curated documents. Matching is a
// literal substring test after case folding and whitespace collapsing, so
// "Give me an OVERVIEW" matches the trigger "overview". Entries are checked
// in configuration order and the first match wins.
type OverrideTable struct {
	// entries holds the overrides with pre-normalised triggers.
	entries []Override
}

// NewOverrideTable validates entries and returns a table ready for matching.
// An empty table never matches.
func NewOverrideTable(entries []Override) (*OverrideTable, error) {
	t := &OverrideTable{entries: make([]Override, 0, len(entries))}
	for i, e := range entries {
		if strings.TrimSpace(e.Document) == "" {
			return nil, fmt.Errorf("retrieval: override %d (%s) has an empty document", i, e.ID)
		}
		triggers := make([]string, 0, len(e.Triggers))
		for _, tr := range e.Triggers {
			if n := normalize(tr); n != "" {
				triggers = append(triggers, n)
			}
		}
		if len(triggers) == 0 {
			return nil, fmt.Errorf("retrieval: override %d (%s) has no trigger phrases", i, e.ID)
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("override-%d", i)
		}
		t.entries = append(t.entries, Override{ID: e.ID, Triggers: triggers, Document: e.Document})
	}
	return t, nil
}

// Len returns the number of overrides in the table.
func (t *OverrideTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Match returns the first override whose trigger occurs in query.
func (t *OverrideTable) Match(query string) (Override, bool) {
	if t == nil {
		return Override{}, false
	}
	q := normalize(query)
	if q == "" {
		return Override{}, false
	}
	for _, e := range t.entries {
		for _, tr := range e.Triggers {
			if strings.Contains(q, tr) {
				return e, true
			}
		}
	}
	return Override{}, false
}

// normalize lower-cases s and collapses runs of whitespace to one space.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
