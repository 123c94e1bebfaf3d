package citation

import (
	"sort"

	"github.com/ppiankov/twinsight/internal/model"
)

// indexMap holds the citation entries of one resolution. Entries are only
// ever added or refined, never removed.
type indexMap struct {
	entries map[int]*model.CitationEntry
	// terms records the text fragment that produced a textual match
	terms map[int]string
}

func newIndexMap() *indexMap {
	return &indexMap{
		entries: make(map[int]*model.CitationEntry),
		terms:   make(map[int]string),
	}
}

func (m *indexMap) get(idx int) (*model.CitationEntry, bool) {
	e, ok := m.entries[idx]
	return e, ok
}

func (m *indexMap) add(e model.CitationEntry) {
	if _, exists := m.entries[e.Index]; exists {
		return
	}
	entry := e
	m.entries[e.Index] = &entry
}

// next returns the smallest index larger than every assigned index
func (m *indexMap) next() int {
	max := 0
	for idx := range m.entries {
		if idx > max {
			max = idx
		}
	}
	return max + 1
}

// sorted returns entries in index order
func (m *indexMap) sorted() []*model.CitationEntry {
	out := make([]*model.CitationEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (m *indexMap) unresolved() []*model.CitationEntry {
	var out []*model.CitationEntry
	for _, e := range m.sorted() {
		if !e.Resolved() {
			out = append(out, e)
		}
	}
	return out
}

// confirmed reports whether some entry that does not rely on evidence
// position alone points at the document
func (m *indexMap) confirmed(docID int64) bool {
	for _, e := range m.entries {
		if e.LocalDocID == docID && e.Origin != model.OriginContextFallback {
			return true
		}
	}
	return false
}

func (m *indexMap) snapshot() []model.CitationEntry {
	sorted := m.sorted()
	out := make([]model.CitationEntry, len(sorted))
	for i, e := range sorted {
		out[i] = *e
	}
	return out
}
