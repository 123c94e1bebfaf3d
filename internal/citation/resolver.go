// Package citation turns backend citation markers into verified evidence
// links and a deduplicated source list.
//
// Resolution runs in fixed stages over a per-request index map:
//
//  0. drop any model-authored reference section
//  1. normalize adjacent citations "][" to ", "
//  2. seed entries from the backend's source index map
//  3. fill absent positions from the evidence list (context fallback)
//  4. resolve external file ids to local documents
//  5. resolve remaining entries by file name or title
//  6. add entries for evidence documents named in the text
//  7. rewrite numeric citation tokens into markers
//  8. rewrite bracketed document names into markers
//  9. build the source list from surviving entries
//
// Entries are never removed once added.
package citation

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/model"
)

// DocumentLookup resolves citation targets against the document catalog
type DocumentLookup interface {
	DocumentsByExternalIDs(ctx context.Context, ids []string) (map[string]model.EvidenceDocument, error)
	DocumentsByNames(ctx context.Context, names []string) ([]model.EvidenceDocument, error)
}

// Options configures source rendering
type Options struct {
	PreviewURL       string // format with one %d verb for the document id
	DownloadURL      string
	ReferenceSection bool
	Policy           SurvivalPolicy
}

// DefaultOptions returns the stock options
func DefaultOptions() Options {
	return Options{
		PreviewURL:  "/api/documents/%d/preview",
		DownloadURL: "/api/documents/%d/download",
		Policy:      KeepCitedOrConfirmed,
	}
}

// Resolver resolves citations in generated text
type Resolver struct {
	lookup DocumentLookup
	opts   Options
	logger *zap.Logger
}

// NewResolver creates a resolver. lookup may be nil, in which case only
// the evidence list is used to resolve entries.
func NewResolver(lookup DocumentLookup, opts Options, logger *zap.Logger) *Resolver {
	defaults := DefaultOptions()
	if opts.PreviewURL == "" {
		opts.PreviewURL = defaults.PreviewURL
	}
	if opts.DownloadURL == "" {
		opts.DownloadURL = defaults.DownloadURL
	}
	if opts.Policy == nil {
		opts.Policy = defaults.Policy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		lookup: lookup,
		opts:   opts,
		logger: logger,
	}
}

// Result is the outcome of a resolution
type Result struct {
	Text    string                `json:"analysis"`
	Sources []model.Source        `json:"sources"`
	Entries []model.CitationEntry `json:"entries,omitempty"`
}

// placeholderName matches names that carry no information ("Source 3")
var placeholderName = regexp.MustCompile(`(?i)^\s*(?:source|来源)\s*\d+\s*$`)

// Resolve rewrites text and builds the verified source list
func (r *Resolver) Resolve(ctx context.Context, text string, backend model.SourceIndexMap, docs []model.EvidenceDocument) (*Result, error) {
	text = stripReferenceSection(text)
	text = normalizeAdjacent(text)

	entries := newIndexMap()
	r.seedBackend(entries, backend)
	r.contextFallback(entries, docs)

	if err := r.resolveExternalIDs(ctx, entries); err != nil {
		return nil, fmt.Errorf("resolve external ids: %w", err)
	}
	if err := r.resolveNames(ctx, entries, docs); err != nil {
		return nil, fmt.Errorf("resolve names: %w", err)
	}

	r.textualScan(entries, text, docs)

	l := &linker{entries: entries, docs: knownDocs(entries, docs)}
	text = l.rewriteNumbers(text)
	text = rewriteNames(text, entries)
	text = linkMentions(text, entries)

	groups := r.survivors(entries, text, docs)
	sources := make([]model.Source, 0, len(groups))
	for _, g := range groups {
		sources = append(sources, model.Source{
			ID:          g.docID,
			Name:        g.name,
			PreviewURL:  fmt.Sprintf(r.opts.PreviewURL, g.docID),
			DownloadURL: fmt.Sprintf(r.opts.DownloadURL, g.docID),
		})
	}

	if r.opts.ReferenceSection {
		text = appendReferenceSection(text, groups)
	}

	r.logger.Debug("citations resolved",
		zap.Int("entries", len(entries.entries)),
		zap.Int("sources", len(sources)),
	)

	return &Result{
		Text:    text,
		Sources: sources,
		Entries: entries.snapshot(),
	}, nil
}

// seedBackend adds one entry per backend-supplied index
func (r *Resolver) seedBackend(entries *indexMap, backend model.SourceIndexMap) {
	for idx, ref := range backend {
		if idx < 1 {
			continue
		}
		entries.add(model.CitationEntry{
			Index:          idx,
			LocalDocID:     ref.DocID,
			ExternalFileID: ref.ExternalFileID,
			DisplayName:    ref.Name,
			Origin:         model.OriginBackendSource,
		})
	}
}

// contextFallback binds absent positions 1..N to the evidence list and
// tries an exact name match for present but unresolved positions
func (r *Resolver) contextFallback(entries *indexMap, docs []model.EvidenceDocument) {
	for i, doc := range docs {
		idx := i + 1
		e, ok := entries.get(idx)
		if !ok {
			entries.add(model.CitationEntry{
				Index:       idx,
				LocalDocID:  doc.ID,
				DisplayName: doc.DisplayName(),
				Origin:      model.OriginContextFallback,
			})
			continue
		}
		if e.Resolved() || e.DisplayName == "" {
			continue
		}
		for _, d := range docs {
			if d.FileName == e.DisplayName || (d.Title != "" && d.Title == e.DisplayName) {
				e.LocalDocID = d.ID
				e.DisplayName = d.DisplayName()
				break
			}
		}
	}
}

func (r *Resolver) resolveExternalIDs(ctx context.Context, entries *indexMap) error {
	if r.lookup == nil {
		return nil
	}

	var ids []string
	seen := make(map[string]bool)
	for _, e := range entries.unresolved() {
		if e.ExternalFileID != "" && !seen[e.ExternalFileID] {
			seen[e.ExternalFileID] = true
			ids = append(ids, e.ExternalFileID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	found, err := r.lookup.DocumentsByExternalIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, e := range entries.unresolved() {
		if doc, ok := found[e.ExternalFileID]; ok {
			e.LocalDocID = doc.ID
			e.DisplayName = doc.DisplayName()
		}
	}
	return nil
}

// resolveNames matches unresolved, informative names case-insensitively,
// first against the evidence list and then against the catalog
func (r *Resolver) resolveNames(ctx context.Context, entries *indexMap, docs []model.EvidenceDocument) error {
	pending := make([]*model.CitationEntry, 0)
	for _, e := range entries.unresolved() {
		if e.DisplayName == "" || placeholderName.MatchString(e.DisplayName) {
			continue
		}
		if doc, ok := matchName(docs, e.DisplayName); ok {
			e.LocalDocID = doc.ID
			e.DisplayName = doc.DisplayName()
			continue
		}
		pending = append(pending, e)
	}

	if len(pending) == 0 || r.lookup == nil {
		return nil
	}

	names := make([]string, 0, len(pending))
	for _, e := range pending {
		names = append(names, e.DisplayName)
	}
	found, err := r.lookup.DocumentsByNames(ctx, names)
	if err != nil {
		return err
	}
	for _, e := range pending {
		if doc, ok := matchName(found, e.DisplayName); ok {
			e.LocalDocID = doc.ID
			e.DisplayName = doc.DisplayName()
		}
	}
	return nil
}

func matchName(docs []model.EvidenceDocument, name string) (model.EvidenceDocument, bool) {
	for _, d := range docs {
		if strings.EqualFold(d.FileName, name) || (d.Title != "" && strings.EqualFold(d.Title, name)) {
			return d, true
		}
	}
	return model.EvidenceDocument{}, false
}

// textualScan assigns new indices to evidence documents whose name appears
// in the text and that no confirmed entry points at yet. Names are claimed
// longest first and their occurrences blanked, so a name that only occurs
// inside a longer matched name is not a mention. Names of confirmed
// documents blank their occurrences without claiming. Indices follow
// evidence order.
func (r *Resolver) textualScan(entries *indexMap, text string, docs []model.EvidenceDocument) {
	type mention struct {
		pos   int
		term  string
		claim bool
	}

	var found []mention
	lowered := strings.ToLower(markerPattern.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Repeat(" ", len(m))
	}))
	for i, doc := range docs {
		if doc.ID <= 0 {
			continue
		}
		if term := mentionedName(lowered, doc); term != "" {
			found = append(found, mention{pos: i, term: term, claim: !entries.confirmed(doc.ID)})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return len(found[i].term) > len(found[j].term) })

	claimed := make(map[int]string, len(found))
	for _, m := range found {
		needle := strings.ToLower(m.term)
		if !strings.Contains(lowered, needle) {
			continue
		}
		if m.claim {
			claimed[m.pos] = m.term
		}
		lowered = strings.ReplaceAll(lowered, needle, strings.Repeat(" ", len(needle)))
	}

	for i, doc := range docs {
		term, ok := claimed[i]
		if !ok {
			continue
		}
		idx := entries.next()
		entries.add(model.CitationEntry{
			Index:       idx,
			LocalDocID:  doc.ID,
			DisplayName: doc.DisplayName(),
			Origin:      model.OriginTextualMatch,
		})
		entries.terms[idx] = term
	}
}

// mentionedName returns the first of file name, base name or title found in
// the lowered text
func mentionedName(lowered string, doc model.EvidenceDocument) string {
	candidates := []string{doc.FileName}
	if base := model.BaseName(doc.FileName); base != doc.FileName && utf8.RuneCountInString(base) >= 2 {
		candidates = append(candidates, base)
	}
	if utf8.RuneCountInString(doc.Title) >= 2 {
		candidates = append(candidates, doc.Title)
	}
	for _, c := range candidates {
		if c != "" && strings.Contains(lowered, strings.ToLower(c)) {
			return c
		}
	}
	return ""
}

// knownDocs lists local documents addressable by "id:" citations
func knownDocs(entries *indexMap, docs []model.EvidenceDocument) map[int64]string {
	known := make(map[int64]string, len(docs))
	for _, d := range docs {
		known[d.ID] = d.DisplayName()
	}
	for _, e := range entries.entries {
		if e.Resolved() {
			if _, ok := known[e.LocalDocID]; !ok {
				known[e.LocalDocID] = e.DisplayName
			}
		}
	}
	return known
}

// survivors applies the survival policy and groups entries per document,
// ordered by the smallest index each document holds
func (r *Resolver) survivors(entries *indexMap, text string, docs []model.EvidenceDocument) []sourceGroup {
	cited := citedDocIDs(text)

	names := make(map[int64]string, len(docs))
	for _, d := range docs {
		names[d.ID] = d.DisplayName()
	}

	groups := make(map[int64]*sourceGroup)
	for _, e := range entries.sorted() {
		if !e.Resolved() || !r.opts.Policy(*e, cited[e.LocalDocID]) {
			continue
		}
		g, ok := groups[e.LocalDocID]
		if !ok {
			name := e.DisplayName
			if name == "" {
				name = names[e.LocalDocID]
			}
			if name == "" {
				name = fmt.Sprintf("Document %d", e.LocalDocID)
			}
			groups[e.LocalDocID] = &sourceGroup{docID: e.LocalDocID, name: name, minIndex: e.Index}
			continue
		}
		if e.Index < g.minIndex {
			g.minIndex = e.Index
		}
	}

	out := make([]sourceGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].minIndex < out[j].minIndex })
	return out
}
