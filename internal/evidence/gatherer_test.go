package evidence

import (
	"context"
	"errors"
	"testing"

	"github.com/ppiankov/twinsight/internal/model"
)

type fakeCatalog struct {
	assets   []model.EvidenceAsset
	docs     []model.EvidenceDocument
	images   []model.EvidenceDocument
	lastQ    model.DocumentQuery
	imageFor []string
	err      error
}

func (f *fakeCatalog) AssetsInLocation(ctx context.Context, loc model.Location) ([]model.EvidenceAsset, error) {
	return f.assets, f.err
}

func (f *fakeCatalog) SearchDocuments(ctx context.Context, q model.DocumentQuery) ([]model.EvidenceDocument, error) {
	f.lastQ = q
	return f.docs, nil
}

func (f *fakeCatalog) RepresentativeImages(ctx context.Context, codes []string, modelID int64) ([]model.EvidenceDocument, error) {
	f.imageFor = codes
	return f.images, nil
}

func TestGatherer_MergesAndDedupes(t *testing.T) {
	cat := &fakeCatalog{
		assets: []model.EvidenceAsset{
			{Code: "AHU-01", Name: "空调机组一", SpecCode: "SPEC-AHU"},
			{Code: "FCU-02", Name: "风机", SpecCode: "SPEC-FCU"},
		},
		docs: []model.EvidenceDocument{
			{ID: 1, FileName: "ahu-manual.pdf"},
			{ID: 2, FileName: "fcu-spec.pdf"},
		},
		images: []model.EvidenceDocument{
			{ID: 2, FileName: "fcu-spec.pdf"},
			{ID: 3, FileName: "ahu.jpg"},
		},
	}
	g := NewGatherer(cat, 0, nil)

	ev, err := g.Gather(context.Background(), model.Location{Code: "B1-101", Name: "机房", ModelID: 5})
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if len(ev.Documents) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(ev.Documents))
	}
	wantOrder := []int64{1, 2, 3}
	for i, id := range wantOrder {
		if ev.Documents[i].ID != id {
			t.Errorf("document %d: expected id %d, got %d", i, id, ev.Documents[i].ID)
		}
	}

	// Asset names of two runes or fewer are not used as patterns
	wantPatterns := []string{"B1-101", "机房", "空调机组一"}
	if len(ev.SearchPatterns) != len(wantPatterns) {
		t.Fatalf("expected patterns %v, got %v", wantPatterns, ev.SearchPatterns)
	}
	for i, p := range wantPatterns {
		if ev.SearchPatterns[i] != p {
			t.Errorf("pattern %d: expected %q, got %q", i, p, ev.SearchPatterns[i])
		}
	}

	if !cat.lastQ.ExcludeImages {
		t.Error("expected primary search to exclude images")
	}
	if cat.lastQ.Limit != 20 {
		t.Errorf("expected default limit 20, got %d", cat.lastQ.Limit)
	}
	if cat.lastQ.ModelID != 5 {
		t.Errorf("expected model id 5, got %d", cat.lastQ.ModelID)
	}
	if len(cat.imageFor) != 2 {
		t.Errorf("expected image lookup for 2 assets, got %v", cat.imageFor)
	}
}

func TestGatherer_EmptyLocation(t *testing.T) {
	g := NewGatherer(&fakeCatalog{err: errors.New("must not be called")}, 10, nil)

	ev, err := g.Gather(context.Background(), model.Location{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.Documents == nil || len(ev.Documents) != 0 {
		t.Errorf("expected empty, non-nil documents, got %v", ev.Documents)
	}
}

func TestGatherer_EmptyNameIgnored(t *testing.T) {
	cat := &fakeCatalog{}
	g := NewGatherer(cat, 10, nil)

	if _, err := g.Gather(context.Background(), model.Location{Code: "R-1"}); err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(cat.lastQ.LocationPatterns) != 1 || cat.lastQ.LocationPatterns[0] != "R-1" {
		t.Errorf("expected only the code as location pattern, got %v", cat.lastQ.LocationPatterns)
	}
	if cat.imageFor != nil {
		t.Errorf("expected no image lookup without assets")
	}
}

func TestGatherer_CatalogError(t *testing.T) {
	g := NewGatherer(&fakeCatalog{err: errors.New("db down")}, 10, nil)

	if _, err := g.Gather(context.Background(), model.Location{Code: "R-1"}); err == nil {
		t.Error("expected error from catalog")
	}
}

func TestMergeDocuments(t *testing.T) {
	merged := mergeDocuments(
		[]model.EvidenceDocument{{ID: 1}, {ID: 1}},
		nil,
		[]model.EvidenceDocument{{ID: 2}, {ID: 1}},
	)
	if len(merged) != 2 {
		t.Errorf("expected 2 merged documents, got %d", len(merged))
	}
}
