package evidence

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/model"
)

// Catalog is the read side of the document and asset catalog
type Catalog interface {
	AssetsInLocation(ctx context.Context, loc model.Location) ([]model.EvidenceAsset, error)
	SearchDocuments(ctx context.Context, q model.DocumentQuery) ([]model.EvidenceDocument, error)
	RepresentativeImages(ctx context.Context, assetCodes []string, modelID int64) ([]model.EvidenceDocument, error)
}

// Gatherer assembles the evidence bundle for a location
type Gatherer struct {
	catalog Catalog
	limit   int
	logger  *zap.Logger
}

// NewGatherer creates a gatherer returning at most limit primary documents
func NewGatherer(catalog Catalog, limit int, logger *zap.Logger) *Gatherer {
	if limit <= 0 {
		limit = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gatherer{
		catalog: catalog,
		limit:   limit,
		logger:  logger,
	}
}

// Gather collects assets and documents related to the location. An empty
// bundle is a valid result.
func (g *Gatherer) Gather(ctx context.Context, loc model.Location) (*model.Evidence, error) {
	loc.Code = strings.TrimSpace(loc.Code)
	loc.Name = strings.TrimSpace(loc.Name)

	ev := &model.Evidence{
		Assets:         []model.EvidenceAsset{},
		Documents:      []model.EvidenceDocument{},
		SearchPatterns: []string{},
	}
	if loc.Code == "" && loc.Name == "" {
		return ev, nil
	}

	// 1. Assets located in the space
	assets, err := g.catalog.AssetsInLocation(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("assets in location: %w", err)
	}
	ev.Assets = assets

	// 2. Build search patterns
	locationPatterns := nonEmpty(loc.Code, loc.Name)
	namePatterns := append([]string{}, locationPatterns...)
	var assetCodes, specCodes []string
	for _, a := range assets {
		if utf8.RuneCountInString(a.Name) > 2 {
			namePatterns = append(namePatterns, a.Name)
		}
		if a.Code != "" {
			assetCodes = append(assetCodes, a.Code)
		}
		if a.SpecCode != "" {
			specCodes = append(specCodes, a.SpecCode)
		}
	}
	ev.SearchPatterns = dedupeStrings(namePatterns)

	// 3. Primary documents, images excluded
	docs, err := g.catalog.SearchDocuments(ctx, model.DocumentQuery{
		LocationPatterns: locationPatterns,
		NamePatterns:     ev.SearchPatterns,
		AssetCodes:       dedupeStrings(assetCodes),
		SpecCodes:        dedupeStrings(specCodes),
		ModelID:          loc.ModelID,
		ExcludeImages:    true,
		Limit:            g.limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}

	// 4. One representative image per asset
	var images []model.EvidenceDocument
	if len(assetCodes) > 0 {
		images, err = g.catalog.RepresentativeImages(ctx, dedupeStrings(assetCodes), loc.ModelID)
		if err != nil {
			return nil, fmt.Errorf("representative images: %w", err)
		}
	}

	ev.Documents = mergeDocuments(docs, images)

	g.logger.Debug("evidence gathered",
		zap.String("location", loc.Code),
		zap.Int("assets", len(ev.Assets)),
		zap.Int("documents", len(ev.Documents)),
	)

	return ev, nil
}

// mergeDocuments concatenates lists keeping the first occurrence of each id
func mergeDocuments(lists ...[]model.EvidenceDocument) []model.EvidenceDocument {
	seen := make(map[int64]bool)
	merged := make([]model.EvidenceDocument, 0)
	for _, list := range lists {
		for _, d := range list {
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			merged = append(merged, d)
		}
	}
	return merged
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
