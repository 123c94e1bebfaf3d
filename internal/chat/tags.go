package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/model"
)

// Catalog finds spaces and assets by free text
type Catalog interface {
	SearchLocations(ctx context.Context, term string, modelID int64, limit int) ([]model.CatalogEntry, error)
	LocationVocabulary(ctx context.Context, modelID int64) ([]model.CatalogEntry, error)
}

// SeriesSource reads sensor series from the time-series backend
type SeriesSource interface {
	Enabled(ctx context.Context) bool
	AvailableTags(ctx context.Context, lookback time.Duration) ([]string, error)
	QueryRange(ctx context.Context, tag string, start, end time.Time, window string) ([]model.Point, error)
	Stats(ctx context.Context, tag string, start, end time.Time) (model.SeriesStats, error)
}

// tagLookback bounds the tag listing to recently reporting sensors
const tagLookback = 30 * 24 * time.Hour

// TagResolver maps identifier candidates onto known sensor tags
type TagResolver struct {
	catalog Catalog
	series  SeriesSource
	logger  *zap.Logger
}

// NewTagResolver creates a resolver. catalog may be nil.
func NewTagResolver(catalog Catalog, series SeriesSource, logger *zap.Logger) *TagResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TagResolver{catalog: catalog, series: series, logger: logger}
}

// Resolve returns the first candidate that maps onto a sensor tag. Each
// candidate goes through the cascade before the next one is tried:
// literal tag, catalog search, then substring against the tag list.
// ok is false when nothing matched.
func (r *TagResolver) Resolve(ctx context.Context, candidates []string, modelID int64) (tag string, ok bool, err error) {
	if len(candidates) == 0 {
		return "", false, nil
	}

	tags, err := r.series.AvailableTags(ctx, tagLookback)
	if err != nil {
		return "", false, fmt.Errorf("list tags: %w", err)
	}
	if len(tags) == 0 {
		return "", false, nil
	}

	for _, c := range candidates {
		if t, ok := r.resolveOne(ctx, c, tags, modelID); ok {
			r.logger.Debug("tag resolved", zap.String("candidate", c), zap.String("tag", t))
			return t, true, nil
		}
	}

	r.logger.Debug("no tag matched", zap.Strings("candidates", candidates))
	return "", false, nil
}

func (r *TagResolver) resolveOne(ctx context.Context, candidate string, tags []string, modelID int64) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}

	if t, ok := literalTag(tags, candidate); ok {
		return t, true
	}

	if r.catalog != nil {
		entries, err := r.catalog.SearchLocations(ctx, candidate, modelID, 10)
		if err != nil {
			r.logger.Warn("location search failed", zap.String("term", candidate), zap.Error(err))
		}
		for _, e := range entries {
			if t, ok := literalTag(tags, e.Code); ok {
				return t, true
			}
		}
	}

	return substringTag(tags, candidate)
}

func literalTag(tags []string, s string) (string, bool) {
	for _, t := range tags {
		if strings.EqualFold(t, s) {
			return t, true
		}
	}
	return "", false
}

// substringTag matches when the tag contains the candidate or the other way
// round. Single-character tags and candidates never match.
func substringTag(tags []string, candidate string) (string, bool) {
	c := strings.ToLower(candidate)
	if len([]rune(c)) < 2 {
		return "", false
	}
	for _, t := range tags {
		lt := strings.ToLower(t)
		if len([]rune(lt)) < 2 {
			continue
		}
		if strings.Contains(lt, c) || strings.Contains(c, lt) {
			return t, true
		}
	}
	return "", false
}
