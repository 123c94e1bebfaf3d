package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ppiankov/twinsight/internal/model"
)

const documentColumns = `d.id, COALESCE(d.title, ''), d.file_name, COALESCE(d.file_type, ''),
	COALESCE(d.space_code, d.asset_code, d.spec_code, '')`

func scanDocument(row pgx.CollectableRow) (model.EvidenceDocument, error) {
	var d model.EvidenceDocument
	err := row.Scan(&d.ID, &d.Title, &d.FileName, &d.FileType, &d.AssociatedCode)
	return d, err
}

// AssetsInLocation returns assets whose room matches the location code or name
func (s *Store) AssetsInLocation(ctx context.Context, loc model.Location) ([]model.EvidenceAsset, error) {
	patterns := likePatterns([]string{loc.Code, loc.Name})
	if len(patterns) == 0 {
		return []model.EvidenceAsset{}, nil
	}

	query := `
		SELECT DISTINCT ON (a.asset_code)
			a.asset_code, COALESCE(a.name, ''), COALESCE(sp.category, ''),
			COALESCE(a.spec_code, ''), COALESCE(a.room, '')
		FROM assets a
		LEFT JOIN asset_specs sp
			ON a.spec_code = sp.spec_code AND (a.file_id = sp.file_id OR sp.file_id IS NULL)
		WHERE a.room ILIKE ANY($1)
			AND ($2::bigint = 0 OR a.file_id = $2)
		ORDER BY a.asset_code
	`
	rows, err := s.db.Query(ctx, query, patterns, loc.ModelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	assets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.EvidenceAsset, error) {
		var a model.EvidenceAsset
		err := row.Scan(&a.Code, &a.Name, &a.Category, &a.SpecCode, &a.Room)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan assets: %w", err)
	}
	return assets, nil
}

// buildDocumentQuery renders the catalog search for q
func buildDocumentQuery(q model.DocumentQuery) (string, []any) {
	args := []any{likePatterns(q.LocationPatterns), likePatterns(q.NamePatterns)}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	match := []string{
		"d.space_code ILIKE ANY($1)",
		"d.file_name ILIKE ANY($2)",
		"d.title ILIKE ANY($2)",
	}
	if len(q.AssetCodes) > 0 {
		match = append(match, "d.asset_code = ANY("+arg(q.AssetCodes)+")")
	}
	if len(q.SpecCodes) > 0 {
		match = append(match, "d.spec_code = ANY("+arg(q.SpecCodes)+")")
	}

	var b strings.Builder
	b.WriteString("SELECT " + documentColumns + "\nFROM documents d\nWHERE (")
	b.WriteString(strings.Join(match, " OR "))
	b.WriteString(")")

	if q.ModelID > 0 {
		p := arg(q.ModelID)
		b.WriteString(`
	AND (
		EXISTS (SELECT 1 FROM spaces s WHERE s.space_code = d.space_code AND s.file_id = ` + p + `)
		OR EXISTS (SELECT 1 FROM assets a WHERE a.asset_code = d.asset_code AND a.file_id = ` + p + `)
		OR EXISTS (SELECT 1 FROM asset_specs sp WHERE sp.spec_code = d.spec_code AND sp.file_id = ` + p + `)
	)`)
	}
	if q.ExcludeImages {
		b.WriteString("\n\tAND NOT (lower(d.file_name) LIKE ANY(" + arg(imageSuffixPatterns()) + "))")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	b.WriteString("\nORDER BY d.id\nLIMIT " + arg(limit))

	return b.String(), args
}

// SearchDocuments runs a catalog search
func (s *Store) SearchDocuments(ctx context.Context, q model.DocumentQuery) ([]model.EvidenceDocument, error) {
	query, args := buildDocumentQuery(q)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	docs, err := pgx.CollectRows(rows, scanDocument)
	if err != nil {
		return nil, fmt.Errorf("failed to scan documents: %w", err)
	}
	return docs, nil
}

// RepresentativeImages returns at most one image document per asset
func (s *Store) RepresentativeImages(ctx context.Context, assetCodes []string, modelID int64) ([]model.EvidenceDocument, error) {
	if len(assetCodes) == 0 {
		return []model.EvidenceDocument{}, nil
	}

	query := `
		SELECT DISTINCT ON (d.asset_code) ` + documentColumns + `
		FROM documents d
		WHERE d.asset_code = ANY($1)
			AND lower(d.file_name) LIKE ANY($2)
			AND ($3::bigint = 0 OR EXISTS (
				SELECT 1 FROM assets a WHERE a.asset_code = d.asset_code AND a.file_id = $3))
		ORDER BY d.asset_code, d.id
	`
	rows, err := s.db.Query(ctx, query, assetCodes, imageSuffixPatterns(), modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	docs, err := pgx.CollectRows(rows, scanDocument)
	if err != nil {
		return nil, fmt.Errorf("failed to scan images: %w", err)
	}
	return docs, nil
}

// DocumentsByExternalIDs maps RAG service file ids to local documents
func (s *Store) DocumentsByExternalIDs(ctx context.Context, ids []string) (map[string]model.EvidenceDocument, error) {
	out := make(map[string]model.EvidenceDocument)
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT kbd.openwebui_file_id, ` + documentColumns + `
		FROM kb_documents kbd
		JOIN documents d ON kbd.document_id = d.id
		WHERE kbd.openwebui_file_id = ANY($1)
	`
	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query kb documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var externalID string
		var d model.EvidenceDocument
		if err := rows.Scan(&externalID, &d.ID, &d.Title, &d.FileName, &d.FileType, &d.AssociatedCode); err != nil {
			return nil, fmt.Errorf("failed to scan kb document: %w", err)
		}
		out[externalID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate kb documents: %w", err)
	}
	return out, nil
}

// DocumentsByNames finds documents whose file name or title equals one of
// names, ignoring case
func (s *Store) DocumentsByNames(ctx context.Context, names []string) ([]model.EvidenceDocument, error) {
	lowered := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			lowered = append(lowered, strings.ToLower(n))
		}
	}
	if len(lowered) == 0 {
		return []model.EvidenceDocument{}, nil
	}

	query := `
		SELECT ` + documentColumns + `
		FROM documents d
		WHERE lower(d.file_name) = ANY($1) OR lower(d.title) = ANY($1)
		ORDER BY d.id
	`
	rows, err := s.db.Query(ctx, query, lowered)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents by name: %w", err)
	}
	docs, err := pgx.CollectRows(rows, scanDocument)
	if err != nil {
		return nil, fmt.Errorf("failed to scan documents: %w", err)
	}
	return docs, nil
}

// SearchLocations fuzzy-matches spaces and assets by name or code
func (s *Store) SearchLocations(ctx context.Context, term string, modelID int64, limit int) ([]model.CatalogEntry, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []model.CatalogEntry{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT kind, code, name FROM (
			SELECT 'space' AS kind, space_code AS code, COALESCE(name, '') AS name, 0 AS rank
			FROM spaces
			WHERE (name ILIKE $1 OR space_code ILIKE $1) AND ($2::bigint = 0 OR file_id = $2)
			UNION ALL
			SELECT 'asset', asset_code, COALESCE(name, ''), 1
			FROM assets
			WHERE (name ILIKE $1 OR asset_code ILIKE $1) AND ($2::bigint = 0 OR file_id = $2)
		) hits
		ORDER BY rank, length(name), code
		LIMIT $3
	`
	return s.collectEntries(ctx, query, likePattern(term), modelID, limit)
}

// LocationVocabulary lists known space and asset names and codes
func (s *Store) LocationVocabulary(ctx context.Context, modelID int64) ([]model.CatalogEntry, error) {
	query := `
		SELECT 'space', space_code, COALESCE(name, '') FROM spaces WHERE $1::bigint = 0 OR file_id = $1
		UNION ALL
		SELECT 'asset', asset_code, COALESCE(name, '') FROM assets WHERE $1::bigint = 0 OR file_id = $1
		LIMIT 5000
	`
	return s.collectEntries(ctx, query, modelID)
}

func (s *Store) collectEntries(ctx context.Context, query string, args ...any) ([]model.CatalogEntry, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CatalogEntry, error) {
		var e model.CatalogEntry
		err := row.Scan(&e.Kind, &e.Code, &e.Name)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan locations: %w", err)
	}
	return entries, nil
}

// SpaceName returns the display name of a space, or "" when unknown
func (s *Store) SpaceName(ctx context.Context, code string) (string, error) {
	var name string
	err := s.db.QueryRow(ctx, `SELECT COALESCE(name, '') FROM spaces WHERE space_code = $1 LIMIT 1`, code).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query space: %w", err)
	}
	return name, nil
}
