package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CollectionID returns the RAG knowledge collection bound to a model, or ""
func (s *Store) CollectionID(ctx context.Context, modelID int64) (string, error) {
	var id string
	err := s.db.QueryRow(ctx,
		`SELECT openwebui_kb_id FROM knowledge_bases WHERE file_id = $1 AND openwebui_kb_id IS NOT NULL LIMIT 1`,
		modelID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query knowledge base: %w", err)
	}
	return id, nil
}

// SyncedFileIDs returns RAG file ids of the given documents that finished syncing
func (s *Store) SyncedFileIDs(ctx context.Context, documentIDs []int64) ([]string, error) {
	if len(documentIDs) == 0 {
		return []string{}, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT openwebui_file_id
		FROM kb_documents
		WHERE document_id = ANY($1)
			AND openwebui_file_id IS NOT NULL
			AND sync_status = 'synced'
		ORDER BY array_position($1::bigint[], document_id::bigint)
	`, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query kb documents: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan kb documents: %w", err)
	}
	return ids, nil
}
