package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentmem/memcore/internal/encoding"
)

// GetByID gets an embedding by its ID
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("get_by_id", ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			e.id, e.vector, e.content, e.doc_id, e.metadata, e.acl, e.created_at,
			COALESCE(c.name, '') as collection_name
		FROM embeddings e
		LEFT JOIN collections c ON e.collection_id = c.id
		WHERE e.id = ?
	`, id)
	if err != nil {
		return nil, wrapError("get_by_id", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close rows during get by ID", "error", closeErr)
		}
	}()

	if !rows.Next() {
		return nil, wrapError("get_by_id", ErrNotFound)
	}

	emb, err := s.scanEmbeddingForGet(rows)
	if err != nil {
		return nil, wrapError("get_by_id", err)
	}

	return emb, nil
}

// scanEmbeddingForGet scans a GetByID row into an embedding
func (s *SQLiteStore) scanEmbeddingForGet(rows *sql.Rows) (*Embedding, error) {
	var id, content, metadataJSON string
	var docID sql.NullString
	var aclJSON []byte
	var vectorBytes []byte
	var collectionName string
	var createdAt time.Time

	if err := rows.Scan(&id, &vectorBytes, &content, &docID, &metadataJSON, &aclJSON, &createdAt, &collectionName); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	vector, err := encoding.DecodeVector(vectorBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vector: %w", err)
	}

	metadata, err := encoding.DecodeMetadata(metadataJSON)
	if err != nil {
		metadata = nil // Continue with nil metadata
	}

	var acl []string
	if len(aclJSON) > 0 {
		if err := json.Unmarshal(aclJSON, &acl); err != nil {
			s.logger.Warn("failed to unmarshal ACL", "error", err)
		}
	}

	return &Embedding{
		ID:        id,
		Collection: collectionName,
		Vector:    vector,
		Content:   content,
		DocID:     docID.String,
		Metadata:  metadata,
		ACL:       acl,
	}, nil
}
