package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/agentmem/memcore/internal/encoding"
	"github.com/agentmem/memcore/pkg/quantization"
)

// Upsert inserts or updates a single embedding
func (s *SQLiteStore) Upsert(ctx context.Context, emb *Embedding) error {
	s.mu.RLock()
	currentDim := s.config.VectorDim
	s.mu.RUnlock()

	if s.closed {
		return wrapError("upsert", ErrStoreClosed)
	}

	incomingDim := len(emb.Vector)

	// Auto-detect dimension on first insert
	if currentDim == 0 {
		s.mu.Lock()
		if s.config.VectorDim == 0 { // Double-check after acquiring write lock
			s.config.VectorDim = incomingDim
			currentDim = incomingDim

			// Initialize quantizer now that we know the dimension
			if s.config.Quantization.Enabled && s.quantizer == nil {
				if s.config.Quantization.Type == "binary" {
					s.quantizer = quantization.NewBinaryQuantizer(currentDim)
				} else {
					sq, err := quantization.NewScalarQuantizer(currentDim, s.config.Quantization.NBits)
					if err != nil {
						s.logger.Warn("failed to create scalar quantizer", "error", err)
					} else {
						s.quantizer = sq
					}
				}
				if s.hnswIndex != nil {
					s.hnswIndex.SetQuantizer(s.quantizer)
				}
			}
		} else {
			currentDim = s.config.VectorDim
		}
		s.mu.Unlock()
	}

	// Auto-train quantizer if not trained
	if s.quantizer != nil {
		trained := false
		if sq, ok := s.quantizer.(*quantization.ScalarQuantizer); ok {
			trained = sq.Trained
		} else if bq, ok := s.quantizer.(*quantization.BinaryQuantizer); ok {
			trained = bq.Trained
		}

		if !trained {
			if err := s.TrainQuantizer(ctx); err != nil {
				s.logger.Warn("failed to auto-train quantizer", "error", err)
			}
		}
	}

	// Handle dimension mismatch
	if incomingDim != currentDim {
		adaptedVector, err := s.adapter.AdaptVector(emb.Vector, incomingDim, currentDim)
		if err != nil {
			return wrapError("upsert", err)
		}
		s.adapter.logDimensionEvent("adapt", incomingDim, currentDim, emb.ID)
		emb.Vector = adaptedVector
	}

	// ValidateEmbedding performs no checks and always returns nil
	if err := encoding.ValidateEmbedding(*emb, currentDim); err != nil {
		return wrapError("upsert", err)
	}

	// Re-acquire read lock for database operations
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Determine collection ID
	collectionID := emb.CollectionID
	if collectionID == 0 {
		collectionID = 1 // Default collection
	}

	// Encode vector and metadata
	vectorBytes, err := encoding.EncodeVector(emb.Vector)
	if err != nil {
		return wrapError("upsert", err)
	}

	metadataJSON, err := encoding.EncodeMetadata(emb.Metadata)
	if err != nil {
		return wrapError("upsert", err)
	}

	// Encode ACL
	var aclJSON []byte
	if len(emb.ACL) > 0 {
		aclJSON, err = json.Marshal(emb.ACL)
		if err != nil {
			return wrapError("upsert", fmt.Errorf("failed to marshal ACL: %w", err))
		}
	}

	// Handle DocID (treat empty as NULL)
	var docID sql.NullString
	if emb.DocID != "" {
		docID.String = emb.DocID
		docID.Valid = true
	}

	// Insert or replace
	query := `
	INSERT OR REPLACE INTO embeddings (id, collection_id, vector, content, doc_id, metadata, acl, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`

	_, err = s.db.ExecContext(ctx, query, emb.ID, collectionID, vectorBytes, emb.Content, docID, metadataJSON, aclJSON)
	if err != nil {
		return wrapError("upsert", fmt.Errorf("failed to insert embedding: %w", err))
	}

	// Update HNSW index if enabled
	if s.config.HNSW.Enabled && s.hnswIndex != nil {
		if err := s.hnswIndex.Insert(emb.ID, emb.Vector); err != nil {
			s.logger.Warn("failed to insert vector into HNSW index", "id", emb.ID, "error", err)
		}
	}

	// Update IVF index if enabled and trained
	if s.config.IndexType == IndexTypeIVF && s.ivfIndex != nil && s.ivfIndex.Trained {
		if err := s.ivfIndex.Add(emb.ID, emb.Vector); err != nil {
			s.logger.Warn("failed to add vector to IVF index", "id", emb.ID, "error", err)
		}
	}

	return nil
}

// Delete removes an embedding by ID
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return wrapError("delete", ErrStoreClosed)
	}

	if id == "" {
		return wrapError("delete", fmt.Errorf("ID cannot be empty"))
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM embeddings WHERE id = ?", id)
	if err != nil {
		return wrapError("delete", fmt.Errorf("failed to delete embedding: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return wrapError("delete", fmt.Errorf("failed to get rows affected: %w", err))
	}

	if rowsAffected == 0 {
		return wrapError("delete", ErrNotFound)
	}

	// Update HNSW index if enabled
	if s.config.HNSW.Enabled && s.hnswIndex != nil {
		if err := s.hnswIndex.Delete(id); err != nil {
			s.logger.Warn("failed to delete vector from HNSW index", "id", id, "error", err)
		}
	}

	// Update IVF index if enabled
	if s.ivfIndex != nil {
		if err := s.ivfIndex.Delete(id); err != nil {
			s.logger.Warn("failed to delete vector from IVF index", "id", id, "error", err)
		}
	}

	return nil
}

