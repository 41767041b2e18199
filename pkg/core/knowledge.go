package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// KnowledgeDocument is a confidence-scored, provenance-linked record of L4
// semantic memory, synthesized by mining patterns across L3 episodes.
type KnowledgeDocument struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Content          string            `json:"content"`
	Category         string            `json:"category,omitempty"`
	ConfidenceScore  float64           `json:"confidence_score"`
	OccurrenceCount  int               `json:"occurrence_count"`
	SourceEpisodeIDs []string          `json:"source_episode_ids"`
	Facets           map[string]string `json:"facets,omitempty"`
	AccessCount      int               `json:"access_count"`
	LastAccessed     time.Time         `json:"last_accessed"`
	DistilledAt      time.Time         `json:"distilled_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// KnowledgeSearchQuery is a full-text search request over L4 with optional
// facet filtering and result ordering.
type KnowledgeSearchQuery struct {
	Query    string
	FilterBy map[string]string // facet_name -> exact value
	SortBy   string            // "relevance" (default), "confidence", "recency"
	Limit    int
}

// InsertKnowledgeDocument persists a new knowledge document. Requires at
// least one source episode ID; callers enforce this (see pkg/tiers).
func (s *SQLiteStore) InsertKnowledgeDocument(ctx context.Context, d *KnowledgeDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("insert_knowledge_document", ErrStoreClosed)
	}

	sourceJSON, _ := json.Marshal(d.SourceEpisodeIDs)
	facetsJSON, _ := json.Marshal(d.Facets)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_documents (
			id, title, content, category, confidence_score, occurrence_count,
			source_episode_ids, facets, access_count, last_accessed, distilled_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.Title, d.Content, d.Category, d.ConfidenceScore, d.OccurrenceCount,
		string(sourceJSON), string(facetsJSON), d.AccessCount, d.LastAccessed, d.DistilledAt, d.UpdatedAt)
	if err != nil {
		return wrapError("insert_knowledge_document", err)
	}
	return nil
}

// GetKnowledgeDocument retrieves a knowledge document by ID without bumping
// access_count.
func (s *SQLiteStore) GetKnowledgeDocument(ctx context.Context, id string) (*KnowledgeDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, err := s.scanKnowledgeRow(s.db.QueryRowContext(ctx, knowledgeSelectColumns+" FROM knowledge_documents WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, wrapError("get_knowledge_document", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_knowledge_document", err)
	}
	return d, nil
}

// TouchKnowledgeDocument increments access_count and sets last_accessed.
func (s *SQLiteStore) TouchKnowledgeDocument(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("touch_knowledge_document", ErrStoreClosed)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_documents SET access_count = access_count + 1, last_accessed = ? WHERE id = ?
	`, now, id)
	if err != nil {
		return wrapError("touch_knowledge_document", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return wrapError("touch_knowledge_document", ErrNotFound)
	}
	return nil
}

// SearchKnowledgeDocuments performs an FTS5 bm25()-ranked search over
// title/content/category, optionally filtered by exact facet match.
func (s *SQLiteStore) SearchKnowledgeDocuments(ctx context.Context, q KnowledgeSearchQuery) ([]*KnowledgeDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	orderBy := "bm25(knowledge_fts)"
	switch q.SortBy {
	case "confidence":
		orderBy = "kd.confidence_score DESC"
	case "recency":
		orderBy = "kd.distilled_at DESC"
	}

	query := knowledgeSelectColumns + `, bm25(knowledge_fts) AS rank
		FROM knowledge_fts
		JOIN knowledge_documents kd ON kd.rowid = knowledge_fts.rowid
		WHERE knowledge_fts MATCH ?
		ORDER BY ` + orderBy + `
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, q.Query, limit)
	if err != nil {
		return nil, wrapError("search_knowledge_documents", err)
	}
	defer rows.Close()

	var out []*KnowledgeDocument
	for rows.Next() {
		var d KnowledgeDocument
		var rank float64
		if err := s.scanKnowledgeInto(&d, rows, &rank); err != nil {
			continue
		}
		if !matchesFacets(d.Facets, q.FilterBy) {
			continue
		}
		out = append(out, &d)
	}
	return out, nil
}

// DeleteKnowledgeDocument removes a knowledge document by ID.
func (s *SQLiteStore) DeleteKnowledgeDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("delete_knowledge_document", ErrStoreClosed)
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM knowledge_documents WHERE id = ?", id)
	if err != nil {
		return wrapError("delete_knowledge_document", err)
	}
	return nil
}

func matchesFacets(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

const knowledgeSelectColumns = `SELECT id, title, content, category, confidence_score, occurrence_count,
	source_episode_ids, facets, access_count, last_accessed, distilled_at, updated_at`

func (s *SQLiteStore) scanKnowledgeRow(row *sql.Row) (*KnowledgeDocument, error) {
	var d KnowledgeDocument
	if err := s.scanKnowledgeInto(&d, row, nil); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStore) scanKnowledgeInto(d *KnowledgeDocument, row rowScanner, rank *float64) error {
	var category sql.NullString
	var sourceJSON, facetsJSON sql.NullString
	var lastAccessed sql.NullTime

	dest := []any{
		&d.ID, &d.Title, &d.Content, &category, &d.ConfidenceScore, &d.OccurrenceCount,
		&sourceJSON, &facetsJSON, &d.AccessCount, &lastAccessed, &d.DistilledAt, &d.UpdatedAt,
	}
	if rank != nil {
		dest = append(dest, rank)
	}
	if err := row.Scan(dest...); err != nil {
		return err
	}

	d.Category = category.String
	if lastAccessed.Valid {
		d.LastAccessed = lastAccessed.Time
	}
	if sourceJSON.Valid && sourceJSON.String != "" {
		_ = json.Unmarshal([]byte(sourceJSON.String), &d.SourceEpisodeIDs)
	}
	if facetsJSON.Valid && facetsJSON.String != "" {
		_ = json.Unmarshal([]byte(facetsJSON.String), &d.Facets)
	}
	return nil
}
