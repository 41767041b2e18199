package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentmem/memcore/internal/encoding"
)

// Message represents a single message in a chat session
type Message struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	TurnID    int64                  `json:"turn_id"` // monotone per session
	Role      string                 `json:"role"`    // 'user', 'assistant', 'system'
	Content   string                 `json:"content"`
	Vector    []float32              `json:"vector,omitempty"` // Embedding for long-term memory
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// AddMessage adds a message to a session
// If vector is provided, it can be used for semantic search over chat history
func (s *SQLiteStore) AddMessage(ctx context.Context, msg *Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return wrapError("add_message", ErrStoreClosed)
	}

	metadataJSON, _ := json.Marshal(msg.Metadata)
	
	// Encode vector if present
	var vectorBytes []byte
	var err error
	if len(msg.Vector) > 0 {
		vectorBytes, err = encoding.EncodeVector(msg.Vector)
		if err != nil {
			return fmt.Errorf("failed to encode message vector: %w", err)
		}
	}

	query := `
		INSERT INTO messages (id, session_id, turn_id, role, content, vector, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query, msg.ID, msg.SessionID, msg.TurnID, msg.Role, msg.Content, vectorBytes, metadataJSON, time.Now().UTC())

	return err
}

// NextTurnID returns the next monotone turn_id for a session (1 for an empty
// session). Callers must hold their own per-session serialization lock.
func (s *SQLiteStore) NextTurnID(ctx context.Context, sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var maxID sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(turn_id) FROM messages WHERE session_id = ?", sessionID).Scan(&maxID)
	if err != nil {
		return 0, err
	}
	return maxID.Int64 + 1, nil
}

// TrimSessionMessages deletes the oldest messages in a session beyond the
// most recent `keep` turns, ordered by turn_id.
func (s *SQLiteStore) TrimSessionMessages(ctx context.Context, sessionID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("trim_session_messages", ErrStoreClosed)
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE session_id = ? AND id NOT IN (
			SELECT id FROM messages WHERE session_id = ? ORDER BY turn_id DESC LIMIT ?
		)
	`, sessionID, sessionID, keep)
	return err
}

// ActiveSessionsSince returns the distinct session IDs with at least one
// message created at or after the given time.
func (s *SQLiteStore) ActiveSessionsSince(ctx context.Context, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT session_id FROM messages WHERE created_at >= ?", since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteSessionMessages removes every message belonging to a session.
func (s *SQLiteStore) DeleteSessionMessages(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("delete_session_messages", ErrStoreClosed)
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID)
	return err
}

// GetSessionHistory retrieves recent messages from a session
func (s *SQLiteStore) GetSessionHistory(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, session_id, turn_id, role, content, vector, metadata, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY turn_id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var vectorBytes, metadataJSON []byte

		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.TurnID, &msg.Role, &msg.Content, &vectorBytes, &metadataJSON, &msg.CreatedAt); err != nil {
			continue
		}
		
		if len(vectorBytes) > 0 {
			msg.Vector, _ = encoding.DecodeVector(vectorBytes)
		}
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &msg.Metadata)
		}
		
		messages = append(messages, &msg)
	}
	
	// Reverse to return chronological order (oldest first)
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
