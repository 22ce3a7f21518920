package store

import (
	"context"
	"fmt"
	"time"
)

// Conversation is a single logged conversation turn (one user or assistant
// message).
type Conversation struct {
	ID        int64
	Role      string
	Content   string
	ModelUsed string
	LatencyMs int64
	Timestamp time.Time
}

// Embedding is a stored recall embedding tied to a parent Conversation row.
// The embedding bytes are opaque to the Store — it never interprets them.
type Embedding struct {
	ID             int64
	ConversationID int64
	TextContent    string
	Vector         []byte
	Metadata       string
	CreatedAt      time.Time
}

// RecordConversation inserts a conversation turn written by the LLM client
// after each completed turn.
func (s *Store) RecordConversation(ctx context.Context, role, content, model string, latencyMs int64) (int64, error) {
	res, err := s.exec(ctx,
		`INSERT INTO conversations (role, content, model_used, latency_ms, timestamp) VALUES (?, ?, ?, ?, ?)`,
		role, content, model, latencyMs, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("store: record conversation: %w", ErrStorage)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: record conversation id: %w", ErrStorage)
	}
	return id, nil
}

// DeleteConversation deletes a conversation row. Embedding rows referencing
// it are removed by the schema's ON DELETE CASCADE.
func (s *Store) DeleteConversation(ctx context.Context, conversationID int64) error {
	if _, err := s.exec(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return fmt.Errorf("store: delete conversation: %w", ErrStorage)
	}
	return nil
}

// StoreEmbedding inserts an embedding row tied to conversationID. If the
// conversation does not exist, the foreign-key constraint fires and
// ErrIntegrity is returned rather than silently accepting an orphaned row.
func (s *Store) StoreEmbedding(ctx context.Context, conversationID int64, text string, embedding []byte, metadata string) (int64, error) {
	res, err := s.exec(ctx,
		`INSERT INTO embeddings (conversation_id, text_content, embedding, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, text, embedding, metadata, time.Now().UTC())
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("store: store embedding: conversation %d: %w", conversationID, ErrIntegrity)
		}
		return 0, fmt.Errorf("store: store embedding: %w", ErrStorage)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: store embedding id: %w", ErrStorage)
	}
	return id, nil
}

// RetrieveEmbeddings returns all embedding rows for conversationID, ordered
// by id ascending.
func (s *Store) RetrieveEmbeddings(ctx context.Context, conversationID int64) ([]Embedding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, text_content, embedding, metadata, created_at
		 FROM embeddings WHERE conversation_id = ? ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: retrieve embeddings: %w", ErrStorage)
	}
	defer rows.Close()

	var out []Embedding
	for rows.Next() {
		var e Embedding
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.TextContent, &e.Vector, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan embedding: %w", ErrStorage)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: retrieve embeddings rows: %w", ErrStorage)
	}
	return out, nil
}

// SaveUserInsight appends a free-text insight derived from the conversation.
func (s *Store) SaveUserInsight(ctx context.Context, insight string) (int64, error) {
	res, err := s.exec(ctx,
		`INSERT INTO user_insights (insight, created_at) VALUES (?, ?)`,
		insight, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("store: save user insight: %w", ErrStorage)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: save user insight id: %w", ErrStorage)
	}
	return id, nil
}
