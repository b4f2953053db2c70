package delivery

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const defaultListLimit = 100

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGChunkStore persists delivered chunks in the delivered_chunks table.
type PGChunkStore struct {
	db pgxQuerier
}

// NewPGChunkStore wraps a pgx pool (or anything with the same methods).
func NewPGChunkStore(db pgxQuerier) *PGChunkStore {
	if db == nil {
		panic("delivery: pgx pool cannot be nil")
	}
	return &PGChunkStore{db: db}
}

var _ ChunkStore = (*PGChunkStore)(nil)

func (s *PGChunkStore) Record(ctx context.Context, chunk DeliveredChunk) error {
	if chunk.ID == "" {
		return errChunkIDRequired
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO delivered_chunks (
			id, task_id, session_key, tenant_id, connection_id, chat_id,
			sequence, total, text, transport_message_id, sent_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING
	`, chunk.ID, chunk.TaskID, chunk.SessionKey, chunk.TenantID, chunk.ConnectionID, chunk.ChatID,
		chunk.Sequence, chunk.Total, chunk.Text, chunk.TransportMessageID, chunk.SentAt)
	if err != nil {
		return fmt.Errorf("delivery: insert delivered chunk: %w", err)
	}
	return nil
}

func (s *PGChunkStore) ListBySession(ctx context.Context, sessionKey string, limit int) ([]DeliveredChunk, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, task_id, session_key, tenant_id, connection_id, chat_id,
		       sequence, total, text, transport_message_id, sent_at
		FROM (
			SELECT * FROM delivered_chunks
			WHERE session_key = $1
			ORDER BY sent_at DESC, sequence DESC
			LIMIT $2
		) recent
		ORDER BY sent_at ASC, sequence ASC
	`, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("delivery: list delivered chunks: %w", err)
	}
	defer rows.Close()

	var out []DeliveredChunk
	for rows.Next() {
		var c DeliveredChunk
		if err := rows.Scan(&c.ID, &c.TaskID, &c.SessionKey, &c.TenantID, &c.ConnectionID, &c.ChatID,
			&c.Sequence, &c.Total, &c.Text, &c.TransportMessageID, &c.SentAt); err != nil {
			return nil, fmt.Errorf("delivery: scan delivered chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delivery: iterate delivered chunks: %w", err)
	}
	return out, nil
}
