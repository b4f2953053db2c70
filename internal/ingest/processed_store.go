package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGProcessedStore records accepted provider message ids in processed_events.
type PGProcessedStore struct {
	db execer
}

func NewPGProcessedStore(pool *pgxpool.Pool) *PGProcessedStore {
	if pool == nil {
		panic("ingest: pgx pool required")
	}
	return &PGProcessedStore{db: pool}
}

func newPGProcessedStoreWithExec(db execer) *PGProcessedStore {
	if db == nil {
		panic("ingest: exec required")
	}
	return &PGProcessedStore{db: db}
}

// MarkProcessed inserts the id, returning false if it was already present.
func (s *PGProcessedStore) MarkProcessed(ctx context.Context, tenantID, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (tenant_id, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.db.Exec(ctx, query, tenantID, eventID)
	if err != nil {
		return false, fmt.Errorf("ingest: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MemoryProcessedStore is an unbounded in-process DuplicateGuard.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: make(map[string]struct{})}
}

func (s *MemoryProcessedStore) MarkProcessed(_ context.Context, tenantID, eventID string) (bool, error) {
	key := tenantID + "/" + eventID
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	return true, nil
}
