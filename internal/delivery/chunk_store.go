package delivery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// DeliveredChunk records one successfully sent reply fragment.
type DeliveredChunk struct {
	ID                 string    `json:"id" dynamodbav:"chunkId"`
	TaskID             string    `json:"task_id" dynamodbav:"taskId"`
	SessionKey         string    `json:"session_key" dynamodbav:"sessionKey"`
	TenantID           string    `json:"tenant_id" dynamodbav:"tenantId"`
	ConnectionID       string    `json:"connection_id" dynamodbav:"connectionId"`
	ChatID             string    `json:"chat_id" dynamodbav:"chatId"`
	Sequence           int       `json:"sequence" dynamodbav:"sequence"`
	Total              int       `json:"total" dynamodbav:"total"`
	Text               string    `json:"text" dynamodbav:"text"`
	TransportMessageID string    `json:"transport_message_id,omitempty" dynamodbav:"transportMessageId,omitempty"`
	SentAt             time.Time `json:"sent_at" dynamodbav:"sentAt"`
}

// ChunkRecorder persists delivered chunks. Records are append-only.
type ChunkRecorder interface {
	Record(ctx context.Context, chunk DeliveredChunk) error
}

// ChunkLister reads back the delivered chunks of a conversation, oldest first.
type ChunkLister interface {
	ListBySession(ctx context.Context, sessionKey string, limit int) ([]DeliveredChunk, error)
}

// ChunkStore records and lists delivered chunks.
type ChunkStore interface {
	ChunkRecorder
	ChunkLister
}

var errChunkIDRequired = errors.New("delivery: chunk id required")

// MemoryChunkStore keeps records in process memory.
type MemoryChunkStore struct {
	mu     sync.Mutex
	chunks map[string][]DeliveredChunk
	seen   map[string]struct{}
}

func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{
		chunks: make(map[string][]DeliveredChunk),
		seen:   make(map[string]struct{}),
	}
}

var _ ChunkStore = (*MemoryChunkStore)(nil)

func (s *MemoryChunkStore) Record(_ context.Context, chunk DeliveredChunk) error {
	if chunk.ID == "" {
		return errChunkIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[chunk.ID]; ok {
		return nil
	}
	s.seen[chunk.ID] = struct{}{}
	s.chunks[chunk.SessionKey] = append(s.chunks[chunk.SessionKey], chunk)
	return nil
}

func (s *MemoryChunkStore) ListBySession(_ context.Context, sessionKey string, limit int) ([]DeliveredChunk, error) {
	s.mu.Lock()
	out := append([]DeliveredChunk(nil), s.chunks[sessionKey]...)
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
