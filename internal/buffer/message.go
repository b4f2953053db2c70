// Package buffer holds pending inbound messages per conversation until they are flushed.
package buffer

import (
	"context"
	"errors"
	"time"
)

// Kind is the content kind of a buffered message.
type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Valid reports whether k is a recognized content kind.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindAudio, KindImage, KindVideo:
		return true
	}
	return false
}

// Media describes an attachment by mime type and locator (URL or storage key).
type Media struct {
	MIME    string `json:"mime,omitempty"`
	Locator string `json:"locator,omitempty"`
}

// Message is one inbound fragment waiting in a conversation buffer.
// Messages are immutable once appended.
type Message struct {
	ID string `json:"id"`
	// Timestamp is when the sender produced the message; it orders aggregation.
	Timestamp time.Time `json:"timestamp"`
	// BufferedAt is the server clock at append time; it drives the staleness check.
	BufferedAt   time.Time `json:"buffered_at"`
	SessionKey   string    `json:"session_key"`
	TenantID     string    `json:"tenant_id"`
	ConnectionID string    `json:"connection_id"`
	ChatID       string    `json:"chat_id"`
	Kind         Kind      `json:"kind"`
	// Text is the message body, or the caption for media kinds.
	Text  string `json:"text,omitempty"`
	Media *Media `json:"media,omitempty"`
	// Transcript is a pre-resolved audio transcript or image description.
	Transcript string `json:"transcript,omitempty"`
}

// ErrSessionKeyRequired is returned when a store operation has no key.
var ErrSessionKeyRequired = errors.New("buffer: session key required")

// Store is the per-conversation append-only message list.
type Store interface {
	// Append adds msg to the tail of the list and refreshes its expiry to ttl.
	Append(ctx context.Context, sessionKey string, msg Message, ttl time.Duration) error
	// ReadAll returns every buffered message without removing them.
	ReadAll(ctx context.Context, sessionKey string) ([]Message, error)
	// Ack removes the leading messages whose ids match ids in order, the ones a
	// flush consumed. It stops at the first mismatch, so acking the same ids
	// twice never removes messages appended after the read.
	Ack(ctx context.Context, sessionKey string, ids []string) error
	// Clear removes all buffered messages for the key.
	Clear(ctx context.Context, sessionKey string) error
}

// IDs returns the ids of msgs in order.
func IDs(msgs []Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

// LastArrival returns the most recent append time among msgs, falling back to
// Timestamp for messages without one. Zero when msgs is empty.
func LastArrival(msgs []Message) time.Time {
	var latest time.Time
	for _, m := range msgs {
		at := m.BufferedAt
		if at.IsZero() {
			at = m.Timestamp
		}
		if at.After(latest) {
			latest = at
		}
	}
	return latest
}
