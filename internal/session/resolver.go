// Package session derives stable conversation keys from inbound event shapes.
package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Hints carries the optional identifying fields an inbound event may expose.
type Hints struct {
	ChatID    string `json:"chat_id,omitempty"`
	Phone     string `json:"phone,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	ID        string `json:"id,omitempty"`
}

// Resolver builds conversation keys. The zero value is ready to use.
type Resolver struct {
	now   func() time.Time
	token func() string
}

// NewResolver returns a Resolver with an injectable clock and token source.
// Nil arguments fall back to time.Now and a short random token.
func NewResolver(now func() time.Time, token func() string) *Resolver {
	return &Resolver{now: now, token: token}
}

// Key returns the conversation key for hints using the priority
// chat id, phone, message id, event id, then a generated session id.
func (r *Resolver) Key(h Hints) string {
	if v := strings.TrimSpace(h.ChatID); v != "" {
		return "chat:" + v
	}
	if v := strings.TrimSpace(h.Phone); v != "" {
		return "phone:" + v
	}
	if v := strings.TrimSpace(h.MessageID); v != "" {
		return "msg:" + v
	}
	if v := strings.TrimSpace(h.ID); v != "" {
		return "event:" + v
	}

	now := time.Now
	token := randomToken
	if r != nil && r.now != nil {
		now = r.now
	}
	if r != nil && r.token != nil {
		token = r.token
	}
	return "session:" + strconv.FormatInt(now().UnixMilli(), 10) + "_" + token()
}

// ResolveKey is Key on a default Resolver.
func ResolveKey(h Hints) string {
	return (*Resolver)(nil).Key(h)
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}
