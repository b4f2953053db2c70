// Package delivery sends reply chunks over the conversation channel with
// human-like pacing and records what was delivered.
package delivery

import (
	"context"
	"errors"
)

// ErrSendFailed marks a transport send that did not succeed.
var ErrSendFailed = errors.New("delivery: send failed")

// Target identifies where a reply goes: the connection (sender identity,
// e.g. a phone number or bot) and the chat within it.
type Target struct {
	TenantID     string
	SessionKey   string
	ConnectionID string
	ChatID       string
}

// Transport is the outbound channel adapter.
type Transport interface {
	// Send delivers text and returns the transport's message id.
	Send(ctx context.Context, target Target, text string) (string, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, target Target, text string) (string, error)

func (f TransportFunc) Send(ctx context.Context, target Target, text string) (string, error) {
	return f(ctx, target, text)
}
