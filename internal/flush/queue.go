// Package flush consumes due flush tasks and turns a conversation buffer into
// a delivered reply.
package flush

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/inbound-coalescer/internal/debounce"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
	// Receives is the transport's delivery count when it reports one.
	Receives int
}

const payloadKindFlush = "flush"

type queuePayload struct {
	ID   string        `json:"id"`
	Kind string        `json:"kind"`
	Task debounce.Task `json:"task"`
}

func encodePayload(task debounce.Task) (queuePayload, string, error) {
	payload := queuePayload{
		ID:   uuid.NewString(),
		Kind: payloadKindFlush,
		Task: task,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("flush: failed to encode payload: %w", err)
	}
	return payload, string(body), nil
}

func decodePayload(body string) (queuePayload, error) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return queuePayload{}, fmt.Errorf("flush: decode payload: %w", err)
	}
	if payload.Kind != "" && payload.Kind != payloadKindFlush {
		return queuePayload{}, fmt.Errorf("flush: unsupported payload kind %q", payload.Kind)
	}
	if payload.Task.SessionKey == "" {
		return queuePayload{}, fmt.Errorf("flush: payload %s has no session key", payload.ID)
	}
	return payload, nil
}
