package flush

import (
	"context"
	"fmt"

	"github.com/wolfman30/inbound-coalescer/internal/debounce"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

// Publisher is the scheduler's Dispatcher: each due task becomes one message
// on the flush queue.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("flush: publisher needs a queue")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

var _ debounce.Dispatcher = (*Publisher)(nil)

func (p *Publisher) Dispatch(ctx context.Context, task debounce.Task) error {
	payload, body, err := encodePayload(task)
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("flush: dispatch %s: %w", task.ID, err)
	}
	log := p.logger.With("session_key", task.SessionKey, "task_id", task.ID, "payload_id", payload.ID)
	if task.Attempt > 0 {
		log.Info("flush retry dispatched", "attempt", task.Attempt)
		return nil
	}
	log.Debug("flush dispatched", "quiet_ms", task.QuietMillis)
	return nil
}
