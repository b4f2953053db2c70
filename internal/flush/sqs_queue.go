package flush

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

// DefaultVisibilityTimeout hides a received flush task long enough for a
// model call plus paced delivery of a long reply.
const DefaultVisibilityTimeout = 5 * time.Minute

// SQS caps visibility at 12 hours.
const maxVisibilityTimeout = 12 * time.Hour

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue carries flush tasks between the scheduler and the worker pool.
type SQSQueue struct {
	client     sqsAPI
	queueURL   string
	visibility time.Duration
	logger     *logging.Logger
}

// SQSQueueOption customizes an SQSQueue.
type SQSQueueOption func(*SQSQueue)

// WithVisibilityTimeout sets how long a received task stays hidden from other
// consumers. It must exceed the slowest flush or the task runs twice.
func WithVisibilityTimeout(d time.Duration) SQSQueueOption {
	return func(q *SQSQueue) {
		if d <= 0 {
			return
		}
		if d > maxVisibilityTimeout {
			d = maxVisibilityTimeout
		}
		q.visibility = d
	}
}

// WithQueueLogger sets the logger used for receive diagnostics.
func WithQueueLogger(logger *logging.Logger) SQSQueueOption {
	return func(q *SQSQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// NewSQSQueue wraps client for the flush queue at queueURL.
func NewSQSQueue(client sqsAPI, queueURL string, opts ...SQSQueueOption) *SQSQueue {
	if client == nil {
		panic("flush: sqs client cannot be nil")
	}
	if queueURL == "" {
		panic("flush: flush queue url cannot be empty")
	}
	q := &SQSQueue{
		client:     client,
		queueURL:   queueURL,
		visibility: DefaultVisibilityTimeout,
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *SQSQueue) Send(ctx context.Context, body string) error {
	if _, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	}); err != nil {
		return fmt.Errorf("flush: send task: %w", err)
	}
	return nil
}

// Receive long-polls for due tasks, hiding each one for the visibility timeout.
func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(q.queueURL),
		MaxNumberOfMessages:         int32(maxMessages),
		WaitTimeSeconds:             int32(waitSeconds),
		VisibilityTimeout:           int32(q.visibility / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("flush: receive tasks: %w", err)
	}

	tasks := make([]queueMessage, len(out.Messages))
	for i, m := range out.Messages {
		tasks[i] = queueMessage{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Receives:      receiveCount(m.Attributes),
		}
		if tasks[i].Receives > 1 {
			q.logger.Warn("flush task redelivered", "msg_id", tasks[i].ID, "receives", tasks[i].Receives)
		}
	}
	return tasks, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}); err != nil {
		return fmt.Errorf("flush: delete task: %w", err)
	}
	return nil
}

func receiveCount(attrs map[string]string) int {
	n, err := strconv.Atoi(attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil {
		return 0
	}
	return n
}
