package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"go.opentelemetry.io/otel/attribute"

	"tasksync/domain"
)

type queueAPI interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// QueueOutbox is the durable hand-off between task writes and the change
// feed. Messages are deleted only after the relay forwarded them.
type QueueOutbox struct {
	queue queueAPI
	batch int32
}

// OutboxMessage is a dequeued change with its receipt.
type OutboxMessage struct {
	ID         string
	PopReceipt string
	Dequeued   int64
	Change     domain.Change
	// Err is set when the message body could not be decoded.
	Err error
}

const defaultBatch = 16

// NewQueueOutbox connects to the changes queue.
func NewQueueOutbox(connStr, queueName string) (*QueueOutbox, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return newQueueOutbox(q), nil
}

func newQueueOutbox(q queueAPI) *QueueOutbox {
	return &QueueOutbox{queue: q, batch: defaultBatch}
}

func (o *QueueOutbox) Publish(ctx context.Context, c domain.Change) (err error) {
	ctx, span := startSpan(ctx, "QueueOutbox.Publish", attribute.String("owner", c.Owner), attribute.String("type", string(c.Type)))
	defer func() { endSpan(span, err) }()

	data, err := domain.EncodeChange(c)
	if err != nil {
		return err
	}
	if _, err := o.queue.EnqueueMessage(ctx, string(data), nil); err != nil {
		return mapError(err)
	}
	return nil
}

// Dequeue returns up to one batch of messages; hidden for visibility while
// the caller processes them.
func (o *QueueOutbox) Dequeue(ctx context.Context, visibility time.Duration) ([]OutboxMessage, error) {
	n := o.batch
	vis := int32(visibility / time.Second)
	opts := &azqueue.DequeueMessagesOptions{NumberOfMessages: &n}
	if vis > 0 {
		opts.VisibilityTimeout = &vis
	}
	resp, err := o.queue.DequeueMessages(ctx, opts)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]OutboxMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		msg := OutboxMessage{ID: *m.MessageID, PopReceipt: *m.PopReceipt}
		if m.DequeueCount != nil {
			msg.Dequeued = *m.DequeueCount
		}
		var text string
		if m.MessageText != nil {
			text = *m.MessageText
		}
		msg.Change, msg.Err = domain.DecodeChange([]byte(text))
		out = append(out, msg)
	}
	return out, nil
}

func (o *QueueOutbox) Delete(ctx context.Context, m OutboxMessage) error {
	_, err := o.queue.DeleteMessage(ctx, m.ID, m.PopReceipt, nil)
	return mapError(err)
}
