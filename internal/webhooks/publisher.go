package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
)

// MessageSender is satisfied by aws.Publisher.
type MessageSender interface {
	SendMessage(ctx context.Context, messageBody string, attributes map[string]string) error
}

// QueuePublisher hands deliveries to the worker through a queue.
type QueuePublisher struct {
	sender MessageSender
}

// NewQueuePublisher returns a publisher sending events through sender.
func NewQueuePublisher(sender MessageSender) *QueuePublisher {
	return &QueuePublisher{sender: sender}
}

func (q *QueuePublisher) PublishEvent(ctx context.Context, ev Event) error {
	ev.Topic = NormalizeTopic(ev.Topic)
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return q.sender.SendMessage(ctx, string(body), map[string]string{
		"shop":        ev.Shop,
		"topic":       ev.Topic,
		"delivery_id": ev.DeliveryID,
	})
}
