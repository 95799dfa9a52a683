package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-cart-recovery/internal/handlers"
	"github.com/imrishuroy/go-cart-recovery/internal/webhooks"
)

// Processor applies queued webhook deliveries.
type Processor struct {
	router  handlers.EventRouter
	deduper handlers.Deduper
	logger  *zap.Logger
}

// NewProcessor returns a Processor. deduper may be nil.
func NewProcessor(router handlers.EventRouter, deduper handlers.Deduper, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{router: router, deduper: deduper, logger: logger}
}

// Handle processes a batch and reports the messages that should be
// redelivered. Messages that can never succeed are dropped so they do not
// block the queue until they reach the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("message will be retried", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	ev, err := webhooks.ParseMessage(rec.Body)
	if err != nil {
		p.logger.Warn("dropping malformed message", zap.String("message_id", rec.MessageId), zap.Error(err))
		return nil
	}
	log := p.logger.With(
		zap.String("message_id", rec.MessageId),
		zap.String("shop", ev.Shop),
		zap.String("topic", ev.Topic),
		zap.String("delivery_id", ev.DeliveryID),
	)

	key := ev.DedupKey()
	dedup := p.deduper != nil && key != ""
	if dedup {
		begun, err := p.deduper.Begin(ctx, key, ev.Shop, ev.Topic)
		if err != nil {
			return fmt.Errorf("begin delivery %s: %w", key, err)
		}
		if !begun {
			log.Info("duplicate delivery skipped")
			return nil
		}
	}

	if err := p.router.Handle(ctx, ev); err != nil {
		if dedup {
			if merr := p.deduper.MarkFailed(ctx, key, err.Error()); merr != nil {
				log.Warn("mark delivery failed", zap.Error(merr))
			}
		}
		if webhooks.IsPermanent(err) {
			log.Warn("dropping invalid delivery", zap.Error(err))
			return nil
		}
		return fmt.Errorf("handle delivery: %w", err)
	}

	if dedup {
		if err := p.deduper.MarkDone(ctx, key); err != nil {
			log.Warn("mark delivery done failed", zap.Error(err))
		}
	}
	log.Info("delivery processed")
	return nil
}
