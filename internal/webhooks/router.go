package webhooks

import (
	"context"
	"fmt"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-cart-recovery/internal/aws"
	"github.com/imrishuroy/go-cart-recovery/internal/carts"
	"github.com/imrishuroy/go-cart-recovery/internal/validation"
)

// Lifecycle is the cart state machine the router drives.
type Lifecycle interface {
	Upsert(ctx context.Context, shop string, ev carts.CartEvent) (*carts.CartRecord, error)
	MarkConverted(ctx context.Context, shop, token string) (int, error)
}

// Metrics receives a count per handled delivery.
type Metrics interface {
	RecordCount(ctx context.Context, name string, dimensions map[string]string) error
}

// Router dispatches validated webhook events to the lifecycle manager.
type Router struct {
	lifecycle Lifecycle
	validate  *validatorv10.Validate
	metrics   Metrics
	logger    *zap.Logger
}

// NewRouter returns a Router; a nil metrics disables metric recording.
func NewRouter(lifecycle Lifecycle, validate *validatorv10.Validate, metrics Metrics, logger *zap.Logger) *Router {
	if validate == nil {
		validate = validation.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		lifecycle: lifecycle,
		validate:  validate,
		metrics:   metrics,
		logger:    logger,
	}
}

// Validate checks the envelope and, for topics that carry a cart or order,
// the payload. It performs no writes.
func (r *Router) Validate(ev Event) error {
	if strings.TrimSpace(ev.Shop) == "" || strings.TrimSpace(ev.Topic) == "" {
		return fmt.Errorf("%w: shop and topic are required", validation.ErrInvalidPayload)
	}
	switch NormalizeTopic(ev.Topic) {
	case TopicCartsCreate, TopicCartsUpdate, TopicCheckoutsCreate, TopicCheckoutsUpdate:
		var req validation.CartEventRequest
		return validation.Decode(ev.Payload, &req, r.validate)
	case TopicOrdersCreate:
		var req validation.OrderEventRequest
		return validation.Decode(ev.Payload, &req, r.validate)
	}
	return nil
}

// Handle applies one delivery. Unknown topics are logged and ignored.
func (r *Router) Handle(ctx context.Context, ev Event) error {
	topic := NormalizeTopic(ev.Topic)
	log := r.logger.With(zap.String("shop", ev.Shop), zap.String("topic", topic), zap.String("delivery_id", ev.DeliveryID))
	log.Info("webhook received")

	if strings.TrimSpace(ev.Shop) == "" || topic == "" {
		return fmt.Errorf("%w: shop and topic are required", validation.ErrInvalidPayload)
	}

	switch topic {
	case TopicCartsCreate, TopicCartsUpdate, TopicCheckoutsCreate, TopicCheckoutsUpdate:
		var req validation.CartEventRequest
		if err := validation.Decode(ev.Payload, &req, r.validate); err != nil {
			log.Warn("webhook rejected", zap.Error(err))
			return err
		}
		rec, err := r.lifecycle.Upsert(ctx, ev.Shop, req.ToEvent())
		if err != nil {
			return fmt.Errorf("upsert cart: %w", err)
		}
		log.Info("cart upserted", zap.String("cart_token", rec.CartToken), zap.String("status", rec.Status.String()))

	case TopicOrdersCreate:
		var req validation.OrderEventRequest
		if err := validation.Decode(ev.Payload, &req, r.validate); err != nil {
			log.Warn("webhook rejected", zap.Error(err))
			return err
		}
		token := req.Token()
		if token == "" {
			log.Info("order without checkout or cart token ignored")
			break
		}
		n, err := r.lifecycle.MarkConverted(ctx, ev.Shop, token)
		if err != nil {
			return fmt.Errorf("mark converted: %w", err)
		}
		log.Info("order processed", zap.String("cart_token", token), zap.Int("converted", n))

	case TopicAppUninstalled:
		log.Warn("app uninstalled")

	default:
		log.Info("unhandled webhook topic")
	}

	if r.metrics != nil {
		if err := r.metrics.RecordCount(ctx, aws.MetricWebhooksProcessed, map[string]string{"Topic": topic}); err != nil {
			log.Warn("failed to record metric", zap.Error(err))
		}
	}
	return nil
}
