package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-cart-recovery/internal/abandonment"
	"github.com/imrishuroy/go-cart-recovery/internal/analytics"
	"github.com/imrishuroy/go-cart-recovery/internal/carts"
	"github.com/imrishuroy/go-cart-recovery/internal/settings"
	"github.com/imrishuroy/go-cart-recovery/internal/validation"
	"github.com/imrishuroy/go-cart-recovery/internal/webhooks"
)

// EventRouter applies webhook deliveries.
type EventRouter interface {
	Validate(ev webhooks.Event) error
	Handle(ctx context.Context, ev webhooks.Event) error
}

// EventPublisher queues deliveries for the worker.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev webhooks.Event) error
}

// Deduper records deliveries so a redelivered webhook is applied once.
type Deduper interface {
	Begin(ctx context.Context, key, shop, topic string) (bool, error)
	MarkDone(ctx context.Context, key string) error
	MarkFailed(ctx context.Context, key, note string) error
}

// Dashboard is the analytics read side.
type Dashboard interface {
	Summary(ctx context.Context, shop string, windowDays int) (*analytics.Summary, error)
	ActiveCarts(ctx context.Context, shop string) ([]carts.CartRecord, error)
}

// ShopScanner runs an abandonment scan for one shop.
type ShopScanner interface {
	Scan(ctx context.Context, shop string, cfg settings.Settings) (abandonment.Result, error)
}

// Metrics receives per-request data points.
type Metrics interface {
	RecordCount(ctx context.Context, name string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, name string, d time.Duration, dimensions map[string]string) error
}

// HandlerConfig groups dependencies for the HTTP surface.
// Publisher and Deduper are optional: without a publisher deliveries are
// applied inline.
type HandlerConfig struct {
	Router            EventRouter
	Publisher         EventPublisher
	Deduper           Deduper
	Dashboard         Dashboard
	Scanner           ShopScanner
	Settings          settings.Store
	Validate          *validatorv10.Validate
	Metrics           Metrics
	Logger            *zap.Logger
	ScanRatePerMinute int
}

// RegisterRoutes registers every route on r.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	if cfg.Validate == nil {
		cfg.Validate = validation.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	registerWebhookRoutes(r, cfg)

	shops := r.Group("/shops/:shop")
	registerDashboardRoutes(shops, cfg)
	registerScanRoutes(shops, cfg)
	registerSettingsRoutes(shops, cfg)
}
