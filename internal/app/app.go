// Package app wires stores, services and AWS clients from configuration.
// Every binary builds its dependencies through New.
package app

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-cart-recovery/internal/abandonment"
	"github.com/imrishuroy/go-cart-recovery/internal/analytics"
	"github.com/imrishuroy/go-cart-recovery/internal/aws"
	"github.com/imrishuroy/go-cart-recovery/internal/carts"
	"github.com/imrishuroy/go-cart-recovery/internal/config"
	"github.com/imrishuroy/go-cart-recovery/internal/handlers"
	"github.com/imrishuroy/go-cart-recovery/internal/idempotency"
	"github.com/imrishuroy/go-cart-recovery/internal/notify"
	"github.com/imrishuroy/go-cart-recovery/internal/settings"
	"github.com/imrishuroy/go-cart-recovery/internal/validation"
	"github.com/imrishuroy/go-cart-recovery/internal/webhooks"
)

// App holds the wired components.
type App struct {
	Config config.Config
	Logger *zap.Logger

	Carts    carts.Repository
	Settings settings.Store
	Deduper  handlers.Deduper
	Metrics  *aws.Metrics

	Manager    *carts.Manager
	Router     *webhooks.Router
	Aggregator *analytics.Aggregator
	Scanner    *abandonment.Scanner

	// Publisher is nil unless a webhook queue is configured.
	Publisher handlers.EventPublisher
}

// New builds an App. The memory backend needs no AWS access and is meant
// for local runs and tests.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	var secrets notify.SecretResolver
	switch cfg.StoreBackend {
	case config.BackendMemory:
		a.Carts = carts.NewMemoryStore()
		a.Settings = settings.NewMemoryStore()
		a.Deduper = idempotency.NewMemoryStore()
		a.Metrics = aws.NewMetrics(nil, cfg.CloudWatchNamespace, false)

	case config.BackendDynamoDB:
		clients, err := aws.NewAWSClients(ctx)
		if err != nil {
			return nil, fmt.Errorf("init aws clients: %w", err)
		}
		a.Carts = carts.NewDynamoStore(clients.DynamoDB, cfg.CartsTable)
		a.Settings = settings.NewDynamoStore(clients.DynamoDB, cfg.SettingsTable)
		a.Deduper = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
		a.Metrics = aws.NewMetrics(clients.CloudWatch, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)
		secrets = aws.NewSecrets(clients.SecretsManager)
		if cfg.WebhookQueueURL != "" {
			a.Publisher = webhooks.NewQueuePublisher(aws.NewPublisher(clients.SQS, cfg.WebhookQueueURL))
		}

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	a.Manager = carts.NewManager(a.Carts, log)
	a.Router = webhooks.NewRouter(a.Manager, validation.New(), a.Metrics, log)
	a.Aggregator = analytics.NewAggregator(a.Carts)
	a.Scanner = abandonment.NewScanner(a.Carts, notify.NewSMTPNotifier(secrets, log), a.Metrics, log, cfg.NotifyRetryInterval)
	return a, nil
}

// HandlerConfig returns the HTTP handler dependencies.
func (a *App) HandlerConfig() handlers.HandlerConfig {
	return handlers.HandlerConfig{
		Router:            a.Router,
		Publisher:         a.Publisher,
		Deduper:           a.Deduper,
		Dashboard:         a.Aggregator,
		Scanner:           a.Scanner,
		Settings:          a.Settings,
		Validate:          validation.New(),
		Metrics:           a.Metrics,
		Logger:            a.Logger,
		ScanRatePerMinute: a.Config.ScanRatePerMinute,
	}
}

// ScanAll runs an abandonment scan for every shop that has carts or saved
// settings; shops without settings scan with the defaults. A failing shop is
// logged and the remaining shops still run.
func (a *App) ScanAll(ctx context.Context) (scanned, failed int, err error) {
	shops, err := a.shops(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, shop := range shops {
		log := a.Logger.With(zap.String("shop", shop))
		cfg, err := a.Settings.Get(ctx, shop)
		if err != nil {
			log.Error("load settings failed", zap.Error(err))
			failed++
			continue
		}
		res, err := a.Scanner.Scan(ctx, shop, cfg)
		if err != nil {
			log.Error("scan failed", zap.Error(err),
				zap.Int("abandoned", res.Abandoned),
				zap.Int("notifications_sent", res.NotificationsSent))
			failed++
			continue
		}
		log.Info("scan finished",
			zap.Int("abandoned", res.Abandoned),
			zap.Int("notifications_sent", res.NotificationsSent))
		scanned++
	}
	return scanned, failed, nil
}

// shops merges the shops owning carts with those that saved settings.
func (a *App) shops(ctx context.Context) ([]string, error) {
	withCarts, err := a.Carts.ListShops(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cart shops: %w", err)
	}
	withSettings, err := a.Settings.ListShops(ctx)
	if err != nil {
		return nil, fmt.Errorf("list settings shops: %w", err)
	}
	seen := make(map[string]bool, len(withCarts)+len(withSettings))
	var out []string
	for _, shop := range append(withCarts, withSettings...) {
		if !seen[shop] {
			seen[shop] = true
			out = append(out, shop)
		}
	}
	sort.Strings(out)
	return out, nil
}
