package main

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-cart-recovery/internal/app"
	"github.com/imrishuroy/go-cart-recovery/internal/config"
	"github.com/imrishuroy/go-cart-recovery/internal/logger"
)

// shopScanner runs a scan across all shops.
type shopScanner interface {
	ScanAll(ctx context.Context) (scanned, failed int, err error)
}

func newHandler(s shopScanner, zl *zap.Logger) func(context.Context, events.CloudWatchEvent) error {
	return func(ctx context.Context, ev events.CloudWatchEvent) error {
		scanned, failed, err := s.ScanAll(ctx)
		if err != nil {
			return fmt.Errorf("scheduled scan: %w", err)
		}
		zl.Info("scheduled scan finished",
			zap.String("event_id", ev.ID),
			zap.Int("shops_scanned", scanned),
			zap.Int("shops_failed", failed))
		return nil
	}
}

func main() {
	cfg := config.Load()

	zl, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	a, err := app.New(context.Background(), cfg, zl)
	if err != nil {
		zl.Fatal("failed to wire app", zap.Error(err))
	}
	handler := newHandler(a, zl)

	if cfg.RunLocal {
		if err := handler(context.Background(), events.CloudWatchEvent{ID: "local"}); err != nil {
			zl.Fatal("local scan failed", zap.Error(err))
		}
		return
	}

	lambda.Start(handler)
}
