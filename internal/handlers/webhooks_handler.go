package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-cart-recovery/internal/logger"
	"github.com/imrishuroy/go-cart-recovery/internal/webhooks"
)

// Webhook delivery headers.
const (
	HeaderTopic      = "X-Shopify-Topic"
	HeaderShopDomain = "X-Shopify-Shop-Domain"
	HeaderWebhookID  = "X-Shopify-Webhook-Id"
)

func registerWebhookRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.POST("/webhooks", func(c *gin.Context) {
		ctx := c.Request.Context()

		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
			return
		}
		ev := webhooks.Event{
			Shop:       c.GetHeader(HeaderShopDomain),
			Topic:      webhooks.NormalizeTopic(c.GetHeader(HeaderTopic)),
			DeliveryID: c.GetHeader(HeaderWebhookID),
			Payload:    body,
		}
		log := cfg.Logger.With(
			zap.String("request_id", logger.RequestID(c)),
			zap.String("shop", ev.Shop),
			zap.String("topic", ev.Topic),
		)

		if err := cfg.Router.Validate(ev); err != nil {
			log.Warn("webhook rejected", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_webhook", "msg": err.Error()})
			return
		}

		if cfg.Publisher != nil {
			if err := cfg.Publisher.PublishEvent(ctx, ev); err != nil {
				log.Error("enqueue webhook failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue_failed"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}

		key := ev.DedupKey()
		if cfg.Deduper != nil && key != "" {
			begun, err := cfg.Deduper.Begin(ctx, key, ev.Shop, ev.Topic)
			if err != nil {
				log.Error("delivery dedup failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "dedup_failed"})
				return
			}
			if !begun {
				log.Info("duplicate delivery skipped", zap.String("delivery_id", ev.DeliveryID))
				c.JSON(http.StatusOK, gin.H{"status": "ok", "duplicate": true})
				return
			}
		}

		if err := cfg.Router.Handle(ctx, ev); err != nil {
			if cfg.Deduper != nil && key != "" {
				_ = cfg.Deduper.MarkFailed(ctx, key, fmt.Sprintf("handle: %v", err))
			}
			if webhooks.IsPermanent(err) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_webhook", "msg": err.Error()})
				return
			}
			log.Error("webhook processing failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "processing_failed"})
			return
		}
		if cfg.Deduper != nil && key != "" {
			if err := cfg.Deduper.MarkDone(ctx, key); err != nil {
				log.Warn("mark delivery done failed", zap.Error(err))
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
