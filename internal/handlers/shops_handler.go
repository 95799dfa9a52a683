package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-cart-recovery/internal/analytics"
	"github.com/imrishuroy/go-cart-recovery/internal/logger"
	"github.com/imrishuroy/go-cart-recovery/internal/validation"
)

const maxWindowDays = 365

func shopParam(c *gin.Context) (string, bool) {
	shop := strings.TrimSpace(c.Param("shop"))
	if shop == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_shop"})
		return "", false
	}
	return shop, true
}

// windowDays parses ?days=, falling back to the default for anything unusable.
func windowDays(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxWindowDays {
		return analytics.DefaultWindowDays
	}
	return n
}

func registerDashboardRoutes(g *gin.RouterGroup, cfg HandlerConfig) {
	g.GET("/analytics", func(c *gin.Context) {
		shop, ok := shopParam(c)
		if !ok {
			return
		}
		summary, err := cfg.Dashboard.Summary(c.Request.Context(), shop, windowDays(c.Query("days")))
		if err != nil {
			cfg.Logger.Error("analytics summary failed",
				zap.String("request_id", logger.RequestID(c)),
				zap.String("shop", shop),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics_failed"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	g.GET("/carts/active", func(c *gin.Context) {
		shop, ok := shopParam(c)
		if !ok {
			return
		}
		active, err := cfg.Dashboard.ActiveCarts(c.Request.Context(), shop)
		if err != nil {
			cfg.Logger.Error("list active carts failed", zap.String("shop", shop), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "active_carts_failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"carts": active, "count": len(active)})
	})
}

func registerScanRoutes(g *gin.RouterGroup, cfg HandlerConfig) {
	limiter := newShopLimiter(cfg.ScanRatePerMinute)

	g.POST("/scan", limiter.middleware(), func(c *gin.Context) {
		shop, ok := shopParam(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		log := cfg.Logger.With(zap.String("request_id", logger.RequestID(c)), zap.String("shop", shop))

		current, err := cfg.Settings.Get(ctx, shop)
		if err != nil {
			log.Error("load settings failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "settings_unavailable"})
			return
		}
		res, err := cfg.Scanner.Scan(ctx, shop, current)
		if err != nil {
			log.Error("manual scan failed", zap.Error(err),
				zap.Int("abandoned", res.Abandoned),
				zap.Int("notifications_sent", res.NotificationsSent))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "scan_failed"})
			return
		}
		log.Info("manual scan finished",
			zap.Int("abandoned", res.Abandoned),
			zap.Int("notifications_sent", res.NotificationsSent))
		c.JSON(http.StatusOK, gin.H{
			"abandoned":         res.Abandoned,
			"notificationsSent": res.NotificationsSent,
		})
	})
}

func registerSettingsRoutes(g *gin.RouterGroup, cfg HandlerConfig) {
	g.GET("/settings", func(c *gin.Context) {
		shop, ok := shopParam(c)
		if !ok {
			return
		}
		current, err := cfg.Settings.Get(c.Request.Context(), shop)
		if err != nil {
			cfg.Logger.Error("load settings failed", zap.String("shop", shop), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "settings_unavailable"})
			return
		}
		c.JSON(http.StatusOK, current.Masked())
	})

	g.PUT("/settings", func(c *gin.Context) {
		shop, ok := shopParam(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		var req validation.SettingsRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validate); err != nil {
			return
		}
		current, err := cfg.Settings.Get(ctx, shop)
		if err != nil {
			cfg.Logger.Error("load settings failed", zap.String("shop", shop), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "settings_unavailable"})
			return
		}
		updated := req.ToSettings(current)
		updated.Shop = shop
		if err := cfg.Settings.Put(ctx, updated); err != nil {
			cfg.Logger.Error("save settings failed", zap.String("shop", shop), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "settings_save_failed"})
			return
		}
		cfg.Logger.Info("settings updated", zap.String("shop", shop), zap.Bool("email_enabled", updated.EmailEnabled))
		c.JSON(http.StatusOK, updated.Masked())
	})
}
