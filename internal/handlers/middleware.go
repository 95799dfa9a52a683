package handlers

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/imrishuroy/go-cart-recovery/internal/aws"
)

// MetricsMiddleware publishes request count, error count and latency per
// route.
func MetricsMiddleware(m Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		dims := map[string]string{
			"Route":  route,
			"Method": c.Request.Method,
		}
		ctx := c.Request.Context()
		_ = m.RecordCount(ctx, aws.MetricHTTPRequests, dims)
		_ = m.RecordLatency(ctx, aws.MetricHTTPLatency, time.Since(start), dims)
		if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			dims["Status"] = strconv.Itoa(status)
			_ = m.RecordCount(ctx, aws.MetricHTTPErrors, dims)
		}
	}
}

// shopLimiter hands out one token bucket per shop.
type shopLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newShopLimiter(perMinute int) *shopLimiter {
	if perMinute <= 0 {
		perMinute = 6
	}
	return &shopLimiter{
		limiters: map[string]*rate.Limiter{},
		rate:     rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    1,
	}
}

func (l *shopLimiter) get(shop string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[shop]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[shop] = lim
	}
	return lim
}

// middleware rejects requests beyond the shop's budget with 429.
func (l *shopLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(c.Param("shop")).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate_limited",
				"msg":   "scan already requested recently, try again later",
			})
			return
		}
		c.Next()
	}
}
