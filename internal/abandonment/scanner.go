// Package abandonment finds stale carts, marks them abandoned and sends the
// recovery notification.
package abandonment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-cart-recovery/internal/aws"
	"github.com/imrishuroy/go-cart-recovery/internal/carts"
	"github.com/imrishuroy/go-cart-recovery/internal/notify"
	"github.com/imrishuroy/go-cart-recovery/internal/settings"
)

// DefaultRetryInterval is how long a notification claim blocks another
// attempt for the same cart.
const DefaultRetryInterval = 30 * time.Minute

// Repository is the part of the cart store the scanner needs.
type Repository interface {
	ListStale(ctx context.Context, shop string, cutoff time.Time) ([]carts.CartRecord, error)
	ListAwaitingNotification(ctx context.Context, shop string) ([]carts.CartRecord, error)
	MarkAbandoned(ctx context.Context, shop, token string, cutoff, now time.Time) (bool, error)
	ClaimNotification(ctx context.Context, shop, token string, now, retryBefore time.Time) (bool, error)
	MarkNotified(ctx context.Context, shop, token string, now time.Time) (bool, error)
	RecordNotificationFailure(ctx context.Context, shop, token, reason string) error
}

// Metrics receives scan counters.
type Metrics interface {
	RecordValue(ctx context.Context, name string, value float64, dimensions map[string]string) error
}

// Result is the outcome of one scan.
type Result struct {
	Abandoned         int `json:"abandoned"`
	NotificationsSent int `json:"notificationsSent"`
}

// Scanner runs abandonment scans. It is safe for concurrent use.
type Scanner struct {
	repo          Repository
	notifier      notify.Notifier
	metrics       Metrics
	logger        *zap.Logger
	retryInterval time.Duration
	nowFunc       func() time.Time
}

// NewScanner returns a Scanner. metrics may be nil; a non-positive
// retryInterval means DefaultRetryInterval.
func NewScanner(repo Repository, notifier notify.Notifier, metrics Metrics, logger *zap.Logger, retryInterval time.Duration) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	return &Scanner{
		repo:          repo,
		notifier:      notifier,
		metrics:       metrics,
		logger:        logger,
		retryInterval: retryInterval,
		nowFunc:       func() time.Time { return time.Now().UTC() },
	}
}

// Scan marks every active cart of shop that has not been updated within the
// shop's threshold as abandoned and notifies its customer when e-mail is
// enabled. Carts whose notification failed on an earlier scan are retried
// once their previous claim has expired.
//
// Losing a conditional write to a concurrent writer skips the cart. A
// failed notification leaves the cart abandoned and unnotified.
func (s *Scanner) Scan(ctx context.Context, shop string, cfg settings.Settings) (Result, error) {
	var res Result
	now := s.nowFunc()
	cutoff := now.Add(-cfg.Threshold())
	log := s.logger.With(zap.String("shop", shop))

	stale, err := s.repo.ListStale(ctx, shop, cutoff)
	if err != nil {
		return res, fmt.Errorf("list stale carts: %w", err)
	}

	failed := 0
	attempted := make(map[string]bool)
	for _, rec := range stale {
		ok, err := s.repo.MarkAbandoned(ctx, shop, rec.CartToken, cutoff, now)
		if err != nil {
			log.Error("mark abandoned failed", zap.String("cart_token", rec.CartToken), zap.Error(err))
			continue
		}
		if !ok {
			log.Debug("cart changed since listing, skipped", zap.String("cart_token", rec.CartToken))
			continue
		}
		res.Abandoned++
		rec.Status = carts.StatusAbandoned

		if eligible(rec, cfg) {
			attempted[rec.CartToken] = true
			switch s.notify(ctx, log, shop, rec, cfg, now) {
			case outcomeSent:
				res.NotificationsSent++
			case outcomeFailed:
				failed++
			}
		}
	}

	if cfg.EmailEnabled {
		awaiting, err := s.repo.ListAwaitingNotification(ctx, shop)
		if err != nil {
			s.record(ctx, log, shop, res, failed)
			return res, fmt.Errorf("list carts awaiting notification: %w", err)
		}
		for _, rec := range awaiting {
			if attempted[rec.CartToken] || !eligible(rec, cfg) {
				continue
			}
			switch s.notify(ctx, log, shop, rec, cfg, now) {
			case outcomeSent:
				res.NotificationsSent++
			case outcomeFailed:
				failed++
			}
		}
	}

	s.record(ctx, log, shop, res, failed)
	log.Info("abandonment scan complete",
		zap.Int("abandoned", res.Abandoned),
		zap.Int("notifications_sent", res.NotificationsSent),
		zap.Int("notifications_failed", failed))
	return res, nil
}

func eligible(rec carts.CartRecord, cfg settings.Settings) bool {
	return cfg.EmailEnabled && rec.CustomerEmail != "" && rec.EmailSentAt == nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
)

// notify claims the cart, sends, and records the result. The claim makes
// concurrent scans send at most once per retry interval.
func (s *Scanner) notify(ctx context.Context, log *zap.Logger, shop string, rec carts.CartRecord, cfg settings.Settings, now time.Time) outcome {
	log = log.With(zap.String("cart_token", rec.CartToken))

	claimed, err := s.repo.ClaimNotification(ctx, shop, rec.CartToken, now, now.Add(-s.retryInterval))
	if err != nil {
		log.Error("claim notification failed", zap.Error(err))
		return outcomeSkipped
	}
	if !claimed {
		log.Debug("notification already claimed")
		return outcomeSkipped
	}

	if err := s.notifier.Send(ctx, shop, rec, cfg); err != nil {
		kind := notify.KindOf(err)
		log.Warn("recovery notification failed", zap.String("kind", string(kind)), zap.Error(err))
		if rerr := s.repo.RecordNotificationFailure(ctx, shop, rec.CartToken, string(kind)); rerr != nil {
			log.Error("record notification failure", zap.Error(rerr))
		}
		return outcomeFailed
	}

	if ok, err := s.repo.MarkNotified(ctx, shop, rec.CartToken, now); err != nil {
		log.Error("email sent but not recorded", zap.Error(err))
	} else if !ok {
		log.Warn("email already recorded as sent")
	}
	return outcomeSent
}

func (s *Scanner) record(ctx context.Context, log *zap.Logger, shop string, res Result, failed int) {
	if s.metrics == nil {
		return
	}
	dims := map[string]string{"Shop": shop}
	for name, v := range map[string]int{
		aws.MetricCartsAbandoned:       res.Abandoned,
		aws.MetricRecoveryEmailsSent:   res.NotificationsSent,
		aws.MetricRecoveryEmailsFailed: failed,
	} {
		if err := s.metrics.RecordValue(ctx, name, float64(v), dims); err != nil {
			log.Warn("failed to record metric", zap.String("metric", name), zap.Error(err))
		}
	}
}
