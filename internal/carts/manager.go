package carts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager applies cart and order events to the Repository.
type Manager struct {
	repo    Repository
	logger  *zap.Logger
	nowFunc func() time.Time
	newID   func() string
}

// NewManager returns a Manager writing to repo.
func NewManager(repo Repository, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		repo:    repo,
		logger:  logger,
		nowFunc: func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Upsert records a cart create/update event. A missing cart is created
// active; an existing one has its fields replaced and becomes active again
// unless it is converted. Replaying the same event leaves the same state.
func (m *Manager) Upsert(ctx context.Context, shop string, ev CartEvent) (*CartRecord, error) {
	shop = strings.TrimSpace(shop)
	ev.Token = strings.TrimSpace(ev.Token)
	if shop == "" || ev.Token == "" {
		return nil, fmt.Errorf("%w: shop and cart token are required", ErrInvalidEvent)
	}
	if ev.TotalPrice < 0 {
		return nil, fmt.Errorf("%w: negative total price", ErrInvalidEvent)
	}
	if ev.Currency == "" {
		ev.Currency = DefaultCurrency
	}
	if ev.LineItems == nil {
		ev.LineItems = []LineItem{}
	}

	now := m.nowFunc()
	updatedAt := ev.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	rec, err := m.repo.Overwrite(ctx, shop, ev, updatedAt)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		m.logger.Debug("cart updated",
			zap.String("shop", shop),
			zap.String("cart_token", ev.Token),
			zap.String("status", rec.Status.String()))
		return rec, nil
	}

	created := m.newRecord(shop, ev, now)
	err = m.repo.Create(ctx, created)
	if errors.Is(err, ErrCartExists) {
		// lost a create race; apply as an update
		rec, err = m.repo.Overwrite(ctx, shop, ev, updatedAt)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("cart %s/%s vanished during upsert", shop, ev.Token)
		}
		return rec, nil
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info("cart created",
		zap.String("shop", shop),
		zap.String("cart_token", ev.Token),
		zap.Float64("total_price", ev.TotalPrice))
	return &created, nil
}

func (m *Manager) newRecord(shop string, ev CartEvent, now time.Time) CartRecord {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	// without an explicit update time the cart counts as touched on ingest,
	// so a late create event is not abandoned on the next scan
	updatedAt := ev.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	status, _ := Next("", TriggerCreate)
	return CartRecord{
		ID:            m.newID(),
		Shop:          shop,
		CartToken:     ev.Token,
		CustomerID:    ev.CustomerID,
		CustomerEmail: ev.CustomerEmail,
		TotalPrice:    ev.TotalPrice,
		Currency:      ev.Currency,
		LineItems:     ev.LineItems,
		Status:        status,
		CreatedAt:     createdAt.UTC().Truncate(time.Millisecond),
		UpdatedAt:     updatedAt.UTC().Truncate(time.Millisecond),
	}
}

// MarkConverted records that an order was placed for the cart. It returns 1
// when a live cart moved to converted and 0 otherwise; it never creates a
// cart.
func (m *Manager) MarkConverted(ctx context.Context, shop, token string) (int, error) {
	shop = strings.TrimSpace(shop)
	token = strings.TrimSpace(token)
	if shop == "" || token == "" {
		return 0, fmt.Errorf("%w: shop and cart token are required", ErrInvalidEvent)
	}
	n, err := m.repo.MarkConverted(ctx, shop, token)
	if err != nil {
		return 0, err
	}
	m.logger.Info("cart conversion",
		zap.String("shop", shop),
		zap.String("cart_token", token),
		zap.Int("affected", n))
	return n, nil
}
