package carts

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Repository with the same conditional
// semantics as DynamoStore. It backs local runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	carts map[string]map[string]CartRecord
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: map[string]map[string]CartRecord{}}
}

// Get returns the cart or nil when it does not exist.
func (m *MemoryStore) Get(_ context.Context, shop, token string) (*CartRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.carts[shop][token]
	if !ok {
		return nil, nil
	}
	c := clone(rec)
	return &c, nil
}

// Create inserts rec, or returns ErrCartExists.
func (m *MemoryStore) Create(_ context.Context, rec CartRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[rec.Shop][rec.CartToken]; ok {
		return ErrCartExists
	}
	if m.carts[rec.Shop] == nil {
		m.carts[rec.Shop] = map[string]CartRecord{}
	}
	if rec.LineItems == nil {
		rec.LineItems = []LineItem{}
	}
	m.carts[rec.Shop][rec.CartToken] = clone(rec)
	return nil
}

// Overwrite replaces the mutable fields of an existing cart.
func (m *MemoryStore) Overwrite(_ context.Context, shop string, ev CartEvent, updatedAt time.Time) (*CartRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.carts[shop][ev.Token]
	if !ok {
		return nil, nil
	}
	rec.CustomerID = ev.CustomerID
	rec.CustomerEmail = ev.CustomerEmail
	rec.TotalPrice = ev.TotalPrice
	rec.Currency = ev.Currency
	rec.LineItems = append([]LineItem{}, ev.LineItems...)
	rec.UpdatedAt = updatedAt.UTC().Truncate(time.Millisecond)
	if next, ok := Next(rec.Status, TriggerUpdate); ok {
		rec.Status = next
	}
	m.carts[shop][ev.Token] = rec
	c := clone(rec)
	return &c, nil
}

// MarkConverted moves a non-converted cart to converted.
func (m *MemoryStore) MarkConverted(_ context.Context, shop, token string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.carts[shop][token]
	if !ok {
		return 0, nil
	}
	next, ok := Next(rec.Status, TriggerOrderPlaced)
	if !ok {
		return 0, nil
	}
	rec.Status = next
	m.carts[shop][token] = rec
	return 1, nil
}

// MarkAbandoned moves a stale active cart to abandoned.
func (m *MemoryStore) MarkAbandoned(_ context.Context, shop, token string, cutoff, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.carts[shop][token]
	if !ok || !stale(rec, cutoff) {
		return false, nil
	}
	rec.Status = StatusAbandoned
	t := now.UTC()
	rec.AbandonedAt = &t
	m.carts[shop][token] = rec
	return true, nil
}

// ClaimNotification reserves the right to notify the cart.
func (m *MemoryStore) ClaimNotification(_ context.Context, shop, token string, now, retryBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.carts[shop][token]
	if !ok || rec.Status != StatusAbandoned || rec.EmailSentAt != nil {
		return false, nil
	}
	// a claim without a recorded failure may have been delivered, so it
	// never expires
	if rec.NotifyClaimedAt != nil && (rec.NotifyError == "" || !rec.NotifyClaimedAt.Before(retryBefore)) {
		return false, nil
	}
	t := now.UTC()
	rec.NotifyClaimedAt = &t
	rec.NotifyAttempts++
	rec.NotifyError = ""
	m.carts[shop][token] = rec
	return true, nil
}

// MarkNotified stamps emailSentAt once.
func (m *MemoryStore) MarkNotified(_ context.Context, shop, token string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.carts[shop][token]
	if !ok || rec.EmailSentAt != nil {
		return false, nil
	}
	t := now.UTC()
	rec.EmailSentAt = &t
	rec.NotifyError = ""
	m.carts[shop][token] = rec
	return true, nil
}

// RecordNotificationFailure stores the failure kind of the last attempt.
func (m *MemoryStore) RecordNotificationFailure(_ context.Context, shop, token, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.carts[shop][token]
	if !ok {
		return nil
	}
	rec.NotifyError = reason
	m.carts[shop][token] = rec
	return nil
}

// ListStale returns active carts with a positive total not updated since cutoff.
func (m *MemoryStore) ListStale(_ context.Context, shop string, cutoff time.Time) ([]CartRecord, error) {
	return m.list(shop, func(r CartRecord) bool { return stale(r, cutoff) }), nil
}

// ListAwaitingNotification returns carts whose last notification failed.
func (m *MemoryStore) ListAwaitingNotification(_ context.Context, shop string) ([]CartRecord, error) {
	return m.list(shop, func(r CartRecord) bool {
		return r.Status == StatusAbandoned && r.CustomerEmail != "" && r.EmailSentAt == nil && r.NotifyError != ""
	}), nil
}

// ListShops returns every shop with at least one cart, sorted.
func (m *MemoryStore) ListShops(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shops := make([]string, 0, len(m.carts))
	for shop, byToken := range m.carts {
		if len(byToken) > 0 {
			shops = append(shops, shop)
		}
	}
	sort.Strings(shops)
	return shops, nil
}

// ListCreatedSince returns carts created at or after since.
func (m *MemoryStore) ListCreatedSince(_ context.Context, shop string, since time.Time) ([]CartRecord, error) {
	return m.list(shop, func(r CartRecord) bool { return !r.CreatedAt.Before(since) }), nil
}

// ListActiveSince returns active carts updated at or after since.
func (m *MemoryStore) ListActiveSince(_ context.Context, shop string, since time.Time) ([]CartRecord, error) {
	return m.list(shop, func(r CartRecord) bool {
		return r.Status == StatusActive && !r.UpdatedAt.Before(since)
	}), nil
}

// list returns matches ordered by token, like a DynamoDB query on the sort key.
func (m *MemoryStore) list(shop string, keep func(CartRecord) bool) []CartRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CartRecord
	for _, rec := range m.carts[shop] {
		if keep(rec) {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CartToken < out[j].CartToken })
	return out
}

func stale(r CartRecord, cutoff time.Time) bool {
	return r.Status == StatusActive && r.UpdatedAt.Before(cutoff) && r.TotalPrice > 0
}

func clone(r CartRecord) CartRecord {
	r.LineItems = append([]LineItem(nil), r.LineItems...)
	if r.LineItems == nil {
		r.LineItems = []LineItem{}
	}
	r.AbandonedAt = copyTime(r.AbandonedAt)
	r.EmailSentAt = copyTime(r.EmailSentAt)
	r.NotifyClaimedAt = copyTime(r.NotifyClaimedAt)
	return r
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
