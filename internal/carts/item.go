package carts

import (
	"fmt"
	"time"
)

// cartItem is the DynamoDB shape of a CartRecord. Timestamps are Unix
// milliseconds so conditions compare numerically; zero means unset.
type cartItem struct {
	Shop            string     `dynamodbav:"shop"`       // PK
	CartToken       string     `dynamodbav:"cart_token"` // SK
	ID              string     `dynamodbav:"id"`
	CustomerID      string     `dynamodbav:"customer_id,omitempty"`
	CustomerEmail   string     `dynamodbav:"customer_email,omitempty"`
	TotalPrice      float64    `dynamodbav:"total_price"`
	Currency        string     `dynamodbav:"currency"`
	LineItems       []LineItem `dynamodbav:"line_items"`
	Status          string     `dynamodbav:"status"`
	CreatedAt       int64      `dynamodbav:"created_at"`
	UpdatedAt       int64      `dynamodbav:"updated_at"`
	AbandonedAt     int64      `dynamodbav:"abandoned_at,omitempty"`
	EmailSentAt     int64      `dynamodbav:"email_sent_at,omitempty"`
	NotifyClaimedAt int64      `dynamodbav:"notify_claimed_at,omitempty"`
	NotifyAttempts  int        `dynamodbav:"notify_attempts,omitempty"`
	NotifyError     string     `dynamodbav:"notify_error,omitempty"`
}

func toItem(r CartRecord) cartItem {
	items := r.LineItems
	if items == nil {
		items = []LineItem{}
	}
	return cartItem{
		Shop:            r.Shop,
		CartToken:       r.CartToken,
		ID:              r.ID,
		CustomerID:      r.CustomerID,
		CustomerEmail:   r.CustomerEmail,
		TotalPrice:      r.TotalPrice,
		Currency:        r.Currency,
		LineItems:       items,
		Status:          string(r.Status),
		CreatedAt:       millis(r.CreatedAt),
		UpdatedAt:       millis(r.UpdatedAt),
		AbandonedAt:     millisPtr(r.AbandonedAt),
		EmailSentAt:     millisPtr(r.EmailSentAt),
		NotifyClaimedAt: millisPtr(r.NotifyClaimedAt),
		NotifyAttempts:  r.NotifyAttempts,
		NotifyError:     r.NotifyError,
	}
}

func (it cartItem) record() (CartRecord, error) {
	status, err := ParseStatus(it.Status)
	if err != nil {
		return CartRecord{}, fmt.Errorf("cart %s/%s: %w", it.Shop, it.CartToken, err)
	}
	return CartRecord{
		ID:              it.ID,
		Shop:            it.Shop,
		CartToken:       it.CartToken,
		CustomerID:      it.CustomerID,
		CustomerEmail:   it.CustomerEmail,
		TotalPrice:      it.TotalPrice,
		Currency:        it.Currency,
		LineItems:       it.LineItems,
		Status:          status,
		CreatedAt:       fromMillis(it.CreatedAt),
		UpdatedAt:       fromMillis(it.UpdatedAt),
		AbandonedAt:     fromMillisPtr(it.AbandonedAt),
		EmailSentAt:     fromMillisPtr(it.EmailSentAt),
		NotifyClaimedAt: fromMillisPtr(it.NotifyClaimedAt),
		NotifyAttempts:  it.NotifyAttempts,
		NotifyError:     it.NotifyError,
	}, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisPtr(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return millis(*t)
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func fromMillisPtr(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := fromMillis(ms)
	return &t
}
