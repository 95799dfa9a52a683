package carts

import (
	"errors"
	"time"
)

// DefaultCurrency applies when an event carries no currency.
const DefaultCurrency = "EUR"

// ErrInvalidEvent is returned for events that must not reach the store.
var ErrInvalidEvent = errors.New("invalid cart event")

// LineItem is one product line of a cart.
type LineItem struct {
	Title        string  `json:"title" dynamodbav:"title"`
	VariantTitle string  `json:"variantTitle,omitempty" dynamodbav:"variant_title,omitempty"`
	Quantity     int     `json:"quantity" dynamodbav:"quantity"`
	Price        float64 `json:"price" dynamodbav:"price"`
}

// CartEvent is a validated create/update payload for a cart.
// Zero timestamps mean the source did not send one.
type CartEvent struct {
	Token         string
	CustomerID    string
	CustomerEmail string
	TotalPrice    float64
	Currency      string
	LineItems     []LineItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CartRecord is the tracked state of one cart of one shop.
type CartRecord struct {
	ID            string     `json:"id"`
	Shop          string     `json:"shop"`
	CartToken     string     `json:"cartToken"`
	CustomerID    string     `json:"customerId,omitempty"`
	CustomerEmail string     `json:"customerEmail,omitempty"`
	TotalPrice    float64    `json:"totalPrice"`
	Currency      string     `json:"currency"`
	LineItems     []LineItem `json:"lineItems"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	AbandonedAt   *time.Time `json:"abandonedAt,omitempty"`
	EmailSentAt   *time.Time `json:"emailSentAt,omitempty"`

	// recovery notification bookkeeping
	NotifyClaimedAt *time.Time `json:"notifyClaimedAt,omitempty"`
	NotifyAttempts  int        `json:"notifyAttempts,omitempty"`
	NotifyError     string     `json:"notifyError,omitempty"`
}
