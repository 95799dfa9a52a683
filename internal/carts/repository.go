package carts

import (
	"context"
	"errors"
	"time"
)

// ErrCartExists is returned by Create when the (shop, token) key is taken.
var ErrCartExists = errors.New("cart already exists")

// Repository is durable keyed storage for cart records. Every mutation is a
// conditional write on a single (shop, token) row; a write whose condition
// no longer holds affects nothing and reports false/0 rather than an error.
type Repository interface {
	Get(ctx context.Context, shop, token string) (*CartRecord, error)

	// Create inserts rec, or returns ErrCartExists.
	Create(ctx context.Context, rec CartRecord) error
	// Overwrite replaces the mutable fields of an existing cart and sets it
	// active unless it is converted. Returns (nil, nil) if the cart does not
	// exist.
	Overwrite(ctx context.Context, shop string, ev CartEvent, updatedAt time.Time) (*CartRecord, error)
	// MarkConverted moves a non-converted cart to converted.
	MarkConverted(ctx context.Context, shop, token string) (int, error)
	// MarkAbandoned moves an active cart to abandoned if it is still stale
	// relative to cutoff and has a positive total.
	MarkAbandoned(ctx context.Context, shop, token string, cutoff, now time.Time) (bool, error)
	// ClaimNotification reserves the right to notify an abandoned cart that
	// has not been notified. A previous claim can only be taken over once it
	// is older than retryBefore and its attempt recorded a failure; a claim
	// with no recorded outcome may have been delivered and never expires.
	ClaimNotification(ctx context.Context, shop, token string, now, retryBefore time.Time) (bool, error)
	// MarkNotified stamps emailSentAt once.
	MarkNotified(ctx context.Context, shop, token string, now time.Time) (bool, error)
	RecordNotificationFailure(ctx context.Context, shop, token, reason string) error

	ListStale(ctx context.Context, shop string, cutoff time.Time) ([]CartRecord, error)
	// ListAwaitingNotification returns abandoned, unnotified carts with an
	// e-mail whose last notification attempt failed.
	ListAwaitingNotification(ctx context.Context, shop string) ([]CartRecord, error)
	// ListShops returns every shop with at least one cart, sorted.
	ListShops(ctx context.Context) ([]string, error)
	ListCreatedSince(ctx context.Context, shop string, since time.Time) ([]CartRecord, error)
	ListActiveSince(ctx context.Context, shop string, since time.Time) ([]CartRecord, error)
}
