package idempotency

import "time"

// Status values for delivery entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// DeliveryRecord is the shape persisted in the delivery dedup table.
type DeliveryRecord struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK, "<shop>:<delivery id>"
	Status         string    `dynamodbav:"status"`
	Shop           string    `dynamodbav:"shop,omitempty"`
	Topic          string    `dynamodbav:"topic,omitempty"`
	Attempts       int       `dynamodbav:"attempts"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      int64     `dynamodbav:"updated_at"` // epoch seconds, compared in conditions
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}
