// Package webhooks routes commerce-platform webhook deliveries to the cart
// lifecycle.
package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/imrishuroy/go-cart-recovery/internal/carts"
	"github.com/imrishuroy/go-cart-recovery/internal/validation"
)

// Topics, in the normalized enum form.
const (
	TopicCartsCreate     = "CARTS_CREATE"
	TopicCartsUpdate     = "CARTS_UPDATE"
	TopicCheckoutsCreate = "CHECKOUTS_CREATE"
	TopicCheckoutsUpdate = "CHECKOUTS_UPDATE"
	TopicOrdersCreate    = "ORDERS_CREATE"
	TopicAppUninstalled  = "APP_UNINSTALLED"
)

// Event is one webhook delivery. It is also the SQS message body when
// deliveries are queued.
type Event struct {
	Shop       string          `json:"shop"`
	Topic      string          `json:"topic"`
	DeliveryID string          `json:"deliveryId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// NormalizeTopic turns header-style topics ("carts/create") into the enum
// form ("CARTS_CREATE"). Enum-form input is returned unchanged.
func NormalizeTopic(topic string) string {
	t := strings.ToUpper(strings.TrimSpace(topic))
	return strings.ReplaceAll(t, "/", "_")
}

// DedupKey identifies a delivery across redeliveries. Empty when the
// delivery carries no id.
func (e Event) DedupKey() string {
	if e.DeliveryID == "" {
		return ""
	}
	return e.Shop + ":" + e.DeliveryID
}

// ParseMessage decodes a queued event.
func ParseMessage(body string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", validation.ErrInvalidPayload, err)
	}
	ev.Topic = NormalizeTopic(ev.Topic)
	return ev, nil
}

// IsPermanent reports whether err is caused by the event itself, so that
// retrying the same delivery cannot succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, validation.ErrInvalidPayload) || errors.Is(err, carts.ErrInvalidEvent)
}
