package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/imrishuroy/go-cart-recovery/internal/carts"
	"github.com/imrishuroy/go-cart-recovery/internal/settings"
)

// Decimal is a money amount that arrives either as a JSON number or as a
// decimal string ("19.95"). null and "" decode as zero.
type Decimal float64

func (d *Decimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*d = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid decimal %q", s)
		}
		*d = Decimal(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*d = Decimal(f)
	return nil
}

// FlexString accepts a JSON string or number, since ids arrive as both.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = FlexString(n.String())
	return nil
}

// LineItemRequest is one product line of a cart or checkout payload.
type LineItemRequest struct {
	Title        string  `json:"title"`
	VariantTitle string  `json:"variant_title,omitempty"`
	Quantity     int     `json:"quantity" validate:"gte=0"`
	Price        Decimal `json:"price" validate:"gte=0"`
}

// CustomerRequest is the customer object of a cart webhook.
type CustomerRequest struct {
	ID    FlexString `json:"id,omitempty"`
	Email string     `json:"email,omitempty"`
}

// CartEventRequest is the payload of carts/* and checkouts/* webhooks.
type CartEventRequest struct {
	Token      string            `json:"token" validate:"required"`
	Customer   *CustomerRequest  `json:"customer,omitempty"`
	Email      string            `json:"email,omitempty"` // checkouts carry it top-level
	TotalPrice Decimal           `json:"total_price" validate:"gte=0"`
	Currency   string            `json:"currency,omitempty" validate:"omitempty,len=3"`
	LineItems  []LineItemRequest `json:"line_items,omitempty" validate:"omitempty,dive"`
	CreatedAt  *time.Time        `json:"created_at,omitempty"`
	UpdatedAt  *time.Time        `json:"updated_at,omitempty"`
}

// ToEvent maps the payload onto a cart event.
func (r CartEventRequest) ToEvent() carts.CartEvent {
	ev := carts.CartEvent{
		Token:         strings.TrimSpace(r.Token),
		CustomerEmail: strings.TrimSpace(r.Email),
		TotalPrice:    float64(r.TotalPrice),
		Currency:      strings.ToUpper(strings.TrimSpace(r.Currency)),
		LineItems:     make([]carts.LineItem, 0, len(r.LineItems)),
	}
	if r.Customer != nil {
		ev.CustomerID = string(r.Customer.ID)
		if e := strings.TrimSpace(r.Customer.Email); e != "" {
			ev.CustomerEmail = e
		}
	}
	for _, li := range r.LineItems {
		ev.LineItems = append(ev.LineItems, carts.LineItem{
			Title:        li.Title,
			VariantTitle: li.VariantTitle,
			Quantity:     li.Quantity,
			Price:        float64(li.Price),
		})
	}
	if r.CreatedAt != nil {
		ev.CreatedAt = r.CreatedAt.UTC()
	}
	if r.UpdatedAt != nil {
		ev.UpdatedAt = r.UpdatedAt.UTC()
	}
	return ev
}

// OrderEventRequest is the part of an orders/create payload that links the
// order to a cart.
type OrderEventRequest struct {
	CheckoutToken FlexString `json:"checkout_token,omitempty"`
	CartToken     FlexString `json:"cart_token,omitempty"`
}

// Token prefers the checkout token over the cart token.
func (r OrderEventRequest) Token() string {
	if t := strings.TrimSpace(string(r.CheckoutToken)); t != "" {
		return t
	}
	return strings.TrimSpace(string(r.CartToken))
}

// SettingsRequest is the body of PUT /shops/:shop/settings.
type SettingsRequest struct {
	AbandonedThresholdMin int    `json:"abandonedThresholdMinutes" validate:"omitempty,min=1,max=10080"`
	EmailEnabled          bool   `json:"emailEnabled"`
	EmailFrom             string `json:"emailFrom" validate:"omitempty,max=320"`
	EmailSubject          string `json:"emailSubject" validate:"max=200"`
	EmailBody             string `json:"emailBody" validate:"max=100000"`
	SMTPHost              string `json:"smtpHost" validate:"omitempty,hostname|ip"`
	SMTPPort              int    `json:"smtpPort" validate:"omitempty,min=1,max=65535"`
	SMTPUser              string `json:"smtpUser"`
	SMTPPass              string `json:"smtpPass"`
	SMTPPassSecretID      string `json:"smtpPassSecretId"`
}

// maskedPassword is what GET returns in place of a stored password; sending
// it back keeps the stored value.
const maskedPassword = "********"

// ToSettings applies the request on top of the shop's current settings.
func (r SettingsRequest) ToSettings(current settings.Settings) settings.Settings {
	out := settings.Settings{
		Shop:                  current.Shop,
		AbandonedThresholdMin: r.AbandonedThresholdMin,
		EmailEnabled:          r.EmailEnabled,
		EmailFrom:             strings.TrimSpace(r.EmailFrom),
		EmailSubject:          r.EmailSubject,
		EmailBody:             r.EmailBody,
		SMTPHost:              strings.TrimSpace(r.SMTPHost),
		SMTPPort:              r.SMTPPort,
		SMTPUser:              r.SMTPUser,
		SMTPPass:              r.SMTPPass,
		SMTPPassSecretID:      strings.TrimSpace(r.SMTPPassSecretID),
	}
	if r.SMTPPass == "" || r.SMTPPass == maskedPassword {
		out.SMTPPass = current.SMTPPass
	}
	return out.WithDefaults()
}
