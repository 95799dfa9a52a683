// Package notify sends abandoned-cart recovery e-mail.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-cart-recovery/internal/carts"
	"github.com/imrishuroy/go-cart-recovery/internal/settings"
)

// Kind classifies why a notification was not sent.
type Kind string

const (
	KindTransport        Kind = "transport"
	KindConfig           Kind = "config"
	KindRecipientMissing Kind = "recipient_missing"
)

// Failure is the error returned by a Notifier.
type Failure struct {
	Kind   Kind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("notify %s: %s: %v", f.Kind, f.Reason, f.Err)
	}
	return fmt.Sprintf("notify %s: %s", f.Kind, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// KindOf returns the failure kind of err. Errors that are not a *Failure
// count as transport failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindTransport
}

// Notifier delivers one recovery message for an abandoned cart.
type Notifier interface {
	Send(ctx context.Context, shop string, cart carts.CartRecord, s settings.Settings) error
}
