package carts

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a cart.
type Status string

// Cart statuses.
const (
	StatusActive    Status = "active"
	StatusAbandoned Status = "abandoned"
	StatusRecovered Status = "recovered"
	StatusConverted Status = "converted"
)

// AllStatuses lists every status in display order.
var AllStatuses = []Status{StatusActive, StatusAbandoned, StatusRecovered, StatusConverted}

// ErrUnknownStatus is returned for a status string outside the closed set.
var ErrUnknownStatus = errors.New("unknown cart status")

// ParseStatus maps a stored or user-supplied string to a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusAbandoned, StatusRecovered, StatusConverted:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

func (s Status) String() string { return string(s) }

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return s == StatusConverted }

// Trigger is something that happens to a cart.
type Trigger int

const (
	TriggerCreate Trigger = iota
	TriggerUpdate
	TriggerOrderPlaced
	TriggerStale
)

func (t Trigger) String() string {
	switch t {
	case TriggerCreate:
		return "create"
	case TriggerUpdate:
		return "update"
	case TriggerOrderPlaced:
		return "order_placed"
	case TriggerStale:
		return "stale"
	}
	return fmt.Sprintf("trigger(%d)", int(t))
}

// Next returns the status a cart in state from moves to on t, and false when
// the transition is not allowed (the cart keeps its status). from is empty for
// a cart that does not exist yet.
//
// Recovered has no producing trigger; it is only ever read.
func Next(from Status, t Trigger) (Status, bool) {
	if from.Terminal() {
		return from, false
	}
	switch t {
	case TriggerCreate:
		if from == "" {
			return StatusActive, true
		}
	case TriggerUpdate:
		// an update means the cart is still live, whatever the scanner decided
		if from != "" {
			return StatusActive, true
		}
	case TriggerOrderPlaced:
		if from != "" {
			return StatusConverted, true
		}
	case TriggerStale:
		if from == StatusActive {
			return StatusAbandoned, true
		}
	}
	return from, false
}

// CanTransition reports whether some trigger moves a cart from one status to
// another.
func CanTransition(from, to Status) bool {
	for _, t := range []Trigger{TriggerCreate, TriggerUpdate, TriggerOrderPlaced, TriggerStale} {
		if next, ok := Next(from, t); ok && next == to {
			return true
		}
	}
	return false
}
