package carts

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestConvertedIsAbsorbing: no trigger sequence leaves converted.
func TestConvertedIsAbsorbing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("converted never changes", prop.ForAll(
		func(triggers []int) bool {
			status := Status("")
			converted := false
			for _, tr := range triggers {
				if next, ok := Next(status, Trigger(tr)); ok {
					status = next
				}
				if converted && status != StatusConverted {
					return false
				}
				converted = status == StatusConverted
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}

// TestUpsertIsIdempotent: replaying an event yields the state the first
// delivery produced.
func TestUpsertIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	properties.Property("upsert twice equals upsert once", prop.ForAll(
		func(token, email string, total float64, converted bool) bool {
			ctx := context.Background()
			store := NewMemoryStore()
			m := newTestManager(store, now)
			ev := CartEvent{Token: token, CustomerEmail: email, TotalPrice: total}

			if _, err := m.Upsert(ctx, "shop", ev); err != nil {
				return false
			}
			if converted {
				if _, err := m.MarkConverted(ctx, "shop", token); err != nil {
					return false
				}
			}
			first, _ := store.Get(ctx, "shop", token)
			if _, err := m.Upsert(ctx, "shop", ev); err != nil {
				return false
			}
			second, _ := store.Get(ctx, "shop", token)
			return reflect.DeepEqual(first, second)
		},
		gen.Identifier(),
		gen.AlphaString(),
		gen.Float64Range(0, 10000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
