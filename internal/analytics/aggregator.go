// Package analytics derives dashboard statistics from cart history.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/imrishuroy/go-cart-recovery/internal/carts"
)

const (
	DefaultWindowDays = 30
	RecentLimit       = 50
	ActiveWindow      = 5 * time.Minute
	ActiveLimit       = 100
	TopProductsLimit  = 5
)

// Repository is the read side of the cart store.
type Repository interface {
	ListCreatedSince(ctx context.Context, shop string, since time.Time) ([]carts.CartRecord, error)
	ListActiveSince(ctx context.Context, shop string, since time.Time) ([]carts.CartRecord, error)
}

// Totals are the headline figures over the whole window. Money values are
// rounded half-up to cents.
type Totals struct {
	TotalCarts       int     `json:"totalCarts"`
	TotalRevenue     float64 `json:"totalRevenue"`
	AvgCartValue     float64 `json:"avgCartValue"`
	ActiveCount      int     `json:"activeCount"`
	AbandonedCount   int     `json:"abandonedCount"`
	RecoveredCount   int     `json:"recoveredCount"`
	ConvertedCount   int     `json:"convertedCount"`
	RecoveryRate     int     `json:"recoveryRate"`
	AbandonedRevenue float64 `json:"abandonedRevenue"`
}

// StatusStat is the count and revenue of carts in one status.
type StatusStat struct {
	Status  carts.Status `json:"status"`
	Count   int          `json:"count"`
	Revenue float64      `json:"revenue"`
}

// DailyPoint is one UTC day of the series.
type DailyPoint struct {
	Date      string  `json:"date"`
	Carts     int     `json:"carts"`
	Abandoned int     `json:"abandoned"`
	Revenue   float64 `json:"revenue"`
}

// ProductStat is a product ranked by units sold across carts.
type ProductStat struct {
	Title    string  `json:"title"`
	Quantity int     `json:"quantity"`
	Revenue  float64 `json:"revenue"`
}

// Summary is the dashboard view of one shop.
//
// Daily and RecentCarts cover only the RecentLimit most recent carts while
// Totals and ByStatus cover the whole window, so they disagree once the
// window holds more carts than that.
type Summary struct {
	WindowDays  int                `json:"windowDays"`
	Totals      Totals             `json:"summary"`
	ByStatus    []StatusStat       `json:"byStatus"`
	Daily       []DailyPoint       `json:"dailyData"`
	RecentCarts []carts.CartRecord `json:"recentCarts"`
	TopProducts []ProductStat      `json:"topProducts"`
}

// Aggregator computes Summary values from the cart store.
type Aggregator struct {
	repo    Repository
	nowFunc func() time.Time
}

// NewAggregator returns an Aggregator reading from repo.
func NewAggregator(repo Repository) *Aggregator {
	return &Aggregator{
		repo:    repo,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Summary aggregates carts created in the last windowDays days. A
// non-positive window means DefaultWindowDays.
func (a *Aggregator) Summary(ctx context.Context, shop string, windowDays int) (*Summary, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	since := a.nowFunc().Add(-time.Duration(windowDays) * 24 * time.Hour)
	records, err := a.repo.ListCreatedSince(ctx, shop, since)
	if err != nil {
		return nil, fmt.Errorf("list carts since %s: %w", since.Format(time.RFC3339), err)
	}
	return summarize(windowDays, records), nil
}

func summarize(windowDays int, records []carts.CartRecord) *Summary {
	var totalCents int64
	countBy := make(map[carts.Status]int, len(carts.AllStatuses))
	centsBy := make(map[carts.Status]int64, len(carts.AllStatuses))
	for _, r := range records {
		c := cents(r.TotalPrice)
		totalCents += c
		countBy[r.Status]++
		centsBy[r.Status] += c
	}

	t := Totals{
		TotalCarts:       len(records),
		TotalRevenue:     fromCents(totalCents),
		ActiveCount:      countBy[carts.StatusActive],
		AbandonedCount:   countBy[carts.StatusAbandoned],
		RecoveredCount:   countBy[carts.StatusRecovered],
		ConvertedCount:   countBy[carts.StatusConverted],
		AbandonedRevenue: fromCents(centsBy[carts.StatusAbandoned]),
	}
	if t.TotalCarts > 0 {
		t.AvgCartValue = math.Round(float64(totalCents)/float64(t.TotalCarts)) / 100
	}
	if t.AbandonedCount > 0 {
		t.RecoveryRate = int(math.Round(float64(t.RecoveredCount) / float64(t.AbandonedCount) * 100))
	}

	byStatus := make([]StatusStat, 0, len(carts.AllStatuses))
	for _, s := range carts.AllStatuses {
		byStatus = append(byStatus, StatusStat{Status: s, Count: countBy[s], Revenue: fromCents(centsBy[s])})
	}

	recent := mostRecent(records, RecentLimit)
	return &Summary{
		WindowDays:  windowDays,
		Totals:      t,
		ByStatus:    byStatus,
		Daily:       daily(recent),
		RecentCarts: recent,
		TopProducts: topProducts(records, TopProductsLimit),
	}
}

// mostRecent returns up to n records, newest createdAt first.
func mostRecent(records []carts.CartRecord, n int) []carts.CartRecord {
	sorted := append([]carts.CartRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].CartToken < sorted[j].CartToken
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	if sorted == nil {
		sorted = []carts.CartRecord{}
	}
	return sorted
}

// daily buckets records by UTC calendar day of createdAt, ascending.
func daily(records []carts.CartRecord) []DailyPoint {
	type bucket struct {
		carts, abandoned int
		cents            int64
	}
	buckets := map[string]*bucket{}
	for _, r := range records {
		day := r.CreatedAt.UTC().Format("2006-01-02")
		b, ok := buckets[day]
		if !ok {
			b = &bucket{}
			buckets[day] = b
		}
		b.carts++
		if r.Status == carts.StatusAbandoned {
			b.abandoned++
		}
		b.cents += cents(r.TotalPrice)
	}

	out := make([]DailyPoint, 0, len(buckets))
	for day, b := range buckets {
		out = append(out, DailyPoint{Date: day, Carts: b.carts, Abandoned: b.abandoned, Revenue: fromCents(b.cents)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// topProducts ranks line-item titles by quantity across records.
func topProducts(records []carts.CartRecord, n int) []ProductStat {
	type acc struct {
		qty   int
		cents int64
	}
	byTitle := map[string]*acc{}
	for _, r := range records {
		for _, li := range r.LineItems {
			if li.Title == "" {
				continue
			}
			a, ok := byTitle[li.Title]
			if !ok {
				a = &acc{}
				byTitle[li.Title] = a
			}
			qty := li.Quantity
			if qty <= 0 {
				qty = 1
			}
			a.qty += qty
			a.cents += cents(li.Price) * int64(qty)
		}
	}

	out := make([]ProductStat, 0, len(byTitle))
	for title, a := range byTitle {
		out = append(out, ProductStat{Title: title, Quantity: a.qty, Revenue: fromCents(a.cents)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		return out[i].Title < out[j].Title
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// ActiveCarts returns carts that are active and were updated in the last
// ActiveWindow, newest first, at most ActiveLimit of them.
func (a *Aggregator) ActiveCarts(ctx context.Context, shop string) ([]carts.CartRecord, error) {
	since := a.nowFunc().Add(-ActiveWindow)
	records, err := a.repo.ListActiveSince(ctx, shop, since)
	if err != nil {
		return nil, fmt.Errorf("list active carts: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	if len(records) > ActiveLimit {
		records = records[:ActiveLimit]
	}
	if records == nil {
		records = []carts.CartRecord{}
	}
	return records, nil
}

// cents converts a price to integer cents, rounding half away from zero on
// the price's shortest decimal form, so 1.005 becomes 101 rather than the
// 100 that float multiplication yields.
func cents(v float64) int64 {
	digits := strconv.FormatFloat(math.Abs(v), 'f', -1, 64)
	whole, frac, _ := strings.Cut(digits, ".")
	frac += "000"
	w, _ := strconv.ParseInt(whole, 10, 64)
	c := w*100 + int64(frac[0]-'0')*10 + int64(frac[1]-'0')
	if frac[2] >= '5' {
		c++
	}
	if v < 0 {
		return -c
	}
	return c
}

func fromCents(c int64) float64 { return float64(c) / 100 }
