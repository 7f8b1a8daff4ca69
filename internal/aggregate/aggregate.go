// Package aggregate folds sales records into per-customer RFV metrics.
package aggregate

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Window returns the inclusive range [asOf - windowDays, asOf].
func Window(asOf time.Time, windowDays int) (from, to time.Time) {
	if windowDays < 0 {
		windowDays = 0
	}
	return asOf.AddDate(0, 0, -windowDays), asOf
}

// InWindow reports whether t falls inside the inclusive window.
func InWindow(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

type accumulator struct {
	count int
	total decimal.Decimal
	last  time.Time
}

// Aggregate computes CustomerMetrics for every customer with at least one
// sale inside the window. Sales outside it and nil entries are ignored, so
// callers may pass unfiltered data. Results are ordered by customer id.
func Aggregate(asOf time.Time, windowDays int, sales []*domain.Sale) []domain.CustomerMetrics {
	from, to := Window(asOf, windowDays)

	byCustomer := make(map[string]*accumulator)
	for _, s := range sales {
		if s == nil || s.CustomerID == "" || !InWindow(s.Date, from, to) {
			continue
		}
		acc, ok := byCustomer[s.CustomerID]
		if !ok {
			acc = &accumulator{last: s.Date}
			byCustomer[s.CustomerID] = acc
		}
		acc.count++
		acc.total = acc.total.Add(s.Amount)
		if s.Date.After(acc.last) {
			acc.last = s.Date
		}
	}

	out := make([]domain.CustomerMetrics, 0, len(byCustomer))
	for id, acc := range byCustomer {
		out = append(out, domain.CustomerMetrics{
			CustomerID:       id,
			RecencyDays:      RecencyDays(asOf, acc.last),
			Frequency:        acc.count,
			Value:            acc.total,
			LastPurchaseDate: acc.last,
		})
	}
	slices.SortFunc(out, func(a, b domain.CustomerMetrics) int {
		return strings.Compare(a.CustomerID, b.CustomerID)
	})
	return out
}

// RecencyDays is the number of whole days between last and asOf.
func RecencyDays(asOf, last time.Time) int {
	d := asOf.Sub(last)
	if d <= 0 {
		return 0
	}
	return int(math.Floor(d.Hours() / 24))
}
