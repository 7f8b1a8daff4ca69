package aggregate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var asOf = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sale(customer string, daysAgo float64, amount string) *domain.Sale {
	return &domain.Sale{
		CustomerID: customer,
		Date:       asOf.Add(-time.Duration(daysAgo * float64(24*time.Hour))),
		Amount:     decimal.RequireFromString(amount),
	}
}

func TestAggregate(t *testing.T) {
	sales := []*domain.Sale{
		sale("cust-b", 10, "19.99"),
		sale("cust-a", 3.5, "100.10"),
		sale("cust-a", 40, "0.20"),
		sale("cust-b", 2, "0.01"),
		sale("cust-a", 1, "50"),
	}

	metrics := Aggregate(asOf, 90, sales)
	require.Len(t, metrics, 2)

	a := metrics[0]
	assert.Equal(t, "cust-a", a.CustomerID)
	assert.Equal(t, 3, a.Frequency)
	assert.True(t, decimal.RequireFromString("150.30").Equal(a.Value), "got %s", a.Value)
	assert.Equal(t, 1, a.RecencyDays)
	assert.Equal(t, asOf.Add(-24*time.Hour), a.LastPurchaseDate)

	b := metrics[1]
	assert.Equal(t, "cust-b", b.CustomerID)
	assert.Equal(t, 2, b.Frequency)
	assert.True(t, decimal.RequireFromString("20.00").Equal(b.Value))
	assert.Equal(t, 2, b.RecencyDays)
}

func TestAggregate_WindowBounds(t *testing.T) {
	t.Run("CustomerOutsideWindowIsAbsent", func(t *testing.T) {
		metrics := Aggregate(asOf, 30, []*domain.Sale{
			sale("inside", 5, "10"),
			sale("outside", 31, "10"),
		})
		require.Len(t, metrics, 1)
		assert.Equal(t, "inside", metrics[0].CustomerID)
	})

	t.Run("BoundariesAreInclusive", func(t *testing.T) {
		metrics := Aggregate(asOf, 30, []*domain.Sale{
			sale("edge", 30, "1"),
			sale("now", 0, "1"),
		})
		require.Len(t, metrics, 2)
		assert.Equal(t, 30, metrics[0].RecencyDays)
		assert.Equal(t, 0, metrics[1].RecencyDays)
	})

	t.Run("FutureSalesIgnored", func(t *testing.T) {
		metrics := Aggregate(asOf, 30, []*domain.Sale{sale("later", -1, "10")})
		assert.Empty(t, metrics)
	})

	t.Run("OutOfWindowSaleDoesNotCount", func(t *testing.T) {
		metrics := Aggregate(asOf, 30, []*domain.Sale{
			sale("c", 5, "10"),
			sale("c", 45, "1000"),
		})
		require.Len(t, metrics, 1)
		assert.Equal(t, 1, metrics[0].Frequency)
		assert.True(t, decimal.NewFromInt(10).Equal(metrics[0].Value))
		assert.Equal(t, 5, metrics[0].RecencyDays)
	})
}

func TestAggregate_Empty(t *testing.T) {
	assert.Empty(t, Aggregate(asOf, 365, nil))
	assert.Empty(t, Aggregate(asOf, 365, []*domain.Sale{nil, {CustomerID: "", Date: asOf}}))
}

func TestRecencyDays(t *testing.T) {
	tests := []struct {
		last time.Time
		want int
	}{
		{asOf, 0},
		{asOf.Add(-23 * time.Hour), 0},
		{asOf.Add(-24 * time.Hour), 1},
		{asOf.Add(-47*time.Hour - 59*time.Minute), 1},
		{asOf.AddDate(0, 0, -400), 400},
		{asOf.Add(time.Hour), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RecencyDays(asOf, tt.last), "last=%s", tt.last)
	}
}

func TestWindow(t *testing.T) {
	from, to := Window(asOf, 7)
	assert.Equal(t, asOf.AddDate(0, 0, -7), from)
	assert.Equal(t, asOf, to)

	from, _ = Window(asOf, -3)
	assert.Equal(t, asOf, from)
}
