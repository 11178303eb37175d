package metrics

import (
	"math"
	"time"

	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
)

// RoundTo rounds v to the given number of decimal places, half away from zero.
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// ConversionRate returns paid/total×100 rounded to 2 decimals.
// Returns nil when either input is unknown or total is zero.
func ConversionRate(total, paid *int64) *float64 {
	if total == nil || paid == nil || *total == 0 {
		return nil
	}
	rate := RoundTo(float64(*paid)/float64(*total)*100, 2)
	return &rate
}

// GrowthPercent returns (cur-prev)/prev×100 rounded to 1 decimal.
// Returns nil when the baseline is unknown or zero so callers never see
// Inf or NaN.
func GrowthPercent(prev, cur *int64) *float64 {
	if prev == nil || cur == nil || *prev == 0 {
		return nil
	}
	rate := RoundTo(float64(*cur-*prev)/float64(*prev)*100, 1)
	return &rate
}

// BaseMetrics are the cheap, long-lived counts mirrored onto the connection row.
type BaseMetrics struct {
	TotalUsers *int64
	PaidUsers  *int64
	// Err is non-nil when a value is missing because a query failed. Such
	// results must not overwrite persisted counts.
	Err error
}

// DetailedMetrics are recomputed on every cache miss.
type DetailedMetrics struct {
	NewSignups30d int64
	GrowthRate    *float64
}

// BuildSnapshot combines base and detailed metrics into the response shape.
func BuildSnapshot(base BaseMetrics, detailed DetailedMetrics, computedAt time.Time) models.MetricsSnapshot {
	return models.MetricsSnapshot{
		TotalUsers:        base.TotalUsers,
		PaidUsers:         base.PaidUsers,
		NewSignups30d:     detailed.NewSignups30d,
		ConversionRate:    ConversionRate(base.TotalUsers, base.PaidUsers),
		MonthlyGrowthRate: detailed.GrowthRate,
		GrowthRate:        detailed.GrowthRate,
		ComputedAt:        computedAt.UTC(),
	}
}
