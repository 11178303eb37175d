package models

import (
	"fmt"
	"time"
)

// MetricsSnapshot is the computed metrics for one connection.
type MetricsSnapshot struct {
	TotalUsers        *int64    `json:"total_users"`
	PaidUsers         *int64    `json:"paid_users"`
	NewSignups30d     int64     `json:"new_signups_30d"`
	ConversionRate    *float64  `json:"conversion_rate"`
	MonthlyGrowthRate *float64  `json:"monthly_growth_rate"`
	GrowthRate        *float64  `json:"growth_rate"` // Same value as MonthlyGrowthRate
	ComputedAt        time.Time `json:"computed_at"`
}

// TimeRange selects the window of a time series.
type TimeRange string

const (
	TimeRange7d  TimeRange = "7d"
	TimeRange30d TimeRange = "30d"
	TimeRangeAll TimeRange = "all"
)

// ParseTimeRange validates a time range string. An empty string means 30d.
func ParseTimeRange(s string) (TimeRange, error) {
	switch TimeRange(s) {
	case "":
		return TimeRange30d, nil
	case TimeRange7d, TimeRange30d, TimeRangeAll:
		return TimeRange(s), nil
	}
	return "", fmt.Errorf("invalid time range %q: must be one of 7d, 30d, all", s)
}

// Days returns the number of daily buckets for bounded ranges, or 0 for all.
func (r TimeRange) Days() int {
	switch r {
	case TimeRange7d:
		return 7
	case TimeRange30d:
		return 30
	}
	return 0
}

// Date is a calendar date serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to its UTC calendar day.
func NewDate(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(time.DateOnly) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("invalid date %s", b)
	}
	t, err := time.Parse(time.DateOnly, string(b[1:len(b)-1]))
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// GrowthPoint is the cumulative user count at the end of a bucket.
type GrowthPoint struct {
	Date  Date  `json:"date"`
	Users int64 `json:"users"`
}

// NewUsersPoint is the number of signups within a bucket.
type NewUsersPoint struct {
	Date     Date  `json:"date"`
	NewUsers int64 `json:"new_users"`
}

// WeeklyActivePoint is the number of users active in the 7 days ending at Date.
type WeeklyActivePoint struct {
	Date Date  `json:"date"`
	WAU  int64 `json:"wau"`
}

// SeriesKind names a time series.
type SeriesKind string

const (
	SeriesGrowth            SeriesKind = "growth"
	SeriesNewUsers          SeriesKind = "new-users"
	SeriesWeeklyActiveUsers SeriesKind = "weekly-active-users"
)

// SeriesKinds lists every series kind.
var SeriesKinds = []SeriesKind{SeriesGrowth, SeriesNewUsers, SeriesWeeklyActiveUsers}

// TimeRanges lists every time range.
var TimeRanges = []TimeRange{TimeRange7d, TimeRange30d, TimeRangeAll}

// ParseSeriesKind validates a series kind string.
func ParseSeriesKind(s string) (SeriesKind, error) {
	for _, k := range SeriesKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("invalid series kind %q: must be one of growth, new-users, weekly-active-users", s)
}
