package metrics

import (
	"time"

	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
)

const (
	day  = 24 * time.Hour
	week = 7 * day

	// wauWindowDays is the length of the rolling weekly-active window.
	wauWindowDays = 7
)

// DayCount is the number of rows whose timestamp falls on Day (UTC).
type DayCount struct {
	Day   time.Time
	Count int64
}

// Buckets are contiguous calendar buckets. Starts[i] labels bucket i.
type Buckets struct {
	Starts []time.Time
	Totals []int64
}

// truncateDay returns midnight UTC of t's calendar day.
func truncateDay(t time.Time) time.Time {
	return models.NewDate(t).Time
}

// weekStart returns midnight UTC of the Monday of t's ISO week.
func weekStart(t time.Time) time.Time {
	d := truncateDay(t)
	offset := (int(d.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return d.AddDate(0, 0, -offset)
}

// dailyRange returns n consecutive days ending at end's calendar day.
func dailyRange(end time.Time, n int) []time.Time {
	last := truncateDay(end)
	days := make([]time.Time, n)
	for i := range days {
		days[i] = last.AddDate(0, 0, i-n+1)
	}
	return days
}

// seriesStart is the lower bound of the SQL scan for a bounded range,
// extended by lookbackDays for rolling windows.
func seriesStart(rng models.TimeRange, now time.Time, lookbackDays int) time.Time {
	if rng == models.TimeRangeAll {
		return time.Time{}
	}
	return dailyRange(now, rng.Days())[0].AddDate(0, 0, -lookbackDays)
}

// countsByDay indexes counts by UTC day, merging duplicates.
func countsByDay(counts []DayCount) map[time.Time]int64 {
	m := make(map[time.Time]int64, len(counts))
	for _, c := range counts {
		m[truncateDay(c.Day)] += c.Count
	}
	return m
}

// FillDaily places counts into the given days. Days without rows get zero.
func FillDaily(counts []DayCount, days []time.Time) []int64 {
	byDay := countsByDay(counts)
	out := make([]int64, len(days))
	for i, d := range days {
		out[i] = byDay[d]
	}
	return out
}

// BucketWeekly sums counts into Monday-start weeks from the first week with
// data through the week containing end. Empty input yields no buckets; counts
// after end are dropped.
func BucketWeekly(counts []DayCount, end time.Time) Buckets {
	if len(counts) == 0 {
		return Buckets{}
	}

	first := weekStart(counts[0].Day)
	for _, c := range counts[1:] {
		if ws := weekStart(c.Day); ws.Before(first) {
			first = ws
		}
	}
	last := weekStart(end)
	if last.Before(first) {
		return Buckets{}
	}

	n := int(last.Sub(first)/week) + 1
	b := Buckets{Starts: make([]time.Time, n), Totals: make([]int64, n)}
	for i := range b.Starts {
		b.Starts[i] = first.AddDate(0, 0, 7*i)
	}
	for _, c := range counts {
		i := int(weekStart(c.Day).Sub(first) / week)
		if i >= 0 && i < n {
			b.Totals[i] += c.Count
		}
	}
	return b
}

// Cumulative returns running totals starting from baseline.
func Cumulative(baseline int64, values []int64) []int64 {
	out := make([]int64, len(values))
	sum := baseline
	for i, v := range values {
		sum += v
		out[i] = sum
	}
	return out
}

// RollingSum returns, for each index i ≥ window-1, the sum of values[i-window+1..i].
// The first window-1 values only seed the window.
func RollingSum(values []int64, window int) []int64 {
	if window < 1 || len(values) < window {
		return nil
	}
	out := make([]int64, 0, len(values)-window+1)
	var sum int64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out = append(out, sum)
		}
	}
	return out
}

// BuildGrowthSeries turns signups per day into cumulative user counts.
// baseline is the number of users created before the first bucket.
func BuildGrowthSeries(counts []DayCount, baseline int64, rng models.TimeRange, now time.Time) []models.GrowthPoint {
	starts, totals := bucketize(counts, rng, now)
	cumulative := Cumulative(baseline, totals)

	points := make([]models.GrowthPoint, len(starts))
	for i, s := range starts {
		points[i] = models.GrowthPoint{Date: models.NewDate(s), Users: cumulative[i]}
	}
	return points
}

// BuildNewUsersSeries turns signups per day into per-bucket signup counts.
func BuildNewUsersSeries(counts []DayCount, rng models.TimeRange, now time.Time) []models.NewUsersPoint {
	starts, totals := bucketize(counts, rng, now)

	points := make([]models.NewUsersPoint, len(starts))
	for i, s := range starts {
		points[i] = models.NewUsersPoint{Date: models.NewDate(s), NewUsers: totals[i]}
	}
	return points
}

// BuildWeeklyActiveSeries turns activity per day into weekly active users.
// Bounded ranges get one point per day counting the trailing 7 days; counts
// must therefore cover 6 days before the range. The all range gets one point
// per calendar week.
func BuildWeeklyActiveSeries(counts []DayCount, rng models.TimeRange, now time.Time) []models.WeeklyActivePoint {
	if rng == models.TimeRangeAll {
		b := BucketWeekly(counts, now)
		points := make([]models.WeeklyActivePoint, len(b.Starts))
		for i, s := range b.Starts {
			points[i] = models.WeeklyActivePoint{Date: models.NewDate(s), WAU: b.Totals[i]}
		}
		return points
	}

	n := rng.Days()
	days := dailyRange(now, n+wauWindowDays-1)
	rolling := RollingSum(FillDaily(counts, days), wauWindowDays)

	points := make([]models.WeeklyActivePoint, n)
	for i := range points {
		points[i] = models.WeeklyActivePoint{
			Date: models.NewDate(days[i+wauWindowDays-1]),
			WAU:  rolling[i],
		}
	}
	return points
}

// bucketize returns daily buckets for bounded ranges and weekly buckets for all.
func bucketize(counts []DayCount, rng models.TimeRange, now time.Time) ([]time.Time, []int64) {
	if rng == models.TimeRangeAll {
		b := BucketWeekly(counts, now)
		return b.Starts, b.Totals
	}
	days := dailyRange(now, rng.Days())
	return days, FillDaily(counts, days)
}
