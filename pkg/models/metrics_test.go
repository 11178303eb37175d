package models

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeRange(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeRange
		wantErr bool
	}{
		{in: "7d", want: TimeRange7d},
		{in: "30d", want: TimeRange30d},
		{in: "all", want: TimeRangeAll},
		{in: "", want: TimeRange30d},
		{in: "90d", wantErr: true},
		{in: "ALL", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeRange(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDate_JSON(t *testing.T) {
	p := GrowthPoint{Date: NewDate(time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)), Users: 42}

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2026-03-09","users":42}`, string(b))

	var decoded GrowthPoint
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.True(t, decoded.Date.Equal(p.Date.Time))
}

func TestResponseModels_UseSnakeCaseKeys(t *testing.T) {
	total, paid := int64(10), int64(2)
	values := map[string]any{
		"snapshot":   MetricsSnapshot{TotalUsers: &total, PaidUsers: &paid},
		"new users":  NewUsersPoint{NewUsers: 1},
		"result":     RefreshResult{ConnectionID: uuid.New(), TotalUsers: &total, PaidUsers: &paid, Error: "x"},
		"report":     NewRefreshReport(nil),
		"connection": Connection{SelectedTables: []string{"public.users"}},
	}
	snakeCase := regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)

	for name, v := range values {
		t.Run(name, func(t *testing.T) {
			b, err := json.Marshal(v)
			require.NoError(t, err)

			var fields map[string]any
			require.NoError(t, json.Unmarshal(b, &fields))
			require.NotEmpty(t, fields)
			for key := range fields {
				assert.Regexp(t, snakeCase, key)
			}
		})
	}

	b, err := json.Marshal(MetricsSnapshot{TotalUsers: &total})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"total_users":10`)
	assert.Contains(t, string(b), `"monthly_growth_rate":null`)
}

func TestNewDate_UsesUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	d := NewDate(time.Date(2026, 3, 10, 5, 0, 0, 0, loc))
	assert.Equal(t, "2026-03-09", d.Format(time.DateOnly))
}

func TestNewRefreshReport(t *testing.T) {
	ok := uuid.New()
	bad := uuid.New()

	report := NewRefreshReport([]RefreshResult{
		{ConnectionID: ok, Success: true},
		{ConnectionID: bad, Success: false, Error: "connection refused"},
	})

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{bad.String()}, report.FailedIDs())

	empty := NewRefreshReport(nil)
	assert.NotNil(t, empty.Results)
	assert.Zero(t, empty.Total)
}

func TestParseSeriesKind(t *testing.T) {
	for _, k := range SeriesKinds {
		got, err := ParseSeriesKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseSeriesKind("wau")
	assert.Error(t, err)
}
