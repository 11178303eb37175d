// Package metrics computes business metrics against tenant databases whose
// schema is not known in advance. Every metric degrades to nil, zero or an
// empty series instead of failing the request.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pulse/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pulse/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
)

// DefaultQueryTimeout bounds each metric query.
const DefaultQueryTimeout = 3 * time.Second

// growthWindowDays is the baseline offset for month-over-month growth.
const growthWindowDays = 30

// errSkipped marks a metric that had no usable table or column.
var errSkipped = errors.New("no matching table or column")

// Config configures the engine.
type Config struct {
	QueryTimeout time.Duration
}

// Engine creates metric sessions. It is safe for concurrent use.
type Engine struct {
	queryTimeout time.Duration
	clock        clock.Clock
	logger       *zap.Logger
}

// NewEngine creates an engine. A nil clock uses the wall clock.
func NewEngine(cfg Config, clk clock.Clock, logger *zap.Logger) *Engine {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		queryTimeout: cfg.QueryTimeout,
		clock:        clk,
		logger:       logger.Named("metrics-engine"),
	}
}

// QueryTimeout returns the per-metric timeout.
func (e *Engine) QueryTimeout() time.Duration {
	return e.queryTimeout
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// NewSession binds the engine to one tenant client. The session resolves the
// schema on first use. Sessions are not safe for concurrent use because a
// tenant client runs one statement at a time.
func (e *Engine) NewSession(q datasource.Querier, provider models.Provider, hints []string) *Session {
	return &Session{
		engine:   e,
		q:        q,
		resolver: NewResolver(provider, hints),
		logger:   e.logger,
	}
}

// Session runs metric queries against a single tenant client.
type Session struct {
	engine   *Engine
	q        datasource.Querier
	resolver *Resolver
	logger   *zap.Logger

	resolveOnce sync.Once
	schema      *Schema
	resolveErr  error
}

// WithLogger adds fields to the session logger.
func (s *Session) WithLogger(fields ...zap.Field) *Session {
	s.logger = s.logger.With(fields...)
	return s
}

// Schema returns the resolved schema. Resolution failure yields an empty
// schema so every metric falls back.
func (s *Session) Schema(ctx context.Context) *Schema {
	s.resolveOnce.Do(func() {
		err := s.run(ctx, "resolve_schema", func(ctx context.Context) error {
			schema, err := s.resolver.Resolve(ctx, s.q)
			if err != nil {
				return err
			}
			s.schema = schema
			return nil
		})
		if err != nil || s.schema == nil {
			s.schema = &Schema{}
		}
		s.resolveErr = err
		if s.schema.Users != nil {
			s.logger.Debug("Resolved users table",
				zap.String("table", s.schema.Users.Ref.String()),
				zap.String("created_column", s.schema.Users.CreatedColumn))
		}
	})
	return s.schema
}

// run executes fn under the per-query timeout, records it, and logs failures
// as query errors. Skipped metrics are not logged.
func (s *Session) run(ctx context.Context, metric string, fn func(ctx context.Context) error) error {
	queryCtx, cancel := context.WithTimeout(ctx, s.engine.queryTimeout)
	defer cancel()

	obs := startObservation(metric)
	err := fn(queryCtx)
	if err != nil && errors.Is(queryCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	outcome := obs.finish(err)

	if err != nil && outcome != outcomeSkipped {
		s.logger.Warn("Metric query failed",
			zap.String("metric", metric),
			zap.String("outcome", outcome),
			zap.Error(apperrors.NewQueryError(metric, err)))
	}
	return err
}

// count runs a single COUNT query.
func (s *Session) count(ctx context.Context, metric, sql string, args ...any) (*int64, error) {
	var n int64
	err := s.run(ctx, metric, func(ctx context.Context) error {
		return s.q.QueryRow(ctx, sql, args...).Scan(&n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// UserCount returns the number of users, excluding soft-deleted rows.
// Returns nil when no users table exists or the query fails.
func (s *Session) UserCount(ctx context.Context) *int64 {
	n, _ := s.userCount(ctx)
	return n
}

func (s *Session) userCount(ctx context.Context) (*int64, error) {
	users := s.Schema(ctx).Users
	if users == nil {
		s.skip("user_count")
		return nil, nil
	}
	return s.count(ctx, "user_count", userCountSQL(users))
}

// ActivePaidUsers returns the number of paying users using the first
// available signal: a boolean flag, a subscription status, a non-free plan
// column, or an active row in a subscriptions table.
// Returns nil when no signal exists or the query fails.
func (s *Session) ActivePaidUsers(ctx context.Context) *int64 {
	n, _ := s.activePaidUsers(ctx)
	return n
}

func (s *Session) activePaidUsers(ctx context.Context) (*int64, error) {
	sql, args, ok := paidUsersSQL(s.Schema(ctx))
	if !ok {
		s.skip("paid_users")
		return nil, nil
	}
	return s.count(ctx, "paid_users", sql, args...)
}

// NewSignups returns the number of users created in the trailing windowDays.
// Returns 0 when no creation column exists or the query fails.
func (s *Session) NewSignups(ctx context.Context, windowDays int) int64 {
	users := s.Schema(ctx).Users
	if users == nil || users.CreatedColumn == "" {
		s.skip("new_signups")
		return 0
	}
	since := s.engine.Now().UTC().AddDate(0, 0, -windowDays)
	n, err := s.count(ctx, "new_signups", createdSinceSQL(users), since)
	if err != nil {
		return 0
	}
	return *n
}

// GrowthRate compares the current user count with the count of users
// created more than 30 days ago. Returns nil when the baseline is zero or
// cannot be measured.
func (s *Session) GrowthRate(ctx context.Context) *float64 {
	users := s.Schema(ctx).Users
	if users == nil || users.CreatedColumn == "" {
		s.skip("growth_rate")
		return nil
	}

	current := s.UserCount(ctx)
	if current == nil {
		return nil
	}

	before := s.engine.Now().UTC().AddDate(0, 0, -growthWindowDays)
	previous, err := s.count(ctx, "growth_baseline", createdBeforeSQL(users), before)
	if err != nil {
		return nil
	}

	return GrowthPercent(previous, current)
}

// BaseMetrics computes total and paid users, in that order. Err is set when
// schema resolution or either query failed, as opposed to finding no
// matching table.
func (s *Session) BaseMetrics(ctx context.Context) BaseMetrics {
	s.Schema(ctx)
	total, totalErr := s.userCount(ctx)
	paid, paidErr := s.activePaidUsers(ctx)

	base := BaseMetrics{TotalUsers: total, PaidUsers: paid}
	if err := errors.Join(s.resolveErr, totalErr, paidErr); err != nil {
		base.Err = apperrors.NewQueryError("base_metrics", err)
	}
	return base
}

// DetailedMetrics computes 30-day signups and the growth rate.
func (s *Session) DetailedMetrics(ctx context.Context) DetailedMetrics {
	return DetailedMetrics{
		NewSignups30d: s.NewSignups(ctx, growthWindowDays),
		GrowthRate:    s.GrowthRate(ctx),
	}
}

// GrowthSeries returns cumulative users per bucket for rng.
func (s *Session) GrowthSeries(ctx context.Context, rng models.TimeRange) []models.GrowthPoint {
	users := s.Schema(ctx).Users
	if users == nil || users.CreatedColumn == "" {
		s.skip("growth_series")
		return []models.GrowthPoint{}
	}

	now := s.engine.Now()
	since := seriesStart(rng, now, 0)

	var baseline int64
	if rng != models.TimeRangeAll {
		n, err := s.count(ctx, "growth_series_baseline", createdBeforeSQL(users), since)
		if err != nil {
			return []models.GrowthPoint{}
		}
		baseline = *n
	}

	counts, err := s.dailyCounts(ctx, "growth_series", users, users.CreatedColumn, since)
	if err != nil {
		return []models.GrowthPoint{}
	}
	return BuildGrowthSeries(counts, baseline, rng, now)
}

// NewUsersSeries returns signups per bucket for rng.
func (s *Session) NewUsersSeries(ctx context.Context, rng models.TimeRange) []models.NewUsersPoint {
	users := s.Schema(ctx).Users
	if users == nil || users.CreatedColumn == "" {
		s.skip("new_users_series")
		return []models.NewUsersPoint{}
	}

	now := s.engine.Now()
	counts, err := s.dailyCounts(ctx, "new_users_series", users, users.CreatedColumn, seriesStart(rng, now, 0))
	if err != nil {
		return []models.NewUsersPoint{}
	}
	return BuildNewUsersSeries(counts, rng, now)
}

// WeeklyActiveUsersSeries returns weekly active users for rng. Activity is
// read from the last-activity column, or the creation column when the table
// has none.
func (s *Session) WeeklyActiveUsersSeries(ctx context.Context, rng models.TimeRange) []models.WeeklyActivePoint {
	users := s.Schema(ctx).Users
	column := ""
	if users != nil {
		column = users.ActivityColumn
		if column == "" {
			column = users.CreatedColumn
		}
	}
	if column == "" {
		s.skip("wau_series")
		return []models.WeeklyActivePoint{}
	}

	now := s.engine.Now()
	counts, err := s.dailyCounts(ctx, "wau_series", users, column, seriesStart(rng, now, wauWindowDays-1))
	if err != nil {
		return []models.WeeklyActivePoint{}
	}
	return BuildWeeklyActiveSeries(counts, rng, now)
}

func (s *Session) dailyCounts(ctx context.Context, metric string, users *UserTable, column string, since time.Time) ([]DayCount, error) {
	var counts []DayCount
	err := s.run(ctx, metric, func(ctx context.Context) error {
		rows, err := s.q.Query(ctx, dailyCountsSQL(users, column), since)
		if err != nil {
			return err
		}
		defer rows.Close()

		counts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (DayCount, error) {
			var c DayCount
			err := row.Scan(&c.Day, &c.Count)
			return c, err
		})
		return err
	})
	return counts, err
}

func (s *Session) skip(metric string) {
	queryCounter.WithLabelValues(metric, outcomeSkipped).Inc()
}
