package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
)

// mockConnectionService is a configurable services.ConnectionService.
type mockConnectionService struct {
	created     *models.CreatedConnection
	connection  *models.Connection
	connections []*models.Connection
	err         error

	lastConnStr string
	lastTables  []string
	lastID      uuid.UUID
}

func (m *mockConnectionService) Create(ctx context.Context, connectionString string, selectedTables []string) (*models.CreatedConnection, error) {
	m.lastConnStr = connectionString
	m.lastTables = selectedTables
	if m.err != nil {
		return nil, m.err
	}
	return m.created, nil
}

func (m *mockConnectionService) Get(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	m.lastID = id
	if m.err != nil {
		return nil, m.err
	}
	return m.connection, nil
}

func (m *mockConnectionService) List(ctx context.Context) ([]*models.Connection, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.connections, nil
}

func (m *mockConnectionService) Delete(ctx context.Context, id uuid.UUID) error {
	m.lastID = id
	return m.err
}

// mockMetricsService is a configurable services.MetricsService.
type mockMetricsService struct {
	snapshot *models.MetricsSnapshot
	growth   []models.GrowthPoint
	newUsers []models.NewUsersPoint
	wau      []models.WeeklyActivePoint
	err      error

	lastForce bool
	lastRange models.TimeRange
	lastKind  models.SeriesKind
}

func (m *mockMetricsService) GetMetrics(ctx context.Context, id uuid.UUID, force bool) (*models.MetricsSnapshot, error) {
	m.lastForce = force
	if m.err != nil {
		return nil, m.err
	}
	return m.snapshot, nil
}

func (m *mockMetricsService) GetGrowthSeries(ctx context.Context, id uuid.UUID, rng models.TimeRange) ([]models.GrowthPoint, error) {
	m.lastKind, m.lastRange = models.SeriesGrowth, rng
	return m.growth, m.err
}

func (m *mockMetricsService) GetNewUsersSeries(ctx context.Context, id uuid.UUID, rng models.TimeRange) ([]models.NewUsersPoint, error) {
	m.lastKind, m.lastRange = models.SeriesNewUsers, rng
	return m.newUsers, m.err
}

func (m *mockMetricsService) GetWeeklyActiveUsersSeries(ctx context.Context, id uuid.UUID, rng models.TimeRange) ([]models.WeeklyActivePoint, error) {
	m.lastKind, m.lastRange = models.SeriesWeeklyActiveUsers, rng
	return m.wau, m.err
}

// mockTrigger records refresh triggers.
type mockTrigger struct {
	report *models.RefreshReport
	err    error
	calls  int

	lastConcurrency int
	lastForce       bool
}

func (m *mockTrigger) Trigger(ctx context.Context, concurrency int, force bool) (*models.RefreshReport, error) {
	m.calls++
	m.lastConcurrency = concurrency
	m.lastForce = force
	if m.err != nil {
		return nil, m.err
	}
	return m.report, nil
}
