package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-pulse/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pulse/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pulse/pkg/audit"
	"github.com/ekaya-inc/ekaya-pulse/pkg/cache"
	"github.com/ekaya-inc/ekaya-pulse/pkg/crypto"
	"github.com/ekaya-inc/ekaya-pulse/pkg/metrics"
	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
	"github.com/ekaya-inc/ekaya-pulse/pkg/retry"
	"github.com/ekaya-inc/ekaya-pulse/pkg/testhelpers"
)

// Test encryption key (at least 32 characters)
const testEncryptionKey = "test-key-for-unit-tests-32-bytes!!"

var fixtureNow = time.Date(2025, 3, 19, 12, 0, 0, 0, time.UTC)

// storedConnection is a row in mockConnectionRepository.
type storedConnection struct {
	conn        models.Connection
	encrypted   string
	fingerprint string
}

// mockConnectionRepository is an in-memory ConnectionRepository.
type mockConnectionRepository struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*storedConnection
	order []uuid.UUID

	listErr   error
	updateErr func(id uuid.UUID, attempt int) error

	updateCalls map[uuid.UUID]int
}

func newMockConnectionRepository() *mockConnectionRepository {
	return &mockConnectionRepository{
		rows:        make(map[uuid.UUID]*storedConnection),
		updateCalls: make(map[uuid.UUID]int),
	}
}

func (m *mockConnectionRepository) Create(ctx context.Context, conn *models.Connection, encryptedConnStr, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.fingerprint == fingerprint {
			return apperrors.ErrConflict
		}
	}
	conn.ID = uuid.New()
	conn.CreatedAt = fixtureNow
	conn.UpdatedAt = fixtureNow
	m.rows[conn.ID] = &storedConnection{conn: *conn, encrypted: encryptedConnStr, fingerprint: fingerprint}
	m.order = append(m.order, conn.ID)
	return nil
}

func (m *mockConnectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, "", apperrors.ErrNotFound
	}
	conn := row.conn
	return &conn, row.encrypted, nil
}

func (m *mockConnectionRepository) List(ctx context.Context) ([]*models.Connection, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, nil, m.listErr
	}
	var conns []*models.Connection
	var encrypted []string
	for _, id := range m.order {
		row := m.rows[id]
		conn := row.conn
		conns = append(conns, &conn)
		encrypted = append(encrypted, row.encrypted)
	}
	return conns, encrypted, nil
}

func (m *mockConnectionRepository) UpdateBaseMetrics(ctx context.Context, id uuid.UUID, totalUsers, paidUsers *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls[id]++
	if m.updateErr != nil {
		if err := m.updateErr(id, m.updateCalls[id]); err != nil {
			return err
		}
	}
	row, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	now := fixtureNow
	row.conn.TotalUsers = totalUsers
	row.conn.PaidUsers = paidUsers
	row.conn.MetricsUpdatedAt = &now
	return nil
}

func (m *mockConnectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.rows, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockConnectionRepository) get(id uuid.UUID) storedConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

func (m *mockConnectionRepository) updates(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCalls[id]
}

// mockConnector hands out fake tenant clients and tracks how many are open.
type mockConnector struct {
	mu         sync.Mutex
	open       int
	maxOpen    int
	connects   map[string]int
	clients    []*mockTenantClient
	connectErr map[string]error // by host
	testErr    error
	tests      int

	// holdOpen keeps each connection open this long after connecting.
	holdOpen time.Duration
	// tenant builds the querier for a host; nil uses standardTenant.
	tenant func(host string) *testhelpers.FakeQuerier
}

func newMockConnector() *mockConnector {
	return &mockConnector{
		connects:   make(map[string]int),
		connectErr: make(map[string]error),
	}
}

func (m *mockConnector) Connect(ctx context.Context, creds *datasource.Credentials) (datasource.TenantClient, error) {
	m.mu.Lock()
	m.connects[creds.Host]++
	if err := m.connectErr[creds.Host]; err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.open++
	if m.open > m.maxOpen {
		m.maxOpen = m.open
	}
	q := standardTenant()
	if m.tenant != nil {
		q = m.tenant(creds.Host)
	}
	client := &mockTenantClient{FakeQuerier: q, connector: m, host: creds.Host}
	m.clients = append(m.clients, client)
	m.mu.Unlock()

	if m.holdOpen > 0 {
		time.Sleep(m.holdOpen)
	}
	return client, nil
}

func (m *mockConnector) TestConnection(ctx context.Context, creds *datasource.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests++
	return m.testErr
}

func (m *mockConnector) connectCount(host string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects[host]
}

func (m *mockConnector) stats() (open, maxOpen int, clients []*mockTenantClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open, m.maxOpen, append([]*mockTenantClient(nil), m.clients...)
}

// mockTenantClient counts Close calls.
type mockTenantClient struct {
	*testhelpers.FakeQuerier
	connector *mockConnector
	host      string
	closes    atomic.Int32
}

func (c *mockTenantClient) Close(ctx context.Context) error {
	c.closes.Add(1)
	c.connector.mu.Lock()
	c.connector.open--
	c.connector.mu.Unlock()
	return nil
}

// standardTenant answers every metric query for a users table with
// created_at, deleted_at and is_paid columns: 150 users, 30 paid, 12 recent
// signups, 100 users a month ago.
func standardTenant() *testhelpers.FakeQuerier {
	return testhelpers.NewFakeQuerier().
		On("information_schema.columns", testhelpers.Response{Rows: [][]any{
			{"public", "users", "id", "uuid"},
			{"public", "users", "created_at", "timestamp with time zone"},
			{"public", "users", "deleted_at", "timestamp with time zone"},
			{"public", "users", "is_paid", "boolean"},
		}}).
		On("::date", testhelpers.Response{Rows: [][]any{}}).
		On("= true", testhelpers.Response{Rows: [][]any{{int64(30)}}}).
		On(">= $1", testhelpers.Response{Rows: [][]any{{int64(12)}}}).
		On("< $1", testhelpers.Response{Rows: [][]any{{int64(100)}}}).
		On("SELECT COUNT(*)", testhelpers.Response{Rows: [][]any{{int64(150)}}})
}

// blockingTenant resolves a users table, then hangs on every metric query.
func blockingTenant() *testhelpers.FakeQuerier {
	return testhelpers.NewFakeQuerier().
		On("information_schema.columns", testhelpers.Response{Rows: [][]any{
			{"public", "users", "created_at", "timestamp with time zone"},
			{"public", "users", "is_paid", "boolean"},
		}}).
		On("SELECT", testhelpers.Response{Block: true})
}

// serviceFixture wires services to in-memory fakes.
type serviceFixture struct {
	repo      *mockConnectionRepository
	connector *mockConnector
	encryptor *crypto.CredentialEncryptor
	clock     *clock.Mock
	store     *cache.MemoryStore
	cache     *cache.MetricsCache
	recency   *cache.RecencyTracker
	engine    *metrics.Engine
	cfg       MetricsConfig

	auditLogger *zap.Logger
	auditLogs   *observer.ObservedLogs
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	encryptor, err := crypto.NewCredentialEncryptor(testEncryptionKey)
	require.NoError(t, err)

	mock := clock.NewMock()
	mock.Set(fixtureNow)

	store, err := cache.NewMemoryStore(100, mock)
	require.NoError(t, err)

	auditCore, auditLogs := observer.New(zapcore.DebugLevel)

	return &serviceFixture{
		repo:      newMockConnectionRepository(),
		connector: newMockConnector(),
		encryptor: encryptor,
		clock:     mock,
		store:     store,
		cache:     cache.NewMetricsCache(store, mock, zap.NewNop()),
		recency:   cache.NewRecencyTracker(store, mock),
		engine:    metrics.NewEngine(metrics.Config{QueryTimeout: time.Second}, mock, zap.NewNop()),
		cfg: MetricsConfig{
			CacheTTL:      15 * time.Minute,
			BaseFreshness: 2 * time.Hour,
			PersistRetry: &retry.Config{
				MaxRetries:   3,
				InitialDelay: time.Millisecond,
				MaxDelay:     5 * time.Millisecond,
				Multiplier:   2,
			},
		},
		auditLogger: zap.New(auditCore),
		auditLogs:   auditLogs,
	}
}

func connString(host string) string {
	return fmt.Sprintf("postgres://app:s3cret@%s:5432/app", host)
}

// addConnection stores a connection to host, encrypted like Create does.
func (f *serviceFixture) addConnection(t *testing.T, host string) *models.Connection {
	t.Helper()
	encrypted, err := f.encryptor.Encrypt(connString(host))
	require.NoError(t, err)

	conn := &models.Connection{ProjectName: host, Provider: models.ProviderPostgres}
	require.NoError(t, f.repo.Create(context.Background(), conn, encrypted, host))
	return conn
}

func (f *serviceFixture) metricsService() MetricsService {
	return NewMetricsService(f.repo, f.encryptor, f.connector, f.engine, f.cache, f.recency, f.cfg, zap.NewNop())
}

func (f *serviceFixture) connectionService() ConnectionService {
	return NewConnectionService(f.repo, f.encryptor, f.connector, f.cache, f.recency, audit.NewSecurityAuditor(f.auditLogger), zap.NewNop())
}

func (f *serviceFixture) refresher() BatchRefresher {
	return NewBatchRefresher(f.repo, f.encryptor, f.connector, f.engine, f.cache, f.recency, f.cfg, zap.NewNop())
}

// hosts returns n tenant host names, tenant-1 first.
func hosts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("tenant-%d.example.com", i+1)
	}
	return out
}
