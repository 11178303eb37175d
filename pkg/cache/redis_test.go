package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
	"github.com/ekaya-inc/ekaya-pulse/pkg/testhelpers"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *redis.Client) {
	t.Helper()
	testRedis := testhelpers.GetTestRedis(t)

	client := redis.NewClient(&redis.Options{Addr: testRedis.Addr})
	t.Cleanup(func() { _ = client.Close() })

	// Unique prefix per test keeps runs independent on the shared container.
	return NewRedisStore(client, "test-"+uuid.NewString()+":"), client
}

func TestRedisStore_Integration(t *testing.T) {
	store, client := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	ttl, err := client.TTL(ctx, store.key("k")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)
	assert.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStore_Expiry_Integration(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("v"), time.Second))

	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, "short")
		return err == ErrCacheMiss
	}, 5*time.Second, 100*time.Millisecond)
}

func TestRedisStore_SharedBetweenCaches_Integration(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	id := uuid.New()

	// Two caches over the same store model two service instances.
	first := NewMetricsCache(store, nil, zap.NewNop())
	second := NewMetricsCache(store, nil, zap.NewNop())

	n := int64(12)
	_, err := first.GetOrCompute(ctx, id, time.Minute, func(context.Context) (*models.MetricsSnapshot, error) {
		return &models.MetricsSnapshot{TotalUsers: &n}, nil
	})
	require.NoError(t, err)

	got, err := second.GetOrCompute(ctx, id, time.Minute, func(context.Context) (*models.MetricsSnapshot, error) {
		t.Fatal("second instance should read the shared entry")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), *got.TotalUsers)

	tracker := NewRecencyTracker(store, nil)
	require.NoError(t, tracker.MarkRefreshed(ctx, id))
	fresh, err := NewRecencyTracker(store, nil).RefreshedWithin(ctx, id, time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh)
}
