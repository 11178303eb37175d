package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// recencyRetention bounds how long markers are kept in the store. It only
// needs to exceed any freshness window a caller asks about.
const recencyRetention = 7 * 24 * time.Hour

// RecencyKey is the store key of a connection's last refresh time.
func RecencyKey(id uuid.UUID) string {
	return "recency-" + id.String()
}

// RecencyTracker records when each connection's base metrics were last
// refreshed. Markers live in a Store so they can be shared across instances.
type RecencyTracker struct {
	store Store
	clock clock.Clock
}

// NewRecencyTracker creates a tracker over store. A nil clock uses the wall clock.
func NewRecencyTracker(store Store, clk clock.Clock) *RecencyTracker {
	if clk == nil {
		clk = clock.New()
	}
	return &RecencyTracker{store: store, clock: clk}
}

// MarkRefreshed records that id was refreshed now.
func (r *RecencyTracker) MarkRefreshed(ctx context.Context, id uuid.UUID) error {
	now := r.clock.Now().UTC()
	if err := r.store.Set(ctx, RecencyKey(id), []byte(now.Format(time.RFC3339Nano)), recencyRetention); err != nil {
		return fmt.Errorf("failed to mark %s refreshed: %w", id, err)
	}
	return nil
}

// LastRefreshed returns the last refresh time of id. ok is false when id has
// no marker.
func (r *RecencyTracker) LastRefreshed(ctx context.Context, id uuid.UUID) (time.Time, bool, error) {
	raw, err := r.store.Get(ctx, RecencyKey(id))
	if errors.Is(err, ErrCacheMiss) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read refresh marker for %s: %w", id, err)
	}
	at, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, false, nil
	}
	return at, true, nil
}

// RefreshedWithin reports whether id was refreshed less than window ago.
func (r *RecencyTracker) RefreshedWithin(ctx context.Context, id uuid.UUID, window time.Duration) (bool, error) {
	at, ok, err := r.LastRefreshed(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	return r.clock.Since(at) < window, nil
}

// Clear removes the marker for id.
func (r *RecencyTracker) Clear(ctx context.Context, id uuid.UUID) error {
	return r.store.Delete(ctx, RecencyKey(id))
}
