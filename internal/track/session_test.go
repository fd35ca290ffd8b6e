package track

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"companion-tracking-backend/internal/feed"
	"companion-tracking-backend/internal/model"
	"companion-tracking-backend/internal/status"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (d *fakeDispatcher) Dispatch(n model.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.TrackingRecord{}))
	return db
}

func newTestStore(t *testing.T) (*Store, *feed.MemoryFeed, *fakeDispatcher) {
	t.Helper()
	f := feed.NewMemoryFeed()
	d := &fakeDispatcher{}
	return NewStore("c1", newTestDB(t), f, d), f, d
}

func testDest() model.Destination {
	return model.Destination{Lat: 1, Lon: 2, Address: "X"}
}

func TestStartSessionRequiresIdentity(t *testing.T) {
	s := NewStore("", newTestDB(t), feed.NewMemoryFeed(), nil)
	_, err := s.StartSession(context.Background(), "l1", "t1", "r1", testDest())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestStartSessionIsIdempotentPerRide(t *testing.T) {
	s, f, _ := newTestStore(t)
	ctx := context.Background()

	id1, err := s.StartSession(ctx, "l1", "t1", "r1", testDest())
	require.NoError(t, err)
	id2, err := s.StartSession(ctx, "l1", "t1", "r1", testDest())
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "a second start for the same ride returns the existing session")

	_, found, err := f.Get(ctx, feed.LiveTrackingPath("c1", "r1"))
	require.NoError(t, err)
	assert.True(t, found, "session record should be persisted to the live feed")
}

func TestApplyUpdateUnknownRide(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.ApplyUpdate(context.Background(), "ghost", "accepted", nil, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestApplyUpdateNotifiesAtMostOncePerStatus(t *testing.T) {
	s, _, d := newTestStore(t)
	ctx := context.Background()

	_, err := s.StartSession(ctx, "l1", "t1", "r1", testDest())
	require.NoError(t, err)

	// At-least-once upstream delivery: duplicates for every transition.
	for _, upstream := range []string{"accepted", "accepted", "started", "started", "completed"} {
		_, err := s.ApplyUpdate(ctx, "r1", upstream, nil, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, d.count(), "exactly one dispatch per distinct canonical status")

	sess, ok := s.GetByID("r1")
	require.True(t, ok)
	assert.Equal(t, status.Completed, sess.Status)
	assert.True(t, sess.Flags.RideStarted)
	assert.True(t, sess.Flags.RideInProgress)
	assert.True(t, sess.Flags.RideCompleted)
	assert.False(t, sess.Flags.RideCancelled)
	assert.NotNil(t, sess.EndTime)
}

func TestApplyUpdateCarriesLocationAndETA(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.StartSession(ctx, "l1", "t1", "r1", testDest())
	require.NoError(t, err)

	eta := time.Now().UTC().Add(10 * time.Minute)
	loc := &model.Location{Lat: 3.5, Lon: 4.5, Timestamp: time.Now().UTC()}
	sess, err := s.ApplyUpdate(ctx, "r1", "started", loc, &eta)
	require.NoError(t, err)

	assert.Equal(t, status.InProgress, sess.Status)
	require.NotNil(t, sess.CurrentLocation)
	assert.Equal(t, 3.5, sess.CurrentLocation.Lat)
	require.NotNil(t, sess.EstimatedArrival)
	assert.Equal(t, eta.Unix(), sess.EstimatedArrival.Unix())

	// A later update without location keeps the last known one.
	sess, err = s.ApplyUpdate(ctx, "r1", "in_progress", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, sess.CurrentLocation)
	assert.Equal(t, 3.5, sess.CurrentLocation.Lat)
}

func TestStopSessionMovesToHistory(t *testing.T) {
	s, _, d := newTestStore(t)
	ctx := context.Background()

	_, err := s.StartSession(ctx, "l1", "t1", "r1", testDest())
	require.NoError(t, err)
	require.Len(t, s.GetActive(), 1)

	require.NoError(t, s.StopSession(ctx, "r1", status.Cancelled))

	assert.Empty(t, s.GetActive(), "stopped session leaves the active set")

	history := s.GetHistory(ctx, 10)
	require.Len(t, history, 1)
	assert.Equal(t, status.Cancelled, history[0].Status)
	assert.NotNil(t, history[0].EndTime)

	// Companion-initiated stop does not notify, and a late feed echo of the
	// terminal state must not either.
	assert.Equal(t, 0, d.count())
	_, err = s.ApplyUpdate(ctx, "r1", "cancelled", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, d.count())
}

func TestStopSessionRejectsNonTerminalReason(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.StartSession(ctx, "l1", "t1", "r1", testDest())
	require.NoError(t, err)

	assert.ErrorIs(t, s.StopSession(ctx, "r1", status.Tracking), ErrBadStopReason)
	assert.ErrorIs(t, s.StopSession(ctx, "ghost", status.Completed), ErrSessionNotFound)
}

func TestGetHistoryOrderAndLimit(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	for i, rideID := range []string{"r1", "r2", "r3"} {
		_, err := s.StartSession(ctx, "l1", "t1", rideID, testDest())
		require.NoError(t, err)
		require.NoError(t, s.StopSession(ctx, rideID, status.Completed))
		// Distinct end times so the ordering is deterministic.
		var rec model.TrackingRecord
		require.NoError(t, s.db.Where("ride_id = ?", rideID).First(&rec).Error)
		rec.EndTime = time.Now().UTC().Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.db.Save(&rec).Error)
	}

	history := s.GetHistory(ctx, 2)
	require.Len(t, history, 2)
	assert.Equal(t, "r3", history[0].RideID, "most recently ended first")
	assert.Equal(t, "r2", history[1].RideID)
}

func TestArchiveIsIdempotent(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.StartSession(ctx, "l1", "t1", "r1", testDest())
	require.NoError(t, err)

	// Terminal status observed twice (at-least-once feed).
	_, err = s.ApplyUpdate(ctx, "r1", "completed", nil, nil)
	require.NoError(t, err)
	_, err = s.ApplyUpdate(ctx, "r1", "completed", nil, nil)
	require.NoError(t, err)

	var count int64
	s.db.Model(&model.TrackingRecord{}).Where("ride_id = ?", "r1").Count(&count)
	assert.Equal(t, int64(1), count, "one archive row per session")
}
