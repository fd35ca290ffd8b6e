package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"companion-tracking-backend/internal/model"
)

type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A pooled second connection would see a different empty :memory: database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.CompanionProfile{}, &model.PushSubscription{}))
	return db
}

func pushResponse(code int) *http.Response {
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(bytes.NewBufferString("")),
	}
}

func TestDeliverSendsToEachSubscription(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&model.CompanionProfile{
		ID:          "c1",
		DisplayName: "Ana",
		Preferences: model.Preferences{NotificationsEnabled: true},
	}).Error)
	require.NoError(t, db.Create(&model.PushSubscription{
		Endpoint: "https://example.com/push/a", CompanionID: "c1", P256DH: "k1", Auth: "a1",
	}).Error)
	require.NoError(t, db.Create(&model.PushSubscription{
		Endpoint: "https://example.com/push/b", CompanionID: "c1", P256DH: "k2", Auth: "a2",
	}).Error)
	// Another companion's subscription must not receive anything.
	require.NoError(t, db.Create(&model.PushSubscription{
		Endpoint: "https://example.com/push/other", CompanionID: "c2", P256DH: "k3", Auth: "a3",
	}).Error)

	wp := NewWorkerPool(1, db, &webpush.Options{})

	var endpoints []string
	wp.SetSender(&mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
			var n model.Notification
			require.NoError(t, json.Unmarshal(payload, &n))
			assert.Equal(t, "Ride completed", n.Title)
			assert.Equal(t, "r1", n.Data["ride_id"])
			endpoints = append(endpoints, sub.Endpoint)
			return pushResponse(http.StatusCreated), nil
		},
	})

	wp.deliver(context.Background(), model.Notification{
		CompanionID: "c1",
		Title:       "Ride completed",
		Body:        "Kai arrived at Home.",
		Data:        map[string]string{"ride_id": "r1"},
	})

	assert.ElementsMatch(t, []string{"https://example.com/push/a", "https://example.com/push/b"}, endpoints)
}

func TestDeliverHonorsNotificationPreference(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&model.CompanionProfile{
		ID:          "c1",
		DisplayName: "Ana",
		Preferences: model.Preferences{NotificationsEnabled: false},
	}).Error)
	require.NoError(t, db.Create(&model.PushSubscription{
		Endpoint: "https://example.com/push/a", CompanionID: "c1", P256DH: "k1", Auth: "a1",
	}).Error)

	wp := NewWorkerPool(1, db, &webpush.Options{})
	var calls int
	wp.SetSender(&mockSender{
		SendFunc: func([]byte, *webpush.Subscription, *webpush.Options) (*http.Response, error) {
			calls++
			return pushResponse(http.StatusCreated), nil
		},
	})

	wp.deliver(context.Background(), model.Notification{CompanionID: "c1", Title: "x"})
	assert.Equal(t, 0, calls, "muted companion must not be pushed")
}

func TestDeliverPrunesExpiredSubscription(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&model.CompanionProfile{
		ID:          "c1",
		DisplayName: "Ana",
		Preferences: model.Preferences{NotificationsEnabled: true},
	}).Error)
	require.NoError(t, db.Create(&model.PushSubscription{
		Endpoint: "https://example.com/push/expired", CompanionID: "c1", P256DH: "k1", Auth: "a1",
	}).Error)

	wp := NewWorkerPool(1, db, &webpush.Options{})
	wp.SetSender(&mockSender{
		SendFunc: func([]byte, *webpush.Subscription, *webpush.Options) (*http.Response, error) {
			return pushResponse(http.StatusGone), nil
		},
	})

	wp.deliver(context.Background(), model.Notification{CompanionID: "c1", Title: "x"})

	var count int64
	db.Model(&model.PushSubscription{}).Count(&count)
	assert.Equal(t, int64(0), count, "410 responses must prune the subscription")
}

func TestDispatchDoesNotBlockWhenQueueFull(t *testing.T) {
	db := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})

	// Workers are not started; fill the buffered queue and then some.
	for i := 0; i < cap(wp.jobs)+5; i++ {
		wp.Dispatch(model.Notification{CompanionID: "c1"})
	}
	assert.Equal(t, cap(wp.jobs), len(wp.jobs))
}
