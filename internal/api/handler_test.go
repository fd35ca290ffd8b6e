package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"companion-tracking-backend/config"
	"companion-tracking-backend/internal/feed"
	"companion-tracking-backend/internal/model"
	"companion-tracking-backend/internal/track"
)

const identityHeader = "X-Companion-ID"

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB, *feed.MemoryFeed) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&model.CompanionProfile{},
		&model.TravelerCompanionLink{},
		&model.TrackingRecord{},
		&model.PushSubscription{},
	))

	f := feed.NewMemoryFeed()
	contexts := track.NewManager(db, f, nil, time.Hour)

	cfg := &config.Config{}
	cfg.Server.CompanionIDHeader = identityHeader
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000
	cfg.Server.CacheTTLSeconds = 1
	cfg.Tracking.HistoryLimit = 20

	router := NewRouter(cfg, db, f, contexts, &webpush.Options{VAPIDPublicKey: "test-key"})
	return router, db, f
}

func doJSON(t *testing.T, router *gin.Engine, method, path, companionID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	if companionID != "" {
		req.Header.Set(identityHeader, companionID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMissingIdentityIsRejected(t *testing.T) {
	router, _, _ := setupRouter(t)
	w := doJSON(t, router, http.MethodGet, "/api/links", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateLinkValidation(t *testing.T) {
	router, _, _ := setupRouter(t)
	w := doJSON(t, router, http.MethodPost, "/api/links", "c1", map[string]string{"traveler_id": "t1"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "traveler_name is required")
}

func TestLinkLifecycleOverHTTP(t *testing.T) {
	router, _, _ := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/links", "c1",
		map[string]string{"traveler_id": "t1", "traveler_name": "Kai"})
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		LinkID string `json:"link_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.LinkID)

	// Duplicate create conflicts.
	w = doJSON(t, router, http.MethodPost, "/api/links", "c1",
		map[string]string{"traveler_id": "t1", "traveler_name": "Kai"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Accept, then it lists as active.
	w = doJSON(t, router, http.MethodPost, "/api/links/"+created.LinkID+"/accept", "c1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/links", "c1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Links []model.TravelerCompanionLink `json:"links"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Links, 1)
	assert.Equal(t, model.LinkActive, listed.Links[0].Status)

	// Remove.
	w = doJSON(t, router, http.MethodDelete, "/api/links/"+created.LinkID, "c1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, router, http.MethodDelete, "/api/links/ghost", "c1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartTrackingRequiresActiveLink(t *testing.T) {
	router, _, _ := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/links", "c1",
		map[string]string{"traveler_id": "t1", "traveler_name": "Kai"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		LinkID string `json:"link_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	body := map[string]any{
		"link_id":     created.LinkID,
		"traveler_id": "t1",
		"ride_id":     "r1",
		"destination": map[string]any{"lat": 1.0, "lon": 2.0, "address": "X"},
	}

	// Link is still pending: tracking forbidden.
	w = doJSON(t, router, http.MethodPost, "/api/tracking", "c1", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/links/"+created.LinkID+"/accept", "c1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/tracking", "c1", body)
	require.Equal(t, http.StatusCreated, w.Code)

	var started struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.NotEmpty(t, started.SessionID)

	w = doJSON(t, router, http.MethodGet, "/api/tracking/active", "c1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active struct {
		Sessions []model.TrackingSession `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &active))
	require.Len(t, active.Sessions, 1)
	assert.Equal(t, "r1", active.Sessions[0].RideID)
}

func TestStopTrackingValidatesReason(t *testing.T) {
	router, _, _ := setupRouter(t)
	w := doJSON(t, router, http.MethodDelete, "/api/tracking/r1", "c1",
		map[string]string{"reason": "paused"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVAPIDPublicKey(t *testing.T) {
	router, _, _ := setupRouter(t)
	w := doJSON(t, router, http.MethodGet, "/api/vapid_public_key", "c1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"test-key"}`, w.Body.String())
}

func TestProfileLifecycle(t *testing.T) {
	router, db, _ := setupRouter(t)

	w := doJSON(t, router, http.MethodPut, "/api/profile", "c1",
		map[string]string{"display_name": "Ana", "email": "ana@example.com"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPatch, "/api/profile/preferences", "c1",
		map[string]any{"notifications_enabled": false})
	require.Equal(t, http.StatusNoContent, w.Code)

	var profile model.CompanionProfile
	require.NoError(t, db.First(&profile, "id = ?", "c1").Error)
	assert.False(t, profile.Preferences.NotificationsEnabled)

	// Deletion cascades.
	require.NoError(t, db.Create(&model.PushSubscription{
		Endpoint: "https://example.com/p", CompanionID: "c1", P256DH: "k", Auth: "a",
	}).Error)
	w = doJSON(t, router, http.MethodDelete, "/api/profile", "c1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	var count int64
	db.Model(&model.PushSubscription{}).Where("companion_id = ?", "c1").Count(&count)
	assert.Equal(t, int64(0), count)
	assert.ErrorIs(t, db.First(&model.CompanionProfile{}, "id = ?", "c1").Error, gorm.ErrRecordNotFound)
}
