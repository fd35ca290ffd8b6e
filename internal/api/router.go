package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"companion-tracking-backend/config"
	"companion-tracking-backend/internal/feed"
	"companion-tracking-backend/internal/mw"
	"companion-tracking-backend/internal/track"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, db *gorm.DB, f feed.Feed, contexts *track.Manager, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(db, f, contexts, webpushOptions, cfg.Server.CompanionIDHeader, cfg.Tracking.HistoryLimit)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	// Read caching is deliberately short: active-session views go stale fast.
	cacheTTL := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL, cfg.Server.CompanionIDHeader)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.PUT("/profile", handler.PutProfile)
		api.GET("/profile", handler.GetProfile)
		api.PATCH("/profile/preferences", handler.PatchPreferences)
		api.DELETE("/profile", handler.DeleteProfile)

		api.POST("/links", handler.CreateLink)
		api.POST("/links/:link_id/accept", handler.AcceptLink)
		api.DELETE("/links/:link_id", handler.RemoveLink)
		api.GET("/links", handler.ListLinks)

		api.POST("/tracking", handler.StartTracking)
		api.DELETE("/tracking/:ride_id", handler.StopTracking)
		api.GET("/tracking/active", handler.GetActiveSessions)
		api.GET("/tracking/history", caching, handler.GetHistory)
		api.GET("/tracking/:ride_id", handler.GetSession)

		api.PUT("/push_subscriptions", handler.PutSubscription)
		api.GET("/push_subscriptions", handler.GetSubscriptions)
		api.DELETE("/push_subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
