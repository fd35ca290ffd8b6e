package api

import (
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"companion-tracking-backend/internal/feed"
	"companion-tracking-backend/internal/model"
	"companion-tracking-backend/internal/track"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	db             *gorm.DB
	feed           feed.Feed
	contexts       *track.Manager
	webpush        *webpush.Options
	identityHeader string
	historyLimit   int
}

// NewHandler creates a new API handler.
func NewHandler(db *gorm.DB, f feed.Feed, contexts *track.Manager, webpushOptions *webpush.Options, identityHeader string, historyLimit int) *Handler {
	return &Handler{
		db:             db,
		feed:           f,
		contexts:       contexts,
		webpush:        webpushOptions,
		identityHeader: identityHeader,
		historyLimit:   historyLimit,
	}
}

// companion resolves the calling companion's identity and profile. Auth
// mechanics live outside this service; the gateway passes a verified opaque id
// in a header. Requests without one are rejected.
func (h *Handler) companion(c *gin.Context) (*model.CompanionProfile, bool) {
	id := c.GetHeader(h.identityHeader)
	if id == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing companion identity"})
		return nil, false
	}

	var profile model.CompanionProfile
	if err := h.db.First(&profile, "id = ?", id).Error; err != nil {
		// Profile may not exist yet (first call is PUT /api/profile); the
		// identity alone is enough for most paths.
		profile = model.CompanionProfile{ID: id}
	}
	return &profile, true
}

// trackingContext returns the per-companion service context for the request.
func (h *Handler) trackingContext(c *gin.Context) (*track.Context, bool) {
	profile, ok := h.companion(c)
	if !ok {
		return nil, false
	}
	return h.contexts.For(profile.ID, profile.DisplayName), true
}
