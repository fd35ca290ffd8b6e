package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"companion-tracking-backend/internal/model"
	"companion-tracking-backend/internal/status"
	"companion-tracking-backend/internal/track"
)

type startTrackingRequest struct {
	LinkID      string `json:"link_id" binding:"required"`
	TravelerID  string `json:"traveler_id" binding:"required"`
	RideID      string `json:"ride_id" binding:"required"`
	Destination struct {
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
		Address string  `json:"address" binding:"required"`
	} `json:"destination" binding:"required"`
}

// StartTracking handles POST /api/tracking: it opens a session and subscribes
// to the traveler's live ride document in one step.
func (h *Handler) StartTracking(c *gin.Context) {
	tc, ok := h.trackingContext(c)
	if !ok {
		return
	}

	var req startTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lnk, err := tc.Links.GetLink(c.Request.Context(), req.LinkID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
		return
	}
	if lnk.Status != model.LinkActive || !lnk.Permissions.CanTrack || !lnk.Settings.TrackingEnabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "link does not permit tracking"})
		return
	}

	dest := model.Destination{Lat: req.Destination.Lat, Lon: req.Destination.Lon, Address: req.Destination.Address}
	sessionID, err := tc.Sessions.StartSession(c.Request.Context(), req.LinkID, req.TravelerID, req.RideID, dest)
	if errors.Is(err, track.ErrNotAuthenticated) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no companion identity"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Detached context: the subscription outlives this request.
	_, err = tc.Feeds.Subscribe(c.Copy(), req.RideID, req.TravelerID, nil)
	if err != nil && !errors.Is(err, track.ErrAlreadySubscribed) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session_id": sessionID})
}

type stopTrackingRequest struct {
	Reason string `json:"reason" binding:"required,oneof=completed cancelled"`
}

// StopTracking handles DELETE /api/tracking/:ride_id.
func (h *Handler) StopTracking(c *gin.Context) {
	tc, ok := h.trackingContext(c)
	if !ok {
		return
	}

	var req stopTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rideID := c.Param("ride_id")
	err := tc.Sessions.StopSession(c.Request.Context(), rideID, status.Status(req.Reason))
	switch {
	case errors.Is(err, track.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no session for this ride"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	tc.Feeds.Cancel(rideID)
	c.Status(http.StatusNoContent)
}

// GetActiveSessions handles GET /api/tracking/active.
func (h *Handler) GetActiveSessions(c *gin.Context) {
	tc, ok := h.trackingContext(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": tc.Sessions.GetActive()})
}

// GetHistory handles GET /api/tracking/history.
func (h *Handler) GetHistory(c *gin.Context) {
	tc, ok := h.trackingContext(c)
	if !ok {
		return
	}

	limit := h.historyLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	c.JSON(http.StatusOK, gin.H{"sessions": tc.Sessions.GetHistory(c.Request.Context(), limit)})
}

// GetSession handles GET /api/tracking/:ride_id. It resolves through the
// reconciler so records known only to the live feed or the legacy cache are
// still found.
func (h *Handler) GetSession(c *gin.Context) {
	tc, ok := h.trackingContext(c)
	if !ok {
		return
	}

	sess, err := tc.Resolver.Resolve(c.Request.Context(), c.Param("ride_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session for this ride"})
		return
	}
	c.JSON(http.StatusOK, sess)
}
