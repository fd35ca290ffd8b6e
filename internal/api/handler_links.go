package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"companion-tracking-backend/internal/link"
)

type createLinkRequest struct {
	TravelerID   string `json:"traveler_id" binding:"required"`
	TravelerName string `json:"traveler_name" binding:"required"`
}

// CreateLink handles POST /api/links.
func (h *Handler) CreateLink(c *gin.Context) {
	tc, ok := h.trackingContext(c)
	if !ok {
		return
	}

	var req createLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	linkID, err := tc.Links.CreateLink(c.Request.Context(), req.TravelerID, req.TravelerName)
	switch {
	case errors.Is(err, link.ErrDuplicateLink):
		c.JSON(http.StatusConflict, gin.H{"error": "a link to this traveler already exists"})
	case errors.Is(err, link.ErrNotAuthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no companion identity"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusCreated, gin.H{"link_id": linkID})
	}
}

// AcceptLink handles POST /api/links/:link_id/accept.
func (h *Handler) AcceptLink(c *gin.Context) {
	tc, ok := h.trackingContext(c)
	if !ok {
		return
	}

	err := tc.Links.AcceptLink(c.Request.Context(), c.Param("link_id"))
	switch {
	case errors.Is(err, link.ErrLinkNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.Status(http.StatusNoContent)
	}
}

// RemoveLink handles DELETE /api/links/:link_id.
func (h *Handler) RemoveLink(c *gin.Context) {
	tc, ok := h.trackingContext(c)
	if !ok {
		return
	}

	err := tc.Links.RemoveLink(c.Request.Context(), c.Param("link_id"))
	switch {
	case errors.Is(err, link.ErrLinkNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.Status(http.StatusNoContent)
	}
}

// ListLinks handles GET /api/links. The registry serves from its cache, so the
// handler refreshes first; a refresh failure degrades to the cached view.
func (h *Handler) ListLinks(c *gin.Context) {
	tc, ok := h.trackingContext(c)
	if !ok {
		return
	}

	tc.Links.LoadActiveLinks(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"links": tc.Links.ListActiveLinks()})
}
