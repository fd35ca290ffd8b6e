package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"companion-tracking-backend/internal/model"
)

type putProfileRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
}

// PutProfile handles PUT /api/profile: create-or-update of the companion's
// own profile. New profiles get default preferences.
func (h *Handler) PutProfile(c *gin.Context) {
	profile, ok := h.companion(c)
	if !ok {
		return
	}

	var req putProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record := model.CompanionProfile{
		ID:          profile.ID,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Phone:       req.Phone,
		Preferences: model.Preferences{NotificationsEnabled: true, TrackingRadiusMeters: 500},
	}

	err := h.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "email", "phone", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, record)
}

// GetProfile handles GET /api/profile.
func (h *Handler) GetProfile(c *gin.Context) {
	profile, ok := h.companion(c)
	if !ok {
		return
	}
	if profile.DisplayName == "" && profile.CreatedAt.IsZero() {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

type patchPreferencesRequest struct {
	NotificationsEnabled *bool `json:"notifications_enabled"`
	TrackingRadiusMeters *int  `json:"tracking_radius_meters"`
	AutoTrackingEnabled  *bool `json:"auto_tracking_enabled"`
}

// PatchPreferences handles PATCH /api/profile/preferences. Only the fields
// present in the request change.
func (h *Handler) PatchPreferences(c *gin.Context) {
	profile, ok := h.companion(c)
	if !ok {
		return
	}

	var req patchPreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := make(map[string]any)
	if req.NotificationsEnabled != nil {
		updates["pref_notifications_enabled"] = *req.NotificationsEnabled
	}
	if req.TrackingRadiusMeters != nil {
		updates["pref_tracking_radius_meters"] = *req.TrackingRadiusMeters
	}
	if req.AutoTrackingEnabled != nil {
		updates["pref_auto_tracking_enabled"] = *req.AutoTrackingEnabled
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no preference fields in request"})
		return
	}

	result := h.db.Model(&model.CompanionProfile{}).Where("id = ?", profile.ID).Updates(updates)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": result.Error.Error()})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteProfile handles DELETE /api/profile: explicit account deletion, which
// cascades to links, tracking history and push subscriptions in one
// transaction.
func (h *Handler) DeleteProfile(c *gin.Context) {
	profile, ok := h.companion(c)
	if !ok {
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("companion_id = ?", profile.ID).Delete(&model.TravelerCompanionLink{}).Error; err != nil {
			return err
		}
		if err := tx.Where("companion_id = ?", profile.ID).Delete(&model.TrackingRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("companion_id = ?", profile.ID).Delete(&model.PushSubscription{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.CompanionProfile{ID: profile.ID}).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}
