package model

import "time"

// Preferences is the companion's notification/tracking preference bundle.
type Preferences struct {
	NotificationsEnabled bool `gorm:"not null;default:true" json:"notifications_enabled"`
	TrackingRadiusMeters int  `gorm:"not null;default:500" json:"tracking_radius_meters"`
	AutoTrackingEnabled  bool `gorm:"not null;default:false" json:"auto_tracking_enabled"`
}

// CompanionProfile represents a companion account. Created once per signup and
// owned by the link registry; deletion cascades to links, tracking history and
// push subscriptions.
type CompanionProfile struct {
	ID          string      `gorm:"primaryKey;size:64" json:"id"`
	DisplayName string      `gorm:"size:256;not null" json:"display_name"`
	Email       string      `gorm:"size:256" json:"email"`
	Phone       string      `gorm:"size:64" json:"phone"`
	Preferences Preferences `gorm:"embedded;embeddedPrefix:pref_" json:"preferences"`
	CreatedAt   time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time   `gorm:"not null" json:"updated_at"`

	// Associations
	Links []TravelerCompanionLink `gorm:"foreignKey:CompanionID" json:"-"`
}
