package model

import "time"

// LinkStatus is the lifecycle state of a companion-traveler link.
type LinkStatus string

const (
	LinkPending LinkStatus = "pending"
	LinkActive  LinkStatus = "active"
	LinkPaused  LinkStatus = "paused"
	LinkRemoved LinkStatus = "removed"
)

// LinkPermissions is what the traveler has granted the companion.
type LinkPermissions struct {
	CanTrack            bool `gorm:"not null;default:true" json:"can_track"`
	CanGetNotifications bool `gorm:"not null;default:true" json:"can_get_notifications"`
	CanViewHistory      bool `gorm:"not null;default:true" json:"can_view_history"`
}

// LinkSettings is the companion-side configuration of a link.
type LinkSettings struct {
	TrackingEnabled            bool `gorm:"not null;default:true" json:"tracking_enabled"`
	NotificationDistanceMeters int  `gorm:"not null;default:500" json:"notification_distance_meters"`
	AutoTracking               bool `gorm:"not null;default:false" json:"auto_tracking"`
}

// TravelerCompanionLink is the authorization relationship granting a companion
// visibility into one traveler's rides. At most one link with status pending or
// active may exist per (companion, traveler) pair; the registry enforces this
// with a pre-check query at creation time.
type TravelerCompanionLink struct {
	ID            string          `gorm:"primaryKey;size:64" json:"link_id"`
	CompanionID   string          `gorm:"index:idx_link_pair;size:64;not null" json:"companion_id"`
	TravelerID    string          `gorm:"index:idx_link_pair;size:64;not null" json:"traveler_id"`
	TravelerName  string          `gorm:"size:256" json:"traveler_name"`
	CompanionName string          `gorm:"size:256" json:"companion_name"`
	Status        LinkStatus      `gorm:"size:32;not null;index" json:"status"`
	Permissions   LinkPermissions `gorm:"embedded;embeddedPrefix:perm_" json:"permissions"`
	Settings      LinkSettings    `gorm:"embedded;embeddedPrefix:set_" json:"settings"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"not null" json:"updated_at"`
}
