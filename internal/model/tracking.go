package model

import (
	"time"

	"companion-tracking-backend/internal/status"
)

// Location is a timestamped geographic position.
type Location struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
}

// Destination is the ride's target point.
type Destination struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Address string  `json:"address"`
}

// NotificationFlags is the per-session idempotency record: each flag is set the
// first time the matching canonical status is reached, and a notification is
// dispatched only on that first transition.
type NotificationFlags struct {
	RideStarted    bool `json:"ride_started"`
	RideInProgress bool `json:"ride_in_progress"`
	RideCompleted  bool `json:"ride_completed"`
	RideCancelled  bool `json:"ride_cancelled"`
}

// TrackingSession is one ride under observation by one companion (hot state).
// Active sessions live in the session store's cache and are mirrored into the
// live data feed; terminal sessions are archived as TrackingRecord rows.
type TrackingSession struct {
	SessionID        string            `json:"session_id"`
	LinkID           string            `json:"link_id"`
	CompanionID      string            `json:"companion_id"`
	TravelerID       string            `json:"traveler_id"`
	RideID           string            `json:"ride_id"`
	Status           status.Status     `json:"status"`
	StartTime        time.Time         `json:"start_time"`
	EndTime          *time.Time        `json:"end_time,omitempty"`
	CurrentLocation  *Location         `json:"current_location,omitempty"`
	Destination      Destination       `json:"destination"`
	EstimatedArrival *time.Time        `json:"estimated_arrival,omitempty"`
	LastUpdate       time.Time         `json:"last_update"`
	Flags            NotificationFlags `json:"notification_flags"`
}

// TrackingRecord is the archived form of a terminated session (cold table).
type TrackingRecord struct {
	ID          int64         `gorm:"autoIncrement;primaryKey"`
	SessionID   string        `gorm:"size:64;uniqueIndex;not null"`
	LinkID      string        `gorm:"size:64"`
	CompanionID string        `gorm:"size:64;not null;index"`
	TravelerID  string        `gorm:"size:64;not null"`
	RideID      string        `gorm:"size:64;not null;index"`
	Status      status.Status `gorm:"size:32;not null"`
	StartTime   time.Time     `gorm:"not null"`
	EndTime     time.Time     `gorm:"not null;index"`
	DestLat     float64
	DestLon     float64
	DestAddress string `gorm:"size:512"`
}

// Record converts a terminal session into its archive row.
func (s *TrackingSession) Record() TrackingRecord {
	rec := TrackingRecord{
		SessionID:   s.SessionID,
		LinkID:      s.LinkID,
		CompanionID: s.CompanionID,
		TravelerID:  s.TravelerID,
		RideID:      s.RideID,
		Status:      s.Status,
		StartTime:   s.StartTime,
		DestLat:     s.Destination.Lat,
		DestLon:     s.Destination.Lon,
		DestAddress: s.Destination.Address,
	}
	if s.EndTime != nil {
		rec.EndTime = *s.EndTime
	}
	return rec
}

// Session converts an archive row back to the session shape for read paths.
func (r *TrackingRecord) Session() TrackingSession {
	end := r.EndTime
	return TrackingSession{
		SessionID:   r.SessionID,
		LinkID:      r.LinkID,
		CompanionID: r.CompanionID,
		TravelerID:  r.TravelerID,
		RideID:      r.RideID,
		Status:      r.Status,
		StartTime:   r.StartTime,
		EndTime:     &end,
		Destination: Destination{Lat: r.DestLat, Lon: r.DestLon, Address: r.DestAddress},
		LastUpdate:  end,
	}
}
