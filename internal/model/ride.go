package model

import "time"

// UpstreamRide is the traveler-side ride document as it appears in the live
// data feed. The core treats it as read-only and eventually consistent; its
// status vocabulary varies by producer and is normalized before use.
type UpstreamRide struct {
	RideID           string     `json:"ride_id"`
	Status           string     `json:"status"`
	DriverLocation   *Location  `json:"driver_location,omitempty"`
	EstimatedArrival *time.Time `json:"estimated_arrival,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
