package feed

import "context"

// CancelFunc tears down a subscription. It is safe to call more than once.
type CancelFunc func()

// Handler receives the raw JSON value written at a subscribed path.
type Handler func(data []byte)

// Feed is the live data feed collaborator: a key-path-addressed store with
// point reads, point writes, partial updates and change subscriptions. Active
// ride state and live session records go here; durable records go to the
// document store.
type Feed interface {
	// Get returns the raw value at path. The second return is false when no
	// value exists.
	Get(ctx context.Context, path string) ([]byte, bool, error)
	// Set writes (and broadcasts) the JSON encoding of value at path.
	Set(ctx context.Context, path string, value any) error
	// Update merges fields into the JSON object at path. Missing paths are
	// created.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Delete removes the value at path.
	Delete(ctx context.Context, path string) error
	// Subscribe registers fn for every value written at path until the
	// returned CancelFunc is called. Cancellation is synchronous: once the
	// CancelFunc returns, fn is not invoked again.
	Subscribe(ctx context.Context, path string, fn Handler) (CancelFunc, error)
}

// Path conventions. The ride root is written by the traveler side and read-only
// here; the live tracking root holds this service's own session records.
const (
	rideFeedRoot     = "rides"
	liveTrackingRoot = "live_tracking"
	linkRequestRoot  = "link_requests"
)

// RidePath addresses a traveler's live ride document.
func RidePath(rideID string) string {
	return rideFeedRoot + "/" + rideID
}

// LiveTrackingPath addresses a companion's live session record.
func LiveTrackingPath(companionID, rideID string) string {
	return liveTrackingRoot + "/" + companionID + "/" + rideID
}

// LinkRequestPath addresses the traveler-side inbox entry for a new link.
func LinkRequestPath(travelerID, linkID string) string {
	return linkRequestRoot + "/" + travelerID + "/" + linkID
}
