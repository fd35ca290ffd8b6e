package status

// Status is the canonical tracking status used by the session store. Upstream
// producers use varied vocabularies (the driver-assignment flow says "accepted",
// the ride-lifecycle flow says "active"); everything internal speaks this one.
type Status string

const (
	Tracking   Status = "tracking"
	InProgress Status = "in_progress"
	Completed  Status = "completed"
	Cancelled  Status = "cancelled"
)

// Terminal reports whether a session in this status has ended.
func (s Status) Terminal() bool {
	return s == Completed || s == Cancelled
}

// Normalize maps an upstream ride status to the canonical vocabulary. It is a
// total function: unrecognized statuses fall back to Tracking so a new upstream
// vocabulary variant degrades to "still observing" instead of failing.
func Normalize(upstream string) Status {
	switch upstream {
	case "requested", "accepted", "active":
		return Tracking
	case "started", "in_progress":
		return InProgress
	case "completed":
		return Completed
	case "cancelled":
		return Cancelled
	default:
		return Tracking
	}
}
