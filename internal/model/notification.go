package model

// Notification is what the core hands to the dispatcher. Delivery (push vs.
// local, retries) is entirely the dispatcher's concern.
type Notification struct {
	CompanionID string            `json:"companion_id"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
}
