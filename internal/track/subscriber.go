package track

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"companion-tracking-backend/internal/feed"
	"companion-tracking-backend/internal/model"
)

// ErrAlreadySubscribed means a live feed subscription already exists for the
// ride. Exactly one subscriber per active session is allowed; a second
// subscription would race the first on the notification flags.
var ErrAlreadySubscribed = errors.New("ride already has a live subscription")

// OnUpdate receives the session snapshot after each applied upstream update.
type OnUpdate func(model.TrackingSession)

// Subscriber bridges the live ride feed into the session store: each upstream
// record for a subscribed ride is decoded, applied through the store, and the
// resulting snapshot is forwarded to the caller. When a session reaches a
// terminal status the subscriber unsubscribes itself.
type Subscriber struct {
	feed  feed.Feed
	store *Store

	mu   sync.Mutex
	live map[string]feed.CancelFunc // one handle per ride id
}

// NewSubscriber creates a subscriber over the given feed and store.
func NewSubscriber(f feed.Feed, store *Store) *Subscriber {
	return &Subscriber{
		feed:  f,
		store: store,
		live:  make(map[string]feed.CancelFunc),
	}
}

// Subscribe registers a listener on the traveler's ride document. The returned
// handle is idempotent; after it returns, no further onUpdate calls occur.
func (s *Subscriber) Subscribe(ctx context.Context, rideID, travelerID string, onUpdate OnUpdate) (feed.CancelFunc, error) {
	s.mu.Lock()
	if _, exists := s.live[rideID]; exists {
		s.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	// Reserve the slot before the feed call so a concurrent Subscribe for the
	// same ride fails instead of racing.
	s.live[rideID] = func() {}
	s.mu.Unlock()

	feedCancel, err := s.feed.Subscribe(ctx, feed.RidePath(rideID), func(data []byte) {
		s.handleUpdate(ctx, rideID, data, onUpdate)
	})
	if err != nil {
		s.mu.Lock()
		delete(s.live, rideID)
		s.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// Unregister from the feed first: cancellation must be observed
			// before any further callback, not merely flagged locally.
			feedCancel()
			s.mu.Lock()
			delete(s.live, rideID)
			s.mu.Unlock()
		})
	}

	s.mu.Lock()
	s.live[rideID] = cancel
	s.mu.Unlock()

	return cancel, nil
}

// Cancel tears down the live subscription for a ride, if any.
func (s *Subscriber) Cancel(rideID string) {
	s.mu.Lock()
	cancel, ok := s.live[rideID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// CancelAll tears down every live subscription. Called when the owning
// context is evicted so feed listeners do not leak.
func (s *Subscriber) CancelAll() {
	s.mu.Lock()
	cancels := make([]feed.CancelFunc, 0, len(s.live))
	for _, c := range s.live {
		cancels = append(cancels, c)
	}
	s.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// Subscribed reports whether a live subscription exists for the ride.
func (s *Subscriber) Subscribed(rideID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[rideID]
	return ok
}

func (s *Subscriber) handleUpdate(ctx context.Context, rideID string, data []byte, onUpdate OnUpdate) {
	var ride model.UpstreamRide
	if err := json.Unmarshal(data, &ride); err != nil {
		// Malformed upstream records are dropped; the subscription survives.
		log.Printf("track: malformed ride record for %s: %v", rideID, err)
		return
	}

	sess, err := s.store.ApplyUpdate(ctx, rideID, ride.Status, ride.DriverLocation, ride.EstimatedArrival)
	if err != nil {
		log.Printf("track: failed to apply update for %s: %v", rideID, err)
		return
	}

	if onUpdate != nil {
		onUpdate(*sess)
	}

	if sess.Status.Terminal() {
		s.Cancel(rideID)
	}
}
