package track

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"companion-tracking-backend/internal/feed"
	"companion-tracking-backend/internal/link"
	"companion-tracking-backend/internal/model"
	"companion-tracking-backend/internal/status"
)

// Reconciler resolves tracking records that may exist only in the link
// registry's legacy cache back into the session store's single view. It is a
// migration-compatibility shim: once no legacy clients remain, resolution
// stops at the feed lookup and this type can go.
type Reconciler struct {
	store    *Store
	registry *link.Registry
	feed     feed.Feed
}

// NewReconciler creates a reconciler over the given store, registry and feed.
func NewReconciler(store *Store, registry *link.Registry, f feed.Feed) *Reconciler {
	return &Reconciler{store: store, registry: registry, feed: f}
}

// Resolve returns the tracking session for a ride, looking in order at the
// session store cache, the live feed record, and finally the registry's legacy
// cache. A legacy hit is converted to the canonical shape and written back to
// the feed so the next lookup stops at step two. Resolve is idempotent: the
// existing-record guard before write-back means re-invocation never creates a
// duplicate.
func (r *Reconciler) Resolve(ctx context.Context, rideID string) (*model.TrackingSession, error) {
	// Step 1: local cache.
	if sess, ok := r.store.GetByID(rideID); ok {
		return sess, nil
	}

	// Step 2: persisted live record.
	path := feed.LiveTrackingPath(r.store.CompanionID(), rideID)
	data, found, err := r.feed.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session for ride %s: %w", rideID, err)
	}
	if found {
		var sess model.TrackingSession
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, fmt.Errorf("corrupt live record for ride %s: %w", rideID, err)
		}
		r.store.Adopt(sess)
		return &sess, nil
	}

	// Step 3: legacy cache fallback.
	legacy, ok := r.registry.LegacyTrackingFor(rideID)
	if !ok {
		return nil, nil
	}
	sess := convertLegacy(r.store.CompanionID(), legacy)

	// Existing-record guard: another resolver may have written the record
	// between our miss and now.
	if _, exists, err := r.feed.Get(ctx, path); err == nil && !exists {
		if err := r.feed.Set(ctx, path, sess); err != nil {
			log.Printf("track: failed to write back reconciled session for %s: %v", rideID, err)
		}
	}
	r.store.Adopt(sess)
	return &sess, nil
}

// convertLegacy maps the registry's old tracking shape onto the canonical
// session. Legacy records carried the raw upstream status and a flat lat/lng
// pair; flags start zeroed so a transition observed after conversion still
// notifies once.
func convertLegacy(companionID string, lt link.LegacyTracking) model.TrackingSession {
	sess := model.TrackingSession{
		SessionID:   "legacy-" + lt.RideID,
		LinkID:      lt.LinkID,
		CompanionID: companionID,
		TravelerID:  lt.TravelerID,
		RideID:      lt.RideID,
		Status:      status.Normalize(lt.State),
		StartTime:   lt.StartedAt,
		Destination: model.Destination{Lat: lt.Lat, Lon: lt.Lng, Address: lt.Address},
		LastUpdate:  lt.LastSeen,
	}
	if sess.Status.Terminal() {
		end := lt.LastSeen
		sess.EndTime = &end
	}
	return sess
}
