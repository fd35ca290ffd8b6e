package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"companion-tracking-backend/internal/feed"
	"companion-tracking-backend/internal/model"
)

var (
	// ErrDuplicateLink means an active or pending link to the same traveler
	// already exists for this companion.
	ErrDuplicateLink = errors.New("link already exists for this traveler")
	// ErrLinkNotFound means no link with the given id belongs to this companion.
	ErrLinkNotFound = errors.New("link not found")
	// ErrNotAuthenticated means no companion identity is bound to the registry.
	ErrNotAuthenticated = errors.New("no authenticated companion")
)

// Registry owns the companion-traveler link graph for one companion: creation,
// acceptance, removal and the locally cached active set. Links are created
// pending and become active only through an explicit AcceptLink call.
type Registry struct {
	db            *gorm.DB
	feed          feed.Feed
	companionID   string
	companionName string

	// active caches links with status pending or active, keyed by link id.
	// ListActiveLinks reads only this cache; LoadActiveLinks refreshes it.
	active *cache.Cache

	// legacy is the registry's historical tracking cache, kept only so the
	// reconciler can recover session records written by older clients.
	legacy *cache.Cache
}

// LegacyTracking is the shape older clients stored in the registry's own
// tracking cache. The reconciler converts it to the canonical session shape.
type LegacyTracking struct {
	RideID     string
	LinkID     string
	TravelerID string
	State      string // raw upstream status, never normalized
	Lat        float64
	Lng        float64
	Address    string
	StartedAt  time.Time
	LastSeen   time.Time
}

// NewRegistry creates a registry bound to one companion identity.
func NewRegistry(db *gorm.DB, f feed.Feed, companionID, companionName string) *Registry {
	return &Registry{
		db:            db,
		feed:          f,
		companionID:   companionID,
		companionName: companionName,
		active:        cache.New(cache.NoExpiration, 10*time.Minute),
		legacy:        cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

// CreateLink creates a pending link to a traveler and notifies the traveler
// side through the live feed. The uniqueness pre-check runs before the insert;
// there is no database constraint behind it, so two racing creates can still
// both pass — acceptable for a single-user client path.
func (r *Registry) CreateLink(ctx context.Context, travelerID, travelerName string) (string, error) {
	if r.companionID == "" {
		return "", ErrNotAuthenticated
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.TravelerCompanionLink{}).
		Where("companion_id = ? AND traveler_id = ? AND status IN ?",
			r.companionID, travelerID, []model.LinkStatus{model.LinkPending, model.LinkActive}).
		Count(&count).Error
	if err != nil {
		return "", fmt.Errorf("failed to check for existing link: %w", err)
	}
	if count > 0 {
		return "", ErrDuplicateLink
	}

	now := time.Now().UTC()
	link := model.TravelerCompanionLink{
		ID:            uuid.NewString(),
		CompanionID:   r.companionID,
		TravelerID:    travelerID,
		TravelerName:  travelerName,
		CompanionName: r.companionName,
		Status:        model.LinkPending,
		Permissions:   model.LinkPermissions{CanTrack: true, CanGetNotifications: true, CanViewHistory: true},
		Settings:      model.LinkSettings{TrackingEnabled: true, NotificationDistanceMeters: 500},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := r.db.WithContext(ctx).Create(&link).Error; err != nil {
		return "", fmt.Errorf("failed to persist link: %w", err)
	}
	r.active.Set(link.ID, link, cache.NoExpiration)

	// Traveler-side notification is best effort; the link itself is durable.
	if err := r.feed.Set(ctx, feed.LinkRequestPath(travelerID, link.ID), link); err != nil {
		log.Printf("link: failed to notify traveler %s of new link %s: %v", travelerID, link.ID, err)
	}

	return link.ID, nil
}

// AcceptLink transitions a pending link to active. Without a bound companion
// identity it logs and returns nil so partially initialized read-only UI state
// does not hard-fail.
func (r *Registry) AcceptLink(ctx context.Context, linkID string) error {
	if r.companionID == "" {
		log.Printf("link: accept %s skipped, no companion profile loaded", linkID)
		return nil
	}

	link, err := r.getOwned(ctx, linkID)
	if err != nil {
		return err
	}
	if link.Status != model.LinkPending {
		return fmt.Errorf("link %s is %s, not pending: %w", linkID, link.Status, ErrLinkNotFound)
	}

	link.Status = model.LinkActive
	link.UpdatedAt = time.Now().UTC()
	if err := r.db.WithContext(ctx).Model(&model.TravelerCompanionLink{}).
		Where("id = ?", linkID).
		Updates(map[string]any{"status": model.LinkActive, "updated_at": link.UpdatedAt}).Error; err != nil {
		return fmt.Errorf("failed to accept link: %w", err)
	}
	r.active.Set(link.ID, *link, cache.NoExpiration)
	return nil
}

// RemoveLink transitions any non-removed link to removed and purges it from
// the active set.
func (r *Registry) RemoveLink(ctx context.Context, linkID string) error {
	link, err := r.getOwned(ctx, linkID)
	if err != nil {
		return err
	}
	if link.Status == model.LinkRemoved {
		return nil
	}

	if err := r.db.WithContext(ctx).Model(&model.TravelerCompanionLink{}).
		Where("id = ?", linkID).
		Updates(map[string]any{"status": model.LinkRemoved, "updated_at": time.Now().UTC()}).Error; err != nil {
		return fmt.Errorf("failed to remove link: %w", err)
	}
	r.active.Delete(linkID)
	return nil
}

// ListActiveLinks returns the cached links with status active or pending. It
// never queries the store; call LoadActiveLinks first to refresh.
func (r *Registry) ListActiveLinks() []model.TravelerCompanionLink {
	items := r.active.Items()
	links := make([]model.TravelerCompanionLink, 0, len(items))
	for _, item := range items {
		link, ok := item.Object.(model.TravelerCompanionLink)
		if !ok {
			continue
		}
		if link.Status == model.LinkActive || link.Status == model.LinkPending {
			links = append(links, link)
		}
	}
	return links
}

// LoadActiveLinks refreshes the active-set cache from the document store. On a
// read failure it keeps the stale cache and logs: a stale view beats a hard
// failure on this passive path. Pending links stay pending; acceptance is an
// explicit user action, never a load side effect.
func (r *Registry) LoadActiveLinks(ctx context.Context) {
	if r.companionID == "" {
		log.Printf("link: load skipped, no companion profile loaded")
		return
	}

	var links []model.TravelerCompanionLink
	err := r.db.WithContext(ctx).
		Where("companion_id = ? AND status IN ?",
			r.companionID, []model.LinkStatus{model.LinkPending, model.LinkActive}).
		Find(&links).Error
	if err != nil {
		log.Printf("link: failed to load links for %s, serving cached view: %v", r.companionID, err)
		return
	}

	r.active.Flush()
	for _, l := range links {
		r.active.Set(l.ID, l, cache.NoExpiration)
	}
}

// GetLink returns one owned link, preferring the cache.
func (r *Registry) GetLink(ctx context.Context, linkID string) (*model.TravelerCompanionLink, error) {
	return r.getOwned(ctx, linkID)
}

func (r *Registry) getOwned(ctx context.Context, linkID string) (*model.TravelerCompanionLink, error) {
	if item, found := r.active.Get(linkID); found {
		if link, ok := item.(model.TravelerCompanionLink); ok {
			return &link, nil
		}
	}

	var link model.TravelerCompanionLink
	err := r.db.WithContext(ctx).
		Where("id = ? AND companion_id = ?", linkID, r.companionID).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load link %s: %w", linkID, err)
	}
	return &link, nil
}

// LegacyTrackingFor returns the legacy cache entry for a ride, if any.
func (r *Registry) LegacyTrackingFor(rideID string) (LegacyTracking, bool) {
	item, found := r.legacy.Get(rideID)
	if !found {
		return LegacyTracking{}, false
	}
	lt, ok := item.(LegacyTracking)
	return lt, ok
}

// PutLegacyTracking stores a legacy-shaped record. Only migration shims and
// tests write here; new session state belongs to the session store.
func (r *Registry) PutLegacyTracking(lt LegacyTracking) {
	r.legacy.Set(lt.RideID, lt, cache.NoExpiration)
}
