package track

import (
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"companion-tracking-backend/internal/feed"
	"companion-tracking-backend/internal/link"
)

// Context bundles the tracking services bound to one authenticated companion.
// One Context per companion replaces process-wide singletons, so multiple
// accounts can be exercised side by side (and tested concurrently).
type Context struct {
	CompanionID string
	Links       *link.Registry
	Sessions    *Store
	Feeds       *Subscriber
	Resolver    *Reconciler
}

// NewContext wires the per-companion service graph.
func NewContext(companionID, companionName string, db *gorm.DB, f feed.Feed, d Dispatcher) *Context {
	registry := link.NewRegistry(db, f, companionID, companionName)
	store := NewStore(companionID, db, f, d)
	return &Context{
		CompanionID: companionID,
		Links:       registry,
		Sessions:    store,
		Feeds:       NewSubscriber(f, store),
		Resolver:    NewReconciler(store, registry, f),
	}
}

// Manager hands out per-companion contexts, building them on first use and
// expiring idle ones.
type Manager struct {
	db       *gorm.DB
	feed     feed.Feed
	dispatch Dispatcher
	contexts *cache.Cache
}

// NewManager creates a context manager. Idle contexts expire after ttl.
func NewManager(db *gorm.DB, f feed.Feed, d Dispatcher, ttl time.Duration) *Manager {
	contexts := cache.New(ttl, 2*ttl)
	contexts.OnEvicted(func(_ string, item any) {
		if ctx, ok := item.(*Context); ok {
			ctx.Feeds.CancelAll()
		}
	})
	return &Manager{
		db:       db,
		feed:     f,
		dispatch: d,
		contexts: contexts,
	}
}

// For returns the context for a companion, creating it if needed. Each access
// renews the expiry so contexts with live subscriptions stay resident.
func (m *Manager) For(companionID, companionName string) *Context {
	if item, found := m.contexts.Get(companionID); found {
		if ctx, ok := item.(*Context); ok {
			m.contexts.SetDefault(companionID, ctx)
			return ctx
		}
	}
	ctx := NewContext(companionID, companionName, m.db, m.feed, m.dispatch)
	m.contexts.SetDefault(companionID, ctx)
	return ctx
}
