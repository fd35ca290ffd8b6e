package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryFeed is an in-process Feed. It backs local development when no Redis
// is configured and doubles as the deterministic feed in tests: deliveries are
// synchronous, in write order, and stop the moment a subscription is cancelled.
type MemoryFeed struct {
	mu     sync.RWMutex
	values map[string][]byte
	subs   map[string]map[*memorySub]struct{}
}

type memorySub struct {
	fn        Handler
	cancelled atomic.Bool
}

// NewMemoryFeed creates an empty in-memory feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		values: make(map[string][]byte),
		subs:   make(map[string]map[*memorySub]struct{}),
	}
}

func (f *MemoryFeed) Get(_ context.Context, path string) ([]byte, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, ok := f.values[path]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (f *MemoryFeed) Set(_ context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("feed marshal for %q: %w", path, err)
	}

	f.mu.Lock()
	f.values[path] = data
	targets := make([]*memorySub, 0, len(f.subs[path]))
	for s := range f.subs[path] {
		targets = append(targets, s)
	}
	f.mu.Unlock()

	// Deliver outside the lock so a handler may read the feed or cancel its
	// own subscription without deadlocking. The cancelled check immediately
	// before each invocation is what makes cancellation synchronous.
	for _, s := range targets {
		if s.cancelled.Load() {
			continue
		}
		safeInvoke(path, s.fn, data)
	}
	return nil
}

func (f *MemoryFeed) Update(ctx context.Context, path string, fields map[string]any) error {
	f.mu.RLock()
	data, found := f.values[path]
	f.mu.RUnlock()

	current := make(map[string]any)
	if found {
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("feed update %q: existing value is not an object: %w", path, err)
		}
	}
	for k, v := range fields {
		current[k] = v
	}
	return f.Set(ctx, path, current)
}

func (f *MemoryFeed) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	delete(f.values, path)
	f.mu.Unlock()
	return nil
}

func (f *MemoryFeed) Subscribe(_ context.Context, path string, fn Handler) (CancelFunc, error) {
	sub := &memorySub{fn: fn}

	f.mu.Lock()
	if f.subs[path] == nil {
		f.subs[path] = make(map[*memorySub]struct{})
	}
	f.subs[path][sub] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		sub.cancelled.Store(true)
		f.mu.Lock()
		delete(f.subs[path], sub)
		f.mu.Unlock()
	}
	return cancel, nil
}
