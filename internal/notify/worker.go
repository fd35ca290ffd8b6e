package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"companion-tracking-backend/internal/model"
)

// Sender sends a single web push message. Indirection point for tests.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real Sender backed by the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool delivers notifications to a companion's registered push
// subscriptions. The session store decides whether to notify; the pool owns
// delivery, including pruning subscriptions the push service reports gone.
type WorkerPool struct {
	size    int
	jobs    chan model.Notification
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan model.Notification, size*4),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// SetSender swaps the delivery backend. Used by tests.
func (wp *WorkerPool) SetSender(s Sender) {
	wp.sender = s
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	for {
		select {
		case n := <-wp.jobs:
			wp.deliver(ctx, n)
		case <-ctx.Done():
			log.Printf("notify: worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a notification. It never blocks the caller: when the queue
// is full the notification is dropped with a log line, since a stalled update
// path is worse than a lost push.
func (wp *WorkerPool) Dispatch(n model.Notification) {
	select {
	case wp.jobs <- n:
	default:
		log.Printf("notify: queue full, dropping notification for companion %s", n.CompanionID)
	}
}

// deliver fans a notification out to every subscription the companion has
// registered, honoring the profile-level notification preference.
func (wp *WorkerPool) deliver(ctx context.Context, n model.Notification) {
	var profile model.CompanionProfile
	err := wp.db.WithContext(ctx).
		Select("pref_notifications_enabled").
		First(&profile, "id = ?", n.CompanionID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("notify: error fetching profile %s: %v", n.CompanionID, err)
		return
	}
	if err == nil && !profile.Preferences.NotificationsEnabled {
		return
	}

	var subscriptions []model.PushSubscription
	err = wp.db.WithContext(ctx).
		Where("companion_id = ?", n.CompanionID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("notify: error fetching subscriptions for companion %s: %v", n.CompanionID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(n)
	if err != nil {
		log.Printf("notify: error marshaling notification for companion %s: %v", n.CompanionID, err)
		return
	}

	for _, sub := range subscriptions {
		wp.send(ctx, sub, payload)
	}
}

func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("notify: error sending to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("notify: subscription %s expired, deleting", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("notify: failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
