package track

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"companion-tracking-backend/internal/feed"
	"companion-tracking-backend/internal/model"
	"companion-tracking-backend/internal/status"
)

var (
	// ErrNotAuthenticated means no companion identity is bound to the store.
	ErrNotAuthenticated = errors.New("no authenticated companion")
	// ErrSessionNotFound means no session exists for the given ride.
	ErrSessionNotFound = errors.New("tracking session not found")
	// ErrBadStopReason means StopSession was called with a non-terminal reason.
	ErrBadStopReason = errors.New("stop reason must be completed or cancelled")
)

// Dispatcher receives notifications the store decides to send. The store only
// decides whether and what to send; delivery is the dispatcher's problem.
type Dispatcher interface {
	Dispatch(n model.Notification)
}

// Store is the authoritative tracking session cache for one companion. Upstream
// feed deliveries are at-least-once; the per-session notification flags convert
// that into at-most-once notification per canonical status reached. The flag
// check-and-set runs under the store mutex with no I/O inside the critical
// section, so two delivery paths racing on the same transition cannot both
// fire.
type Store struct {
	companionID string
	db          *gorm.DB
	feed        feed.Feed
	dispatcher  Dispatcher

	mu       sync.Mutex
	sessions map[string]*model.TrackingSession // keyed by ride id
}

// NewStore creates a session store bound to one companion identity.
func NewStore(companionID string, db *gorm.DB, f feed.Feed, d Dispatcher) *Store {
	return &Store{
		companionID: companionID,
		db:          db,
		feed:        f,
		dispatcher:  d,
		sessions:    make(map[string]*model.TrackingSession),
	}
}

// StartSession begins observing a ride. A second start for a ride that already
// has a live session returns the existing session id, upholding the
// one-active-session-per-ride invariant.
func (s *Store) StartSession(ctx context.Context, linkID, travelerID, rideID string, dest model.Destination) (string, error) {
	if s.companionID == "" {
		return "", ErrNotAuthenticated
	}

	now := time.Now().UTC()
	sess := &model.TrackingSession{
		SessionID:   uuid.NewString(),
		LinkID:      linkID,
		CompanionID: s.companionID,
		TravelerID:  travelerID,
		RideID:      rideID,
		Status:      status.Tracking,
		StartTime:   now,
		Destination: dest,
		LastUpdate:  now,
	}

	s.mu.Lock()
	if existing, ok := s.sessions[rideID]; ok && !existing.Status.Terminal() {
		id := existing.SessionID
		s.mu.Unlock()
		return id, nil
	}
	s.sessions[rideID] = sess
	snapshot := *sess
	s.mu.Unlock()

	if err := s.persistLive(ctx, &snapshot); err != nil {
		return "", err
	}
	return snapshot.SessionID, nil
}

// ApplyUpdate is the core transition function: it normalizes the upstream
// status, applies it to the session, and dispatches a notification exactly
// once per distinct canonical status reached.
func (s *Store) ApplyUpdate(ctx context.Context, rideID, upstreamStatus string, loc *model.Location, eta *time.Time) (*model.TrackingSession, error) {
	newStatus := status.Normalize(upstreamStatus)
	now := time.Now().UTC()

	s.mu.Lock()
	sess, ok := s.sessions[rideID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}

	sess.Status = newStatus
	sess.LastUpdate = now
	if loc != nil {
		sess.CurrentLocation = loc
	}
	if eta != nil {
		sess.EstimatedArrival = eta
	}
	if newStatus.Terminal() && sess.EndTime == nil {
		end := now
		sess.EndTime = &end
	}

	fire := markTransition(&sess.Flags, newStatus)
	snapshot := *sess
	s.mu.Unlock()

	// Persistence and dispatch happen outside the critical section; the flag
	// is already set, so a second interleaved delivery sees it and stays quiet.
	if err := s.persistLive(ctx, &snapshot); err != nil {
		log.Printf("track: failed to persist session %s: %v", snapshot.SessionID, err)
	}
	if snapshot.Status.Terminal() {
		s.archive(ctx, &snapshot)
	}
	if fire && s.dispatcher != nil {
		s.dispatcher.Dispatch(notificationFor(&snapshot))
	}

	return &snapshot, nil
}

// markTransition sets the flag for the reached status and reports whether it
// was newly set. Callers must hold the store mutex.
func markTransition(flags *model.NotificationFlags, st status.Status) bool {
	var flag *bool
	switch st {
	case status.Tracking:
		flag = &flags.RideStarted
	case status.InProgress:
		flag = &flags.RideInProgress
	case status.Completed:
		flag = &flags.RideCompleted
	case status.Cancelled:
		flag = &flags.RideCancelled
	default:
		return false
	}
	if *flag {
		return false
	}
	*flag = true
	return true
}

func notificationFor(sess *model.TrackingSession) model.Notification {
	var title, body string
	switch sess.Status {
	case status.Tracking:
		title = "Ride tracking started"
		body = fmt.Sprintf("Now tracking %s's ride to %s.", sess.TravelerID, sess.Destination.Address)
	case status.InProgress:
		title = "Ride in progress"
		body = fmt.Sprintf("%s's ride to %s is underway.", sess.TravelerID, sess.Destination.Address)
	case status.Completed:
		title = "Ride completed"
		body = fmt.Sprintf("%s arrived at %s.", sess.TravelerID, sess.Destination.Address)
	case status.Cancelled:
		title = "Ride cancelled"
		body = fmt.Sprintf("%s's ride to %s was cancelled.", sess.TravelerID, sess.Destination.Address)
	}
	return model.Notification{
		CompanionID: sess.CompanionID,
		Title:       title,
		Body:        body,
		Data: map[string]string{
			"ride_id":    sess.RideID,
			"session_id": sess.SessionID,
			"status":     string(sess.Status),
		},
	}
}

// StopSession is the companion-initiated terminal transition. The matching
// notification flag is set without dispatching, so a late feed echo of the
// same terminal state cannot re-notify.
func (s *Store) StopSession(ctx context.Context, rideID string, reason status.Status) error {
	if !reason.Terminal() {
		return ErrBadStopReason
	}

	now := time.Now().UTC()

	s.mu.Lock()
	sess, ok := s.sessions[rideID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	sess.Status = reason
	sess.LastUpdate = now
	if sess.EndTime == nil {
		end := now
		sess.EndTime = &end
	}
	markTransition(&sess.Flags, reason)
	snapshot := *sess
	s.mu.Unlock()

	if err := s.persistLive(ctx, &snapshot); err != nil {
		return err
	}
	s.archive(ctx, &snapshot)
	return nil
}

// GetActive returns a snapshot of the sessions still being observed.
func (s *Store) GetActive() []model.TrackingSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make([]model.TrackingSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if !sess.Status.Terminal() {
			active = append(active, *sess)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].StartTime.Before(active[j].StartTime)
	})
	return active
}

// GetByID returns a snapshot of the session for a ride, terminal or not.
func (s *Store) GetByID(rideID string) (*model.TrackingSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[rideID]
	if !ok {
		return nil, false
	}
	snapshot := *sess
	return &snapshot, true
}

// GetHistory returns terminated sessions, most recently ended first. The
// document store is authoritative; on a read failure the in-memory terminal
// sessions are served instead so the history view degrades rather than fails.
func (s *Store) GetHistory(ctx context.Context, limit int) []model.TrackingSession {
	if limit <= 0 {
		limit = 20
	}

	var records []model.TrackingRecord
	err := s.db.WithContext(ctx).
		Where("companion_id = ?", s.companionID).
		Order("end_time DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		log.Printf("track: failed to load history for %s, serving cached view: %v", s.companionID, err)
		return s.cachedHistory(limit)
	}

	sessions := make([]model.TrackingSession, 0, len(records))
	for i := range records {
		sessions = append(sessions, records[i].Session())
	}
	return sessions
}

func (s *Store) cachedHistory(limit int) []model.TrackingSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]model.TrackingSession, 0)
	for _, sess := range s.sessions {
		if sess.Status.Terminal() {
			history = append(history, *sess)
		}
	}
	sort.Slice(history, func(i, j int) bool {
		ti, tj := history[i].LastUpdate, history[j].LastUpdate
		if history[i].EndTime != nil {
			ti = *history[i].EndTime
		}
		if history[j].EndTime != nil {
			tj = *history[j].EndTime
		}
		return ti.After(tj)
	})
	if len(history) > limit {
		history = history[:limit]
	}
	return history
}

// Adopt inserts an externally resolved session into the cache without
// persisting it again. The reconciler uses this for records recovered from the
// feed or from the legacy cache.
func (s *Store) Adopt(sess model.TrackingSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.RideID]; exists {
		return
	}
	s.sessions[sess.RideID] = &sess
}

// CompanionID returns the identity the store is bound to.
func (s *Store) CompanionID() string {
	return s.companionID
}

func (s *Store) persistLive(ctx context.Context, sess *model.TrackingSession) error {
	path := feed.LiveTrackingPath(sess.CompanionID, sess.RideID)
	if err := s.feed.Set(ctx, path, sess); err != nil {
		return fmt.Errorf("failed to persist live session %s: %w", sess.SessionID, err)
	}
	return nil
}

// archive writes the terminal session to the document store. The upsert keyed
// on session id keeps a feed echo of the terminal state from inserting twice.
func (s *Store) archive(ctx context.Context, sess *model.TrackingSession) {
	rec := sess.Record()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "end_time"}),
	}).Create(&rec).Error
	if err != nil {
		log.Printf("track: failed to archive session %s: %v", sess.SessionID, err)
	}
}
