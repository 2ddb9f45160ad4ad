// Package projection maintains the per-session in-memory mirrors of
// complaints, notifications, and chat messages. The Postgres store stays the
// source of truth; these collections are derived state, replaced wholesale on
// every refresh so readers never observe a partial update, and refreshed
// again whenever the change feed reports that a mirrored table moved.
package projection

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"caseflow/api/internal/realtime"
	"caseflow/api/internal/store"
)

// refreshTimeout bounds every backend fetch; a hung backend call must not
// wedge the session. One retry, then the previous snapshot stays in place.
const refreshTimeout = 5 * time.Second

// Store is the slice of the data store a projection needs.
type Store interface {
	ListComplaintsVisibleTo(ctx context.Context, principalID, role string) ([]store.Complaint, error)
	ListNotifications(ctx context.Context, userID string) ([]store.Notification, error)
	ListChatMessages(ctx context.Context) ([]store.ChatMessage, error)
}

// Feed is the change-subscription surface of realtime.Feed.
type Feed interface {
	Subscribe(ctx context.Context, tables ...string) (<-chan realtime.Event, func())
}

// Service mirrors backend state for one authenticated principal. Construct
// one per session and pass it by reference; there is no package-level state.
type Service struct {
	store       Store
	feed        Feed
	principalID string
	role        string

	mu            sync.RWMutex
	complaints    []store.Complaint
	notifications []store.Notification
	messages      []store.ChatMessage

	stop func()
	done chan struct{}
}

func New(st Store, feed Feed, principalID, role string) *Service {
	return &Service{
		store:       st,
		feed:        feed,
		principalID: principalID,
		role:        role,
	}
}

// Role returns the principal role this projection's visibility is scoped to.
func (s *Service) Role() string {
	return s.role
}

// withRetry runs fn under the refresh timeout, retrying once on failure.
func withRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
		err = fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
	}
	return err
}

// RefreshComplaints re-fetches every complaint in the principal's visibility
// scope, newest first, and swaps the local collection atomically. On backend
// failure the previous snapshot stays intact: stale-but-consistent beats
// empty-but-wrong.
func (s *Service) RefreshComplaints(ctx context.Context) error {
	var items []store.Complaint
	err := withRetry(ctx, func(ctx context.Context) error {
		var fetchErr error
		items, fetchErr = s.store.ListComplaintsVisibleTo(ctx, s.principalID, s.role)
		return fetchErr
	})
	if err != nil {
		log.Printf("WARNING: complaint refresh failed, keeping previous snapshot: %v", err)
		return err
	}

	s.mu.Lock()
	s.complaints = items
	s.mu.Unlock()
	return nil
}

// RefreshNotifications re-fetches the principal's notifications, newest first.
func (s *Service) RefreshNotifications(ctx context.Context) error {
	var items []store.Notification
	err := withRetry(ctx, func(ctx context.Context) error {
		var fetchErr error
		items, fetchErr = s.store.ListNotifications(ctx, s.principalID)
		return fetchErr
	})
	if err != nil {
		log.Printf("WARNING: notification refresh failed, keeping previous snapshot: %v", err)
		return err
	}

	s.mu.Lock()
	s.notifications = items
	s.mu.Unlock()
	return nil
}

// RefreshMessages re-fetches all chat messages, oldest first.
func (s *Service) RefreshMessages(ctx context.Context) error {
	var items []store.ChatMessage
	err := withRetry(ctx, func(ctx context.Context) error {
		var fetchErr error
		items, fetchErr = s.store.ListChatMessages(ctx)
		return fetchErr
	})
	if err != nil {
		log.Printf("WARNING: chat message refresh failed, keeping previous snapshot: %v", err)
		return err
	}

	s.mu.Lock()
	s.messages = items
	s.mu.Unlock()
	return nil
}

// RefreshAll primes every collection. Errors are collected per table inside
// the individual refreshes; the last one wins here because callers only need
// to know whether the projection is fully warm.
func (s *Service) RefreshAll(ctx context.Context) error {
	var err error
	if refreshErr := s.RefreshComplaints(ctx); refreshErr != nil {
		err = refreshErr
	}
	if refreshErr := s.RefreshNotifications(ctx); refreshErr != nil {
		err = refreshErr
	}
	if refreshErr := s.RefreshMessages(ctx); refreshErr != nil {
		err = refreshErr
	}
	return err
}

// Start opens the two live subscriptions (chat messages and notifications)
// and re-runs the matching refresh on every change event, whatever the row or
// operation. Coarse refetch-on-notify: simple, and eventually consistent
// after each event. No-op without a feed (unauthenticated sessions never get
// one).
func (s *Service) Start(ctx context.Context) {
	if s.feed == nil {
		return
	}

	events, stop := s.feed.Subscribe(ctx, realtime.TableChatMessages, realtime.TableNotifications)
	done := make(chan struct{})
	s.mu.Lock()
	s.stop = stop
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for event := range events {
			refreshCtx := context.Background()
			switch event.Table {
			case realtime.TableChatMessages:
				_ = s.RefreshMessages(refreshCtx)
			case realtime.TableNotifications:
				_ = s.RefreshNotifications(refreshCtx)
			}
		}
	}()
}

// Close tears down the live subscriptions and clears every collection. After
// Close the projection holds nothing and receives nothing: no dangling
// listeners past the end of a session.
func (s *Service) Close() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}

	s.mu.Lock()
	s.complaints = nil
	s.notifications = nil
	s.messages = nil
	s.mu.Unlock()
}

// ---- snapshot queries (no backend round-trip) ----

// Complaints returns a copy of the current complaint snapshot.
func (s *Service) Complaints() []store.Complaint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Complaint(nil), s.complaints...)
}

// ByUser filters the complaint snapshot to one owner, order preserved.
func (s *Service) ByUser(userID string) []store.Complaint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]store.Complaint, 0)
	for _, item := range s.complaints {
		if item.UserID == userID {
			items = append(items, item)
		}
	}
	return items
}

// ByAgent filters the complaint snapshot to one assigned agent.
func (s *Service) ByAgent(agentID string) []store.Complaint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]store.Complaint, 0)
	for _, item := range s.complaints {
		if item.AgentID != nil && *item.AgentID == agentID {
			items = append(items, item)
		}
	}
	return items
}

// Notifications returns a copy of the current notification snapshot.
func (s *Service) Notifications() []store.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Notification(nil), s.notifications...)
}

// UnreadNotifications filters to the principal's unread notifications.
func (s *Service) UnreadNotifications(userID string) []store.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]store.Notification, 0)
	for _, item := range s.notifications {
		if item.UserID == userID && !item.Read {
			items = append(items, item)
		}
	}
	return items
}

// MessagesForComplaint returns the complaint's chat transcript sorted by
// creation time ascending. The sort is explicit and stable here, not trusted
// from the backend: change events can deliver batches out of order.
func (s *Service) MessagesForComplaint(complaintID string) []store.ChatMessage {
	s.mu.RLock()
	items := make([]store.ChatMessage, 0)
	for _, item := range s.messages {
		if item.ComplaintID == complaintID {
			items = append(items, item)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}
