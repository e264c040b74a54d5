package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"logbook.org/internal/apperr"
)

// InMemory implements Store for tests and memory-backed runs.
type InMemory struct {
	mu     sync.RWMutex
	seq    int64
	items  map[int64]Notification
	failOn error
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{items: make(map[int64]Notification)}
}

// FailWrites makes subsequent inserts return err; nil restores normal behaviour.
func (s *InMemory) FailWrites(err error) {
	s.mu.Lock()
	s.failOn = err
	s.mu.Unlock()
}

func (s *InMemory) InsertNotification(ctx context.Context, n Notification) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != nil {
		return Notification{}, s.failOn
	}
	s.seq++
	n.ID = s.seq
	s.items[n.ID] = n
	return n, nil
}

func (s *InMemory) ListNotifications(ctx context.Context, to Recipient, limit int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Notification
	for _, n := range s.items {
		if n.Role == to.Role && n.TargetID == to.TargetID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) CountUnread(ctx context.Context, to Recipient) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.items {
		if item.Role == to.Role && item.TargetID == to.TargetID && item.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) MarkNotificationRead(ctx context.Context, id int64, to Recipient, at time.Time) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.Role != to.Role || n.TargetID != to.TargetID {
		return Notification{}, apperr.ErrNotFound
	}
	if n.ReadAt == nil {
		n.ReadAt = &at
		s.items[id] = n
	}
	return n, nil
}

// All returns every stored notification in insertion order.
func (s *InMemory) All() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notification, 0, len(s.items))
	for _, n := range s.items {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var _ Store = (*InMemory)(nil)
