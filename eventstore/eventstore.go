// Package eventstore holds the authoritative in-memory event list and
// serializes all reads and status changes.
package eventstore

import (
	"context"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/event"
	"go.uber.org/zap"
	"sync"
	"time"
)

// Persister writes the full event list after a change.
type Persister interface {
	Persist(ctx context.Context, events []event.Event) error
}

// Listener is notified about committed status changes in revision order.
// StatusChanged is called while the store is locked, so it must neither block
// nor call back into the Store.
type Listener interface {
	StatusChanged(change event.StatusChange)
}

// ListenerFunc allows using a function as Listener.
type ListenerFunc func(change event.StatusChange)

// StatusChanged calls f.
func (f ListenerFunc) StatusChanged(change event.StatusChange) {
	f(change)
}

// Store is the authoritative event list.
type Store struct {
	logger    *zap.Logger
	persister Persister
	listeners []Listener
	// events is the current list in its original order.
	events []event.Event
	// revision is incremented with each real status change.
	revision uint64
	// dirty is set when the last persist attempt failed, so that the next
	// update retries writing even if nothing changes.
	dirty bool
	// m locks events, revision and dirty.
	m sync.RWMutex
}

// New creates a Store holding a copy of the given initial events.
func New(logger *zap.Logger, persister Persister, initial []event.Event, listeners ...Listener) *Store {
	return &Store{
		logger:    logger,
		persister: persister,
		listeners: listeners,
		events:    event.CopyEvents(initial),
	}
}

// ListAll returns a copy of all events in their original order.
func (s *Store) ListAll() []event.Event {
	s.m.RLock()
	defer s.m.RUnlock()
	return event.CopyEvents(s.events)
}

// Snapshot returns a copy of all events together with the current revision.
func (s *Store) Snapshot() event.Board {
	s.m.RLock()
	defer s.m.RUnlock()
	return event.Board{
		Revision: s.revision,
		Events:   event.CopyEvents(s.events),
	}
}

// Revision returns the current revision.
func (s *Store) Revision() uint64 {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.revision
}

// Len returns the number of events.
func (s *Store) Len() int {
	s.m.RLock()
	defer s.m.RUnlock()
	return len(s.events)
}

// UpdateStatus sets the status of every event with the given name. It returns
// a copy of the resulting event list and whether any event matched. The list
// is persisted if a status actually changed or a previous write failed. If
// persisting fails, the change is kept in memory and an errors.ErrInternal
// error is returned along with the updated list.
func (s *Store) UpdateStatus(ctx context.Context, name string, status event.Status) ([]event.Event, bool, error) {
	if !status.IsValid() {
		return nil, false, errors.NewInvalidStatusError(string(status))
	}
	s.m.Lock()
	matched := false
	changed := false
	for i := range s.events {
		if s.events[i].Name != name {
			continue
		}
		matched = true
		if s.events[i].Status != status {
			s.events[i].Status = status
			changed = true
		}
	}
	if !matched {
		events := event.CopyEvents(s.events)
		s.m.Unlock()
		return events, false, nil
	}
	if changed {
		s.revision++
	}
	var persistErr error
	if changed || s.dirty {
		persistErr = s.persister.Persist(ctx, s.events)
		s.dirty = persistErr != nil
	}
	events := event.CopyEvents(s.events)
	// Notify while still holding the lock so that listeners receive changes in
	// revision order.
	if changed {
		s.notify(event.StatusChange{
			Revision: s.revision,
			Name:     name,
			Status:   status,
			Events:   events,
			At:       time.Now(),
		})
	}
	s.m.Unlock()
	if persistErr != nil {
		return event.CopyEvents(events), true, errors.Wrap(persistErr, "persist events", errors.Details{
			"eventName": name,
			"status":    status,
		})
	}
	return event.CopyEvents(events), true, nil
}

// notify hands the change to all listeners. Each listener gets its own copy of
// the event list.
func (s *Store) notify(change event.StatusChange) {
	for _, listener := range s.listeners {
		c := change
		c.Events = event.CopyEvents(change.Events)
		listener.StatusChanged(c)
	}
	s.logger.Debug("status changed",
		zap.String("event_name", change.Name),
		zap.String("status", string(change.Status)),
		zap.Uint64("revision", change.Revision))
}
