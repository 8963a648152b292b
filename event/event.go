package event

import (
	"fmt"
	"github.com/lefinal/event-status-server/errors"
	"sort"
	"time"
)

// Event is a named event and its current status. The name is fixed once the
// event is known.
type Event struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// CopyEvents returns a value copy of the given events. A nil slice yields an
// empty one so that it is encoded as JSON array.
func CopyEvents(events []Event) []Event {
	c := make([]Event, len(events))
	copy(c, events)
	return c
}

// ValidateUniqueNames makes sure that no name appears more than once. Otherwise,
// an errors.ErrBadRequest error with kind errors.KindDuplicateEventName is
// returned.
func ValidateUniqueNames(events []Event) error {
	seen := make(map[string]int, len(events))
	for _, e := range events {
		seen[e.Name]++
	}
	duplicates := make([]string, 0)
	for name, count := range seen {
		if count > 1 {
			duplicates = append(duplicates, name)
		}
	}
	if len(duplicates) == 0 {
		return nil
	}
	sort.Strings(duplicates)
	return errors.Error{
		Code:    errors.ErrBadRequest,
		Kind:    errors.KindDuplicateEventName,
		Message: fmt.Sprintf("duplicate event names: %v", duplicates),
		Details: errors.Details{"duplicates": duplicates},
	}
}

// Board is a consistent read of all events together with the revision they
// belong to.
type Board struct {
	// Revision is incremented with each committed status change.
	Revision uint64 `json:"revision"`
	Events   []Event `json:"events"`
}

// StatusChange describes a committed status change of one event name.
type StatusChange struct {
	// Revision of the store after the change.
	Revision uint64 `json:"revision"`
	// Name of the changed event.
	Name string `json:"name"`
	// Status is the new status.
	Status Status `json:"status"`
	// Events holds all events after the change.
	Events []Event `json:"events"`
	// At is when the change was committed.
	At time.Time `json:"at"`
}
