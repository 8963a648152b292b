package event

import (
	"encoding/json"
	"github.com/lefinal/event-status-server/errors"
	"strings"
)

// Status is the lifecycle status of an Event. Only the constants below are
// valid values.
type Status string

const (
	StatusStarted Status = "Started"
	StatusEnded   Status = "Ended"
	StatusRound1  Status = "Round1"
	StatusRound2  Status = "Round2"
	StatusRound3  Status = "Round3"
	StatusRound4  Status = "Round4"
	StatusOngoing Status = "Ongoing"
	StatusDelayed Status = "Delayed"
	StatusSoon    Status = "Soon"
)

// allStatuses in declaration order.
var allStatuses = []Status{
	StatusStarted,
	StatusEnded,
	StatusRound1,
	StatusRound2,
	StatusRound3,
	StatusRound4,
	StatusOngoing,
	StatusDelayed,
	StatusSoon,
}

// statusByLowerTag maps the lower-cased tag to its Status.
var statusByLowerTag = func() map[string]Status {
	m := make(map[string]Status, len(allStatuses))
	for _, s := range allStatuses {
		m[strings.ToLower(string(s))] = s
	}
	return m
}()

// AllStatuses returns all known statuses in declaration order.
func AllStatuses() []Status {
	statuses := make([]Status, len(allStatuses))
	copy(statuses, allStatuses)
	return statuses
}

// ParseStatus parses the given text case-insensitively. If it matches none of
// the known tags, an errors.ErrBadRequest error with kind
// errors.KindInvalidStatus is returned.
func ParseStatus(text string) (Status, error) {
	s, ok := statusByLowerTag[strings.ToLower(text)]
	if !ok {
		return "", errors.NewInvalidStatusError(text)
	}
	return s, nil
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// MarshalJSON writes the status tag. Unknown statuses are refused so that they
// never end up in a snapshot.
func (s Status) MarshalJSON() ([]byte, error) {
	if !s.IsValid() {
		return nil, errors.NewInvalidStatusError(string(s))
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON accepts one of the known status tags in any casing.
func (s *Status) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return errors.NewDecodeJSONError(err, "status is no string")
	}
	parsed, err := ParseStatus(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
