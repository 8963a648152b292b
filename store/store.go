// Package store provides persistence for the event list: the operator-supplied
// base file and the snapshot of the last committed state.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/event"
	"go.uber.org/zap"
	"os"
)

// SnapshotBackend stores the snapshot of the last committed event list.
type SnapshotBackend interface {
	// LoadSnapshot loads the last saved snapshot. If none exists, an
	// errors.ErrNotFound error with kind errors.KindSnapshotMissing is returned.
	LoadSnapshot(ctx context.Context) ([]event.Event, error)
	// SaveSnapshot replaces the snapshot with the given events.
	SaveSnapshot(ctx context.Context, events []event.Event) error
}

// Persistence reconciles the base file with the snapshot on startup and
// rewrites the snapshot on changes.
type Persistence struct {
	logger *zap.Logger
	// baseFile is the path of the operator-supplied event list.
	baseFile  string
	snapshots SnapshotBackend
}

// NewPersistence creates a Persistence that seeds from the given base file and
// stores snapshots using the given SnapshotBackend.
func NewPersistence(logger *zap.Logger, baseFile string, snapshots SnapshotBackend) *Persistence {
	return &Persistence{
		logger:    logger,
		baseFile:  baseFile,
		snapshots: snapshots,
	}
}

// Source tells where the initial event list came from.
type Source string

const (
	// SourceSnapshot is used when the snapshot was usable.
	SourceSnapshot Source = "snapshot"
	// SourceBaseFile is used when the base file was read because the snapshot
	// was missing or unusable.
	SourceBaseFile Source = "base-file"
)

// LoadInitial returns the event list to start with. A valid snapshot always
// wins. Otherwise, the base file is read and written as initial snapshot. All
// failures are errors.ErrFatal errors as the service cannot start without a
// known event list.
func (p *Persistence) LoadInitial(ctx context.Context) ([]event.Event, error) {
	events, source, err := p.Inspect(ctx)
	if err != nil {
		return nil, err
	}
	if source == SourceSnapshot {
		return events, nil
	}
	err = p.snapshots.SaveSnapshot(ctx, events)
	if err != nil {
		return nil, errors.NewFatalError(errors.KindWriteSnapshot, err, "write initial snapshot", nil)
	}
	return events, nil
}

// Inspect returns the event list LoadInitial would start with and where it
// came from, without writing anything.
func (p *Persistence) Inspect(ctx context.Context) ([]event.Event, Source, error) {
	events, err := p.loadSnapshot(ctx)
	if err == nil {
		p.logger.Info("resuming from snapshot", zap.Int("events", len(events)))
		return events, SourceSnapshot, nil
	}
	if e, _ := errors.Cast(err); e.Kind == errors.KindSnapshotMissing {
		p.logger.Info("no snapshot found, seeding from base file", zap.String("base_file", p.baseFile))
	} else {
		p.logger.Warn("snapshot unusable, seeding from base file",
			zap.String("base_file", p.baseFile), zap.Error(err))
	}
	events, err = ReadBaseFile(p.baseFile)
	if err != nil {
		return nil, "", errors.Wrap(err, "read base file", nil)
	}
	return events, SourceBaseFile, nil
}

// loadSnapshot loads the snapshot and makes sure it is usable.
func (p *Persistence) loadSnapshot(ctx context.Context) ([]event.Event, error) {
	events, err := p.snapshots.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	err = validateEvents(events)
	if err != nil {
		return nil, errors.Wrap(err, "validate snapshot", nil)
	}
	return events, nil
}

// Persist replaces the snapshot with the given events. Failures are returned as
// errors.ErrInternal errors with kind errors.KindWriteSnapshot.
func (p *Persistence) Persist(ctx context.Context, events []event.Event) error {
	err := p.snapshots.SaveSnapshot(ctx, events)
	if err != nil {
		return errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindWriteSnapshot,
			Err:     err,
			Message: "save snapshot",
		}
	}
	return nil
}

// ReadBaseFile reads and validates the base file at the given path. Any
// failure is an errors.ErrFatal error.
func ReadBaseFile(path string) ([]event.Event, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewFatalError(errors.KindReadBaseFile, err, "read file", errors.Details{"path": path})
	}
	events, err := ParseEvents(raw)
	if err != nil {
		return nil, errors.NewFatalError(errors.KindParseBaseFile, err, "parse file", errors.Details{"path": path})
	}
	return events, nil
}

// ParseEvents decodes a JSON array of events and validates it. Each event needs
// a non-empty name and a known status. Names must be unique.
func ParseEvents(raw []byte) ([]event.Event, error) {
	var events []event.Event
	err := json.Unmarshal(raw, &events)
	if err != nil {
		return nil, errors.NewDecodeJSONError(err, "decode events")
	}
	if events == nil {
		return nil, errors.NewDecodeJSONError(nil, "no event list")
	}
	err = validateEvents(events)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// validateEvents checks names and statuses.
func validateEvents(events []event.Event) error {
	for i, e := range events {
		if e.Name == "" {
			return errors.Error{
				Code:    errors.ErrBadRequest,
				Kind:    errors.KindDecodeJSON,
				Message: fmt.Sprintf("event at index %d has no name", i),
			}
		}
		if !e.Status.IsValid() {
			return errors.Wrap(errors.NewInvalidStatusError(string(e.Status)),
				fmt.Sprintf("event %q", e.Name), nil)
		}
	}
	return event.ValidateUniqueNames(events)
}
