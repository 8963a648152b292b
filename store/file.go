package store

import (
	"context"
	"encoding/json"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/event"
	"os"
	"path/filepath"
)

// FileSnapshots keeps the snapshot as JSON array in a single file.
type FileSnapshots struct {
	path string
}

// NewFileSnapshots creates a FileSnapshots using the file at the given path.
func NewFileSnapshots(path string) *FileSnapshots {
	return &FileSnapshots{path: path}
}

// Path of the snapshot file.
func (s *FileSnapshots) Path() string {
	return s.path
}

// LoadSnapshot reads and decodes the snapshot file.
func (s *FileSnapshots) LoadSnapshot(_ context.Context) ([]event.Event, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Error{
				Code:    errors.ErrNotFound,
				Kind:    errors.KindSnapshotMissing,
				Err:     err,
				Message: "snapshot file does not exist",
				Details: errors.Details{"path": s.path},
			}
		}
		return nil, errors.NewInternalErrorFromErr(err, "read snapshot file", errors.Details{"path": s.path})
	}
	events, err := ParseEvents(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse snapshot file", errors.Details{"path": s.path})
	}
	return events, nil
}

// SaveSnapshot writes the events to a temporary file next to the snapshot file
// and renames it over the snapshot file, so the snapshot is never observed
// partially written.
func (s *FileSnapshots) SaveSnapshot(_ context.Context, events []event.Event) error {
	raw, err := json.MarshalIndent(event.CopyEvents(events), "", "  ")
	if err != nil {
		return errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindEncodeJSON,
			Err:     err,
			Message: "encode snapshot",
		}
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "create temporary snapshot file", errors.Details{"dir": dir})
	}
	tmpName := tmp.Name()
	// Clean up if we fail before renaming.
	renamed := false
	defer func() {
		if !renamed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err = tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return errors.NewInternalErrorFromErr(err, "write temporary snapshot file", errors.Details{"path": tmpName})
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.NewInternalErrorFromErr(err, "sync temporary snapshot file", errors.Details{"path": tmpName})
	}
	if err = tmp.Close(); err != nil {
		return errors.NewInternalErrorFromErr(err, "close temporary snapshot file", errors.Details{"path": tmpName})
	}
	if err = os.Chmod(tmpName, 0644); err != nil {
		return errors.NewInternalErrorFromErr(err, "chmod temporary snapshot file", errors.Details{"path": tmpName})
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return errors.NewInternalErrorFromErr(err, "replace snapshot file", errors.Details{
			"from": tmpName,
			"to":   s.path,
		})
	}
	renamed = true
	return nil
}
