package store

import (
	"context"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSnapshots_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curr_state.json")
	s := NewFileSnapshots(path)
	events := []event.Event{
		{Name: "Yukti", Status: event.StatusRound2},
		{Name: "Natya-Sutra", Status: event.StatusDelayed},
	}
	require.NoError(t, s.SaveSnapshot(context.Background(), events), "should save")
	got, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err, "should load")
	assert.Equal(t, events, got, "should load saved events")
}

func TestFileSnapshots_SaveOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "curr_state.json")
	s := NewFileSnapshots(path)
	require.NoError(t, s.SaveSnapshot(context.Background(), []event.Event{
		{Name: "Yukti", Status: event.StatusSoon},
		{Name: "Nataka", Status: event.StatusSoon},
	}))
	require.NoError(t, s.SaveSnapshot(context.Background(), []event.Event{
		{Name: "Yukti", Status: event.StatusEnded},
	}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"Yukti","status":"Ended"}]`, string(raw), "should fully rewrite file")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "should leave no temporary files")
}

func TestFileSnapshots_LoadMissing(t *testing.T) {
	s := NewFileSnapshots(filepath.Join(t.TempDir(), "nope.json"))
	_, err := s.LoadSnapshot(context.Background())
	require.Error(t, err, "should fail")
	e, _ := errors.Cast(err)
	assert.Equal(t, errors.ErrNotFound, e.Code)
	assert.Equal(t, errors.KindSnapshotMissing, e.Kind)
}

func TestFileSnapshots_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curr_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"Yukti","status":`), 0644))
	_, err := NewFileSnapshots(path).LoadSnapshot(context.Background())
	require.Error(t, err, "should fail")
	e, _ := errors.Cast(err)
	assert.NotEqual(t, errors.KindSnapshotMissing, e.Kind, "should not report corrupt file as missing")
}

func TestFileSnapshots_SaveIntoMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "curr_state.json")
	err := NewFileSnapshots(path).SaveSnapshot(context.Background(), []event.Event{})
	assert.Error(t, err, "should fail")
}
