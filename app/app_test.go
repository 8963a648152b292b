package app

import (
	"context"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/event"
	"github.com/lefinal/event-status-server/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const timeout = 3 * time.Second

func TestApp_Boot(t *testing.T) {
	dir := t.TempDir()
	config := validConfig()
	config.Server.ListenAddr = "127.0.0.1:0"
	config.Files.Base = filepath.Join(dir, "events.json")
	config.Files.Snapshot = filepath.Join(dir, "curr_state.json")
	config.Metrics.Enabled = true
	writeTestFile(t, config.Files.Base, `[{"name":"Yukti","status":"Soon"}]`)
	app := NewApp(zap.New(zapcore.NewNopCore()), config, nil)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	var wg sync.WaitGroup
	var bootErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		bootErr = app.Boot(ctx)
	}()
	// Boot writes the initial snapshot before serving.
	assert.Eventually(t, func() bool {
		return fileExists(config.Files.Snapshot)
	}, timeout, 10*time.Millisecond, "should write initial snapshot")
	cancel()
	wg.Wait()
	assert.NoError(t, bootErr, "should shut down without error")
}

func TestApp_BootInvalidBaseFile(t *testing.T) {
	dir := t.TempDir()
	config := validConfig()
	config.Server.ListenAddr = "127.0.0.1:0"
	config.Files.Base = filepath.Join(dir, "events.json")
	config.Files.Snapshot = filepath.Join(dir, "curr_state.json")
	writeTestFile(t, config.Files.Base, `{"name":"Yukti"}`)
	app := NewApp(zap.New(zapcore.NewNopCore()), config, nil)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := app.Boot(ctx)
	require.Error(t, err, "should fail")
	e, _ := errors.Cast(err)
	assert.Equal(t, errors.ErrFatal, e.Code, "should be fatal")
}

func TestApp_BootInvalidMQTTAddr(t *testing.T) {
	dir := t.TempDir()
	config := validConfig()
	config.Files.Base = filepath.Join(dir, "events.json")
	config.Files.Snapshot = filepath.Join(dir, "curr_state.json")
	config.MQTT.Addr.String = "localhost"
	config.MQTT.Addr.Valid = true
	writeTestFile(t, config.Files.Base, `[]`)
	app := NewApp(zap.New(zapcore.NewNopCore()), config, nil)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := app.Boot(ctx)
	require.Error(t, err, "should fail")
	e, _ := errors.Cast(err)
	assert.Equal(t, errors.KindInvalidConfig, e.Kind)
}

type persisterStub struct {
	mock.Mock
}

func (p *persisterStub) Persist(ctx context.Context, events []event.Event) error {
	return p.Called(ctx, events).Error(0)
}

func TestInstrumentedPersister(t *testing.T) {
	p := &persisterStub{}
	defer p.AssertExpectations(t)
	events := []event.Event{{Name: "Yukti", Status: event.StatusOngoing}}
	p.On("Persist", mock.Anything, events).Return(nil).Once()
	p.On("Persist", mock.Anything, events).Return(errors.NewInternalError("sad life", nil)).Once()
	m := metrics.New(nil)
	instrumented := instrumentedPersister{persister: p, metrics: m}

	assert.NoError(t, instrumented.Persist(context.Background(), events))
	assert.Error(t, instrumented.Persist(context.Background(), events))
}

func TestBoardSourceFunc(t *testing.T) {
	board := event.Board{Revision: 2, Events: []event.Event{{Name: "Nataka", Status: event.StatusEnded}}}
	source := boardSourceFunc(func() event.Board { return board })
	assert.Equal(t, board, source.Snapshot())
}

// migratorStub mocks migrator.
type migratorStub struct {
	mock.Mock
}

func (m *migratorStub) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestPrepareSchema(t *testing.T) {
	t.Run("skip", func(t *testing.T) {
		m := &migratorStub{}
		require.NoError(t, prepareSchema(context.Background(), m, false), "should not fail")
		m.AssertNotCalled(t, "Migrate", mock.Anything)
	})
	t.Run("migrate", func(t *testing.T) {
		m := &migratorStub{}
		m.On("Migrate", mock.Anything).Return(nil).Once()
		defer m.AssertExpectations(t)
		require.NoError(t, prepareSchema(context.Background(), m, true), "should not fail")
	})
	t.Run("fail", func(t *testing.T) {
		m := &migratorStub{}
		m.On("Migrate", mock.Anything).Return(errors.NewInternalError("sad life", nil)).Once()
		defer m.AssertExpectations(t)
		assert.Error(t, prepareSchema(context.Background(), m, true), "should fail")
	})
}

func TestServices_run(t *testing.T) {
	t.Run("stop all on context done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		s := services{
			"a": serviceFunc(func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			}),
			"b": serviceFunc(func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			}),
		}
		done := make(chan error)
		go func() { done <- s.run(ctx) }()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(timeout):
			t.Fatal("timeout")
		}
	})
	t.Run("stop all on failure", func(t *testing.T) {
		s := services{
			"waiting": serviceFunc(func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			}),
			"failing": serviceFunc(func(ctx context.Context) error {
				return errors.NewInternalError("sad life", nil)
			}),
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := s.run(ctx)
		require.Error(t, err, "should fail")
		e, _ := errors.Cast(err)
		assert.Equal(t, "failing", e.Details["service_name"])
	})
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
