// Package app wires all components together and provides the command line
// interface.
package app

import (
	"context"
	"github.com/lefinal/event-status-server/debugstats"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/event"
	"github.com/lefinal/event-status-server/eventstore"
	"github.com/lefinal/event-status-server/gatekeeping"
	"github.com/lefinal/event-status-server/logging"
	"github.com/lefinal/event-status-server/logpublishsvc"
	"github.com/lefinal/event-status-server/metrics"
	"github.com/lefinal/event-status-server/portal"
	"github.com/lefinal/event-status-server/statuspublishsvc"
	"github.com/lefinal/event-status-server/store"
	"github.com/lefinal/event-status-server/web_server"
	"github.com/lefinal/event-status-server/ws"
	"go.uber.org/zap"
	"time"
)

// App is a complete event status server instance.
type App struct {
	logger *zap.Logger
	// config is the main config used for the App.
	config Config
	// logEntries are published to MQTT if set.
	logEntries <-chan logging.LogEntry
}

// NewApp creates a new App that logs to the given logger. If MQTT is
// configured, entries from the given channel are published. It may be nil.
func NewApp(logger *zap.Logger, config Config, logEntries <-chan logging.LogEntry) *App {
	return &App{
		logger:     logger,
		config:     config,
		logEntries: logEntries,
	}
}

// boardSourceFunc breaks up the cyclic dependency between the store and its
// listeners which need the board of the store.
type boardSourceFunc func() event.Board

func (f boardSourceFunc) Snapshot() event.Board {
	return f()
}

// instrumentedPersister tracks the result of each snapshot write.
type instrumentedPersister struct {
	persister eventstore.Persister
	metrics   *metrics.Metrics
}

func (p instrumentedPersister) Persist(ctx context.Context, events []event.Event) error {
	err := p.persister.Persist(ctx, events)
	p.metrics.TrackSnapshotWrite(err)
	return err
}

// migrator is implemented by snapshot backends with a database schema.
type migrator interface {
	Migrate(ctx context.Context) error
}

// openSnapshots returns the configured store.SnapshotBackend. If a database
// connection is configured, the returned close function must be called when
// done. The database is only migrated if migrate is set.
func openSnapshots(ctx context.Context, logger *zap.Logger, config Config, migrate bool) (store.SnapshotBackend, func(), error) {
	if !config.DB.Conn.Valid {
		logger.Debug("using snapshot file", zap.String("path", config.Files.Snapshot))
		return store.NewFileSnapshots(config.Files.Snapshot), func() {}, nil
	}
	logger.Debug("connecting to database")
	mall, err := store.ConnectMall(ctx, logger.Named("mall"), config.DB.Conn.String)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect mall", nil)
	}
	err = prepareSchema(ctx, mall, migrate)
	if err != nil {
		mall.Close()
		return nil, nil, errors.Wrap(err, "prepare schema", nil)
	}
	logger.Debug("database ready")
	return mall, mall.Close, nil
}

// prepareSchema runs migrations if migrate is set.
func prepareSchema(ctx context.Context, m migrator, migrate bool) error {
	if !migrate {
		return nil
	}
	err := m.Migrate(ctx)
	if err != nil {
		return errors.Wrap(err, "migrate database", nil)
	}
	return nil
}

// Boot sets everything up based on the set config and runs until the given
// context.Context is done or a service fails.
func (app *App) Boot(ctx context.Context) error {
	lifetime, shutdown := context.WithCancel(ctx)
	defer shutdown()
	app.logger.Info("booting up")
	// Load initial events.
	snapshots, closeSnapshots, err := openSnapshots(lifetime, app.logger, app.config, true)
	if err != nil {
		return errors.Wrap(err, "open snapshots", nil)
	}
	defer closeSnapshots()
	persistence := store.NewPersistence(app.logger.Named("persistence"), app.config.Files.Base, snapshots)
	initial, err := persistence.LoadInitial(lifetime)
	if err != nil {
		return errors.Wrap(err, "load initial events", nil)
	}
	// Setup gatekeeper.
	gatekeeper, err := gatekeeping.NewGatekeeper(app.config.Auth.RootKey, app.config.Auth.EventSecrets())
	if err != nil {
		return errors.Wrap(err, "new gatekeeper", nil)
	}
	app.logger.Debug("gatekeeper ready", zap.Int("event_secrets", gatekeeper.AuthorizedEvents()))
	// Metrics are optional. Keep interfaces untyped nil if disabled.
	var appMetrics *metrics.Metrics
	var serverMetrics web_server.Metrics
	var wsClientObserver ws.ClientCountObserver
	var persister eventstore.Persister = persistence
	if app.config.Metrics.Enabled {
		appMetrics = metrics.New(nil)
		serverMetrics = appMetrics
		wsClientObserver = appMetrics
		persister = instrumentedPersister{persister: persistence, metrics: appMetrics}
	}
	var eventStore *eventstore.Store
	boardSource := boardSourceFunc(func() event.Board {
		return eventStore.Snapshot()
	})
	// Setup listeners.
	servicesToRun := make(services)
	listeners := make([]eventstore.Listener, 0)
	hub := ws.NewHub(app.logger.Named("ws-hub"), boardSource, wsClientObserver)
	servicesToRun["ws-hub"] = hub
	listeners = append(listeners, hub)
	if app.config.MQTT.Addr.Valid {
		// Problems with MQTT are not published over MQTT.
		portalBase, err := portal.NewBase(app.logger.Named("portal").With(logging.NoPublish()), portal.Config{
			MQTTAddr: app.config.MQTT.Addr.String,
			ClientID: app.config.MQTT.ClientID,
		})
		if err != nil {
			return errors.Wrap(err, "new portal base", nil)
		}
		servicesToRun["portal"] = serviceFunc(portalBase.Open)
		statusPublisher := statuspublishsvc.New(app.logger.Named("status-publish"),
			portalBase.NewPortal("status-publish"), boardSource, app.config.MQTT.TopicPrefix)
		portalBase.OnConnectionUp(statusPublisher.ConnectionUp)
		servicesToRun["status-publish"] = statusPublisher
		listeners = append(listeners, statusPublisher)
		if app.logEntries != nil {
			servicesToRun["log-publish"] = logpublishsvc.New(app.logger.Named("log-publish").With(logging.NoPublish()),
				portalBase.NewPortal("log-publish"), app.logEntries, app.config.MQTT.TopicPrefix)
		}
	}
	if appMetrics != nil {
		listeners = append(listeners, appMetrics)
	}
	eventStore = eventstore.New(app.logger.Named("event-store"), persister, initial, listeners...)
	if appMetrics != nil {
		appMetrics.StatusChanged(event.StatusChange{Revision: eventStore.Revision()})
	}
	// Debug stats.
	debugStats, err := debugstats.NewService(app.logger.Named("debug-stats"), debugstats.Config{
		IsEnabled:    app.config.Debug.StatsInterval.Valid && app.config.Debug.StatsInterval.Int > 0,
		Interval:     time.Duration(app.config.Debug.StatsInterval.Int) * time.Minute,
		IncludeStack: app.config.Debug.IncludeStack,
	}, eventStore, hub)
	if err != nil {
		return errors.Wrap(err, "new debug stats service", nil)
	}
	servicesToRun["debug-stats"] = debugStats
	// Web server.
	webServer, err := web_server.NewWebServer(app.logger.Named("web-server"), web_server.Config{
		ServeAddr:         app.config.Server.ListenAddr,
		WriteTimeout:      app.config.Server.WriteTimeout,
		ReadTimeout:       app.config.Server.ReadTimeout,
		AllowedOrigins:    app.config.Server.AllowedOrigins,
		RequestsPerSecond: app.config.Server.RequestsPerSecond,
		Burst:             app.config.Server.Burst,
		StrictStatus:      app.config.Server.StrictStatus,
	}, eventStore, gatekeeper, serverMetrics)
	if err != nil {
		return errors.Wrap(err, "new web server", nil)
	}
	webServer.HandleWS(ws.HandleWS(lifetime, app.logger.Named("ws"), hub, app.config.Server.AllowedOrigins))
	servicesToRun["web-server"] = webServer
	app.logger.Info("up and running", zap.Int("events", eventStore.Len()),
		zap.String("addr", app.config.Server.ListenAddr))
	err = servicesToRun.run(lifetime)
	if err != nil {
		return errors.Wrap(err, "run services", nil)
	}
	app.logger.Info("shut down")
	return nil
}
