// Package web_server serves the HTTP API for reading and updating event
// statuses.
package web_server

import (
	"context"
	nativeerrors "errors"
	"github.com/gorilla/mux"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/event"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"net/http"
	"time"
)

const (
	// DefaultServeAddr is the default address to serve on.
	DefaultServeAddr = ":8000"
	// DefaultWriteTimeout is the default timeout for writing.
	DefaultWriteTimeout = 15 * time.Second
	// DefaultReadTimeout is the default timeout for reading.
	DefaultReadTimeout = 15 * time.Second
	// shutdownTimeout is the time to wait for open requests when shutting down.
	shutdownTimeout = 15 * time.Second
)

// EventStore is the store the handlers read from and write to.
type EventStore interface {
	ListAll() []event.Event
	Snapshot() event.Board
	UpdateStatus(ctx context.Context, name string, status event.Status) ([]event.Event, bool, error)
}

// Authorizer decides whether a credential may update an event.
type Authorizer interface {
	Authorize(credential string, eventName string) bool
}

// Metrics records request and update metrics and serves them.
type Metrics interface {
	ObserveRequest(route string, method string, code int, duration time.Duration)
	TrackStatusUpdate(outcome string)
	Handler() http.Handler
}

// Config is the configuration that is used in order to create and run a web
// server.
type Config struct {
	// Address for the web server to listen to.
	ServeAddr string
	// WriteTimeout is the duration to wait until write fails with a timeout.
	WriteTimeout time.Duration
	// ReadTimeout is the duration to wait until read fails with a timeout.
	ReadTimeout time.Duration
	// AllowedOrigins for CORS requests.
	AllowedOrigins []string
	// RequestsPerSecond is the quota per route and client address. Zero
	// disables rate limiting.
	RequestsPerSecond float64
	// Burst is the number of requests allowed at once.
	Burst int
	// StrictStatus rejects unknown status text with 400 instead of answering
	// with the unchanged event list.
	StrictStatus bool
}

// WebServer serves the API. Create it with NewWebServer.
type WebServer struct {
	logger     *zap.Logger
	config     Config
	store      EventStore
	authorizer Authorizer
	// metrics is optional.
	metrics    Metrics
	router     *mux.Router
	apiRouter  *mux.Router
	handler    http.Handler
	limiter    *rateLimiter
	httpServer *http.Server
}

// NewWebServer creates a new WebServer and sets up the API routes. Metrics may
// be nil. Run it with WebServer.Run.
func NewWebServer(logger *zap.Logger, config Config, store EventStore, authorizer Authorizer, metrics Metrics) (*WebServer, error) {
	if config.ServeAddr == "" {
		return nil, errors.Error{
			Code:    errors.ErrBadRequest,
			Kind:    errors.KindInvalidConfig,
			Message: "no addr provided in config",
		}
	}
	if config.RequestsPerSecond < 0 {
		return nil, errors.Error{
			Code:    errors.ErrBadRequest,
			Kind:    errors.KindInvalidConfig,
			Message: "requests per second must not be negative",
			Details: errors.Details{"requestsPerSecond": config.RequestsPerSecond},
		}
	}
	if config.RequestsPerSecond > 0 && config.Burst < 1 {
		config.Burst = 1
	}
	server := &WebServer{
		logger:     logger,
		config:     config,
		store:      store,
		authorizer: authorizer,
		metrics:    metrics,
		router:     mux.NewRouter(),
		limiter:    newRateLimiter(config.RequestsPerSecond, config.Burst),
	}
	server.populateRoutes()
	server.handler = cors.New(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Accept", "Content-Type", "Origin"},
		AllowCredentials: true,
	}).Handler(server.router)
	server.httpServer = &http.Server{
		Handler:      server.handler,
		Addr:         config.ServeAddr,
		WriteTimeout: config.WriteTimeout,
		ReadTimeout:  config.ReadTimeout,
	}
	return server, nil
}

// Handler returns the complete handler including CORS handling.
func (server *WebServer) Handler() http.Handler {
	return server.handler
}

// HandleWS adds the websocket route with the given handler.
func (server *WebServer) HandleWS(handler http.Handler) {
	server.apiRouter.Handle("/ws", handler).Methods(http.MethodGet).Name("ws")
}

// Run the web server until the given context is done.
func (server *WebServer) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		server.logger.Info("web server running", zap.String("addr", server.config.ServeAddr))
		err := server.httpServer.ListenAndServe()
		if err != nil && !nativeerrors.Is(err, http.ErrServerClosed) {
			serveErr <- errors.Error{
				Code:    errors.ErrFatal,
				Err:     err,
				Message: "listen and serve",
				Details: errors.Details{"addr": server.config.ServeAddr},
			}
		}
		close(serveErr)
	}()
	// Wait for stop command.
	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := server.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "shutdown web server", nil)
	}
	return nil
}
