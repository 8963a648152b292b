// Package debugstats periodically logs runtime and store statistics at debug
// level.
package debugstats

import (
	"context"
	"fmt"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/service"
	"go.uber.org/zap"
	"runtime"
	"time"
)

// StoreStats provides statistics about the event store.
type StoreStats interface {
	Revision() uint64
	Len() int
}

// ClientStats provides the number of connected websocket clients.
type ClientStats interface {
	ClientCount() int
}

// Config for the service created with NewService.
type Config struct {
	// IsEnabled describes whether periodic debug stats logging is desired.
	IsEnabled bool
	// Interval in which to log debug stats.
	Interval time.Duration
	// IncludeStack also logs the stack of all goroutines.
	IncludeStack bool
}

type debugStatsService struct {
	logger      *zap.Logger
	config      Config
	storeStats  StoreStats
	clientStats ClientStats
}

// NewService creates the debug stats service. The ClientStats may be nil.
func NewService(logger *zap.Logger, config Config, storeStats StoreStats, clientStats ClientStats) (service.Service, error) {
	if config.IsEnabled && config.Interval <= 0 {
		return nil, errors.Error{
			Code:    errors.ErrBadRequest,
			Kind:    errors.KindInvalidConfig,
			Message: "debug stats interval must be positive",
			Details: errors.Details{"interval": config.Interval.String()},
		}
	}
	return &debugStatsService{
		logger:      logger,
		config:      config,
		storeStats:  storeStats,
		clientStats: clientStats,
	}, nil
}

func (s *debugStatsService) Run(ctx context.Context) error {
	if !s.config.IsEnabled {
		return nil
	}
	s.logger.Debug(fmt.Sprintf("logging system state every %gs", s.config.Interval.Seconds()))
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.logStats()
		}
	}
}

// logStats logs the current system state like memory stats, store revision
// and connected clients.
func (s *debugStatsService) logStats() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	fields := []zap.Field{
		zap.Int("num_cpu", runtime.NumCPU()),
		zap.Int("num_goroutine", runtime.NumGoroutine()),
		zap.Uint64("memory_in_use_mb", memStats.Sys/1000/1000),
		zap.Uint64("store_revision", s.storeStats.Revision()),
		zap.Int("store_events", s.storeStats.Len()),
	}
	if s.clientStats != nil {
		fields = append(fields, zap.Int("ws_clients", s.clientStats.ClientCount()))
	}
	if s.config.IncludeStack {
		buf := make([]byte, 1<<16)
		stackSize := runtime.Stack(buf, true)
		fields = append(fields, zap.String("stack", string(buf[:stackSize])))
	}
	s.logger.Debug("debug system stats", fields...)
}
