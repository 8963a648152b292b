// Package logpublishsvc publishes log entries to MQTT so that operators can
// watch problems without access to the host.
package logpublishsvc

import (
	"context"
	"github.com/lefinal/event-status-server/logging"
	"github.com/lefinal/event-status-server/portal"
	"github.com/lefinal/event-status-server/service"
	"go.uber.org/zap"
	"strings"
	"time"
)

// DefaultTopicPrefix is used if no prefix is configured.
const DefaultTopicPrefix = "events-status"

// publishDebounceDelay is the delay to wait for collecting log entries. This
// avoids publishing on every log call.
const publishDebounceDelay = 100 * time.Millisecond

// LogEntryMessage is the payload published for each log entry.
type LogEntryMessage struct {
	Time       time.Time              `json:"time"`
	Level      string                 `json:"level"`
	LoggerName string                 `json:"logger_name"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// logPublishService publishes log entries from logEntriesIn to the portal.
type logPublishService struct {
	logger *zap.Logger
	portal portal.Portal
	topic  portal.Topic
	// logEntriesIn is the channel to read log entries to publish from.
	logEntriesIn <-chan logging.LogEntry
}

// New creates a new log publish service that publishes entries read from the
// given channel to <prefix>/logs. The logger of the given portal must not feed
// the channel. Use logging.NoPublish for that.
func New(logger *zap.Logger, portal portal.Portal, logEntriesIn <-chan logging.LogEntry, topicPrefix string) service.Service {
	topicPrefix = strings.TrimSuffix(topicPrefix, "/")
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	return &logPublishService{
		logger:       logger,
		portal:       portal,
		topic:        logsTopic(topicPrefix),
		logEntriesIn: logEntriesIn,
	}
}

func logsTopic(prefix string) portal.Topic {
	return portal.Topic(prefix + "/logs")
}

// Run the service until the given context.Context is done or the entry channel
// is closed.
func (s *logPublishService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, more := <-s.logEntriesIn:
			if !more {
				return nil
			}
			s.publishLogEntriesAfterTimeout(ctx, entry)
		}
	}
}

// publishLogEntriesAfterTimeout waits for publishDebounceDelay and publishes
// the given entry along with all others queued meanwhile.
func (s *logPublishService) publishLogEntriesAfterTimeout(ctx context.Context, firstEntry logging.LogEntry) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(publishDebounceDelay):
	}
	s.publishLogEntry(ctx, firstEntry)
	published := 1
	for {
		select {
		case entry, more := <-s.logEntriesIn:
			if !more {
				return
			}
			s.publishLogEntry(ctx, entry)
			published++
		default:
			s.logger.Debug("published log entries", zap.Int("count", published))
			return
		}
	}
}

func (s *logPublishService) publishLogEntry(ctx context.Context, entry logging.LogEntry) {
	s.portal.Publish(ctx, s.topic, LogEntryMessage{
		Time:       entry.Time,
		Level:      entry.Level.String(),
		LoggerName: entry.LoggerName,
		Message:    entry.Message,
		Fields:     entry.Fields,
	})
}
