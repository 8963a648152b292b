// Package statuspublishsvc publishes committed status changes to MQTT.
package statuspublishsvc

import (
	"context"
	"fmt"
	"github.com/lefinal/event-status-server/event"
	"github.com/lefinal/event-status-server/portal"
	"github.com/lefinal/event-status-server/service"
	"go.uber.org/zap"
	"strings"
	"time"
)

// DefaultTopicPrefix is used if no prefix is configured.
const DefaultTopicPrefix = "events-status"

// publishDebounceDelay is the delay to wait for collecting status changes
// before publishing the full event list.
const publishDebounceDelay = 100 * time.Millisecond

// queueSize is the number of changes that can be queued before dropping.
const queueSize = 256

// BoardSource provides the current board, published each time the MQTT
// connection comes up.
type BoardSource interface {
	Snapshot() event.Board
}

// Service publishes each status change retained to
// <prefix>/events/<name>/status and the full event list to <prefix>/events.
type Service interface {
	service.Service
	// StatusChanged queues the change for publishing. It never blocks.
	StatusChanged(change event.StatusChange)
	// ConnectionUp requests publishing the whole board. It never blocks. Register
	// it with portal.Base.OnConnectionUp.
	ConnectionUp()
}

type statusPublishService struct {
	logger      *zap.Logger
	portal      portal.Portal
	boardSource BoardSource
	topicPrefix string
	// changes receives committed changes from StatusChanged.
	changes chan event.StatusChange
	// connectionUp receives from ConnectionUp.
	connectionUp chan struct{}
	// publishedRevision is the revision of the latest published state. Changes
	// not newer than it are skipped. Only accessed in Run.
	publishedRevision uint64
}

// New creates a new status publish service. If the topic prefix is empty,
// DefaultTopicPrefix is used.
func New(logger *zap.Logger, portal portal.Portal, boardSource BoardSource, topicPrefix string) Service {
	topicPrefix = strings.TrimSuffix(topicPrefix, "/")
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	return &statusPublishService{
		logger:       logger,
		portal:       portal,
		boardSource:  boardSource,
		topicPrefix:  topicPrefix,
		changes:      make(chan event.StatusChange, queueSize),
		connectionUp: make(chan struct{}, 1),
	}
}

// StatusChanged queues the change. If the queue is full, the change is dropped
// and logged.
func (s *statusPublishService) StatusChanged(change event.StatusChange) {
	select {
	case s.changes <- change:
	default:
		s.logger.Warn("publish queue full, dropping status change",
			zap.String("event_name", change.Name),
			zap.Uint64("revision", change.Revision))
	}
}

func (s *statusPublishService) ConnectionUp() {
	select {
	case s.connectionUp <- struct{}{}:
	default:
		// Already requested.
	}
}

// Run the service until the given context.Context is done.
func (s *statusPublishService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.connectionUp:
			s.publishBoard(ctx)
		case change := <-s.changes:
			s.publishChangesAfterTimeout(ctx, change)
		}
	}
}

// publishBoard publishes the status of each event and the full event list.
func (s *statusPublishService) publishBoard(ctx context.Context) {
	board := s.boardSource.Snapshot()
	for _, e := range board.Events {
		s.portal.PublishRetained(ctx, s.statusTopic(e.Name), e.Status)
	}
	s.portal.PublishRetained(ctx, s.eventsTopic(), board.Events)
	if board.Revision > s.publishedRevision {
		s.publishedRevision = board.Revision
	}
	s.logger.Debug("published board", zap.Uint64("revision", board.Revision))
}

// publishChange publishes the status of the given change if it is newer than
// the already published state.
func (s *statusPublishService) publishChange(ctx context.Context, change event.StatusChange) bool {
	if change.Revision <= s.publishedRevision {
		return false
	}
	s.portal.PublishRetained(ctx, s.statusTopic(change.Name), change.Status)
	s.publishedRevision = change.Revision
	return true
}

// publishChangesAfterTimeout publishes the status of the given change and all
// following ones that arrive within publishDebounceDelay. The full event list
// is published once with the latest state.
func (s *statusPublishService) publishChangesAfterTimeout(ctx context.Context, first event.StatusChange) {
	published := s.publishChange(ctx, first)
	latest := first
	select {
	case <-ctx.Done():
		return
	case <-time.After(publishDebounceDelay):
	}
	for {
		select {
		case change := <-s.changes:
			if s.publishChange(ctx, change) {
				published = true
				latest = change
			}
		default:
			if published {
				s.portal.PublishRetained(ctx, s.eventsTopic(), latest.Events)
			}
			return
		}
	}
}

// eventsTopic is the topic for the full event list.
func (s *statusPublishService) eventsTopic() portal.Topic {
	return portal.Topic(fmt.Sprintf("%s/events", s.topicPrefix))
}

// statusTopic is the topic for the status of the event with the given name.
func (s *statusPublishService) statusTopic(eventName string) portal.Topic {
	return portal.Topic(fmt.Sprintf("%s/events/%s/status", s.topicPrefix, topicLevel(eventName)))
}

// topicLevel replaces characters that are not allowed within a single topic
// level.
func topicLevel(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
