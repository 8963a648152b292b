package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"time"
)

// noPublishKey marks log entries that must not be forwarded by a publish core.
const noPublishKey = "no_publish"

// LogEntry is a log entry forwarded by the core created with NewPublishCore.
type LogEntry struct {
	Time       time.Time
	Level      zapcore.Level
	LoggerName string
	Message    string
	Fields     map[string]interface{}
}

// NoPublish returns a field that excludes entries from publishing. Use it for
// loggers of components that publish log entries themselves.
func NoPublish() zap.Field {
	return zap.Bool(noPublishKey, true)
}

func hasNoPublish(fields []zapcore.Field) bool {
	for _, f := range fields {
		if f.Key == noPublishKey {
			return true
		}
	}
	return false
}

// publishCore forwards entries to a channel. Entries are dropped if the channel
// is full so that logging never blocks.
type publishCore struct {
	zapcore.LevelEnabler
	fields  []zapcore.Field
	omit    bool
	entries chan<- LogEntry
}

// NewPublishCore creates a zapcore.Core that forwards entries with at least
// the given level to the given channel.
func NewPublishCore(minLevel zapcore.Level, entries chan<- LogEntry) zapcore.Core {
	return &publishCore{
		LevelEnabler: minLevel,
		entries:      entries,
	}
}

func (c *publishCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	clone.omit = c.omit || hasNoPublish(fields)
	return &clone
}

func (c *publishCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.omit || !c.Enabled(entry.Level) {
		return ce
	}
	return ce.AddCore(entry, c)
}

func (c *publishCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if hasNoPublish(fields) {
		return nil
	}
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	select {
	case c.entries <- LogEntry{
		Time:       entry.Time,
		Level:      entry.Level,
		LoggerName: entry.LoggerName,
		Message:    entry.Message,
		Fields:     enc.Fields,
	}:
	default:
	}
	return nil
}

func (c *publishCore) Sync() error {
	return nil
}
