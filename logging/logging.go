// Package logging sets up the zap logger that is injected into all components.
package logging

import (
	"fmt"
	"github.com/gobuffalo/nulls"
	"github.com/lefinal/event-status-server/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"io"
	"os"
	"strings"
)

// Config is the configuration for the logger created with NewLogger.
type Config struct {
	// StdoutLogLevel is the minimum level for logging to stdout.
	StdoutLogLevel zapcore.Level
	// HighPriorityOutput is an optional file for warnings and errors.
	HighPriorityOutput nulls.String
	// DebugOutput is an optional file that receives everything.
	DebugOutput nulls.String
	// MaxSize is the maximum size in megabytes of a log file before it gets
	// rotated.
	MaxSize int
	// KeepDays is the number of days to retain rotated log files.
	KeepDays int
	// PublishEntries receives entries with at least PublishLevel if set.
	PublishEntries chan<- LogEntry
	PublishLevel   zapcore.Level
}

// outputs allows replacing stdout and stderr in tests.
type outputs struct {
	stdout io.Writer
	stderr io.Writer
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// NewLogger creates the main logger. It logs to stdout with the configured
// level, errors to stderr and optionally to rotated log files.
func NewLogger(config Config) *zap.Logger {
	return newLogger(config, outputs{stdout: os.Stdout, stderr: os.Stderr})
}

// NewLoggerTo creates a logger like NewLogger but with the given writers
// instead of stdout and stderr.
func NewLoggerTo(config Config, stdout io.Writer, stderr io.Writer) *zap.Logger {
	return newLogger(config, outputs{stdout: stdout, stderr: stderr})
}

func newLogger(config Config, out outputs) *zap.Logger {
	encConfig := encoderConfig()
	cores := make([]zapcore.Core, 0)
	// Setup stdout logger with colorful level output.
	stdOutEncConfig := encConfig
	stdOutEncConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores = append(cores, zapcore.NewCore(
		zapcore.NewConsoleEncoder(stdOutEncConfig),
		zapcore.Lock(zapcore.AddSync(out.stdout)),
		zap.LevelEnablerFunc(func(level zapcore.Level) bool {
			return level >= config.StdoutLogLevel
		})))
	// Setup error logger.
	cores = append(cores, zapcore.NewCore(
		zapcore.NewConsoleEncoder(encConfig),
		zapcore.Lock(zapcore.AddSync(out.stderr)),
		zap.LevelEnablerFunc(func(level zapcore.Level) bool {
			return level >= zap.ErrorLevel
		})))
	// Setup high priority logger.
	if config.HighPriorityOutput.Valid {
		cores = append(cores, fileCore(encConfig, config, config.HighPriorityOutput.String, zap.WarnLevel))
	}
	// Setup debug logger.
	if config.DebugOutput.Valid {
		cores = append(cores, fileCore(encConfig, config, config.DebugOutput.String, zap.DebugLevel))
	}
	// Setup publish core.
	if config.PublishEntries != nil {
		cores = append(cores, NewPublishCore(config.PublishLevel, config.PublishEntries))
	}
	return zap.New(zapcore.NewTee(cores...))
}

// fileCore creates a core writing to the rotated file with the given name.
func fileCore(encConfig zapcore.EncoderConfig, config Config, filename string, minLevel zapcore.Level) zapcore.Core {
	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(encConfig),
		zapcore.AddSync(&lumberjack.Logger{
			Filename: filename,
			MaxSize:  config.MaxSize,
			MaxAge:   config.KeepDays,
		}),
		zap.LevelEnablerFunc(func(level zapcore.Level) bool {
			return level >= minLevel
		}))
}

// ParseLevel parses the given level name like "debug" or "WARN".
func ParseLevel(name string) (zapcore.Level, error) {
	var level zapcore.Level
	err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name))))
	if err != nil {
		return zapcore.InfoLevel, errors.Error{
			Code:    errors.ErrBadRequest,
			Kind:    errors.KindInvalidConfig,
			Err:     err,
			Message: fmt.Sprintf("unknown log level %q", name),
			Details: errors.Details{"level": name},
		}
	}
	return level, nil
}
