package app

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/logging"
	"github.com/lefinal/event-status-server/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"io"
	"os"
	"os/signal"
	"syscall"
)

type cmdOptions struct {
	configFile string
	envFile    string
}

// NewRootCmd creates the root command which serves the API. The validate
// subcommand only checks configuration and event files.
func NewRootCmd() *cobra.Command {
	options := &cmdOptions{}
	cmd := &cobra.Command{
		Use:   "event-status-server",
		Short: "Serve and update the status of events",
		Long: `Serves the status of all events over HTTP and lets organizers update them
using their secret. Committed changes are written to the snapshot and pushed to
websocket clients and MQTT.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, options)
		},
	}
	cmd.PersistentFlags().StringVar(&options.configFile, "config", "", "Path to an optional config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&options.envFile, "env-file", DefaultEnvFile, "Path to an optional env file")
	cmd.AddCommand(newValidateCmd(options))
	return cmd
}

func newValidateCmd(options *cmdOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check config and print the event list the server would start with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validate(cmd, options)
		},
	}
}

// logEntriesBuffer is the number of log entries queued for publishing.
const logEntriesBuffer = 256

// newLogger creates the logger for the given Config. If out is set, it is used
// instead of stdout and stderr. Entries are forwarded to publishEntries if set.
func newLogger(config Config, out io.Writer, publishEntries chan<- logging.LogEntry) (*zap.Logger, error) {
	loggingConfig, err := config.Log.LoggingConfig()
	if err != nil {
		return nil, errors.Wrap(err, "logging config", nil)
	}
	if publishEntries != nil {
		loggingConfig.PublishEntries = publishEntries
		loggingConfig.PublishLevel, err = logging.ParseLevel(config.MQTT.LogLevel)
		if err != nil {
			return nil, errors.Wrap(err, "parse mqtt log level", nil)
		}
	}
	if out != nil {
		return logging.NewLoggerTo(loggingConfig, out, out), nil
	}
	return logging.NewLogger(loggingConfig), nil
}

func serve(ctx context.Context, options *cmdOptions) error {
	config, err := LoadConfig(options.configFile, options.envFile)
	if err != nil {
		return errors.Wrap(err, "load config", nil)
	}
	var logEntries chan logging.LogEntry
	if config.MQTT.Addr.Valid && config.MQTT.PublishLogs {
		logEntries = make(chan logging.LogEntry, logEntriesBuffer)
	}
	logger, err := newLogger(config, nil, logEntries)
	if err != nil {
		return errors.Wrap(err, "new logger", nil)
	}
	defer func() { _ = logger.Sync() }()
	err = NewApp(logger, config, logEntries).Boot(ctx)
	if err != nil {
		err = errors.Wrap(err, "boot", nil)
		// Fatal errors exit here.
		errors.Log(logger, err)
		return err
	}
	return nil
}

// validationResult is printed by the validate command.
type validationResult struct {
	Source store.Source `json:"source"`
	Events interface{}  `json:"events"`
}

func validate(cmd *cobra.Command, options *cmdOptions) error {
	config, err := LoadConfig(options.configFile, options.envFile)
	if err != nil {
		return errors.Wrap(err, "load config", nil)
	}
	// Keep stdout clean for the result.
	logger, err := newLogger(config, cmd.ErrOrStderr(), nil)
	if err != nil {
		return errors.Wrap(err, "new logger", nil)
	}
	defer func() { _ = logger.Sync() }()
	// Never write when validating.
	snapshots, closeSnapshots, err := openSnapshots(cmd.Context(), logger, config, false)
	if err != nil {
		return errors.Wrap(err, "open snapshots", nil)
	}
	defer closeSnapshots()
	persistence := store.NewPersistence(logger.Named("persistence"), config.Files.Base, snapshots)
	events, source, err := persistence.Inspect(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "inspect", nil)
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	err = encoder.Encode(validationResult{
		Source: source,
		Events: events,
	})
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "encode result", nil)
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%d events ok\n", len(events))
	return nil
}
