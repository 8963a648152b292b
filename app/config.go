package app

import (
	nativeerrors "errors"
	"fmt"
	"github.com/gobuffalo/nulls"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/logging"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// envPrefix is the prefix for environment variables overriding config keys,
// e.g. EVENT_STATUS_SERVER_LISTEN_ADDR for server.listen_addr.
const envPrefix = "EVENT_STATUS"

// rootKeyEnv holds the root secret.
const rootKeyEnv = "API_SECRET_KEY"

// DefaultEnvFile is loaded if present and no other env file is given.
const DefaultEnvFile = ".env"

// Config is the configuration needed in order to boot an App.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Files   FilesConfig   `mapstructure:"files"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Log     LogConfig     `mapstructure:"log"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	DB      DBConfig      `mapstructure:"db"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Debug   DebugConfig   `mapstructure:"debug"`
}

// ServerConfig configures the web server.
type ServerConfig struct {
	// ListenAddr is the address, the app will listen for requests on.
	ListenAddr   string        `mapstructure:"listen_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// AllowedOrigins for CORS and websocket connections.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// RequestsPerSecond is the quota per route and client. Zero disables it.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	// StrictStatus answers unknown status text with 400.
	StrictStatus bool `mapstructure:"strict_status"`
}

// FilesConfig holds the paths of the event files.
type FilesConfig struct {
	// Base is the operator-supplied event list.
	Base string `mapstructure:"base"`
	// Snapshot is the file holding the last committed state. Not used if a
	// database is configured.
	Snapshot string `mapstructure:"snapshot"`
}

// EventKey is a secret for a single event.
type EventKey struct {
	Event string `mapstructure:"event"`
	Key   string `mapstructure:"key"`
}

// EventKeyEnv names the environment variable holding the secret of an event.
type EventKeyEnv struct {
	Event string `mapstructure:"event"`
	Env   string `mapstructure:"env"`
}

// AuthConfig holds the secrets.
type AuthConfig struct {
	// RootKey is authorized for all events.
	RootKey string `mapstructure:"root_key"`
	// EventKeys are per-event secrets from the config file.
	EventKeys []EventKey `mapstructure:"event_keys"`
	// EventKeyEnv lists environment variables with per-event secrets. Values
	// found in the environment take precedence over EventKeys.
	EventKeyEnv []EventKeyEnv `mapstructure:"event_key_env"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level for logging to stdout.
	Level string `mapstructure:"level"`
	// HighPriorityOutput is an optional file for warnings and errors.
	HighPriorityOutput nulls.String `mapstructure:"high_priority_output"`
	// DebugOutput is an optional file for all logs.
	DebugOutput nulls.String `mapstructure:"debug_output"`
	// MaxSize in megabytes before log files are rotated.
	MaxSize int `mapstructure:"max_size"`
	// KeepDays is the number of days to keep rotated log files.
	KeepDays int `mapstructure:"keep_days"`
}

// MQTTConfig configures publishing to MQTT. Disabled if Addr is not set.
type MQTTConfig struct {
	Addr        nulls.String `mapstructure:"addr"`
	ClientID    string       `mapstructure:"client_id"`
	TopicPrefix string       `mapstructure:"topic_prefix"`
	// PublishLogs publishes log entries with at least LogLevel to
	// <prefix>/logs.
	PublishLogs bool   `mapstructure:"publish_logs"`
	LogLevel    string `mapstructure:"log_level"`
}

// DBConfig configures the optional PostgreSQL snapshot backend.
type DBConfig struct {
	// Conn is the connection string. If set, snapshots are stored in the
	// database instead of FilesConfig.Snapshot.
	Conn nulls.String `mapstructure:"conn"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig configures debug stats logging.
type DebugConfig struct {
	// StatsInterval in minutes. Disabled if not set or zero.
	StatsInterval nulls.Int `mapstructure:"stats_interval"`
	// IncludeStack adds the stack of all goroutines to debug stats.
	IncludeStack bool `mapstructure:"include_stack"`
}

// defaultEventKeyEnv are the environment variables for per-event secrets.
func defaultEventKeyEnv() []map[string]interface{} {
	return []map[string]interface{}{
		{"event": "Yukti", "env": "YUKTI_API_KEY"},
		{"event": "Natya-Sutra", "env": "NATYA_API_KEY"},
		{"event": "Naada-Nirvana", "env": "NAADA_API_KEY"},
		{"event": "Nazakat", "env": "NAZAKAT_API_KEY"},
		{"event": "Nataka", "env": "NATAKA_API_KEY"},
	}
}

// setDefaults sets default values for configuration. Each key needs a default
// so that it can be overwritten using environment variables.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8000")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"https://adharvaa.com"})
	v.SetDefault("server.requests_per_second", 1.0)
	v.SetDefault("server.burst", 1)
	v.SetDefault("server.strict_status", false)

	v.SetDefault("files.base", "events.json")
	v.SetDefault("files.snapshot", "curr_state.json")

	v.SetDefault("auth.root_key", "")
	v.SetDefault("auth.event_keys", []map[string]interface{}{})
	v.SetDefault("auth.event_key_env", defaultEventKeyEnv())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.high_priority_output", "")
	v.SetDefault("log.debug_output", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.keep_days", 28)

	v.SetDefault("mqtt.addr", "")
	v.SetDefault("mqtt.client_id", "event-status-server")
	v.SetDefault("mqtt.topic_prefix", "events-status")
	v.SetDefault("mqtt.publish_logs", true)
	v.SetDefault("mqtt.log_level", "warn")

	v.SetDefault("db.conn", "")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("debug.stats_interval", "")
	v.SetDefault("debug.include_stack", false)
}

// nullsDecodeHook decodes into nulls.String and nulls.Int. Empty values are
// decoded as invalid.
func nullsDecodeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		switch to {
		case reflect.TypeOf(nulls.String{}):
			if data == nil {
				return nulls.String{}, nil
			}
			s := fmt.Sprintf("%v", data)
			if s == "" {
				return nulls.String{}, nil
			}
			return nulls.NewString(s), nil
		case reflect.TypeOf(nulls.Int{}):
			switch n := data.(type) {
			case nil:
				return nulls.Int{}, nil
			case int:
				return nulls.NewInt(n), nil
			case int64:
				return nulls.NewInt(int(n)), nil
			case float64:
				return nulls.NewInt(int(n)), nil
			case string:
				if strings.TrimSpace(n) == "" {
					return nulls.Int{}, nil
				}
				i, err := strconv.Atoi(strings.TrimSpace(n))
				if err != nil {
					return nil, fmt.Errorf("parse int %q: %w", n, err)
				}
				return nulls.NewInt(i), nil
			}
		}
		return data, nil
	}
}

// LoadConfig loads the configuration from the given config file and the
// environment. The config file is optional. Before reading the environment,
// variables from the given env file are loaded if it exists. Variables that are
// already set in the process environment are not overwritten.
func LoadConfig(configFile string, envFile string) (Config, error) {
	err := loadEnvFile(envFile)
	if err != nil {
		return Config{}, errors.Wrap(err, "load env file", nil)
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	err = v.BindEnv("auth.root_key", rootKeyEnv)
	if err != nil {
		return Config{}, errors.NewInternalErrorFromErr(err, "bind env", errors.Details{"env": rootKeyEnv})
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		err = v.ReadInConfig()
		if err != nil {
			return Config{}, errors.Error{
				Code:    errors.ErrBadRequest,
				Kind:    errors.KindInvalidConfig,
				Err:     err,
				Message: "read config file",
				Details: errors.Details{"path": configFile},
			}
		}
	}
	var config Config
	err = v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		nullsDecodeHook(),
	)))
	if err != nil {
		return Config{}, errors.Error{
			Code:    errors.ErrBadRequest,
			Kind:    errors.KindInvalidConfig,
			Err:     err,
			Message: "decode config",
		}
	}
	err = ValidateConfig(config)
	if err != nil {
		return Config{}, errors.Wrap(err, "validate config", nil)
	}
	return config, nil
}

// loadEnvFile sets environment variables from the dotenv-style file at the
// given path. A missing file is ignored.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if nativeerrors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.NewInternalErrorFromErr(err, "stat env file", errors.Details{"path": path})
	}
	envViper := viper.New()
	envViper.SetConfigFile(path)
	envViper.SetConfigType("env")
	err := envViper.ReadInConfig()
	if err != nil {
		return errors.Error{
			Code:    errors.ErrBadRequest,
			Kind:    errors.KindInvalidConfig,
			Err:     err,
			Message: "read env file",
			Details: errors.Details{"path": path},
		}
	}
	for _, key := range envViper.AllKeys() {
		name := strings.ToUpper(key)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		err = os.Setenv(name, envViper.GetString(key))
		if err != nil {
			return errors.NewInternalErrorFromErr(err, "set env", errors.Details{"name": name})
		}
	}
	return nil
}

// EventSecrets merges the per-event secrets from the config file with the ones
// from the environment variables named in AuthConfig.EventKeyEnv. Environment
// values win.
func (c AuthConfig) EventSecrets() map[string]string {
	secrets := make(map[string]string)
	for _, k := range c.EventKeys {
		secrets[k.Event] = k.Key
	}
	for _, e := range c.EventKeyEnv {
		if value, ok := os.LookupEnv(e.Env); ok && value != "" {
			secrets[e.Event] = value
		}
	}
	return secrets
}

// LoggingConfig returns the configuration for logging.NewLogger.
func (c LogConfig) LoggingConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return logging.Config{}, errors.Wrap(err, "parse log level", nil)
	}
	return logging.Config{
		StdoutLogLevel:     level,
		HighPriorityOutput: c.HighPriorityOutput,
		DebugOutput:        c.DebugOutput,
		MaxSize:            c.MaxSize,
		KeepDays:           c.KeepDays,
	}, nil
}

func invalidConfigError(message string, details errors.Details) error {
	return errors.Error{
		Code:    errors.ErrBadRequest,
		Kind:    errors.KindInvalidConfig,
		Message: message,
		Details: details,
	}
}

// ValidateConfig makes sure that the given Config is usable. A missing root
// secret is an errors.ErrFatal error with kind errors.KindMissingSecret.
func ValidateConfig(c Config) error {
	if c.Auth.RootKey == "" {
		return errors.NewFatalError(errors.KindMissingSecret, nil,
			fmt.Sprintf("root secret not set, use %s or auth.root_key", rootKeyEnv), nil)
	}
	if c.Server.ListenAddr == "" {
		return invalidConfigError("server.listen_addr is required", nil)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return invalidConfigError("server timeouts must not be negative", errors.Details{
			"readTimeout":  c.Server.ReadTimeout.String(),
			"writeTimeout": c.Server.WriteTimeout.String(),
		})
	}
	if c.Server.RequestsPerSecond < 0 || c.Server.Burst < 0 {
		return invalidConfigError("server quota must not be negative", errors.Details{
			"requestsPerSecond": c.Server.RequestsPerSecond,
			"burst":             c.Server.Burst,
		})
	}
	if c.Files.Base == "" {
		return invalidConfigError("files.base is required", nil)
	}
	if c.Files.Snapshot == "" && !c.DB.Conn.Valid {
		return invalidConfigError("files.snapshot is required without db.conn", nil)
	}
	for i, k := range c.Auth.EventKeys {
		if k.Event == "" {
			return invalidConfigError("auth.event_keys entry without event", errors.Details{"index": i})
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level", nil)
	}
	if c.MQTT.PublishLogs {
		if _, err := logging.ParseLevel(c.MQTT.LogLevel); err != nil {
			return errors.Wrap(err, "mqtt.log_level", nil)
		}
	}
	if c.Debug.StatsInterval.Valid && c.Debug.StatsInterval.Int < 0 {
		return invalidConfigError("debug.stats_interval must not be negative", errors.Details{
			"statsInterval": c.Debug.StatsInterval.Int,
		})
	}
	return nil
}
