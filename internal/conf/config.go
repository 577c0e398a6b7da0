// Package conf loads and validates fieldwatch settings.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/logger"
)

// EnvPrefix is the prefix for environment variable overrides,
// e.g. FIELDWATCH_MQTT_BROKER overrides mqtt.broker.
const EnvPrefix = "FIELDWATCH"

// Overflow policies for observer queues
const (
	OverflowDisconnect = "disconnect"
	OverflowDropOldest = "drop-oldest"
)

// History drivers
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Settings is the root of the configuration tree
type Settings struct {
	Main        MainSettings            `mapstructure:"main" yaml:"main"`
	Logging     logger.LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Engine      EngineSettings          `mapstructure:"engine" yaml:"engine"`
	Thresholds  map[string]BandSettings `mapstructure:"thresholds" yaml:"thresholds"` // keyed by sensor type, replaces built-in defaults
	Maintenance MaintenanceSettings     `mapstructure:"maintenance" yaml:"maintenance"`
	Fanout      FanoutSettings          `mapstructure:"fanout" yaml:"fanout"`
	History     HistorySettings         `mapstructure:"history" yaml:"history"`
	Influx      InfluxSettings          `mapstructure:"influx" yaml:"influx"`
	MQTT        MQTTSettings            `mapstructure:"mqtt" yaml:"mqtt"`
	Push        PushSettings            `mapstructure:"push" yaml:"push"`
	WebServer   WebServerSettings       `mapstructure:"webserver" yaml:"webserver"`
	Telemetry   TelemetrySettings       `mapstructure:"telemetry" yaml:"telemetry"`
	Sentry      SentrySettings          `mapstructure:"sentry" yaml:"sentry"`
}

// MainSettings contains general settings
type MainSettings struct {
	Name  string `mapstructure:"name" yaml:"name"`   // instance name shown in notifications
	Debug bool   `mapstructure:"debug" yaml:"debug"` // true to enable debug logging everywhere
}

// CooldownSettings holds the dedup cooldown per severity
type CooldownSettings struct {
	Low      time.Duration `mapstructure:"low" yaml:"low"`
	High     time.Duration `mapstructure:"high" yaml:"high"`
	Critical time.Duration `mapstructure:"critical" yaml:"critical"`
}

// EngineSettings controls evaluation and the alert lifecycle
type EngineSettings struct {
	ClockSkew       time.Duration    `mapstructure:"clockskew" yaml:"clockskew"`             // max accepted future timestamp skew
	Hysteresis      int              `mapstructure:"hysteresis" yaml:"hysteresis"`           // consecutive normal readings before auto-resolve
	Cooldown        CooldownSettings `mapstructure:"cooldown" yaml:"cooldown"`               // notification cooldown per severity
	Retention       time.Duration    `mapstructure:"retention" yaml:"retention"`             // how long closed alerts are kept
	CleanupInterval time.Duration    `mapstructure:"cleanupinterval" yaml:"cleanupinterval"` // how often retention runs
	RestoreOnStart  bool             `mapstructure:"restoreonstart" yaml:"restoreonstart"`   // reload open alerts from history at start
}

// BandSettings is a configured threshold band for one sensor type
type BandSettings struct {
	Min          float64 `mapstructure:"min" yaml:"min"`
	Max          float64 `mapstructure:"max" yaml:"max"`
	CriticalLow  float64 `mapstructure:"criticallow" yaml:"criticallow"`
	CriticalHigh float64 `mapstructure:"criticalhigh" yaml:"criticalhigh"`
}

// MaintenanceSettings holds maintenance intervals and firmware policy
type MaintenanceSettings struct {
	Calibration    time.Duration    `mapstructure:"calibration" yaml:"calibration"`
	Cleaning       time.Duration    `mapstructure:"cleaning" yaml:"cleaning"`
	BatteryCheck   time.Duration    `mapstructure:"batterycheck" yaml:"batterycheck"`
	FirmwareUpdate time.Duration    `mapstructure:"firmwareupdate" yaml:"firmwareupdate"`
	Firmware       FirmwareSettings `mapstructure:"firmware" yaml:"firmware"`
}

// FirmwareSettings is the firmware update policy pushed to nodes
type FirmwareSettings struct {
	Channel       string        `mapstructure:"channel" yaml:"channel"` // stable, beta or dev
	CheckInterval time.Duration `mapstructure:"checkinterval" yaml:"checkinterval"`
	AutoUpdate    bool          `mapstructure:"autoupdate" yaml:"autoupdate"`
}

// FanoutSettings controls observer queues
type FanoutSettings struct {
	QueueSize           int           `mapstructure:"queuesize" yaml:"queuesize"`
	DeliveryTimeout     time.Duration `mapstructure:"deliverytimeout" yaml:"deliverytimeout"`
	MaxDeliveryFailures int           `mapstructure:"maxdeliveryfailures" yaml:"maxdeliveryfailures"`
	Overflow            string        `mapstructure:"overflow" yaml:"overflow"` // disconnect or drop-oldest
}

// RetrySettings controls exponential backoff for history appends
type RetrySettings struct {
	InitialInterval time.Duration `mapstructure:"initialinterval" yaml:"initialinterval"`
	MaxInterval     time.Duration `mapstructure:"maxinterval" yaml:"maxinterval"`
	MaxAttempts     int           `mapstructure:"maxattempts" yaml:"maxattempts"`
	MaxElapsed      time.Duration `mapstructure:"maxelapsed" yaml:"maxelapsed"`
}

// BreakerSettings controls the history circuit breaker
type BreakerSettings struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutivefailures" yaml:"consecutivefailures"` // failures before the breaker opens
	OpenTimeout         time.Duration `mapstructure:"opentimeout" yaml:"opentimeout"`                 // time in open state before half-open
	Interval            time.Duration `mapstructure:"interval" yaml:"interval"`                       // closed-state counter reset period
}

// HistorySettings controls the durable alert history
type HistorySettings struct {
	Driver        string          `mapstructure:"driver" yaml:"driver"` // sqlite, mysql or memory
	Path          string          `mapstructure:"path" yaml:"path"`     // sqlite database file
	DSN           string          `mapstructure:"dsn" yaml:"dsn"`       // mysql data source name
	QueueSize     int             `mapstructure:"queuesize" yaml:"queuesize"`
	BacklogSize   int             `mapstructure:"backlogsize" yaml:"backlogsize"`
	AppendTimeout time.Duration   `mapstructure:"appendtimeout" yaml:"appendtimeout"`
	Retry         RetrySettings   `mapstructure:"retry" yaml:"retry"`
	Breaker       BreakerSettings `mapstructure:"breaker" yaml:"breaker"`
	StoreReadings bool            `mapstructure:"storereadings" yaml:"storereadings"` // keep raw readings in the sensor_readings table
}

// InfluxSettings configures the InfluxDB reading sink
type InfluxSettings struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	URL     string        `mapstructure:"url" yaml:"url"`
	Token   string        `mapstructure:"token" yaml:"token"`
	Org     string        `mapstructure:"org" yaml:"org"`
	Bucket  string        `mapstructure:"bucket" yaml:"bucket"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MQTTSettings configures reading ingestion over MQTT
type MQTTSettings struct {
	Enabled           bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker            string `mapstructure:"broker" yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID          string `mapstructure:"clientid" yaml:"clientid"`
	Username          string `mapstructure:"username" yaml:"username"`
	Password          string `mapstructure:"password" yaml:"password"`
	TopicPrefix       string `mapstructure:"topicprefix" yaml:"topicprefix"`
	QoS               byte   `mapstructure:"qos" yaml:"qos"`
	PublishRejections bool   `mapstructure:"publishrejections" yaml:"publishrejections"`
}

// PushSettings configures the shoutrrr push observer
type PushSettings struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	URLs        []string      `mapstructure:"urls" yaml:"urls"`
	MinSeverity string        `mapstructure:"minseverity" yaml:"minseverity"` // low, high or critical
	Rate        float64       `mapstructure:"rate" yaml:"rate"`               // sends per second
	Burst       int           `mapstructure:"burst" yaml:"burst"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// WebServerSettings configures the HTTP API
type WebServerSettings struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Listen    string        `mapstructure:"listen" yaml:"listen"`
	Heartbeat time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"` // SSE heartbeat interval
	Origins   []string      `mapstructure:"origins" yaml:"origins"`     // CORS origins, empty allows any
}

// TelemetrySettings configures the Prometheus endpoint
type TelemetrySettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// SentrySettings configures error reporting
type SentrySettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configFile, or searches the default paths when it is empty.
// A missing file is created with default values.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	v := viper.New()
	if err := initViper(v, configFile); err != nil {
		return nil, err
	}

	settings, err := unmarshal(v)
	if err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("config_file", v.ConfigFileUsed()).
			Build()
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// Defaults returns settings built only from default values.
func Defaults() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	settings, err := unmarshal(v)
	if err != nil {
		// defaults are static; failing here is a programming error
		panic(fmt.Sprintf("conf: invalid defaults: %v", err))
	}
	return settings
}

func unmarshal(v *viper.Viper) (*Settings, error) {
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}
	return settings, nil
}

func initViper(v *viper.Viper, configFile string) error {
	v.SetConfigType("yaml")

	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return createDefaultConfig(v, configFile)
		}
	} else {
		v.SetConfigName("config")
		for _, path := range GetDefaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(v, filepath.Join(GetDefaultConfigPaths()[0], "config.yaml"))
		}
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			Build()
	}

	GetLogger().Debug("configuration loaded", logger.String("path", v.ConfigFileUsed()))
	return nil
}

// createDefaultConfig writes the defaults to configPath and reads them back
func createDefaultConfig(v *viper.Viper, configPath string) error {
	data, err := DefaultConfigYAML()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", configPath).
			Build()
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", configPath).
			Build()
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))

	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

// DefaultConfigYAML renders the default settings as YAML
func DefaultConfigYAML() ([]byte, error) {
	return MarshalYAML(Defaults())
}

// MarshalYAML renders settings as YAML
func MarshalYAML(settings *Settings) ([]byte, error) {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "marshal-yaml").
			Build()
	}
	return data, nil
}

// GetSettings returns the settings from the last successful Load, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
