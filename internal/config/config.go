// Package config loads trafficmirror settings with viper: defaults, then
// trafficmirror.cfg.json, then TRAFFICMIRROR_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	FileName  = "trafficmirror.cfg.json"
	EnvPrefix = "TRAFFICMIRROR"
)

// EngineConfig holds the engine address and stepping settings.
type EngineConfig struct {
	Host        string        `json:"host" mapstructure:"host"`
	Port        int           `json:"port" mapstructure:"port"`
	Order       int           `json:"order" mapstructure:"order"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	StepDelay   time.Duration `json:"stepDelay" mapstructure:"stepDelay"`
	VehicleType string        `json:"vehicleType" mapstructure:"vehicleType"`
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds settings of the in-memory sqlite recorder.
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	Dir          string        `json:"dir" mapstructure:"dir"`
}

// DBConfig holds postgres connection settings.
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslMode" mapstructure:"sslMode"`
}

// InfluxConfig holds InfluxDB v2 settings.
type InfluxConfig struct {
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// URL returns the server URL.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// WebsocketConfig holds the frame stream target.
type WebsocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// StorageConfig selects and configures the recorder backend.
type StorageConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Type    string `json:"type" mapstructure:"type"`
	// Every keeps one frame in Every ticks.
	Every     int             `json:"every" mapstructure:"every"`
	Memory    MemoryConfig    `json:"memory" mapstructure:"memory"`
	SQLite    SQLiteConfig    `json:"sqlite" mapstructure:"sqlite"`
	DB        DBConfig        `json:"db" mapstructure:"db"`
	Influx    InfluxConfig    `json:"influx" mapstructure:"influx"`
	Websocket WebsocketConfig `json:"websocket" mapstructure:"websocket"`
}

// APIConfig holds the replay server recordings are uploaded to.
type APIConfig struct {
	Upload    bool   `json:"upload" mapstructure:"upload"`
	ServerURL string `json:"serverUrl" mapstructure:"serverUrl"`
	APIKey    string `json:"apiKey" mapstructure:"apiKey"`
	Tag       string `json:"tag" mapstructure:"tag"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
	Traces       bool          `json:"traces" mapstructure:"traces"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen"`
	Path    string `json:"path" mapstructure:"path"`
}

// MonitorConfig controls the status file writer.
type MonitorConfig struct {
	Enabled    bool          `json:"enabled" mapstructure:"enabled"`
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
	StatusFile string        `json:"statusFile" mapstructure:"statusFile"`
}

// SetDefaults registers every default value.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logFormat", "text")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("engine.host", "localhost")
	viper.SetDefault("engine.port", 8813)
	viper.SetDefault("engine.order", 1)
	viper.SetDefault("engine.timeout", "10s")
	viper.SetDefault("engine.stepDelay", "200ms")
	viper.SetDefault("engine.vehicleType", "DEFAULT_VEHTYPE")

	viper.SetDefault("network.file", "")

	viper.SetDefault("storage.enabled", false)
	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.every", 1)
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dir", "./recordings")
	viper.SetDefault("storage.websocket.url", "ws://localhost:5000/api/stream")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "trafficmirror")
	viper.SetDefault("db.sslMode", "disable")

	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "trafficmirror")
	viper.SetDefault("influx.bucket", "frames")

	viper.SetDefault("api.upload", false)
	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.tag", "")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "trafficmirror")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
	viper.SetDefault("otel.traces", false)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", ":9464")
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", "5s")
	viper.SetDefault("monitor.statusFile", "./logs/status.txt")
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. A missing file
// is reported with an error wrapping viper.ConfigFileNotFoundError; the
// defaults and environment overrides stay usable.
func Load(configDir string) error {
	SetDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

func GetEngineConfig() EngineConfig {
	return EngineConfig{
		Host:        viper.GetString("engine.host"),
		Port:        viper.GetInt("engine.port"),
		Order:       viper.GetInt("engine.order"),
		Timeout:     viper.GetDuration("engine.timeout"),
		StepDelay:   viper.GetDuration("engine.stepDelay"),
		VehicleType: viper.GetString("engine.vehicleType"),
	}
}

// GetStorageConfig assembles the recorder settings. Database and influx
// settings live at the top level and are copied in.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Enabled: viper.GetBool("storage.enabled"),
		Type:    viper.GetString("storage.type"),
		Every:   viper.GetInt("storage.every"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			Dir:          viper.GetString("storage.sqlite.dir"),
		},
		DB: DBConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
			SSLMode:  viper.GetString("db.sslMode"),
		},
		Influx: InfluxConfig{
			Protocol: viper.GetString("influx.protocol"),
			Host:     viper.GetString("influx.host"),
			Port:     viper.GetString("influx.port"),
			Token:    viper.GetString("influx.token"),
			Org:      viper.GetString("influx.org"),
			Bucket:   viper.GetString("influx.bucket"),
		},
		Websocket: WebsocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
	}
}

func GetAPIConfig() APIConfig {
	return APIConfig{
		Upload:    viper.GetBool("api.upload"),
		ServerURL: viper.GetString("api.serverUrl"),
		APIKey:    viper.GetString("api.apiKey"),
		Tag:       viper.GetString("api.tag"),
	}
}

func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
		Traces:       viper.GetBool("otel.traces"),
	}
}

func GetMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: viper.GetBool("metrics.enabled"),
		Listen:  viper.GetString("metrics.listen"),
		Path:    viper.GetString("metrics.path"),
	}
}

func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:    viper.GetBool("monitor.enabled"),
		Interval:   viper.GetDuration("monitor.interval"),
		StatusFile: viper.GetString("monitor.statusFile"),
	}
}
