// Package config loads the harness configuration file. JSON is the primary
// format; the same schema is accepted as YAML when the file extension says so.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Worker process types.
const (
	WorkerNone        = "none"
	WorkerDynamicPool = "dynamicPool"
	WorkerStaticPool  = "staticPool"
)

// Performance storage types.
const (
	StorageNone     = "none"
	StorageJSONFile = "jsonfile"
	StorageRedis    = "redis"
)

// TemplateRef names a station template file and how many stations to spawn
// from it.
type TemplateRef struct {
	File             string `json:"file" yaml:"file"`
	NumberOfStations int    `json:"numberOfStations" yaml:"numberOfStations"`
}

// WorkerConfig shapes the station worker pool.
type WorkerConfig struct {
	ProcessType       string `json:"processType,omitempty" yaml:"processType"`
	PoolMinSize       int    `json:"poolMinSize,omitempty" yaml:"poolMinSize"`
	PoolMaxSize       int    `json:"poolMaxSize,omitempty" yaml:"poolMaxSize"`
	ElementsPerWorker int    `json:"elementsPerWorker,omitempty" yaml:"elementsPerWorker"`
	// Delays are milliseconds.
	WorkerStartDelay int `json:"workerStartDelay,omitempty" yaml:"workerStartDelay"`
	ElementAddDelay  int `json:"elementAddDelay,omitempty" yaml:"elementAddDelay"`
}

// LogConfig controls the slog handler and the periodic statistics dump.
type LogConfig struct {
	Enabled   *bool  `json:"enabled,omitempty" yaml:"enabled"`
	Format    string `json:"format,omitempty" yaml:"format"`
	Level     string `json:"level,omitempty" yaml:"level"`
	Rotate    bool   `json:"rotate,omitempty" yaml:"rotate"`
	MaxFiles  int    `json:"maxFiles,omitempty" yaml:"maxFiles"`
	MaxSize   int    `json:"maxSize,omitempty" yaml:"maxSize"`
	File      string `json:"file,omitempty" yaml:"file"`
	ErrorFile string `json:"errorFile,omitempty" yaml:"errorFile"`
	// StatisticsInterval is seconds between statistics dumps; 0 disables them.
	StatisticsInterval int `json:"statisticsInterval,omitempty" yaml:"statisticsInterval"`
}

// UIServerOptions is the listen address of the ops server.
type UIServerOptions struct {
	Host string `json:"host,omitempty" yaml:"host"`
	Port int    `json:"port,omitempty" yaml:"port"`
}

// UIServerConfig enables the ops HTTP server.
type UIServerConfig struct {
	Enabled bool            `json:"enabled" yaml:"enabled"`
	Type    string          `json:"type,omitempty" yaml:"type"`
	Options UIServerOptions `json:"options,omitempty" yaml:"options"`
}

// PerformanceStorageConfig selects the statistics storage backend.
type PerformanceStorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Type    string `json:"type,omitempty" yaml:"type"`
	URI     string `json:"uri,omitempty" yaml:"uri"`
}

// Config is the harness configuration file schema.
type Config struct {
	StationTemplateURLs []TemplateRef `json:"stationTemplateUrls" yaml:"stationTemplateUrls"`
	SupervisionURLs     []string      `json:"supervisionUrls,omitempty" yaml:"supervisionUrls"`

	DistributeStationsToTenantsEqually bool `json:"distributeStationsToTenantsEqually,omitempty" yaml:"distributeStationsToTenantsEqually"`

	Worker WorkerConfig `json:"worker,omitempty" yaml:"worker"`

	// AutoReconnectMaxRetries: -1 unlimited, 0 disabled, N > 0 exactly N.
	AutoReconnectMaxRetries *int `json:"autoReconnectMaxRetries,omitempty" yaml:"autoReconnectMaxRetries"`
	// AutoReconnectTimeout is the base backoff in seconds.
	AutoReconnectTimeout int `json:"autoReconnectTimeout,omitempty" yaml:"autoReconnectTimeout"`

	Log                LogConfig                `json:"log,omitempty" yaml:"log"`
	UIServer           UIServerConfig           `json:"uiServer,omitempty" yaml:"uiServer"`
	PerformanceStorage PerformanceStorageConfig `json:"performanceStorage,omitempty" yaml:"performanceStorage"`

	// DataDir is where per-station state files live; empty disables
	// persistence.
	DataDir string `json:"dataDir,omitempty" yaml:"dataDir"`
}

// Load reads and validates a configuration file. The extension picks the
// format: .yaml/.yml parse as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Worker.ProcessType == "" {
		c.Worker.ProcessType = WorkerNone
	}
	if c.Worker.PoolMinSize <= 0 {
		c.Worker.PoolMinSize = 4
	}
	if c.Worker.PoolMaxSize <= 0 {
		c.Worker.PoolMaxSize = 16
	}
	if c.Worker.ElementsPerWorker <= 0 {
		c.Worker.ElementsPerWorker = 1
	}
	if c.AutoReconnectMaxRetries == nil {
		unlimited := -1
		c.AutoReconnectMaxRetries = &unlimited
	}
	for i := range c.StationTemplateURLs {
		if c.StationTemplateURLs[i].NumberOfStations == 0 {
			c.StationTemplateURLs[i].NumberOfStations = 1
		}
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.StatisticsInterval == 0 {
		c.Log.StatisticsInterval = 60
	}
	if c.UIServer.Type == "" {
		c.UIServer.Type = "http"
	}
	if c.UIServer.Options.Port == 0 {
		c.UIServer.Options.Port = 8080
	}
	if c.PerformanceStorage.Type == "" {
		c.PerformanceStorage.Type = StorageNone
	}
}

func (c *Config) validate() error {
	if len(c.StationTemplateURLs) == 0 {
		return fmt.Errorf("stationTemplateUrls must name at least one template")
	}
	for _, ref := range c.StationTemplateURLs {
		if ref.File == "" {
			return fmt.Errorf("stationTemplateUrls entry without a file")
		}
		if ref.NumberOfStations < 0 {
			return fmt.Errorf("template %s: numberOfStations must not be negative", ref.File)
		}
	}
	switch c.Worker.ProcessType {
	case WorkerNone, WorkerDynamicPool, WorkerStaticPool:
	default:
		return fmt.Errorf("worker.processType %q is not one of none, dynamicPool, staticPool", c.Worker.ProcessType)
	}
	if c.Worker.PoolMinSize > c.Worker.PoolMaxSize {
		return fmt.Errorf("worker.poolMinSize %d exceeds poolMaxSize %d", c.Worker.PoolMinSize, c.Worker.PoolMaxSize)
	}
	switch c.PerformanceStorage.Type {
	case StorageNone, StorageJSONFile, StorageRedis:
	default:
		return fmt.Errorf("performanceStorage.type %q is not one of none, jsonfile, redis", c.PerformanceStorage.Type)
	}
	if c.PerformanceStorage.Enabled && c.PerformanceStorage.Type != StorageNone && c.PerformanceStorage.URI == "" {
		return fmt.Errorf("performanceStorage.uri is required for type %s", c.PerformanceStorage.Type)
	}
	return nil
}

// SlogLevel maps the configured log level onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogEnabled defaults to true when the log section omits enabled.
func (c *Config) LogEnabled() bool {
	return c.Log.Enabled == nil || *c.Log.Enabled
}

// ReconnectTimeout converts the configured seconds to a duration.
func (c *Config) ReconnectTimeout() time.Duration {
	return time.Duration(c.AutoReconnectTimeout) * time.Second
}

// StatisticsInterval converts the configured seconds to a duration.
func (c *Config) StatisticsInterval() time.Duration {
	return time.Duration(c.Log.StatisticsInterval) * time.Second
}

// WorkerStartDelay converts the configured milliseconds to a duration.
func (c *Config) WorkerStartDelay() time.Duration {
	return time.Duration(c.Worker.WorkerStartDelay) * time.Millisecond
}

// ElementAddDelay converts the configured milliseconds to a duration.
func (c *Config) ElementAddDelay() time.Duration {
	return time.Duration(c.Worker.ElementAddDelay) * time.Millisecond
}
