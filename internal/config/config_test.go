package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := write(t, "config.json", `{
		"stationTemplateUrls": [{"file": "station.json", "numberOfStations": 5}],
		"supervisionUrls": ["ws://csms:8080/ocpp"],
		"worker": {"processType": "staticPool", "poolMinSize": 2, "poolMaxSize": 8},
		"autoReconnectMaxRetries": 3,
		"autoReconnectTimeout": 5,
		"log": {"level": "debug", "statisticsInterval": 30},
		"uiServer": {"enabled": true, "options": {"port": 9090}},
		"performanceStorage": {"enabled": true, "type": "jsonfile", "uri": "/tmp/perf.jsonl"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []TemplateRef{{File: "station.json", NumberOfStations: 5}}, cfg.StationTemplateURLs)
	assert.Equal(t, []string{"ws://csms:8080/ocpp"}, cfg.SupervisionURLs)
	assert.Equal(t, WorkerStaticPool, cfg.Worker.ProcessType)
	assert.Equal(t, 2, cfg.Worker.PoolMinSize)
	assert.Equal(t, 8, cfg.Worker.PoolMaxSize)
	require.NotNil(t, cfg.AutoReconnectMaxRetries)
	assert.Equal(t, 3, *cfg.AutoReconnectMaxRetries)
	assert.Equal(t, 5*time.Second, cfg.ReconnectTimeout())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 30*time.Second, cfg.StatisticsInterval())
	assert.True(t, cfg.UIServer.Enabled)
	assert.Equal(t, 9090, cfg.UIServer.Options.Port)
	assert.Equal(t, StorageJSONFile, cfg.PerformanceStorage.Type)
}

func TestLoadYAML(t *testing.T) {
	path := write(t, "config.yaml", `
stationTemplateUrls:
  - file: station.yaml
worker:
  processType: dynamicPool
log:
  level: warn
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, WorkerDynamicPool, cfg.Worker.ProcessType)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
	// Omitted numberOfStations defaults to one station.
	assert.Equal(t, 1, cfg.StationTemplateURLs[0].NumberOfStations)
}

func TestDefaults(t *testing.T) {
	path := write(t, "config.json", `{"stationTemplateUrls": [{"file": "s.json"}]}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, WorkerNone, cfg.Worker.ProcessType)
	assert.Equal(t, 4, cfg.Worker.PoolMinSize)
	assert.Equal(t, 16, cfg.Worker.PoolMaxSize)
	assert.Equal(t, 1, cfg.Worker.ElementsPerWorker)
	require.NotNil(t, cfg.AutoReconnectMaxRetries)
	assert.Equal(t, -1, *cfg.AutoReconnectMaxRetries)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.True(t, cfg.LogEnabled())
	assert.Equal(t, 60*time.Second, cfg.StatisticsInterval())
	assert.Equal(t, 8080, cfg.UIServer.Options.Port)
	assert.Equal(t, StorageNone, cfg.PerformanceStorage.Type)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no templates", `{}`, "at least one template"},
		{"bad process type", `{"stationTemplateUrls":[{"file":"s.json"}],
			"worker":{"processType":"threads"}}`, "processType"},
		{"min above max", `{"stationTemplateUrls":[{"file":"s.json"}],
			"worker":{"poolMinSize":9,"poolMaxSize":3}}`, "poolMinSize"},
		{"bad storage type", `{"stationTemplateUrls":[{"file":"s.json"}],
			"performanceStorage":{"type":"mongodb"}}`, "performanceStorage.type"},
		{"storage without uri", `{"stationTemplateUrls":[{"file":"s.json"}],
			"performanceStorage":{"enabled":true,"type":"redis"}}`, "uri"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(write(t, "config.json", tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMalformedFile(t *testing.T) {
	_, err := Load(write(t, "config.json", `{not json`))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
