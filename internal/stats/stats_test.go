package stats

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSink(t *testing.T, cfg Config) *Sink {
	t.Helper()
	s, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSnapshotAggregation(t *testing.T) {
	s := newSink(t, Config{})

	for i := 1; i <= 100; i++ {
		s.RecordRequest("Heartbeat", time.Duration(i)*time.Millisecond, nil)
	}
	s.RecordRequest("BootNotification", 10*time.Millisecond, errors.New("timeout"))

	snap := s.Snapshot()
	require.Len(t, snap, 2)

	// Sorted by action name.
	boot, hb := snap[0], snap[1]
	assert.Equal(t, "BootNotification", boot.Action)
	assert.Equal(t, int64(1), boot.Count)
	assert.Equal(t, int64(1), boot.Errors)

	assert.Equal(t, "Heartbeat", hb.Action)
	assert.Equal(t, int64(100), hb.Count)
	assert.Zero(t, hb.Errors)
	assert.Equal(t, 1.0, hb.MinMs)
	assert.Equal(t, 100.0, hb.MaxMs)
	assert.Equal(t, 50.5, hb.MeanMs)
	assert.Equal(t, 50.0, hb.P50Ms)
	assert.Equal(t, 90.0, hb.P90Ms)
	assert.Equal(t, 95.0, hb.P95Ms)
	assert.Equal(t, 99.0, hb.P99Ms)
}

func TestReservoirStaysBounded(t *testing.T) {
	s := newSink(t, Config{})

	for i := 0; i < 5*reservoirSize; i++ {
		s.RecordRequest("MeterValues", time.Millisecond, nil)
	}

	s.mu.Lock()
	cs := s.commands["MeterValues"]
	s.mu.Unlock()
	assert.Len(t, cs.samples, reservoirSize)
	assert.Equal(t, int64(5*reservoirSize), cs.count)
}

func TestPrometheusCounters(t *testing.T) {
	s := newSink(t, Config{})

	s.RecordRequest("Heartbeat", time.Millisecond, nil)
	s.RecordRequest("Heartbeat", time.Millisecond, errors.New("boom"))

	families, err := s.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ocppsim_requests_total"])
	assert.True(t, names["ocppsim_request_duration_seconds"])
}

func TestJSONFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf.jsonl")
	s := newSink(t, Config{StorageType: "jsonfile", StorageURI: path})

	s.RecordRequest("StartTransaction", 20*time.Millisecond, nil)
	s.flush()
	s.RecordRequest("StartTransaction", 40*time.Millisecond, nil)
	s.flush()
	s.Close()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec snapshotRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		require.Len(t, rec.Commands, 1)
		assert.Equal(t, "StartTransaction", rec.Commands[0].Action)
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestBackendSelection(t *testing.T) {
	_, err := New(Config{StorageType: "mongodb"}, nil)
	require.Error(t, err)

	_, err = New(Config{StorageType: "jsonfile"}, nil)
	require.Error(t, err, "jsonfile without uri")
}

func TestPercentileEdgeCases(t *testing.T) {
	assert.Zero(t, percentile(nil, 50))
	assert.Equal(t, 7.0, percentile([]float64{7}, 99))
	assert.Equal(t, 1.0, percentile([]float64{1, 2}, 50))
}
