package ui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evfleet/ocppsim/internal/idtags"
	"github.com/evfleet/ocppsim/internal/pool"
	"github.com/evfleet/ocppsim/internal/station"
	"github.com/evfleet/ocppsim/internal/stats"
)

func newFixture(t *testing.T) (*Server, *stats.Sink) {
	t.Helper()

	tags := idtags.NewCache(nil)
	t.Cleanup(tags.Close)

	tplPath := filepath.Join(t.TempDir(), "tpl.json")
	require.NoError(t, os.WriteFile(tplPath,
		[]byte(`{"baseName":"CP","numberOfConnectors":2}`), 0o644))

	p := pool.New(pool.Config{
		Mode:    pool.ModeNone,
		Station: station.Config{SupervisionURLs: []string{"ws://localhost:9999/ocpp"}},
	}, station.Deps{Tags: tags}, nil)
	t.Cleanup(p.Stop)

	p.Add(pool.Task{Index: 1, TemplateFile: tplPath})
	require.Eventually(t, func() bool { return p.Size() == 1 },
		3*time.Second, 20*time.Millisecond)
	for len(p.Events()) > 0 {
		<-p.Events()
	}

	sink, err := stats.New(stats.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(sink.Close)

	return NewServer("127.0.0.1:0", p, sink, nil), sink
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newFixture(t)

	rec := get(t, srv, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snaps []pool.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
	require.Len(t, snaps, 1)
	assert.NotEmpty(t, snaps[0].HashID)
	assert.Len(t, snaps[0].Connectors, 2)
}

func TestStatsEndpoint(t *testing.T) {
	srv, sink := newFixture(t)
	sink.RecordRequest("Heartbeat", 5*time.Millisecond, nil)

	rec := get(t, srv, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap []stats.CommandStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap, 1)
	assert.Equal(t, "Heartbeat", snap[0].Action)
	assert.Equal(t, int64(1), snap[0].Count)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, sink := newFixture(t)
	sink.RecordRequest("Heartbeat", 5*time.Millisecond, nil)

	rec := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ocppsim_requests_total")
}

func TestUnknownRouteIs404(t *testing.T) {
	srv, _ := newFixture(t)
	rec := get(t, srv, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
