package atg

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evfleet/ocppsim/internal/auth"
	"github.com/evfleet/ocppsim/internal/configstore"
	"github.com/evfleet/ocppsim/internal/idtags"
	"github.com/evfleet/ocppsim/internal/ocpp"
	"github.com/evfleet/ocppsim/internal/ocppj"
	"github.com/evfleet/ocppsim/internal/station"
	"github.com/evfleet/ocppsim/internal/template"
)

// stubService answers every protocol round-trip locally.
type stubService struct {
	authStatus auth.Status
}

func (stubService) BootNotification(context.Context) (ocpp.BootResult, error) {
	return ocpp.BootResult{Status: ocpp.RegistrationAccepted, Interval: time.Minute}, nil
}
func (stubService) Heartbeat(context.Context) (time.Time, error) { return time.Now(), nil }
func (s stubService) Authorize(context.Context, auth.Identifier) (auth.Status, error) {
	if s.authStatus != "" {
		return s.authStatus, nil
	}
	return auth.StatusAccepted, nil
}
func (stubService) StartTransaction(context.Context, int, auth.Identifier, int64) (ocpp.TransactionStart, error) {
	return ocpp.TransactionStart{TransactionID: "tx-1", Status: auth.StatusAccepted}, nil
}
func (stubService) StopTransaction(context.Context, int, string, auth.Identifier, int64, string) (auth.Status, error) {
	return auth.StatusAccepted, nil
}
func (stubService) StatusNotification(context.Context, int, string, string) error { return nil }
func (stubService) MeterValues(context.Context, int, string, []ocpp.MeterSample) error {
	return nil
}
func (stubService) DataTransfer(context.Context, string, string, string) (ocpp.DataTransferResult, error) {
	return ocpp.DataTransferResult{Status: "Accepted"}, nil
}
func (stubService) FirmwareStatusNotification(context.Context, string) error    { return nil }
func (stubService) DiagnosticsStatusNotification(context.Context, string) error { return nil }

type stubDispatcher struct{}

func (stubDispatcher) Handle(_ context.Context, action string, _ json.RawMessage) (any, *ocppj.Error) {
	return nil, ocpp.NotImplementedError(action)
}

func newTestStation(t *testing.T, templateBody string, svc stubService) *station.Station {
	t.Helper()
	dir := t.TempDir()

	tagsFile := filepath.Join(dir, "tags.json")
	require.NoError(t, os.WriteFile(tagsFile, []byte(`["AAA","BBB"]`), 0o644))

	tplPath := filepath.Join(dir, "tpl.json")
	require.NoError(t, os.WriteFile(tplPath, []byte(templateBody), 0o644))
	tpl, err := template.Load(tplPath, nil)
	require.NoError(t, err)
	tpl.IDTagsFile = tagsFile

	tags := idtags.NewCache(nil)
	t.Cleanup(tags.Close)

	st, err := station.New(tpl, station.Config{
		Index:           1,
		SupervisionURLs: []string{"ws://localhost:9999/ocpp"},
	}, station.Deps{Tags: tags}, func(*station.Station) (ocpp.Service, ocpp.Dispatcher) {
		return svc, stubDispatcher{}
	})
	require.NoError(t, err)
	t.Cleanup(st.Shutdown)
	return st
}

func TestGeneratorRunsTransactions(t *testing.T) {
	st := newTestStation(t, `{"baseName":"CP","numberOfConnectors":2,
		"AutomaticTransactionGenerator":{"enable":true,"minDuration":0,"maxDuration":0,
		"minDelayBetweenTwoTransactions":0,"maxDelayBetweenTwoTransactions":0}}`, stubService{})
	g := New(st)
	require.True(t, g.Enabled())

	g.Start()
	defer g.Stop()
	assert.True(t, g.Running())

	require.Eventually(t, func() bool {
		stats := st.ATGStats()
		return stats.StartedTransactions > 0 && stats.StoppedTransactions > 0
	}, 3*time.Second, 20*time.Millisecond)

	g.Stop()
	assert.False(t, g.Running())
}

func TestGeneratorRejectsUnauthorizedTags(t *testing.T) {
	st := newTestStation(t, `{"baseName":"CP","numberOfConnectors":1,
		"AutomaticTransactionGenerator":{"enable":true,"requireAuthorize":true,
		"idTagLessThanProbability":1.0,
		"minDuration":0,"maxDuration":0,
		"minDelayBetweenTwoTransactions":0,"maxDelayBetweenTwoTransactions":0}}`, stubService{authStatus: auth.StatusInvalid})
	// With offline fallback off, an unknown tag cannot be authorized while the
	// socket is down.
	st.ConfigStore().ForceSet(configstore.KeyLocalAuthorizeOffline, "false")
	st.ConfigStore().ForceSet(configstore.KeyAllowOfflineTxForUnknownID, "false")

	g := New(st)
	g.Start()
	defer g.Stop()

	require.Eventually(t, func() bool {
		return st.ATGStats().RejectedStarts > 0
	}, 3*time.Second, 20*time.Millisecond)
	assert.Zero(t, st.ATGStats().StartedTransactions)
}

func TestGeneratorSkipsByProbability(t *testing.T) {
	st := newTestStation(t, `{"baseName":"CP","numberOfConnectors":1,
		"AutomaticTransactionGenerator":{"enable":true,"probabilityOfStart":0.000001,
		"minDuration":0,"maxDuration":0,
		"minDelayBetweenTwoTransactions":0,"maxDelayBetweenTwoTransactions":0}}`, stubService{})
	g := New(st)
	g.Start()
	defer g.Stop()

	require.Eventually(t, func() bool {
		return st.ATGStats().SkippedTransactions > 5
	}, 3*time.Second, 20*time.Millisecond)
}

func TestConnectorZeroNeedsOptIn(t *testing.T) {
	st := newTestStation(t, `{"baseName":"CP","numberOfConnectors":1,
		"AutomaticTransactionGenerator":{"enable":true}}`, stubService{})
	g := New(st)

	g.Start(0)
	assert.False(t, g.Running())
}

func TestStopOnConnectionFailure(t *testing.T) {
	st := newTestStation(t, `{"baseName":"CP","numberOfConnectors":1,
		"AutomaticTransactionGenerator":{"enable":true,"stopOnConnectionFailure":true,
		"minDelayBetweenTwoTransactions":0,"maxDelayBetweenTwoTransactions":0}}`, stubService{})
	g := New(st)
	g.Start()

	// The socket was never opened, so the first loop iteration bails out.
	require.Eventually(t, func() bool { return !g.Running() },
		2*time.Second, 20*time.Millisecond)
}

func TestStartStopSubsetOfConnectors(t *testing.T) {
	st := newTestStation(t, `{"baseName":"CP","numberOfConnectors":3,
		"AutomaticTransactionGenerator":{"enable":true,
		"minDuration":1,"maxDuration":2,
		"minDelayBetweenTwoTransactions":60,"maxDelayBetweenTwoTransactions":120}}`, stubService{})
	g := New(st)

	g.Start(1, 2)
	assert.True(t, g.Running())
	g.Stop(1)
	assert.True(t, g.Running())
	g.Stop(2)
	assert.False(t, g.Running())
}
