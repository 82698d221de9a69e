package station

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evfleet/ocppsim/internal/auth"
	"github.com/evfleet/ocppsim/internal/configstore"
	"github.com/evfleet/ocppsim/internal/ocpp"
	"github.com/evfleet/ocppsim/internal/ocppj"
	"github.com/evfleet/ocppsim/internal/profiles"
	"github.com/evfleet/ocppsim/internal/template"
)

// stubService answers every protocol round-trip locally.
type stubService struct {
	startStatus  auth.Status
	transactions int
	statuses     []string
	stops        []string
	samples      [][]ocpp.MeterSample
}

func (s *stubService) BootNotification(context.Context) (ocpp.BootResult, error) {
	return ocpp.BootResult{Status: ocpp.RegistrationAccepted, Interval: time.Minute}, nil
}
func (s *stubService) Heartbeat(context.Context) (time.Time, error) { return time.Now(), nil }
func (s *stubService) Authorize(context.Context, auth.Identifier) (auth.Status, error) {
	return auth.StatusAccepted, nil
}
func (s *stubService) StartTransaction(_ context.Context, _ int, _ auth.Identifier, _ int64) (ocpp.TransactionStart, error) {
	s.transactions++
	status := s.startStatus
	if status == "" {
		status = auth.StatusAccepted
	}
	return ocpp.TransactionStart{TransactionID: "tx-1", Status: status}, nil
}
func (s *stubService) StopTransaction(_ context.Context, _ int, _ string, _ auth.Identifier, _ int64, reason string) (auth.Status, error) {
	s.stops = append(s.stops, reason)
	return auth.StatusAccepted, nil
}
func (s *stubService) StatusNotification(_ context.Context, _ int, status, _ string) error {
	s.statuses = append(s.statuses, status)
	return nil
}
func (s *stubService) MeterValues(_ context.Context, _ int, _ string, samples []ocpp.MeterSample) error {
	s.samples = append(s.samples, samples)
	return nil
}
func (s *stubService) DataTransfer(context.Context, string, string, string) (ocpp.DataTransferResult, error) {
	return ocpp.DataTransferResult{Status: "Accepted"}, nil
}
func (s *stubService) FirmwareStatusNotification(context.Context, string) error    { return nil }
func (s *stubService) DiagnosticsStatusNotification(context.Context, string) error { return nil }

type stubDispatcher struct{}

func (stubDispatcher) Handle(_ context.Context, action string, _ json.RawMessage) (any, *ocppj.Error) {
	return nil, ocpp.NotImplementedError(action)
}

func testTemplate(t *testing.T, body string) *template.Template {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tpl.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	tpl, err := template.Load(path, nil)
	require.NoError(t, err)
	return tpl
}

func newTestStation(t *testing.T, tpl *template.Template, cfg Config) (*Station, *stubService) {
	t.Helper()
	svc := &stubService{}
	if len(cfg.SupervisionURLs) == 0 {
		cfg.SupervisionURLs = []string{"ws://localhost:9999/ocpp"}
	}
	if cfg.Index == 0 {
		cfg.Index = 1
	}
	st, err := New(tpl, cfg, Deps{}, func(*Station) (ocpp.Service, ocpp.Dispatcher) {
		return svc, stubDispatcher{}
	})
	require.NoError(t, err)
	t.Cleanup(st.Shutdown)
	return st, svc
}

func TestIdentityHashStable(t *testing.T) {
	tpl := testTemplate(t, `{"baseName":"CP","chargePointVendor":"Acme","chargePointModel":"X1"}`)
	a := NewIdentity(tpl, 1, 0, nil)
	b := NewIdentity(tpl, 1, 0, nil)
	assert.Equal(t, a.HashID, b.HashID)
	assert.Len(t, a.HashID, 64)

	c := NewIdentity(tpl, 2, 0, nil)
	assert.NotEqual(t, a.HashID, c.HashID)
	assert.Equal(t, "CP-00001", a.Name)
	assert.Equal(t, "CP-00002", c.Name)
}

func TestSerialNumbersCarryOver(t *testing.T) {
	tpl := testTemplate(t, `{"baseName":"CP","chargeBoxSerialNumberPrefix":"CB-",
		"chargePointSerialNumberPrefix":"CP-","meterSerialNumberPrefix":"MT-"}`)
	first := NewIdentity(tpl, 1, 0, nil)
	require.NotEmpty(t, first.ChargeBoxSerialNumber)
	require.NotEmpty(t, first.ChargePointSerialNumber)
	require.NotEmpty(t, first.MeterSerialNumber)

	second := NewIdentity(tpl, 1, 0, &first)
	assert.Equal(t, first.ChargeBoxSerialNumber, second.ChargeBoxSerialNumber)
	assert.Equal(t, first.ChargePointSerialNumber, second.ChargePointSerialNumber)
	assert.Equal(t, first.MeterSerialNumber, second.MeterSerialNumber)

	changed := testTemplate(t, `{"baseName":"CP","chargeBoxSerialNumberPrefix":"NEW-",
		"chargePointSerialNumberPrefix":"CP-","meterSerialNumberPrefix":"MT-"}`)
	third := NewIdentity(changed, 1, 0, &first)
	assert.NotEqual(t, first.ChargeBoxSerialNumber, third.ChargeBoxSerialNumber)
	assert.Contains(t, third.ChargeBoxSerialNumber, "NEW-")
	// Serials whose prefixes are unchanged still carry over.
	assert.Equal(t, first.ChargePointSerialNumber, third.ChargePointSerialNumber)
	assert.Equal(t, first.MeterSerialNumber, third.MeterSerialNumber)
}

func TestConnectorsFromTemplate(t *testing.T) {
	tpl := testTemplate(t, `{
		"baseName":"CP",
		"Connectors":{
			"0":{},
			"1":{"bootStatus":"Available","meterValues":["Energy.Active.Import.Register","SoC"]},
			"2":{"bootStatus":"Unavailable"}
		}
	}`)
	st, _ := newTestStation(t, tpl, Config{})

	assert.Equal(t, []int{1, 2}, st.ConnectorIDs())
	c1, ok := st.ConnectorSnapshot(1)
	require.True(t, ok)
	assert.Equal(t, StatusAvailable, c1.Status)
	assert.Equal(t, []string{"Energy.Active.Import.Register", "SoC"}, c1.Measurands)
	assert.Equal(t, int64(-1), c1.LastEnergyActiveImport)

	c2, _ := st.ConnectorSnapshot(2)
	assert.Equal(t, StatusUnavailable, c2.Status)

	assert.Equal(t, "2", st.ConfigStore().Value(configstore.KeyNumberOfConnectors))
}

func TestStartAndStopTransaction(t *testing.T) {
	tpl := testTemplate(t, `{"baseName":"CP","numberOfConnectors":2,"power":22,"powerUnit":"kW"}`)
	st, svc := newTestStation(t, tpl, Config{})

	require.NoError(t, st.StartTransaction(context.Background(), 1, "TAG-1", false))
	c, _ := st.ConnectorSnapshot(1)
	require.True(t, c.InTransaction())
	assert.Equal(t, "tx-1", c.Tx.ID)
	assert.Equal(t, int64(0), c.TransactionEnergyActiveImport)
	assert.Contains(t, svc.statuses, "Charging")

	// Second start on the same connector is refused.
	assert.ErrorIs(t, st.StartTransaction(context.Background(), 1, "TAG-2", false), ErrTransactionActive)

	require.NoError(t, st.StopTransaction(context.Background(), 1, "Local"))
	c, _ = st.ConnectorSnapshot(1)
	assert.False(t, c.InTransaction())
	assert.Equal(t, []string{"Local"}, svc.stops)
	assert.Contains(t, svc.statuses, "Available")
}

func TestStartTransactionRejected(t *testing.T) {
	tpl := testTemplate(t, `{"baseName":"CP","numberOfConnectors":1}`)
	st, svc := newTestStation(t, tpl, Config{})
	svc.startStatus = auth.StatusBlocked

	err := st.StartTransaction(context.Background(), 1, "TAG-1", false)
	assert.ErrorIs(t, err, ErrNotAccepted)
	c, _ := st.ConnectorSnapshot(1)
	assert.False(t, c.InTransaction())
}

func TestUnknownConnector(t *testing.T) {
	tpl := testTemplate(t, `{"baseName":"CP","numberOfConnectors":1}`)
	st, _ := newTestStation(t, tpl, Config{})

	assert.ErrorIs(t, st.StartTransaction(context.Background(), 9, "TAG", false), ErrUnknownConnector)
	assert.ErrorIs(t, st.StopTransaction(context.Background(), 1, "Local"), ErrNoTransaction)
}

func TestPowerDividerSharedPolicy(t *testing.T) {
	tpl := testTemplate(t, `{"baseName":"CP","numberOfConnectors":3,"powerSharedByConnectors":true}`)
	st, _ := newTestStation(t, tpl, Config{})

	assert.Equal(t, 1, st.PowerDivider()) // no transactions yet
	require.NoError(t, st.StartTransaction(context.Background(), 1, "A", false))
	assert.Equal(t, 1, st.PowerDivider())
	require.NoError(t, st.StartTransaction(context.Background(), 2, "B", false))
	assert.Equal(t, 2, st.PowerDivider())

	fixed := testTemplate(t, `{"baseName":"CP","numberOfConnectors":3}`)
	st2, _ := newTestStation(t, fixed, Config{})
	assert.Equal(t, 3, st2.PowerDivider())
}

func TestMeterSampleEmitsLifetimeRegister(t *testing.T) {
	tpl := testTemplate(t, `{
		"baseName":"CP","power":22,"powerUnit":"kW",
		"Connectors":{"1":{"meterValues":["Energy.Active.Import.Register"]}}
	}`)
	st, svc := newTestStation(t, tpl, Config{})

	require.NoError(t, st.StartTransaction(context.Background(), 1, "TAG", false))
	st.mu.Lock()
	st.connectors[1].EnergyActiveImport = 5000
	st.mu.Unlock()

	st.TriggerMeterValues(1)
	require.Len(t, svc.samples, 1)
	require.Len(t, svc.samples[0], 1)
	sample := svc.samples[0][0]
	assert.Equal(t, MeasurandEnergyActiveImport, sample.Measurand)
	reported, err := strconv.ParseInt(sample.Value, 10, 64)
	require.NoError(t, err)
	// The register carries the lifetime meter reading, not the energy of
	// the current transaction.
	assert.GreaterOrEqual(t, reported, int64(5000))

	// The register keeps growing across transactions.
	require.NoError(t, st.StopTransaction(context.Background(), 1, "Local"))
	require.NoError(t, st.StartTransaction(context.Background(), 1, "TAG", false))
	st.TriggerMeterValues(1)
	require.Len(t, svc.samples, 2)
	second, err := strconv.ParseInt(svc.samples[1][0].Value, 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, second, reported)
}

func TestSampleEnergyBoundedByInterval(t *testing.T) {
	tpl := testTemplate(t, `{"baseName":"CP","numberOfConnectors":1,"power":22,"powerUnit":"kW"}`)
	st, _ := newTestStation(t, tpl, Config{})

	c := &Connector{}
	maxWh := 22000.0 * 60 / 3600 // one minute at full power
	var total int64
	for i := 0; i < 50; i++ {
		added := st.sampleEnergy(c, 22000, time.Minute, 1)
		assert.GreaterOrEqual(t, added, int64(0))
		assert.Less(t, float64(added), maxWh)
		total += added
	}
	assert.Equal(t, total, c.EnergyActiveImport)
	assert.Equal(t, total, c.TransactionEnergyActiveImport)
	assert.Equal(t, c.EnergyActiveImport, c.LastEnergyActiveImport)

	// No headroom never advances the registers.
	assert.Zero(t, st.sampleEnergy(c, 0, time.Minute, 1))
	assert.Equal(t, total, c.EnergyActiveImport)
}

func TestReservationBlocksOtherTag(t *testing.T) {
	tpl := testTemplate(t, `{"baseName":"CP","numberOfConnectors":1}`)
	st, _ := newTestStation(t, tpl, Config{})

	status := st.Reserve(context.Background(), 1, Reservation{
		ID: 7, IDTag: "OWNER", ExpiryDate: time.Now().Add(time.Hour),
	})
	assert.Equal(t, "Accepted", status)

	assert.ErrorIs(t, st.StartTransaction(context.Background(), 1, "OTHER", false), ErrReserved)
	require.NoError(t, st.StartTransaction(context.Background(), 1, "OWNER", false))
	c, _ := st.ConnectorSnapshot(1)
	assert.Nil(t, c.Reservation) // consumed by the start
}

func TestCancelReservation(t *testing.T) {
	tpl := testTemplate(t, `{"baseName":"CP","numberOfConnectors":1}`)
	st, _ := newTestStation(t, tpl, Config{})

	st.Reserve(context.Background(), 1, Reservation{ID: 7, IDTag: "X", ExpiryDate: time.Now().Add(time.Hour)})
	assert.True(t, st.CancelReservation(context.Background(), 7))
	assert.False(t, st.CancelReservation(context.Background(), 7))
}

func TestChangeAvailabilityScheduled(t *testing.T) {
	tpl := testTemplate(t, `{"baseName":"CP","numberOfConnectors":2}`)
	st, _ := newTestStation(t, tpl, Config{})

	require.NoError(t, st.StartTransaction(context.Background(), 1, "TAG", false))
	status, err := st.ChangeAvailability(context.Background(), 0, Inoperative)
	require.NoError(t, err)
	assert.Equal(t, "Scheduled", status)

	// Connector 2 had no transaction and went inoperative immediately.
	c2, _ := st.ConnectorSnapshot(2)
	assert.Equal(t, Inoperative, c2.Availability)
	c1, _ := st.ConnectorSnapshot(1)
	assert.Equal(t, Operative, c1.Availability)
}

func TestHeartbeatIntervalZeroNeverFires(t *testing.T) {
	tpl := testTemplate(t, `{"baseName":"CP"}`)
	st, _ := newTestStation(t, tpl, Config{})

	st.RestartHeartbeat(0)
	assert.Equal(t, time.Duration(0), st.HeartbeatInterval())
	st.RestartHeartbeat(-time.Second)
	assert.Equal(t, time.Duration(0), st.HeartbeatInterval())

	st.RestartHeartbeat(30 * time.Second)
	assert.Equal(t, 30*time.Second, st.HeartbeatInterval())
	st.RestartHeartbeat(0)
	assert.Equal(t, time.Duration(0), st.HeartbeatInterval())
}

func TestPowerLimitClampedToBudgetShare(t *testing.T) {
	tpl := testTemplate(t, `{
		"baseName":"CP","numberOfConnectors":2,
		"power":4000,"voltageOut":230,"numberOfPhases":1
	}`)
	st, _ := newTestStation(t, tpl, Config{})

	start := time.Now().Add(-10 * time.Second)
	require.NoError(t, st.SetChargingProfile(1, profiles.Profile{
		ID: 1, StackLevel: 0,
		Purpose: profiles.PurposeTxDefaultProfile,
		Kind:    profiles.KindAbsolute,
		Schedule: profiles.Schedule{
			StartSchedule:    &start,
			Duration:         intPtr(3600),
			ChargingRateUnit: profiles.RateUnitAmps,
			Periods:          []profiles.SchedulePeriod{{StartPeriod: 0, Limit: 16}},
		},
	}))

	// 230 V * 16 A = 3680 W, clamped to 4000 / 2 connectors = 2000 W.
	watts, ok := st.PowerLimit(1, time.Now())
	require.True(t, ok)
	assert.InDelta(t, 2000, watts, 0.1)

	_, ok = st.PowerLimit(2, time.Now())
	assert.False(t, ok)
}

func TestClearChargingProfiles(t *testing.T) {
	tpl := testTemplate(t, `{"baseName":"CP","numberOfConnectors":1}`)
	st, _ := newTestStation(t, tpl, Config{})

	p := profiles.Profile{ID: 1, Purpose: profiles.PurposeTxDefaultProfile, Kind: profiles.KindRelative}
	require.NoError(t, st.SetChargingProfile(1, p))
	require.NoError(t, st.SetChargingProfile(0, profiles.Profile{ID: 2, Purpose: profiles.PurposeChargePointMaxProfile, Kind: profiles.KindRelative}))

	id := 1
	assert.True(t, st.ClearChargingProfiles(-1, profiles.ClearFilter{ID: &id}))
	assert.False(t, st.ClearChargingProfiles(-1, profiles.ClearFilter{ID: &id}))

	c0, _ := st.ConnectorSnapshot(0)
	assert.Len(t, c0.Profiles, 1)
}

func TestLocalListLifecycle(t *testing.T) {
	l := NewLocalList()
	assert.Equal(t, 0, l.Version())

	l.ApplyFull(3, []LocalListEntry{{IDTag: "A", Status: "Accepted"}, {IDTag: "B", Status: "Blocked"}})
	assert.Equal(t, 3, l.Version())
	assert.True(t, l.Accepted("A"))
	assert.False(t, l.Accepted("B"))

	// Stale differential is refused.
	assert.False(t, l.ApplyDifferential(3, nil))
	assert.True(t, l.ApplyDifferential(4, []LocalListEntry{{IDTag: "B", Status: "Accepted"}, {IDTag: "A"}}))
	assert.True(t, l.Accepted("B"))
	assert.False(t, l.Accepted("A"))
	assert.Equal(t, 1, l.Len())
}

func TestPersistedStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tpl := testTemplate(t, `{"baseName":"CP","chargeBoxSerialNumberPrefix":"CB-","numberOfConnectors":1}`)

	st, _ := newTestStation(t, tpl, Config{DataDir: dir})
	first := st.Identity()
	st.SetOCPP20Variable("OCPPCommCtrlr.HeartbeatInterval", "30")
	st.ConfigStore().ForceSet("CustomKey", "custom")

	loaded, err := LoadState(dir, first.HashID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, first.ChargeBoxSerialNumber, loaded.Info.ChargeBoxSerialNumber)
	assert.Equal(t, "30", loaded.OCPP20Variables["OCPPCommCtrlr.HeartbeatInterval"])

	// A second instance with the same template keeps the serial number.
	st2, _ := newTestStation(t, tpl, Config{DataDir: dir})
	assert.Equal(t, first.ChargeBoxSerialNumber, st2.Identity().ChargeBoxSerialNumber)
	assert.Equal(t, "custom", st2.ConfigStore().Value("CustomKey"))
}

func TestLoadStateMissingFile(t *testing.T) {
	st, err := LoadState(t.TempDir(), "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func intPtr(i int) *int { return &i }
