package v16

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evfleet/ocppsim/internal/configstore"
	"github.com/evfleet/ocppsim/internal/idtags"
	"github.com/evfleet/ocppsim/internal/ocpp"
	"github.com/evfleet/ocppsim/internal/profiles"
	"github.com/evfleet/ocppsim/internal/station"
	"github.com/evfleet/ocppsim/internal/template"
)

// fakeEndpoint answers Call locally with canned responses per action.
type fakeEndpoint struct {
	mu        sync.Mutex
	actions   []string
	responses map[string]any
}

func (f *fakeEndpoint) Call(_ context.Context, action string, _ any) (json.RawMessage, error) {
	f.mu.Lock()
	f.actions = append(f.actions, action)
	resp, ok := f.responses[action]
	f.mu.Unlock()
	if !ok {
		resp = struct{}{}
	}
	return json.Marshal(resp)
}

func (f *fakeEndpoint) seen(action string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.actions {
		if a == action {
			return true
		}
	}
	return false
}

type fixture struct {
	st       *station.Station
	ep       *fakeEndpoint
	d        *Dispatcher
	tagsFile string
}

func newFixture(t *testing.T, templateBody string) *fixture {
	t.Helper()
	dir := t.TempDir()

	tagsFile := filepath.Join(dir, "tags.json")
	require.NoError(t, os.WriteFile(tagsFile, []byte(`["AAA","CCC"]`), 0o644))

	tplPath := filepath.Join(dir, "tpl.json")
	require.NoError(t, os.WriteFile(tplPath, []byte(templateBody), 0o644))
	tpl, err := template.Load(tplPath, nil)
	require.NoError(t, err)
	tpl.IDTagsFile = tagsFile

	ep := &fakeEndpoint{responses: map[string]any{
		ActionStartTransaction: StartTransactionResponse{
			TransactionID: 42, IDTagInfo: IDTagInfo{Status: "Accepted"},
		},
		ActionStopTransaction: StopTransactionResponse{},
	}}

	tags := idtags.NewCache(nil)
	t.Cleanup(tags.Close)

	var d *Dispatcher
	st, err := station.New(tpl, station.Config{
		Index:           1,
		SupervisionURLs: []string{"ws://localhost:9999/ocpp"},
	}, station.Deps{Tags: tags}, func(st *station.Station) (ocpp.Service, ocpp.Dispatcher) {
		svc := NewService(ep, BootIdentity{Vendor: "Acme", Model: "X1"})
		d = NewDispatcher(st)
		return svc, d
	})
	require.NoError(t, err)
	t.Cleanup(st.Shutdown)

	return &fixture{st: st, ep: ep, d: d, tagsFile: tagsFile}
}

func handle[T any](t *testing.T, f *fixture, action string, payload any) T {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, wireErr := f.d.Handle(context.Background(), action, raw)
	require.Nil(t, wireErr)
	out, ok := resp.(T)
	require.True(t, ok, "unexpected response type %T", resp)
	return out
}

func TestRemoteStartAuthorizedTag(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP","numberOfConnectors":2}`)
	f.st.ConfigStore().ForceSet(configstore.KeyAuthorizeRemoteTxRequests, "true")

	resp := handle[StatusResponse](t, f, ActionRemoteStartTransaction,
		RemoteStartTransactionRequest{ConnectorID: intPtr(1), IDTag: "AAA"})
	assert.Equal(t, "Accepted", resp.Status)

	require.Eventually(t, func() bool {
		c, _ := f.st.ConnectorSnapshot(1)
		return c.InTransaction()
	}, 2*time.Second, 20*time.Millisecond)

	c, _ := f.st.ConnectorSnapshot(1)
	assert.Equal(t, "42", c.Tx.ID)
	assert.True(t, c.Tx.RemoteStarted)
	assert.True(t, f.ep.seen(ActionStartTransaction))
}

func TestRemoteStartUnknownTagRejected(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP","numberOfConnectors":1}`)
	f.st.ConfigStore().ForceSet(configstore.KeyAuthorizeRemoteTxRequests, "true")

	resp := handle[StatusResponse](t, f, ActionRemoteStartTransaction,
		RemoteStartTransactionRequest{ConnectorID: intPtr(1), IDTag: "BBB"})
	assert.Equal(t, "Rejected", resp.Status)

	time.Sleep(700 * time.Millisecond)
	assert.False(t, f.ep.seen(ActionStartTransaction))
}

func TestRemoteStartBusyConnectorRejected(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP","numberOfConnectors":1}`)
	require.NoError(t, f.st.StartTransaction(context.Background(), 1, "AAA", false))

	resp := handle[StatusResponse](t, f, ActionRemoteStartTransaction,
		RemoteStartTransactionRequest{ConnectorID: intPtr(1), IDTag: "AAA"})
	assert.Equal(t, "Rejected", resp.Status)
}

func TestRemoteStopTransaction(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP","numberOfConnectors":1}`)
	require.NoError(t, f.st.StartTransaction(context.Background(), 1, "AAA", false))

	resp := handle[StatusResponse](t, f, ActionRemoteStopTransaction,
		RemoteStopTransactionRequest{TransactionID: 42})
	assert.Equal(t, "Accepted", resp.Status)

	require.Eventually(t, func() bool {
		c, _ := f.st.ConnectorSnapshot(1)
		return !c.InTransaction()
	}, 2*time.Second, 20*time.Millisecond)

	resp = handle[StatusResponse](t, f, ActionRemoteStopTransaction,
		RemoteStopTransactionRequest{TransactionID: 99})
	assert.Equal(t, "Rejected", resp.Status)
}

func TestChangeConfigurationMirrorsHeartbeatKeys(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP"}`)

	resp := handle[StatusResponse](t, f, ActionChangeConfiguration,
		ChangeConfigurationRequest{Key: configstore.KeyHeartBeatInterval, Value: "30"})
	assert.Equal(t, "Accepted", resp.Status)

	store := f.st.ConfigStore()
	assert.Equal(t, "30", store.Value(configstore.KeyHeartBeatInterval))
	assert.Equal(t, "30", store.Value(configstore.KeyHeartbeatInterval))
	assert.Equal(t, 30*time.Second, f.st.HeartbeatInterval())

	resp = handle[StatusResponse](t, f, ActionChangeConfiguration,
		ChangeConfigurationRequest{Key: configstore.KeyHeartbeatInterval, Value: "45"})
	assert.Equal(t, "Accepted", resp.Status)
	assert.Equal(t, "45", store.Value(configstore.KeyHeartBeatInterval))
	assert.Equal(t, 45*time.Second, f.st.HeartbeatInterval())
}

func TestChangeConfigurationUnknownAndReadonly(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP"}`)

	resp := handle[StatusResponse](t, f, ActionChangeConfiguration,
		ChangeConfigurationRequest{Key: "NoSuchKey", Value: "1"})
	assert.Equal(t, "NotSupported", resp.Status)

	resp = handle[StatusResponse](t, f, ActionChangeConfiguration,
		ChangeConfigurationRequest{Key: configstore.KeyNumberOfConnectors, Value: "9"})
	assert.Equal(t, "Rejected", resp.Status)
}

func TestGetConfiguration(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP"}`)

	resp := handle[GetConfigurationResponse](t, f, ActionGetConfiguration,
		GetConfigurationRequest{Key: []string{configstore.KeyHeartbeatInterval, "Bogus"}})
	require.Len(t, resp.ConfigurationKey, 1)
	assert.Equal(t, configstore.KeyHeartbeatInterval, resp.ConfigurationKey[0].Key)
	assert.Equal(t, []string{"Bogus"}, resp.UnknownKey)

	all := handle[GetConfigurationResponse](t, f, ActionGetConfiguration, GetConfigurationRequest{})
	assert.NotEmpty(t, all.ConfigurationKey)
	assert.Empty(t, all.UnknownKey)
}

func TestSendLocalListAndVersion(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP"}`)

	v := handle[GetLocalListVersionResponse](t, f, ActionGetLocalListVersion, struct{}{})
	assert.Equal(t, 0, v.ListVersion)

	resp := handle[StatusResponse](t, f, ActionSendLocalList, SendLocalListRequest{
		ListVersion: 5,
		UpdateType:  "Full",
		LocalAuthorizationList: []AuthorizationData{
			{IDTag: "LOCAL1", IDTagInfo: &IDTagInfo{Status: "Accepted"}},
		},
	})
	assert.Equal(t, "Accepted", resp.Status)
	assert.True(t, f.st.IsLocallyAuthorized("LOCAL1"))

	v = handle[GetLocalListVersionResponse](t, f, ActionGetLocalListVersion, struct{}{})
	assert.Equal(t, 5, v.ListVersion)

	// Stale differential is a version mismatch.
	resp = handle[StatusResponse](t, f, ActionSendLocalList, SendLocalListRequest{
		ListVersion: 4, UpdateType: "Differential",
	})
	assert.Equal(t, "VersionMismatch", resp.Status)
}

func TestTriggerMessageUnsupported(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP"}`)
	resp := handle[StatusResponse](t, f, ActionTriggerMessage,
		TriggerMessageRequest{RequestedMessage: "SignedUpdateFirmware"})
	assert.Equal(t, "NotImplemented", resp.Status)
}

func TestTriggerHeartbeat(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP"}`)
	resp := handle[StatusResponse](t, f, ActionTriggerMessage,
		TriggerMessageRequest{RequestedMessage: ActionHeartbeat})
	assert.Equal(t, "Accepted", resp.Status)

	require.Eventually(t, func() bool { return f.ep.seen(ActionHeartbeat) },
		time.Second, 10*time.Millisecond)
}

func TestUnknownActionIsNotImplemented(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP"}`)
	_, wireErr := f.d.Handle(context.Background(), "SignCertificate", nil)
	require.NotNil(t, wireErr)
	assert.Equal(t, "NotImplemented", string(wireErr.Code))
}

func TestGetCompositeSchedule(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP","numberOfConnectors":1,"voltageOut":230,"numberOfPhases":1}`)

	resp := handle[GetCompositeScheduleResponse](t, f, ActionGetCompositeSchedule,
		GetCompositeScheduleRequest{ConnectorID: 1, Duration: 600})
	assert.Equal(t, "Rejected", resp.Status) // no profiles installed

	start := time.Now().Add(-time.Minute)
	setResp := handle[StatusResponse](t, f, ActionSetChargingProfile, SetChargingProfileRequest{
		ConnectorID: 1,
		CSChargingProfiles: mustProfile(t, `{
			"chargingProfileId": 1, "stackLevel": 0,
			"chargingProfilePurpose": "TxDefaultProfile",
			"chargingProfileKind": "Absolute",
			"chargingSchedule": {
				"duration": 7200,
				"startSchedule": "`+start.UTC().Format(time.RFC3339)+`",
				"chargingRateUnit": "W",
				"chargingSchedulePeriod": [{"startPeriod": 0, "limit": 1500}]
			}
		}`),
	})
	assert.Equal(t, "Accepted", setResp.Status)

	resp = handle[GetCompositeScheduleResponse](t, f, ActionGetCompositeSchedule,
		GetCompositeScheduleRequest{ConnectorID: 1, Duration: 600})
	require.Equal(t, "Accepted", resp.Status)
	require.NotNil(t, resp.ChargingSchedule)
	require.NotEmpty(t, resp.ChargingSchedule.Periods)
	assert.InDelta(t, 1500, resp.ChargingSchedule.Periods[0].Limit, 0.1)
}

func TestReserveNowAndCancel(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP","numberOfConnectors":1}`)

	resp := handle[StatusResponse](t, f, ActionReserveNow, ReserveNowRequest{
		ConnectorID: 1, ReservationID: 7, IDTag: "AAA",
		ExpiryDate: time.Now().Add(time.Hour),
	})
	assert.Equal(t, "Accepted", resp.Status)

	resp = handle[StatusResponse](t, f, ActionCancelReservation, CancelReservationRequest{ReservationID: 7})
	assert.Equal(t, "Accepted", resp.Status)
	resp = handle[StatusResponse](t, f, ActionCancelReservation, CancelReservationRequest{ReservationID: 7})
	assert.Equal(t, "Rejected", resp.Status)
}

func TestDataTransferIncoming(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP"}`)

	resp := handle[DataTransferResponse](t, f, ActionDataTransfer,
		DataTransferRequest{VendorID: "acme"})
	assert.Equal(t, "Accepted", resp.Status)

	resp = handle[DataTransferResponse](t, f, ActionDataTransfer, DataTransferRequest{})
	assert.Equal(t, "Rejected", resp.Status)
}

func TestCertificateLifecycle(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP"}`)

	list := handle[GetInstalledCertificateIdsResponse](t, f, ActionGetInstalledCertificateIds,
		GetInstalledCertificateIdsRequest{CertificateType: "CentralSystemRootCertificate"})
	assert.Equal(t, "NotFound", list.Status)

	resp := handle[StatusResponse](t, f, ActionInstallCertificate, InstallCertificateRequest{
		CertificateType: "CentralSystemRootCertificate",
		Certificate:     "-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----",
	})
	assert.Equal(t, "Accepted", resp.Status)

	list = handle[GetInstalledCertificateIdsResponse](t, f, ActionGetInstalledCertificateIds,
		GetInstalledCertificateIdsRequest{CertificateType: "CentralSystemRootCertificate"})
	require.Equal(t, "Accepted", list.Status)
	require.Len(t, list.CertificateHashData, 1)
	hash := list.CertificateHashData[0]
	assert.Equal(t, "SHA256", hash.HashAlgorithm)
	assert.NotEmpty(t, hash.SerialNumber)

	resp = handle[StatusResponse](t, f, ActionDeleteCertificate,
		DeleteCertificateRequest{CertificateHashData: hash})
	assert.Equal(t, "Accepted", resp.Status)
	resp = handle[StatusResponse](t, f, ActionDeleteCertificate,
		DeleteCertificateRequest{CertificateHashData: hash})
	assert.Equal(t, "NotFound", resp.Status)
}

func TestInstallCertificateUnknownTypeRejected(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP"}`)
	resp := handle[StatusResponse](t, f, ActionInstallCertificate,
		InstallCertificateRequest{CertificateType: "Bogus", Certificate: "pem"})
	assert.Equal(t, "Rejected", resp.Status)
}

func TestBootAcceptedReportsStartupSecurityEvent(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP"}`)
	f.ep.responses[ActionBootNotification] = BootNotificationResponse{
		Status: "Accepted", CurrentTime: time.Now().UTC(), Interval: 300,
	}

	res, err := f.st.Service().BootNotification(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ocpp.RegistrationAccepted, res.Status)
	assert.True(t, f.ep.seen(ActionSecurityEventNotification))
}

func TestBootPendingSkipsSecurityEvent(t *testing.T) {
	f := newFixture(t, `{"baseName":"CP"}`)
	f.ep.responses[ActionBootNotification] = BootNotificationResponse{
		Status: "Pending", CurrentTime: time.Now().UTC(), Interval: 60,
	}

	res, err := f.st.Service().BootNotification(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ocpp.RegistrationPending, res.Status)
	assert.False(t, f.ep.seen(ActionSecurityEventNotification))
}

func mustProfile(t *testing.T, raw string) (p profiles.Profile) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return p
}

func intPtr(i int) *int { return &i }
