package v16

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/evfleet/ocppsim/internal/configstore"
	"github.com/evfleet/ocppsim/internal/ocpp"
	"github.com/evfleet/ocppsim/internal/ocppj"
	"github.com/evfleet/ocppsim/internal/profiles"
	"github.com/evfleet/ocppsim/internal/station"
)

// remoteStartDelay simulates the cable plugin delay between an accepted
// RemoteStartTransaction and the StartTransaction it triggers.
const remoteStartDelay = 500 * time.Millisecond

type handlerFunc func(ctx context.Context, payload json.RawMessage) (any, *ocppj.Error)

// Dispatcher routes inbound 1.6 CALLs through a static handler table.
type Dispatcher struct {
	st       *station.Station
	handlers map[string]handlerFunc
}

// Bind wires the full 1.6 binding for a station.
func Bind(st *station.Station) (ocpp.Service, ocpp.Dispatcher) {
	id := st.Identity()
	svc := NewService(st, BootIdentity{
		Vendor:                  id.Vendor,
		Model:                   id.Model,
		ChargeBoxSerialNumber:   id.ChargeBoxSerialNumber,
		ChargePointSerialNumber: id.ChargePointSerialNumber,
		FirmwareVersion:         id.FirmwareVersion,
		MeterSerialNumber:       id.MeterSerialNumber,
	})
	return svc, NewDispatcher(st)
}

// NewDispatcher builds the handler table.
func NewDispatcher(st *station.Station) *Dispatcher {
	d := &Dispatcher{st: st}
	d.handlers = map[string]handlerFunc{
		ActionReset:                      d.handleReset,
		ActionChangeConfiguration:        d.handleChangeConfiguration,
		ActionGetConfiguration:           d.handleGetConfiguration,
		ActionChangeAvailability:         d.handleChangeAvailability,
		ActionRemoteStartTransaction:     d.handleRemoteStart,
		ActionRemoteStopTransaction:      d.handleRemoteStop,
		ActionUnlockConnector:            d.handleUnlockConnector,
		ActionTriggerMessage:             d.handleTriggerMessage,
		ActionReserveNow:                 d.handleReserveNow,
		ActionCancelReservation:          d.handleCancelReservation,
		ActionSetChargingProfile:         d.handleSetChargingProfile,
		ActionClearChargingProfile:       d.handleClearChargingProfile,
		ActionGetCompositeSchedule:       d.handleGetCompositeSchedule,
		ActionUpdateFirmware:             d.handleUpdateFirmware,
		ActionGetDiagnostics:             d.handleGetDiagnostics,
		ActionDataTransfer:               d.handleDataTransfer,
		ActionGetLocalListVersion:        d.handleGetLocalListVersion,
		ActionSendLocalList:              d.handleSendLocalList,
		ActionInstallCertificate:         d.handleInstallCertificate,
		ActionDeleteCertificate:          d.handleDeleteCertificate,
		ActionGetInstalledCertificateIds: d.handleGetInstalledCertificateIds,
	}
	return d
}

// Handle implements ocpp.Dispatcher.
func (d *Dispatcher) Handle(ctx context.Context, action string, payload json.RawMessage) (any, *ocppj.Error) {
	h, ok := d.handlers[action]
	if !ok {
		return nil, ocpp.NotImplementedError(action)
	}
	return h(ctx, payload)
}

func parse[T any](payload json.RawMessage) (*T, *ocppj.Error) {
	var req T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, ocppj.NewError(ocppj.ErrFormationViolation, err.Error())
		}
	}
	return &req, nil
}

func (d *Dispatcher) handleReset(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[ResetRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	// Accept immediately; the stop/sleep/start cycle runs asynchronously.
	d.st.ScheduleReset(req.Type)
	return StatusResponse{Status: "Accepted"}, nil
}

func (d *Dispatcher) handleChangeConfiguration(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[ChangeConfigurationRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}

	result := d.st.ConfigStore().Set(req.Key, req.Value)
	if result == configstore.SetAccepted || result == configstore.SetRebootRequired {
		d.applyConfigurationSideEffects(req.Key, req.Value)
	}
	return StatusResponse{Status: result.String()}, nil
}

// applyConfigurationSideEffects handles the keys the runtime reacts to.
// Writes to either heartbeat key mirror to the other and restart the
// scheduler.
func (d *Dispatcher) applyConfigurationSideEffects(key, value string) {
	switch key {
	case configstore.KeyHeartBeatInterval:
		d.st.ConfigStore().ForceSet(configstore.KeyHeartbeatInterval, value)
		d.restartHeartbeatFrom(value)
	case configstore.KeyHeartbeatInterval:
		d.st.ConfigStore().ForceSet(configstore.KeyHeartBeatInterval, value)
		d.restartHeartbeatFrom(value)
	case configstore.KeyWebSocketPingInterval:
		d.st.Logger().Info("web socket ping interval changed, applies on next connect", "value", value)
	}
}

func (d *Dispatcher) restartHeartbeatFrom(value string) {
	seconds, err := strconv.Atoi(value)
	if err != nil {
		d.st.Logger().Warn("heartbeat interval is not an integer", "value", value)
		return
	}
	d.st.RestartHeartbeat(time.Duration(seconds) * time.Second)
}

func (d *Dispatcher) handleGetConfiguration(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[GetConfigurationRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	found, unknown := d.st.ConfigStore().VisibleKeys(req.Key)
	resp := GetConfigurationResponse{UnknownKey: unknown}
	for _, k := range found {
		resp.ConfigurationKey = append(resp.ConfigurationKey, ConfigurationKey{
			Key: k.Key, Readonly: k.Readonly, Value: k.Value,
		})
	}
	return resp, nil
}

func (d *Dispatcher) handleChangeAvailability(ctx context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[ChangeAvailabilityRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	avail := station.Operative
	if req.Type == "Inoperative" {
		avail = station.Inoperative
	}
	status, err := d.st.ChangeAvailability(ctx, req.ConnectorID, avail)
	if err != nil {
		return StatusResponse{Status: "Rejected"}, nil
	}
	return StatusResponse{Status: status}, nil
}

func (d *Dispatcher) handleRemoteStart(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[RemoteStartTransactionRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}

	connectorID := d.pickConnector(req.ConnectorID)
	if connectorID == 0 {
		return StatusResponse{Status: "Rejected"}, nil
	}

	store := d.st.ConfigStore()
	localAuthList, _ := strconv.ParseBool(store.Value(configstore.KeyLocalAuthListEnabled))
	authorizeRemote, _ := strconv.ParseBool(store.Value(configstore.KeyAuthorizeRemoteTxRequests))
	if localAuthList && authorizeRemote && !d.st.IsLocallyAuthorized(req.IDTag) {
		return StatusResponse{Status: "Rejected"}, nil
	}

	if req.ChargingProfile != nil {
		if err := d.st.SetChargingProfile(connectorID, *req.ChargingProfile); err != nil {
			return StatusResponse{Status: "Rejected"}, nil
		}
	}

	idTag := req.IDTag
	time.AfterFunc(remoteStartDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), ocppj.DefaultRequestTimeout)
		defer cancel()
		if err := d.st.StartTransaction(ctx, connectorID, idTag, true); err != nil {
			d.st.Logger().Warn("remote start did not produce a transaction",
				"connectorId", connectorID, "error", err)
		}
	})
	return StatusResponse{Status: "Accepted"}, nil
}

// pickConnector resolves the remote start target: the requested connector if
// it can take a transaction, else the first free one when none was requested.
func (d *Dispatcher) pickConnector(requested *int) int {
	if requested != nil {
		if c, ok := d.st.ConnectorSnapshot(*requested); ok && *requested > 0 &&
			!c.InTransaction() && c.Availability == station.Operative {
			return *requested
		}
		return 0
	}
	for _, id := range d.st.ConnectorIDs() {
		if c, ok := d.st.ConnectorSnapshot(id); ok && !c.InTransaction() && c.Availability == station.Operative {
			return id
		}
	}
	return 0
}

func (d *Dispatcher) handleRemoteStop(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[RemoteStopTransactionRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	connectorID, _, ok := d.st.TransactionFor(strconv.Itoa(req.TransactionID))
	if !ok {
		return StatusResponse{Status: "Rejected"}, nil
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ocppj.DefaultRequestTimeout)
		defer cancel()
		if err := d.st.StopTransaction(ctx, connectorID, "Remote"); err != nil {
			d.st.Logger().Warn("remote stop failed", "connectorId", connectorID, "error", err)
		}
	}()
	return StatusResponse{Status: "Accepted"}, nil
}

func (d *Dispatcher) handleUnlockConnector(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[UnlockConnectorRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	c, ok := d.st.ConnectorSnapshot(req.ConnectorID)
	if !ok || req.ConnectorID <= 0 {
		return StatusResponse{Status: "NotSupported"}, nil
	}
	if c.InTransaction() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), ocppj.DefaultRequestTimeout)
			defer cancel()
			if err := d.st.StopTransaction(ctx, req.ConnectorID, "UnlockCommand"); err != nil {
				d.st.Logger().Warn("unlock stop failed", "connectorId", req.ConnectorID, "error", err)
			}
		}()
	}
	return StatusResponse{Status: "Unlocked"}, nil
}

func (d *Dispatcher) handleTriggerMessage(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[TriggerMessageRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}

	connectorID := 1
	if req.ConnectorID != nil {
		connectorID = *req.ConnectorID
	}

	switch req.RequestedMessage {
	case ActionBootNotification:
		d.st.TriggerBootNotification()
	case ActionHeartbeat:
		go d.async(func(ctx context.Context) error {
			_, err := d.st.Service().Heartbeat(ctx)
			return err
		})
	case ActionStatusNotification:
		go d.async(func(ctx context.Context) error {
			c, ok := d.st.ConnectorSnapshot(connectorID)
			if !ok {
				return station.ErrUnknownConnector
			}
			return d.st.SendStatusNotification(ctx, connectorID, c.Status)
		})
	case ActionMeterValues:
		go d.st.TriggerMeterValues(connectorID)
	case ActionFirmwareStatusNotification:
		go d.async(func(ctx context.Context) error {
			return d.st.Service().FirmwareStatusNotification(ctx, d.st.FirmwareStatus())
		})
	case ActionDiagnosticsStatusNotification:
		go d.async(func(ctx context.Context) error {
			return d.st.Service().DiagnosticsStatusNotification(ctx, d.st.DiagnosticsStatus())
		})
	default:
		return StatusResponse{Status: "NotImplemented"}, nil
	}
	return StatusResponse{Status: "Accepted"}, nil
}

func (d *Dispatcher) async(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), ocppj.DefaultRequestTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		d.st.Logger().Warn("triggered message failed", "error", err)
	}
}

func (d *Dispatcher) handleReserveNow(ctx context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[ReserveNowRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	status := d.st.Reserve(ctx, req.ConnectorID, station.Reservation{
		ID:         req.ReservationID,
		IDTag:      req.IDTag,
		ExpiryDate: req.ExpiryDate,
	})
	return StatusResponse{Status: status}, nil
}

func (d *Dispatcher) handleCancelReservation(ctx context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[CancelReservationRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	if d.st.CancelReservation(ctx, req.ReservationID) {
		return StatusResponse{Status: "Accepted"}, nil
	}
	return StatusResponse{Status: "Rejected"}, nil
}

func (d *Dispatcher) handleSetChargingProfile(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[SetChargingProfileRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	if err := d.st.SetChargingProfile(req.ConnectorID, req.CSChargingProfiles); err != nil {
		return StatusResponse{Status: "Rejected"}, nil
	}
	return StatusResponse{Status: "Accepted"}, nil
}

func (d *Dispatcher) handleClearChargingProfile(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[ClearChargingProfileRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	filter := profiles.ClearFilter{ID: req.ID, StackLevel: req.StackLevel}
	if req.ChargingProfilePurpose != nil {
		purpose := profiles.Purpose(*req.ChargingProfilePurpose)
		filter.Purpose = &purpose
	}
	connectorID := -1
	if req.ConnectorID != nil {
		connectorID = *req.ConnectorID
	}
	if d.st.ClearChargingProfiles(connectorID, filter) {
		return StatusResponse{Status: "Accepted"}, nil
	}
	return StatusResponse{Status: "Unknown"}, nil
}

// handleGetCompositeSchedule samples the profile evaluator over the requested
// duration and folds equal consecutive limits into schedule periods.
func (d *Dispatcher) handleGetCompositeSchedule(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[GetCompositeScheduleRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	if _, ok := d.st.ConnectorSnapshot(req.ConnectorID); !ok {
		return GetCompositeScheduleResponse{Status: "Rejected"}, nil
	}

	const step = 60 // seconds
	start := time.Now().UTC()
	var periods []profiles.SchedulePeriod
	active := false
	for offset := 0; offset < req.Duration; offset += step {
		watts, ok := d.st.PowerLimit(req.ConnectorID, start.Add(time.Duration(offset)*time.Second))
		if !ok {
			continue
		}
		active = true
		if n := len(periods); n > 0 && periods[n-1].Limit == watts {
			continue
		}
		periods = append(periods, profiles.SchedulePeriod{StartPeriod: offset, Limit: watts})
	}
	if !active {
		return GetCompositeScheduleResponse{Status: "Rejected"}, nil
	}

	duration := req.Duration
	return GetCompositeScheduleResponse{
		Status:        "Accepted",
		ConnectorID:   &req.ConnectorID,
		ScheduleStart: &start,
		ChargingSchedule: &profiles.Schedule{
			Duration:         &duration,
			StartSchedule:    &start,
			ChargingRateUnit: profiles.RateUnitWatts,
			Periods:          periods,
		},
	}, nil
}

func (d *Dispatcher) handleUpdateFirmware(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	if _, wireErr := parse[UpdateFirmwareRequest](payload); wireErr != nil {
		return nil, wireErr
	}
	d.st.SimulateFirmwareUpdate()
	return struct{}{}, nil
}

func (d *Dispatcher) handleGetDiagnostics(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	if _, wireErr := parse[GetDiagnosticsRequest](payload); wireErr != nil {
		return nil, wireErr
	}
	d.st.SimulateDiagnosticsUpload()
	return GetDiagnosticsResponse{FileName: d.st.Identity().Name + "-diagnostics.log"}, nil
}

func (d *Dispatcher) handleDataTransfer(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[DataTransferRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	if req.VendorID == "" {
		return DataTransferResponse{Status: "Rejected"}, nil
	}
	return DataTransferResponse{Status: "Accepted"}, nil
}

// Certificate management holds certificates as opaque slots; signing and
// validation stay with the pluggable certificate manager.

func toStationHash(data CertificateHashData) station.CertificateHash {
	return station.CertificateHash{
		HashAlgorithm:  data.HashAlgorithm,
		IssuerNameHash: data.IssuerNameHash,
		IssuerKeyHash:  data.IssuerKeyHash,
		SerialNumber:   data.SerialNumber,
	}
}

func fromStationHash(hash station.CertificateHash) CertificateHashData {
	return CertificateHashData{
		HashAlgorithm:  hash.HashAlgorithm,
		IssuerNameHash: hash.IssuerNameHash,
		IssuerKeyHash:  hash.IssuerKeyHash,
		SerialNumber:   hash.SerialNumber,
	}
}

func (d *Dispatcher) handleInstallCertificate(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[InstallCertificateRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	switch req.CertificateType {
	case "CentralSystemRootCertificate", "ManufacturerRootCertificate":
	default:
		return StatusResponse{Status: "Rejected"}, nil
	}
	if !d.st.Certificates().Install(req.CertificateType, req.Certificate) {
		return StatusResponse{Status: "Failed"}, nil
	}
	return StatusResponse{Status: "Accepted"}, nil
}

func (d *Dispatcher) handleDeleteCertificate(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[DeleteCertificateRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	if !d.st.Certificates().Delete(toStationHash(req.CertificateHashData)) {
		return StatusResponse{Status: "NotFound"}, nil
	}
	return StatusResponse{Status: "Accepted"}, nil
}

func (d *Dispatcher) handleGetInstalledCertificateIds(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[GetInstalledCertificateIdsRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	var installed []station.InstalledCertificate
	if req.CertificateType == "" {
		installed = d.st.Certificates().Installed()
	} else {
		installed = d.st.Certificates().Installed(req.CertificateType)
	}
	if len(installed) == 0 {
		return GetInstalledCertificateIdsResponse{Status: "NotFound"}, nil
	}
	resp := GetInstalledCertificateIdsResponse{Status: "Accepted"}
	for _, cert := range installed {
		resp.CertificateHashData = append(resp.CertificateHashData, fromStationHash(cert.Hash))
	}
	return resp, nil
}

func (d *Dispatcher) handleGetLocalListVersion(_ context.Context, _ json.RawMessage) (any, *ocppj.Error) {
	return GetLocalListVersionResponse{ListVersion: d.st.LocalList().Version()}, nil
}

func (d *Dispatcher) handleSendLocalList(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[SendLocalListRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	enabled, _ := strconv.ParseBool(d.st.ConfigStore().Value(configstore.KeyLocalAuthListEnabled))
	if !enabled {
		return StatusResponse{Status: "NotSupported"}, nil
	}

	entries := make([]station.LocalListEntry, 0, len(req.LocalAuthorizationList))
	for _, item := range req.LocalAuthorizationList {
		entry := station.LocalListEntry{IDTag: item.IDTag}
		if item.IDTagInfo != nil {
			entry.Status = item.IDTagInfo.Status
		}
		entries = append(entries, entry)
	}

	switch req.UpdateType {
	case "Full":
		d.st.LocalList().ApplyFull(req.ListVersion, entries)
	case "Differential":
		if !d.st.LocalList().ApplyDifferential(req.ListVersion, entries) {
			return StatusResponse{Status: "VersionMismatch"}, nil
		}
	default:
		return nil, ocppj.NewError(ocppj.ErrPropertyConstraintViolation, "unknown updateType "+req.UpdateType)
	}
	return StatusResponse{Status: "Accepted"}, nil
}
