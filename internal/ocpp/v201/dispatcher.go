package v201

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"github.com/evfleet/ocppsim/internal/auth"
	"github.com/evfleet/ocppsim/internal/configstore"
	"github.com/evfleet/ocppsim/internal/ocpp"
	"github.com/evfleet/ocppsim/internal/ocppj"
	"github.com/evfleet/ocppsim/internal/profiles"
	"github.com/evfleet/ocppsim/internal/station"
)

// remoteStartDelay simulates the cable plugin delay between an accepted
// RequestStartTransaction and the TransactionEvent(Started) it triggers.
const remoteStartDelay = 500 * time.Millisecond

// reportItemsPerMessage caps one NotifyReport chunk.
const reportItemsPerMessage = 4

type handlerFunc func(ctx context.Context, payload json.RawMessage) (any, *ocppj.Error)

// Dispatcher routes inbound 2.0.1 CALLs through a static handler table
// backed by the device model.
type Dispatcher struct {
	st       *station.Station
	svc      *Service
	model    *Model
	handlers map[string]handlerFunc
}

// Bind wires the full 2.0.1 binding for a station.
func Bind(st *station.Station) (ocpp.Service, ocpp.Dispatcher) {
	id := st.Identity()
	svc := NewService(st, ChargingStationType{
		Model:           id.Model,
		VendorName:      id.Vendor,
		SerialNumber:    id.ChargePointSerialNumber,
		FirmwareVersion: id.FirmwareVersion,
	})
	return svc, NewDispatcher(st, svc)
}

// NewDispatcher builds the handler table and the device model.
func NewDispatcher(st *station.Station, svc *Service) *Dispatcher {
	d := &Dispatcher{st: st, svc: svc, model: NewModel(st)}
	d.handlers = map[string]handlerFunc{
		ActionReset:                      d.handleReset,
		ActionGetVariables:               d.handleGetVariables,
		ActionSetVariables:               d.handleSetVariables,
		ActionGetBaseReport:              d.handleGetBaseReport,
		ActionChangeAvailability:         d.handleChangeAvailability,
		ActionRequestStartTransaction:    d.handleRequestStart,
		ActionRequestStopTransaction:     d.handleRequestStop,
		ActionUnlockConnector:            d.handleUnlockConnector,
		ActionTriggerMessage:             d.handleTriggerMessage,
		ActionReserveNow:                 d.handleReserveNow,
		ActionCancelReservation:          d.handleCancelReservation,
		ActionSetChargingProfile:         d.handleSetChargingProfile,
		ActionClearChargingProfile:       d.handleClearChargingProfile,
		ActionGetCompositeSchedule:       d.handleGetCompositeSchedule,
		ActionUpdateFirmware:             d.handleUpdateFirmware,
		ActionGetLog:                     d.handleGetLog,
		ActionDataTransfer:               d.handleDataTransfer,
		ActionGetLocalListVersion:        d.handleGetLocalListVersion,
		ActionSendLocalList:              d.handleSendLocalList,
		ActionInstallCertificate:         d.handleInstallCertificate,
		ActionDeleteCertificate:          d.handleDeleteCertificate,
		ActionGetInstalledCertificateIds: d.handleGetInstalledCertificateIds,
		ActionGetCertificateStatus:       d.handleGetCertificateStatus,
	}
	return d
}

// Model exposes the device model for report generation and tests.
func (d *Dispatcher) Model() *Model {
	return d.model
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

func (d *Dispatcher) handleGetVariables(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[GetVariablesRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	if len(req.GetVariableData) == 0 {
		return nil, ocppj.NewError(ocppj.ErrOccurrenceConstraintViolation, "getVariableData must not be empty")
	}

	resp := GetVariablesResponse{GetVariableResult: make([]GetVariableResult, 0, len(req.GetVariableData))}
	for _, item := range req.GetVariableData {
		res := d.model.Get(item.Component.Name, item.Component.Instance,
			item.Variable.Name, item.Variable.Instance, Attribute(item.AttributeType))
		out := GetVariableResult{
			AttributeStatus: res.Status,
			AttributeType:   item.AttributeType,
			AttributeValue:  res.Value,
			Component:       item.Component,
			Variable:        item.Variable,
		}
		if res.ReasonCode != "" {
			out.AttributeStatusInfo = &StatusInfo{
				ReasonCode:     string(res.ReasonCode),
				AdditionalInfo: res.AdditionalInfo,
			}
		}
		resp.GetVariableResult = append(resp.GetVariableResult, out)
	}
	return resp, nil
}

func (d *Dispatcher) handleSetVariables(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[SetVariablesRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	if len(req.SetVariableData) == 0 {
		return nil, ocppj.NewError(ocppj.ErrOccurrenceConstraintViolation, "setVariableData must not be empty")
	}

	resp := SetVariablesResponse{SetVariableResult: make([]SetVariableResult, 0, len(req.SetVariableData))}
	for _, item := range req.SetVariableData {
		res := d.model.Set(item.Component.Name, item.Component.Instance,
			item.Variable.Name, item.Variable.Instance, Attribute(item.AttributeType), item.AttributeValue)
		out := SetVariableResult{
			AttributeStatus: res.Status,
			AttributeType:   item.AttributeType,
			Component:       item.Component,
			Variable:        item.Variable,
		}
		if res.ReasonCode != "" {
			out.AttributeStatusInfo = &StatusInfo{
				ReasonCode:     string(res.ReasonCode),
				AdditionalInfo: res.AdditionalInfo,
			}
		}
		resp.SetVariableResult = append(resp.SetVariableResult, out)
	}
	return resp, nil
}

func (d *Dispatcher) handleGetBaseReport(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[GetBaseReportRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	switch req.ReportBase {
	case "ConfigurationInventory", "FullInventory", "SummaryInventory":
	default:
		return StatusResponse{Status: "NotSupported"}, nil
	}

	requestID := req.RequestID
	go d.sendBaseReport(requestID)
	return StatusResponse{Status: "Accepted"}, nil
}

// sendBaseReport streams the device model as chunked NotifyReport calls.
func (d *Dispatcher) sendBaseReport(requestID int) {
	generatedAt := time.Now().UTC()
	records := d.model.Records()

	var report []ReportData
	for _, rec := range records {
		attr := VariableAttribute{
			Type:       string(AttrActual),
			Mutability: string(rec.Mutability),
			Persistent: rec.Persistent,
		}
		if rec.Mutability != WriteOnly {
			if res := d.model.Get(rec.Component, "", rec.Variable, "", AttrActual); res.Status == StatusAccepted {
				attr.Value = res.Value
			}
		}
		report = append(report, ReportData{
			Component:         Component{Name: rec.Component},
			Variable:          Variable{Name: rec.Variable},
			VariableAttribute: []VariableAttribute{attr},
			VariableCharacteristics: &VariableCharacteristics{
				DataType: string(rec.DataType),
				MinLimit: rec.Min,
				MaxLimit: rec.Max,
			},
		})
	}

	for seqNo, offset := 0, 0; offset < len(report); seqNo, offset = seqNo+1, offset+reportItemsPerMessage {
		end := offset + reportItemsPerMessage
		if end > len(report) {
			end = len(report)
		}
		chunk := NotifyReportRequest{
			RequestID:   requestID,
			GeneratedAt: generatedAt,
			SeqNo:       seqNo,
			Tbc:         end < len(report),
			ReportData:  report[offset:end],
		}
		ctx, cancel := context.WithTimeout(context.Background(), ocppj.DefaultRequestTimeout)
		err := d.svc.NotifyReport(ctx, chunk)
		cancel()
		if err != nil {
			d.st.Logger().Warn("notify report chunk failed", "requestId", requestID, "seqNo", seqNo, "error", err)
			return
		}
	}
}

func (d *Dispatcher) handleChangeAvailability(ctx context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[ChangeAvailabilityRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	avail := station.Operative
	if req.OperationalStatus == "Inoperative" {
		avail = station.Inoperative
	}
	connectorID := 0
	if req.EVSE != nil {
		connectorID = req.EVSE.ID
	}
	status, err := d.st.ChangeAvailability(ctx, connectorID, avail)
	if err != nil {
		return StatusResponse{Status: "Rejected"}, nil
	}
	return StatusResponse{Status: status}, nil
}

func (d *Dispatcher) handleRequestStart(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[RequestStartTransactionRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}

	connectorID := d.pickConnector(req.EVSEID)
	if connectorID == 0 {
		return RequestStartTransactionResponse{Status: "Rejected"}, nil
	}

	store := d.st.ConfigStore()
	localAuthList, _ := strconv.ParseBool(store.Value(configstore.KeyLocalAuthListEnabled))
	authorizeRemote, _ := strconv.ParseBool(store.Value(configstore.KeyAuthorizeRemoteTxRequests))
	idTag := auth.OCPP20Adapter{}.ToUnified(req.IDToken).Value
	if localAuthList && authorizeRemote && !d.st.IsLocallyAuthorized(idTag) {
		return RequestStartTransactionResponse{Status: "Rejected"}, nil
	}

	if req.ChargingProfile != nil {
		if err := d.st.SetChargingProfile(connectorID, toInternalProfile(*req.ChargingProfile)); err != nil {
			return RequestStartTransactionResponse{Status: "Rejected"}, nil
		}
	}

	time.AfterFunc(remoteStartDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), ocppj.DefaultRequestTimeout)
		defer cancel()
		if err := d.st.StartTransaction(ctx, connectorID, idTag, true); err != nil {
			d.st.Logger().Warn("remote start did not produce a transaction",
				"evseId", connectorID, "error", err)
		}
	})
	return RequestStartTransactionResponse{Status: "Accepted"}, nil
}

// pickConnector resolves the remote start target: the requested EVSE if it
// can take a transaction, else the first free one when none was requested.
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

func (d *Dispatcher) handleRequestStop(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[RequestStopTransactionRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	connectorID, _, ok := d.st.TransactionFor(req.TransactionID)
	if !ok {
		return StatusResponse{Status: "Rejected"}, nil
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ocppj.DefaultRequestTimeout)
		defer cancel()
		if err := d.st.StopTransaction(ctx, connectorID, "Remote"); err != nil {
			d.st.Logger().Warn("remote stop failed", "evseId", connectorID, "error", err)
		}
	}()
	return StatusResponse{Status: "Accepted"}, nil
}

func (d *Dispatcher) handleUnlockConnector(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[UnlockConnectorRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	c, ok := d.st.ConnectorSnapshot(req.EVSEID)
	if !ok || req.EVSEID <= 0 {
		return UnlockConnectorResponse{Status: "UnknownConnector"}, nil
	}
	if c.InTransaction() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), ocppj.DefaultRequestTimeout)
			defer cancel()
			if err := d.st.StopTransaction(ctx, req.EVSEID, "UnlockCommand"); err != nil {
				d.st.Logger().Warn("unlock stop failed", "evseId", req.EVSEID, "error", err)
			}
		}()
	}
	return UnlockConnectorResponse{Status: "Unlocked"}, nil
}

func (d *Dispatcher) handleTriggerMessage(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[TriggerMessageRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}

	connectorID := 1
	if req.EVSE != nil {
		connectorID = req.EVSE.ID
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
	case ActionLogStatusNotification:
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
	connectorID := 1
	if req.EVSEID != nil {
		connectorID = *req.EVSEID
	}
	status := d.st.Reserve(ctx, connectorID, station.Reservation{
		ID:         req.ID,
		IDTag:      auth.OCPP20Adapter{}.ToUnified(req.IDToken).Value,
		ExpiryDate: req.ExpiryDateTime,
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

// toInternalProfile converts the 2.0.1 wire profile to the evaluator shape.
// Only the first schedule of the profile participates in limit evaluation.
func toInternalProfile(p ChargingProfile) profiles.Profile {
	out := profiles.Profile{
		ID:         p.ID,
		StackLevel: p.StackLevel,
		Purpose:    profiles.Purpose(p.ChargingProfilePurpose),
		Kind:       profiles.Kind(p.ChargingProfileKind),
		Recurrency: profiles.RecurrencyKind(p.RecurrencyKind),
		ValidFrom:  p.ValidFrom,
		ValidTo:    p.ValidTo,
	}
	if len(p.ChargingSchedule) == 0 {
		return out
	}
	sched := p.ChargingSchedule[0]
	out.Schedule = profiles.Schedule{
		Duration:         sched.Duration,
		StartSchedule:    sched.StartSchedule,
		ChargingRateUnit: profiles.RateUnit(sched.ChargingRateUnit),
	}
	for _, period := range sched.ChargingSchedulePeriod {
		out.Schedule.Periods = append(out.Schedule.Periods, profiles.SchedulePeriod{
			StartPeriod:  period.StartPeriod,
			Limit:        period.Limit,
			NumberPhases: period.NumberPhases,
		})
	}
	return out
}

func (d *Dispatcher) handleSetChargingProfile(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[SetChargingProfileRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	if err := d.st.SetChargingProfile(req.EVSEID, toInternalProfile(req.ChargingProfile)); err != nil {
		return StatusResponse{Status: "Rejected"}, nil
	}
	return StatusResponse{Status: "Accepted"}, nil
}

func (d *Dispatcher) handleClearChargingProfile(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[ClearChargingProfileRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	filter := profiles.ClearFilter{ID: req.ChargingProfileID}
	connectorID := -1
	if c := req.ChargingProfileCriteria; c != nil {
		filter.StackLevel = c.StackLevel
		if c.ChargingProfilePurpose != nil {
			purpose := profiles.Purpose(*c.ChargingProfilePurpose)
			filter.Purpose = &purpose
		}
		if c.EVSEID != nil {
			connectorID = *c.EVSEID
		}
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
	if _, ok := d.st.ConnectorSnapshot(req.EVSEID); !ok {
		return GetCompositeScheduleResponse{Status: "Rejected"}, nil
	}

	const step = 60 // seconds
	start := time.Now().UTC()
	var periods []ChargingSchedulePeriod
	active := false
	for offset := 0; offset < req.Duration; offset += step {
		watts, ok := d.st.PowerLimit(req.EVSEID, start.Add(time.Duration(offset)*time.Second))
		if !ok {
			continue
		}
		active = true
		if n := len(periods); n > 0 && periods[n-1].Limit == watts {
			continue
		}
		periods = append(periods, ChargingSchedulePeriod{StartPeriod: offset, Limit: watts})
	}
	if !active {
		return GetCompositeScheduleResponse{Status: "Rejected"}, nil
	}

	return GetCompositeScheduleResponse{
		Status: "Accepted",
		Schedule: &CompositeSchedule{
			EVSEID:                 req.EVSEID,
			Duration:               req.Duration,
			ScheduleStart:          start,
			ChargingRateUnit:       string(profiles.RateUnitWatts),
			ChargingSchedulePeriod: periods,
		},
	}, nil
}

func (d *Dispatcher) handleUpdateFirmware(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	if _, wireErr := parse[UpdateFirmwareRequest](payload); wireErr != nil {
		return nil, wireErr
	}
	d.st.SimulateFirmwareUpdate()
	return StatusResponse{Status: "Accepted"}, nil
}

func (d *Dispatcher) handleGetLog(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[GetLogRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	if req.Log.RemoteLocation == "" {
		return GetLogResponse{Status: "Rejected"}, nil
	}
	d.st.SimulateDiagnosticsUpload()
	return GetLogResponse{
		Status:   "Accepted",
		Filename: d.st.Identity().Name + "-diagnostics.log",
	}, nil
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
	case "V2GRootCertificate", "MORootCertificate", "CSMSRootCertificate", "ManufacturerRootCertificate":
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
	installed := d.st.Certificates().Installed(req.CertificateType...)
	if len(installed) == 0 {
		return GetInstalledCertificateIdsResponse{Status: "NotFound"}, nil
	}
	resp := GetInstalledCertificateIdsResponse{Status: "Accepted"}
	for _, cert := range installed {
		resp.CertificateHashDataChain = append(resp.CertificateHashDataChain, CertificateHashDataChain{
			CertificateType:     cert.Type,
			CertificateHashData: fromStationHash(cert.Hash),
		})
	}
	return resp, nil
}

// handleGetCertificateStatus answers with a simulated OCSP result derived
// from the request hash data.
func (d *Dispatcher) handleGetCertificateStatus(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[GetCertificateStatusRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	data := req.OCSPRequestData
	if data.IssuerNameHash == "" || data.IssuerKeyHash == "" || data.SerialNumber == "" {
		return GetCertificateStatusResponse{Status: "Failed"}, nil
	}
	result := base64.StdEncoding.EncodeToString(
		[]byte(data.IssuerNameHash + data.IssuerKeyHash + data.SerialNumber))
	return GetCertificateStatusResponse{Status: "Accepted", OCSPResult: result}, nil
}

func (d *Dispatcher) handleGetLocalListVersion(_ context.Context, _ json.RawMessage) (any, *ocppj.Error) {
	return GetLocalListVersionResponse{VersionNumber: d.st.LocalList().Version()}, nil
}

func (d *Dispatcher) handleSendLocalList(_ context.Context, payload json.RawMessage) (any, *ocppj.Error) {
	req, wireErr := parse[SendLocalListRequest](payload)
	if wireErr != nil {
		return nil, wireErr
	}
	enabled, _ := strconv.ParseBool(d.st.ConfigStore().Value(configstore.KeyLocalAuthListEnabled))
	if !enabled {
		return StatusResponse{Status: "Failed"}, nil
	}

	entries := make([]station.LocalListEntry, 0, len(req.LocalAuthorizationList))
	for _, item := range req.LocalAuthorizationList {
		entry := station.LocalListEntry{IDTag: auth.OCPP20Adapter{}.ToUnified(item.IDToken).Value}
		if item.IDTokenInfo != nil {
			entry.Status = item.IDTokenInfo.Status
		}
		entries = append(entries, entry)
	}

	switch req.UpdateType {
	case "Full":
		d.st.LocalList().ApplyFull(req.VersionNumber, entries)
	case "Differential":
		if !d.st.LocalList().ApplyDifferential(req.VersionNumber, entries) {
			return StatusResponse{Status: "VersionMismatch"}, nil
		}
	default:
		return nil, ocppj.NewError(ocppj.ErrPropertyConstraintViolation, "unknown updateType "+req.UpdateType)
	}
	return StatusResponse{Status: "Accepted"}, nil
}
