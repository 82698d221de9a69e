package v201

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evfleet/ocppsim/internal/auth"
	"github.com/evfleet/ocppsim/internal/ocpp"
)

// Service builds and sends the station-originated 2.0.1 messages over an
// ocpp.Endpoint. Transaction ids are station-generated UUIDs; the service
// keeps the per-transaction event sequence numbers.
type Service struct {
	endpoint ocpp.Endpoint
	identity ChargingStationType

	mu    sync.Mutex
	seqNo map[string]int
}

// NewService creates the outgoing-message service.
func NewService(endpoint ocpp.Endpoint, identity ChargingStationType) *Service {
	return &Service{
		endpoint: endpoint,
		identity: identity,
		seqNo:    make(map[string]int),
	}
}

func (s *Service) call(ctx context.Context, action string, req, resp any) error {
	raw, err := s.endpoint.Call(ctx, action, req)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(raw, resp); err != nil {
		return fmt.Errorf("parse %s response: %w", action, err)
	}
	return nil
}

func (s *Service) nextSeqNo(transactionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.seqNo[transactionID]
	s.seqNo[transactionID] = n + 1
	return n
}

func (s *Service) dropSeqNo(transactionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seqNo, transactionID)
}

func (s *Service) BootNotification(ctx context.Context) (ocpp.BootResult, error) {
	req := BootNotificationRequest{Reason: "PowerUp", ChargingStation: s.identity}
	var resp BootNotificationResponse
	if err := s.call(ctx, ActionBootNotification, req, &resp); err != nil {
		return ocpp.BootResult{}, err
	}
	if ocpp.RegistrationStatus(resp.Status) == ocpp.RegistrationAccepted {
		// The security profile announces the startup right after a
		// successful registration. The boot result stands either way.
		_ = s.SecurityEventNotification(ctx, SecurityEventStartup, "")
	}
	return ocpp.BootResult{
		Status:      ocpp.RegistrationStatus(resp.Status),
		Interval:    time.Duration(resp.Interval) * time.Second,
		CurrentTime: resp.CurrentTime,
	}, nil
}

func (s *Service) Heartbeat(ctx context.Context) (time.Time, error) {
	var resp HeartbeatResponse
	if err := s.call(ctx, ActionHeartbeat, struct{}{}, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.CurrentTime, nil
}

func (s *Service) Authorize(ctx context.Context, id auth.Identifier) (auth.Status, error) {
	req := AuthorizeRequest{IDToken: auth.OCPP20Adapter{}.FromUnified(id)}
	var resp AuthorizeResponse
	if err := s.call(ctx, ActionAuthorize, req, &resp); err != nil {
		return auth.StatusInvalid, err
	}
	return auth.Status(resp.IDTokenInfo.Status), nil
}

func (s *Service) StartTransaction(ctx context.Context, connectorID int, id auth.Identifier, meterStart int64) (ocpp.TransactionStart, error) {
	transactionID := uuid.NewString()
	token := auth.OCPP20Adapter{}.FromUnified(id)
	req := TransactionEventRequest{
		EventType:       EventStarted,
		Timestamp:       time.Now().UTC(),
		TriggerReason:   "Authorized",
		SeqNo:           s.nextSeqNo(transactionID),
		TransactionInfo: TransactionInfo{TransactionID: transactionID},
		EVSE:            evseForConnector(connectorID),
		IDToken:         &token,
		MeterValue:      []MeterValue{meterReading(meterStart, "Transaction.Begin")},
	}
	var resp TransactionEventResponse
	if err := s.call(ctx, ActionTransactionEvent, req, &resp); err != nil {
		s.dropSeqNo(transactionID)
		return ocpp.TransactionStart{}, err
	}
	status := auth.StatusAccepted
	if resp.IDTokenInfo != nil {
		status = auth.Status(resp.IDTokenInfo.Status)
	}
	return ocpp.TransactionStart{TransactionID: transactionID, Status: status}, nil
}

func (s *Service) StopTransaction(ctx context.Context, connectorID int, transactionID string, id auth.Identifier, meterStop int64, reason string) (auth.Status, error) {
	token := auth.OCPP20Adapter{}.FromUnified(id)
	req := TransactionEventRequest{
		EventType:     EventEnded,
		Timestamp:     time.Now().UTC(),
		TriggerReason: "StopAuthorized",
		SeqNo:         s.nextSeqNo(transactionID),
		TransactionInfo: TransactionInfo{
			TransactionID: transactionID,
			StoppedReason: reason,
		},
		EVSE:       evseForConnector(connectorID),
		IDToken:    &token,
		MeterValue: []MeterValue{meterReading(meterStop, "Transaction.End")},
	}
	var resp TransactionEventResponse
	err := s.call(ctx, ActionTransactionEvent, req, &resp)
	s.dropSeqNo(transactionID)
	if err != nil {
		return auth.StatusInvalid, err
	}
	if resp.IDTokenInfo == nil {
		return auth.StatusAccepted, nil
	}
	return auth.Status(resp.IDTokenInfo.Status), nil
}

func (s *Service) StatusNotification(ctx context.Context, connectorID int, status, _ string) error {
	req := StatusNotificationRequest{
		Timestamp:       time.Now().UTC(),
		ConnectorStatus: connectorStatus(status),
		EVSEID:          connectorID,
		ConnectorID:     1,
	}
	return s.call(ctx, ActionStatusNotification, req, nil)
}

func (s *Service) MeterValues(ctx context.Context, connectorID int, transactionID string, samples []ocpp.MeterSample) error {
	mv := MeterValue{Timestamp: time.Now().UTC()}
	for _, sample := range samples {
		value, err := strconv.ParseFloat(sample.Value, 64)
		if err != nil {
			continue
		}
		sv := SampledValue{
			Value:     value,
			Measurand: sample.Measurand,
			Context:   sample.Context,
			Phase:     sample.Phase,
			Location:  sample.Location,
		}
		if sample.Unit != "" {
			sv.UnitOfMeasure = &UnitOfMeasure{Unit: sample.Unit}
		}
		mv.SampledValue = append(mv.SampledValue, sv)
	}

	// Samples inside a transaction travel as TransactionEvent(Updated);
	// idle readings use the plain MeterValues action.
	if transactionID != "" {
		req := TransactionEventRequest{
			EventType:       EventUpdated,
			Timestamp:       time.Now().UTC(),
			TriggerReason:   "MeterValuePeriodic",
			SeqNo:           s.nextSeqNo(transactionID),
			TransactionInfo: TransactionInfo{TransactionID: transactionID},
			EVSE:            evseForConnector(connectorID),
			MeterValue:      []MeterValue{mv},
		}
		return s.call(ctx, ActionTransactionEvent, req, nil)
	}
	return s.call(ctx, ActionMeterValues, MeterValuesRequest{
		EVSEID:     connectorID,
		MeterValue: []MeterValue{mv},
	}, nil)
}

func (s *Service) DataTransfer(ctx context.Context, vendorID, messageID, data string) (ocpp.DataTransferResult, error) {
	req := DataTransferRequest{VendorID: vendorID, MessageID: messageID, Data: data}
	var resp DataTransferResponse
	if err := s.call(ctx, ActionDataTransfer, req, &resp); err != nil {
		return ocpp.DataTransferResult{}, err
	}
	return ocpp.DataTransferResult{Status: resp.Status, Data: resp.Data}, nil
}

func (s *Service) FirmwareStatusNotification(ctx context.Context, status string) error {
	return s.call(ctx, ActionFirmwareStatusNotification, FirmwareStatusNotificationRequest{Status: status}, nil)
}

// DiagnosticsStatusNotification maps to the 2.0.1 LogStatusNotification.
func (s *Service) DiagnosticsStatusNotification(ctx context.Context, status string) error {
	return s.call(ctx, ActionLogStatusNotification, LogStatusNotificationRequest{Status: logStatus(status)}, nil)
}

// SecurityEventNotification reports a security-relevant event upstream.
func (s *Service) SecurityEventNotification(ctx context.Context, eventType, techInfo string) error {
	req := SecurityEventNotificationRequest{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TechInfo:  techInfo,
	}
	return s.call(ctx, ActionSecurityEventNotification, req, nil)
}

// NotifyReport sends one report chunk.
func (s *Service) NotifyReport(ctx context.Context, req NotifyReportRequest) error {
	return s.call(ctx, ActionNotifyReport, req, nil)
}

// evseForConnector maps the station's flat connector ids onto the 2.0.1
// addressing of one connector per EVSE.
func evseForConnector(connectorID int) *EVSE {
	connector := 1
	return &EVSE{ID: connectorID, ConnectorID: &connector}
}

func meterReading(wh int64, context string) MeterValue {
	return MeterValue{
		Timestamp: time.Now().UTC(),
		SampledValue: []SampledValue{{
			Value:         float64(wh),
			Measurand:     "Energy.Active.Import.Register",
			Context:       context,
			UnitOfMeasure: &UnitOfMeasure{Unit: "Wh"},
		}},
	}
}

// connectorStatus folds the fine-grained 1.6 statuses the runtime tracks into
// the five 2.0.1 connector states.
func connectorStatus(status string) string {
	switch status {
	case "Preparing", "Charging", "SuspendedEVSE", "SuspendedEV", "Finishing", "Occupied":
		return "Occupied"
	case "Reserved", "Unavailable", "Faulted", "Available":
		return status
	default:
		return "Available"
	}
}

// logStatus folds the 1.6 diagnostics statuses into the 2.0.1 log upload
// states.
func logStatus(status string) string {
	switch status {
	case "Uploading":
		return "Uploading"
	case "Uploaded":
		return "Uploaded"
	case "UploadFailed":
		return "UploadFailure"
	default:
		return "Idle"
	}
}
