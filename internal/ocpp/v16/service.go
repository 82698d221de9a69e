package v16

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/evfleet/ocppsim/internal/auth"
	"github.com/evfleet/ocppsim/internal/ocpp"
)

// Service builds and sends the station-originated 1.6 messages over an
// ocpp.Endpoint.
type Service struct {
	endpoint ocpp.Endpoint
	identity BootIdentity
}

// BootIdentity carries the stationInfo-derived BootNotification fields.
type BootIdentity struct {
	Vendor                  string
	Model                   string
	ChargeBoxSerialNumber   string
	ChargePointSerialNumber string
	FirmwareVersion         string
	MeterSerialNumber       string
	MeterType               string
}

// NewService creates the outgoing-message service.
func NewService(endpoint ocpp.Endpoint, identity BootIdentity) *Service {
	return &Service{endpoint: endpoint, identity: identity}
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

func (s *Service) BootNotification(ctx context.Context) (ocpp.BootResult, error) {
	req := BootNotificationRequest{
		ChargePointVendor:       s.identity.Vendor,
		ChargePointModel:        s.identity.Model,
		ChargeBoxSerialNumber:   s.identity.ChargeBoxSerialNumber,
		ChargePointSerialNumber: s.identity.ChargePointSerialNumber,
		FirmwareVersion:         s.identity.FirmwareVersion,
		MeterSerialNumber:       s.identity.MeterSerialNumber,
		MeterType:               s.identity.MeterType,
	}
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
	req := AuthorizeRequest{IDTag: auth.OCPP16Adapter{}.FromUnified(id)}
	var resp AuthorizeResponse
	if err := s.call(ctx, ActionAuthorize, req, &resp); err != nil {
		return auth.StatusInvalid, err
	}
	return auth.Status(resp.IDTagInfo.Status), nil
}

func (s *Service) StartTransaction(ctx context.Context, connectorID int, id auth.Identifier, meterStart int64) (ocpp.TransactionStart, error) {
	req := StartTransactionRequest{
		ConnectorID: connectorID,
		IDTag:       auth.OCPP16Adapter{}.FromUnified(id),
		MeterStart:  meterStart,
		Timestamp:   time.Now().UTC(),
	}
	var resp StartTransactionResponse
	if err := s.call(ctx, ActionStartTransaction, req, &resp); err != nil {
		return ocpp.TransactionStart{}, err
	}
	return ocpp.TransactionStart{
		TransactionID: strconv.Itoa(resp.TransactionID),
		Status:        auth.Status(resp.IDTagInfo.Status),
	}, nil
}

func (s *Service) StopTransaction(ctx context.Context, _ int, transactionID string, id auth.Identifier, meterStop int64, reason string) (auth.Status, error) {
	// Offline-assigned ids never round-trip as integers; send 0 so the frame
	// stays schema-valid and the backend reconciles by idTag.
	txID, err := strconv.Atoi(transactionID)
	if err != nil {
		txID = 0
	}
	req := StopTransactionRequest{
		TransactionID: txID,
		MeterStop:     meterStop,
		Timestamp:     time.Now().UTC(),
		Reason:        reason,
		IDTag:         auth.OCPP16Adapter{}.FromUnified(id),
	}
	var resp StopTransactionResponse
	if err := s.call(ctx, ActionStopTransaction, req, &resp); err != nil {
		return auth.StatusInvalid, err
	}
	if resp.IDTagInfo == nil {
		return auth.StatusAccepted, nil
	}
	return auth.Status(resp.IDTagInfo.Status), nil
}

func (s *Service) StatusNotification(ctx context.Context, connectorID int, status, errorCode string) error {
	now := time.Now().UTC()
	req := StatusNotificationRequest{
		ConnectorID: connectorID,
		Status:      status,
		ErrorCode:   errorCode,
		Timestamp:   &now,
	}
	return s.call(ctx, ActionStatusNotification, req, nil)
}

func (s *Service) MeterValues(ctx context.Context, connectorID int, transactionID string, samples []ocpp.MeterSample) error {
	sampled := make([]SampledValue, 0, len(samples))
	for _, sample := range samples {
		sampled = append(sampled, SampledValue{
			Value:     sample.Value,
			Measurand: sample.Measurand,
			Unit:      sample.Unit,
			Context:   sample.Context,
			Phase:     sample.Phase,
			Location:  sample.Location,
		})
	}
	req := MeterValuesRequest{
		ConnectorID: connectorID,
		MeterValue:  []MeterValue{{Timestamp: time.Now().UTC(), SampledValue: sampled}},
	}
	if txID, err := strconv.Atoi(transactionID); err == nil {
		req.TransactionID = &txID
	}
	return s.call(ctx, ActionMeterValues, req, nil)
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

func (s *Service) DiagnosticsStatusNotification(ctx context.Context, status string) error {
	return s.call(ctx, ActionDiagnosticsStatusNotification, DiagnosticsStatusNotificationRequest{Status: status}, nil)
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
