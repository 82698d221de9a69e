// Package ocpp defines the version-agnostic contracts between the station
// runtime and the 1.6 / 2.0.1 protocol bindings. A station holds one concrete
// Service and Dispatcher; all higher-level logic goes through these types.
package ocpp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evfleet/ocppsim/internal/auth"
	"github.com/evfleet/ocppsim/internal/ocppj"
)

// Version is the OCPP protocol version a station speaks.
type Version string

const (
	V16  Version = "1.6"
	V201 Version = "2.0.1"
)

// Subprotocol returns the WebSocket subprotocol for the version.
func (v Version) Subprotocol() string {
	switch v {
	case V201:
		return "ocpp2.0.1"
	default:
		return "ocpp1.6"
	}
}

// RegistrationStatus is the BootNotification outcome.
type RegistrationStatus string

const (
	RegistrationAccepted RegistrationStatus = "Accepted"
	RegistrationPending  RegistrationStatus = "Pending"
	RegistrationRejected RegistrationStatus = "Rejected"
)

// BootResult is the version-neutral BootNotification response.
type BootResult struct {
	Status      RegistrationStatus
	Interval    time.Duration
	CurrentTime time.Time
}

// TransactionStart is the version-neutral StartTransaction /
// TransactionEvent(Started) response.
type TransactionStart struct {
	TransactionID string
	Status        auth.Status
}

// DataTransferResult is the version-neutral DataTransfer response.
type DataTransferResult struct {
	Status string
	Data   string
}

// MeterSample is one sampled value inside a MeterValues frame.
type MeterSample struct {
	Measurand string
	Value     string
	Unit      string
	Context   string
	Phase     string
	Location  string
}

// Endpoint is the station-provided transport for protocol round-trips: it
// frames the payload as a CALL, correlates the response, and honors the
// per-request deadline.
type Endpoint interface {
	Call(ctx context.Context, action string, payload any) (json.RawMessage, error)
}

// Service builds and sends the station-originated messages of one protocol
// version and parses their responses into version-neutral results.
type Service interface {
	BootNotification(ctx context.Context) (BootResult, error)
	Heartbeat(ctx context.Context) (time.Time, error)
	Authorize(ctx context.Context, id auth.Identifier) (auth.Status, error)
	StartTransaction(ctx context.Context, connectorID int, id auth.Identifier, meterStart int64) (TransactionStart, error)
	StopTransaction(ctx context.Context, connectorID int, transactionID string, id auth.Identifier, meterStop int64, reason string) (auth.Status, error)
	StatusNotification(ctx context.Context, connectorID int, status, errorCode string) error
	MeterValues(ctx context.Context, connectorID int, transactionID string, samples []MeterSample) error
	DataTransfer(ctx context.Context, vendorID, messageID, data string) (DataTransferResult, error)
	FirmwareStatusNotification(ctx context.Context, status string) error
	DiagnosticsStatusNotification(ctx context.Context, status string) error
}

// Dispatcher routes an inbound CALL to the version-specific handler bound to
// the action. The returned payload becomes a CALLRESULT; a non-nil wire error
// becomes a CALLERROR. Unimplemented actions must answer NotImplemented.
type Dispatcher interface {
	Handle(ctx context.Context, action string, payload json.RawMessage) (any, *ocppj.Error)
}

// NotImplementedError is the CALLERROR every binding returns for an action it
// does not handle.
func NotImplementedError(action string) *ocppj.Error {
	return ocppj.NewError(ocppj.ErrNotImplemented, "action "+action+" is not implemented")
}
