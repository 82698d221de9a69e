// Package v16 is the OCPP 1.6J protocol binding: wire payload types, the
// outgoing request service and the incoming call dispatcher.
package v16

import (
	"time"

	"github.com/evfleet/ocppsim/internal/profiles"
)

// Action names on the 1.6 wire.
const (
	ActionBootNotification              = "BootNotification"
	ActionHeartbeat                     = "Heartbeat"
	ActionAuthorize                     = "Authorize"
	ActionStartTransaction              = "StartTransaction"
	ActionStopTransaction               = "StopTransaction"
	ActionStatusNotification            = "StatusNotification"
	ActionMeterValues                   = "MeterValues"
	ActionDataTransfer                  = "DataTransfer"
	ActionFirmwareStatusNotification    = "FirmwareStatusNotification"
	ActionDiagnosticsStatusNotification = "DiagnosticsStatusNotification"

	ActionReset                  = "Reset"
	ActionChangeConfiguration    = "ChangeConfiguration"
	ActionGetConfiguration       = "GetConfiguration"
	ActionChangeAvailability     = "ChangeAvailability"
	ActionRemoteStartTransaction = "RemoteStartTransaction"
	ActionRemoteStopTransaction  = "RemoteStopTransaction"
	ActionUnlockConnector        = "UnlockConnector"
	ActionTriggerMessage         = "TriggerMessage"
	ActionReserveNow             = "ReserveNow"
	ActionCancelReservation      = "CancelReservation"
	ActionSetChargingProfile     = "SetChargingProfile"
	ActionClearChargingProfile   = "ClearChargingProfile"
	ActionGetCompositeSchedule   = "GetCompositeSchedule"
	ActionUpdateFirmware         = "UpdateFirmware"
	ActionGetDiagnostics         = "GetDiagnostics"
	ActionGetLocalListVersion    = "GetLocalListVersion"
	ActionSendLocalList          = "SendLocalList"
)

// Actions from the security extension.
const (
	ActionInstallCertificate         = "InstallCertificate"
	ActionDeleteCertificate          = "DeleteCertificate"
	ActionGetInstalledCertificateIds = "GetInstalledCertificateIds"
	ActionSecurityEventNotification  = "SecurityEventNotification"
)

// SecurityEventStartup is reported once registration succeeds.
const SecurityEventStartup = "StartupOfTheDevice"

// IDTagInfo is the authorization block carried by several responses.
type IDTagInfo struct {
	Status      string     `json:"status"`
	ParentIDTag string     `json:"parentIdTag,omitempty"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
}

type BootNotificationRequest struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty"`
	MeterSerialNumber       string `json:"meterSerialNumber,omitempty"`
	MeterType               string `json:"meterType,omitempty"`
}

type BootNotificationResponse struct {
	Status      string    `json:"status"`
	CurrentTime time.Time `json:"currentTime"`
	Interval    int       `json:"interval"`
}

type HeartbeatResponse struct {
	CurrentTime time.Time `json:"currentTime"`
}

type AuthorizeRequest struct {
	IDTag string `json:"idTag"`
}

type AuthorizeResponse struct {
	IDTagInfo IDTagInfo `json:"idTagInfo"`
}

type StartTransactionRequest struct {
	ConnectorID   int       `json:"connectorId"`
	IDTag         string    `json:"idTag"`
	MeterStart    int64     `json:"meterStart"`
	Timestamp     time.Time `json:"timestamp"`
	ReservationID *int      `json:"reservationId,omitempty"`
}

type StartTransactionResponse struct {
	TransactionID int       `json:"transactionId"`
	IDTagInfo     IDTagInfo `json:"idTagInfo"`
}

type StopTransactionRequest struct {
	TransactionID int       `json:"transactionId"`
	MeterStop     int64     `json:"meterStop"`
	Timestamp     time.Time `json:"timestamp"`
	Reason        string    `json:"reason,omitempty"`
	IDTag         string    `json:"idTag,omitempty"`
}

type StopTransactionResponse struct {
	IDTagInfo *IDTagInfo `json:"idTagInfo,omitempty"`
}

type StatusNotificationRequest struct {
	ConnectorID int        `json:"connectorId"`
	Status      string     `json:"status"`
	ErrorCode   string     `json:"errorCode"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

type SampledValue struct {
	Value     string `json:"value"`
	Measurand string `json:"measurand,omitempty"`
	Unit      string `json:"unit,omitempty"`
	Context   string `json:"context,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Location  string `json:"location,omitempty"`
}

type MeterValue struct {
	Timestamp    time.Time      `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue"`
}

type MeterValuesRequest struct {
	ConnectorID   int          `json:"connectorId"`
	TransactionID *int         `json:"transactionId,omitempty"`
	MeterValue    []MeterValue `json:"meterValue"`
}

type DataTransferRequest struct {
	VendorID  string `json:"vendorId"`
	MessageID string `json:"messageId,omitempty"`
	Data      string `json:"data,omitempty"`
}

type DataTransferResponse struct {
	Status string `json:"status"`
	Data   string `json:"data,omitempty"`
}

type FirmwareStatusNotificationRequest struct {
	Status string `json:"status"`
}

type DiagnosticsStatusNotificationRequest struct {
	Status string `json:"status"`
}

type SecurityEventNotificationRequest struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	TechInfo  string    `json:"techInfo,omitempty"`
}

// Incoming request payloads.

type ResetRequest struct {
	Type string `json:"type"` // Hard or Soft
}

type ChangeConfigurationRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type GetConfigurationRequest struct {
	Key []string `json:"key,omitempty"`
}

type ConfigurationKey struct {
	Key      string `json:"key"`
	Readonly bool   `json:"readonly"`
	Value    string `json:"value,omitempty"`
}

type GetConfigurationResponse struct {
	ConfigurationKey []ConfigurationKey `json:"configurationKey,omitempty"`
	UnknownKey       []string           `json:"unknownKey,omitempty"`
}

type ChangeAvailabilityRequest struct {
	ConnectorID int    `json:"connectorId"`
	Type        string `json:"type"` // Operative or Inoperative
}

type RemoteStartTransactionRequest struct {
	ConnectorID     *int              `json:"connectorId,omitempty"`
	IDTag           string            `json:"idTag"`
	ChargingProfile *profiles.Profile `json:"chargingProfile,omitempty"`
}

type RemoteStopTransactionRequest struct {
	TransactionID int `json:"transactionId"`
}

type UnlockConnectorRequest struct {
	ConnectorID int `json:"connectorId"`
}

type TriggerMessageRequest struct {
	RequestedMessage string `json:"requestedMessage"`
	ConnectorID      *int   `json:"connectorId,omitempty"`
}

type ReserveNowRequest struct {
	ConnectorID   int       `json:"connectorId"`
	ExpiryDate    time.Time `json:"expiryDate"`
	IDTag         string    `json:"idTag"`
	ParentIDTag   string    `json:"parentIdTag,omitempty"`
	ReservationID int       `json:"reservationId"`
}

type CancelReservationRequest struct {
	ReservationID int `json:"reservationId"`
}

type SetChargingProfileRequest struct {
	ConnectorID        int              `json:"connectorId"`
	CSChargingProfiles profiles.Profile `json:"csChargingProfiles"`
}

type ClearChargingProfileRequest struct {
	ID                     *int    `json:"id,omitempty"`
	ConnectorID            *int    `json:"connectorId,omitempty"`
	ChargingProfilePurpose *string `json:"chargingProfilePurpose,omitempty"`
	StackLevel             *int    `json:"stackLevel,omitempty"`
}

type GetCompositeScheduleRequest struct {
	ConnectorID      int    `json:"connectorId"`
	Duration         int    `json:"duration"` // seconds
	ChargingRateUnit string `json:"chargingRateUnit,omitempty"`
}

type GetCompositeScheduleResponse struct {
	Status           string             `json:"status"`
	ConnectorID      *int               `json:"connectorId,omitempty"`
	ScheduleStart    *time.Time         `json:"scheduleStart,omitempty"`
	ChargingSchedule *profiles.Schedule `json:"chargingSchedule,omitempty"`
}

type UpdateFirmwareRequest struct {
	Location     string    `json:"location"`
	RetrieveDate time.Time `json:"retrieveDate"`
}

type GetDiagnosticsRequest struct {
	Location string `json:"location"`
}

type GetDiagnosticsResponse struct {
	FileName string `json:"fileName,omitempty"`
}

type GetLocalListVersionResponse struct {
	ListVersion int `json:"listVersion"`
}

type AuthorizationData struct {
	IDTag     string     `json:"idTag"`
	IDTagInfo *IDTagInfo `json:"idTagInfo,omitempty"`
}

type SendLocalListRequest struct {
	ListVersion            int                 `json:"listVersion"`
	UpdateType             string              `json:"updateType"` // Full or Differential
	LocalAuthorizationList []AuthorizationData `json:"localAuthorizationList,omitempty"`
}

// CertificateHashData addresses one installed certificate on the wire.
type CertificateHashData struct {
	HashAlgorithm  string `json:"hashAlgorithm"`
	IssuerNameHash string `json:"issuerNameHash"`
	IssuerKeyHash  string `json:"issuerKeyHash"`
	SerialNumber   string `json:"serialNumber"`
}

type InstallCertificateRequest struct {
	CertificateType string `json:"certificateType"`
	Certificate     string `json:"certificate"`
}

type DeleteCertificateRequest struct {
	CertificateHashData CertificateHashData `json:"certificateHashData"`
}

type GetInstalledCertificateIdsRequest struct {
	CertificateType string `json:"certificateType"`
}

type GetInstalledCertificateIdsResponse struct {
	Status              string                `json:"status"`
	CertificateHashData []CertificateHashData `json:"certificateHashData,omitempty"`
}

// StatusResponse is the generic {status} reply shared by many 1.6 commands.
type StatusResponse struct {
	Status string `json:"status"`
}
