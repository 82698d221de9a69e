package v201

import (
	"time"

	"github.com/evfleet/ocppsim/internal/auth"
)

// Action names on the 2.0.1 wire.
const (
	ActionBootNotification           = "BootNotification"
	ActionHeartbeat                  = "Heartbeat"
	ActionAuthorize                  = "Authorize"
	ActionTransactionEvent           = "TransactionEvent"
	ActionStatusNotification         = "StatusNotification"
	ActionMeterValues                = "MeterValues"
	ActionNotifyReport               = "NotifyReport"
	ActionSecurityEventNotification  = "SecurityEventNotification"
	ActionDataTransfer               = "DataTransfer"
	ActionFirmwareStatusNotification = "FirmwareStatusNotification"
	ActionLogStatusNotification      = "LogStatusNotification"

	ActionReset                   = "Reset"
	ActionGetVariables            = "GetVariables"
	ActionSetVariables            = "SetVariables"
	ActionGetBaseReport           = "GetBaseReport"
	ActionChangeAvailability      = "ChangeAvailability"
	ActionRequestStartTransaction = "RequestStartTransaction"
	ActionRequestStopTransaction  = "RequestStopTransaction"
	ActionUnlockConnector         = "UnlockConnector"
	ActionTriggerMessage          = "TriggerMessage"
	ActionReserveNow              = "ReserveNow"
	ActionCancelReservation       = "CancelReservation"
	ActionSetChargingProfile      = "SetChargingProfile"
	ActionClearChargingProfile    = "ClearChargingProfile"
	ActionGetCompositeSchedule    = "GetCompositeSchedule"
	ActionUpdateFirmware          = "UpdateFirmware"
	ActionGetLog                  = "GetLog"
	ActionGetLocalListVersion     = "GetLocalListVersion"
	ActionSendLocalList           = "SendLocalList"
)

// Certificate management actions.
const (
	ActionInstallCertificate         = "InstallCertificate"
	ActionDeleteCertificate          = "DeleteCertificate"
	ActionGetInstalledCertificateIds = "GetInstalledCertificateIds"
	ActionGetCertificateStatus       = "GetCertificateStatus"
)

// SecurityEventStartup is reported once registration succeeds.
const SecurityEventStartup = "StartupOfTheDevice"

// TransactionEvent event types.
const (
	EventStarted = "Started"
	EventUpdated = "Updated"
	EventEnded   = "Ended"
)

// StatusInfo refines a non-Accepted status on the 2.0.1 wire.
type StatusInfo struct {
	ReasonCode     string `json:"reasonCode"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
}

// EVSE addresses an EVSE and optionally one of its connectors.
type EVSE struct {
	ID          int  `json:"id"`
	ConnectorID *int `json:"connectorId,omitempty"`
}

// Component and Variable address one device model entry.
type Component struct {
	Name     string `json:"name"`
	Instance string `json:"instance,omitempty"`
	EVSE     *EVSE  `json:"evse,omitempty"`
}

type Variable struct {
	Name     string `json:"name"`
	Instance string `json:"instance,omitempty"`
}

type IDTokenInfo struct {
	Status              string     `json:"status"`
	CacheExpiryDateTime *time.Time `json:"cacheExpiryDateTime,omitempty"`
}

type ChargingStationType struct {
	Model           string `json:"model"`
	VendorName      string `json:"vendorName"`
	SerialNumber    string `json:"serialNumber,omitempty"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
}

type BootNotificationRequest struct {
	Reason          string              `json:"reason"`
	ChargingStation ChargingStationType `json:"chargingStation"`
}

type BootNotificationResponse struct {
	Status      string      `json:"status"`
	CurrentTime time.Time   `json:"currentTime"`
	Interval    int         `json:"interval"`
	StatusInfo  *StatusInfo `json:"statusInfo,omitempty"`
}

type HeartbeatResponse struct {
	CurrentTime time.Time `json:"currentTime"`
}

type AuthorizeRequest struct {
	IDToken auth.OCPP20Token `json:"idToken"`
}

type AuthorizeResponse struct {
	IDTokenInfo IDTokenInfo `json:"idTokenInfo"`
}

type SampledValue struct {
	Value         float64        `json:"value"`
	Measurand     string         `json:"measurand,omitempty"`
	Context       string         `json:"context,omitempty"`
	Phase         string         `json:"phase,omitempty"`
	Location      string         `json:"location,omitempty"`
	UnitOfMeasure *UnitOfMeasure `json:"unitOfMeasure,omitempty"`
}

type UnitOfMeasure struct {
	Unit string `json:"unit,omitempty"`
}

type MeterValue struct {
	Timestamp    time.Time      `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue"`
}

type TransactionInfo struct {
	TransactionID string `json:"transactionId"`
	StoppedReason string `json:"stoppedReason,omitempty"`
}

type TransactionEventRequest struct {
	EventType       string            `json:"eventType"`
	Timestamp       time.Time         `json:"timestamp"`
	TriggerReason   string            `json:"triggerReason"`
	SeqNo           int               `json:"seqNo"`
	TransactionInfo TransactionInfo   `json:"transactionInfo"`
	EVSE            *EVSE             `json:"evse,omitempty"`
	IDToken         *auth.OCPP20Token `json:"idToken,omitempty"`
	MeterValue      []MeterValue      `json:"meterValue,omitempty"`
}

type TransactionEventResponse struct {
	IDTokenInfo *IDTokenInfo `json:"idTokenInfo,omitempty"`
}

type StatusNotificationRequest struct {
	Timestamp       time.Time `json:"timestamp"`
	ConnectorStatus string    `json:"connectorStatus"`
	EVSEID          int       `json:"evseId"`
	ConnectorID     int       `json:"connectorId"`
}

type MeterValuesRequest struct {
	EVSEID     int          `json:"evseId"`
	MeterValue []MeterValue `json:"meterValue"`
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
	Status    string `json:"status"`
	RequestID *int   `json:"requestId,omitempty"`
}

type LogStatusNotificationRequest struct {
	Status    string `json:"status"`
	RequestID *int   `json:"requestId,omitempty"`
}

type SecurityEventNotificationRequest struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	TechInfo  string    `json:"techInfo,omitempty"`
}

// ReportData is one NotifyReport entry.
type ReportData struct {
	Component               Component                `json:"component"`
	Variable                Variable                 `json:"variable"`
	VariableAttribute       []VariableAttribute      `json:"variableAttribute"`
	VariableCharacteristics *VariableCharacteristics `json:"variableCharacteristics,omitempty"`
}

type VariableAttribute struct {
	Type       string `json:"type,omitempty"`
	Value      string `json:"value,omitempty"`
	Mutability string `json:"mutability,omitempty"`
	Persistent bool   `json:"persistent,omitempty"`
}

type VariableCharacteristics struct {
	DataType           string   `json:"dataType"`
	MinLimit           *float64 `json:"minLimit,omitempty"`
	MaxLimit           *float64 `json:"maxLimit,omitempty"`
	ValuesList         string   `json:"valuesList,omitempty"`
	SupportsMonitoring bool     `json:"supportsMonitoring"`
}

type NotifyReportRequest struct {
	RequestID   int          `json:"requestId"`
	GeneratedAt time.Time    `json:"generatedAt"`
	SeqNo       int          `json:"seqNo"`
	Tbc         bool         `json:"tbc,omitempty"`
	ReportData  []ReportData `json:"reportData,omitempty"`
}

// Incoming request payloads.

type ResetRequest struct {
	Type   string `json:"type"` // Immediate or OnIdle
	EVSEID *int   `json:"evseId,omitempty"`
}

type GetVariableData struct {
	Component     Component `json:"component"`
	Variable      Variable  `json:"variable"`
	AttributeType string    `json:"attributeType,omitempty"`
}

type GetVariableResult struct {
	AttributeStatus     string      `json:"attributeStatus"`
	AttributeType       string      `json:"attributeType,omitempty"`
	AttributeValue      string      `json:"attributeValue,omitempty"`
	Component           Component   `json:"component"`
	Variable            Variable    `json:"variable"`
	AttributeStatusInfo *StatusInfo `json:"attributeStatusInfo,omitempty"`
}

type GetVariablesRequest struct {
	GetVariableData []GetVariableData `json:"getVariableData"`
}

type GetVariablesResponse struct {
	GetVariableResult []GetVariableResult `json:"getVariableResult"`
}

type SetVariableData struct {
	Component      Component `json:"component"`
	Variable       Variable  `json:"variable"`
	AttributeType  string    `json:"attributeType,omitempty"`
	AttributeValue string    `json:"attributeValue"`
}

type SetVariableResult struct {
	AttributeStatus     string      `json:"attributeStatus"`
	AttributeType       string      `json:"attributeType,omitempty"`
	Component           Component   `json:"component"`
	Variable            Variable    `json:"variable"`
	AttributeStatusInfo *StatusInfo `json:"attributeStatusInfo,omitempty"`
}

type SetVariablesRequest struct {
	SetVariableData []SetVariableData `json:"setVariableData"`
}

type SetVariablesResponse struct {
	SetVariableResult []SetVariableResult `json:"setVariableResult"`
}

type GetBaseReportRequest struct {
	RequestID  int    `json:"requestId"`
	ReportBase string `json:"reportBase"` // ConfigurationInventory, FullInventory, SummaryInventory
}

type ChangeAvailabilityRequest struct {
	OperationalStatus string `json:"operationalStatus"` // Operative or Inoperative
	EVSE              *EVSE  `json:"evse,omitempty"`
}

type RequestStartTransactionRequest struct {
	EVSEID          *int             `json:"evseId,omitempty"`
	RemoteStartID   int              `json:"remoteStartId"`
	IDToken         auth.OCPP20Token `json:"idToken"`
	ChargingProfile *ChargingProfile `json:"chargingProfile,omitempty"`
}

type RequestStartTransactionResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId,omitempty"`
}

type RequestStopTransactionRequest struct {
	TransactionID string `json:"transactionId"`
}

type UnlockConnectorRequest struct {
	EVSEID      int `json:"evseId"`
	ConnectorID int `json:"connectorId"`
}

type UnlockConnectorResponse struct {
	Status string `json:"status"`
}

type TriggerMessageRequest struct {
	RequestedMessage string `json:"requestedMessage"`
	EVSE             *EVSE  `json:"evse,omitempty"`
}

type ReserveNowRequest struct {
	ID             int              `json:"id"`
	ExpiryDateTime time.Time        `json:"expiryDateTime"`
	IDToken        auth.OCPP20Token `json:"idToken"`
	EVSEID         *int             `json:"evseId,omitempty"`
}

type CancelReservationRequest struct {
	ReservationID int `json:"reservationId"`
}

// ChargingSchedulePeriod and ChargingSchedule are the 2.0.1 profile shapes;
// the dispatcher converts them to the internal evaluator types.
type ChargingSchedulePeriod struct {
	StartPeriod  int     `json:"startPeriod"`
	Limit        float64 `json:"limit"`
	NumberPhases *int    `json:"numberPhases,omitempty"`
}

type ChargingSchedule struct {
	ID                     int                      `json:"id"`
	StartSchedule          *time.Time               `json:"startSchedule,omitempty"`
	Duration               *int                     `json:"duration,omitempty"`
	ChargingRateUnit       string                   `json:"chargingRateUnit"`
	ChargingSchedulePeriod []ChargingSchedulePeriod `json:"chargingSchedulePeriod"`
}

type ChargingProfile struct {
	ID                     int                `json:"id"`
	StackLevel             int                `json:"stackLevel"`
	ChargingProfilePurpose string             `json:"chargingProfilePurpose"`
	ChargingProfileKind    string             `json:"chargingProfileKind"`
	RecurrencyKind         string             `json:"recurrencyKind,omitempty"`
	ValidFrom              *time.Time         `json:"validFrom,omitempty"`
	ValidTo                *time.Time         `json:"validTo,omitempty"`
	ChargingSchedule       []ChargingSchedule `json:"chargingSchedule"`
}

type SetChargingProfileRequest struct {
	EVSEID          int             `json:"evseId"`
	ChargingProfile ChargingProfile `json:"chargingProfile"`
}

type ClearChargingProfileCriteria struct {
	EVSEID                 *int    `json:"evseId,omitempty"`
	ChargingProfilePurpose *string `json:"chargingProfilePurpose,omitempty"`
	StackLevel             *int    `json:"stackLevel,omitempty"`
}

type ClearChargingProfileRequest struct {
	ChargingProfileID       *int                          `json:"chargingProfileId,omitempty"`
	ChargingProfileCriteria *ClearChargingProfileCriteria `json:"chargingProfileCriteria,omitempty"`
}

type GetCompositeScheduleRequest struct {
	EVSEID           int    `json:"evseId"`
	Duration         int    `json:"duration"` // seconds
	ChargingRateUnit string `json:"chargingRateUnit,omitempty"`
}

type CompositeSchedule struct {
	EVSEID                 int                      `json:"evseId"`
	Duration               int                      `json:"duration"`
	ScheduleStart          time.Time                `json:"scheduleStart"`
	ChargingRateUnit       string                   `json:"chargingRateUnit"`
	ChargingSchedulePeriod []ChargingSchedulePeriod `json:"chargingSchedulePeriod"`
}

type GetCompositeScheduleResponse struct {
	Status   string             `json:"status"`
	Schedule *CompositeSchedule `json:"schedule,omitempty"`
}

type Firmware struct {
	Location         string    `json:"location"`
	RetrieveDateTime time.Time `json:"retrieveDateTime"`
}

type UpdateFirmwareRequest struct {
	RequestID int      `json:"requestId"`
	Firmware  Firmware `json:"firmware"`
}

type LogParameters struct {
	RemoteLocation string `json:"remoteLocation"`
}

type GetLogRequest struct {
	LogType   string        `json:"logType"`
	RequestID int           `json:"requestId"`
	Log       LogParameters `json:"log"`
}

type GetLogResponse struct {
	Status   string `json:"status"`
	Filename string `json:"filename,omitempty"`
}

type GetLocalListVersionResponse struct {
	VersionNumber int `json:"versionNumber"`
}

type AuthorizationData struct {
	IDToken     auth.OCPP20Token `json:"idToken"`
	IDTokenInfo *IDTokenInfo     `json:"idTokenInfo,omitempty"`
}

type SendLocalListRequest struct {
	VersionNumber          int                 `json:"versionNumber"`
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
	CertificateType []string `json:"certificateType,omitempty"`
}

type CertificateHashDataChain struct {
	CertificateType          string                `json:"certificateType"`
	CertificateHashData      CertificateHashData   `json:"certificateHashData"`
	ChildCertificateHashData []CertificateHashData `json:"childCertificateHashData,omitempty"`
}

type GetInstalledCertificateIdsResponse struct {
	Status                   string                     `json:"status"`
	CertificateHashDataChain []CertificateHashDataChain `json:"certificateHashDataChain,omitempty"`
}

type OCSPRequestData struct {
	HashAlgorithm  string `json:"hashAlgorithm"`
	IssuerNameHash string `json:"issuerNameHash"`
	IssuerKeyHash  string `json:"issuerKeyHash"`
	SerialNumber   string `json:"serialNumber"`
	ResponderURL   string `json:"responderURL"`
}

type GetCertificateStatusRequest struct {
	OCSPRequestData OCSPRequestData `json:"ocspRequestData"`
}

type GetCertificateStatusResponse struct {
	Status     string `json:"status"`
	OCSPResult string `json:"ocspResult,omitempty"`
}

// StatusResponse is the generic {status} reply shared by many 2.0.1 commands.
type StatusResponse struct {
	Status     string      `json:"status"`
	StatusInfo *StatusInfo `json:"statusInfo,omitempty"`
}
