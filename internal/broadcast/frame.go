package broadcast

import (
	"encoding/json"
	"fmt"
)

// Command is an operator command carried by a request frame.
type Command string

const (
	CommandStartStation      Command = "startStation"
	CommandStopStation       Command = "stopStation"
	CommandOpenConnection    Command = "openConnection"
	CommandCloseConnection   Command = "closeConnection"
	CommandStartATG          Command = "startAutomaticTransactionGenerator"
	CommandStopATG           Command = "stopAutomaticTransactionGenerator"
	CommandSetSupervisionURL Command = "setSupervisionUrl"

	// Direct OCPP actions executed on behalf of the operator.
	CommandStartTransaction              Command = "startTransaction"
	CommandStopTransaction               Command = "stopTransaction"
	CommandAuthorize                     Command = "authorize"
	CommandBootNotification              Command = "bootNotification"
	CommandStatusNotification            Command = "statusNotification"
	CommandHeartbeat                     Command = "heartbeat"
	CommandMeterValues                   Command = "meterValues"
	CommandDataTransfer                  Command = "dataTransfer"
	CommandDiagnosticsStatusNotification Command = "diagnosticsStatusNotification"
	CommandFirmwareStatusNotification    Command = "firmwareStatusNotification"
)

// ResponseStatus is the outcome of a command on one station.
type ResponseStatus string

const (
	ResponseSuccess ResponseStatus = "success"
	ResponseFailure ResponseStatus = "failure"
)

// Payload carries the command arguments. hashIds addresses the request: an
// empty list reaches every station.
type Payload struct {
	HashIDs      []string `json:"hashIds,omitempty"`
	ConnectorIDs []int    `json:"connectorIds,omitempty"`
	ConnectorID  int      `json:"connectorId,omitempty"`

	IDTag         string `json:"idTag,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Reason        string `json:"reason,omitempty"`
	URL           string `json:"url,omitempty"`
	Status        string `json:"status,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`

	VendorID  string `json:"vendorId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Data      string `json:"data,omitempty"`
}

// Request is the [uuid, command, payload] frame.
type Request struct {
	UUID    string
	Command Command
	Payload Payload
}

// MarshalJSON encodes the frame as a three element array.
func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.UUID, r.Command, r.Payload})
}

// UnmarshalJSON decodes a three element array frame.
func (r *Request) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("request frame has %d elements, want 3", len(parts))
	}
	if err := json.Unmarshal(parts[0], &r.UUID); err != nil {
		return fmt.Errorf("request uuid: %w", err)
	}
	if err := json.Unmarshal(parts[1], &r.Command); err != nil {
		return fmt.Errorf("request command: %w", err)
	}
	if err := json.Unmarshal(parts[2], &r.Payload); err != nil {
		return fmt.Errorf("request payload: %w", err)
	}
	return nil
}

// ResponsePayload is the per-station command outcome.
type ResponsePayload struct {
	HashID          string          `json:"hashId"`
	Status          ResponseStatus  `json:"status"`
	Command         Command         `json:"command,omitempty"`
	RequestPayload  *Payload        `json:"requestPayload,omitempty"`
	CommandResponse json.RawMessage `json:"commandResponse,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	ErrorStack      string          `json:"errorStack,omitempty"`
	ErrorDetails    json.RawMessage `json:"errorDetails,omitempty"`
}

// Response is the [uuid, payload] frame answering a request.
type Response struct {
	UUID    string
	Payload ResponsePayload
}

// MarshalJSON encodes the frame as a two element array.
func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.UUID, r.Payload})
}

// UnmarshalJSON decodes a two element array frame.
func (r *Response) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("response frame has %d elements, want 2", len(parts))
	}
	if err := json.Unmarshal(parts[0], &r.UUID); err != nil {
		return fmt.Errorf("response uuid: %w", err)
	}
	if err := json.Unmarshal(parts[1], &r.Payload); err != nil {
		return fmt.Errorf("response payload: %w", err)
	}
	return nil
}
