// Package ocppj implements the OCPP-J wire framing shared by the 1.6 and
// 2.0.1 bindings: CALL / CALLRESULT / CALLERROR arrays, the typed wire
// error, and the request correlator.
package ocppj

import (
	"encoding/json"
	"fmt"
)

// MessageType is the first element of every OCPP-J frame.
type MessageType int

const (
	MessageTypeCall       MessageType = 2
	MessageTypeCallResult MessageType = 3
	MessageTypeCallError  MessageType = 4
)

func (mt MessageType) String() string {
	switch mt {
	case MessageTypeCall:
		return "CALL"
	case MessageTypeCallResult:
		return "CALLRESULT"
	case MessageTypeCallError:
		return "CALLERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(mt))
	}
}

// ErrorCode enumerates the OCPP-J wire error codes.
type ErrorCode string

const (
	ErrGenericError                  ErrorCode = "GenericError"
	ErrInternalError                 ErrorCode = "InternalError"
	ErrNotImplemented                ErrorCode = "NotImplemented"
	ErrNotSupported                  ErrorCode = "NotSupported"
	ErrProtocolError                 ErrorCode = "ProtocolError"
	ErrSecurityError                 ErrorCode = "SecurityError"
	ErrFormationViolation            ErrorCode = "FormationViolation"
	ErrPropertyConstraintViolation   ErrorCode = "PropertyConstraintViolation"
	ErrOccurrenceConstraintViolation ErrorCode = "OccurrenceConstraintViolation"
	ErrTypeConstraintViolation       ErrorCode = "TypeConstraintViolation"
)

// Error is the wire-level OCPP error. It surfaces to the counterparty as a
// CALLERROR frame, or rejects the local pending request when received.
type Error struct {
	Code        ErrorCode
	Description string
	Details     map[string]any
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError builds a wire error without details.
func NewError(code ErrorCode, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Frame is one decoded OCPP-J message. Exactly one of the payload groups is
// meaningful depending on Type.
type Frame struct {
	Type      MessageType
	MessageID string

	// CALL
	Action  string
	Payload json.RawMessage

	// CALLERROR
	ErrorCode        ErrorCode
	ErrorDescription string
	ErrorDetails     map[string]any
}

// MarshalCall encodes [2, id, action, payload].
func MarshalCall(messageID, action string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", action, err)
	}
	return json.Marshal([]any{int(MessageTypeCall), messageID, action, json.RawMessage(raw)})
}

// MarshalCallResult encodes [3, id, payload].
func MarshalCallResult(messageID string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal call result payload: %w", err)
	}
	return json.Marshal([]any{int(MessageTypeCallResult), messageID, json.RawMessage(raw)})
}

// MarshalCallError encodes [4, id, code, description, details].
func MarshalCallError(messageID string, wireErr *Error) ([]byte, error) {
	details := wireErr.Details
	if details == nil {
		details = map[string]any{}
	}
	return json.Marshal([]any{int(MessageTypeCallError), messageID, string(wireErr.Code), wireErr.Description, details})
}

// Unmarshal decodes a raw OCPP-J frame into a Frame. Malformed frames return
// an error; the message loop logs and continues rather than crashing.
func Unmarshal(data []byte) (*Frame, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("frame is not a JSON array: %w", err)
	}
	if len(elems) < 3 {
		return nil, fmt.Errorf("frame has %d elements, need at least 3", len(elems))
	}

	var mt int
	if err := json.Unmarshal(elems[0], &mt); err != nil {
		return nil, fmt.Errorf("message type: %w", err)
	}
	var id string
	if err := json.Unmarshal(elems[1], &id); err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	if id == "" || len(id) > 36 {
		return nil, fmt.Errorf("message id %q violates length bounds", id)
	}

	f := &Frame{Type: MessageType(mt), MessageID: id}

	switch f.Type {
	case MessageTypeCall:
		if len(elems) != 4 {
			return nil, fmt.Errorf("CALL frame has %d elements, want 4", len(elems))
		}
		if err := json.Unmarshal(elems[2], &f.Action); err != nil {
			return nil, fmt.Errorf("CALL action: %w", err)
		}
		f.Payload = elems[3]

	case MessageTypeCallResult:
		if len(elems) != 3 {
			return nil, fmt.Errorf("CALLRESULT frame has %d elements, want 3", len(elems))
		}
		f.Payload = elems[2]

	case MessageTypeCallError:
		if len(elems) < 4 {
			return nil, fmt.Errorf("CALLERROR frame has %d elements, want at least 4", len(elems))
		}
		var code string
		if err := json.Unmarshal(elems[2], &code); err != nil {
			return nil, fmt.Errorf("CALLERROR code: %w", err)
		}
		f.ErrorCode = ErrorCode(code)
		if err := json.Unmarshal(elems[3], &f.ErrorDescription); err != nil {
			return nil, fmt.Errorf("CALLERROR description: %w", err)
		}
		if len(elems) >= 5 {
			// Details are free-form; a null or malformed object is tolerated.
			_ = json.Unmarshal(elems[4], &f.ErrorDetails)
		}

	default:
		return nil, fmt.Errorf("unsupported message type %d", mt)
	}

	return f, nil
}
