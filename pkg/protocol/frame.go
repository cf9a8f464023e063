package protocol

import "encoding/json"

// ProtocolVersion identifies the wire format spoken by the gateway.
// The server reports it in the connect and status replies and stamps it
// on every EventFrame; it does not check a version sent by the client.
const ProtocolVersion = "1.0"

// RequestFrame is a client-to-server call. ID is echoed back on the
// matching ResponseFrame so callers can correlate async replies.
type RequestFrame struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers a RequestFrame with the same ID.
type ResponseFrame struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *FrameError     `json:"error,omitempty"`
}

// FrameError is the JSON-RPC-ish error shape carried on ResponseFrame.
type FrameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// EventFrame is a server-to-client push, unrelated to any particular
// request. Name is one of the EventXxx constants in events.go.
type EventFrame struct {
	Version string          `json:"version"`
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an EventFrame; an unmarshalable payload
// becomes a JSON null payload rather than an error or a panic.
func NewEvent(name string, payload any) EventFrame {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage("null")
	}
	return EventFrame{Version: ProtocolVersion, Name: name, Payload: raw}
}

// NewResponse builds a successful ResponseFrame for id.
func NewResponse(id string, result any) ResponseFrame {
	raw, err := json.Marshal(result)
	if err != nil {
		return ResponseFrame{ID: id, Error: &FrameError{Code: 500, Message: err.Error()}}
	}
	return ResponseFrame{ID: id, Result: raw}
}

// NewErrorResponse builds a failed ResponseFrame for id.
func NewErrorResponse(id string, code int, message string) ResponseFrame {
	return ResponseFrame{ID: id, Error: &FrameError{Code: code, Message: message}}
}
