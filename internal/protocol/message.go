// Package protocol defines the JSON-RPC 2.0 wire shapes spoken on the
// line-delimited transport and the typed error taxonomy carried in responses.
package protocol

import (
	"bytes"
	"encoding/json"
)

const Version = "2.0"

var nullID = json.RawMessage("null")

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  Params          `json:"params"`
}

// IsNotification reports whether the request carried no id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// IDString renders the id for logs.
func (r *Request) IDString() string {
	if len(r.ID) == 0 {
		return ""
	}
	return string(r.ID)
}

// Response carries exactly one of Result or Error. A nil ID is written as null.
type Response struct {
	JSONRPC string
	ID      json.RawMessage
	Result  json.RawMessage
	Error   *Error
}

type successWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
}

type errorWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *Error          `json:"error"`
}

func NewResult(id json.RawMessage, result json.RawMessage) Response {
	return Response{JSONRPC: Version, ID: id, Result: result}
}

func NewErrorResponse(id json.RawMessage, err *Error) Response {
	return Response{JSONRPC: Version, ID: id, Error: err}
}

func (r Response) MarshalJSON() ([]byte, error) {
	id := r.ID
	if len(id) == 0 {
		id = nullID
	}
	version := r.JSONRPC
	if version == "" {
		version = Version
	}
	if r.Error != nil {
		return json.Marshal(errorWire{JSONRPC: version, ID: id, Error: r.Error})
	}
	result := r.Result
	if len(result) == 0 {
		result = json.RawMessage("{}")
	}
	return json.Marshal(successWire{JSONRPC: version, ID: id, Result: result})
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var wire struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *Error          `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.JSONRPC = wire.JSONRPC
	r.ID = nil
	if len(wire.ID) > 0 && !bytes.Equal(wire.ID, nullID) {
		r.ID = wire.ID
	}
	r.Result = wire.Result
	r.Error = wire.Error
	return nil
}

// Encode renders the response as one protocol line without the trailing newline.
func (r Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}
