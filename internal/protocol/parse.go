package protocol

import (
	"bytes"
	"encoding/json"
)

// ParseRequest decodes one transport line. Lines that are not JSON fail with
// PARSE_ERROR; JSON that is not a conformant message fails with
// INVALID_REQUEST. A missing id yields a request for which IsNotification
// reports true. A jsonrpc tag other than "2.0" is accepted and left for the
// caller to log. When only params are malformed the decoded request is
// returned alongside the error, so callers can drop bad notifications
// silently.
func ParseRequest(line []byte) (*Request, *Error) {
	line = bytes.TrimSpace(line)
	if !json.Valid(line) {
		return nil, ParseError()
	}
	switch line[0] {
	case '{':
	case '[':
		return nil, InvalidRequest("batch requests are not supported")
	default:
		return nil, InvalidRequest("message must be a JSON object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, InvalidRequest("message must be a JSON object")
	}

	req := &Request{}
	if raw, ok := fields["jsonrpc"]; ok {
		if err := json.Unmarshal(raw, &req.JSONRPC); err != nil {
			return nil, InvalidRequest("jsonrpc must be a string")
		}
	}

	rawMethod, ok := fields["method"]
	if !ok {
		return nil, InvalidRequest("method is required")
	}
	if err := json.Unmarshal(rawMethod, &req.Method); err != nil || req.Method == "" {
		return nil, InvalidRequest("method must be a non-empty string")
	}

	if rawID, ok := fields["id"]; ok {
		id, perr := decodeID(rawID)
		if perr != nil {
			return nil, perr
		}
		req.ID = id
	}

	params, perr := decodeParams(fields["params"])
	if perr != nil {
		return req, perr
	}
	req.Params = params
	return req, nil
}

func decodeID(raw json.RawMessage) (json.RawMessage, *Error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, InvalidRequest("id must be a string or number")
	}
	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, InvalidRequest("id must be a string or number")
		}
	case c == '-' || (c >= '0' && c <= '9'):
	default:
		return nil, InvalidRequest("id must be a string or number")
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, nil
}

func decodeParams(raw json.RawMessage) (Params, *Error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, nullID) {
		return Params{}, nil
	}
	if raw[0] != '{' {
		return nil, InvalidRequest("params must be an object")
	}
	// Numbers stay json.Number so lamport amounts above 2^53 are exact.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var params Params
	if err := dec.Decode(&params); err != nil {
		return nil, InvalidRequest("params must be an object")
	}
	if params == nil {
		params = Params{}
	}
	return params, nil
}
