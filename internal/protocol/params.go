package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Params is the by-name parameter object of a request or notification.
type Params map[string]any

// String returns an optional string parameter. Absent and null values report
// ok=false; any other non-string value is an INVALID_PARAMS error.
func (p Params) String(key string) (string, bool, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return "", false, nil
	}
	v, isString := raw.(string)
	if !isString {
		return "", false, InvalidParams(fmt.Sprintf("%s must be a string", key))
	}
	return strings.TrimSpace(v), true, nil
}

func (p Params) RequiredString(key string) (string, error) {
	v, ok, err := p.String(key)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return "", InvalidParams(fmt.Sprintf("%s is required", key))
	}
	return v, nil
}

// Uint64 accepts JSON numbers that are non-negative integers. Integer
// literals are parsed exactly; other forms such as 1e3 go through float64.
func (p Params) Uint64(key string) (uint64, bool, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case json.Number:
		if n, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
			return n, true, nil
		}
		parsed, err := v.Float64()
		if err != nil {
			return 0, false, InvalidParams(fmt.Sprintf("%s must be a number", key))
		}
		f = parsed
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint64:
		return v, true, nil
	default:
		return 0, false, InvalidParams(fmt.Sprintf("%s must be a number", key))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || math.Trunc(f) != f || f >= 1<<64 {
		return 0, false, InvalidParams(fmt.Sprintf("%s must be a non-negative integer", key))
	}
	return uint64(f), true, nil
}

func (p Params) Bool(key string) (bool, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return false, nil
	}
	v, isBool := raw.(bool)
	if !isBool {
		return false, InvalidParams(fmt.Sprintf("%s must be a boolean", key))
	}
	return v, nil
}

// Decode re-marshals the parameter object into a typed descriptor.
func (p Params) Decode(into any) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return InvalidParams("params are not encodable")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return InvalidParams(err.Error())
	}
	return nil
}
