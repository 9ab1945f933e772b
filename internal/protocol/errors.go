package protocol

import (
	"errors"
	"fmt"
)

// Code is a JSON-RPC error code.
type Code int

// Standard JSON-RPC 2.0 codes.
const (
	CodeParseError     Code = -32700
	CodeInvalidRequest Code = -32600
	CodeMethodNotFound Code = -32601
	CodeInvalidParams  Code = -32602
	CodeInternalError  Code = -32603
)

// Ledger-specific codes (-32000 ~ -32099: server-defined).
const (
	CodeWalletNotFound    Code = -32000
	CodeInsufficientFunds Code = -32001
	CodeTransactionFailed Code = -32002
	CodeContractError     Code = -32003
	CodeUnauthorized      Code = -32004
)

var codeNames = map[Code]string{
	CodeParseError:        "PARSE_ERROR",
	CodeInvalidRequest:    "INVALID_REQUEST",
	CodeMethodNotFound:    "METHOD_NOT_FOUND",
	CodeInvalidParams:     "INVALID_PARAMS",
	CodeInternalError:     "INTERNAL_ERROR",
	CodeWalletNotFound:    "WALLET_NOT_FOUND",
	CodeInsufficientFunds: "INSUFFICIENT_FUNDS",
	CodeTransactionFailed: "TRANSACTION_FAILED",
	CodeContractError:     "CONTRACT_ERROR",
	CodeUnauthorized:      "UNAUTHORIZED",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

// Error is the typed protocol failure carried on the wire. Handlers return it
// to choose a specific code; any other error is wrapped as INTERNAL_ERROR.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%d] %s", int(e.Code), e.Message)
}

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data map[string]any) *Error {
	out := *e
	out.Data = data
	return &out
}

// AsError reports whether err is (or wraps) a protocol error.
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// Internal wraps an unanticipated failure, keeping its description in data.
func Internal(err error) *Error {
	return &Error{
		Code:    CodeInternalError,
		Message: "Internal error",
		Data:    map[string]any{"detail": err.Error()},
	}
}

func ParseError() *Error {
	return &Error{Code: CodeParseError, Message: "Invalid JSON"}
}

func InvalidRequest(reason string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: "Invalid request: " + reason}
}

func MethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: "Method not found: " + method}
}

func InvalidParams(reason string) *Error {
	return &Error{Code: CodeInvalidParams, Message: "Invalid params: " + reason}
}
