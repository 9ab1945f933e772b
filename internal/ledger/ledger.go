// Package ledger is the boundary to the remote Solana RPC endpoint. It
// queries state and relays transactions that callers have already signed;
// it never holds or uses private keys.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client is an open connection to a ledger endpoint. After Close every
// method fails with ErrClosed.
type Client interface {
	Version(ctx context.Context) (VersionInfo, error)
	Balance(ctx context.Context, address string) (uint64, error)
	SubmitTransfer(ctx context.Context, req TransferRequest) (TransactionStatus, error)
	DeployProgram(ctx context.Context, req DeployRequest) (DeploymentRecord, error)
	InvokeProgram(ctx context.Context, req InvokeRequest) (TransactionStatus, []byte, error)
	TokenAccounts(ctx context.Context, filter TokenFilter) ([]TokenAccount, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, rpcURL string) (Client, error)
}

type DialerFunc func(ctx context.Context, rpcURL string) (Client, error)

func (f DialerFunc) Dial(ctx context.Context, rpcURL string) (Client, error) {
	return f(ctx, rpcURL)
}

const LamportsPerSOL = 1_000_000_000

// TokenProgramID is the SPL token program, used when a token filter names
// neither a mint nor a program.
const TokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

type VersionInfo struct {
	SolanaCore string `json:"solana-core"`
	FeatureSet uint32 `json:"feature-set"`
}

// Transaction status values.
const (
	StatusSubmitted = "submitted"
	StatusProcessed = "processed"
	StatusConfirmed = "confirmed"
	StatusFinalized = "finalized"
	StatusSimulated = "simulated"
)

type TransactionStatus struct {
	Signature     string  `json:"signature"`
	Status        string  `json:"status"`
	BlockTime     *int64  `json:"block_time,omitempty"`
	Confirmations *uint64 `json:"confirmations,omitempty"`
	Fee           uint64  `json:"fee"`
	Slot          *uint64 `json:"slot,omitempty"`
}

type DeploymentRecord struct {
	ProgramID   string            `json:"program_id"`
	Transaction TransactionStatus `json:"transaction"`
}

// TransferRequest carries a transfer the caller has already signed.
// From, To and Lamports describe it for precondition checks; Transaction is
// the base64 wire transaction that is relayed unchanged.
type TransferRequest struct {
	From        string
	To          string
	Lamports    uint64
	Transaction string
}

type DeployRequest struct {
	ProgramID   string
	Transaction string
}

type InvokeRequest struct {
	ProgramID   string
	Transaction string
	Simulate    bool
}

type TokenFilter struct {
	Owner     string
	Mint      string
	ProgramID string
}

type TokenAccount struct {
	Address     string `json:"address"`
	Mint        string `json:"mint"`
	Owner       string `json:"owner"`
	Amount      string `json:"amount"`
	Decimals    uint8  `json:"decimals"`
	TokenName   string `json:"token_name,omitempty"`
	TokenSymbol string `json:"token_symbol,omitempty"`
}

var (
	ErrClosed          = errors.New("ledger client is closed")
	ErrNotConnected    = errors.New("ledger client is not connected")
	ErrInvalidEndpoint = errors.New("invalid ledger endpoint")
	ErrMalformedTx     = errors.New("malformed transaction")
)

// RPCError is an error object returned by the endpoint.
type RPCError struct {
	Method  string
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

// TransactionError reports a transaction the ledger refused or that failed
// on chain.
type TransactionError struct {
	Signature string
	Reason    string
	Logs      []string
	Err       error
}

func (e *TransactionError) Error() string {
	var b strings.Builder
	b.WriteString("transaction ")
	if e.Signature != "" {
		b.WriteString(e.Signature)
		b.WriteString(" ")
	}
	b.WriteString("failed: ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}
