package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const signatureSize = 64

func (c *RPCClient) Version(ctx context.Context) (VersionInfo, error) {
	var v VersionInfo
	if err := c.call(ctx, "getVersion", nil, &v); err != nil {
		return VersionInfo{}, err
	}
	return v, nil
}

func (c *RPCClient) Balance(ctx context.Context, address string) (uint64, error) {
	var out struct {
		Value uint64 `json:"value"`
	}
	params := []any{address, map[string]any{"commitment": c.commitment}}
	if err := c.call(ctx, "getBalance", params, &out); err != nil {
		return 0, err
	}
	return out.Value, nil
}

func (c *RPCClient) SubmitTransfer(ctx context.Context, req TransferRequest) (TransactionStatus, error) {
	status, _, err := c.relay(ctx, req.Transaction)
	return status, err
}

func (c *RPCClient) DeployProgram(ctx context.Context, req DeployRequest) (DeploymentRecord, error) {
	status, _, err := c.relay(ctx, req.Transaction)
	record := DeploymentRecord{ProgramID: req.ProgramID, Transaction: status}
	if err != nil {
		return record, err
	}
	var account struct {
		Value *struct {
			Executable bool   `json:"executable"`
			Owner      string `json:"owner"`
		} `json:"value"`
	}
	params := []any{req.ProgramID, map[string]any{"encoding": "base64", "commitment": c.commitment}}
	if err := c.call(ctx, "getAccountInfo", params, &account); err != nil {
		return record, err
	}
	if account.Value == nil || !account.Value.Executable {
		return record, &TransactionError{
			Signature: status.Signature,
			Reason:    fmt.Sprintf("program account %s is not executable", req.ProgramID),
		}
	}
	return record, nil
}

func (c *RPCClient) InvokeProgram(ctx context.Context, req InvokeRequest) (TransactionStatus, []byte, error) {
	if req.Simulate {
		return c.simulate(ctx, req.Transaction)
	}
	status, details, err := c.relay(ctx, req.Transaction)
	if err != nil {
		return status, nil, err
	}
	return status, details.returnData, nil
}

func (c *RPCClient) TokenAccounts(ctx context.Context, filter TokenFilter) ([]TokenAccount, error) {
	owner := strings.TrimSpace(filter.Owner)
	if owner == "" {
		return nil, errors.New("token account owner is required")
	}
	var selector map[string]any
	switch {
	case strings.TrimSpace(filter.Mint) != "":
		selector = map[string]any{"mint": strings.TrimSpace(filter.Mint)}
	case strings.TrimSpace(filter.ProgramID) != "":
		selector = map[string]any{"programId": strings.TrimSpace(filter.ProgramID)}
	default:
		selector = map[string]any{"programId": TokenProgramID}
	}
	var out struct {
		Value []struct {
			Pubkey  string `json:"pubkey"`
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint        string `json:"mint"`
							Owner       string `json:"owner"`
							TokenAmount struct {
								Amount   string `json:"amount"`
								Decimals uint8  `json:"decimals"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	params := []any{owner, selector, map[string]any{"encoding": "jsonParsed", "commitment": c.commitment}}
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &out); err != nil {
		return nil, err
	}
	accounts := make([]TokenAccount, 0, len(out.Value))
	for _, v := range out.Value {
		info := v.Account.Data.Parsed.Info
		accounts = append(accounts, TokenAccount{
			Address:  v.Pubkey,
			Mint:     info.Mint,
			Owner:    info.Owner,
			Amount:   info.TokenAmount.Amount,
			Decimals: info.TokenAmount.Decimals,
		})
	}
	return accounts, nil
}

type txDetails struct {
	returnData []byte
}

type returnDataWire struct {
	ProgramID string    `json:"programId"`
	Data      [2]string `json:"data"`
}

func (r *returnDataWire) decode() ([]byte, error) {
	if r == nil || r.Data[0] == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(r.Data[0])
}

// relay submits a signed transaction and then reads back its status. Once
// sendTransaction has accepted the transaction, failures to read status are
// not reported; the caller still gets the signature.
func (c *RPCClient) relay(ctx context.Context, encoded string) (TransactionStatus, txDetails, error) {
	signature, err := TransactionSignature(encoded)
	if err != nil {
		return TransactionStatus{}, txDetails{}, err
	}
	if signature == "" {
		return TransactionStatus{}, txDetails{}, fmt.Errorf("%w: transaction is not signed", ErrMalformedTx)
	}

	var sent string
	params := []any{strings.TrimSpace(encoded), map[string]any{"encoding": "base64", "preflightCommitment": c.commitment}}
	if err := c.call(ctx, "sendTransaction", params, &sent); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return TransactionStatus{Signature: signature}, txDetails{}, &TransactionError{
				Signature: signature,
				Reason:    rpcErr.Message,
				Logs:      preflightLogs(rpcErr.Data),
				Err:       rpcErr,
			}
		}
		return TransactionStatus{Signature: signature}, txDetails{}, err
	}
	if sent != "" {
		signature = sent
	}
	status := TransactionStatus{Signature: signature, Status: StatusSubmitted}

	var statuses struct {
		Value []*struct {
			Slot               uint64          `json:"slot"`
			Confirmations      *uint64         `json:"confirmations"`
			Err                json.RawMessage `json:"err"`
			ConfirmationStatus string          `json:"confirmationStatus"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getSignatureStatuses", []any{[]string{signature}}, &statuses); err != nil {
		return status, txDetails{}, nil
	}
	if len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return status, txDetails{}, nil
	}
	st := statuses.Value[0]
	slot := st.Slot
	status.Slot = &slot
	status.Confirmations = st.Confirmations
	status.Status = StatusProcessed
	if st.ConfirmationStatus != "" {
		status.Status = st.ConfirmationStatus
	}
	if !isNull(st.Err) {
		return status, txDetails{}, &TransactionError{Signature: signature, Reason: string(st.Err)}
	}
	if status.Status != StatusConfirmed && status.Status != StatusFinalized {
		return status, txDetails{}, nil
	}

	var tx *struct {
		Slot      uint64 `json:"slot"`
		BlockTime *int64 `json:"blockTime"`
		Meta      *struct {
			Fee         uint64          `json:"fee"`
			Err         json.RawMessage `json:"err"`
			LogMessages []string        `json:"logMessages"`
			ReturnData  *returnDataWire `json:"returnData"`
		} `json:"meta"`
	}
	txParams := []any{signature, map[string]any{"encoding": "json", "commitment": StatusConfirmed, "maxSupportedTransactionVersion": 0}}
	if err := c.call(ctx, "getTransaction", txParams, &tx); err != nil || tx == nil {
		return status, txDetails{}, nil
	}
	status.BlockTime = tx.BlockTime
	if tx.Meta == nil {
		return status, txDetails{}, nil
	}
	status.Fee = tx.Meta.Fee
	if !isNull(tx.Meta.Err) {
		return status, txDetails{}, &TransactionError{Signature: signature, Reason: string(tx.Meta.Err), Logs: tx.Meta.LogMessages}
	}
	data, err := tx.Meta.ReturnData.decode()
	if err != nil {
		return status, txDetails{}, fmt.Errorf("decode return data: %w", err)
	}
	return status, txDetails{returnData: data}, nil
}

func (c *RPCClient) simulate(ctx context.Context, encoded string) (TransactionStatus, []byte, error) {
	signature, err := TransactionSignature(encoded)
	if err != nil {
		return TransactionStatus{}, nil, err
	}
	var out struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Err        json.RawMessage `json:"err"`
			Logs       []string        `json:"logs"`
			ReturnData *returnDataWire `json:"returnData"`
		} `json:"value"`
	}
	params := []any{strings.TrimSpace(encoded), map[string]any{
		"encoding":               "base64",
		"sigVerify":              false,
		"replaceRecentBlockhash": true,
		"commitment":             c.commitment,
	}}
	if err := c.call(ctx, "simulateTransaction", params, &out); err != nil {
		return TransactionStatus{}, nil, err
	}
	slot := out.Context.Slot
	status := TransactionStatus{Signature: signature, Status: StatusSimulated, Slot: &slot}
	if !isNull(out.Value.Err) {
		return status, nil, &TransactionError{Signature: signature, Reason: string(out.Value.Err), Logs: out.Value.Logs}
	}
	data, err := out.Value.ReturnData.decode()
	if err != nil {
		return status, nil, fmt.Errorf("decode return data: %w", err)
	}
	return status, data, nil
}

// TransactionSignature validates a base64 wire transaction and returns its
// first signature in base58, or "" when that signature slot is still empty.
func TransactionSignature(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", fmt.Errorf("%w: not base64", ErrMalformedTx)
	}
	if len(raw) < 1+signatureSize {
		return "", fmt.Errorf("%w: %d bytes is too short", ErrMalformedTx, len(raw))
	}
	count := int(raw[0])
	if count == 0 || count&0x80 != 0 {
		return "", fmt.Errorf("%w: unsupported signature count", ErrMalformedTx)
	}
	if len(raw) < 1+count*signatureSize {
		return "", fmt.Errorf("%w: truncated signatures", ErrMalformedTx)
	}
	first := raw[1 : 1+signatureSize]
	if bytes.Equal(first, make([]byte, signatureSize)) {
		return "", nil
	}
	return base58.Encode(first), nil
}

func preflightLogs(data json.RawMessage) []string {
	if len(data) == 0 {
		return nil
	}
	var sim struct {
		Logs []string `json:"logs"`
	}
	if err := json.Unmarshal(data, &sim); err != nil {
		return nil
	}
	return sim.Logs
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
