package server

import (
	"solana-mcp/go-backend/internal/catalog"
	"solana-mcp/go-backend/internal/ledger"
)

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	RPCURL  string `json:"rpc_url"`
}

type InitializeResult struct {
	ServerInfo   ServerInfo           `json:"server_info"`
	Capabilities []catalog.Capability `json:"capabilities"`
}

type Balance struct {
	SOL      float64 `json:"sol"`
	Lamports uint64  `json:"lamports"`
}

type BalanceResult struct {
	Address string  `json:"address"`
	Balance Balance `json:"balance"`
}

type TransferResult struct {
	Transaction ledger.TransactionStatus `json:"transaction"`
}

type DeployResult struct {
	Deployment ledger.DeploymentRecord `json:"deployment"`
}

type CallOutcome struct {
	Transaction ledger.TransactionStatus `json:"transaction"`
	// Data is the program's return data, base64-encoded.
	Data string `json:"data"`
}

type CallResult struct {
	Result CallOutcome `json:"result"`
}

type TokenAccountsResult struct {
	TokenAccounts []ledger.TokenAccount `json:"token_accounts"`
}

type ShutdownResult struct {
	Success bool `json:"success"`
}

// TokenLabel names a mint in get_token_accounts results.
type TokenLabel struct {
	Name   string
	Symbol string
}
