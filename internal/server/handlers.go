package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"solana-mcp/go-backend/internal/config"
	"solana-mcp/go-backend/internal/dispatch"
	"solana-mcp/go-backend/internal/ledger"
	"solana-mcp/go-backend/internal/lifecycle"
	"solana-mcp/go-backend/internal/protocol"
	"solana-mcp/go-backend/internal/wallet"
)

const (
	methodInitialize       = "initialize"
	methodShutdown         = "shutdown"
	methodGetWalletAddress = "get_wallet_address"
	methodGetWalletBalance = "get_wallet_balance"
	methodTransferSOL      = "transfer_sol"
	methodDeployContract   = "deploy_contract"
	methodCallContract     = "call_contract"
	methodGetTokenAccounts = "get_token_accounts"

	notifyInitialized = "initialized"
	notifySetLogLevel = "set_log_level"
)

func (s *Server) requestHandlers() map[string]dispatch.RequestHandler {
	return map[string]dispatch.RequestHandler{
		methodInitialize: func(ctx context.Context, _ protocol.Params) (any, error) {
			return s.initialize(ctx)
		},
		methodShutdown: func(context.Context, protocol.Params) (any, error) {
			if err := s.shutdown(); err != nil {
				return nil, err
			}
			return ShutdownResult{Success: true}, nil
		},
		methodGetWalletAddress: s.handleGetWalletAddress,
		methodGetWalletBalance: s.handleGetWalletBalance,
		methodTransferSOL:      s.handleTransferSOL,
		methodDeployContract:   s.handleDeployContract,
		methodCallContract:     s.handleCallContract,
		methodGetTokenAccounts: s.handleGetTokenAccounts,
	}
}

func (s *Server) notificationHandlers() map[string]dispatch.NotificationHandler {
	return map[string]dispatch.NotificationHandler{
		notifyInitialized: func(context.Context, protocol.Params) error {
			s.logger.Info("client acknowledged initialization", "state", s.machine.State().String())
			return nil
		},
		notifySetLogLevel: func(_ context.Context, params protocol.Params) error {
			raw, err := params.RequiredString("level")
			if err != nil {
				return err
			}
			if s.opts.LogLevel == nil {
				return errors.New("log level is not adjustable")
			}
			level, err := config.ParseLogLevel(raw)
			if err != nil {
				return err
			}
			s.opts.LogLevel.Set(level)
			s.logger.Info("log level changed", "level", level.String())
			return nil
		},
	}
}

// initialize loads wallets, dials the ledger and verifies it with a version
// handshake. Nothing is kept unless all three succeed.
func (s *Server) initialize(ctx context.Context) (InitializeResult, error) {
	switch s.machine.State() {
	case lifecycle.Ready:
		return s.initializeResult(), nil
	case lifecycle.ShuttingDown, lifecycle.Stopped:
		return InitializeResult{}, protocol.InvalidRequest("server has been shut down")
	}

	wallets, err := s.loadWallets()
	if err != nil {
		return InitializeResult{}, fmt.Errorf("load wallets: %w", err)
	}
	client, err := s.opts.Dialer.Dial(ctx, s.opts.RPCURL)
	if err != nil {
		return InitializeResult{}, fmt.Errorf("connect to ledger: %w", err)
	}
	version, err := client.Version(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			s.logger.Warn("close ledger client after failed handshake", "error", closeErr.Error())
		}
		return InitializeResult{}, fmt.Errorf("ledger handshake: %w", err)
	}
	if err := s.machine.Transition(lifecycle.Ready); err != nil {
		_ = client.Close()
		return InitializeResult{}, err
	}
	s.wallets = wallets
	s.client = client
	s.logger.Info("server initialized",
		"rpc_url", s.opts.RPCURL,
		"solana_core", version.SolanaCore,
		"wallets", wallets.Len(),
		"read_only", s.opts.ReadOnly,
	)
	for _, w := range wallets.List() {
		s.logger.Debug("wallet registered", "wallet", w.Name, "address", w.Address, "default", w.IsDefault)
	}
	return s.initializeResult(), nil
}

func (s *Server) loadWallets() (*wallet.Registry, error) {
	if s.opts.LoadWallets == nil {
		return wallet.NewRegistry(nil)
	}
	return s.opts.LoadWallets()
}

func (s *Server) initializeResult() InitializeResult {
	return InitializeResult{
		ServerInfo:   ServerInfo{Name: Name, Version: Version, RPCURL: s.opts.RPCURL},
		Capabilities: s.capabilities,
	}
}

// shutdown is a no-op once Stopped, so teardown runs at most once.
func (s *Server) shutdown() error {
	if s.machine.Is(lifecycle.Stopped) {
		return nil
	}
	if err := s.machine.Transition(lifecycle.ShuttingDown); err != nil {
		return err
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Warn("close ledger client", "error", err.Error())
		}
	}
	if err := s.machine.Transition(lifecycle.Stopped); err != nil {
		return err
	}
	s.markStopped()
	return nil
}

func (s *Server) ledgerClient() (ledger.Client, error) {
	if s.client == nil {
		return nil, ledger.ErrNotConnected
	}
	return s.client, nil
}

func (s *Server) handleGetWalletAddress(_ context.Context, params protocol.Params) (any, error) {
	name, _, err := params.String("wallet_name")
	if err != nil {
		return nil, err
	}
	info, err := s.resolveWallet(name)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *Server) handleGetWalletBalance(ctx context.Context, params protocol.Params) (any, error) {
	address, err := s.addressParam(params, "address")
	if err != nil {
		return nil, err
	}
	client, err := s.ledgerClient()
	if err != nil {
		return nil, err
	}
	lamports, err := client.Balance(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return BalanceResult{
		Address: address,
		Balance: Balance{SOL: float64(lamports) / ledger.LamportsPerSOL, Lamports: lamports},
	}, nil
}

func (s *Server) handleTransferSOL(ctx context.Context, params protocol.Params) (any, error) {
	if s.opts.ReadOnly {
		return nil, unauthorized(methodTransferSOL)
	}
	fromName, _, err := params.String("from")
	if err != nil {
		return nil, err
	}
	from, err := s.resolveWallet(fromName)
	if err != nil {
		return nil, err
	}
	to, err := requiredAddress(params, "to")
	if err != nil {
		return nil, err
	}
	lamports, ok, err := params.Uint64("lamports")
	if err != nil {
		return nil, err
	}
	if !ok || lamports == 0 {
		return nil, protocol.InvalidParams("lamports must be a positive integer")
	}
	tx, err := params.RequiredString("transaction")
	if err != nil {
		return nil, err
	}
	client, err := s.ledgerClient()
	if err != nil {
		return nil, err
	}

	balance, err := client.Balance(ctx, from.Address)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if balance < lamports {
		return nil, protocol.Errorf(protocol.CodeInsufficientFunds,
			"Insufficient funds: wallet %s holds %d lamports, transfer needs %d", from.Name, balance, lamports).
			WithData(map[string]any{"balance": balance, "required": lamports})
	}

	status, err := client.SubmitTransfer(ctx, ledger.TransferRequest{
		From:        from.Address,
		To:          to,
		Lamports:    lamports,
		Transaction: tx,
	})
	if err != nil {
		return nil, submissionError(err, protocol.CodeTransactionFailed, "Transaction failed")
	}
	return TransferResult{Transaction: status}, nil
}

func (s *Server) handleDeployContract(ctx context.Context, params protocol.Params) (any, error) {
	if s.opts.ReadOnly {
		return nil, unauthorized(methodDeployContract)
	}
	programID, err := requiredAddress(params, "program_id")
	if err != nil {
		return nil, err
	}
	tx, err := params.RequiredString("transaction")
	if err != nil {
		return nil, err
	}
	client, err := s.ledgerClient()
	if err != nil {
		return nil, err
	}
	record, err := client.DeployProgram(ctx, ledger.DeployRequest{ProgramID: programID, Transaction: tx})
	if err != nil {
		return nil, submissionError(err, protocol.CodeContractError, "Contract deployment failed")
	}
	return DeployResult{Deployment: record}, nil
}

func (s *Server) handleCallContract(ctx context.Context, params protocol.Params) (any, error) {
	simulate, err := params.Bool("simulate")
	if err != nil {
		return nil, err
	}
	if s.opts.ReadOnly && !simulate {
		return nil, unauthorized(methodCallContract)
	}
	programID, err := requiredAddress(params, "program_id")
	if err != nil {
		return nil, err
	}
	tx, err := params.RequiredString("transaction")
	if err != nil {
		return nil, err
	}
	client, err := s.ledgerClient()
	if err != nil {
		return nil, err
	}
	status, data, err := client.InvokeProgram(ctx, ledger.InvokeRequest{ProgramID: programID, Transaction: tx, Simulate: simulate})
	if err != nil {
		return nil, submissionError(err, protocol.CodeContractError, "Contract call failed")
	}
	return CallResult{Result: CallOutcome{
		Transaction: status,
		Data:        base64.StdEncoding.EncodeToString(data),
	}}, nil
}

func (s *Server) handleGetTokenAccounts(ctx context.Context, params protocol.Params) (any, error) {
	owner, err := s.addressParam(params, "owner")
	if err != nil {
		return nil, err
	}
	mint, err := optionalAddress(params, "mint")
	if err != nil {
		return nil, err
	}
	programID, err := optionalAddress(params, "program_id")
	if err != nil {
		return nil, err
	}
	client, err := s.ledgerClient()
	if err != nil {
		return nil, err
	}
	accounts, err := client.TokenAccounts(ctx, ledger.TokenFilter{Owner: owner, Mint: mint, ProgramID: programID})
	if err != nil {
		return nil, fmt.Errorf("get token accounts: %w", err)
	}
	out := make([]ledger.TokenAccount, 0, len(accounts))
	for _, acc := range accounts {
		if label, ok := s.opts.Tokens[acc.Mint]; ok {
			acc.TokenName = label.Name
			acc.TokenSymbol = label.Symbol
		}
		out = append(out, acc)
	}
	return TokenAccountsResult{TokenAccounts: out}, nil
}

// resolveWallet maps registry misses onto WALLET_NOT_FOUND.
func (s *Server) resolveWallet(name string) (wallet.Info, error) {
	info, err := s.wallets.Resolve(name)
	switch {
	case err == nil:
		return info, nil
	case errors.Is(err, wallet.ErrNoDefault):
		return wallet.Info{}, protocol.NewError(protocol.CodeWalletNotFound, "No default wallet found")
	case errors.Is(err, wallet.ErrWalletNotFound):
		return wallet.Info{}, protocol.NewError(protocol.CodeWalletNotFound, "Wallet not found: "+name)
	default:
		return wallet.Info{}, err
	}
}

// addressParam returns the validated address in key, or the default
// wallet's address when key is absent.
func (s *Server) addressParam(params protocol.Params, key string) (string, error) {
	addr, err := optionalAddress(params, key)
	if err != nil || addr != "" {
		return addr, err
	}
	info, err := s.resolveWallet("")
	if err != nil {
		return "", err
	}
	return info.Address, nil
}

func optionalAddress(params protocol.Params, key string) (string, error) {
	raw, ok, err := params.String(key)
	if err != nil || !ok || raw == "" {
		return "", err
	}
	addr, err := wallet.ValidateAddress(raw)
	if err != nil {
		return "", protocol.InvalidParams(fmt.Sprintf("%s: %v", key, err))
	}
	return addr, nil
}

func requiredAddress(params protocol.Params, key string) (string, error) {
	raw, err := params.RequiredString(key)
	if err != nil {
		return "", err
	}
	addr, err := wallet.ValidateAddress(raw)
	if err != nil {
		return "", protocol.InvalidParams(fmt.Sprintf("%s: %v", key, err))
	}
	return addr, nil
}

func unauthorized(method string) *protocol.Error {
	return protocol.Errorf(protocol.CodeUnauthorized, "Unauthorized: %s is disabled on a read-only server", method)
}

// submissionError maps ledger failures for transaction-submitting methods.
// Rejections get code; malformed transactions are the caller's params.
func submissionError(err error, code protocol.Code, prefix string) error {
	var txErr *ledger.TransactionError
	switch {
	case errors.As(err, &txErr):
		data := map[string]any{"reason": txErr.Reason}
		if txErr.Signature != "" {
			data["signature"] = txErr.Signature
		}
		if len(txErr.Logs) > 0 {
			data["logs"] = txErr.Logs
		}
		return protocol.Errorf(code, "%s: %s", prefix, txErr.Reason).WithData(data)
	case errors.Is(err, ledger.ErrMalformedTx):
		return protocol.InvalidParams(err.Error())
	default:
		return err
	}
}
