// Package server owns one MCP server instance: its lifecycle, wallet
// registry, ledger connection and method tables. Transports feed it one
// protocol line at a time through HandleLine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"solana-mcp/go-backend/internal/catalog"
	"solana-mcp/go-backend/internal/dispatch"
	"solana-mcp/go-backend/internal/ledger"
	"solana-mcp/go-backend/internal/lifecycle"
	"solana-mcp/go-backend/internal/metrics"
	"solana-mcp/go-backend/internal/platform/privacylog"
	"solana-mcp/go-backend/internal/protocol"
	"solana-mcp/go-backend/internal/wallet"
)

const (
	Name    = "solana_mcp_server"
	Version = "0.1.0"
)

type Options struct {
	RPCURL string
	Dialer ledger.Dialer
	// LoadWallets builds the wallet registry during initialize. Nil means
	// an empty registry.
	LoadWallets func() (*wallet.Registry, error)
	Tokens      map[string]TokenLabel
	// ReadOnly rejects every method that submits a transaction.
	ReadOnly bool
	// RequireInitialize rejects methods other than initialize and shutdown
	// until the server is ready.
	RequireInitialize bool
	Logger            *slog.Logger
	// LogLevel, when set, is adjusted by the set_log_level notification.
	LogLevel *slog.LevelVar
	Metrics  *metrics.Recorder
}

type Server struct {
	mu sync.Mutex
	// state mirrors machine for readers that must not wait on mu.
	state atomic.Int32

	opts         Options
	logger       *slog.Logger
	machine      *lifecycle.Machine
	registry     *dispatch.Registry
	capabilities []catalog.Capability

	wallets *wallet.Registry
	client  ledger.Client

	done     chan struct{}
	doneOnce sync.Once
}

func New(opts Options) (*Server, error) {
	if opts.Dialer == nil {
		return nil, errors.New("ledger dialer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts:   opts,
		logger: logger.With("component", "server"),
		done:   make(chan struct{}),
	}
	s.machine = lifecycle.New(func(from, to lifecycle.State) {
		s.state.Store(int32(to))
		s.logger.Info("lifecycle transition", "from", from.String(), "state", to.String())
		s.opts.Metrics.SetLifecycleState(int(to))
	})
	s.opts.Metrics.SetLifecycleState(int(lifecycle.Uninitialized))

	registry, err := dispatch.NewRegistry(s.requestHandlers(), s.notificationHandlers(), logger.With("component", "dispatch"))
	if err != nil {
		return nil, err
	}
	caps, err := catalog.Build(registry.Methods())
	if err != nil {
		return nil, fmt.Errorf("build capability catalog: %w", err)
	}
	s.registry = registry
	s.capabilities = caps
	return s, nil
}

// HandleLine processes one protocol line. respond is false for
// notifications, which never produce output.
func (s *Server) HandleLine(ctx context.Context, line []byte) (out []byte, respond bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	req, perr := protocol.ParseRequest(line)
	if perr != nil && req != nil && req.IsNotification() {
		s.logger.Warn("dropped malformed notification", "method", req.Method, "error", perr.Message)
		s.opts.Metrics.ObserveNotification(metrics.UnknownMethod)
		return nil, false
	}
	if perr != nil {
		s.logger.Warn("rejected message", "rpc_code", int(perr.Code), "error", perr.Message)
		s.opts.Metrics.ObserveRequest(metrics.UnknownMethod, int(perr.Code), time.Since(start))
		return s.encode(protocol.NewErrorResponse(nil, perr)), true
	}
	if req.JSONRPC != protocol.Version {
		s.logger.Warn("unexpected jsonrpc version", "jsonrpc", req.JSONRPC, "method", req.Method)
	}

	if req.IsNotification() {
		label := req.Method
		if !s.registry.HasNotification(label) {
			label = metrics.UnknownMethod
		}
		s.opts.Metrics.ObserveNotification(label)
		s.logger.Debug("rpc notification", append([]any{"method", req.Method}, privacylog.ParamArgs(req.Params)...)...)
		s.registry.DispatchNotification(ctx, req.Method, req.Params)
		return nil, false
	}

	s.logger.Info("rpc request", "method", req.Method, "rpc_id", req.IDString())
	s.logger.Debug("rpc params", append([]any{"method", req.Method}, privacylog.ParamArgs(req.Params)...)...)

	var resp protocol.Response
	if gateErr := s.gate(req.Method); gateErr != nil {
		resp = protocol.NewErrorResponse(req.ID, gateErr)
	} else if result, derr := s.registry.DispatchRequest(ctx, req.Method, req.Params); derr != nil {
		resp = protocol.NewErrorResponse(req.ID, derr)
	} else {
		resp = protocol.NewResult(req.ID, result)
	}

	elapsed := time.Since(start)
	label := req.Method
	if !s.registry.HasRequest(label) {
		label = metrics.UnknownMethod
	}
	code := 0
	if resp.Error != nil {
		code = int(resp.Error.Code)
		level := slog.LevelWarn
		if resp.Error.Code == protocol.CodeInternalError {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "rpc error",
			"method", req.Method,
			"rpc_id", req.IDString(),
			"rpc_code", code,
			"error", resp.Error.Message,
			"data", resp.Error.Data,
			"latency_ms", elapsed.Milliseconds(),
		)
	} else {
		s.logger.Info("rpc response", "method", req.Method, "rpc_id", req.IDString(), "latency_ms", elapsed.Milliseconds())
	}
	s.opts.Metrics.ObserveRequest(label, code, elapsed)
	return s.encode(resp), true
}

func (s *Server) encode(resp protocol.Response) []byte {
	out, err := resp.Encode()
	if err != nil {
		s.logger.Error("encode response failed", "error", err.Error())
		out, _ = protocol.NewErrorResponse(resp.ID, protocol.Internal(err)).Encode()
	}
	return out
}

func (s *Server) gate(method string) *protocol.Error {
	if !s.opts.RequireInitialize || !s.registry.HasRequest(method) {
		return nil
	}
	if method == methodInitialize || method == methodShutdown {
		return nil
	}
	if !s.machine.Is(lifecycle.Ready) {
		return protocol.InvalidRequest(fmt.Sprintf("server is %s; call initialize first", s.machine.State()))
	}
	return nil
}

// Initialize runs the initialize method outside the transport, for eager
// startup.
func (s *Server) Initialize(ctx context.Context) (InitializeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialize(ctx)
}

// Close shuts the server down if it is not already stopped. It is used when
// the input stream ends without an explicit shutdown.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown()
}

// State does not wait for an in-flight request.
func (s *Server) State() lifecycle.State {
	return lifecycle.State(s.state.Load())
}

// Done is closed once the server reaches Stopped.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) markStopped() {
	s.doneOnce.Do(func() { close(s.done) })
}
