package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"solana-mcp/go-backend/internal/platform/ratelimiter"
)

const (
	defaultCallTimeout = 30 * time.Second
	defaultCommitment  = "confirmed"
	maxResponseBytes   = 16 << 20
)

// Observer is told about every outgoing call after it completes.
type Observer func(method string, elapsed time.Duration, err error)

type Options struct {
	HTTPClient *http.Client
	// Timeout bounds each call, including time spent waiting on Limiter.
	Timeout    time.Duration
	Limiter    *ratelimiter.MapLimiter
	Observer   Observer
	Commitment string
}

// HTTPDialer opens RPCClients. Dial only validates the endpoint; the
// caller's handshake is the first network round trip.
type HTTPDialer struct {
	Options Options
}

func (d HTTPDialer) Dial(ctx context.Context, rpcURL string) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewRPCClient(rpcURL, d.Options)
}

// RPCClient speaks Solana's HTTP JSON-RPC API.
type RPCClient struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *ratelimiter.MapLimiter
	observe    Observer
	commitment string
	ids        atomic.Uint64
	closed     atomic.Bool
}

func NewRPCClient(rpcURL string, opts Options) (*RPCClient, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	u, err := url.Parse(rpcURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, rpcURL)
	}
	c := &RPCClient{
		endpoint:   rpcURL,
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
		limiter:    opts.Limiter,
		observe:    opts.Observer,
		commitment: strings.TrimSpace(opts.Commitment),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = defaultCallTimeout
	}
	if c.commitment == "" {
		c.commitment = defaultCommitment
	}
	return c, nil
}

// Close is idempotent.
func (c *RPCClient) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.httpClient.CloseIdleConnections()
	}
	return nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

// call performs one JSON-RPC round trip and decodes the result into out.
func (c *RPCClient) call(ctx context.Context, method string, params []any, out any) (retErr error) {
	if c.closed.Load() {
		return ErrClosed
	}
	start := time.Now()
	defer func() {
		if c.observe != nil {
			c.observe(method, time.Since(start), retErr)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.limiter.Wait(ctx, method); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", method, err)
	}

	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.ids.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: timed out after %s: %w", method, c.timeout, context.DeadlineExceeded)
		}
		return fmt.Errorf("%s: %w", method, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http status %d", method, resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if envelope.Error != nil {
		return &RPCError{
			Method:  method,
			Code:    envelope.Error.Code,
			Message: envelope.Error.Message,
			Data:    envelope.Error.Data,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}
