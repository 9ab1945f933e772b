package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
)

const testOwner = "So11111111111111111111111111111111111111112"

type fakeReply struct {
	result any
	err    map[string]any
}

type fakeNode struct {
	mu      sync.Mutex
	replies map[string]fakeReply
	calls   []string
	params  map[string][]json.RawMessage
}

func newFakeNode(t *testing.T, replies map[string]fakeReply) (*fakeNode, *httptest.Server) {
	t.Helper()
	n := &fakeNode{replies: replies, params: map[string][]json.RawMessage{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n.mu.Lock()
		n.calls = append(n.calls, req.Method)
		n.params[req.Method] = req.Params
		reply, ok := n.replies[req.Method]
		n.mu.Unlock()
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch {
		case !ok:
			resp["error"] = map[string]any{"code": -32601, "message": "Method not found"}
		case reply.err != nil:
			resp["error"] = reply.err
		default:
			resp["result"] = reply.result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return n, srv
}

func (n *fakeNode) methods() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

func (n *fakeNode) paramsFor(method string) []json.RawMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.params[method]
}

func signedTx(fill byte) (string, string) {
	sig := bytes.Repeat([]byte{fill}, signatureSize)
	raw := append([]byte{1}, sig...)
	raw = append(raw, []byte("message-bytes")...)
	return base64.StdEncoding.EncodeToString(raw), base58.Encode(sig)
}

func newTestClient(t *testing.T, url string) *RPCClient {
	t.Helper()
	c, err := NewRPCClient(url, Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewRPCClientRejectsBadEndpoint(t *testing.T) {
	for _, u := range []string{"", "ftp://node", "http://", "::"} {
		if _, err := NewRPCClient(u, Options{}); !errors.Is(err, ErrInvalidEndpoint) {
			t.Fatalf("%q: expected invalid endpoint, got %v", u, err)
		}
	}
}

func TestVersionAndBalance(t *testing.T) {
	node, srv := newFakeNode(t, map[string]fakeReply{
		"getVersion": {result: map[string]any{"solana-core": "1.18.22", "feature-set": 3241752014}},
		"getBalance": {result: map[string]any{"context": map[string]any{"slot": 10}, "value": 2_500_000_000}},
	})
	c := newTestClient(t, srv.URL)
	v, err := c.Version(context.Background())
	if err != nil || v.SolanaCore != "1.18.22" {
		t.Fatalf("unexpected version %+v %v", v, err)
	}
	bal, err := c.Balance(context.Background(), testOwner)
	if err != nil || bal != 2_500_000_000 {
		t.Fatalf("unexpected balance %d %v", bal, err)
	}
	if got := string(node.paramsFor("getBalance")[0]); got != `"`+testOwner+`"` {
		t.Fatalf("unexpected balance params: %s", got)
	}
}

func TestRPCErrorIsTyped(t *testing.T) {
	_, srv := newFakeNode(t, map[string]fakeReply{
		"getBalance": {err: map[string]any{"code": -32602, "message": "Invalid param: WrongSize"}},
	})
	c := newTestClient(t, srv.URL)
	_, err := c.Balance(context.Background(), "bogus")
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32602 || rpcErr.Method != "getBalance" {
		t.Fatalf("expected typed rpc error, got %v", err)
	}
}

func TestSubmitTransferReadsBackStatus(t *testing.T) {
	tx, sig := signedTx(7)
	blockTime := int64(1_700_000_000)
	node, srv := newFakeNode(t, map[string]fakeReply{
		"sendTransaction": {result: sig},
		"getSignatureStatuses": {result: map[string]any{"value": []any{map[string]any{
			"slot": 42, "confirmations": 3, "err": nil, "confirmationStatus": "confirmed",
		}}}},
		"getTransaction": {result: map[string]any{
			"slot": 42, "blockTime": blockTime,
			"meta": map[string]any{"fee": 5000, "err": nil},
		}},
	})
	c := newTestClient(t, srv.URL)
	status, err := c.SubmitTransfer(context.Background(), TransferRequest{Transaction: tx, Lamports: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if status.Signature != sig || status.Status != StatusConfirmed || status.Fee != 5000 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.Slot == nil || *status.Slot != 42 || status.BlockTime == nil || *status.BlockTime != blockTime {
		t.Fatalf("unexpected slot/block time: %+v", status)
	}
	if got := strings.Join(node.methods(), ","); got != "sendTransaction,getSignatureStatuses,getTransaction" {
		t.Fatalf("unexpected call sequence: %s", got)
	}
}

func TestSubmitTransferRejected(t *testing.T) {
	tx, sig := signedTx(9)
	_, srv := newFakeNode(t, map[string]fakeReply{
		"sendTransaction": {err: map[string]any{
			"code":    -32002,
			"message": "Transaction simulation failed: Attempt to debit an account but found no record of a prior credit.",
			"data":    map[string]any{"logs": []string{"Program 11111111111111111111111111111111 failed"}},
		}},
	})
	c := newTestClient(t, srv.URL)
	_, err := c.SubmitTransfer(context.Background(), TransferRequest{Transaction: tx})
	var txErr *TransactionError
	if !errors.As(err, &txErr) {
		t.Fatalf("expected transaction error, got %v", err)
	}
	if txErr.Signature != sig || len(txErr.Logs) != 1 {
		t.Fatalf("unexpected transaction error: %+v", txErr)
	}
}

func TestSubmitRejectsUnsignedOrMalformed(t *testing.T) {
	node, srv := newFakeNode(t, map[string]fakeReply{})
	c := newTestClient(t, srv.URL)
	unsigned, _ := signedTx(0)
	for _, tx := range []string{"%%%", base64.StdEncoding.EncodeToString([]byte{1, 2}), unsigned} {
		if _, err := c.SubmitTransfer(context.Background(), TransferRequest{Transaction: tx}); !errors.Is(err, ErrMalformedTx) {
			t.Fatalf("expected malformed tx for %q, got %v", tx, err)
		}
	}
	if len(node.methods()) != 0 {
		t.Fatalf("malformed transactions must not reach the node: %v", node.methods())
	}
}

func TestDeployProgramChecksExecutable(t *testing.T) {
	tx, sig := signedTx(3)
	replies := map[string]fakeReply{
		"sendTransaction":      {result: sig},
		"getSignatureStatuses": {result: map[string]any{"value": []any{nil}}},
		"getAccountInfo":       {result: map[string]any{"value": map[string]any{"executable": true, "owner": "BPFLoaderUpgradeab1e11111111111111111111111"}}},
	}
	_, srv := newFakeNode(t, replies)
	c := newTestClient(t, srv.URL)
	record, err := c.DeployProgram(context.Background(), DeployRequest{ProgramID: testOwner, Transaction: tx})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if record.ProgramID != testOwner || record.Transaction.Status != StatusSubmitted {
		t.Fatalf("unexpected record: %+v", record)
	}

	replies["getAccountInfo"] = fakeReply{result: map[string]any{"value": nil}}
	_, srv = newFakeNode(t, replies)
	c = newTestClient(t, srv.URL)
	_, err = c.DeployProgram(context.Background(), DeployRequest{ProgramID: testOwner, Transaction: tx})
	var txErr *TransactionError
	if !errors.As(err, &txErr) {
		t.Fatalf("expected transaction error for missing program, got %v", err)
	}
}

func TestInvokeProgramSimulateReturnsData(t *testing.T) {
	unsigned, _ := signedTx(0)
	_, srv := newFakeNode(t, map[string]fakeReply{
		"simulateTransaction": {result: map[string]any{
			"context": map[string]any{"slot": 77},
			"value": map[string]any{
				"err":        nil,
				"logs":       []string{"Program log: ok"},
				"returnData": map[string]any{"programId": testOwner, "data": []string{"aGVsbG8=", "base64"}},
			},
		}},
	})
	c := newTestClient(t, srv.URL)
	status, data, err := c.InvokeProgram(context.Background(), InvokeRequest{ProgramID: testOwner, Transaction: unsigned, Simulate: true})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if string(data) != "hello" || status.Status != StatusSimulated || status.Signature != "" {
		t.Fatalf("unexpected simulate result: %+v %q", status, data)
	}
}

func TestInvokeProgramOnChainFailure(t *testing.T) {
	tx, sig := signedTx(5)
	_, srv := newFakeNode(t, map[string]fakeReply{
		"sendTransaction": {result: sig},
		"getSignatureStatuses": {result: map[string]any{"value": []any{map[string]any{
			"slot": 9, "confirmations": nil, "err": map[string]any{"InstructionError": []any{0, "InvalidArgument"}}, "confirmationStatus": "finalized",
		}}}},
	})
	c := newTestClient(t, srv.URL)
	_, _, err := c.InvokeProgram(context.Background(), InvokeRequest{ProgramID: testOwner, Transaction: tx})
	var txErr *TransactionError
	if !errors.As(err, &txErr) || !strings.Contains(txErr.Reason, "InvalidArgument") {
		t.Fatalf("expected on-chain failure, got %v", err)
	}
}

func TestTokenAccountsParsesJSONParsed(t *testing.T) {
	node, srv := newFakeNode(t, map[string]fakeReply{
		"getTokenAccountsByOwner": {result: map[string]any{"value": []any{map[string]any{
			"pubkey": "Vote111111111111111111111111111111111111111",
			"account": map[string]any{"data": map[string]any{"parsed": map[string]any{"info": map[string]any{
				"mint":        "SysvarRent111111111111111111111111111111111",
				"owner":       testOwner,
				"tokenAmount": map[string]any{"amount": "1500", "decimals": 2},
			}}}},
		}}}},
	})
	c := newTestClient(t, srv.URL)
	accounts, err := c.TokenAccounts(context.Background(), TokenFilter{Owner: testOwner})
	if err != nil {
		t.Fatalf("token accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Amount != "1500" || accounts[0].Decimals != 2 {
		t.Fatalf("unexpected accounts: %+v", accounts)
	}
	if got := string(node.paramsFor("getTokenAccountsByOwner")[1]); got != `{"programId":"`+TokenProgramID+`"}` {
		t.Fatalf("expected default program filter, got %s", got)
	}
	if _, err := c.TokenAccounts(context.Background(), TokenFilter{}); err == nil {
		t.Fatal("expected owner to be required")
	}
}

func TestCallTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	c, err := NewRPCClient(srv.URL, Options{Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Version(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClosedClientFailsFast(t *testing.T) {
	node, srv := newFakeNode(t, map[string]fakeReply{"getVersion": {result: map[string]any{}}})
	var observed []string
	c, err := NewRPCClient(srv.URL, Options{Observer: func(method string, _ time.Duration, err error) {
		observed = append(observed, method)
	}})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Version(context.Background()); err != nil {
		t.Fatalf("version: %v", err)
	}
	_ = c.Close()
	_ = c.Close()
	if _, err := c.Version(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if len(node.methods()) != 1 || len(observed) != 1 {
		t.Fatalf("closed client must not call out: node=%v observed=%v", node.methods(), observed)
	}
}

func TestHTTPDialer(t *testing.T) {
	var d Dialer = HTTPDialer{}
	c, err := d.Dial(context.Background(), "https://api.devnet.solana.com")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if c.(*RPCClient).endpoint != "https://api.devnet.solana.com" {
		t.Fatal("unexpected endpoint")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Dial(ctx, "https://api.devnet.solana.com"); err == nil {
		t.Fatal("expected cancelled dial to fail")
	}
}
