package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	manet "github.com/multiformats/go-multiaddr/net"
)

type scriptedHandler struct {
	mu    sync.Mutex
	lines []string
	done  chan struct{}
	once  sync.Once
}

func newScriptedHandler() *scriptedHandler {
	return &scriptedHandler{done: make(chan struct{})}
}

func (h *scriptedHandler) HandleLine(_ context.Context, line []byte) ([]byte, bool) {
	h.mu.Lock()
	h.lines = append(h.lines, string(line))
	h.mu.Unlock()
	switch {
	case string(line) == "quit":
		h.once.Do(func() { close(h.done) })
		return []byte(`{"bye":true}`), true
	case strings.HasPrefix(string(line), "note"):
		return nil, false
	}
	return []byte(`{"echo":` + strconv.Quote(string(line)) + `}`), true
}

func (h *scriptedHandler) Done() <-chan struct{} {
	return h.done
}

func (h *scriptedHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}

func TestServeAnswersRequestsOnly(t *testing.T) {
	h := newScriptedHandler()
	var out bytes.Buffer
	if err := Serve(context.Background(), h, strings.NewReader("a\nnote: hi\n\r\nb"), &out, Options{}); err != nil {
		t.Fatalf("serve: %v", err)
	}
	want := `{"echo":"a"}` + "\n" + `{"echo":""}` + "\n" + `{"echo":"b"}` + "\n"
	if out.String() != want {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
	if got := h.seen(); len(got) != 4 || got[3] != "b" {
		t.Fatalf("final unterminated line should be handled: %q", got)
	}
}

func TestServeRejectsOversizeLines(t *testing.T) {
	h := newScriptedHandler()
	var out bytes.Buffer
	input := "short\n" + strings.Repeat("x", 100) + "\n12345678\n"
	if err := Serve(context.Background(), h, strings.NewReader(input), &out, Options{MaxLineBytes: 8}); err != nil {
		t.Fatalf("serve: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 responses, got %d: %q", len(lines), lines)
	}
	if lines[1] != `{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"Invalid request: line exceeds 8 bytes"}}` {
		t.Fatalf("unexpected oversize response: %s", lines[1])
	}
	if lines[2] != `{"echo":"12345678"}` {
		t.Fatalf("line at the limit should be accepted: %s", lines[2])
	}
	for _, seen := range h.seen() {
		if strings.HasPrefix(seen, "xxx") {
			t.Fatal("oversize line must not reach the handler")
		}
	}
}

func TestServeAcceptsLinesLargerThanReadBuffer(t *testing.T) {
	h := newScriptedHandler()
	big := strings.Repeat("y", 200_000)
	if err := Serve(context.Background(), h, strings.NewReader(big+"\n"), io.Discard, Options{}); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if got := h.seen(); len(got) != 1 || got[0] != big {
		t.Fatalf("expected the full line to be delivered once, got %d lines", len(got))
	}
}

func TestServeStopsWhenHandlerIsDone(t *testing.T) {
	h := newScriptedHandler()
	var out bytes.Buffer
	if err := Serve(context.Background(), h, strings.NewReader("a\nquit\nb\n"), &out, Options{}); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if !strings.HasSuffix(out.String(), `{"bye":true}`+"\n") {
		t.Fatalf("shutdown response must be flushed: %s", out.String())
	}
	if got := h.seen(); len(got) != 2 {
		t.Fatalf("lines after done must not be read: %q", got)
	}
}

func TestServeReturnsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, newScriptedHandler(), pr, io.Discard, Options{}) }()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestServeReportsWriteFailure(t *testing.T) {
	err := Serve(context.Background(), newScriptedHandler(), strings.NewReader("a\n"), failingWriter{}, Options{})
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("expected write failure, got %v", err)
	}
}

func TestListenRejectsBadAddress(t *testing.T) {
	if _, err := Listen("127.0.0.1:8080"); err == nil {
		t.Fatal("expected non-multiaddr to be rejected")
	}
}

func TestSocketConnectionsShareHandler(t *testing.T) {
	ln, err := Listen("/ip4/127.0.0.1/tcp/0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	h := newScriptedHandler()
	errCh := make(chan error, 1)
	go func() { errCh <- ServeListener(context.Background(), ln, h, Options{}) }()

	idle, err := manet.Dial(ln.Multiaddr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer idle.Close()
	idleReader := bufio.NewReader(idle)
	if _, err := idle.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := idleReader.ReadString('\n')
	if err != nil || line != `{"echo":"ping"}`+"\n" {
		t.Fatalf("unexpected reply %q: %v", line, err)
	}

	closer, err := manet.Dial(ln.Multiaddr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer closer.Close()
	if _, err := closer.Write([]byte("quit\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err = bufio.NewReader(closer).ReadString('\n')
	if err != nil || line != `{"bye":true}`+"\n" {
		t.Fatalf("unexpected shutdown reply %q: %v", line, err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("serve listener: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop after done")
	}
	if _, err := idleReader.ReadString('\n'); err == nil {
		t.Fatal("idle connection should be closed")
	}
}
