package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// Listen opens a stream listener on a multiaddr such as
// /ip4/127.0.0.1/tcp/8080 or /unix/tmp/solana-mcp.sock.
func Listen(listenAddr string) (manet.Listener, error) {
	addr, err := ma.NewMultiaddr(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("parse listen address %q: %w", listenAddr, err)
	}
	ln, err := manet.Listen(addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

func ListenAndServe(ctx context.Context, listenAddr string, h Handler, opts Options) error {
	ln, err := Listen(listenAddr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, h, opts)
}

// ServeListener runs one Serve loop per accepted connection, all sharing h.
// It returns once ctx is cancelled or h reports Done, after every connection
// loop has finished. Idle connections end on Done; the connection that
// triggered it ends after its response is written. ln is closed on return.
func ServeListener(ctx context.Context, ln manet.Listener, h Handler, opts Options) error {
	logger := opts.logger().With("component", "transport", "listen_addr", ln.Multiaddr().String())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var closeOnce sync.Once
	closeListener := func() { closeOnce.Do(func() { _ = ln.Close() }) }
	defer closeListener()

	go func() {
		select {
		case <-ctx.Done():
		case <-h.Done():
		}
		closeListener()
	}()

	logger.Info("socket transport listening")
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || isDone(h) || errors.Is(err, net.ErrClosed) {
				logger.Info("socket transport stopped")
				return nil
			}
			cancel()
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func(conn manet.Conn) {
			defer wg.Done()
			serveConn(ctx, conn, h, opts)
		}(conn)
	}
}

func serveConn(ctx context.Context, conn manet.Conn, h Handler, opts Options) {
	logger := opts.logger().With("component", "transport", "remote_addr", conn.RemoteMultiaddr().String())
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	logger.Info("connection opened")
	if err := Serve(connCtx, h, conn, conn, opts); err != nil && connCtx.Err() == nil {
		logger.Warn("connection failed", "error", err.Error())
	}
	logger.Info("connection closed")
}

func isDone(h Handler) bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}
