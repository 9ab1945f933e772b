// Package transport frames protocol messages as newline-delimited lines over
// a byte stream (stdio or a socket connection) and feeds them to a Handler
// one at a time.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"solana-mcp/go-backend/internal/protocol"
)

const DefaultMaxLineBytes = 1 << 20

// Handler answers one line. respond is false for notifications. Done is
// closed once the handler will accept no further work.
type Handler interface {
	HandleLine(ctx context.Context, line []byte) (out []byte, respond bool)
	Done() <-chan struct{}
}

type Options struct {
	MaxLineBytes int
	Logger       *slog.Logger
}

func (o Options) maxLine() int {
	if o.MaxLineBytes <= 0 {
		return DefaultMaxLineBytes
	}
	return o.MaxLineBytes
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

type readResult struct {
	line     []byte
	oversize bool
	err      error
}

// Serve runs the loop until EOF, until h reports Done, or until ctx is
// cancelled. The next line is not read before the previous response has been
// written. Only read and write failures are returned.
func Serve(ctx context.Context, h Handler, r io.Reader, w io.Writer, opts Options) error {
	logger := opts.logger()
	maxLine := opts.maxLine()
	br := bufio.NewReaderSize(r, 64*1024)
	bw := bufio.NewWriter(w)

	next := make(chan struct{})
	results := make(chan readResult)
	quit := make(chan struct{})
	defer close(quit)

	go func() {
		for {
			select {
			case <-next:
			case <-quit:
				return
			}
			line, oversize, err := readLine(br, maxLine)
			select {
			case results <- readResult{line: line, oversize: oversize, err: err}:
			case <-quit:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case next <- struct{}{}:
		case <-ctx.Done():
			return nil
		case <-h.Done():
			return nil
		}

		var res readResult
		select {
		case res = <-results:
		case <-ctx.Done():
			return nil
		case <-h.Done():
			return nil
		}
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				logger.Info("input stream closed")
				return nil
			}
			return fmt.Errorf("read line: %w", res.err)
		}

		out, respond := answer(ctx, h, res, maxLine, logger)
		if respond {
			if err := writeLine(bw, out); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}

		select {
		case <-h.Done():
			return nil
		default:
		}
	}
}

func answer(ctx context.Context, h Handler, res readResult, maxLine int, logger *slog.Logger) ([]byte, bool) {
	if !res.oversize {
		return h.HandleLine(ctx, res.line)
	}
	logger.Warn("discarded oversize line", "max_line_bytes", maxLine)
	out, err := protocol.NewErrorResponse(nil, protocol.InvalidRequest(fmt.Sprintf("line exceeds %d bytes", maxLine))).Encode()
	if err != nil {
		logger.Error("encode oversize response", "error", err.Error())
		return nil, false
	}
	return out, true
}

func writeLine(bw *bufio.Writer, out []byte) error {
	if _, err := bw.Write(out); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	return bw.Flush()
}

// readLine returns the next line without its terminator. A line longer than
// maxLine is consumed to its end and reported as oversize. A final line
// without a newline is returned with a nil error; the following call
// reports io.EOF.
func readLine(br *bufio.Reader, maxLine int) ([]byte, bool, error) {
	var (
		buf      []byte
		oversize bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if !oversize {
			if len(buf)+len(chunk) > maxLine+2 {
				oversize = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case err == nil:
			return finishLine(buf, oversize, maxLine)
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && (len(buf) > 0 || oversize):
			return finishLine(buf, oversize, maxLine)
		default:
			return nil, false, err
		}
	}
}

func finishLine(buf []byte, oversize bool, maxLine int) ([]byte, bool, error) {
	if oversize {
		return nil, true, nil
	}
	buf = bytes.TrimSuffix(buf, []byte("\n"))
	buf = bytes.TrimSuffix(buf, []byte("\r"))
	if len(buf) > maxLine {
		return nil, true, nil
	}
	return buf, false, nil
}
