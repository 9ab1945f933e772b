// Package dispatch routes decoded requests and notifications to the handler
// registered for their method.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"solana-mcp/go-backend/internal/protocol"
)

// RequestHandler returns a JSON object result. Returning a *protocol.Error
// selects the wire code; any other error becomes INTERNAL_ERROR.
type RequestHandler func(ctx context.Context, params protocol.Params) (any, error)

type NotificationHandler func(ctx context.Context, params protocol.Params) error

// Registry holds two disjoint method tables fixed at construction.
type Registry struct {
	requests      map[string]RequestHandler
	notifications map[string]NotificationHandler
	logger        *slog.Logger
}

func NewRegistry(requests map[string]RequestHandler, notifications map[string]NotificationHandler, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		requests:      make(map[string]RequestHandler, len(requests)),
		notifications: make(map[string]NotificationHandler, len(notifications)),
		logger:        logger,
	}
	for method, h := range requests {
		if method == "" || h == nil {
			return nil, fmt.Errorf("invalid request handler registration for %q", method)
		}
		r.requests[method] = h
	}
	for method, h := range notifications {
		if method == "" || h == nil {
			return nil, fmt.Errorf("invalid notification handler registration for %q", method)
		}
		if _, dup := r.requests[method]; dup {
			return nil, fmt.Errorf("method %q registered as both request and notification", method)
		}
		r.notifications[method] = h
	}
	return r, nil
}

// Methods lists the request methods in sorted order.
func (r *Registry) Methods() []string {
	out := make([]string, 0, len(r.requests))
	for m := range r.requests {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) HasRequest(method string) bool {
	_, ok := r.requests[method]
	return ok
}

func (r *Registry) HasNotification(method string) bool {
	_, ok := r.notifications[method]
	return ok
}

func (r *Registry) DispatchRequest(ctx context.Context, method string, params protocol.Params) (json.RawMessage, *protocol.Error) {
	h, ok := r.requests[method]
	if !ok {
		return nil, protocol.MethodNotFound(method)
	}
	result, err := callRequest(ctx, h, params)
	if err != nil {
		var pe *panicError
		if errors.As(err, &pe) {
			r.logger.Error("request handler panic recovered", "method", method, "panic", fmt.Sprint(pe.value), "stack", string(pe.stack))
		}
		if perr, ok := protocol.AsError(err); ok {
			return nil, perr
		}
		return nil, protocol.Internal(err)
	}
	if result == nil {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, protocol.Internal(fmt.Errorf("encode result: %w", err))
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, protocol.Internal(errors.New("handler result is not an object"))
	}
	return raw, nil
}

// DispatchNotification never reports failure; misses and handler errors are
// logged and dropped.
func (r *Registry) DispatchNotification(ctx context.Context, method string, params protocol.Params) {
	h, ok := r.notifications[method]
	if !ok {
		r.logger.Warn("no handler for notification", "method", method)
		return
	}
	if err := callNotification(ctx, h, params); err != nil {
		r.logger.Error("notification handler failed", "method", method, "error", err.Error())
	}
}

func callRequest(ctx context.Context, h RequestHandler, params protocol.Params) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec, stack: debug.Stack()}
		}
	}()
	return h(ctx, params)
}

func callNotification(ctx context.Context, h NotificationHandler, params protocol.Params) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec, stack: debug.Stack()}
		}
	}()
	return h(ctx, params)
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}
