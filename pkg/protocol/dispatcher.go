package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
	"github.com/lucacox/go-lspsync/internal/logging"
)

// Request identifies a mediated request for logging and cancellation reporting
type Request struct {
	// Kind is the request kind a middleware hooks, e.g. "full" or "delta"
	Kind string
	// Method is the wire method
	Method string
	// RegistrationID is the registration the request was issued against
	RegistrationID string
}

// Next performs a request of type P yielding R. The bare Next of a
// dispatch sends the request on the wire.
type Next[P, R any] func(ctx context.Context, params P) (R, error)

// Interceptor decorates a request. It may call next, transform its
// result, short-circuit, or perform the request on its own.
type Interceptor[P, R any] func(ctx context.Context, params P, next Next[P, R]) (R, error)

// Dispatcher sends mediated requests over an RPCClient
type Dispatcher struct {
	client    RPCClient
	sessionID string
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher sending through client
func NewDispatcher(client RPCClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger,
	}
}

// Raw returns the bare continuation for method
func (d *Dispatcher) Raw(method string) Next[interface{}, json.RawMessage] {
	return func(ctx context.Context, params interface{}) (json.RawMessage, error) {
		return d.client.Call(ctx, method, params)
	}
}

// Notify sends a notification without mediation
func (d *Dispatcher) Notify(ctx context.Context, method string, params interface{}) error {
	return d.client.Notify(ctx, method, params)
}

// Cancelled builds the cancellation outcome of req
func Cancelled(req Request) error {
	return lserrors.NewErrorf(lserrors.Cancelled, "%s cancelled", req.Method).
		WithDetails(req.RegistrationID)
}

// Dispatch runs req through intercept, or straight through next when no
// interceptor is configured.
//
// Once ctx is done the outcome is a Cancelled error, even when a result
// arrived meanwhile. Transport failures are logged with the request kind,
// method and registration, then returned unchanged. Nothing is retried.
func Dispatch[P, R any](ctx context.Context, d *Dispatcher, req Request, params P, next Next[P, R], intercept Interceptor[P, R]) (R, error) {
	var zero R

	attrs := []any{"kind", req.Kind, "method", req.Method, "registration", req.RegistrationID}
	if d.sessionID != "" {
		ctx = WithSessionID(ctx, d.sessionID)
		attrs = append(attrs, "session", d.sessionID)
	}

	if ctx.Err() != nil {
		logging.Debug(d.logger, "request cancelled before send", attrs...)
		return zero, Cancelled(req)
	}

	var (
		result R
		err    error
	)
	if intercept != nil {
		result, err = intercept(ctx, params, next)
	} else {
		result, err = next(ctx, params)
	}

	if ctx.Err() != nil || errors.Is(err, lserrors.ErrCancelled) {
		logging.Debug(d.logger, "request cancelled", attrs...)
		return zero, Cancelled(req)
	}
	if err != nil {
		logging.Error(d.logger, "request failed", append(attrs, "error", err)...)
		return zero, err
	}
	return result, nil
}
