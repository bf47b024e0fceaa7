// Package protocol provides the JSON-RPC plumbing between the adapter and a language service
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"go.lsp.dev/jsonrpc2"
	lsp "go.lsp.dev/protocol"

	"github.com/lucacox/go-lspsync/internal/logging"
)

// RPCClient is an interface for sending RPC requests
type RPCClient interface {
	// Call sends an RPC request and waits for a response
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)

	// Notify sends an RPC notification (without waiting for a response)
	Notify(ctx context.Context, method string, params interface{}) error
}

// Conn is a JSON-RPC connection over a header framed stream.
// Incoming requests and notifications are served by its Router.
type Conn struct {
	conn   jsonrpc2.Conn
	router *Router
	logger *slog.Logger
}

// NewConn creates a connection on rwc. Nothing is read until Start is called.
func NewConn(rwc io.ReadWriteCloser, router *Router, logger *slog.Logger) *Conn {
	if router == nil {
		router = NewRouter(logger)
	}
	return &Conn{
		conn:   jsonrpc2.NewConn(jsonrpc2.NewStream(rwc)),
		router: router,
		logger: logger,
	}
}

// Start begins serving incoming messages. Requests cancelled by the peer
// through $/cancelRequest have their context cancelled.
func (c *Conn) Start(ctx context.Context) {
	c.conn.Go(ctx, Handlers(c.router.Handler()))
}

// Router returns the router serving peer initiated traffic
func (c *Conn) Router() *Router {
	return c.router
}

// Call sends a request and returns the raw result. When ctx is cancelled
// before the response arrives $/cancelRequest is sent to the peer and the
// context error is returned.
func (c *Conn) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	var result json.RawMessage
	logging.Trace(c.logger, "call", "method", method)
	if err := lsp.Call(ctx, c.conn, method, params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Notify sends a notification
func (c *Conn) Notify(ctx context.Context, method string, params interface{}) error {
	logging.Trace(c.logger, "notify", "method", method)
	if err := c.conn.Notify(ctx, method, params); err != nil {
		return fmt.Errorf("error sending notification %s: %w", method, err)
	}
	return nil
}

// Close closes the underlying stream
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Done is closed when the connection stops reading
func (c *Conn) Done() <-chan struct{} {
	return c.conn.Done()
}

// Err returns the error that stopped the connection, if any
func (c *Conn) Err() error {
	return c.conn.Err()
}

// NewRPCError builds a JSON-RPC error reply
func NewRPCError(code jsonrpc2.Code, format string, args ...interface{}) *jsonrpc2.Error {
	return jsonrpc2.Errorf(code, format, args...)
}
