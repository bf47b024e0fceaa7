package protocol

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
	"go.lsp.dev/jsonrpc2"
	lsp "go.lsp.dev/protocol"
)

// Handlers wraps handler the way language services expect: requests are
// served one at a time in their own goroutine, every request is replied to
// exactly once and $/cancelRequest cancels the context of the named request.
func Handlers(handler jsonrpc2.Handler) jsonrpc2.Handler {
	return CancelHandler(jsonrpc2.AsyncHandler(jsonrpc2.ReplyHandler(handler)))
}

// CancelHandler serves $/cancelRequest for handler. Numeric ids arrive as
// JSON numbers of any width, so the id is read from the raw params.
// A request whose context was cancelled is answered with RequestCancelled
// unless the handler reported an error of its own.
func CancelHandler(handler jsonrpc2.Handler) jsonrpc2.Handler {
	inner, canceller := jsonrpc2.CancelHandler(handler)

	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		if req.Method() != lsp.MethodCancelRequest {
			detached := func(ctx context.Context, result interface{}, err error) error {
				if ctx.Err() != nil && err == nil {
					err = lsp.ErrRequestCancelled
				}
				return reply(context.WithoutCancel(ctx), result, err)
			}
			return inner(ctx, detached, req)
		}

		id := gjson.GetBytes(req.Params(), "id")
		switch id.Type {
		case gjson.Number:
			canceller(jsonrpc2.NewNumberID(int32(id.Int())))
		case gjson.String:
			canceller(jsonrpc2.NewStringID(id.Str))
		default:
			return reply(ctx, nil, fmt.Errorf("%w: request id %s malformed", jsonrpc2.ErrParse, id.Raw))
		}
		return reply(ctx, nil, nil)
	}
}
