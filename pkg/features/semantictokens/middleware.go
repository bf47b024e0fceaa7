package semantictokens

import (
	"context"

	lsp "go.lsp.dev/protocol"

	"github.com/lucacox/go-lspsync/pkg/protocol"
)

// Continuations handed to middleware. Calling one sends the request.
type (
	FullNext  = protocol.Next[*lsp.SemanticTokensParams, *Full]
	DeltaNext = protocol.Next[*lsp.SemanticTokensDeltaParams, Result]
	RangeNext = protocol.Next[*lsp.SemanticTokensRangeParams, *Full]
)

// FullMiddleware intercepts full document requests
type FullMiddleware interface {
	ProvideDocumentSemanticTokens(ctx context.Context, params *lsp.SemanticTokensParams, next FullNext) (*Full, error)
}

// DeltaMiddleware intercepts delta requests
type DeltaMiddleware interface {
	ProvideDocumentSemanticTokensEdits(ctx context.Context, params *lsp.SemanticTokensDeltaParams, next DeltaNext) (Result, error)
}

// RangeMiddleware intercepts range requests
type RangeMiddleware interface {
	ProvideDocumentRangeSemanticTokens(ctx context.Context, params *lsp.SemanticTokensRangeParams, next RangeNext) (*Full, error)
}

// Middleware is any value implementing some of FullMiddleware,
// DeltaMiddleware and RangeMiddleware. Kinds it does not implement go
// straight to the wire.
type Middleware interface{}

func fullInterceptor(m Middleware) protocol.Interceptor[*lsp.SemanticTokensParams, *Full] {
	if mw, ok := m.(FullMiddleware); ok {
		return mw.ProvideDocumentSemanticTokens
	}
	return nil
}

func deltaInterceptor(m Middleware) protocol.Interceptor[*lsp.SemanticTokensDeltaParams, Result] {
	if mw, ok := m.(DeltaMiddleware); ok {
		return mw.ProvideDocumentSemanticTokensEdits
	}
	return nil
}

func rangeInterceptor(m Middleware) protocol.Interceptor[*lsp.SemanticTokensRangeParams, *Full] {
	if mw, ok := m.(RangeMiddleware); ok {
		return mw.ProvideDocumentRangeSemanticTokens
	}
	return nil
}
