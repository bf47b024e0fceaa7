package semantictokens

import (
	"context"
	"log/slog"

	lsp "go.lsp.dev/protocol"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
	"github.com/lucacox/go-lspsync/pkg/protocol"
	"github.com/lucacox/go-lspsync/pkg/registration"
)

// Provider issues semantic token requests for one registration
type Provider struct {
	entry      *registration.Entry
	options    Options
	dispatcher *protocol.Dispatcher
	middleware Middleware
	logger     *slog.Logger
}

// NewProvider creates a provider bound to entry
func NewProvider(entry *registration.Entry, options Options, dispatcher *protocol.Dispatcher, middleware Middleware, logger *slog.Logger) *Provider {
	return &Provider{
		entry:      entry,
		options:    options,
		dispatcher: dispatcher,
		middleware: middleware,
		logger:     logger,
	}
}

// ID returns the registration id
func (p *Provider) ID() string {
	return p.entry.ID
}

// Legend returns the legend the token arrays of this provider use
func (p *Provider) Legend() Legend {
	return p.options.Legend
}

// DocumentSelector returns the documents the provider serves
func (p *Provider) DocumentSelector() lsp.DocumentSelector {
	return p.entry.DocumentSelector
}

// SupportsFull reports whether full document requests are allowed
func (p *Provider) SupportsFull() bool {
	return p.options.Full
}

// SupportsDelta reports whether delta requests are allowed
func (p *Provider) SupportsDelta() bool {
	return p.options.Full && p.options.Delta
}

// SupportsRange reports whether range requests are allowed
func (p *Provider) SupportsRange() bool {
	return p.options.Range
}

func (p *Provider) request(kind, method string) protocol.Request {
	return protocol.Request{Kind: kind, Method: method, RegistrationID: p.entry.ID}
}

func (p *Provider) unsupported(kind string) error {
	return lserrors.NewErrorf(lserrors.CapabilityNotSupported, "%s semantic tokens not supported", kind).
		WithDetails(p.entry.ID)
}

// RequestFull asks for the tokens of the whole document
func (p *Provider) RequestFull(ctx context.Context, doc lsp.TextDocumentIdentifier) (*Full, error) {
	if err := p.entry.Check(); err != nil {
		return nil, err
	}
	if !p.SupportsFull() {
		return nil, p.unsupported(KindFull)
	}

	req := p.request(KindFull, lsp.MethodSemanticTokensFull)
	var next FullNext = func(ctx context.Context, params *lsp.SemanticTokensParams) (*Full, error) {
		raw, err := p.dispatcher.Raw(req.Method)(ctx, params)
		if err != nil {
			return nil, err
		}
		result, err := DecodeResult(raw)
		if err != nil {
			return nil, err
		}
		if result.IsDelta() {
			return nil, lserrors.NewError(lserrors.ProtocolShapeError, "full request answered with edits").WithDetails(p.entry.ID)
		}
		return result.Full, nil
	}

	params := &lsp.SemanticTokensParams{TextDocument: doc}
	return protocol.Dispatch(ctx, p.dispatcher, req, params, next, fullInterceptor(p.middleware))
}

// RequestDelta asks for the changes since the result named priorResultID.
// The service may answer with a full result instead.
func (p *Provider) RequestDelta(ctx context.Context, doc lsp.TextDocumentIdentifier, priorResultID string) (Result, error) {
	if err := p.entry.Check(); err != nil {
		return Result{}, err
	}
	if !p.SupportsDelta() {
		return Result{}, p.unsupported(KindDelta)
	}
	if priorResultID == "" {
		return Result{}, lserrors.NewError(lserrors.InvalidOptions, "delta request needs a prior result id").WithDetails(p.entry.ID)
	}

	req := p.request(KindDelta, lsp.MethodSemanticTokensFullDelta)
	var next DeltaNext = func(ctx context.Context, params *lsp.SemanticTokensDeltaParams) (Result, error) {
		raw, err := p.dispatcher.Raw(req.Method)(ctx, params)
		if err != nil {
			return Result{}, err
		}
		return DecodeResult(raw)
	}

	params := &lsp.SemanticTokensDeltaParams{TextDocument: doc, PreviousResultID: priorResultID}
	return protocol.Dispatch(ctx, p.dispatcher, req, params, next, deltaInterceptor(p.middleware))
}

// RequestRange asks for the tokens of rng. Range results never carry a
// result id.
func (p *Provider) RequestRange(ctx context.Context, doc lsp.TextDocumentIdentifier, rng lsp.Range) (*Full, error) {
	if err := p.entry.Check(); err != nil {
		return nil, err
	}
	if !p.SupportsRange() {
		return nil, p.unsupported(KindRange)
	}

	req := p.request(KindRange, lsp.MethodSemanticTokensRange)
	var next RangeNext = func(ctx context.Context, params *lsp.SemanticTokensRangeParams) (*Full, error) {
		raw, err := p.dispatcher.Raw(req.Method)(ctx, params)
		if err != nil {
			return nil, err
		}
		result, err := DecodeResult(raw)
		if err != nil {
			return nil, err
		}
		if result.IsDelta() {
			return nil, lserrors.NewError(lserrors.ProtocolShapeError, "range request answered with edits").WithDetails(p.entry.ID)
		}
		return result.Full, nil
	}

	params := &lsp.SemanticTokensRangeParams{TextDocument: doc, Range: rng}
	full, err := protocol.Dispatch(ctx, p.dispatcher, req, params, next, rangeInterceptor(p.middleware))
	if err != nil || full == nil {
		return full, err
	}
	return &Full{Data: full.Data}, nil
}
