package semantictokens

import (
	"context"
	"log/slog"
	"sync"

	lsp "go.lsp.dev/protocol"

	"github.com/lucacox/go-lspsync/internal/logging"
	"github.com/lucacox/go-lspsync/pkg/protocol"
)

type cached struct {
	provider string
	full     *Full
}

type inflight struct {
	token  uint64
	cancel context.CancelFunc
}

// Cache keeps the last full result of each document and turns refreshes
// into delta requests when it can. A refresh for a document cancels the
// refresh already running for it, so the latest request wins.
type Cache struct {
	mutex    sync.Mutex
	entries  map[lsp.DocumentURI]cached
	inflight map[lsp.DocumentURI]inflight
	next     uint64
	logger   *slog.Logger
}

// NewCache creates an empty cache
func NewCache(logger *slog.Logger) *Cache {
	return &Cache{
		entries:  make(map[lsp.DocumentURI]cached),
		inflight: make(map[lsp.DocumentURI]inflight),
		logger:   logger,
	}
}

// Get returns the cached result for doc
func (c *Cache) Get(doc lsp.DocumentURI) (*Full, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	e, ok := c.entries[doc]
	return e.full, ok
}

// Forget drops doc and cancels its pending refresh
func (c *Cache) Forget(doc lsp.DocumentURI) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, doc)
	if f, ok := c.inflight[doc]; ok {
		f.cancel()
		delete(c.inflight, doc)
	}
}

// Clear drops every cached result. Used when the service asks for a refresh.
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = make(map[lsp.DocumentURI]cached)
}

// Refresh brings the tokens of doc up to date through p.
//
// With a prior result from the same provider and delta support, a delta is
// requested and applied; otherwise a full result is requested. Only the
// final full result is stored. If a newer Refresh for doc starts meanwhile,
// this one is cancelled and stores nothing.
func (c *Cache) Refresh(ctx context.Context, p *Provider, doc lsp.TextDocumentIdentifier) (*Full, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mutex.Lock()
	if older, ok := c.inflight[doc.URI]; ok {
		older.cancel()
	}
	c.next++
	token := c.next
	c.inflight[doc.URI] = inflight{token: token, cancel: cancel}
	prior, hasPrior := c.entries[doc.URI]
	c.mutex.Unlock()

	defer func() {
		c.mutex.Lock()
		if f, ok := c.inflight[doc.URI]; ok && f.token == token {
			delete(c.inflight, doc.URI)
		}
		c.mutex.Unlock()
	}()

	full, err := c.fetch(ctx, p, doc, prior, hasPrior, token)
	if err != nil {
		return nil, err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if f, ok := c.inflight[doc.URI]; !ok || f.token != token {
		// superseded after the response arrived
		return nil, protocol.Cancelled(protocol.Request{Kind: KindFull, Method: lsp.MethodSemanticTokensFull, RegistrationID: p.ID()})
	}
	c.entries[doc.URI] = cached{provider: p.ID(), full: full}
	return full, nil
}

func (c *Cache) fetch(ctx context.Context, p *Provider, doc lsp.TextDocumentIdentifier, prior cached, hasPrior bool, token uint64) (*Full, error) {
	useDelta := hasPrior && prior.provider == p.ID() && prior.full.ResultID != "" && p.SupportsDelta()
	if !useDelta {
		return p.RequestFull(ctx, doc)
	}

	result, err := p.RequestDelta(ctx, doc, prior.full.ResultID)
	if err != nil {
		return nil, err
	}
	if !result.IsDelta() {
		logging.Debug(c.logger, "delta request answered with full result", "uri", doc.URI, "registration", p.ID())
		return result.Full, nil
	}

	data, err := ApplyEdits(prior.full.Data, result.Delta.Edits)
	if err != nil {
		c.mutex.Lock()
		// a superseded refresh leaves the entry to the newer one
		if f, ok := c.inflight[doc.URI]; ok && f.token == token {
			delete(c.entries, doc.URI)
			logging.Warn(c.logger, "dropping cached tokens after bad delta", "uri", doc.URI, "error", err)
		}
		c.mutex.Unlock()
		return nil, err
	}
	return &Full{ResultID: result.Delta.ResultID, Data: data}, nil
}
