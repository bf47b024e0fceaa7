package semantictokens

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	lsp "go.lsp.dev/protocol"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
	"github.com/lucacox/go-lspsync/internal/logging"
	"github.com/lucacox/go-lspsync/pkg/capability"
	"github.com/lucacox/go-lspsync/pkg/protocol"
	"github.com/lucacox/go-lspsync/pkg/registration"
)

// Host is the editor side that renders tokens. The returned Disposable
// withdraws the provider again.
type Host interface {
	RegisterSemanticTokensProvider(selector lsp.DocumentSelector, provider *Provider) (registration.Disposable, error)
}

// Refresher is implemented by hosts that can re-request tokens for every
// visible document when the service asks for it
type Refresher interface {
	RefreshSemanticTokens(ctx context.Context)
}

// Config is what the client declares and how it mediates requests
type Config struct {
	Legend Legend
	Delta  bool
	Range  bool

	Middleware Middleware
}

// DefaultConfig declares the predefined legend with delta and range support
func DefaultConfig() Config {
	return Config{
		Legend: DefaultLegend(),
		Delta:  true,
		Range:  true,
	}
}

// Feature negotiates semantic tokens and owns one Provider per active
// registration
type Feature struct {
	capability.BaseFeature
	host   Host
	config Config

	mutex     sync.Mutex
	selector  lsp.DocumentSelector
	providers map[string]*Provider
}

// NewFeature creates the semantic tokens feature
func NewFeature(host Host, config Config, logger *slog.Logger) *Feature {
	return &Feature{
		BaseFeature: capability.NewBaseFeature(Method, logger),
		host:        host,
		config:      config,
		providers:   make(map[string]*Provider),
	}
}

// NewFeatureFactory returns a factory for the feature registry. The
// factory accepts a Host, a Config and a *slog.Logger in any order.
func NewFeatureFactory() capability.FeatureFactory {
	return func(options ...interface{}) (capability.Feature, error) {
		var (
			host   Host
			config = DefaultConfig()
			logger = logging.Discard()
		)
		for _, opt := range options {
			switch o := opt.(type) {
			case Host:
				host = o
			case Config:
				config = o
			case *slog.Logger:
				logger = o
			}
		}
		if host == nil {
			return nil, lserrors.NewError(lserrors.InvalidOptions, "semantic tokens feature needs a host")
		}
		return NewFeature(host, config, logger), nil
	}
}

// FillClientCapabilities declares the token legend and request kinds
func (f *Feature) FillClientCapabilities(caps *lsp.ClientCapabilities) {
	var full interface{} = true
	if f.config.Delta {
		full = map[string]bool{"delta": true}
	}

	capability.TextDocument(caps).SemanticTokens = &lsp.SemanticTokensClientCapabilities{
		DynamicRegistration: true,
		Requests: lsp.SemanticTokensWorkspaceClientCapabilitiesRequests{
			Range: f.config.Range,
			Full:  full,
		},
		TokenTypes:     f.config.Legend.TokenTypes,
		TokenModifiers: f.config.Legend.TokenModifiers,
		Formats:        []lsp.TokenFormat{lsp.TokenFormatRelative},
	}
	capability.Workspace(caps).SemanticTokens = &lsp.SemanticTokensWorkspaceClientCapabilities{
		RefreshSupport: true,
	}
}

// Initialize serves refresh requests and activates the static registration
// when the service advertises semanticTokensProvider
func (f *Feature) Initialize(session *protocol.Session, server *capability.ServerCapabilities, selector lsp.DocumentSelector) error {
	f.mutex.Lock()
	f.selector = selector
	f.mutex.Unlock()

	session.Router.Handle(lsp.MethodSemanticTokensRefresh, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		f.refresh(ctx)
		return nil, nil
	})

	opts, present, err := ReadOptions(server, f.defaults())
	if err != nil {
		return err
	}
	if !present {
		logging.Debug(f.Logger(), "semantic tokens not advertised")
		return nil
	}

	reg := capability.StaticRegistration(Method, opts.StaticOptions, selector, opts)
	return f.activate(session, reg, opts)
}

// Register activates a dynamic registration
func (f *Feature) Register(session *protocol.Session, id string, raw json.RawMessage) error {
	opts, err := ParseOptions(raw, f.defaults())
	if err != nil {
		return err
	}

	f.mutex.Lock()
	selector := f.selector
	f.mutex.Unlock()
	if len(opts.DocumentSelector) > 0 {
		selector = opts.DocumentSelector
	}

	reg := registration.Registration{
		ID:               id,
		Method:           Method,
		DocumentSelector: selector,
		Options:          opts,
	}
	return f.activate(session, reg, opts)
}

// Shutdown stops serving refresh requests. Providers go away with their
// registrations.
func (f *Feature) Shutdown(session *protocol.Session) {
	session.Router.Remove(lsp.MethodSemanticTokensRefresh)
}

// Provider returns the provider of the registration with the given id
func (f *Feature) Provider(id string) (*Provider, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	p, ok := f.providers[id]
	return p, ok
}

// ProviderFor returns the provider governing doc
func (f *Feature) ProviderFor(session *protocol.Session, doc registration.DocumentInfo) (*Provider, bool) {
	entry, ok := session.Store.ForDocument(Method, doc)
	if !ok {
		return nil, false
	}
	return f.Provider(entry.ID)
}

func (f *Feature) defaults() Options {
	return DefaultOptions(f.config.Legend)
}

func (f *Feature) activate(session *protocol.Session, reg registration.Registration, opts Options) error {
	if !f.config.Delta {
		opts.Delta = false
	}
	if !f.config.Range {
		opts.Range = false
	}

	_, err := f.Activate(session, reg, func(entry *registration.Entry) error {
		provider := NewProvider(entry, opts, session.Dispatcher, f.config.Middleware, f.Logger())

		d, err := f.host.RegisterSemanticTokensProvider(entry.DocumentSelector, provider)
		if err != nil {
			return err
		}
		entry.Track(d)

		f.mutex.Lock()
		f.providers[entry.ID] = provider
		f.mutex.Unlock()
		entry.Track(registration.DisposableFunc(func() {
			f.mutex.Lock()
			delete(f.providers, entry.ID)
			f.mutex.Unlock()
		}))
		return nil
	})
	return err
}

func (f *Feature) refresh(ctx context.Context) {
	r, ok := f.host.(Refresher)
	if !ok {
		return
	}
	logging.Debug(f.Logger(), "service requested semantic tokens refresh")
	r.RefreshSemanticTokens(ctx)
}
