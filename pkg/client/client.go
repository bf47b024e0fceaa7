// Package client connects the adapter to a language service and wires the
// negotiated features to the session
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.lsp.dev/jsonrpc2"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
	"github.com/lucacox/go-lspsync/internal/logging"
	"github.com/lucacox/go-lspsync/pkg/capability"
	"github.com/lucacox/go-lspsync/pkg/config"
	"github.com/lucacox/go-lspsync/pkg/features/resourcechange"
	"github.com/lucacox/go-lspsync/pkg/features/semantictokens"
	"github.com/lucacox/go-lspsync/pkg/protocol"
	"github.com/lucacox/go-lspsync/pkg/registration"
)

// Client drives one session with a language service
type Client struct {
	// Client ID
	ID string

	// Info is sent as clientInfo in initialize
	Info lsp.ClientInfo

	// Transport used for communication
	transport protocol.Transport

	// Transport registry used for creating transports
	transportRegistry *protocol.TransportRegistry

	config   config.Config
	rootURI  lsp.DocumentURI
	selector lsp.DocumentSelector

	conn    *protocol.Conn
	router  *protocol.Router
	session *protocol.Session

	// Registry of negotiated features
	featureRegistry *capability.FeatureRegistry

	host       semantictokens.Host
	middleware semantictokens.Middleware
	consumer   resourcechange.Consumer
	cache      *semantictokens.Cache

	mutex sync.Mutex
	open  map[lsp.DocumentURI]registration.DocumentInfo

	// Logger
	loggerFactory *logging.LoggerFactory
	logger        *slog.Logger
}

// NewClient creates a client talking over an existing transport
func NewClient(transport protocol.Transport, options ...ClientOption) *Client {
	client := &Client{
		ID:                uuid.New().String(),
		Info:              lsp.ClientInfo{Name: "lspsync"},
		transport:         transport,
		transportRegistry: protocol.DefaultTransportRegistry,
		config:            config.Default(),
		selector:          lsp.DocumentSelector{{Scheme: uri.FileScheme}},
		featureRegistry:   capability.NewFeatureRegistry(),
		open:              make(map[lsp.DocumentURI]registration.DocumentInfo),
	}

	client.featureRegistry.RegisterFactory(semantictokens.Method, semantictokens.NewFeatureFactory())
	client.featureRegistry.RegisterFactory(lsp.MethodWorkspaceDidChangeWatchedFiles, resourcechange.NewFeatureFactory())

	// Apply options
	for _, option := range options {
		option(client)
	}

	if client.loggerFactory == nil {
		client.loggerFactory = logging.NewLoggerFactory()
		if level, err := logging.ParseLevel(client.config.Log.Level); err == nil {
			client.loggerFactory.SetLevel(level)
		}
	}
	client.logger = client.loggerFactory.CreateLogger("lsp-client")
	client.cache = semantictokens.NewCache(client.loggerFactory.CreateLogger("semantic-tokens"))
	if client.host == nil {
		client.host = client
	}

	client.addFeatures()
	return client
}

// NewClientWithTransport creates a client whose transport is built from
// the server section of the configuration
func NewClientWithTransport(ctx context.Context, options ...ClientOption) (*Client, error) {
	client := NewClient(nil, options...)

	server := client.config.Server
	transportOptions := protocol.TransportOptions{
		Command: server.Command,
		Args:    server.Args,
		Env:     server.Env,
		Dir:     client.rootPath(),
	}
	transport, err := client.transportRegistry.Create(ctx, server.Transport, transportOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	client.transport = transport
	return client, nil
}

func (c *Client) addFeatures() {
	if c.config.SemanticTokens.Enabled {
		stConfig := semantictokens.Config{
			Legend:     semantictokens.DefaultLegend(),
			Delta:      c.config.SemanticTokens.Delta,
			Range:      c.config.SemanticTokens.Range,
			Middleware: c.middleware,
		}
		if len(c.config.SemanticTokens.TokenTypes) > 0 {
			stConfig.Legend = semantictokens.Legend{
				TokenTypes:     c.config.SemanticTokens.TokenTypes,
				TokenModifiers: c.config.SemanticTokens.TokenModifiers,
			}
		}
		c.addFeature(semantictokens.Method, c.host, stConfig, c.loggerFactory.CreateLogger("semantic-tokens"))
	}

	if c.config.ResourceChanges.Enabled {
		rcConfig := resourcechange.Config{
			Root:         c.rootPath(),
			Debounce:     c.config.ResourceChanges.Debounce.Duration,
			IgnoreHidden: c.config.ResourceChanges.IgnoreHidden,
			Consumer:     c.consumer,
		}
		c.addFeature(lsp.MethodWorkspaceDidChangeWatchedFiles, rcConfig, c.loggerFactory.CreateLogger("resource-changes"))
	}
}

func (c *Client) addFeature(method string, options ...interface{}) {
	feature, err := c.featureRegistry.Create(method, options...)
	if err != nil {
		logging.Error(c.logger, "Error creating feature", "method", method, "error", err)
		return
	}
	c.featureRegistry.AddFeature(feature)
}

func (c *Client) rootPath() string {
	if c.rootURI == "" {
		return ""
	}
	root := registration.DocumentInfo{URI: uri.URI(c.rootURI)}
	if root.Scheme() != uri.FileScheme {
		return ""
	}
	return uri.URI(c.rootURI).Filename()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := c.config.Server.RequestTimeout.Duration; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// Connect starts reading from the transport and serves the requests the
// service sends to the client
func (c *Client) Connect(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.conn != nil {
		return nil
	}
	if c.transport == nil {
		return lserrors.NewError(lserrors.InvalidOptions, "client has no transport")
	}

	c.router = protocol.NewRouter(c.logger)
	c.conn = protocol.NewConn(c.transport, c.router, c.logger)
	c.session = protocol.NewSession(c.conn, c.router, c.logger)

	c.router.Handle(lsp.MethodClientRegisterCapability, c.handleRegisterCapability)
	c.router.Handle(lsp.MethodClientUnregisterCapability, c.handleUnregisterCapability)
	c.router.HandleNotification(lsp.MethodWindowLogMessage, c.handleLogMessage)
	c.router.HandleNotification(lsp.MethodWindowShowMessage, c.handleLogMessage)

	c.conn.Start(ctx)
	return nil
}

// Initialize performs the initialize handshake, activates the statically
// advertised features and sends initialized
func (c *Client) Initialize(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	c.session.SetState(protocol.SessionStateInitializing)

	params := &lsp.InitializeParams{
		ProcessID:    int32(os.Getpid()),
		ClientInfo:   &c.Info,
		RootURI:      c.rootURI,
		Capabilities: *c.featureRegistry.DeclareClientCapabilities(nil),
	}
	if c.rootURI != "" {
		params.WorkspaceFolders = []lsp.WorkspaceFolder{{URI: string(c.rootURI), Name: "root"}}
	}

	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	// the session only accepts calls once active
	rawResult, err := c.conn.Call(callCtx, lsp.MethodInitialize, params)
	if err != nil {
		c.session.SetState(protocol.SessionStateUninitialized)
		return fmt.Errorf("error initializing: %w", err)
	}

	var result struct {
		Capabilities json.RawMessage `json:"capabilities"`
		ServerInfo   *lsp.ServerInfo `json:"serverInfo,omitempty"`
	}
	if err := json.Unmarshal(rawResult, &result); err != nil {
		c.session.SetState(protocol.SessionStateUninitialized)
		return lserrors.NewError(lserrors.ProtocolShapeError, "error parsing initialization result").WithCause(err)
	}

	c.session.ServerInfo = result.ServerInfo
	c.session.ServerCapabilities = result.Capabilities
	c.session.SetState(protocol.SessionStateActive)

	server := capability.NewServerCapabilities(result.Capabilities)
	for _, err := range c.featureRegistry.Initialize(c.session, server, c.selector) {
		logging.Debug(c.logger, "static negotiation failed", "error", err)
	}

	if err := c.session.Notify(ctx, lsp.MethodInitialized, &lsp.InitializedParams{}); err != nil {
		return fmt.Errorf("error sending initialized notification: %w", err)
	}

	if result.ServerInfo != nil {
		logging.Info(c.logger, "session initialized", "server", result.ServerInfo.Name, "version", result.ServerInfo.Version)
	}
	return nil
}

// handleRegisterCapability activates every registration of the request.
// A failing registration does not stop the others.
func (c *Client) handleRegisterCapability(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params capability.RegistrationParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, protocol.NewRPCError(jsonrpc2.InvalidParams, "invalid registration params: %v", err)
	}

	var errs []error
	for _, reg := range params.Registrations {
		if err := c.featureRegistry.Register(c.session, reg); err != nil {
			logging.Warn(c.logger, "registration rejected", "id", reg.ID, "method", reg.Method, "error", err)
			errs = append(errs, err)
			continue
		}
		logging.Debug(c.logger, "registration active", "id", reg.ID, "method", reg.Method)
	}
	return nil, errors.Join(errs...)
}

func (c *Client) handleUnregisterCapability(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params capability.UnregistrationParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, protocol.NewRPCError(jsonrpc2.InvalidParams, "invalid unregistration params: %v", err)
	}

	var errs []error
	for _, u := range params.Unregisterations {
		if err := c.session.Store.Unregister(u.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return nil, errors.Join(errs...)
}

func (c *Client) handleLogMessage(ctx context.Context, raw json.RawMessage) error {
	var params lsp.LogMessageParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return lserrors.NewError(lserrors.ProtocolShapeError, "invalid message params").WithCause(err)
	}

	attrs := []any{"source", "service"}
	if id, ok := protocol.GetSessionID(ctx); ok {
		attrs = append(attrs, "session", id)
	}
	switch params.Type {
	case lsp.MessageTypeError:
		logging.Error(c.logger, params.Message, attrs...)
	case lsp.MessageTypeWarning:
		logging.Warn(c.logger, params.Message, attrs...)
	case lsp.MessageTypeInfo:
		logging.Info(c.logger, params.Message, attrs...)
	default:
		logging.Debug(c.logger, params.Message, attrs...)
	}
	return nil
}

// Session returns the current session, nil before Connect
func (c *Client) Session() *protocol.Session {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.session
}

// SemanticTokens returns the semantic tokens feature when enabled
func (c *Client) SemanticTokens() (*semantictokens.Feature, bool) {
	f, ok := c.featureRegistry.GetFeature(semantictokens.Method).(*semantictokens.Feature)
	return f, ok
}

// ResourceChanges returns the resource change feature when enabled
func (c *Client) ResourceChanges() (*resourcechange.Feature, bool) {
	f, ok := c.featureRegistry.GetFeature(lsp.MethodWorkspaceDidChangeWatchedFiles).(*resourcechange.Feature)
	return f, ok
}

// OpenDocument sends didOpen and tracks the document for refreshes
func (c *Client) OpenDocument(ctx context.Context, doc registration.DocumentInfo, version int32, text string) error {
	params := &lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{
			URI:        doc.URI,
			LanguageID: lsp.LanguageIdentifier(doc.LanguageID),
			Version:    version,
			Text:       text,
		},
	}
	if err := c.notify(ctx, lsp.MethodTextDocumentDidOpen, params); err != nil {
		return err
	}

	c.mutex.Lock()
	c.open[doc.URI] = doc
	c.mutex.Unlock()
	return nil
}

// CloseDocument sends didClose and drops the cached tokens of the document
func (c *Client) CloseDocument(ctx context.Context, doc lsp.DocumentURI) error {
	c.mutex.Lock()
	delete(c.open, doc)
	c.mutex.Unlock()
	c.cache.Forget(doc)

	return c.notify(ctx, lsp.MethodTextDocumentDidClose, &lsp.DidCloseTextDocumentParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: doc},
	})
}

func (c *Client) notify(ctx context.Context, method string, params interface{}) error {
	session := c.Session()
	if session == nil {
		return lserrors.NewErrorf(lserrors.SessionNotActive, "client not connected")
	}
	return session.Notify(ctx, method, params)
}

// Tokens returns the decoded semantic tokens of doc, requesting a delta
// against the cached result when the provider supports it
func (c *Client) Tokens(ctx context.Context, doc registration.DocumentInfo) ([]semantictokens.Token, error) {
	provider, err := c.providerFor(doc)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	full, err := c.cache.Refresh(ctx, provider, lsp.TextDocumentIdentifier{URI: doc.URI})
	if err != nil {
		return nil, err
	}
	return provider.Legend().Decode(full.Data)
}

// RangeTokens returns the decoded semantic tokens of a range of doc
func (c *Client) RangeTokens(ctx context.Context, doc registration.DocumentInfo, rng lsp.Range) ([]semantictokens.Token, error) {
	provider, err := c.providerFor(doc)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	full, err := provider.RequestRange(ctx, lsp.TextDocumentIdentifier{URI: doc.URI}, rng)
	if err != nil {
		return nil, err
	}
	return provider.Legend().Decode(full.Data)
}

func (c *Client) providerFor(doc registration.DocumentInfo) (*semantictokens.Provider, error) {
	feature, ok := c.SemanticTokens()
	if !ok {
		return nil, lserrors.NewError(lserrors.CapabilityNotSupported, "semantic tokens are disabled")
	}
	session := c.Session()
	if session == nil {
		return nil, lserrors.NewErrorf(lserrors.SessionNotActive, "client not connected")
	}
	provider, ok := feature.ProviderFor(session, doc)
	if !ok {
		return nil, lserrors.NewErrorf(lserrors.CapabilityNotSupported, "no semantic tokens provider for %s", doc.URI)
	}
	return provider, nil
}

// RegisterSemanticTokensProvider makes the client its own host. Withdrawing
// a provider drops the tokens cached through it.
func (c *Client) RegisterSemanticTokensProvider(selector lsp.DocumentSelector, provider *semantictokens.Provider) (registration.Disposable, error) {
	logging.Debug(c.logger, "semantic tokens provider registered", "id", provider.ID(), "full", provider.SupportsFull(), "delta", provider.SupportsDelta(), "range", provider.SupportsRange())

	return registration.DisposableFunc(func() {
		c.mutex.Lock()
		var docs []lsp.DocumentURI
		for u, doc := range c.open {
			if registration.Matches(selector, doc) {
				docs = append(docs, u)
			}
		}
		c.mutex.Unlock()

		for _, u := range docs {
			c.cache.Forget(u)
		}
	}), nil
}

// RefreshSemanticTokens re-requests the tokens of every open document
func (c *Client) RefreshSemanticTokens(ctx context.Context) {
	c.mutex.Lock()
	docs := make([]registration.DocumentInfo, 0, len(c.open))
	for _, doc := range c.open {
		docs = append(docs, doc)
	}
	c.mutex.Unlock()

	for _, doc := range docs {
		if _, err := c.Tokens(ctx, doc); err != nil {
			logging.Warn(c.logger, "refreshing semantic tokens", "uri", doc.URI, "error", err)
		}
	}
}

// IsConnected checks if the client has an active session
func (c *Client) IsConnected() bool {
	session := c.Session()
	return session != nil && session.IsActive()
}

// GetServerInfo returns information about the server
func (c *Client) GetServerInfo() *lsp.ServerInfo {
	session := c.Session()
	if session == nil {
		return nil
	}
	return session.ServerInfo
}

// Shutdown disposes every registration, runs the shutdown handshake and
// closes the transport
func (c *Client) Shutdown(ctx context.Context) error {
	session := c.Session()
	if session == nil {
		return c.Close()
	}

	wasActive := session.IsActive()
	c.featureRegistry.Shutdown(session)
	session.Close()
	c.cache.Clear()

	var errs []error
	if wasActive {
		callCtx, cancel := c.withTimeout(ctx)
		if _, err := c.conn.Call(callCtx, lsp.MethodShutdown, nil); err != nil {
			errs = append(errs, fmt.Errorf("error sending shutdown: %w", err))
		}
		cancel()
		if err := c.conn.Notify(ctx, lsp.MethodExit, nil); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close closes the client connection
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}
	if c.transport != nil {
		return c.transport.Close()
	}
	return nil
}
