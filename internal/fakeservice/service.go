// Package fakeservice is a scripted language service. It speaks the real
// wire protocol so tests can drive the client end to end.
package fakeservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/tidwall/gjson"
	"go.lsp.dev/jsonrpc2"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/lucacox/go-lspsync/internal/logging"
	"github.com/lucacox/go-lspsync/pkg/capability"
	"github.com/lucacox/go-lspsync/pkg/features/resourcechange"
	"github.com/lucacox/go-lspsync/pkg/features/semantictokens"
	"github.com/lucacox/go-lspsync/pkg/protocol"
)

// Service answers the handshake with configurable capabilities, computes
// semantic tokens from scripted documents and can push registrations and
// resource change sessions to the client
type Service struct {
	// Name and Version are reported as serverInfo
	Name    string
	Version string

	capabilities map[string]interface{}
	legend       semantictokens.Legend
	delta        bool

	mutex         sync.Mutex
	tokens        map[lsp.DocumentURI][]semantictokens.Token
	results       map[string][]uint32
	nextResult    int
	requests      []string
	notifications map[string][]json.RawMessage
	initParams    json.RawMessage
	block         chan struct{}
	cancelled     int
	producers     map[uri.URI]*resourcechange.Producer

	conn        *protocol.Conn
	router      *protocol.Router
	initialized chan struct{}
	initOnce    sync.Once

	logger *slog.Logger
}

// NewService creates a service advertising nothing until options say otherwise
func NewService(options ...ServiceOption) *Service {
	s := &Service{
		Name:          "fake-service",
		Version:       "0.0.0",
		capabilities:  make(map[string]interface{}),
		legend:        semantictokens.DefaultLegend(),
		tokens:        make(map[lsp.DocumentURI][]semantictokens.Token),
		results:       make(map[string][]uint32),
		notifications: make(map[string][]json.RawMessage),
		producers:     make(map[uri.URI]*resourcechange.Producer),
		initialized:   make(chan struct{}),
		logger:        logging.Discard(),
	}

	for _, option := range options {
		option(s)
	}

	s.router = protocol.NewRouter(s.logger)
	s.router.Handle(lsp.MethodInitialize, s.request(lsp.MethodInitialize, s.handleInitialize))
	s.router.Handle(lsp.MethodShutdown, s.request(lsp.MethodShutdown, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, nil
	}))
	s.router.Handle(lsp.MethodSemanticTokensFull, s.request(lsp.MethodSemanticTokensFull, s.handleFull))
	s.router.Handle(lsp.MethodSemanticTokensFullDelta, s.request(lsp.MethodSemanticTokensFullDelta, s.handleDelta))
	s.router.Handle(lsp.MethodSemanticTokensRange, s.request(lsp.MethodSemanticTokensRange, s.handleRange))

	s.router.HandleNotification(lsp.MethodInitialized, func(ctx context.Context, params json.RawMessage) error {
		s.record(lsp.MethodInitialized, params)
		s.initOnce.Do(func() { close(s.initialized) })
		return nil
	})
	for _, method := range []string{
		lsp.MethodExit,
		lsp.MethodTextDocumentDidOpen,
		lsp.MethodTextDocumentDidClose,
		lsp.MethodWorkspaceDidChangeWatchedFiles,
		resourcechange.Method,
	} {
		method := method
		s.router.HandleNotification(method, func(ctx context.Context, params json.RawMessage) error {
			s.record(method, params)
			return nil
		})
	}
	return s
}

// Serve starts answering on rwc
func (s *Service) Serve(ctx context.Context, rwc io.ReadWriteCloser) {
	s.mutex.Lock()
	s.conn = protocol.NewConn(rwc, s.router, s.logger)
	s.mutex.Unlock()
	s.conn.Start(ctx)
}

// Close closes the connection
func (s *Service) Close() error {
	s.mutex.Lock()
	conn := s.conn
	s.mutex.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Initialized is closed once the client sends initialized
func (s *Service) Initialized() <-chan struct{} {
	return s.initialized
}

// InitializeParams returns the raw params of the initialize request
func (s *Service) InitializeParams() json.RawMessage {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.initParams
}

// Requests returns the methods of the requests received so far
func (s *Service) Requests() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.requests...)
}

// Notifications returns the params of the notifications received for method
func (s *Service) Notifications(method string) []json.RawMessage {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]json.RawMessage(nil), s.notifications[method]...)
}

// Cancelled returns how many token requests were cancelled by the client
func (s *Service) Cancelled() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.cancelled
}

// SetTokens sets the tokens reported for doc
func (s *Service) SetTokens(doc lsp.DocumentURI, tokens ...semantictokens.Token) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.tokens[doc] = tokens
}

// ForgetResults drops every result id, so the next delta request is
// answered with a full result
func (s *Service) ForgetResults() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.results = make(map[string][]uint32)
}

// Block holds token requests until the returned release function is called
// or the client cancels them
func (s *Service) Block() (release func()) {
	ch := make(chan struct{})
	s.mutex.Lock()
	s.block = ch
	s.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mutex.Lock()
			if s.block == ch {
				s.block = nil
			}
			s.mutex.Unlock()
			close(ch)
		})
	}
}

// Register sends client/registerCapability with a single registration.
// Once a semantic tokens registration is accepted, tokens are encoded with
// the legend it carries.
func (s *Service) Register(ctx context.Context, id, method string, options interface{}) error {
	raw, err := json.Marshal(options)
	if err != nil {
		return err
	}
	params := capability.RegistrationParams{
		Registrations: []capability.DynamicRegistration{{ID: id, Method: method, RegisterOptions: raw}},
	}
	if _, err := s.connection().Call(ctx, lsp.MethodClientRegisterCapability, params); err != nil {
		return err
	}

	if method != semantictokens.Method {
		return nil
	}
	if l := gjson.GetBytes(raw, "legend"); l.IsObject() {
		var legend lsp.SemanticTokensLegend
		if err := json.Unmarshal([]byte(l.Raw), &legend); err != nil {
			return fmt.Errorf("decoding registered legend: %w", err)
		}
		s.mutex.Lock()
		s.legend = semantictokens.LegendFrom(legend)
		s.mutex.Unlock()
	}
	return nil
}

// Unregister sends client/unregisterCapability
func (s *Service) Unregister(ctx context.Context, id, method string) error {
	params := capability.UnregistrationParams{
		Unregisterations: []capability.Unregistration{{ID: id, Method: method}},
	}
	_, err := s.connection().Call(ctx, lsp.MethodClientUnregisterCapability, params)
	return err
}

// Refresh asks the client to re-request semantic tokens
func (s *Service) Refresh(ctx context.Context) error {
	_, err := s.connection().Call(ctx, lsp.MethodSemanticTokensRefresh, nil)
	return err
}

// LogMessage sends window/logMessage
func (s *Service) LogMessage(ctx context.Context, typ lsp.MessageType, message string) error {
	return s.connection().Notify(ctx, lsp.MethodWindowLogMessage, &lsp.LogMessageParams{Type: typ, Message: message})
}

// SendChanges sends raw markers, well ordered or not
func (s *Service) SendChanges(ctx context.Context, changes ...resourcechange.Change) error {
	return s.connection().Notify(ctx, resourcechange.Method, resourcechange.Params{Changes: changes})
}

// SendSession numbers events as one session for root and sends it.
// Numbering continues across sessions of the same root.
func (s *Service) SendSession(ctx context.Context, root uri.URI, threshold int, events ...lsp.FileEvent) error {
	s.mutex.Lock()
	p, ok := s.producers[root]
	if !ok {
		p = resourcechange.NewProducer(root, threshold)
		s.producers[root] = p
	}
	s.mutex.Unlock()

	begin, err := p.Begin()
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := p.Add(ev); err != nil {
			return err
		}
	}
	end, err := p.End()
	if err != nil {
		return err
	}
	return s.SendChanges(ctx, begin, end)
}

func (s *Service) connection() *protocol.Conn {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.conn
}

func (s *Service) request(method string, handler protocol.RequestHandler) protocol.RequestHandler {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		s.mutex.Lock()
		s.requests = append(s.requests, method)
		s.mutex.Unlock()
		return handler(ctx, params)
	}
}

func (s *Service) record(method string, params json.RawMessage) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.notifications[method] = append(s.notifications[method], params)
}

func (s *Service) handleInitialize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	s.mutex.Lock()
	s.initParams = params
	caps := s.capabilities
	s.mutex.Unlock()

	return map[string]interface{}{
		"capabilities": caps,
		"serverInfo":   lsp.ServerInfo{Name: s.Name, Version: s.Version},
	}, nil
}

// wait honours Block. A cancelled request fails with the context error.
func (s *Service) wait(ctx context.Context) error {
	s.mutex.Lock()
	block := s.block
	s.mutex.Unlock()
	if block == nil {
		return nil
	}

	select {
	case <-block:
		return nil
	case <-ctx.Done():
		s.mutex.Lock()
		s.cancelled++
		s.mutex.Unlock()
		return ctx.Err()
	}
}

func (s *Service) encode(doc lsp.DocumentURI) ([]uint32, error) {
	data, err := s.legend.Encode(s.tokens[doc])
	if err != nil {
		return nil, jsonrpc2.Errorf(jsonrpc2.InternalError, "encoding tokens: %v", err)
	}
	return data, nil
}

func (s *Service) store(data []uint32) string {
	s.nextResult++
	id := strconv.Itoa(s.nextResult)
	s.results[id] = data
	return id
}

func (s *Service) handleFull(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params lsp.SemanticTokensParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "%v", err)
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	data, err := s.encode(params.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	return &lsp.SemanticTokens{ResultID: s.store(data), Data: data}, nil
}

func (s *Service) handleDelta(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params lsp.SemanticTokensDeltaParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "%v", err)
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	data, err := s.encode(params.TextDocument.URI)
	if err != nil {
		return nil, err
	}

	prev, ok := s.results[params.PreviousResultID]
	if !ok || !s.delta {
		return &lsp.SemanticTokens{ResultID: s.store(data), Data: data}, nil
	}
	return &lsp.SemanticTokensDelta{ResultID: s.store(data), Edits: diff(prev, data)}, nil
}

func (s *Service) handleRange(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params lsp.SemanticTokensRangeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "%v", err)
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	var inRange []semantictokens.Token
	for _, tok := range s.tokens[params.TextDocument.URI] {
		if tok.Line >= params.Range.Start.Line && tok.Line <= params.Range.End.Line {
			inRange = append(inRange, tok)
		}
	}
	data, err := s.legend.Encode(inRange)
	if err != nil {
		return nil, fmt.Errorf("encoding tokens: %w", err)
	}
	return &lsp.SemanticTokens{Data: data}, nil
}

// diff returns the single edit turning prev into next, or no edit at all
// when they are equal
func diff(prev, next []uint32) []lsp.SemanticTokensEdit {
	prefix := 0
	for prefix < len(prev) && prefix < len(next) && prev[prefix] == next[prefix] {
		prefix++
	}
	if prefix == len(prev) && prefix == len(next) {
		return []lsp.SemanticTokensEdit{}
	}

	suffix := 0
	for suffix < len(prev)-prefix && suffix < len(next)-prefix &&
		prev[len(prev)-1-suffix] == next[len(next)-1-suffix] {
		suffix++
	}

	return []lsp.SemanticTokensEdit{{
		Start:       uint32(prefix),
		DeleteCount: uint32(len(prev) - prefix - suffix),
		Data:        append([]uint32{}, next[prefix:len(next)-suffix]...),
	}}
}
