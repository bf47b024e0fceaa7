package semantictokens

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	lsp "go.lsp.dev/protocol"

	"github.com/lucacox/go-lspsync/internal/logging"
	"github.com/lucacox/go-lspsync/pkg/protocol"
	"github.com/lucacox/go-lspsync/pkg/registration"
)

// fakeClient answers calls with handle and records the methods it saw
type fakeClient struct {
	mutex   sync.Mutex
	methods []string
	params  []interface{}
	handle  func(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

func (c *fakeClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mutex.Lock()
	c.methods = append(c.methods, method)
	c.params = append(c.params, params)
	handle := c.handle
	c.mutex.Unlock()
	if handle == nil {
		return json.RawMessage(`null`), nil
	}
	return handle(ctx, method, params)
}

func (c *fakeClient) Notify(ctx context.Context, method string, params interface{}) error {
	return nil
}

func (c *fakeClient) Methods() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	out := make([]string, len(c.methods))
	copy(out, c.methods)
	return out
}

// reply returns a handler answering every call with raw
func reply(raw string) func(context.Context, string, interface{}) (json.RawMessage, error) {
	return func(context.Context, string, interface{}) (json.RawMessage, error) {
		return json.RawMessage(raw), nil
	}
}

func newActiveSession(client protocol.RPCClient) *protocol.Session {
	session := protocol.NewSession(client, nil, logging.Discard())
	session.SetState(protocol.SessionStateActive)
	return session
}

var goSelector = lsp.DocumentSelector{{Language: "go"}}

var goDoc = lsp.TextDocumentIdentifier{URI: lsp.DocumentURI("file:///src/main.go")}

func testLegend() Legend {
	return Legend{
		TokenTypes:     []string{"keyword", "variable", "function"},
		TokenModifiers: []string{"declaration", "readonly"},
	}
}

// newTestProvider activates a registration in a fresh session and binds a provider to it
func newTestProvider(t *testing.T, opts Options, client *fakeClient, mw Middleware) (*Provider, *protocol.Session) {
	t.Helper()
	session := newActiveSession(client)
	entry, err := session.Store.Activate(registration.Registration{
		ID:               "reg-1",
		Method:           Method,
		DocumentSelector: goSelector,
	}, nil)
	require.NoError(t, err)
	return NewProvider(entry, opts, session.Dispatcher, mw, logging.Discard()), session
}

// fakeHost records provider registrations and their disposal
type fakeHost struct {
	mutex     sync.Mutex
	providers map[string]*Provider
	disposed  []string
	refreshed int
	err       error
}

func newFakeHost() *fakeHost {
	return &fakeHost{providers: make(map[string]*Provider)}
}

func (h *fakeHost) RegisterSemanticTokensProvider(selector lsp.DocumentSelector, provider *Provider) (registration.Disposable, error) {
	if h.err != nil {
		return nil, h.err
	}
	h.mutex.Lock()
	h.providers[provider.ID()] = provider
	h.mutex.Unlock()
	return registration.DisposableFunc(func() {
		h.mutex.Lock()
		defer h.mutex.Unlock()
		delete(h.providers, provider.ID())
		h.disposed = append(h.disposed, provider.ID())
	}), nil
}

func (h *fakeHost) RefreshSemanticTokens(ctx context.Context) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.refreshed++
}

func (h *fakeHost) Len() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.providers)
}
