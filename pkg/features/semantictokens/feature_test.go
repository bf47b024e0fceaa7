package semantictokens

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
	"github.com/lucacox/go-lspsync/internal/logging"
	"github.com/lucacox/go-lspsync/pkg/capability"
	"github.com/lucacox/go-lspsync/pkg/registration"
)

func testConfig() Config {
	return Config{Legend: testLegend(), Delta: true, Range: true}
}

// TestFeature_FillClientCapabilities tests the declared client capabilities
func TestFeature_FillClientCapabilities(t *testing.T) {
	f := NewFeature(newFakeHost(), testConfig(), logging.Discard())
	caps := &lsp.ClientCapabilities{}

	f.FillClientCapabilities(caps)

	st := caps.TextDocument.SemanticTokens
	require.NotNil(t, st)
	assert.True(t, st.DynamicRegistration)
	assert.True(t, st.Requests.Range)
	assert.Equal(t, map[string]bool{"delta": true}, st.Requests.Full)
	assert.Equal(t, testLegend().TokenTypes, st.TokenTypes)
	assert.Equal(t, []lsp.TokenFormat{lsp.TokenFormatRelative}, st.Formats)
	assert.True(t, caps.Workspace.SemanticTokens.RefreshSupport)

	f = NewFeature(newFakeHost(), Config{Legend: testLegend()}, logging.Discard())
	caps = &lsp.ClientCapabilities{}
	f.FillClientCapabilities(caps)
	assert.Equal(t, true, caps.TextDocument.SemanticTokens.Requests.Full)
	assert.False(t, caps.TextDocument.SemanticTokens.Requests.Range)
}

// TestFeature_Initialize tests static registration from the server capabilities
func TestFeature_Initialize(t *testing.T) {
	host := newFakeHost()
	f := NewFeature(host, testConfig(), logging.Discard())
	session := newActiveSession(&fakeClient{})
	server := capability.NewServerCapabilities(json.RawMessage(`{"semanticTokensProvider":{"legend":` + legendJSON + `,"full":{"delta":true}}}`))

	require.NoError(t, f.Initialize(session, server, goSelector))

	entries := session.Store.Active(Method)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Static)

	p, ok := f.Provider(entries[0].ID)
	require.True(t, ok)
	assert.True(t, p.SupportsDelta())
	assert.False(t, p.SupportsRange())
	assert.Equal(t, 1, host.Len())

	doc := registration.DocumentInfo{URI: uri.File("/src/main.go"), LanguageID: "go"}
	found, ok := f.ProviderFor(session, doc)
	require.True(t, ok)
	assert.Same(t, p, found)
}

// TestFeature_Initialize_NotAdvertised tests that an absent provider stays inactive
func TestFeature_Initialize_NotAdvertised(t *testing.T) {
	host := newFakeHost()
	f := NewFeature(host, testConfig(), logging.Discard())
	session := newActiveSession(&fakeClient{})

	require.NoError(t, f.Initialize(session, capability.NewServerCapabilities(json.RawMessage(`{"semanticTokensProvider":false}`)), goSelector))

	assert.Equal(t, 0, session.Store.Len())
	assert.Equal(t, 0, host.Len())
}

// TestFeature_Initialize_ClientLimits tests that undeclared request kinds are never used
func TestFeature_Initialize_ClientLimits(t *testing.T) {
	f := NewFeature(newFakeHost(), Config{Legend: testLegend()}, logging.Discard())
	session := newActiveSession(&fakeClient{})
	server := capability.NewServerCapabilities(json.RawMessage(`{"semanticTokensProvider":{"full":{"delta":true},"range":true}}`))

	require.NoError(t, f.Initialize(session, server, goSelector))

	p, ok := f.Provider(session.Store.Active(Method)[0].ID)
	require.True(t, ok)
	assert.False(t, p.SupportsDelta())
	assert.False(t, p.SupportsRange())
}

// TestFeature_Register tests the dynamic registration lifecycle
func TestFeature_Register(t *testing.T) {
	host := newFakeHost()
	f := NewFeature(host, testConfig(), logging.Discard())
	session := newActiveSession(&fakeClient{})
	require.NoError(t, f.Initialize(session, capability.NewServerCapabilities(json.RawMessage(`{}`)), goSelector))

	err := f.Register(session, "dyn-1", json.RawMessage(`{"documentSelector":[{"pattern":"**/*.tony"}],"legend":`+legendJSON+`,"range":true}`))
	require.NoError(t, err)

	p, ok := f.Provider("dyn-1")
	require.True(t, ok)
	assert.True(t, p.SupportsRange())
	assert.Equal(t, lsp.DocumentSelector{{Pattern: "**/*.tony"}}, p.DocumentSelector())

	require.NoError(t, session.Store.Unregister("dyn-1"))
	_, ok = f.Provider("dyn-1")
	assert.False(t, ok)
	assert.Equal(t, []string{"dyn-1"}, host.disposed)

	_, err = p.RequestFull(context.Background(), goDoc)
	assert.True(t, lserrors.HasCode(err, lserrors.RegistrationDisposed))
}

// TestFeature_Register_HostFailure tests that a failed host subscription leaves nothing active
func TestFeature_Register_HostFailure(t *testing.T) {
	host := newFakeHost()
	host.err = errors.New("host refused")
	f := NewFeature(host, testConfig(), logging.Discard())
	session := newActiveSession(&fakeClient{})

	err := f.Register(session, "dyn-1", json.RawMessage(`{"legend":`+legendJSON+`}`))

	assert.True(t, lserrors.HasCode(err, lserrors.NegotiationError))
	_, ok := f.Provider("dyn-1")
	assert.False(t, ok)
	assert.Equal(t, 0, session.Store.Len())
}

// TestFeature_Refresh tests that a refresh request from the service reaches the host
func TestFeature_Refresh(t *testing.T) {
	host := newFakeHost()
	f := NewFeature(host, testConfig(), logging.Discard())
	session := newActiveSession(&fakeClient{})
	require.NoError(t, f.Initialize(session, capability.NewServerCapabilities(json.RawMessage(`{}`)), goSelector))

	result, err := session.Router.HandleRequest(context.Background(), lsp.MethodSemanticTokensRefresh, nil)

	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 1, host.refreshed)

	f.Shutdown(session)
	assert.NotContains(t, session.Router.GetMethods(), lsp.MethodSemanticTokensRefresh)
}

// TestNewFeatureFactory tests building the feature through the registry
func TestNewFeatureFactory(t *testing.T) {
	registry := capability.NewFeatureRegistry()
	registry.RegisterFactory(Method, NewFeatureFactory())

	feature, err := registry.Create(Method, newFakeHost(), testConfig(), logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, Method, feature.Method())

	_, err = registry.Create(Method)
	assert.True(t, lserrors.HasCode(err, lserrors.InvalidOptions))
}
