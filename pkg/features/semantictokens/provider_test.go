package semantictokens

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lsp "go.lsp.dev/protocol"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
)

func allOptions() Options {
	return Options{Legend: testLegend(), Full: true, Delta: true, Range: true}
}

// TestProvider_RequestFull tests a full document request
func TestProvider_RequestFull(t *testing.T) {
	client := &fakeClient{handle: reply(`{"resultId":"1","data":[0,0,4,0,0]}`)}
	p, _ := newTestProvider(t, allOptions(), client, nil)

	full, err := p.RequestFull(context.Background(), goDoc)

	require.NoError(t, err)
	assert.Equal(t, &Full{ResultID: "1", Data: []uint32{0, 0, 4, 0, 0}}, full)
	assert.Equal(t, []string{lsp.MethodSemanticTokensFull}, client.Methods())

	params, ok := client.params[0].(*lsp.SemanticTokensParams)
	require.True(t, ok)
	assert.Equal(t, goDoc, params.TextDocument)
}

// TestProvider_RequestDelta tests that both response shapes are accepted
func TestProvider_RequestDelta(t *testing.T) {
	client := &fakeClient{handle: reply(`{"resultId":"2","edits":[{"start":1,"deleteCount":2,"data":[9]}]}`)}
	p, _ := newTestProvider(t, allOptions(), client, nil)

	result, err := p.RequestDelta(context.Background(), goDoc, "1")
	require.NoError(t, err)
	require.True(t, result.IsDelta())
	assert.Equal(t, "2", result.ResultID())

	params, ok := client.params[0].(*lsp.SemanticTokensDeltaParams)
	require.True(t, ok)
	assert.Equal(t, "1", params.PreviousResultID)

	client.handle = reply(`{"resultId":"3","data":[1,2,3,0,0]}`)
	result, err = p.RequestDelta(context.Background(), goDoc, "2")
	require.NoError(t, err)
	assert.False(t, result.IsDelta())
	assert.Equal(t, []uint32{1, 2, 3, 0, 0}, result.Full.Data)
}

// TestProvider_RequestDelta_NeedsPrior tests that a delta without a prior id is rejected
func TestProvider_RequestDelta_NeedsPrior(t *testing.T) {
	client := &fakeClient{}
	p, _ := newTestProvider(t, allOptions(), client, nil)

	_, err := p.RequestDelta(context.Background(), goDoc, "")

	assert.True(t, lserrors.HasCode(err, lserrors.InvalidOptions))
	assert.Empty(t, client.Methods())
}

// TestProvider_RequestRange tests that range results never carry a result id
func TestProvider_RequestRange(t *testing.T) {
	client := &fakeClient{handle: reply(`{"resultId":"9","data":[0,1,1,0,0]}`)}
	p, _ := newTestProvider(t, allOptions(), client, nil)

	rng := lsp.Range{Start: lsp.Position{Line: 0}, End: lsp.Position{Line: 3}}
	full, err := p.RequestRange(context.Background(), goDoc, rng)

	require.NoError(t, err)
	assert.Empty(t, full.ResultID)
	assert.Equal(t, []uint32{0, 1, 1, 0, 0}, full.Data)
	assert.Equal(t, []string{lsp.MethodSemanticTokensRange}, client.Methods())
}

// TestProvider_Unsupported tests that unadvertised requests fail without sending
func TestProvider_Unsupported(t *testing.T) {
	client := &fakeClient{}
	p, _ := newTestProvider(t, Options{Legend: testLegend(), Full: true}, client, nil)

	assert.False(t, p.SupportsDelta())
	assert.False(t, p.SupportsRange())

	_, err := p.RequestDelta(context.Background(), goDoc, "1")
	assert.True(t, lserrors.HasCode(err, lserrors.CapabilityNotSupported))

	_, err = p.RequestRange(context.Background(), goDoc, lsp.Range{})
	assert.True(t, lserrors.HasCode(err, lserrors.CapabilityNotSupported))

	assert.Empty(t, client.Methods())
}

// TestProvider_Disposed tests that a disposed registration issues no requests
func TestProvider_Disposed(t *testing.T) {
	client := &fakeClient{}
	p, session := newTestProvider(t, allOptions(), client, nil)

	require.NoError(t, session.Store.Unregister(p.ID()))

	_, err := p.RequestFull(context.Background(), goDoc)
	assert.True(t, lserrors.HasCode(err, lserrors.RegistrationDisposed))
	assert.Empty(t, client.Methods())
}

// TestProvider_Cancelled tests that a cancelled request reports cancellation even if a result arrives
func TestProvider_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{handle: func(context.Context, string, interface{}) (json.RawMessage, error) {
		cancel()
		return json.RawMessage(`{"resultId":"1","data":[]}`), nil
	}}
	p, _ := newTestProvider(t, allOptions(), client, nil)

	full, err := p.RequestFull(ctx, goDoc)

	assert.Nil(t, full)
	assert.True(t, lserrors.HasCode(err, lserrors.Cancelled))
}

// TestProvider_TransportError tests that failures surface unchanged
func TestProvider_TransportError(t *testing.T) {
	boom := errors.New("connection reset")
	client := &fakeClient{handle: func(context.Context, string, interface{}) (json.RawMessage, error) {
		return nil, boom
	}}
	p, _ := newTestProvider(t, allOptions(), client, nil)

	_, err := p.RequestFull(context.Background(), goDoc)

	assert.Same(t, boom, err)
}

// TestProvider_FullAnsweredWithEdits tests that edits for a full request are a shape error
func TestProvider_FullAnsweredWithEdits(t *testing.T) {
	client := &fakeClient{handle: reply(`{"edits":[]}`)}
	p, _ := newTestProvider(t, allOptions(), client, nil)

	_, err := p.RequestFull(context.Background(), goDoc)

	assert.True(t, lserrors.HasCode(err, lserrors.ProtocolShapeError))
}

// cachingMiddleware answers full requests itself once it has a result
type cachingMiddleware struct {
	last  *Full
	calls int
}

func (m *cachingMiddleware) ProvideDocumentSemanticTokens(ctx context.Context, params *lsp.SemanticTokensParams, next FullNext) (*Full, error) {
	m.calls++
	if m.last != nil {
		return m.last, nil
	}
	full, err := next(ctx, params)
	if err == nil {
		m.last = full
	}
	return full, err
}

// TestProvider_Middleware tests that middleware sees and may short-circuit requests
func TestProvider_Middleware(t *testing.T) {
	client := &fakeClient{handle: reply(`{"resultId":"1","data":[0,0,1,0,0]}`)}
	mw := &cachingMiddleware{}
	p, _ := newTestProvider(t, allOptions(), client, mw)

	first, err := p.RequestFull(context.Background(), goDoc)
	require.NoError(t, err)
	second, err := p.RequestFull(context.Background(), goDoc)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 2, mw.calls)
	assert.Len(t, client.Methods(), 1)

	// the middleware has no delta hook so delta requests go to the wire
	client.handle = reply(`{"edits":[]}`)
	_, err = p.RequestDelta(context.Background(), goDoc, "1")
	require.NoError(t, err)
	assert.Len(t, client.Methods(), 2)
}
