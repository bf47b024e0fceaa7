package fakeservice

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lsp "go.lsp.dev/protocol"

	"github.com/lucacox/go-lspsync/internal/logging"
	"github.com/lucacox/go-lspsync/pkg/features/semantictokens"
	"github.com/lucacox/go-lspsync/pkg/protocol"
)

// TestDiff tests the single edit computation
func TestDiff(t *testing.T) {
	tests := []struct {
		name     string
		prev     []uint32
		next     []uint32
		expected []lsp.SemanticTokensEdit
	}{
		{"equal", []uint32{1, 2, 3}, []uint32{1, 2, 3}, []lsp.SemanticTokensEdit{}},
		{"append", []uint32{1, 2}, []uint32{1, 2, 3}, []lsp.SemanticTokensEdit{{Start: 2, DeleteCount: 0, Data: []uint32{3}}}},
		{"middle", []uint32{1, 2, 3}, []uint32{1, 9, 3}, []lsp.SemanticTokensEdit{{Start: 1, DeleteCount: 1, Data: []uint32{9}}}},
		{"truncate", []uint32{1, 2, 3}, []uint32{1}, []lsp.SemanticTokensEdit{{Start: 1, DeleteCount: 2, Data: []uint32{}}}},
		{"from empty", nil, []uint32{4, 5}, []lsp.SemanticTokensEdit{{Start: 0, DeleteCount: 0, Data: []uint32{4, 5}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edits := diff(tt.prev, tt.next)
			assert.Equal(t, tt.expected, edits)

			applied, err := semantictokens.ApplyEdits(tt.prev, edits)
			require.NoError(t, err)
			assert.Equal(t, len(tt.next), len(applied))
			if len(tt.next) > 0 {
				assert.Equal(t, tt.next, applied)
			}
		})
	}
}

// TestService_Tokens tests the handshake and token requests over a real stream
func TestService_Tokens(t *testing.T) {
	legend := semantictokens.Legend{TokenTypes: []string{"keyword", "variable"}}
	svc := NewService(WithName("fake"), WithSemanticTokens(legend, true, true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverSide, clientSide := net.Pipe()
	svc.Serve(ctx, serverSide)
	defer svc.Close()

	conn := protocol.NewConn(clientSide, nil, logging.Discard())
	conn.Start(ctx)
	defer conn.Close()

	raw, err := conn.Call(ctx, lsp.MethodInitialize, &lsp.InitializeParams{})
	require.NoError(t, err)
	var result struct {
		Capabilities map[string]json.RawMessage `json:"capabilities"`
		ServerInfo   lsp.ServerInfo             `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "fake", result.ServerInfo.Name)
	assert.Contains(t, result.Capabilities, "semanticTokensProvider")

	doc := lsp.DocumentURI("file:///work/a.go")
	svc.SetTokens(doc, semantictokens.Token{Line: 0, Start: 0, Length: 7, Type: "keyword"})

	raw, err = conn.Call(ctx, lsp.MethodSemanticTokensFull, &lsp.SemanticTokensParams{TextDocument: lsp.TextDocumentIdentifier{URI: doc}})
	require.NoError(t, err)
	first, err := semantictokens.DecodeResult(raw)
	require.NoError(t, err)
	require.False(t, first.IsDelta())
	assert.Equal(t, []uint32{0, 0, 7, 0, 0}, first.Full.Data)

	svc.SetTokens(doc,
		semantictokens.Token{Line: 0, Start: 0, Length: 7, Type: "keyword"},
		semantictokens.Token{Line: 2, Start: 4, Length: 1, Type: "variable"},
	)
	raw, err = conn.Call(ctx, lsp.MethodSemanticTokensFullDelta, &lsp.SemanticTokensDeltaParams{
		TextDocument:     lsp.TextDocumentIdentifier{URI: doc},
		PreviousResultID: first.ResultID(),
	})
	require.NoError(t, err)
	second, err := semantictokens.DecodeResult(raw)
	require.NoError(t, err)
	require.True(t, second.IsDelta())

	data, err := semantictokens.ApplyEdits(first.Full.Data, second.Delta.Edits)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 0, 7, 0, 0, 2, 4, 1, 1, 0}, data)

	svc.ForgetResults()
	raw, err = conn.Call(ctx, lsp.MethodSemanticTokensFullDelta, &lsp.SemanticTokensDeltaParams{
		TextDocument:     lsp.TextDocumentIdentifier{URI: doc},
		PreviousResultID: second.ResultID(),
	})
	require.NoError(t, err)
	third, err := semantictokens.DecodeResult(raw)
	require.NoError(t, err)
	assert.False(t, third.IsDelta(), "forgotten results fall back to full")

	assert.Equal(t, []string{
		lsp.MethodInitialize,
		lsp.MethodSemanticTokensFull,
		lsp.MethodSemanticTokensFullDelta,
		lsp.MethodSemanticTokensFullDelta,
	}, svc.Requests())
}

// TestService_RegisterAdoptsLegend tests that tokens follow the legend of an accepted registration
func TestService_RegisterAdoptsLegend(t *testing.T) {
	svc := NewService()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverSide, clientSide := net.Pipe()
	svc.Serve(ctx, serverSide)
	defer svc.Close()

	router := protocol.NewRouter(logging.Discard())
	router.Handle(lsp.MethodClientRegisterCapability, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, nil
	})
	conn := protocol.NewConn(clientSide, router, logging.Discard())
	conn.Start(ctx)
	defer conn.Close()

	legend := semantictokens.Legend{TokenTypes: []string{"namespace", "type", "variable"}}
	require.NoError(t, svc.Register(ctx, "st-1", semantictokens.Method, map[string]interface{}{
		"legend": legend.Protocol(),
		"full":   true,
	}))

	doc := lsp.DocumentURI("file:///work/a.go")
	svc.SetTokens(doc, semantictokens.Token{Line: 0, Start: 4, Length: 1, Type: "variable"})

	raw, err := conn.Call(ctx, lsp.MethodSemanticTokensFull, &lsp.SemanticTokensParams{TextDocument: lsp.TextDocumentIdentifier{URI: doc}})
	require.NoError(t, err)
	result, err := semantictokens.DecodeResult(raw)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 4, 1, 2, 0}, result.Full.Data)
}
