package resourcechange

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
	"github.com/lucacox/go-lspsync/internal/logging"
)

func runSession(t *testing.T, p *Producer, n int) (Change, Change) {
	t.Helper()
	b, err := p.Begin()
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, p.Add(lsp.FileEvent{Type: lsp.FileChangeTypeCreated, URI: uri.File("/work/project/f.go")}))
	}
	e, err := p.End()
	require.NoError(t, err)
	return b, e
}

// TestProducer_Threshold tests the switch to all-changed above the threshold
func TestProducer_Threshold(t *testing.T) {
	b, e := runSession(t, NewProducer(testRoot, 2), 3)

	assert.Equal(t, int64(1), b.Sequence)
	assert.Equal(t, UpdateBegin, b.Kind)
	assert.Equal(t, int64(5), e.Sequence)
	assert.True(t, e.AllChanged)
	assert.Nil(t, e.FileChanges)
}

// TestProducer_Unbounded tests that every change is listed without a threshold
func TestProducer_Unbounded(t *testing.T) {
	_, e := runSession(t, NewProducer(testRoot, Unbounded), 3)

	assert.False(t, e.AllChanged)
	require.Len(t, e.FileChanges, 3)
	for i, fc := range e.FileChanges {
		assert.Equal(t, int64(i+2), fc.Sequence)
	}
	assert.Equal(t, int64(5), e.Sequence)
}

// TestProducer_AtThreshold tests that exactly threshold changes are still listed
func TestProducer_AtThreshold(t *testing.T) {
	_, e := runSession(t, NewProducer(testRoot, 2), 2)
	assert.False(t, e.AllChanged)
	assert.Len(t, e.FileChanges, 2)

	_, e = runSession(t, NewProducer(testRoot, 0), 0)
	assert.False(t, e.AllChanged)
}

// TestProducer_Sequences tests that numbering continues across sessions
func TestProducer_Sequences(t *testing.T) {
	p := NewProducer(testRoot, Unbounded)
	runSession(t, p, 1)
	b, _ := runSession(t, p, 0)
	assert.Equal(t, int64(4), b.Sequence)
}

// TestProducer_Misuse tests out of session calls
func TestProducer_Misuse(t *testing.T) {
	p := NewProducer(testRoot, Unbounded)

	_, err := p.End()
	assert.True(t, lserrors.HasCode(err, lserrors.OrderingViolation))
	assert.Error(t, p.Add(lsp.FileEvent{}))

	_, err = p.Begin()
	require.NoError(t, err)
	_, err = p.Begin()
	assert.Error(t, err)
}

// TestProducer_FeedsCoalescer tests that produced sessions are accepted by the coalescer
func TestProducer_FeedsCoalescer(t *testing.T) {
	for _, threshold := range []int{Unbounded, 2} {
		consumer := &recordingConsumer{}
		c := NewCoalescer(consumer, logging.Discard())
		b, e := runSession(t, NewProducer(testRoot, threshold), 3)

		// through the wire encoding
		raw, err := json.Marshal(Params{Changes: []Change{b, e}})
		require.NoError(t, err)
		var params Params
		require.NoError(t, json.Unmarshal(raw, &params))

		require.NoError(t, c.ProcessParams(params))
		if threshold == Unbounded {
			assert.Equal(t, []string{"stale", "apply"}, consumer.Calls())
			assert.Len(t, consumer.applied, 3)
		} else {
			assert.Equal(t, []string{"stale", "invalidate"}, consumer.Calls())
			assert.NotContains(t, string(raw), "fileChanges")
		}
	}
}
