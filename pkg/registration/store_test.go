package registration

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
	"github.com/lucacox/go-lspsync/internal/logging"
)

const tokensMethod = "textDocument/semanticTokens"

func goSelector() protocol.DocumentSelector {
	return protocol.DocumentSelector{{Language: "go", Scheme: "file"}}
}

// TestState_String tests the state names
func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateUnregistered, "unregistered"},
		{StatePending, "pending"},
		{StateActive, "active"},
		{StateDisposed, "disposed"},
		{State(99), "unknown"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.state.String())
	}
}

// TestStore_Activate tests the Unregistered to Active transition
func TestStore_Activate(t *testing.T) {
	store := NewStore(logging.Discard())

	var seen State
	entry, err := store.Activate(Registration{ID: "r1", Method: tokensMethod, DocumentSelector: goSelector()},
		func(e *Entry) error {
			seen = e.State()
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, StatePending, seen)
	assert.Equal(t, StateActive, entry.State())
	assert.NoError(t, entry.Check())

	got, ok := store.Get("r1")
	assert.True(t, ok)
	assert.Same(t, entry, got)
}

// TestStore_Activate_EmptySelector tests that an empty selector keeps the registration inactive
func TestStore_Activate_EmptySelector(t *testing.T) {
	store := NewStore(logging.Discard())

	entry, err := store.Activate(Registration{ID: "r1", Method: tokensMethod}, nil)
	assert.Nil(t, entry)
	assert.True(t, lserrors.HasCode(err, lserrors.NegotiationError))
	assert.Equal(t, 0, store.Len())
}

// TestStore_Activate_SubscribeFailure tests that a failed subscription is non-fatal and leaves nothing behind
func TestStore_Activate_SubscribeFailure(t *testing.T) {
	store := NewStore(logging.Discard())

	released := false
	var failed *Entry
	_, err := store.Activate(Registration{ID: "r1", Method: tokensMethod, DocumentSelector: goSelector()},
		func(e *Entry) error {
			failed = e
			e.Track(DisposableFunc(func() { released = true }))
			return errors.New("host refused provider")
		})

	require.Error(t, err)
	assert.True(t, lserrors.HasCode(err, lserrors.NegotiationError))
	assert.True(t, released)
	assert.Equal(t, StateUnregistered, failed.State())
	assert.Equal(t, 0, store.Len())

	// the id was never active so it can be retried
	_, err = store.Activate(Registration{ID: "r1", Method: tokensMethod, DocumentSelector: goSelector()}, nil)
	assert.NoError(t, err)
}

// TestStore_Activate_DisposedWhileSubscribing tests that an unregister during subscribe is final
func TestStore_Activate_DisposedWhileSubscribing(t *testing.T) {
	store := NewStore(logging.Discard())

	released := false
	var pending *Entry
	entry, err := store.Activate(Registration{ID: "r1", Method: tokensMethod, DocumentSelector: goSelector()},
		func(e *Entry) error {
			pending = e
			e.Track(DisposableFunc(func() { released = true }))
			return store.Unregister("r1")
		})

	require.Error(t, err)
	assert.Nil(t, entry)
	assert.True(t, lserrors.HasCode(err, lserrors.RegistrationDisposed))
	assert.True(t, released)
	assert.Equal(t, StateDisposed, pending.State())
	assert.True(t, lserrors.HasCode(pending.Check(), lserrors.RegistrationDisposed))

	_, ok := store.Get("r1")
	assert.False(t, ok)

	// tracking after disposal releases immediately
	late := false
	pending.Track(DisposableFunc(func() { late = true }))
	assert.True(t, late)
}

// TestStore_Activate_Overlap tests that overlapping registrations are surfaced as conflicts
func TestStore_Activate_Overlap(t *testing.T) {
	store := NewStore(logging.Discard())

	_, err := store.Activate(Registration{ID: "a", Method: tokensMethod, DocumentSelector: goSelector()}, nil)
	require.NoError(t, err)

	_, err = store.Activate(Registration{ID: "b", Method: tokensMethod,
		DocumentSelector: protocol.DocumentSelector{{Language: "go"}}}, nil)
	assert.True(t, lserrors.HasCode(err, lserrors.RegistrationConflict))

	// different language does not overlap
	_, err = store.Activate(Registration{ID: "c", Method: tokensMethod,
		DocumentSelector: protocol.DocumentSelector{{Language: "rust"}}}, nil)
	assert.NoError(t, err)

	// same selector for another method is fine
	_, err = store.Activate(Registration{ID: "d", Method: "other", DocumentSelector: goSelector()}, nil)
	assert.NoError(t, err)

	// duplicate id
	_, err = store.Activate(Registration{ID: "a", Method: "third", DocumentSelector: goSelector()}, nil)
	assert.True(t, lserrors.HasCode(err, lserrors.RegistrationConflict))
}

// TestStore_Activate_Concurrent tests that concurrent activations for one selector yield a single winner
func TestStore_Activate_Concurrent(t *testing.T) {
	store := NewStore(logging.Discard())

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Activate(Registration{ID: fmt.Sprintf("r%d", i), Method: tokensMethod,
				DocumentSelector: goSelector()}, nil)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Len(t, store.Active(tokensMethod), 1)
}

// TestStore_Unregister tests disposal of an active registration
func TestStore_Unregister(t *testing.T) {
	store := NewStore(logging.Discard())

	var order []string
	entry, err := store.Activate(Registration{ID: "r1", Method: tokensMethod, DocumentSelector: goSelector()},
		func(e *Entry) error {
			e.Track(DisposableFunc(func() { order = append(order, "provider") }))
			e.Track(DisposableFunc(func() { order = append(order, "listener") }))
			return nil
		})
	require.NoError(t, err)

	require.NoError(t, store.Unregister("r1"))

	assert.Equal(t, []string{"listener", "provider"}, order)
	assert.Equal(t, StateDisposed, entry.State())
	assert.True(t, lserrors.HasCode(entry.Check(), lserrors.RegistrationDisposed))
	assert.True(t, errors.Is(entry.Check(), lserrors.ErrDisposed))

	// late subscriptions are released immediately
	late := false
	entry.Track(DisposableFunc(func() { late = true }))
	assert.True(t, late)

	// no way back from disposed
	assert.True(t, lserrors.HasCode(store.Unregister("r1"), lserrors.RegistrationDisposed))
	_, err = store.Activate(Registration{ID: "r1", Method: tokensMethod, DocumentSelector: goSelector()}, nil)
	assert.True(t, lserrors.HasCode(err, lserrors.RegistrationDisposed))

	assert.True(t, lserrors.HasCode(store.Unregister("missing"), lserrors.RegistrationNotFound))
}

// TestStore_DisposeAll tests session teardown
func TestStore_DisposeAll(t *testing.T) {
	store := NewStore(logging.Discard())

	count := 0
	for _, lang := range []string{"go", "rust", "c"} {
		_, err := store.Activate(Registration{ID: lang, Method: tokensMethod,
			DocumentSelector: protocol.DocumentSelector{{Language: lang}}},
			func(e *Entry) error {
				e.Track(DisposableFunc(func() { count++ }))
				return nil
			})
		require.NoError(t, err)
	}

	store.DisposeAll()

	assert.Equal(t, 3, count)
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, store.Active(tokensMethod))
}

// TestStore_ForDocument tests selector lookup
func TestStore_ForDocument(t *testing.T) {
	store := NewStore(logging.Discard())

	_, err := store.Activate(Registration{ID: "go", Method: tokensMethod, DocumentSelector: goSelector()}, nil)
	require.NoError(t, err)
	_, err = store.Activate(Registration{ID: "toml", Method: tokensMethod,
		DocumentSelector: protocol.DocumentSelector{{Language: "toml", Pattern: "**/*.toml"}}}, nil)
	require.NoError(t, err)

	e, ok := store.ForDocument(tokensMethod, DocumentInfo{URI: uri.File("/src/main.go"), LanguageID: "go"})
	require.True(t, ok)
	assert.Equal(t, "go", e.ID)

	e, ok = store.ForDocument(tokensMethod, DocumentInfo{URI: uri.File("/src/conf/app.toml"), LanguageID: "toml"})
	require.True(t, ok)
	assert.Equal(t, "toml", e.ID)

	_, ok = store.ForDocument(tokensMethod, DocumentInfo{URI: uri.File("/src/readme.md"), LanguageID: "markdown"})
	assert.False(t, ok)
}
