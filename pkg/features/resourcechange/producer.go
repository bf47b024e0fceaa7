package resourcechange

import (
	"sync"

	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
)

// Producer numbers the changes under one root and brackets them into
// sessions. The threshold decision is made here: a session with more
// changes than the threshold ends with AllChanged and no list.
type Producer struct {
	mutex     sync.Mutex
	root      uri.URI
	threshold int
	sequence  int64
	inSession bool
	pending   []FileChange
}

// NewProducer creates a producer for root. A negative threshold lists
// every change.
func NewProducer(root uri.URI, threshold int) *Producer {
	return &Producer{
		root:      root,
		threshold: threshold,
	}
}

// Root returns the root the producer numbers changes for
func (p *Producer) Root() uri.URI {
	return p.root
}

// InSession reports whether a session is open
func (p *Producer) InSession() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.inSession
}

// Pending returns the number of changes in the open session
func (p *Producer) Pending() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.pending)
}

// Begin opens a session
func (p *Producer) Begin() (Change, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.inSession {
		return Change{}, lserrors.NewErrorf(lserrors.OrderingViolation, "session already open for %s", p.root)
	}
	p.inSession = true
	p.pending = nil
	p.sequence++
	return Change{Sequence: p.sequence, RootURI: p.root, Kind: UpdateBegin}, nil
}

// Add records a change in the open session
func (p *Producer) Add(event lsp.FileEvent) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.inSession {
		return lserrors.NewErrorf(lserrors.OrderingViolation, "no open session for %s", p.root)
	}
	p.sequence++
	p.pending = append(p.pending, FileChange{Sequence: p.sequence, Event: event})
	return nil
}

// End closes the session and returns its end marker
func (p *Producer) End() (Change, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.inSession {
		return Change{}, lserrors.NewErrorf(lserrors.OrderingViolation, "no open session for %s", p.root)
	}
	p.inSession = false
	p.sequence++

	end := Change{Sequence: p.sequence, RootURI: p.root, Kind: UpdateEnd}
	if p.threshold >= 0 && len(p.pending) > p.threshold {
		end.AllChanged = true
	} else {
		end.FileChanges = p.pending
	}
	p.pending = nil
	return end, nil
}
