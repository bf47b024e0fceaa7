package resourcechange

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"go.lsp.dev/uri"

	"github.com/lucacox/go-lspsync/internal/logging"
)

// Consumer receives the interpreted sessions of a Coalescer
type Consumer interface {
	// Stale is called when a session opens. State derived from files
	// under root should be treated as stale until the session ends.
	Stale(root uri.URI)
	// InvalidateAll is called when a session ends with too many changes to list
	InvalidateAll(root uri.URI)
	// Apply is called when a session ends with its changes in ascending
	// sequence order
	Apply(root uri.URI, changes []FileChange)
}

// ViolationHandler is implemented by consumers that want ordering
// violations reported to them as well
type ViolationHandler interface {
	OrderingViolation(v *OrderingViolation)
}

type streamState struct {
	last      int64
	seen      bool
	inSession bool
}

// Coalescer checks the ordering of resource change streams, one per root,
// and hands complete sessions to a Consumer.
//
// Consumer callbacks run while the coalescer holds its lock, so they are
// never concurrent and must not call back into the coalescer.
type Coalescer struct {
	mutex    sync.Mutex
	streams  map[uri.URI]*streamState
	consumer Consumer
	logger   *slog.Logger
}

// NewCoalescer creates a coalescer feeding consumer
func NewCoalescer(consumer Consumer, logger *slog.Logger) *Coalescer {
	return &Coalescer{
		streams:  make(map[uri.URI]*streamState),
		consumer: consumer,
		logger:   logger,
	}
}

// InSession reports whether a session is open for root
func (c *Coalescer) InSession(root uri.URI) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	st, ok := c.streams[root]
	return ok && st.inSession
}

// Roots returns the roots seen so far
func (c *Coalescer) Roots() []uri.URI {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	roots := make([]uri.URI, 0, len(c.streams))
	for r := range c.streams {
		roots = append(roots, r)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return roots
}

// ProcessParams processes every change of a notification in order. A
// violation does not stop the changes after it; all violations are returned.
func (c *Coalescer) ProcessParams(params Params) error {
	var errs []error
	for _, change := range params.Changes {
		if err := c.Process(change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Process interprets one session marker.
//
// Sequence numbers of a root must strictly increase across markers and
// the changes listed in end markers. A marker that breaks this, an end
// without a begin or a nested begin is returned as an *OrderingViolation
// and not applied. A session whose end marker is rejected is closed and
// its root stays stale.
func (c *Coalescer) Process(change Change) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	st, ok := c.streams[change.RootURI]
	if !ok {
		st = &streamState{}
		c.streams[change.RootURI] = st
	}

	var v *OrderingViolation
	switch change.Kind {
	case UpdateBegin:
		v = c.begin(st, change)
	case UpdateEnd:
		v = c.end(st, change)
	default:
		v = &OrderingViolation{Root: change.RootURI, Previous: st.last, Got: change.Sequence, Reason: "unknown marker " + change.Kind.String()}
	}

	if v != nil {
		logging.Warn(c.logger, "resource change stream violated ordering", "root", v.Root, "previous", v.Previous, "got", v.Got, "reason", v.Reason)
		if h, ok := c.consumer.(ViolationHandler); ok {
			h.OrderingViolation(v)
		}
		return v
	}
	return nil
}

func (c *Coalescer) begin(st *streamState, change Change) *OrderingViolation {
	if st.inSession {
		return &OrderingViolation{Root: change.RootURI, Previous: st.last, Got: change.Sequence, Reason: "begin inside an open session"}
	}
	if st.seen && change.Sequence <= st.last {
		return &OrderingViolation{Root: change.RootURI, Previous: st.last, Got: change.Sequence, Reason: "sequence did not increase"}
	}

	st.seen = true
	st.last = change.Sequence
	st.inSession = true

	logging.Debug(c.logger, "resource change session opened", "root", change.RootURI, "sequence", change.Sequence)
	c.consumer.Stale(change.RootURI)
	return nil
}

func (c *Coalescer) end(st *streamState, change Change) *OrderingViolation {
	if !st.inSession {
		return &OrderingViolation{Root: change.RootURI, Previous: st.last, Got: change.Sequence, Reason: "end without begin"}
	}
	st.inSession = false

	previous := st.last
	if !change.AllChanged {
		for _, fc := range change.FileChanges {
			if fc.Sequence <= previous {
				return &OrderingViolation{Root: change.RootURI, Previous: previous, Got: fc.Sequence, Reason: "file change sequence did not increase"}
			}
			previous = fc.Sequence
		}
	}
	if change.Sequence <= previous {
		return &OrderingViolation{Root: change.RootURI, Previous: previous, Got: change.Sequence, Reason: "end sequence did not increase"}
	}
	st.last = change.Sequence

	if change.AllChanged {
		logging.Debug(c.logger, "resource change session ended, everything changed", "root", change.RootURI, "sequence", change.Sequence)
		c.consumer.InvalidateAll(change.RootURI)
		return nil
	}

	logging.Debug(c.logger, "resource change session ended", "root", change.RootURI, "sequence", change.Sequence, "changes", len(change.FileChanges))
	c.consumer.Apply(change.RootURI, change.FileChanges)
	return nil
}
