// Package registration tracks feature registrations for one analysis session
package registration

import (
	"sync"

	"go.lsp.dev/protocol"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
)

// State represents the lifecycle state of a registration
type State int

const (
	// StateUnregistered is a registration that was never activated or failed to activate
	StateUnregistered State = iota
	// StatePending is a registration whose host subscription is in progress
	StatePending
	// StateActive is a registration subscribed to the host
	StateActive
	// StateDisposed is a registration released by unregistration or teardown
	StateDisposed
)

// String returns a textual representation of the state
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Disposable is a host-side subscription released when a registration ends
type Disposable interface {
	Dispose()
}

// DisposableFunc adapts a function to Disposable
type DisposableFunc func()

// Dispose calls f
func (f DisposableFunc) Dispose() {
	f()
}

// Registration binds a feature method to a document selector and the
// options the service advertised for it
type Registration struct {
	ID               string
	Method           string
	DocumentSelector protocol.DocumentSelector
	Options          interface{}

	// Static is set for registrations derived from the initialize handshake
	Static bool
}

// Entry is the store-owned record of a registration
type Entry struct {
	Registration

	mutex       sync.Mutex
	state       State
	disposables []Disposable
}

func newEntry(reg Registration) *Entry {
	return &Entry{
		Registration: reg,
		state:        StatePending,
	}
}

// State returns the current state
func (e *Entry) State() State {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.state
}

// Active reports whether requests may be issued against the registration
func (e *Entry) Active() bool {
	return e.State() == StateActive
}

// Check returns ErrDisposed once the registration can no longer serve requests
func (e *Entry) Check() error {
	switch e.State() {
	case StateActive:
		return nil
	case StateDisposed:
		return lserrors.NewErrorf(lserrors.RegistrationDisposed, "registration %s disposed", e.ID)
	default:
		return lserrors.NewErrorf(lserrors.RegistrationNotFound, "registration %s not active", e.ID)
	}
}

// Track attaches a host subscription to the registration.
// Tracking on a disposed entry releases d immediately.
func (e *Entry) Track(d Disposable) {
	if d == nil {
		return
	}
	e.mutex.Lock()
	if e.state == StateDisposed {
		e.mutex.Unlock()
		d.Dispose()
		return
	}
	e.disposables = append(e.disposables, d)
	e.mutex.Unlock()
}

// release disposes tracked subscriptions in reverse order and moves the
// entry to the final state
func (e *Entry) release(final State) {
	e.mutex.Lock()
	if e.state == StateDisposed {
		e.mutex.Unlock()
		return
	}
	ds := e.disposables
	e.disposables = nil
	e.state = final
	e.mutex.Unlock()

	for i := len(ds) - 1; i >= 0; i-- {
		ds[i].Dispose()
	}
}

// activate moves a pending entry to Active. It reports false when the
// entry left Pending meanwhile, e.g. it was disposed during subscribe.
func (e *Entry) activate() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.state != StatePending {
		return false
	}
	e.state = StateActive
	return true
}
