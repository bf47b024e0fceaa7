package registration

import (
	"log/slog"
	"sort"
	"sync"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
	"github.com/lucacox/go-lspsync/internal/logging"
)

// SubscribeFunc performs the host-side subscription of a pending entry.
// Disposables created by the subscription must be attached with Entry.Track.
type SubscribeFunc func(entry *Entry) error

// Store holds the registrations of one session. All lifecycle transitions
// are serialized so that at most one registration per method governs a
// given selector.
type Store struct {
	mutex    sync.Mutex
	entries  map[string]*Entry
	disposed map[string]struct{}
	logger   *slog.Logger
}

// NewStore creates an empty store
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		entries:  make(map[string]*Entry),
		disposed: make(map[string]struct{}),
		logger:   logger,
	}
}

// Activate moves reg from Unregistered to Active. The selector must be
// non-empty and must not overlap a pending or active registration of the
// same method. If subscribe fails the registration stays Unregistered,
// anything it tracked is released and the failure is logged and returned.
func (s *Store) Activate(reg Registration, subscribe SubscribeFunc) (*Entry, error) {
	if reg.ID == "" || reg.Method == "" {
		err := lserrors.NewError(lserrors.InvalidOptions, "registration requires id and method")
		logging.Warn(s.logger, "registration rejected", "id", reg.ID, "method", reg.Method, "error", err)
		return nil, err
	}
	if len(reg.DocumentSelector) == 0 {
		err := lserrors.NewErrorf(lserrors.NegotiationError, "registration %s has an empty document selector", reg.ID)
		logging.Warn(s.logger, "registration rejected", "id", reg.ID, "method", reg.Method, "error", err)
		return nil, err
	}

	s.mutex.Lock()
	if _, gone := s.disposed[reg.ID]; gone {
		s.mutex.Unlock()
		err := lserrors.NewErrorf(lserrors.RegistrationDisposed, "registration id %s was disposed and cannot be reused", reg.ID)
		logging.Warn(s.logger, "registration rejected", "id", reg.ID, "method", reg.Method, "error", err)
		return nil, err
	}
	if _, exists := s.entries[reg.ID]; exists {
		s.mutex.Unlock()
		err := lserrors.NewErrorf(lserrors.RegistrationConflict, "registration id %s already in use", reg.ID)
		logging.Warn(s.logger, "registration rejected", "id", reg.ID, "method", reg.Method, "error", err)
		return nil, err
	}
	for _, other := range s.entries {
		if other.Method == reg.Method && Overlaps(other.DocumentSelector, reg.DocumentSelector) {
			s.mutex.Unlock()
			err := lserrors.NewErrorf(lserrors.RegistrationConflict,
				"registration %s overlaps registration %s for %s", reg.ID, other.ID, reg.Method)
			logging.Error(s.logger, "overlapping registration", "id", reg.ID, "existing", other.ID, "method", reg.Method)
			return nil, err
		}
	}
	entry := newEntry(reg)
	s.entries[reg.ID] = entry
	s.mutex.Unlock()

	logging.Debug(s.logger, "registration pending", "id", reg.ID, "method", reg.Method)

	if subscribe != nil {
		if err := subscribe(entry); err != nil {
			s.mutex.Lock()
			delete(s.entries, reg.ID)
			s.mutex.Unlock()
			entry.release(StateUnregistered)

			logging.Warn(s.logger, "registration failed to activate", "id", reg.ID, "method", reg.Method, "error", err)
			return nil, lserrors.NewErrorf(lserrors.NegotiationError, "activating %s", reg.ID).WithCause(err)
		}
	}

	if !entry.activate() {
		// disposed while subscribing, its subscriptions are already released
		err := lserrors.NewErrorf(lserrors.RegistrationDisposed, "registration %s disposed while activating", reg.ID)
		logging.Warn(s.logger, "registration disposed before activation", "id", reg.ID, "method", reg.Method)
		return nil, err
	}
	logging.Info(s.logger, "registration active", "id", reg.ID, "method", reg.Method, "static", reg.Static)
	return entry, nil
}

// Unregister disposes the registration with the given id, synchronously
// releasing every host subscription tracked while it was active
func (s *Store) Unregister(id string) error {
	s.mutex.Lock()
	entry, ok := s.entries[id]
	if !ok {
		_, gone := s.disposed[id]
		s.mutex.Unlock()
		if gone {
			return lserrors.NewErrorf(lserrors.RegistrationDisposed, "registration %s already disposed", id)
		}
		return lserrors.NewErrorf(lserrors.RegistrationNotFound, "registration %s not found", id)
	}
	delete(s.entries, id)
	s.disposed[id] = struct{}{}
	s.mutex.Unlock()

	entry.release(StateDisposed)
	logging.Info(s.logger, "registration disposed", "id", id, "method", entry.Method)
	return nil
}

// DisposeAll releases every registration, used at session teardown
func (s *Store) DisposeAll() {
	s.mutex.Lock()
	entries := make([]*Entry, 0, len(s.entries))
	for id, e := range s.entries {
		entries = append(entries, e)
		s.disposed[id] = struct{}{}
	}
	s.entries = make(map[string]*Entry)
	s.mutex.Unlock()

	for _, e := range entries {
		e.release(StateDisposed)
	}
	logging.Debug(s.logger, "all registrations disposed", "count", len(entries))
}

// Get returns the live entry with the given id
func (s *Store) Get(id string) (*Entry, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// Active returns the active entries for a method sorted by id
func (s *Store) Active(method string) []*Entry {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make([]*Entry, 0)
	for _, e := range s.entries {
		if e.Method == method && e.Active() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForDocument returns the active registration of method governing doc
func (s *Store) ForDocument(method string, doc DocumentInfo) (*Entry, bool) {
	for _, e := range s.Active(method) {
		if Matches(e.DocumentSelector, doc) {
			return e, true
		}
	}
	return nil, false
}

// Len returns the number of live entries
func (s *Store) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.entries)
}
