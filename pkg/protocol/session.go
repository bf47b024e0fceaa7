package protocol

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lsp "go.lsp.dev/protocol"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
	"github.com/lucacox/go-lspsync/pkg/registration"
)

// Session context keys
type sessionKeyType string

const sessionIDKey sessionKeyType = "session_id"

// WithSessionID adds a session ID to the context. Sessions tag the
// contexts of their outgoing requests and of the peer traffic they serve.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// GetSessionID retrieves a session ID from the context
func GetSessionID(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(sessionIDKey).(string)
	return sessionID, ok
}

// SessionState represents the state of a session with the language service
type SessionState int

const (
	// SessionStateUninitialized represents a session that has not yet been initialized
	SessionStateUninitialized SessionState = iota
	// SessionStateInitializing represents a session that is being initialized
	SessionStateInitializing
	// SessionStateActive represents an active session
	SessionStateActive
	// SessionStateClosing represents a session that is being closed
	SessionStateClosing
	// SessionStateClosed represents a closed session
	SessionStateClosed
)

// String returns a textual representation of the session state
func (s SessionState) String() string {
	switch s {
	case SessionStateUninitialized:
		return "uninitialized"
	case SessionStateInitializing:
		return "initializing"
	case SessionStateActive:
		return "active"
	case SessionStateClosing:
		return "closing"
	case SessionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the context object of one analysis session. Every lifecycle
// operation receives it explicitly; nothing about a session is global.
type Session struct {
	ID string

	// Store holds the registrations of this session
	Store *registration.Store
	// Dispatcher sends mediated requests, gated on the session being active
	Dispatcher *Dispatcher
	// Router serves requests and notifications from the service
	Router *Router
	Logger *slog.Logger

	mutex  sync.RWMutex
	state  SessionState
	client RPCClient

	ServerInfo         *lsp.ServerInfo
	ServerCapabilities json.RawMessage

	CreatedAt    time.Time
	LastActiveAt time.Time
}

// NewSession creates a session sending over client and serving peer traffic through router
func NewSession(client RPCClient, router *Router, logger *slog.Logger) *Session {
	if router == nil {
		router = NewRouter(logger)
	}
	s := &Session{
		ID:           uuid.New().String(),
		Store:        registration.NewStore(logger),
		Router:       router,
		Logger:       logger,
		state:        SessionStateUninitialized,
		client:       client,
		CreatedAt:    time.Now(),
		LastActiveAt: time.Now(),
	}
	s.Dispatcher = NewDispatcher(s, logger)
	s.Dispatcher.sessionID = s.ID
	router.BindSession(s.ID)
	return s
}

// GetState returns the current session state
func (s *Session) GetState() SessionState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}

// SetState sets the session state
func (s *Session) SetState(state SessionState) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state = state
}

// IsActive checks if the session is active
func (s *Session) IsActive() bool {
	return s.GetState() == SessionStateActive
}

// UpdateLastActiveTime updates the last activity timestamp
func (s *Session) UpdateLastActiveTime() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.LastActiveAt = time.Now()
}

// Call sends an RPC request through the session
func (s *Session) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if !s.IsActive() {
		return nil, lserrors.NewErrorf(lserrors.SessionNotActive, "session %s is %s", s.ID, s.GetState())
	}

	s.UpdateLastActiveTime()
	return s.client.Call(WithSessionID(ctx, s.ID), method, params)
}

// Notify sends an RPC notification through the session
func (s *Session) Notify(ctx context.Context, method string, params interface{}) error {
	if !s.IsActive() {
		return lserrors.NewErrorf(lserrors.SessionNotActive, "session %s is %s", s.ID, s.GetState())
	}

	s.UpdateLastActiveTime()
	return s.client.Notify(WithSessionID(ctx, s.ID), method, params)
}

// Close tears the session down, disposing every registration
func (s *Session) Close() {
	s.mutex.Lock()
	if s.state == SessionStateClosed {
		s.mutex.Unlock()
		return
	}
	s.state = SessionStateClosing
	s.mutex.Unlock()

	s.Store.DisposeAll()

	s.SetState(SessionStateClosed)
}
