package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.lsp.dev/jsonrpc2"

	"github.com/lucacox/go-lspsync/internal/logging"
)

// RequestHandler handles a request initiated by the peer
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NotificationHandler handles a notification sent by the peer
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

// Router dispatches peer initiated requests and notifications by method
type Router struct {
	methods       map[string]RequestHandler
	notifications map[string]NotificationHandler
	sessionID     string
	mutex         sync.RWMutex
	logger        *slog.Logger
}

// NewRouter creates an empty router
func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		methods:       make(map[string]RequestHandler),
		notifications: make(map[string]NotificationHandler),
		logger:        logger,
	}
}

// Handle registers a request handler, replacing any previous one
func (r *Router) Handle(method string, handler RequestHandler) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.methods[method] = handler
}

// HandleNotification registers a notification handler, replacing any previous one
func (r *Router) HandleNotification(method string, handler NotificationHandler) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.notifications[method] = handler
}

// BindSession tags the contexts of served traffic with the session id
func (r *Router) BindSession(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.sessionID = id
}

// Remove drops the handlers of method
func (r *Router) Remove(method string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.methods, method)
	delete(r.notifications, method)
}

// GetMethods returns the routed method names
func (r *Router) GetMethods() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	methods := make([]string, 0, len(r.methods)+len(r.notifications))
	for m := range r.methods {
		methods = append(methods, m)
	}
	for m := range r.notifications {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// HandleRequest routes a request. Unknown methods fail with MethodNotFound.
func (r *Router) HandleRequest(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	r.mutex.RLock()
	handler, ok := r.methods[method]
	r.mutex.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%q: %w", method, jsonrpc2.ErrMethodNotFound)
	}
	return handler(ctx, params)
}

// HandleNotificationMessage routes a notification. Unknown notifications are dropped.
func (r *Router) HandleNotificationMessage(ctx context.Context, method string, params json.RawMessage) error {
	r.mutex.RLock()
	handler, ok := r.notifications[method]
	r.mutex.RUnlock()

	if !ok {
		logging.Debug(r.logger, "dropping unhandled notification", "method", method)
		return nil
	}
	return handler(ctx, params)
}

// Handler adapts the router to a jsonrpc2 handler
func (r *Router) Handler() jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		r.mutex.RLock()
		session := r.sessionID
		r.mutex.RUnlock()
		if session != "" {
			ctx = WithSessionID(ctx, session)
		}

		switch req := req.(type) {
		case *jsonrpc2.Call:
			result, err := r.HandleRequest(ctx, req.Method(), req.Params())
			if err != nil {
				logging.Warn(r.logger, "request handler failed", "method", req.Method(), "session", session, "error", err)
			}
			return reply(ctx, result, err)
		default:
			if err := r.HandleNotificationMessage(ctx, req.Method(), req.Params()); err != nil {
				logging.Warn(r.logger, "notification handler failed", "method", req.Method(), "session", session, "error", err)
			}
			return reply(ctx, nil, nil)
		}
	}
}
