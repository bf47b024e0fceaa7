package protocol

import (
	"context"
	"io"
	"sort"
	"sync"
)

// Transport is the byte stream a Conn frames JSON-RPC messages on
type Transport = io.ReadWriteCloser

// TransportOptions configure the creation of a transport
type TransportOptions struct {
	// Command and Args start the language service for process transports
	Command string
	Args    []string
	Env     []string
	Dir     string
}

// TransportCreator is a factory function for creating transports
type TransportCreator func(ctx context.Context, options TransportOptions) (Transport, error)

// TransportRegistry maintains a registry of available transport creators
type TransportRegistry struct {
	creators map[string]TransportCreator
	mu       sync.RWMutex
}

// DefaultTransportRegistry is the default transport registry
var DefaultTransportRegistry = NewTransportRegistry()

// TransportType constants for commonly used transports
const (
	TransportTypeStdio   = "stdio"
	TransportTypeProcess = "process"
)

// NewTransportRegistry creates a new transport registry
func NewTransportRegistry() *TransportRegistry {
	return &TransportRegistry{
		creators: make(map[string]TransportCreator),
	}
}

// Register registers a new transport creator
func (r *TransportRegistry) Register(name string, creator TransportCreator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creators[name] = creator
}

// Create creates a new transport with the specified type
func (r *TransportRegistry) Create(ctx context.Context, transportType string, options TransportOptions) (Transport, error) {
	r.mu.RLock()
	creator, exists := r.creators[transportType]
	r.mu.RUnlock()

	if !exists {
		return nil, &TransportError{
			Message: "transport type not supported: " + transportType,
		}
	}

	t, err := creator(ctx, options)
	if err != nil {
		return nil, (&TransportError{Message: "creating " + transportType + " transport"}).WithCause(err)
	}
	return t, nil
}

// HasTransport checks if a specific transport is registered
func (r *TransportRegistry) HasTransport(transportType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.creators[transportType]
	return exists
}

// GetSupportedTransports returns the registered transport types, sorted
func (r *TransportRegistry) GetSupportedTransports() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	transports := make([]string, 0, len(r.creators))
	for name := range r.creators {
		transports = append(transports, name)
	}
	sort.Strings(transports)
	return transports
}

// TransportError represents a transport error
type TransportError struct {
	Message string
	Cause   error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements the unwrapping interface
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// WithCause adds a causal error
func (e *TransportError) WithCause(err error) *TransportError {
	e.Cause = err
	return e
}
