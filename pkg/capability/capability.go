// Package capability negotiates document features between the adapter and a language service
package capability

import (
	"encoding/json"
	"sort"

	lsp "go.lsp.dev/protocol"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
	"github.com/lucacox/go-lspsync/internal/logging"
	"github.com/lucacox/go-lspsync/pkg/protocol"
)

// Feature is a document feature whose activation is negotiated with the service
type Feature interface {
	// Method returns the registration method of the feature
	Method() string

	// FillClientCapabilities declares what the feature can consume. It only
	// touches the sub-fields the feature governs.
	FillClientCapabilities(caps *lsp.ClientCapabilities)

	// Initialize reads the server capabilities after the handshake and
	// activates a static registration when the feature is advertised
	Initialize(session *protocol.Session, server *ServerCapabilities, selector lsp.DocumentSelector) error

	// Register activates a dynamic registration sent by the service
	Register(session *protocol.Session, id string, options json.RawMessage) error

	// Shutdown releases feature state kept outside the registration store
	Shutdown(session *protocol.Session)
}

// FeatureFactory is a function type that creates a new feature
type FeatureFactory func(...interface{}) (Feature, error)

// FeatureRegistry is a registry of feature factories and instances
type FeatureRegistry struct {
	factories map[string]FeatureFactory

	features map[string]Feature
}

// NewFeatureRegistry creates a new feature registry
func NewFeatureRegistry() *FeatureRegistry {
	return &FeatureRegistry{
		factories: make(map[string]FeatureFactory),
		features:  make(map[string]Feature),
	}
}

// RegisterFactory registers a new feature factory
func (r *FeatureRegistry) RegisterFactory(method string, factory FeatureFactory) {
	r.factories[method] = factory
}

// GetSupportedMethods returns the methods a factory is registered for
func (r *FeatureRegistry) GetSupportedMethods() []string {
	methods := make([]string, 0, len(r.factories))
	for m := range r.factories {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Create creates a new feature instance
func (r *FeatureRegistry) Create(method string, options ...interface{}) (Feature, error) {
	factory, exists := r.factories[method]
	if !exists {
		return nil, lserrors.NewErrorf(lserrors.CapabilityNotSupported, "feature not supported: %s", method)
	}

	return factory(options...)
}

// AddFeature adds a feature instance, replacing one with the same method
func (r *FeatureRegistry) AddFeature(feature Feature) {
	r.features[feature.Method()] = feature
}

// GetFeature returns a feature by method
func (r *FeatureRegistry) GetFeature(method string) Feature {
	return r.features[method]
}

// GetFeatures returns the feature instances sorted by method
func (r *FeatureRegistry) GetFeatures() []Feature {
	features := make([]Feature, 0, len(r.features))
	for _, f := range r.features {
		features = append(features, f)
	}
	sort.Slice(features, func(i, j int) bool { return features[i].Method() < features[j].Method() })
	return features
}

// DeclareClientCapabilities fills caps with the declarations of every feature
func (r *FeatureRegistry) DeclareClientCapabilities(caps *lsp.ClientCapabilities) *lsp.ClientCapabilities {
	if caps == nil {
		caps = &lsp.ClientCapabilities{}
	}
	for _, f := range r.GetFeatures() {
		f.FillClientCapabilities(caps)
	}
	return caps
}

// Initialize runs static negotiation for every feature. A failing feature
// stays inactive and is logged; the others keep going.
func (r *FeatureRegistry) Initialize(session *protocol.Session, server *ServerCapabilities, selector lsp.DocumentSelector) []error {
	var errs []error
	for _, f := range r.GetFeatures() {
		if err := f.Initialize(session, server, selector); err != nil {
			logging.Warn(session.Logger, "feature left inactive", "method", f.Method(), "error", err)
			errs = append(errs, err)
		}
	}
	return errs
}

// Register routes a dynamic registration to the feature owning method
func (r *FeatureRegistry) Register(session *protocol.Session, reg DynamicRegistration) error {
	f, ok := r.features[reg.Method]
	if !ok {
		return lserrors.NewErrorf(lserrors.CapabilityNotSupported, "no feature for %s", reg.Method)
	}
	return f.Register(session, reg.ID, reg.RegisterOptions)
}

// Shutdown shuts every feature down
func (r *FeatureRegistry) Shutdown(session *protocol.Session) {
	for _, f := range r.GetFeatures() {
		f.Shutdown(session)
	}
}

// DynamicRegistration is one entry of a client/registerCapability request
// with its options kept raw for the owning feature to decode
type DynamicRegistration struct {
	ID              string          `json:"id"`
	Method          string          `json:"method"`
	RegisterOptions json.RawMessage `json:"registerOptions,omitempty"`
}

// RegistrationParams are the params of client/registerCapability
type RegistrationParams struct {
	Registrations []DynamicRegistration `json:"registrations"`
}

// Unregistration is one entry of a client/unregisterCapability request
type Unregistration struct {
	ID     string `json:"id"`
	Method string `json:"method"`
}

// UnregistrationParams are the params of client/unregisterCapability. The
// misspelled key is the one the protocol defines.
type UnregistrationParams struct {
	Unregisterations []Unregistration `json:"unregisterations"`
}
