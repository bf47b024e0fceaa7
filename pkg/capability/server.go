package capability

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	lsp "go.lsp.dev/protocol"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
	"github.com/lucacox/go-lspsync/pkg/registration"
)

// ServerCapabilities is the capability document returned by initialize.
// Providers are kept raw because most of them are "boolean | options".
type ServerCapabilities struct {
	raw []byte
}

// NewServerCapabilities wraps the raw capabilities object
func NewServerCapabilities(raw json.RawMessage) *ServerCapabilities {
	return &ServerCapabilities{raw: raw}
}

// Raw returns the raw document
func (c *ServerCapabilities) Raw() json.RawMessage {
	return c.raw
}

// Get returns the value at a gjson path such as "semanticTokensProvider.full"
func (c *ServerCapabilities) Get(path string) gjson.Result {
	if c == nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(c.raw, path)
}

// Provider normalizes the "boolean | options" provider at path into dst.
//
// An absent, null or false provider reports false. A literal true reports
// true and leaves dst untouched, so dst must hold the default options. An
// object is decoded into dst. Anything else is a negotiation error.
func (c *ServerCapabilities) Provider(path string, dst interface{}) (bool, error) {
	r := c.Get(path)
	switch {
	case !r.Exists(), r.Type == gjson.Null, r.Type == gjson.False:
		return false, nil
	case r.Type == gjson.True:
		return true, nil
	case r.IsObject():
		if dst != nil {
			if err := json.Unmarshal([]byte(r.Raw), dst); err != nil {
				return false, lserrors.NewErrorf(lserrors.NegotiationError, "malformed %s", path).WithCause(err)
			}
		}
		return true, nil
	default:
		return false, lserrors.NewErrorf(lserrors.NegotiationError, "malformed %s", path).WithDetails(r.Raw)
	}
}

// StaticOptions are the registration fields a provider object may carry
type StaticOptions struct {
	// ID is set when the server wants the registration to be addressable
	ID               string               `json:"id,omitempty"`
	DocumentSelector lsp.DocumentSelector `json:"documentSelector,omitempty"`
}

// StaticRegistration builds the registration of a statically advertised
// feature. The server supplied id and selector win; otherwise a local id is
// generated and the client selector is used.
func StaticRegistration(method string, static StaticOptions, selector lsp.DocumentSelector, options interface{}) registration.Registration {
	id := static.ID
	if id == "" {
		id = uuid.New().String()
	}
	if len(static.DocumentSelector) > 0 {
		selector = static.DocumentSelector
	}
	return registration.Registration{
		ID:               id,
		Method:           method,
		DocumentSelector: selector,
		Options:          options,
		Static:           true,
	}
}
