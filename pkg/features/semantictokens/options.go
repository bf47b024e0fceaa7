package semantictokens

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	lsp "go.lsp.dev/protocol"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
	"github.com/lucacox/go-lspsync/pkg/capability"
)

// Options are the provider options after normalization
type Options struct {
	capability.StaticOptions
	Legend Legend
	Full   bool
	Delta  bool
	Range  bool
}

// DefaultOptions are what a literal true provider means: full results,
// no delta and no range, interpreted with the legend the client declared.
func DefaultOptions(legend Legend) Options {
	return Options{
		Legend: legend,
		Full:   true,
	}
}

// wireOptions mirrors the provider object. Full and range are
// "boolean | object" so they stay raw.
type wireOptions struct {
	capability.StaticOptions
	Legend *lsp.SemanticTokensLegend `json:"legend"`
	Full   json.RawMessage           `json:"full"`
	Range  json.RawMessage           `json:"range"`
}

// ReadOptions normalizes the semanticTokensProvider entry of the server
// capabilities. The boolean reports whether the provider is present. A
// literal true means defaults; an object enables only the request kinds it
// names.
func ReadOptions(server *capability.ServerCapabilities, defaults Options) (Options, bool, error) {
	var wire wireOptions
	present, err := server.Provider("semanticTokensProvider", &wire)
	if err != nil || !present {
		return Options{}, false, err
	}
	if server.Get("semanticTokensProvider").Type == gjson.True {
		if len(defaults.Legend.TokenTypes) == 0 {
			return Options{}, false, lserrors.NewError(lserrors.NegotiationError, "semantic tokens legend has no token types")
		}
		return defaults, true, nil
	}
	opts, err := normalize(wire, defaults)
	if err != nil {
		return Options{}, false, err
	}
	return opts, true, nil
}

// ParseOptions normalizes the registerOptions of a dynamic registration.
// Missing options mean defaults. Request kinds the object leaves out are
// disabled.
func ParseOptions(raw json.RawMessage, defaults Options) (Options, error) {
	if len(raw) == 0 || gjson.ParseBytes(raw).Type == gjson.Null {
		return defaults, nil
	}
	var wire wireOptions
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Options{}, lserrors.NewError(lserrors.NegotiationError, "malformed semantic tokens options").WithCause(err)
	}
	return normalize(wire, defaults)
}

func normalize(wire wireOptions, defaults Options) (Options, error) {
	opts := Options{
		StaticOptions: wire.StaticOptions,
		Legend:        defaults.Legend,
	}

	if wire.Legend != nil {
		opts.Legend = LegendFrom(*wire.Legend)
	}
	if len(opts.Legend.TokenTypes) == 0 {
		return Options{}, lserrors.NewError(lserrors.NegotiationError, "semantic tokens legend has no token types")
	}

	if len(wire.Full) > 0 {
		full := gjson.ParseBytes(wire.Full)
		switch {
		case full.Type == gjson.True:
			opts.Full, opts.Delta = true, false
		case full.Type == gjson.False, full.Type == gjson.Null:
			opts.Full, opts.Delta = false, false
		case full.IsObject():
			opts.Full = true
			opts.Delta = full.Get("delta").Bool()
		default:
			return Options{}, lserrors.NewError(lserrors.NegotiationError, "malformed semantic tokens full option").WithDetails(full.Raw)
		}
	}

	if len(wire.Range) > 0 {
		rng := gjson.ParseBytes(wire.Range)
		switch {
		case rng.Type == gjson.True, rng.IsObject():
			opts.Range = true
		case rng.Type == gjson.False, rng.Type == gjson.Null:
			opts.Range = false
		default:
			return Options{}, lserrors.NewError(lserrors.NegotiationError, "malformed semantic tokens range option").WithDetails(rng.Raw)
		}
	}
	return opts, nil
}
