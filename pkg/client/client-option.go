package client

import (
	"log/slog"

	lsp "go.lsp.dev/protocol"

	"github.com/lucacox/go-lspsync/internal/logging"
	"github.com/lucacox/go-lspsync/pkg/config"
	"github.com/lucacox/go-lspsync/pkg/features/resourcechange"
	"github.com/lucacox/go-lspsync/pkg/features/semantictokens"
	"github.com/lucacox/go-lspsync/pkg/protocol"
)

// ClientOption is a function that configures a client
type ClientOption func(*Client)

// WithClientID sets the client ID
func WithClientID(id string) ClientOption {
	return func(c *Client) {
		c.ID = id
	}
}

// WithClientInfo sets the name and version sent in initialize
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) {
		c.Info = lsp.ClientInfo{Name: name, Version: version}
	}
}

// WithLogger sets the logging level for the client
func WithLogger(level slog.Level) ClientOption {
	lf := logging.NewLoggerFactory()
	lf.SetLevel(level)
	return func(c *Client) {
		c.loggerFactory = lf
	}
}

// WithLoggerFactory uses an existing logger factory
func WithLoggerFactory(lf *logging.LoggerFactory) ClientOption {
	return func(c *Client) {
		c.loggerFactory = lf
	}
}

// WithConfig applies a loaded configuration. Options given after it
// override the values it sets.
func WithConfig(cfg config.Config) ClientOption {
	return func(c *Client) {
		c.config = cfg
		if cfg.Server.RootURI != "" {
			c.rootURI = lsp.DocumentURI(cfg.Server.RootURI)
		}
	}
}

// WithRootURI sets the workspace root sent in initialize. A file root is
// also the directory watched for resource changes.
func WithRootURI(root lsp.DocumentURI) ClientOption {
	return func(c *Client) {
		c.rootURI = root
	}
}

// WithTransportRegistry sets a custom transport registry for the client
func WithTransportRegistry(registry *protocol.TransportRegistry) ClientOption {
	return func(c *Client) {
		c.transportRegistry = registry
	}
}

// WithDocumentSelector sets the selector used for static registrations,
// which carry none of their own
func WithDocumentSelector(selector lsp.DocumentSelector) ClientOption {
	return func(c *Client) {
		c.selector = selector
	}
}

// WithHost renders semantic tokens on host instead of the client's own cache
func WithHost(host semantictokens.Host) ClientOption {
	return func(c *Client) {
		c.host = host
	}
}

// WithMiddleware intercepts semantic token requests
func WithMiddleware(middleware semantictokens.Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = middleware
	}
}

// WithConsumer receives the resource change sessions sent by the service
func WithConsumer(consumer resourcechange.Consumer) ClientOption {
	return func(c *Client) {
		c.consumer = consumer
	}
}

// WithSemanticTokens enables or disables the semantic tokens feature
func WithSemanticTokens(enabled bool) ClientOption {
	return func(c *Client) {
		c.config.SemanticTokens.Enabled = enabled
	}
}

// WithResourceChanges enables or disables the resource change feature
func WithResourceChanges(enabled bool) ClientOption {
	return func(c *Client) {
		c.config.ResourceChanges.Enabled = enabled
	}
}
