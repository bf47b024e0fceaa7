package fakeservice

import (
	"log/slog"

	"github.com/lucacox/go-lspsync/pkg/features/resourcechange"
	"github.com/lucacox/go-lspsync/pkg/features/semantictokens"
)

// ServiceOption is a function that configures a service
type ServiceOption func(*Service)

// WithName sets the reported server name
func WithName(name string) ServiceOption {
	return func(s *Service) {
		s.Name = name
	}
}

// WithVersion sets the reported server version
func WithVersion(version string) ServiceOption {
	return func(s *Service) {
		s.Version = version
	}
}

// WithLogger sets the logger of the service
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithCapability sets one raw server capability
func WithCapability(key string, value interface{}) ServiceOption {
	return func(s *Service) {
		s.capabilities[key] = value
	}
}

// WithSemanticTokens advertises semanticTokensProvider with legend. The
// service computes deltas only when delta is set.
func WithSemanticTokens(legend semantictokens.Legend, delta, rng bool) ServiceOption {
	return func(s *Service) {
		s.legend = legend
		s.delta = delta

		var full interface{} = true
		if delta {
			full = map[string]bool{"delta": true}
		}
		s.capabilities["semanticTokensProvider"] = map[string]interface{}{
			"legend": legend.Protocol(),
			"full":   full,
			"range":  rng,
		}
	}
}

// WithResourceChanges advertises resource changes under experimental
func WithResourceChanges(options resourcechange.Options) ServiceOption {
	return func(s *Service) {
		experimental, ok := s.capabilities["experimental"].(map[string]interface{})
		if !ok {
			experimental = make(map[string]interface{})
			s.capabilities["experimental"] = experimental
		}
		experimental[resourcechange.ExperimentalKey] = options
	}
}
