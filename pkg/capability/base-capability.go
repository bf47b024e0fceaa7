package capability

import (
	"log/slog"

	"github.com/lucacox/go-lspsync/internal/logging"
	"github.com/lucacox/go-lspsync/pkg/protocol"
	"github.com/lucacox/go-lspsync/pkg/registration"
)

// BaseFeature holds what every feature shares. Features embed it and
// override what they need.
type BaseFeature struct {
	method string
	logger *slog.Logger
}

// NewBaseFeature creates the shared part of a feature
func NewBaseFeature(method string, logger *slog.Logger) BaseFeature {
	return BaseFeature{
		method: method,
		logger: logger,
	}
}

// Method returns the registration method
func (b *BaseFeature) Method() string {
	return b.method
}

// Logger returns the feature logger
func (b *BaseFeature) Logger() *slog.Logger {
	return b.logger
}

// Activate activates reg in the session store. Failures are logged by the
// store and returned so the caller can report them; the session continues.
func (b *BaseFeature) Activate(session *protocol.Session, reg registration.Registration, subscribe registration.SubscribeFunc) (*registration.Entry, error) {
	entry, err := session.Store.Activate(reg, subscribe)
	if err != nil {
		logging.Debug(b.logger, "feature registration not activated", "method", b.method, "id", reg.ID, "error", err)
		return nil, err
	}
	return entry, nil
}

// Shutdown is a no-op in the base implementation
func (b *BaseFeature) Shutdown(session *protocol.Session) {}
