package resourcechange

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
	"github.com/lucacox/go-lspsync/internal/logging"
	"github.com/lucacox/go-lspsync/pkg/capability"
	"github.com/lucacox/go-lspsync/pkg/protocol"
	"github.com/lucacox/go-lspsync/pkg/registration"
)

// Config configures both directions of the feature
type Config struct {
	// Root is the directory watched for registrations asking for file
	// events. Empty disables watching.
	Root string
	// Debounce is the quiet period closing a produced session
	Debounce     time.Duration
	IgnoreHidden bool

	// Consumer receives sessions sent by the service
	Consumer Consumer
}

// Feature handles watched file registrations. Registrations with
// watchResourceChanges receive bracketed sessions, others plain watched
// file notifications. Sessions sent by the service go through a Coalescer.
type Feature struct {
	capability.BaseFeature
	config    Config
	coalescer *Coalescer
}

// NewFeature creates the resource change feature
func NewFeature(config Config, logger *slog.Logger) *Feature {
	consumer := config.Consumer
	if consumer == nil {
		consumer = logConsumer{logger: logger}
	}
	return &Feature{
		BaseFeature: capability.NewBaseFeature(lsp.MethodWorkspaceDidChangeWatchedFiles, logger),
		config:      config,
		coalescer:   NewCoalescer(consumer, logger),
	}
}

// NewFeatureFactory returns a factory for the feature registry. The
// factory accepts a Config and a *slog.Logger.
func NewFeatureFactory() capability.FeatureFactory {
	return func(options ...interface{}) (capability.Feature, error) {
		var (
			config Config
			logger = logging.Discard()
		)
		for _, opt := range options {
			switch o := opt.(type) {
			case Config:
				config = o
			case *slog.Logger:
				logger = o
			}
		}
		return NewFeature(config, logger), nil
	}
}

// Coalescer returns the coalescer fed by the service's notifications
func (f *Feature) Coalescer() *Coalescer {
	return f.coalescer
}

// FillClientCapabilities declares dynamic watched file registration and
// resource change support
func (f *Feature) FillClientCapabilities(caps *lsp.ClientCapabilities) {
	capability.Workspace(caps).DidChangeWatchedFiles = &lsp.DidChangeWatchedFilesWorkspaceClientCapabilities{
		DynamicRegistration: true,
	}
	capability.SetExperimental(caps, ExperimentalKey, map[string]interface{}{
		"supportsResourceChanges": true,
	})
}

// Initialize routes the service's resource change notifications and
// activates a static registration when the service advertises
// experimental.resourceChanges with options
func (f *Feature) Initialize(session *protocol.Session, server *capability.ServerCapabilities, selector lsp.DocumentSelector) error {
	session.Router.HandleNotification(Method, func(ctx context.Context, raw json.RawMessage) error {
		var params Params
		if err := json.Unmarshal(raw, &params); err != nil {
			return lserrors.NewError(lserrors.ProtocolShapeError, "malformed resource change notification").WithCause(err)
		}
		return f.coalescer.ProcessParams(params)
	})

	var opts Options
	present, err := server.Provider("experimental."+ExperimentalKey, &opts)
	if err != nil || !present {
		return err
	}
	if t := opts.Threshold(); t < Unbounded {
		return lserrors.NewErrorf(lserrors.NegotiationError, "change threshold %d is negative", t)
	}
	opts.WatchResourceChanges = true

	reg := capability.StaticRegistration(f.Method(), capability.StaticOptions{}, watcherSelector(opts.Watchers), opts)
	return f.activate(session, reg, opts)
}

// Register activates a dynamic watched files registration
func (f *Feature) Register(session *protocol.Session, id string, raw json.RawMessage) error {
	opts, err := ParseOptions(raw)
	if err != nil {
		return err
	}
	reg := registration.Registration{
		ID:               id,
		Method:           f.Method(),
		DocumentSelector: watcherSelector(opts.Watchers),
		Options:          opts,
	}
	return f.activate(session, reg, opts)
}

// Shutdown stops routing resource change notifications
func (f *Feature) Shutdown(session *protocol.Session) {
	session.Router.Remove(Method)
}

func (f *Feature) activate(session *protocol.Session, reg registration.Registration, opts Options) error {
	_, err := f.Activate(session, reg, func(entry *registration.Entry) error {
		if f.config.Root == "" {
			return nil
		}

		emit := watchedFilesEmitter(session)
		threshold := Unbounded
		if opts.WatchResourceChanges {
			emit = resourceChangesEmitter(session)
			threshold = opts.Threshold()
		}
		watchOpts := opts
		watchOpts.ChangeThreshold = &threshold

		w, err := NewFSWatcher(context.Background(), WatcherConfig{
			Root:         f.config.Root,
			Options:      watchOpts,
			Debounce:     f.config.Debounce,
			IgnoreHidden: f.config.IgnoreHidden,
		}, emit, f.Logger())
		if err != nil {
			return err
		}
		entry.Track(w)
		return nil
	})
	return err
}

// watcherSelector derives the selector a registration is stored under
// from its glob patterns
func watcherSelector(watchers []lsp.FileSystemWatcher) lsp.DocumentSelector {
	if len(watchers) == 0 {
		return lsp.DocumentSelector{{Scheme: uri.FileScheme}}
	}
	selector := make(lsp.DocumentSelector, 0, len(watchers))
	for _, w := range watchers {
		selector = append(selector, &lsp.DocumentFilter{Scheme: uri.FileScheme, Pattern: w.GlobPattern})
	}
	return selector
}

func resourceChangesEmitter(session *protocol.Session) Emitter {
	return func(ctx context.Context, params Params) error {
		return session.Notify(ctx, Method, params)
	}
}

// watchedFilesEmitter flattens sessions into plain watched file
// notifications sent when a session ends
func watchedFilesEmitter(session *protocol.Session) Emitter {
	return func(ctx context.Context, params Params) error {
		var events []*lsp.FileEvent
		for _, change := range params.Changes {
			if change.Kind != UpdateEnd {
				continue
			}
			for i := range change.FileChanges {
				events = append(events, &change.FileChanges[i].Event)
			}
		}
		if len(events) == 0 {
			return nil
		}
		return session.Notify(ctx, lsp.MethodWorkspaceDidChangeWatchedFiles, &lsp.DidChangeWatchedFilesParams{Changes: events})
	}
}

// logConsumer is used when no consumer is configured
type logConsumer struct {
	logger *slog.Logger
}

func (c logConsumer) Stale(root uri.URI) {
	logging.Debug(c.logger, "resources stale", "root", root)
}

func (c logConsumer) InvalidateAll(root uri.URI) {
	logging.Info(c.logger, "all resources changed", "root", root)
}

func (c logConsumer) Apply(root uri.URI, changes []FileChange) {
	logging.Info(c.logger, "resources changed", "root", root, "count", len(changes))
}
