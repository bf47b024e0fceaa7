package resourcechange

import (
	"encoding/json"

	lsp "go.lsp.dev/protocol"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
	"github.com/lucacox/go-lspsync/pkg/registration"
)

// Unbounded is the threshold under which every change is listed
const Unbounded = -1

// Options extend the watched files registration options
type Options struct {
	Watchers []lsp.FileSystemWatcher `json:"watchers"`

	// WatchResourceChanges asks for bracketed sessions instead of plain
	// watched file notifications
	WatchResourceChanges bool `json:"watchResourceChanges,omitempty"`

	// ChangeThreshold is the number of discrete changes above which a
	// session only reports that everything changed
	ChangeThreshold *int `json:"changeThreshold,omitempty"`
}

// Threshold returns the change threshold, Unbounded when not set
func (o Options) Threshold() int {
	if o.ChangeThreshold == nil {
		return Unbounded
	}
	return *o.ChangeThreshold
}

// ParseOptions decodes registration options
func ParseOptions(raw json.RawMessage) (Options, error) {
	var opts Options
	if len(raw) == 0 {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return Options{}, lserrors.NewError(lserrors.NegotiationError, "malformed resource change options").WithCause(err)
	}
	if t := opts.Threshold(); t < Unbounded {
		return Options{}, lserrors.NewErrorf(lserrors.NegotiationError, "change threshold %d is negative", t)
	}
	return opts, nil
}

// Accepts reports whether event is of interest to some watcher. With no
// watchers every event is. path is the slash separated file path.
func (o Options) Accepts(path string, changeType lsp.FileChangeType) bool {
	if len(o.Watchers) == 0 {
		return true
	}
	for _, w := range o.Watchers {
		if !watchesKind(w.Kind, changeType) {
			continue
		}
		if registration.MatchPattern(w.GlobPattern, path) {
			return true
		}
	}
	return false
}

func watchesKind(kind lsp.WatchKind, changeType lsp.FileChangeType) bool {
	mask := int(kind)
	if mask == 0 {
		return true
	}
	switch changeType {
	case lsp.FileChangeTypeCreated:
		return mask&int(lsp.WatchKindCreate) != 0
	case lsp.FileChangeTypeChanged:
		return mask&int(lsp.WatchKindChange) != 0
	case lsp.FileChangeTypeDeleted:
		return mask&int(lsp.WatchKindDelete) != 0
	}
	return false
}
