package resourcechange

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/lucacox/go-lspsync/internal/logging"
)

// Emitter delivers the markers of a session, for example as a notification
type Emitter func(ctx context.Context, params Params) error

// WatcherConfig configures an FSWatcher
type WatcherConfig struct {
	// Root is the directory watched recursively
	Root string
	// Options filter the events and carry the threshold
	Options Options
	// Debounce is the quiet period that closes a session
	Debounce time.Duration
	// IgnoreHidden skips files and directories starting with a dot
	IgnoreHidden bool
}

// FSWatcher turns file system events under a root into resource change
// sessions. The first event opens a session; the session ends once no
// event arrived for the debounce period.
type FSWatcher struct {
	mutex    sync.Mutex
	watcher  *fsnotify.Watcher
	producer *Producer
	config   WatcherConfig
	emit     Emitter
	logger   *slog.Logger

	ctx      context.Context
	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// NewFSWatcher starts watching config.Root
func NewFSWatcher(ctx context.Context, config WatcherConfig, emit Emitter, logger *slog.Logger) (*FSWatcher, error) {
	if config.Debounce <= 0 {
		config.Debounce = 100 * time.Millisecond
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, err
	}
	config.Root = root

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &FSWatcher{
		watcher:  fsw,
		producer: NewProducer(uri.File(root), config.Options.Threshold()),
		config:   config,
		emit:     emit,
		logger:   logger,
		ctx:      ctx,
		closeCh:  make(chan struct{}),
	}

	if err := w.watchRecursive(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

// Root returns the root URI of the produced sessions
func (w *FSWatcher) Root() uri.URI {
	return w.producer.Root()
}

// Close stops the watcher, ending an open session first
func (w *FSWatcher) Close() error {
	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mutex.Unlock()

	w.closedWg.Wait()
	return w.watcher.Close()
}

// Dispose closes the watcher, so it can be tracked by a registration
func (w *FSWatcher) Dispose() {
	if err := w.Close(); err != nil {
		logging.Warn(w.logger, "closing watcher failed", "root", w.config.Root, "error", err)
	}
}

func (w *FSWatcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			// unreadable entries are skipped
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && w.hidden(p) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			logging.Warn(w.logger, "cannot watch directory", "path", p, "error", err)
		}
		return nil
	})
}

func (w *FSWatcher) processLoop() {
	defer w.closedWg.Done()

	var quiet <-chan time.Time
	for {
		select {
		case <-w.closeCh:
			if w.producer.InSession() {
				w.end()
			}
			return

		case <-w.ctx.Done():
			if w.producer.InSession() {
				w.end()
			}
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.handle(ev) {
				quiet = time.After(w.config.Debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn(w.logger, "file watcher error", "root", w.config.Root, "error", err)

		case <-quiet:
			quiet = nil
			w.end()
		}
	}
}

// handle records ev and reports whether it belongs to the session
func (w *FSWatcher) handle(ev fsnotify.Event) bool {
	changeType, ok := convertOp(ev.Op)
	if !ok || w.hidden(ev.Name) {
		return false
	}
	path := filepath.ToSlash(ev.Name)
	if !w.config.Options.Accepts(path, changeType) {
		return false
	}

	if changeType == lsp.FileChangeTypeCreated {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.watchRecursive(ev.Name)
		}
	}

	if !w.producer.InSession() {
		begin, err := w.producer.Begin()
		if err != nil {
			logging.Error(w.logger, "cannot open session", "root", w.config.Root, "error", err)
			return false
		}
		w.send(begin)
	}
	if err := w.producer.Add(lsp.FileEvent{Type: changeType, URI: uri.File(ev.Name)}); err != nil {
		logging.Error(w.logger, "cannot record change", "root", w.config.Root, "error", err)
		return false
	}
	logging.Trace(w.logger, "file change recorded", "path", ev.Name, "type", changeType)
	return true
}

func (w *FSWatcher) end() {
	end, err := w.producer.End()
	if err != nil {
		logging.Error(w.logger, "cannot close session", "root", w.config.Root, "error", err)
		return
	}
	w.send(end)
}

func (w *FSWatcher) send(change Change) {
	if err := w.emit(w.ctx, Params{Changes: []Change{change}}); err != nil {
		logging.Warn(w.logger, "emitting resource change failed", "root", w.config.Root, "kind", change.Kind, "sequence", change.Sequence, "error", err)
	}
}

func (w *FSWatcher) hidden(path string) bool {
	if !w.config.IgnoreHidden {
		return false
	}
	rel, err := filepath.Rel(w.config.Root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if len(part) > 1 && part[0] == '.' && part != ".." {
			return true
		}
	}
	return false
}

// convertOp maps an fsnotify operation to a file change type. Pure
// permission changes are not reported.
func convertOp(op fsnotify.Op) (lsp.FileChangeType, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return lsp.FileChangeTypeDeleted, true
	case op.Has(fsnotify.Create):
		return lsp.FileChangeTypeCreated, true
	case op.Has(fsnotify.Write):
		return lsp.FileChangeTypeChanged, true
	default:
		return 0, false
	}
}
