package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/lucacox/go-lspsync/pkg/features/resourcechange"
)

var (
	watchThreshold int
	watchDebounce  time.Duration
	watchFor       time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Print resource change sessions for a directory",
	Long: `Watches a directory tree and prints the resource change sessions it
produces, after checking them the way a consumer would. Sessions with more
changes than the threshold are reported as everything changed.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&watchThreshold, "threshold", -2, "change threshold, -1 for unbounded (default: from config)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "quiet period closing a session (default: from config)")
	watchCmd.Flags().DurationVar(&watchFor, "for", 0, "stop after this long instead of waiting for an interrupt")
	rootCmd.AddCommand(watchCmd)
}

// printingConsumer writes sessions to the command output
type printingConsumer struct {
	mutex sync.Mutex
	cmd   *cobra.Command
}

func (p *printingConsumer) Stale(root uri.URI) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.cmd.Printf("stale\t%s\n", root.Filename())
}

func (p *printingConsumer) InvalidateAll(root uri.URI) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.cmd.Printf("all changed\t%s\n", root.Filename())
}

func (p *printingConsumer) Apply(root uri.URI, changes []resourcechange.FileChange) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, ch := range changes {
		p.cmd.Printf("%s\t%s\t#%d\n", changeName(ch.Event.Type), ch.Event.URI.Filename(), ch.Sequence)
	}
}

func (p *printingConsumer) OrderingViolation(v *resourcechange.OrderingViolation) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.cmd.PrintErrf("ordering violation: %v\n", v)
}

func changeName(t lsp.FileChangeType) string {
	switch t {
	case lsp.FileChangeTypeCreated:
		return "created"
	case lsp.FileChangeTypeChanged:
		return "changed"
	case lsp.FileChangeTypeDeleted:
		return "deleted"
	}
	return "unknown"
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, lf, closeLog, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := lf.CreateLogger("watch")

	threshold := cfg.ResourceChanges.ChangeThreshold
	if watchThreshold >= resourcechange.Unbounded {
		threshold = watchThreshold
	}
	debounce := cfg.ResourceChanges.Debounce.Duration
	if watchDebounce > 0 {
		debounce = watchDebounce
	}

	options := resourcechange.Options{ChangeThreshold: &threshold}
	for _, glob := range cfg.ResourceChanges.Watchers {
		options.Watchers = append(options.Watchers, lsp.FileSystemWatcher{GlobPattern: glob})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if watchFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, watchFor)
		defer cancel()
	}

	coalescer := resourcechange.NewCoalescer(&printingConsumer{cmd: cmd}, logger)
	emit := func(ctx context.Context, params resourcechange.Params) error {
		return coalescer.ProcessParams(params)
	}

	w, err := resourcechange.NewFSWatcher(ctx, resourcechange.WatcherConfig{
		Root:         args[0],
		Options:      options,
		Debounce:     debounce,
		IgnoreHidden: cfg.ResourceChanges.IgnoreHidden,
	}, emit, logger)
	if err != nil {
		return err
	}

	cmd.Printf("watching %s\n", w.Root().Filename())
	<-ctx.Done()
	return w.Close()
}
