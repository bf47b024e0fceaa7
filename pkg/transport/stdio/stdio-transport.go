// Package stdio provides transports over standard streams: the adapter's
// own stdin and stdout, or those of a spawned language service process
package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/lucacox/go-lspsync/internal/logging"
	"github.com/lucacox/go-lspsync/pkg/protocol"
)

// Auto-register the transports in the default registry
func init() {
	RegisterSTDIOTransport(protocol.DefaultTransportRegistry)
	RegisterProcessTransport(protocol.DefaultTransportRegistry)
}

// ErrClosed is returned by writes after Close
var ErrClosed = errors.New("transport closed")

// STDIOTransport is a byte stream over a reader and a writer
type STDIOTransport struct {
	reader io.Reader
	writer io.Writer

	logger *slog.Logger

	// Mutex for synchronization
	mutex sync.Mutex

	// Closed state
	closed bool
}

// NewSTDIOTransport creates a transport on the process's stdin and stdout
func NewSTDIOTransport() *STDIOTransport {
	return NewSTDIOTransportWithIO(os.Stdin, os.Stdout)
}

// NewSTDIOTransportWithIO creates a transport with custom reader and writer.
// Close closes whichever of them are closers.
func NewSTDIOTransportWithIO(reader io.Reader, writer io.Writer) *STDIOTransport {
	loggerFactory := logging.NewLoggerFactory()

	return &STDIOTransport{
		reader: reader,
		writer: writer,
		logger: loggerFactory.CreateLogger("stdio-transport"),
	}
}

// Read reads from the input stream
func (t *STDIOTransport) Read(p []byte) (int, error) {
	return t.reader.Read(p)
}

// Write writes to the output stream
func (t *STDIOTransport) Write(p []byte) (int, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return 0, ErrClosed
	}
	return t.writer.Write(p)
}

// Close closes the transport connection
func (t *STDIOTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	if c, ok := t.writer.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := t.reader.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	logging.Debug(t.logger, "transport closed")
	return errors.Join(errs...)
}

// Reader returns the input stream
func (t *STDIOTransport) Reader() io.Reader {
	return t.reader
}

// Writer returns the output stream
func (t *STDIOTransport) Writer() io.Writer {
	return t.writer
}

// STDIOTransportCreator is a factory for creating stdio transports
func STDIOTransportCreator(ctx context.Context, options protocol.TransportOptions) (protocol.Transport, error) {
	return NewSTDIOTransport(), nil
}

// RegisterSTDIOTransport registers the stdio transport in the transport registry
func RegisterSTDIOTransport(registry *protocol.TransportRegistry) {
	registry.Register(protocol.TransportTypeStdio, STDIOTransportCreator)
}

// ShutdownGrace is how long Close waits for the process to exit after its
// stdin is closed before killing it
var ShutdownGrace = 2 * time.Second

// ProcessTransport talks to a spawned language service over its stdin and
// stdout. The service's stderr is forwarded to the logger line by line.
type ProcessTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	logger *slog.Logger

	// Reading goroutine
	wg sync.WaitGroup

	// done is closed when the process has exited
	done    chan struct{}
	waitErr error

	mutex  sync.Mutex
	closed bool
}

// StartProcess spawns options.Command
func StartProcess(options protocol.TransportOptions, logger *slog.Logger) (*ProcessTransport, error) {
	if options.Command == "" {
		return nil, fmt.Errorf("no command to start")
	}

	cmd := exec.Command(options.Command, options.Args...)
	cmd.Dir = options.Dir
	if len(options.Env) > 0 {
		cmd.Env = append(os.Environ(), options.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", options.Command, err)
	}

	t := &ProcessTransport{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		logger: logger.With("command", options.Command, "pid", cmd.Process.Pid),
		done:   make(chan struct{}),
	}

	t.wg.Add(1)
	go t.stderrLoop(stderr)

	go func() {
		// stderr must be drained before Wait closes the pipe
		t.wg.Wait()
		t.waitErr = cmd.Wait()
		logging.Debug(t.logger, "process exited", "error", t.waitErr)
		close(t.done)
	}()

	logging.Info(t.logger, "language service started")
	return t, nil
}

// stderrLoop forwards the service's stderr
func (t *ProcessTransport) stderrLoop(stderr io.Reader) {
	defer t.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logging.Debug(t.logger, scanner.Text(), "stream", "stderr")
	}
}

// Read reads from the process's stdout
func (t *ProcessTransport) Read(p []byte) (int, error) {
	return t.stdout.Read(p)
}

// Write writes to the process's stdin
func (t *ProcessTransport) Write(p []byte) (int, error) {
	t.mutex.Lock()
	closed := t.closed
	t.mutex.Unlock()
	if closed {
		return 0, ErrClosed
	}
	return t.stdin.Write(p)
}

// Done is closed once the process has exited
func (t *ProcessTransport) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the process exits and returns its exit error
func (t *ProcessTransport) Wait() error {
	<-t.done
	return t.waitErr
}

// Pid returns the process id
func (t *ProcessTransport) Pid() int {
	return t.cmd.Process.Pid
}

// Close closes stdin and waits for the process to exit, killing it after
// ShutdownGrace
func (t *ProcessTransport) Close() error {
	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		return nil
	}
	t.closed = true
	t.mutex.Unlock()

	_ = t.stdin.Close()

	select {
	case <-t.done:
	case <-time.After(ShutdownGrace):
		logging.Warn(t.logger, "language service did not exit, killing it")
		if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		<-t.done
	}
	return nil
}

// ProcessTransportCreator is a factory spawning the configured command
func ProcessTransportCreator(ctx context.Context, options protocol.TransportOptions) (protocol.Transport, error) {
	loggerFactory := logging.NewLoggerFactory()
	return StartProcess(options, loggerFactory.CreateLogger("process-transport"))
}

// RegisterProcessTransport registers the process transport in the transport registry
func RegisterProcessTransport(registry *protocol.TransportRegistry) {
	registry.Register(protocol.TransportTypeProcess, ProcessTransportCreator)
}
