package stdio_test

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucacox/go-lspsync/internal/logging"
	"github.com/lucacox/go-lspsync/pkg/protocol"
	"github.com/lucacox/go-lspsync/pkg/transport/stdio"
)

// TestNewSTDIOTransportWithIO tests the creation of a transport with custom reader and writer
func TestNewSTDIOTransportWithIO(t *testing.T) {
	reader := strings.NewReader("")
	writer := &bytes.Buffer{}

	transport := stdio.NewSTDIOTransportWithIO(reader, writer)
	require.NotNil(t, transport)
	assert.Equal(t, reader, transport.Reader())
	assert.Equal(t, writer, transport.Writer())
}

// TestSTDIOTransport_ReadWrite tests passing bytes through the transport
func TestSTDIOTransport_ReadWrite(t *testing.T) {
	r, w := io.Pipe()
	out := &bytes.Buffer{}
	transport := stdio.NewSTDIOTransportWithIO(r, out)

	go func() {
		_, _ = w.Write([]byte("Content-Length: 2\r\n\r\n{}"))
		_ = w.Close()
	}()

	data, err := io.ReadAll(transport)
	require.NoError(t, err)
	assert.Equal(t, "Content-Length: 2\r\n\r\n{}", string(data))

	_, err = transport.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", out.String())
}

// TestSTDIOTransport_Close tests that writes fail after Close
func TestSTDIOTransport_Close(t *testing.T) {
	r, w := io.Pipe()
	transport := stdio.NewSTDIOTransportWithIO(r, w)

	require.NoError(t, transport.Close())
	assert.NoError(t, transport.Close(), "second close is a no-op")

	_, err := transport.Write([]byte("x"))
	assert.ErrorIs(t, err, stdio.ErrClosed)

	_, err = r.Read(make([]byte, 1))
	assert.Error(t, err, "reader closed too")
}

// TestDefaultRegistry tests that both transports register themselves
func TestDefaultRegistry(t *testing.T) {
	assert.True(t, protocol.DefaultTransportRegistry.HasTransport(protocol.TransportTypeStdio))
	assert.True(t, protocol.DefaultTransportRegistry.HasTransport(protocol.TransportTypeProcess))

	registry := protocol.NewTransportRegistry()
	stdio.RegisterProcessTransport(registry)
	assert.Equal(t, []string{protocol.TransportTypeProcess}, registry.GetSupportedTransports())
}

// TestProcessTransport_Echo tests a round trip through a spawned process
func TestProcessTransport_Echo(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	transport, err := stdio.StartProcess(protocol.TransportOptions{Command: "cat"}, logging.Discard())
	require.NoError(t, err)
	assert.Greater(t, transport.Pid(), 0)

	_, err = transport.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(transport, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	require.NoError(t, transport.Close())
	select {
	case <-transport.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	_, err = transport.Write([]byte("late"))
	assert.ErrorIs(t, err, stdio.ErrClosed)
}

// TestProcessTransport_Errors tests spawning failures
func TestProcessTransport_Errors(t *testing.T) {
	_, err := stdio.StartProcess(protocol.TransportOptions{}, logging.Discard())
	assert.Error(t, err)

	_, err = protocol.DefaultTransportRegistry.Create(context.Background(), protocol.TransportTypeProcess, protocol.TransportOptions{
		Command: "/nonexistent/language-service",
	})
	var terr *protocol.TransportError
	assert.ErrorAs(t, err, &terr)
}
