package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// RunServerOnPort creates a NATS server on the specified port. Port -1
// picks a random free port.
func RunServerOnPort(port int) (*server.Server, error) {
	opts := &server.Options{
		Host:           "127.0.0.1",
		Port:           port,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
	}

	return server.NewServer(opts)
}

// SetupJetStream sets up a NATS server with JetStream enabled for testing
func SetupJetStream(t *testing.T) (nats.JetStreamContext, func()) {
	t.Helper()

	_, js, cleanup := StartJetStream(t)
	return js, cleanup
}

// StartJetStream starts an embedded NATS server with JetStream enabled and
// returns a connected JetStream context
func StartJetStream(t *testing.T) (*server.Server, nats.JetStreamContext, func()) {
	t.Helper()

	s, err := RunServerOnPort(-1)
	require.NoError(t, err)
	err = s.EnableJetStream(&server.JetStreamConfig{
		StoreDir: t.TempDir(),
	})
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		t.Fatal("Unable to start NATS server")
	}

	nc, err := nats.Connect(s.ClientURL(), nats.Timeout(5*time.Second))
	require.NoError(t, err)

	js, err := nc.JetStream(nats.MaxWait(5 * time.Second))
	require.NoError(t, err)

	cleanup := func() {
		nc.Close()
		s.Shutdown()
		s.WaitForShutdown()
	}

	return s, js, cleanup
}

// WaitForConsumer waits for a consumer to be created
func WaitForConsumer(t *testing.T, js nats.JetStreamContext, stream, consumer string, timeout time.Duration) error {
	t.Helper()

	start := time.Now()
	for time.Since(start) < timeout {
		_, err := js.ConsumerInfo(stream, consumer)
		if err == nil {
			return nil
		}
		if err != nats.ErrConsumerNotFound {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for consumer %s on stream %s", consumer, stream)
}

// StreamMessages returns the number of messages currently held by a stream
func StreamMessages(t *testing.T, js nats.JetStreamContext, stream string) uint64 {
	t.Helper()

	info, err := js.StreamInfo(stream)
	require.NoError(t, err)
	return info.State.Msgs
}
