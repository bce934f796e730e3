package transport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/platform"
)

func testSupervisor(t *testing.T) *platform.Supervisor {
	t.Helper()
	sup := platform.NewSupervisor(platform.SupervisorPolicy{
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}, nil)
	t.Cleanup(sup.StopAll)
	return sup
}

func collect(t *testing.T, poll func() [][]byte, want string) {
	t.Helper()
	var got []byte
	require.Eventually(t, func() bool {
		for _, chunk := range poll() {
			got = append(got, chunk...)
		}
		return bytes.Equal(got, []byte(want))
	}, 2*time.Second, 5*time.Millisecond, "want %q", want)
}

func TestTCPLoopback(t *testing.T) {
	ctx := context.Background()
	sup := testSupervisor(t)

	server, err := NewTCPServer(TCPServerOptions{Addr: "127.0.0.1:0", Supervisor: sup})
	require.NoError(t, err)
	require.NoError(t, server.Start(ctx))
	t.Cleanup(func() { _ = server.Close() })

	client, err := NewTCPClient(TCPClientOptions{Addr: server.Addr(), Supervisor: sup})
	require.NoError(t, err)
	assert.ErrorIs(t, client.Send([]byte("hello####a\n")), ErrNotConnected)
	require.NoError(t, client.Start(ctx))
	t.Cleanup(func() { _ = client.Close() })

	require.Eventually(t, func() bool { return client.Connected() && server.Peers() == 1 }, 2*time.Second, 5*time.Millisecond)

	// A frame written in two pieces arrives at the master as one line.
	require.NoError(t, client.Send([]byte("hello##")))
	require.NoError(t, client.Send([]byte("##a\n0####0.5\n")))
	var lines []string
	require.Eventually(t, func() bool {
		for _, chunk := range server.Poll() {
			lines = append(lines, string(chunk))
		}
		return len(lines) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hello####a\n", "0####0.5\n"}, lines)

	require.NoError(t, server.Send([]byte("start\n")))
	collect(t, client.Poll, "start\n")
}

func TestTCPServerBroadcastsToEveryAgent(t *testing.T) {
	ctx := context.Background()
	sup := testSupervisor(t)

	server, err := NewTCPServer(TCPServerOptions{Addr: "127.0.0.1:0", Supervisor: sup})
	require.NoError(t, err)
	require.NoError(t, server.Start(ctx))
	t.Cleanup(func() { _ = server.Close() })

	var clients []*TCPClient
	for i := 0; i < 3; i++ {
		c, err := NewTCPClient(TCPClientOptions{Addr: server.Addr(), Supervisor: sup})
		require.NoError(t, err)
		// Task names are keyed by address, so give each client its own supervisor.
		c.sup = testSupervisor(t)
		require.NoError(t, c.Start(ctx))
		t.Cleanup(func() { _ = c.Close() })
		clients = append(clients, c)
	}
	require.Eventually(t, func() bool { return server.Peers() == 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, server.Send([]byte("start\n")))
	for _, c := range clients {
		collect(t, c.Poll, "start\n")
	}
}

func TestTCPServerStopRejectsSend(t *testing.T) {
	sup := testSupervisor(t)
	server, err := NewTCPServer(TCPServerOptions{Addr: "127.0.0.1:0", Supervisor: sup})
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	require.NoError(t, server.Stop(context.Background()))
	assert.ErrorIs(t, server.Send([]byte("start\n")), ErrClosed)
}

func TestTCPOptionsValidation(t *testing.T) {
	_, err := NewTCPServer(TCPServerOptions{Supervisor: testSupervisor(t)})
	require.Error(t, err)
	_, err = NewTCPServer(TCPServerOptions{Addr: ":0"})
	require.Error(t, err)
	_, err = NewTCPClient(TCPClientOptions{Supervisor: testSupervisor(t)})
	require.Error(t, err)
}

func TestWebSocketLoopback(t *testing.T) {
	ctx := context.Background()
	sup := testSupervisor(t)

	server, err := NewWSServer(WSServerOptions{Addr: "127.0.0.1:0", Supervisor: sup})
	require.NoError(t, err)
	require.NoError(t, server.Start(ctx))
	t.Cleanup(func() { _ = server.Close() })

	client, err := NewWSClient(WSClientOptions{URL: server.URL(), Supervisor: sup})
	require.NoError(t, err)
	require.NoError(t, client.Start(ctx))
	t.Cleanup(func() { _ = client.Close() })
	require.Eventually(t, func() bool { return client.Connected() && server.Peers() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, client.Send([]byte("hello####a\n")))
	collect(t, server.Poll, "hello####a\n")

	require.NoError(t, server.Send([]byte("start\n")))
	collect(t, client.Poll, "start\n")

	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Send([]byte("x")), ErrClosed)
	require.Eventually(t, func() bool { return server.Peers() == 0 }, 2*time.Second, 5*time.Millisecond)
}
