package natserver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type punch struct {
	user string
	ip   string
	port int
}

type lobbyRecorder struct {
	mu      sync.Mutex
	punches []punch
}

func (r *lobbyRecorder) RecordUDPSource(username, ip string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.punches = append(r.punches, punch{user: username, ip: ip, port: port})
}

func (r *lobbyRecorder) snapshot() []punch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]punch(nil), r.punches...)
}

func (r *lobbyRecorder) seen(user string) bool {
	for _, p := range r.snapshot() {
		if p.user == user {
			return true
		}
	}
	return false
}

// freeUDPPort grabs an ephemeral port and releases it for the server
// under test. The window between Close and the server's bind is small
// enough for loopback tests.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func TestRunRecordsSourceEndpoint(t *testing.T) {
	rec := &lobbyRecorder{}
	port := freeUDPPort(t)
	s := New("127.0.0.1", port, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	client, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer client.Close()
	clientPort := client.LocalAddr().(*net.UDPAddr).Port

	// Datagrams may race the server's bind, so resend until one lands.
	require.Eventually(t, func() bool {
		if _, err := client.Write([]byte("Alice\n")); err != nil {
			return false
		}
		return rec.seen("Alice")
	}, 2*time.Second, 20*time.Millisecond)

	first := rec.snapshot()[0]
	require.Equal(t, "Alice", first.user)
	require.Equal(t, "127.0.0.1", first.ip)
	require.Equal(t, clientPort, first.port)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("NAT helper did not stop")
	}
}

func TestRunDropsGarbage(t *testing.T) {
	rec := &lobbyRecorder{}
	port := freeUDPPort(t)
	s := New("127.0.0.1", port, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	client, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer client.Close()

	oversized := []byte(strings.Repeat("x", 128))
	blank := []byte("   \r\n")

	// Interleave garbage with a real name; once the name shows up the
	// garbage sent before it has been read and dropped.
	require.Eventually(t, func() bool {
		for _, payload := range [][]byte{oversized, blank, []byte("Bob\n")} {
			if _, err := client.Write(payload); err != nil {
				return false
			}
		}
		return rec.seen("Bob")
	}, 2*time.Second, 20*time.Millisecond)

	for _, p := range rec.snapshot() {
		require.Equal(t, "Bob", p.user)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	rec := &lobbyRecorder{}
	s := New("127.0.0.1", freeUDPPort(t), rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("NAT helper did not stop")
	}
}

func TestRunBadAddress(t *testing.T) {
	s := New("127.0.0.1", -1, &lobbyRecorder{})
	require.Error(t, s.Run(context.Background()))
}
