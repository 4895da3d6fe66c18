// Package natserver runs the UDP helper advertised in the server
// banner. Clients in hole-punching battles fire a datagram carrying
// their username at this port; the observed source endpoint is handed
// to the lobby, which relays it to the battle host.
package natserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// Lobby is the slice of the lobby engine the helper needs.
type Lobby interface {
	RecordUDPSource(username, ip string, port int)
}

// Server is the UDP endpoint.
type Server struct {
	addr  string
	lobby Lobby
}

// New prepares a helper bound to bindAddress:port.
func New(bindAddress string, port int, lobby Lobby) *Server {
	return &Server{
		addr:  fmt.Sprintf("%s:%d", bindAddress, port),
		lobby: lobby,
	}
}

// Run reads datagrams until ctx ends. Payloads that cannot be a
// username are dropped without a reply.
func (s *Server) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("resolving NAT helper address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listening on udp %s: %w", s.addr, err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	slog.Info("NAT helper started", "address", conn.LocalAddr())

	buf := make([]byte, 128)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Warn("NAT helper read failed", "error", err)
			continue
		}
		if n == len(buf) {
			// Longer than any username can be, garbage.
			continue
		}
		username := strings.TrimSpace(string(buf[:n]))
		if username == "" {
			continue
		}
		s.lobby.RecordUDPSource(username, remote.IP.String(), remote.Port)
	}
}
