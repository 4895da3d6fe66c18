package lobby

import "fmt"

// RecordUDPSource notes a client's externally observed UDP endpoint
// and, when the user sits in a battle that needs hole punching, tells
// the battle host via CLIENTIPPORT. Called by the NAT helper from its
// own goroutine.
func (s *Server) RecordUDPSource(username, ip string, port int) {
	s.post(func() {
		sess, ok := s.findUser(username)
		if !ok || sess.static {
			return
		}
		sess.udpIP = ip
		sess.udpPort = port

		b, ok := s.battles[sess.battleID]
		if !ok || b.natType == 0 {
			return
		}
		host, ok := s.sessions[b.hostID]
		if !ok || host == sess {
			return
		}
		s.deliver(host, fmt.Sprintf("CLIENTIPPORT %s %s %d", sess.Username(), ip, port))
	})
}
