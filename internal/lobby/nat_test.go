package lobby

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordUDPSource(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login("Alice", AccessUser)
	bob := env.login("Bob", AccessUser)
	env.dispatch(alice, "OPENBATTLE 0 1 * 8452 16 0 0 1234"+openTail)
	require.NotZero(t, alice.battleID)
	env.drainAll()
	enterBattle(env, bob, env.s.battles[alice.battleID])

	env.s.RecordUDPSource("Bob", "203.0.113.9", 4711)
	require.Equal(t, 1, env.runPosted())

	require.Equal(t, "203.0.113.9", bob.udpIP)
	require.Equal(t, 4711, bob.udpPort)
	require.Equal(t, []string{"CLIENTIPPORT Bob 203.0.113.9 4711"}, env.drain(alice))
	require.Empty(t, env.drain(bob))
}

func TestRecordUDPSourceHostSelf(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login("Alice", AccessUser)
	env.dispatch(alice, "OPENBATTLE 0 1 * 8452 16 0 0 1234"+openTail)
	env.drainAll()

	// the host's own endpoint is recorded but not echoed back
	env.s.RecordUDPSource("Alice", "203.0.113.9", 4711)
	require.Equal(t, 1, env.runPosted())
	require.Equal(t, "203.0.113.9", alice.udpIP)
	require.Empty(t, env.drain(alice))
}

func TestRecordUDPSourceNoPunching(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login("Alice", AccessUser)
	bob := env.login("Bob", AccessUser)
	hostBattle(env, alice) // nat type 0
	enterBattle(env, bob, env.s.battles[alice.battleID])

	env.s.RecordUDPSource("Bob", "203.0.113.9", 4711)
	env.runPosted()
	require.Equal(t, 4711, bob.udpPort)
	require.Empty(t, env.drain(alice), "hole punching disabled, host not told")
}

func TestRecordUDPSourceUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login("Alice", AccessUser)

	env.s.RecordUDPSource("Ghost", "203.0.113.9", 4711)
	require.Equal(t, 1, env.runPosted())
	require.Empty(t, env.drain(alice))

	env.s.RecordUDPSource("ChanServ", "203.0.113.9", 4711)
	require.Equal(t, 1, env.runPosted())
}
