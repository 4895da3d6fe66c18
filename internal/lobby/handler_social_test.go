package lobby

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIgnoreFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login("Alice", AccessUser)
	env.login("Bob", AccessUser)
	env.drainAll()

	env.dispatch(alice, "IGNORE")
	require.Equal(t, []string{"SERVERMSG Bad syntax for IGNORE"}, env.drain(alice))

	env.dispatch(alice, "IGNORE Nobody")
	require.Equal(t, []string{"SERVERMSG Unknown user Nobody"}, env.drain(alice))

	env.dispatch(alice, "IGNORE Alice")
	require.Equal(t, []string{"SERVERMSG You cannot ignore yourself"}, env.drain(alice))

	env.dispatch(alice, "IGNORE Bob endless spam")
	require.Equal(t, []string{
		"IGNORELISTBEGIN",
		"IGNORELIST Bob endless spam",
		"IGNORELISTEND",
	}, env.drain(alice))
	require.True(t, alice.Ignores("Bob"))

	// Offline users resolve through the store.
	env.seedUser("Clara", AccessUser)
	env.dispatch(alice, "IGNORE Clara")
	require.Equal(t, []string{
		"IGNORELISTBEGIN",
		"IGNORELIST Bob endless spam",
		"IGNORELIST Clara",
		"IGNORELISTEND",
	}, env.drain(alice))

	env.dispatch(alice, "UNIGNORE Bob")
	require.Equal(t, []string{
		"IGNORELISTBEGIN",
		"IGNORELIST Clara",
		"IGNORELISTEND",
	}, env.drain(alice))
	require.False(t, alice.Ignores("Bob"))

	env.dispatch(alice, "UNIGNORE")
	require.Equal(t, []string{"SERVERMSG Bad syntax for UNIGNORE"}, env.drain(alice))

	env.dispatch(alice, "UNIGNORE Nobody")
	require.Equal(t, []string{"SERVERMSG Unknown user Nobody"}, env.drain(alice))

	env.dispatch(alice, "IGNORELIST")
	require.Equal(t, []string{
		"IGNORELISTBEGIN",
		"IGNORELIST Clara",
		"IGNORELISTEND",
	}, env.drain(alice))
}

func TestFriendRequestFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login("Alice", AccessUser)
	bob := env.login("Bob", AccessUser)
	env.drainAll()

	env.dispatch(bob, "FRIENDREQUEST")
	require.Equal(t, []string{"SERVERMSG Bad syntax for FRIENDREQUEST"}, env.drain(bob))

	env.dispatch(bob, "FRIENDREQUEST Nobody")
	require.Equal(t, []string{"SERVERMSG Unknown user Nobody"}, env.drain(bob))

	env.dispatch(bob, "FRIENDREQUEST Bob")
	require.Equal(t, []string{"SERVERMSG You cannot friend yourself"}, env.drain(bob))

	env.dispatch(bob, "FRIENDREQUEST Alice let us team up")
	require.Equal(t, []string{"SERVERMSG Friend request sent to Alice"}, env.drain(bob))
	require.Equal(t, []string{
		"FRIENDREQUESTLISTBEGIN",
		"FRIENDREQUESTLIST Bob let us team up",
		"FRIENDREQUESTLISTEND",
	}, env.drain(alice))

	env.dispatch(alice, "ACCEPTFRIENDREQUEST Bob")
	require.Equal(t, []string{
		"FRIENDLISTBEGIN",
		"FRIENDLIST Bob",
		"FRIENDLISTEND",
	}, env.drain(alice))
	require.Equal(t, []string{
		"FRIENDLISTBEGIN",
		"FRIENDLIST Alice",
		"FRIENDLISTEND",
	}, env.drain(bob))
	require.Empty(t, env.ms.Users.requests[alice.UserID()])

	env.dispatch(bob, "FRIENDREQUEST Alice once more")
	require.Equal(t, []string{"SERVERMSG You are already friends with Alice"}, env.drain(bob))

	env.dispatch(alice, "UNFRIEND Bob")
	require.Equal(t, []string{"FRIENDLISTBEGIN", "FRIENDLISTEND"}, env.drain(alice))
	require.Equal(t, []string{"FRIENDLISTBEGIN", "FRIENDLISTEND"}, env.drain(bob))
	require.Empty(t, env.ms.Users.friends[alice.UserID()])
}

func TestAcceptFriendRequestDenials(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login("Alice", AccessUser)
	bob := env.login("Bob", AccessUser)
	env.drainAll()

	env.dispatch(alice, "ACCEPTFRIENDREQUEST")
	require.Equal(t, []string{"SERVERMSG Bad syntax for ACCEPTFRIENDREQUEST"}, env.drain(alice))

	env.dispatch(alice, "ACCEPTFRIENDREQUEST Nobody")
	require.Equal(t, []string{"SERVERMSG Unknown user Nobody"}, env.drain(alice))

	env.dispatch(alice, "ACCEPTFRIENDREQUEST Bob")
	require.Equal(t, []string{"SERVERMSG No friend request from Bob"}, env.drain(alice))

	// FRIEND is the short alias for accepting.
	env.dispatch(bob, "FRIENDREQUEST Alice")
	env.drainAll()
	env.dispatch(alice, "FRIEND Bob")
	require.Equal(t, []string{
		"FRIENDLISTBEGIN",
		"FRIENDLIST Bob",
		"FRIENDLISTEND",
	}, env.drain(alice))
}

func TestDeclineFriendRequest(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login("Alice", AccessUser)
	bob := env.login("Bob", AccessUser)
	env.drainAll()

	env.dispatch(bob, "FRIENDREQUEST Alice")
	env.drainAll()

	env.dispatch(alice, "DECLINEFRIENDREQUEST Bob")
	require.Equal(t, []string{
		"FRIENDREQUESTLISTBEGIN",
		"FRIENDREQUESTLISTEND",
	}, env.drain(alice))
	require.Empty(t, env.drain(bob))
	require.Empty(t, env.ms.Users.friends[alice.UserID()])

	env.dispatch(alice, "DECLINEFRIENDREQUEST")
	require.Equal(t, []string{"SERVERMSG Bad syntax for DECLINEFRIENDREQUEST"}, env.drain(alice))
}

func TestFriendRequestToIgnoringUser(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login("Alice", AccessUser)
	bob := env.login("Bob", AccessUser)
	env.drainAll()

	env.dispatch(alice, "IGNORE Bob")
	env.drainAll()

	// The sender cannot tell the request was dropped.
	env.dispatch(bob, "FRIENDREQUEST Alice hello")
	require.Equal(t, []string{"SERVERMSG Friend request sent to Alice"}, env.drain(bob))
	require.Empty(t, env.drain(alice))
	require.Empty(t, env.ms.Users.requests[alice.UserID()])

	// Same for a stored ignore when the target is offline.
	clara := env.seedUser("Clara", AccessUser)
	require.NoError(t, env.ms.Users.AddIgnore(env.ctx, clara.ID, bob.UserID(), ""))
	env.dispatch(bob, "FRIENDREQUEST Clara hello")
	require.Equal(t, []string{"SERVERMSG Friend request sent to Clara"}, env.drain(bob))
	require.Empty(t, env.ms.Users.requests[clara.ID])
}

func TestUnfriendOffline(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login("Alice", AccessUser)
	clara := env.seedUser("Clara", AccessUser)
	require.NoError(t, env.ms.Users.AddFriend(env.ctx, alice.UserID(), clara.ID))

	env.dispatch(alice, "FRIENDLIST")
	require.Equal(t, []string{
		"FRIENDLISTBEGIN",
		"FRIENDLIST Clara",
		"FRIENDLISTEND",
	}, env.drain(alice))

	env.dispatch(alice, "UNFRIEND Clara")
	require.Equal(t, []string{"FRIENDLISTBEGIN", "FRIENDLISTEND"}, env.drain(alice))

	env.dispatch(alice, "UNFRIEND")
	require.Equal(t, []string{"SERVERMSG Bad syntax for UNFRIEND"}, env.drain(alice))

	env.dispatch(alice, "UNFRIEND Nobody")
	require.Equal(t, []string{"SERVERMSG Unknown user Nobody"}, env.drain(alice))
}

func TestFriendListsEmpty(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login("Alice", AccessUser)

	env.dispatch(alice, "FRIENDLIST")
	require.Equal(t, []string{"FRIENDLISTBEGIN", "FRIENDLISTEND"}, env.drain(alice))

	env.dispatch(alice, "FRIENDREQUESTLIST")
	require.Equal(t, []string{
		"FRIENDREQUESTLISTBEGIN",
		"FRIENDREQUESTLISTEND",
	}, env.drain(alice))
}
