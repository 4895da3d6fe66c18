package lobby

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKickUser(t *testing.T) {
	env := newTestEnv(t)
	mod := env.login("Mod", AccessMod)
	boss := env.login("Boss", AccessAdmin)
	bob := env.login("Bob", AccessUser)
	env.drainAll()

	env.dispatch(mod, "KICKUSER")
	require.Equal(t, []string{"SERVERMSG Bad syntax for KICKUSER"}, env.drain(mod))

	env.dispatch(mod, "KICKUSER Ghost")
	require.Equal(t, []string{"SERVERMSG Ghost is not online"}, env.drain(mod))

	// Mods cannot kick admins, and nobody kicks the house bot.
	env.dispatch(mod, "KICKUSER Boss nope")
	require.Equal(t, []string{"SERVERMSG You cannot kick Boss"}, env.drain(mod))

	env.dispatch(mod, "KICKUSER ChanServ")
	require.Equal(t, []string{"SERVERMSG You cannot kick ChanServ"}, env.drain(mod))

	env.dispatch(mod, "KICKUSER Bob flooding")
	require.Equal(t, []string{"SERVERMSG You were kicked from the server by Mod: flooding"}, env.drain(bob))
	require.Equal(t, []string{"REMOVEUSER Bob"}, env.drain(boss))
	require.NotContains(t, env.s.sessions, bob.id)
	require.NotContains(t, env.s.usernames, "Bob")

	bob = env.login("Bob", AccessUser)
	env.drainAll()
	env.dispatch(mod, "KICKUSER Bob")
	require.Equal(t, []string{"SERVERMSG You were kicked from the server by Mod"}, env.drain(bob))
}

func TestBanCommand(t *testing.T) {
	env := newTestEnv(t)
	mod := env.login("Mod", AccessMod)
	bob := env.login("Bob", AccessUser)
	env.drainAll()

	for _, line := range []string{
		"BAN",
		"BAN Bob",
		"BAN Bob 1",
		"BAN Bob x rude",
		"BAN Bob -1 rude",
	} {
		env.dispatch(mod, line)
		require.Equal(t, []string{"SERVERMSG Bad syntax for BAN"}, env.drain(mod), line)
	}

	env.dispatch(mod, "BAN Nobody 0 rude")
	require.Equal(t, []string{"SERVERMSG Unknown user Nobody"}, env.drain(mod))

	env.dispatch(mod, "BAN Bob 0 being rude")
	requireLine(t, env.drain(mod), "SERVERMSG Banned Bob permanently: being rude")
	require.Equal(t, []string{"SERVERMSG You have been banned: being rude"}, env.drain(bob))
	require.NotContains(t, env.s.usernames, "Bob")

	require.Len(t, env.ms.Bans.rows, 1)
	row := env.ms.Bans.rows[0]
	require.Equal(t, bob.UserID(), row.UserID)
	require.Equal(t, "Bob", row.Username)
	require.Equal(t, "Mod", row.IssuerName)
	require.Equal(t, "being rude", row.Reason)
	require.True(t, row.EndDate.IsZero())

	// Timed bans carry an end date; offline targets are not kicked.
	clara := env.seedUser("Clara", AccessUser)
	env.dispatch(mod, "BAN Clara 3 cooling off")
	require.Equal(t, []string{"SERVERMSG Banned Clara for 3 days: cooling off"}, env.drain(mod))
	row = env.ms.Bans.rows[1]
	require.Equal(t, clara.ID, row.UserID)
	require.WithinDuration(t, time.Now().Add(72*time.Hour), row.EndDate, time.Minute)
}

func TestUnbanCommand(t *testing.T) {
	env := newTestEnv(t)
	mod := env.login("Mod", AccessMod)
	bob := env.login("Bob", AccessUser)
	env.drainAll()

	env.dispatch(mod, "BAN Bob 0 rude")
	env.drainAll()
	drainClient(bob.client)

	env.dispatch(mod, "UNBAN Bob")
	require.Equal(t, []string{"SERVERMSG Removed 1 ban(s) for Bob"}, env.drain(mod))
	require.Empty(t, env.ms.Bans.rows)

	env.dispatch(mod, "UNBAN Bob")
	require.Equal(t, []string{"SERVERMSG Removed 0 ban(s) for Bob"}, env.drain(mod))

	env.dispatch(mod, "UNBAN")
	require.Equal(t, []string{"SERVERMSG Bad syntax for UNBAN"}, env.drain(mod))

	env.dispatch(mod, "UNBAN Nobody")
	require.Equal(t, []string{"SERVERMSG Unknown user Nobody"}, env.drain(mod))
}

func TestListBans(t *testing.T) {
	env := newTestEnv(t)
	mod := env.login("Mod", AccessMod)
	env.seedUser("Clara", AccessUser)

	env.dispatch(mod, "LISTBANS")
	require.Equal(t, []string{"SERVERMSG 0 active ban(s)"}, env.drain(mod))

	env.dispatch(mod, "BAN Clara 0 rude")
	env.drainAll()

	env.dispatch(mod, "LISTBANS")
	require.Equal(t, []string{
		"SERVERMSG 1 active ban(s)",
		"SERVERMSG BAN 1: Clara by Mod, expires never: rude",
	}, env.drain(mod))
}

func TestBroadcastCommand(t *testing.T) {
	env := newTestEnv(t)
	boss := env.login("Boss", AccessAdmin)
	alice := env.login("Alice", AccessUser)
	env.drainAll()

	env.dispatch(boss, "BROADCAST Maintenance at noon")
	require.Equal(t, []string{"BROADCAST Maintenance at noon"}, env.drain(boss))
	require.Equal(t, []string{"BROADCAST Maintenance at noon"}, env.drain(alice))

	env.dispatch(boss, "BROADCAST")
	require.Equal(t, []string{"SERVERMSG Bad syntax for BROADCAST"}, env.drain(boss))
}

func TestSetAccess(t *testing.T) {
	env := newTestEnv(t)
	boss := env.login("Boss", AccessAdmin)
	bob := env.login("Bob", AccessUser)
	env.drainAll()

	env.dispatch(boss, "SETACCESS Bob mod")
	require.Equal(t, []string{
		"SERVERMSG Access level of Bob set to mod",
		"CLIENTSTATUS Bob 32",
	}, env.drain(boss))
	require.Equal(t, []string{
		"SERVERMSGBOX Your access level is now mod",
		"CLIENTSTATUS Bob 32",
	}, env.drain(bob))
	require.Equal(t, AccessMod, bob.access)
	require.Equal(t, "mod", env.ms.Users.byName("Bob").Access)

	// Offline targets are updated in the store only.
	env.seedUser("Clara", AccessUser)
	env.dispatch(boss, "SETACCESS Clara admin")
	require.Equal(t, []string{"SERVERMSG Access level of Clara set to admin"}, env.drain(boss))
	require.Equal(t, "admin", env.ms.Users.byName("Clara").Access)

	env.dispatch(boss, "SETACCESS")
	require.Equal(t, []string{"SERVERMSG Bad syntax for SETACCESS"}, env.drain(boss))

	env.dispatch(boss, "SETACCESS Bob superuser")
	require.Equal(t, []string{"SERVERMSG Access level must be one of user, mod, admin"}, env.drain(boss))

	env.dispatch(boss, "SETACCESS Bob agreement")
	require.Equal(t, []string{"SERVERMSG Access level must be one of user, mod, admin"}, env.drain(boss))

	env.dispatch(boss, "SETACCESS Nobody mod")
	require.Equal(t, []string{"SERVERMSG Unknown user Nobody"}, env.drain(boss))
}
