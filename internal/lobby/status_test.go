package lobby

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRankFor(t *testing.T) {
	cases := []struct {
		hours int64
		want  int
	}{
		{0, 0},
		{4, 0},
		{5, 1},
		{14, 1},
		{15, 2},
		{30, 3},
		{100, 4},
		{300, 5},
		{1000, 6},
		{3000, 7},
		{999999, 7},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, RankFor(tc.hours*3600), "%d hours", tc.hours)
	}

	// partial hours round down
	require.Equal(t, 0, RankFor(5*3600-1))
}

func TestComposeStatus(t *testing.T) {
	cases := []struct {
		name   string
		inGame bool
		away   bool
		rank   int
		access Access
		bot    bool
		want   uint8
	}{
		{"idle user", false, false, 0, AccessUser, false, 0},
		{"ingame", true, false, 0, AccessUser, false, 1},
		{"away", false, true, 0, AccessUser, false, 2},
		{"ingame away", true, true, 0, AccessUser, false, 3},
		{"ranked", false, false, 5, AccessUser, false, 5 << 2},
		{"rank overflow masked", false, false, 9, AccessUser, false, 1 << 2},
		{"moderator", false, false, 0, AccessMod, false, 1 << 5},
		{"admin", false, false, 0, AccessAdmin, false, 2 << 5},
		{"bot flag", false, false, 0, AccessUser, true, 1 << 6},
		{"mod bot", false, false, 0, AccessMod, true, 1<<5 | 1<<6},
		{"everything", true, true, 3, AccessMod, true, 1 | 2 | 3<<2 | 1<<5 | 1<<6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ComposeStatus(tc.inGame, tc.away, tc.rank, tc.access, tc.bot))
		})
	}
}

func TestBattleStatusFields(t *testing.T) {
	b := BattleStatus(2 | 3<<2 | 2<<6 | 1<<10 | 50<<11 | 1<<22 | 3<<24)
	require.True(t, b.Ready())
	require.True(t, b.Playing())
	require.False(t, b.Spectator())
	require.Equal(t, 3, b.Team())
	require.Equal(t, 2, b.Ally())
	require.Equal(t, 50, b.Handicap())
	require.Equal(t, 1, b.Sync())
	require.Equal(t, 3, b.Side())

	require.True(t, BattleStatus(0).Spectator())
}

func TestBattleStatusWith(t *testing.T) {
	b := BattleStatus(2 | 1<<10)

	require.Equal(t, 100, b.WithHandicap(150).Handicap())
	require.Equal(t, 0, b.WithHandicap(-5).Handicap())
	require.Equal(t, 70, b.WithHandicap(70).Handicap())
	// other fields survive the replacement
	require.True(t, b.WithHandicap(70).Ready())
	require.True(t, b.WithHandicap(70).Playing())

	require.Equal(t, 4, b.WithTeam(20).Team())
	require.Equal(t, 1, b.WithAlly(17).Ally())

	require.False(t, b.WithSpectator().Playing())
	require.True(t, b.WithSpectator().Ready())
}

func TestSanitizeBattleStatus(t *testing.T) {
	cases := []struct {
		name      string
		current   BattleStatus
		requested BattleStatus
		forced    bool
		want      BattleStatus
	}{
		{"ready playing honored", 0, 2 | 1<<10, false, 2 | 1<<10},
		{"forced spectator loses playing", 0, 2 | 1<<10, true, 2},
		{"handicap stays server-owned", BattleStatus(50 << 11), 2 | 100<<11, false, 2 | 50<<11},
		{"sync garbage zeroed", 0, 2 | 3<<22, false, 2},
		{"sync in range kept", 0, 2 | 2<<22, false, 2 | 2<<22},
		{"team ally side kept", 0, 3<<2 | 2<<6 | 5<<24, false, 3<<2 | 2<<6 | 5<<24},
		{"mix", BattleStatus(30 << 11), 1<<10 | 7<<2 | 1<<22, true, 7<<2 | 1<<22 | 30<<11},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, SanitizeBattleStatus(tc.current, tc.requested, tc.forced))
		})
	}
}
