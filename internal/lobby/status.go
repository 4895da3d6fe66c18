package lobby

// Client status byte, broadcast via CLIENTSTATUS.
const (
	statusInGame uint8 = 1 << 0
	statusAway   uint8 = 1 << 1
	statusBot    uint8 = 1 << 6

	statusRankShift = 2
	statusRoleShift = 5
)

// rankThresholds holds the ingame hours needed for each rank step.
var rankThresholds = [...]int64{5, 15, 30, 100, 300, 1000, 3000}

// RankFor maps accumulated ingame seconds to a 0..7 rank.
func RankFor(ingameSeconds int64) int {
	hours := ingameSeconds / 3600
	rank := 0
	for _, t := range rankThresholds {
		if hours < t {
			break
		}
		rank++
	}
	return rank
}

// ComposeStatus packs the client status byte. The server owns the
// rank, role and bot bits; only in_game and away come from the client.
func ComposeStatus(inGame, away bool, rank int, access Access, bot bool) uint8 {
	var s uint8
	if inGame {
		s |= statusInGame
	}
	if away {
		s |= statusAway
	}
	s |= uint8(rank&7) << statusRankShift
	s |= access.StatusBits() << statusRoleShift
	if bot {
		s |= statusBot
	}
	return s
}

// Battle status word, broadcast via CLIENTBATTLESTATUS.
const (
	battleReady   uint32 = 1 << 1
	battlePlaying uint32 = 1 << 10

	battleTeamShift     = 2
	battleAllyShift     = 6
	battleHandicapShift = 11
	battleSyncShift     = 22
	battleSideShift     = 24

	battleTeamMask     uint32 = 15 << battleTeamShift
	battleAllyMask     uint32 = 15 << battleAllyShift
	battleHandicapMask uint32 = 127 << battleHandicapShift
	battleSyncMask     uint32 = 3 << battleSyncShift
	battleSideMask     uint32 = 15 << battleSideShift
)

// BattleStatus wraps the packed per-player battle state.
type BattleStatus uint32

func (b BattleStatus) Ready() bool    { return uint32(b)&battleReady != 0 }
func (b BattleStatus) Playing() bool  { return uint32(b)&battlePlaying != 0 }
func (b BattleStatus) Spectator() bool { return !b.Playing() }
func (b BattleStatus) Team() int      { return int(uint32(b) & battleTeamMask >> battleTeamShift) }
func (b BattleStatus) Ally() int      { return int(uint32(b) & battleAllyMask >> battleAllyShift) }
func (b BattleStatus) Handicap() int {
	return int(uint32(b) & battleHandicapMask >> battleHandicapShift)
}
func (b BattleStatus) Sync() int { return int(uint32(b) & battleSyncMask >> battleSyncShift) }
func (b BattleStatus) Side() int { return int(uint32(b) & battleSideMask >> battleSideShift) }

// WithHandicap returns b with the handicap field replaced (clamped 0..100).
func (b BattleStatus) WithHandicap(h int) BattleStatus {
	if h < 0 {
		h = 0
	}
	if h > 100 {
		h = 100
	}
	return BattleStatus(uint32(b)&^battleHandicapMask | uint32(h)<<battleHandicapShift)
}

// WithTeam returns b with the team field replaced (masked to 0..15).
func (b BattleStatus) WithTeam(team int) BattleStatus {
	return BattleStatus(uint32(b)&^battleTeamMask | uint32(team&15)<<battleTeamShift)
}

// WithAlly returns b with the ally field replaced (masked to 0..15).
func (b BattleStatus) WithAlly(ally int) BattleStatus {
	return BattleStatus(uint32(b)&^battleAllyMask | uint32(ally&15)<<battleAllyShift)
}

// WithSpectator returns b with the playing bit forced off.
func (b BattleStatus) WithSpectator() BattleStatus {
	return BattleStatus(uint32(b) &^ battlePlaying)
}

// SanitizeBattleStatus merges a client-supplied MYBATTLESTATUS word into
// the current server-side one. Ready, team, ally and side are taken from
// the client; sync outside {0,1,2} is forced to 0 (unknown); handicap
// stays server-owned; the playing bit is honored unless the host forced
// the player to spectate.
func SanitizeBattleStatus(current, requested BattleStatus, forcedSpectator bool) BattleStatus {
	keep := battleReady | battleTeamMask | battleAllyMask | battleSideMask
	merged := uint32(requested) & keep

	sync := uint32(requested) & battleSyncMask >> battleSyncShift
	if sync > 2 {
		sync = 0
	}
	merged |= sync << battleSyncShift

	merged |= uint32(current) & battleHandicapMask

	if !forcedSpectator {
		merged |= uint32(requested) & battlePlaying
	}
	return BattleStatus(merged)
}
