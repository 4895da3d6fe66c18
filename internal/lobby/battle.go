package lobby

import "sort"

// NAT traversal types advertised in OPENBATTLE.
const (
	NATNone         = 0
	NATHolePunching = 1
	NATFixedPorts   = 2
)

// BattleBot is one AI slot inside a battle.
type BattleBot struct {
	Name   string
	Owner  string
	Status BattleStatus
	Color  uint32
	AI     string
}

// StartRect is one ally team's start box, coords 0..200.
type StartRect struct {
	Left, Top, Right, Bottom int
}

// Battle is one hosted game room. Owned by the dispatcher goroutine.
type Battle struct {
	id     int32
	hostID int64
	host   string

	inGame bool

	typ     int // 0 normal, 1 replay
	natType int

	title         string
	game          string
	engineName    string
	engineVersion string
	mapName       string
	mapHash       int32
	gameHash      int32

	password   string // "*" when open
	port       int
	maxPlayers int
	rankLimit  int

	locked     bool
	spectators int

	// members holds session ids, host included.
	members map[int64]struct{}

	bots  map[string]*BattleBot
	rects map[int]StartRect
	tags  map[string]string

	disabledUnits []string

	// forcedSpectators remembers who the host benched; their playing
	// bit stays cleared until the host lifts it.
	forcedSpectators map[int64]struct{}

	// bannedUsers holds user ids kicked by the host; they cannot
	// rejoin this battle instance.
	bannedUsers map[int32]struct{}
}

func newBattle(id int32, hostID int64, host string) *Battle {
	return &Battle{
		id:               id,
		hostID:           hostID,
		host:             host,
		password:         "*",
		members:          map[int64]struct{}{hostID: {}},
		bots:             make(map[string]*BattleBot),
		rects:            make(map[int]StartRect),
		tags:             make(map[string]string),
		forcedSpectators: make(map[int64]struct{}),
		bannedUsers:      make(map[int32]struct{}),
	}
}

// Passworded reports whether joining requires a password.
func (b *Battle) Passworded() bool { return b.password != "*" && b.password != "" }

// Full reports whether the player slots are exhausted. Spectators do
// not count against maxPlayers.
func (b *Battle) Full() bool {
	return len(b.members)-b.spectators >= b.maxPlayers
}

// BotNames returns bot slot names in stable order.
func (b *Battle) BotNames() []string {
	names := make([]string, 0, len(b.bots))
	for name := range b.bots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BotsOwnedBy returns the bot slots owned by username, sorted.
func (b *Battle) BotsOwnedBy(username string) []string {
	var names []string
	for name, bot := range b.bots {
		if bot.Owner == username {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// RectAllies returns the configured start-rect ally numbers sorted.
func (b *Battle) RectAllies() []int {
	allies := make([]int, 0, len(b.rects))
	for ally := range b.rects {
		allies = append(allies, ally)
	}
	sort.Ints(allies)
	return allies
}

// TagKeys returns the script tag keys sorted.
func (b *Battle) TagKeys() []string {
	keys := make([]string, 0, len(b.tags))
	for k := range b.tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
