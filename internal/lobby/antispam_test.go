package lobby

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/uberlobby/internal/db"
)

func TestSpamScorerCharge(t *testing.T) {
	now := time.Now()
	sc := newSpamScorer(db.DefaultAntispamSettings())

	// short messages cost one point each; the threshold is strict
	for i := 0; i < 5; i++ {
		require.False(t, sc.Charge(1, 10, now), "message %d", i+1)
	}
	require.Equal(t, 5.0, sc.Score(1, now))

	require.True(t, sc.Charge(1, 10, now), "sixth message crosses aggressiveness=5")
	require.Zero(t, sc.Score(1, now), "score resets after a mute")
}

func TestSpamScorerLengthBonus(t *testing.T) {
	now := time.Now()
	sc := newSpamScorer(db.DefaultAntispamSettings())

	// 150 bytes against bonuslength=50 costs 1 + 100/50 = 3
	require.False(t, sc.Charge(1, 150, now))
	require.Equal(t, 3.0, sc.Score(1, now))
	require.True(t, sc.Charge(1, 150, now))

	// a zero bonus length falls back to one byte
	sc.SetSettings(db.AntispamSettings{Timeout: 10, Aggressiveness: 100, BonusLength: 0, Duration: 30})
	require.False(t, sc.Charge(2, 3, now))
	require.Equal(t, 3.0, sc.Score(2, now))
}

func TestSpamScorerDecay(t *testing.T) {
	now := time.Now()
	sc := newSpamScorer(db.DefaultAntispamSettings())

	sc.Charge(1, 150, now) // score 3

	// decays at 1/timeout points per second, timeout=10
	require.Equal(t, 1.0, sc.Score(1, now.Add(20*time.Second)))
	require.Zero(t, sc.Score(1, now.Add(time.Minute)), "score clamps at zero")
}

func TestSpamScorerForget(t *testing.T) {
	now := time.Now()
	sc := newSpamScorer(db.DefaultAntispamSettings())

	sc.Charge(1, 150, now)
	sc.Forget(1)
	require.Zero(t, sc.Score(1, now))
}

func TestSpamScorerSetSettings(t *testing.T) {
	now := time.Now()
	sc := newSpamScorer(db.DefaultAntispamSettings())
	sc.SetSettings(db.AntispamSettings{Timeout: 10, Aggressiveness: 1, BonusLength: 50, Duration: 30})

	require.False(t, sc.Charge(1, 10, now))
	require.True(t, sc.Charge(1, 10, now))
}
