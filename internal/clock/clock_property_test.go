package clock

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestProperty_ClocksStayOrdered runs random interleavings of issuing,
// observing, restarting and physical clock jumps over three nodes. Each
// node's counters must strictly increase across restarts, a token issued
// after observing another must order after it, and observing any token
// ever issued must not look like a regression.
func TestProperty_ClocksStayOrdered(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	ids := []string{"n1", "n2", "n3"}

	for round := 0; round < 50; round++ {
		physical := int64(1_000_000)
		now := func() time.Time { return time.UnixMicro(physical) }

		stables := make(map[string]*memStable)
		clocks := make(map[string]*DistributedClock)
		last := make(map[string]uint64)
		open := func(id string) {
			c, err := NewDistributedClock(id, stables[id],
				WithNow(now),
				WithReserveWindow(uint64(1+rng.Intn(50))))
			require.NoError(t, err)
			clocks[id] = c
		}
		for _, id := range ids {
			stables[id] = newMemStable()
			open(id)
		}

		var issued []Token
		for step := 0; step < 300; step++ {
			id := ids[rng.Intn(len(ids))]
			c := clocks[id]
			switch rng.Intn(10) {
			case 0:
				open(id)
			case 1:
				physical += int64(rng.Intn(2000)) - 1000
			case 2, 3:
				if len(issued) == 0 {
					continue
				}
				seen := issued[rng.Intn(len(issued))]
				require.NoError(t, c.Observe(seen), "%s observing %s", id, seen)
				tok, err := c.Next()
				require.NoError(t, err)
				require.True(t, tok.After(seen), "%s after observing %s", tok, seen)
				require.Greater(t, tok.Counter, last[id])
				last[id] = tok.Counter
				issued = append(issued, tok)
			default:
				tok, err := c.Next()
				require.NoError(t, err)
				require.Greater(t, tok.Counter, last[id], "round %d step %d", round, step)
				last[id] = tok.Counter
				issued = append(issued, tok)
			}
		}
	}
}
