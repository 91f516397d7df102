package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridcache/internal/errs"
)

type memStable struct {
	mu      sync.Mutex
	vals    map[string]uint64
	failSet bool
}

func newMemStable() *memStable {
	return &memStable{vals: make(map[string]uint64)}
}

func (m *memStable) SetUint64(key []byte, val uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errors.New("disk full")
	}
	m.vals[string(key)] = val
	return nil
}

func (m *memStable) GetUint64(key []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vals[string(key)], nil
}

func fixedNow(us int64) func() time.Time {
	return func() time.Time { return time.UnixMicro(us) }
}

func TestDistributedClock_Monotonic(t *testing.T) {
	c, err := NewDistributedClock("n1", newMemStable(), WithNow(fixedNow(1000)))
	require.NoError(t, err)

	first, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), first.Counter)
	assert.Equal(t, "n1", first.Node)
	assert.Equal(t, Distributed, first.Mode)

	// The physical clock is frozen, so the logical part advances.
	second, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), second.Counter)
	assert.True(t, second.After(first))
}

func TestDistributedClock_PhysicalClockGoesBack(t *testing.T) {
	now := int64(5000)
	c, err := NewDistributedClock("n1", newMemStable(), WithNow(func() time.Time { return time.UnixMicro(now) }))
	require.NoError(t, err)

	a, err := c.Next()
	require.NoError(t, err)
	now = 10
	b, err := c.Next()
	require.NoError(t, err)
	assert.True(t, b.After(a), "token %s must order after %s", b, a)
}

func TestDistributedClock_RestartSeedsAboveReservation(t *testing.T) {
	stable := newMemStable()
	c, err := NewDistributedClock("n1", stable, WithNow(fixedNow(1000)), WithReserveWindow(100))
	require.NoError(t, err)

	var last Token
	for i := 0; i < 250; i++ {
		last, err = c.Next()
		require.NoError(t, err)
	}

	// Same node identity, physical clock now far behind what was issued.
	restarted, err := NewDistributedClock("n1", stable, WithNow(fixedNow(1)), WithReserveWindow(100))
	require.NoError(t, err)
	next, err := restarted.Next()
	require.NoError(t, err)
	assert.True(t, next.After(last), "restarted clock issued %s, not after %s", next, last)
}

func TestDistributedClock_ReservationFailure(t *testing.T) {
	stable := newMemStable()
	stable.failSet = true
	c, err := NewDistributedClock("n1", stable, WithNow(fixedNow(1000)))
	require.NoError(t, err)

	_, err = c.Next()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrStoreFailure))
	assert.Equal(t, uint64(0), c.Last(), "no token may be issued without a reservation")
}

func TestDistributedClock_ObserveRemote(t *testing.T) {
	c, err := NewDistributedClock("n1", newMemStable(), WithNow(fixedNow(1000)))
	require.NoError(t, err)

	remote := Token{Mode: Distributed, Counter: 9000, Node: "n2"}
	require.NoError(t, c.Observe(remote))

	next, err := c.Next()
	require.NoError(t, err)
	assert.True(t, next.After(remote))
}

func TestDistributedClock_ObserveOwnTokenAboveCounter(t *testing.T) {
	c, err := NewDistributedClock("n1", newMemStable(), WithNow(fixedNow(1000)))
	require.NoError(t, err)

	err = c.Observe(Token{Mode: Distributed, Counter: 5000, Node: "n1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTokenRegression))

	next, err := c.Next()
	require.NoError(t, err)
	assert.Greater(t, next.Counter, uint64(5000))
}

func TestDistributedClock_ObserveIgnoresCoordinated(t *testing.T) {
	c, err := NewDistributedClock("n1", newMemStable(), WithNow(fixedNow(1000)))
	require.NoError(t, err)
	require.NoError(t, c.Observe(Token{Mode: Coordinated, Counter: 1 << 40, Node: "n1"}))
	assert.Equal(t, uint64(0), c.Last())
}

func TestDistributedClock_ConcurrentUnique(t *testing.T) {
	c, err := NewDistributedClock("n1", newMemStable(), WithNow(fixedNow(1000)), WithReserveWindow(10))
	require.NoError(t, err)

	const workers, perWorker = 8, 200
	var mu sync.Mutex
	seen := make(map[uint64]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tok, err := c.Next()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[tok.Counter] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}
