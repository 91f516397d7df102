package clock

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"gridcache/internal/errs"
)

const (
	// DefaultReserveWindow is how far ahead of the last issued counter the
	// persisted high-water mark is pushed. One second of microseconds.
	DefaultReserveWindow = uint64(time.Second / time.Microsecond)

	// clockOffsetWarn is the backwards jump of the physical clock, in
	// microseconds, that gets logged.
	clockOffsetWarn = uint64(150 * time.Millisecond / time.Microsecond)
)

var reservedKey = []byte("clock/reserved")

// StableStore persists the counter high-water mark.
type StableStore interface {
	SetUint64(key []byte, val uint64) error
	// GetUint64 returns 0 if the key was never written.
	GetUint64(key []byte) (uint64, error)
}

// DistributedClock issues Distributed tokens for one node. The counter is a
// hybrid of the physical clock in microseconds and a logical increment: it
// never goes backwards and it never reissues a value, including across
// restarts, because values are only issued below a persisted reservation.
type DistributedClock struct {
	nodeID string
	stable StableStore
	window uint64
	now    func() time.Time
	logger *zap.Logger

	guard *Guard

	// mu serializes issuing. Observe only moves last forward, lock-free.
	mu       sync.Mutex
	last     atomic.Uint64
	reserved atomic.Uint64
}

// Option configures a DistributedClock.
type Option func(*DistributedClock)

// WithNow replaces the physical time source.
func WithNow(now func() time.Time) Option {
	return func(c *DistributedClock) { c.now = now }
}

// WithReserveWindow sets the reservation window.
func WithReserveWindow(window uint64) Option {
	return func(c *DistributedClock) {
		if window > 0 {
			c.window = window
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *DistributedClock) { c.logger = logger }
}

// NewDistributedClock creates a clock for nodeID, seeded strictly above any
// reservation found in stable.
func NewDistributedClock(nodeID string, stable StableStore, opts ...Option) (*DistributedClock, error) {
	c := &DistributedClock{
		nodeID: nodeID,
		stable: stable,
		window: DefaultReserveWindow,
		now:    time.Now,
		logger: zap.NewNop(),
		guard:  NewGuard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("node", nodeID))

	saved, err := stable.GetUint64(reservedKey)
	if err != nil {
		return nil, errors.Wrap(errs.ErrStoreFailure, "load clock reservation: "+err.Error())
	}
	// Everything up to the saved mark may have been issued before a restart.
	c.last.Store(saved)
	c.reserved.Store(saved)
	c.logger.Info("distributed clock seeded", zap.Uint64("reserved", saved))
	clockEvents.WithLabelValues("seed").Inc()
	return c, nil
}

// NodeID returns the identity the clock issues tokens for.
func (c *DistributedClock) NodeID() string {
	return c.nodeID
}

// Next issues the next token. It fails only if the reservation cannot be
// persisted, in which case no token is issued.
func (c *DistributedClock) Next() (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		prev := c.last.Load()
		next := prev + 1
		physical := c.physical()
		if physical > next {
			next = physical
		} else if prev > physical+clockOffsetWarn {
			c.logger.Warn("physical clock behind issued counter",
				zap.Uint64("last", prev), zap.Uint64("physical", physical))
		}

		if next > c.reserved.Load() {
			if err := c.reserve(next); err != nil {
				return Token{}, err
			}
		}
		if !c.last.CAS(prev, next) {
			// Observe moved the counter; recompute.
			continue
		}
		tok := Token{Mode: Distributed, Counter: next, Node: c.nodeID}
		if err := c.guard.Check(c.nodeID, "", tok); err != nil {
			c.logger.Error("token regression", zap.Error(err))
			return Token{}, err
		}
		return tok, nil
	}
}

// Observe lifts the local counter above a token seen on the write path, so
// that a write issued after a remote write orders after it. A token carrying
// this node's identity above anything the clock knows it issued means the
// counter was reset under an identity that had already issued higher values;
// that returns ErrTokenRegression after the counter has been lifted.
func (c *DistributedClock) Observe(t Token) error {
	if t.Mode != Distributed {
		return nil
	}
	for {
		prev := c.last.Load()
		if t.Counter <= prev {
			return nil
		}
		if c.last.CAS(prev, t.Counter) {
			break
		}
	}
	if t.Node == c.nodeID {
		clockEvents.WithLabelValues("regression").Inc()
		c.logger.Error("observed own token above issued counter", zap.Stringer("token", t))
		return errors.Wrapf(errs.ErrTokenRegression, "node %s observed own token %s", c.nodeID, t)
	}
	return nil
}

// Last returns the highest counter issued or observed.
func (c *DistributedClock) Last() uint64 {
	return c.last.Load()
}

func (c *DistributedClock) reserve(next uint64) error {
	mark := next + c.window
	if err := c.stable.SetUint64(reservedKey, mark); err != nil {
		clockEvents.WithLabelValues("reserve_failed").Inc()
		return errors.Wrap(errs.ErrStoreFailure, "save clock reservation: "+err.Error())
	}
	c.reserved.Store(mark)
	clockEvents.WithLabelValues("reserve").Inc()
	return nil
}

func (c *DistributedClock) physical() uint64 {
	us := c.now().UnixMicro()
	if us < 0 {
		return 0
	}
	return uint64(us)
}
