package node

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gridcache/internal/clock"
	"gridcache/internal/entry"
	"gridcache/internal/errs"
	"gridcache/internal/membership"
	"gridcache/internal/repair"
	"gridcache/internal/ring"
	"gridcache/internal/storage"
	"gridcache/internal/transport"
	"gridcache/internal/wire"
)

// Options configures a Node.
type Options struct {
	NodeID string
	Addr   string
	// Peers are the other members. The node adds itself.
	Peers []ring.Node
	// DB backs every cache and the clock. Nil keeps everything in memory.
	DB        *leveldb.DB
	Transport transport.Transport
	VNodes    int

	Membership     membership.Config
	RepairInterval time.Duration
	RepairTimeout  time.Duration

	Logger *zap.Logger
}

// Node is one cluster member.
type Node struct {
	id     string
	addr   string
	logger *zap.Logger

	db       *leveldb.DB
	stable   storage.StableStore
	clock    *clock.DistributedClock
	ring     *ring.Ring
	members  *membership.Detector
	tr       transport.Transport
	hints    *repair.HintQueue
	repairer *repair.Repairer

	mu     sync.RWMutex
	caches map[string]*Cache

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a node. It does not start probing or repair; see Start.
func New(opts Options) (*Node, error) {
	if opts.NodeID == "" {
		return nil, errors.New("node id cannot be empty")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	n := &Node{
		id:     opts.NodeID,
		addr:   opts.Addr,
		logger: logger.With(zap.String("node", opts.NodeID)),
		db:     opts.DB,
		tr:     opts.Transport,
		hints:  repair.NewHintQueue(),
		caches: make(map[string]*Cache),
	}
	if n.db != nil {
		n.stable = storage.NewLevelStable(n.db)
	} else {
		n.stable = storage.NewInmemStable()
	}

	clk, err := clock.NewDistributedClock(n.id, n.stable, clock.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	n.clock = clk

	self := ring.Node{ID: n.id, Addr: n.addr}
	n.ring = ring.New(opts.VNodes)
	n.ring.SetNodes(append([]ring.Node{self}, opts.Peers...))

	n.members = membership.New(n.id, n.addr, opts.Membership, logger)
	n.members.AddMembers(opts.Peers)
	n.members.OnChange(n.onMemberChange)

	n.repairer = repair.New(n.hints, n.sendRepair, n.members.IsAlive,
		repair.Config{Interval: opts.RepairInterval, Timeout: opts.RepairTimeout}, n.logger)

	n.logger.Info("node created", zap.String("addr", n.addr), zap.Int("peers", len(opts.Peers)))
	return n, nil
}

// ID returns the node's identity.
func (n *Node) ID() string {
	return n.id
}

// Clock returns the node's distributed clock.
func (n *Node) Clock() *clock.DistributedClock {
	return n.clock
}

// Ring returns the node's consistent hash ring.
func (n *Node) Ring() *ring.Ring {
	return n.ring
}

// Members returns the membership as this node sees it.
func (n *Node) Members() []membership.Member {
	return n.members.Snapshot()
}

// Detector returns the node's failure detector.
func (n *Node) Detector() *membership.Detector {
	return n.members
}

// Transport returns the transport the node reaches its peers through.
func (n *Node) Transport() transport.Transport {
	return n.tr
}

// Repairer returns the node's repairer.
func (n *Node) Repairer() *repair.Repairer {
	return n.repairer
}

// Start begins probing peers and replaying hints.
func (n *Node) Start() {
	n.startOnce.Do(func() {
		n.members.Start(n.tr.Ping)
		n.repairer.Start()
		n.logger.Info("node started")
	})
}

// Stop stops background work and closes every cache store and the
// transport. The database passed in Options is not closed.
func (n *Node) Stop() error {
	var err error
	n.stopOnce.Do(func() {
		n.members.Stop()
		n.repairer.Stop()

		n.mu.Lock()
		for _, c := range n.caches {
			err = multierr.Append(err, c.store.Close())
		}
		n.mu.Unlock()
		err = multierr.Append(err, n.tr.Close())
		n.logger.Info("node stopped", zap.Error(err))
	})
	return err
}

// Cache returns the cache called name.
func (n *Node) Cache(name string) (*Cache, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	c, ok := n.caches[name]
	if !ok {
		return nil, errors.Wrap(errs.ErrUnknownCache, name)
	}
	return c, nil
}

// CacheNames returns the names of every cache, sorted.
func (n *Node) CacheNames() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.caches))
	for name := range n.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n *Node) onMemberChange(m membership.Member) {
	n.logger.Info("member changed", zap.String("member", m.ID), zap.Stringer("status", m.Status))
	if m.Status == membership.Alive && m.ID != n.id {
		n.repairer.TargetAlive(m.ID)
	}
}

// sendRepair delivers a repaired entry to target, locally when target is
// this node.
func (n *Node) sendRepair(ctx context.Context, target, cache string, e entry.Entry) error {
	if target == n.id {
		c, err := n.Cache(cache)
		if err != nil {
			return err
		}
		_, _, err = c.apply(ctx, e)
		return err
	}
	_, err := n.tr.Apply(ctx, target, &wire.ApplyRequest{Cache: cache, Entry: e})
	return err
}
