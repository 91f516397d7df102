package node

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gridcache/internal/clock"
	"gridcache/internal/config"
	"gridcache/internal/coordinator"
	"gridcache/internal/entry"
	"gridcache/internal/errs"
	"gridcache/internal/quorum"
	"gridcache/internal/replication"
	"gridcache/internal/resolve"
	"gridcache/internal/storage"
	"gridcache/internal/streamer"
	"gridcache/internal/wire"
)

// Cache is a node's handle on one named cache.
type Cache struct {
	name   string
	cfg    config.CacheConfig
	mode   clock.Mode
	node   *Node
	logger *zap.Logger

	store    storage.Store
	seq      *clock.Sequencer
	replicas replication.Provider
	coord    *coordinator.Coordinator
	loader   *streamer.Loader
}

// CreateCache creates the cache described by cfg. TRANSACTIONAL caches
// are rejected.
func (n *Node) CreateCache(cfg config.CacheConfig) (*Cache, error) {
	cfg.Adjust()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Atomicity != config.Atomic {
		return nil, errors.Wrapf(errs.ErrUnsupportedAtomicity, "cache %s: %s", cfg.Name, cfg.Atomicity)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.caches[cfg.Name]; ok {
		return nil, errors.Errorf("cache %s already exists", cfg.Name)
	}

	var store storage.Store
	if n.db != nil {
		store = storage.NewLevelStore(n.db, cfg.Name)
	} else {
		store = storage.NewMemStore()
	}
	logger := n.logger.With(zap.String("cache", cfg.Name))

	c := &Cache{
		name:     cfg.Name,
		cfg:      cfg,
		mode:     cfg.Mode(),
		node:     n,
		logger:   logger,
		store:    store,
		replicas: replication.NewRingProvider(n.ring, cfg.Backups, n.members.IsAlive),
	}
	c.seq = clock.NewSequencer(n.id, c.committedCounter, logger, clock.WithEpoch(n.members.Epoch))
	c.coord = coordinator.New(coordinator.Config{
		Cache:          cfg.Name,
		Mode:           c.mode,
		MinAcks:        cfg.MinAcks,
		ReplicaTimeout: cfg.ReplicaTimeout.Duration,
		ApplyRetries:   cfg.ApplyRetries,
	}, coordinator.Deps{
		NodeID:    n.id,
		Clock:     n.clock,
		Sequencer: c.seq,
		Replicas:  c.replicas,
		Transport: n.tr,
		Local:     c.apply,
		Hints:     n.hints,
		Logger:    n.logger,
	})
	c.loader = streamer.NewLoader(c.coord, logger)

	n.caches[cfg.Name] = c
	logger.Info("cache created",
		zap.Stringer("mode", c.mode), zap.Int("backups", cfg.Backups),
		zap.Bool("allow-overwrite", cfg.AllowOverwrite), zap.Int("min-acks", cfg.MinAcks))
	return c, nil
}

// Name returns the cache name.
func (c *Cache) Name() string {
	return c.name
}

// Config returns the cache configuration with defaults applied.
func (c *Cache) Config() config.CacheConfig {
	return c.cfg
}

// Put writes key with this node as origin.
func (c *Cache) Put(ctx context.Context, key string, value []byte) *coordinator.Outcome {
	return c.coord.Put(ctx, key, value)
}

// Replicate re-sends an ordered entry to targets.
func (c *Cache) Replicate(ctx context.Context, e entry.Entry, targets []string) *coordinator.Outcome {
	return c.coord.Replicate(ctx, e, targets)
}

// Replicas returns the current replica set of key.
func (c *Cache) Replicas(key string) (replication.ReplicaSet, error) {
	return c.replicas.Replicas(key)
}

// Get returns this node's copy of key.
func (c *Cache) Get(key string) (entry.Entry, bool, error) {
	return c.store.Get(key)
}

// Evict drops this node's copy of key.
func (c *Cache) Evict(key string) error {
	return c.store.Evict(key)
}

// Load folds and writes a batch.
func (c *Cache) Load(ctx context.Context, entries []streamer.BatchEntry, opts streamer.Options) *streamer.Report {
	return c.loader.Load(ctx, entries, opts)
}

// Streamer returns a streamer using the cache's buffer, parallelism and
// overwrite settings.
func (c *Cache) Streamer() *streamer.Streamer {
	return c.loader.NewStreamer(streamer.StreamerOptions{
		BufferSize:     c.cfg.BufferSize,
		AllowOverwrite: c.cfg.AllowOverwrite,
		Parallelism:    c.cfg.Parallelism,
	})
}

// NewStreamer returns a streamer with explicit options.
func (c *Cache) NewStreamer(opts streamer.StreamerOptions) *streamer.Streamer {
	return c.loader.NewStreamer(opts)
}

// Read asks every replica of key for its entry and returns the winner.
// Replicas that answered with an older entry, or none, are repaired in the
// background.
func (c *Cache) Read(ctx context.Context, key string) (entry.Entry, bool, error) {
	rs, err := c.replicas.Replicas(key)
	if err != nil {
		return entry.Entry{}, false, err
	}
	targets := rs.Targets()
	results := quorum.DoRead(ctx, targets, c.cfg.ReplicaTimeout.Duration,
		func(ctx context.Context, target string) (*entry.Entry, error) {
			if target == c.node.id {
				e, ok, err := c.store.Get(key)
				if err != nil || !ok {
					return nil, err
				}
				return &e, nil
			}
			resp, err := c.node.tr.Get(ctx, target, &wire.GetRequest{Cache: c.name, Key: key})
			if err != nil || !resp.Found {
				return nil, err
			}
			return &resp.Entry, nil
		})

	var (
		answered []string
		entries  []*entry.Entry
		lastErr  error
	)
	for _, r := range results {
		if r.Err != nil {
			lastErr = r.Err
			continue
		}
		answered = append(answered, r.Target)
		entries = append(entries, r.Value)
	}
	if len(answered) == 0 {
		return entry.Entry{}, false, errors.Wrapf(errs.ErrReplicaUnreachable, "read %q: %v", key, lastErr)
	}

	rec := resolve.Reconcile(entries)
	if !rec.Found {
		return entry.Entry{}, false, nil
	}
	if len(rec.Stale) > 0 {
		stale := make([]string, len(rec.Stale))
		for i, idx := range rec.Stale {
			stale[i] = answered[idx]
		}
		c.logger.Debug("read repair", zap.String("key", key), zap.Strings("stale", stale))
		c.node.repairer.ReadRepair(c.name, rec.Winner, stale)
	}
	return rec.Winner, true, nil
}

// committedCounter returns the highest Coordinated counter held for key by
// this node or any replica of key that answers. Replicas that do not answer
// are skipped; a write that still lands below a newer token is resequenced
// by the coordinator.
func (c *Cache) committedCounter(key string) (uint64, error) {
	highest, err := c.store.MaxCounter(key)
	if err != nil {
		return 0, err
	}
	rs, err := c.replicas.Replicas(key)
	if err != nil {
		return highest, nil
	}
	var remote []string
	for _, id := range rs.Targets() {
		if id != c.node.id {
			remote = append(remote, id)
		}
	}
	if len(remote) == 0 {
		return highest, nil
	}

	results := quorum.DoRead(context.Background(), remote, c.cfg.ReplicaTimeout.Duration,
		func(ctx context.Context, target string) (uint64, error) {
			resp, err := c.node.tr.Get(ctx, target, &wire.GetRequest{Cache: c.name, Key: key})
			if err != nil || !resp.Found || resp.Entry.Token.Mode != clock.Coordinated {
				return 0, err
			}
			return resp.Entry.Token.Counter, nil
		})
	for _, r := range results {
		if r.Err != nil {
			c.logger.Debug("sequence seed skipped replica",
				zap.String("key", key), zap.String("replica", r.Target), zap.Error(r.Err))
			continue
		}
		if r.Value > highest {
			highest = r.Value
		}
	}
	return highest, nil
}

// apply stores e on this replica and lets the token sources observe it. It
// returns the token the replica holds for the key afterwards.
func (c *Cache) apply(_ context.Context, e entry.Entry) (bool, clock.Token, error) {
	changed, err := c.store.Apply(e)
	if err != nil {
		applies.WithLabelValues(c.name, "error").Inc()
		return false, clock.Token{}, err
	}
	applies.WithLabelValues(c.name, changedLabel(changed)).Inc()

	// The entry is stored either way; a regression is reported, not undone.
	var obsErr error
	if e.Token.Mode == clock.Coordinated {
		obsErr = c.seq.Observe(e.Key, e.Token)
	} else {
		obsErr = c.node.clock.Observe(e.Token)
	}
	if obsErr != nil {
		tokenRegressions.WithLabelValues(c.name).Inc()
		c.logger.Error("token regression on apply",
			zap.String("key", e.Key), zap.Stringer("token", e.Token), zap.Error(obsErr))
	}
	if changed {
		return true, e.Token, nil
	}
	held, _, err := c.store.Get(e.Key)
	if err != nil {
		return false, clock.Token{}, err
	}
	return false, held.Token, nil
}

func changedLabel(changed bool) string {
	if changed {
		return "changed"
	}
	return "unchanged"
}
