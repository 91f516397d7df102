package repair

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gridcache/internal/entry"
)

// Applier delivers e to target's store for cache.
type Applier func(ctx context.Context, target, cache string, e entry.Entry) error

// Config holds repairer timings.
type Config struct {
	// Interval between background replays of every alive target.
	Interval time.Duration
	// Timeout bounds each re-send.
	Timeout time.Duration
}

// Repairer replays hints and performs read repair.
type Repairer struct {
	hints  *HintQueue
	apply  Applier
	alive  func(id string) bool
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a repairer. alive reports whether a target is worth trying;
// nil treats every target as alive.
func New(hints *HintQueue, apply Applier, alive func(id string) bool, cfg Config, logger *zap.Logger) *Repairer {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if alive == nil {
		alive = func(string) bool { return true }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Repairer{
		hints:  hints,
		apply:  apply,
		alive:  alive,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Hints returns the queue the repairer drains.
func (r *Repairer) Hints() *HintQueue {
	return r.hints
}

// Start replays hints for alive targets every Interval until Stop.
func (r *Repairer) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.ReplayAll(r.ctx)
			}
		}
	}()
}

// Stop stops background replay and waits for running repairs.
func (r *Repairer) Stop() {
	r.cancel()
	r.wg.Wait()
}

// TargetAlive triggers an immediate replay for target.
func (r *Repairer) TargetAlive(target string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Replay(r.ctx, target)
	}()
}

// ReplayAll replays hints for every alive target that has some.
func (r *Repairer) ReplayAll(ctx context.Context) {
	for _, target := range r.hints.Targets() {
		if r.alive(target) {
			r.Replay(ctx, target)
		}
	}
}

// Replay re-sends every hint queued for target. Hints that fail again are
// queued again.
func (r *Repairer) Replay(ctx context.Context, target string) (repaired, failed int) {
	hints := r.hints.Take(target)
	if len(hints) == 0 {
		return 0, 0
	}
	for _, h := range hints {
		if err := r.send(ctx, h.Target, h.Cache, h.Entry); err != nil {
			r.hints.Add(h)
			failed++
			continue
		}
		repaired++
	}
	repairs.WithLabelValues("hint", "ok").Add(float64(repaired))
	repairs.WithLabelValues("hint", "failed").Add(float64(failed))
	r.logger.Info("replayed hints",
		zap.String("target", target), zap.Int("repaired", repaired), zap.Int("failed", failed))
	return repaired, failed
}

// ReadRepair pushes winner to the stale targets in the background. Targets
// that cannot be reached get a hint instead.
func (r *Repairer) ReadRepair(cache string, winner entry.Entry, stale []string) {
	if len(stale) == 0 {
		return
	}
	winner = winner.Clone()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for _, target := range stale {
			if err := r.send(r.ctx, target, cache, winner); err != nil {
				r.logger.Warn("read repair failed",
					zap.String("target", target), zap.String("key", winner.Key), zap.Error(err))
				r.hints.Add(Hint{Cache: cache, Target: target, Entry: winner})
				repairs.WithLabelValues("read", "failed").Inc()
				continue
			}
			repairs.WithLabelValues("read", "ok").Inc()
		}
	}()
}

func (r *Repairer) send(ctx context.Context, target, cache string, e entry.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return r.apply(ctx, target, cache, e)
}
