package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gridcache/internal/clock"
	"gridcache/internal/entry"
	"gridcache/internal/errs"
	"gridcache/internal/quorum"
	"gridcache/internal/repair"
	"gridcache/internal/replication"
	"gridcache/internal/transport"
	"gridcache/internal/wire"
)

const (
	defaultApplyRetries  = 3
	defaultRetryInterval = 10 * time.Millisecond

	// maxResequence is how many times a Coordinated write is given a new
	// token after a target reports a newer token from another primary.
	maxResequence = 1
)

// Config controls one cache's write path.
type Config struct {
	Cache string
	Mode  clock.Mode
	// MinAcks is the number of targets that must apply before a write
	// returns. Zero waits for every target.
	MinAcks int
	// ReplicaTimeout bounds each target, retries included.
	ReplicaTimeout time.Duration
	// ApplyRetries is how many times a store failure on a target is retried.
	ApplyRetries int
	// RetryInterval is the first backoff interval between retries.
	RetryInterval time.Duration
}

func (c *Config) adjust() {
	if c.ReplicaTimeout <= 0 {
		c.ReplicaTimeout = quorum.DefaultPerReplicaTimeout
	}
	if c.ApplyRetries < 0 {
		c.ApplyRetries = 0
	} else if c.ApplyRetries == 0 {
		c.ApplyRetries = defaultApplyRetries
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaultRetryInterval
	}
}

// LocalApplier applies an entry to this node's own replica. It reports
// whether the stored entry changed and the token stored afterwards.
type LocalApplier func(ctx context.Context, e entry.Entry) (changed bool, held clock.Token, err error)

// Deps are the collaborators of a Coordinator.
type Deps struct {
	NodeID    string
	Clock     *clock.DistributedClock
	Sequencer *clock.Sequencer
	Replicas  replication.Provider
	Transport transport.Transport
	Local     LocalApplier
	// Hints receives failed targets; nil drops them.
	Hints  *repair.HintQueue
	Logger *zap.Logger
}

// Coordinator assigns tokens and replicates writes for one cache.
type Coordinator struct {
	cfg    Config
	nodeID string
	clock  *clock.DistributedClock
	seq    *clock.Sequencer
	rp     replication.Provider
	tr     transport.Transport
	local  LocalApplier
	hints  *repair.HintQueue
	logger *zap.Logger
}

// New creates a coordinator.
func New(cfg Config, deps Deps) *Coordinator {
	cfg.adjust()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:    cfg,
		nodeID: deps.NodeID,
		clock:  deps.Clock,
		seq:    deps.Sequencer,
		rp:     deps.Replicas,
		tr:     deps.Transport,
		local:  deps.Local,
		hints:  deps.Hints,
		logger: logger.Named("coordinator").With(
			zap.String("node", deps.NodeID), zap.String("cache", cfg.Cache)),
	}
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Put writes value under key with this node as origin.
func (c *Coordinator) Put(ctx context.Context, key string, value []byte) *Outcome {
	return c.Write(ctx, key, value)
}

// Write assigns a token to (key, value) and replicates it. Cancelling ctx
// stops token assignment; once replication has started the targets run to
// completion.
func (c *Coordinator) Write(ctx context.Context, key string, value []byte) *Outcome {
	start := time.Now()
	out := newOutcome(key)
	defer func() {
		writeOutcomes.WithLabelValues(c.cfg.Mode.String(), out.State.String()).Inc()
		writeDuration.WithLabelValues(c.cfg.Mode.String()).Observe(time.Since(start).Seconds())
	}()

	e := entry.Entry{Key: key, Value: append([]byte(nil), value...), Origin: c.nodeID}
	if err := e.Validate(); err != nil {
		return out.fail(err)
	}
	if err := ctx.Err(); err != nil {
		return out.fail(err)
	}

	rs, err := c.rp.Replicas(key)
	if err != nil {
		return out.fail(err)
	}

	var floor uint64
	for attempt := 0; ; attempt++ {
		tok, err := c.assign(ctx, key, rs.Primary, floor)
		if err != nil {
			c.logger.Warn("token assignment failed", zap.String("key", key), zap.Error(err))
			return out.fail(err)
		}
		e.Token = tok
		out.Entry = e
		out.Targets = nil
		out.transition(TokenAssigned)

		sup := &supersession{}
		c.replicate(context.WithoutCancel(ctx), out, rs, sup)
		if out.State == Failed {
			return out
		}
		held := sup.token()
		if held.IsZero() || attempt >= maxResequence {
			c.finish(out)
			return out
		}
		// The primary's sequence is behind a token another primary
		// committed for this key; without a new token this write would
		// silently lose to an older one.
		c.logger.Warn("sequence behind committed token, resequencing",
			zap.String("key", key), zap.Stringer("token", tok), zap.Stringer("held", held))
		resequenced.Inc()
		floor = held.Counter
		ctx = context.WithoutCancel(ctx)
	}
}

// Replicate re-sends an already ordered entry to targets, for example the
// failed targets of a partially committed write. Targets that already hold
// the entry or a newer one report Applied without changing.
func (c *Coordinator) Replicate(ctx context.Context, e entry.Entry, targets []string) *Outcome {
	out := newOutcome(e.Key)
	if err := e.Validate(); err != nil {
		return out.fail(err)
	}
	out.Entry = e.Clone()
	out.transition(TokenAssigned)
	if len(targets) == 0 {
		return out.fail(errors.Wrapf(errs.ErrNoReplicas, "key %q", e.Key))
	}
	out.transition(Replicating)
	res := quorum.DoWrite(context.WithoutCancel(ctx), targets, quorum.WriteOptions{Timeout: c.cfg.ReplicaTimeout},
		func(ctx context.Context, target string) (bool, error) {
			return c.applyTo(ctx, target, out.Entry, nil)
		})
	out.Targets = res.Results
	c.finish(out)
	return out
}

// assign issues the write's token. floor is a Coordinated counter already
// committed for key that the token must order above.
func (c *Coordinator) assign(ctx context.Context, key, primary string, floor uint64) (clock.Token, error) {
	if c.cfg.Mode == clock.Distributed {
		return c.clock.Next()
	}
	if primary == c.nodeID {
		c.seq.Lift(key, floor)
		return c.seq.Next(key)
	}

	tctx, cancel := context.WithTimeout(ctx, c.cfg.ReplicaTimeout)
	defer cancel()
	resp, err := c.tr.NextSeq(tctx, primary, &wire.SeqRequest{Cache: c.cfg.Cache, Key: key, From: c.nodeID, Floor: floor})
	if err != nil {
		return clock.Token{}, errors.Wrapf(errs.ErrCoordinationUnavailable, "primary %s for %q: %v", primary, key, err)
	}
	return resp.Token, nil
}

// replicate sends out.Entry to the replica set and records the per-target
// results. It fails the outcome only when the Coordinated primary cannot
// apply; otherwise the caller finishes it.
func (c *Coordinator) replicate(ctx context.Context, out *Outcome, rs replication.ReplicaSet, sup *supersession) {
	out.transition(Replicating)
	e := out.Entry
	apply := func(ctx context.Context, target string) (bool, error) {
		return c.applyTo(ctx, target, e, sup)
	}

	if c.cfg.Mode == clock.Distributed {
		res := quorum.DoWrite(ctx, rs.Targets(), quorum.WriteOptions{
			MinAcks: c.cfg.MinAcks,
			Timeout: c.cfg.ReplicaTimeout,
			OnLate:  c.lateHandler(e),
		}, apply)
		out.Targets = res.Results
		return
	}

	primary := quorum.DoWrite(ctx, []string{rs.Primary}, quorum.WriteOptions{Timeout: c.cfg.ReplicaTimeout}, apply)
	out.Targets = primary.Results
	if primary.Applied == 0 {
		err := primary.Results[0].Err
		out.fail(errors.Wrapf(errs.ErrCoordinationUnavailable, "apply on primary %s: %v", rs.Primary, err))
		c.logger.Warn("primary apply failed", zap.String("key", out.Key), zap.Error(err))
		return
	}
	if len(rs.Backups) == 0 {
		return
	}

	opts := quorum.WriteOptions{
		MinAcks: c.cfg.MinAcks - 1,
		Timeout: c.cfg.ReplicaTimeout,
		OnLate:  c.lateHandler(e),
	}
	if c.cfg.MinAcks > 0 && opts.MinAcks <= 0 {
		// The primary alone satisfies MinAcks; backups finish in the background.
		for _, b := range rs.Backups {
			out.Targets = append(out.Targets, quorum.TargetResult{Target: b, State: quorum.Pending})
		}
		go func() {
			res := quorum.DoWrite(ctx, rs.Backups, quorum.WriteOptions{Timeout: c.cfg.ReplicaTimeout},
				func(ctx context.Context, target string) (bool, error) {
					return c.applyTo(ctx, target, e, nil)
				})
			late := c.lateHandler(e)
			for _, r := range res.Results {
				late(r)
			}
		}()
		return
	}
	backups := quorum.DoWrite(ctx, rs.Backups, opts, apply)
	out.Targets = append(out.Targets, backups.Results...)
}

func (c *Coordinator) finish(out *Outcome) {
	applied, failed := 0, 0
	for _, r := range out.Targets {
		switch r.State {
		case quorum.Applied:
			applied++
		case quorum.Failed:
			failed++
		}
	}

	switch {
	case applied == 0:
		out.fail(errors.Wrapf(errs.ErrReplicaUnreachable, "key %q: no target applied", out.Key))
	case failed > 0:
		// The entry exists somewhere; the missing targets get it on repair.
		for _, target := range out.FailedTargets() {
			c.queueHint(target, out.Entry)
		}
		out.Err = errors.Wrapf(errs.ErrReplicaUnreachable, "key %q: %v", out.Key, out.FailedTargets())
		out.transition(PartiallyCommitted)
	default:
		out.transition(Committed)
	}
	if out.State != Committed {
		c.logger.Warn("write not fully committed",
			zap.String("key", out.Key),
			zap.Stringer("token", out.Entry.Token),
			zap.Stringer("state", out.State),
			zap.Strings("failed", out.FailedTargets()))
	}
}

// lateHandler hints targets that fail after the write already returned.
func (c *Coordinator) lateHandler(e entry.Entry) func(quorum.TargetResult) {
	return func(r quorum.TargetResult) {
		if r.State != quorum.Failed {
			return
		}
		c.logger.Warn("late replica apply failed",
			zap.String("key", e.Key), zap.String("target", r.Target), zap.Error(r.Err))
		c.queueHint(r.Target, e)
	}
}

func (c *Coordinator) queueHint(target string, e entry.Entry) {
	if c.hints == nil {
		return
	}
	c.hints.Add(repair.Hint{Cache: c.cfg.Cache, Target: target, Entry: e})
	hintsQueued.Inc()
}

// applyTo applies e on target, retrying store failures with exponential
// backoff. Anything else that prevents the apply is reported as the
// target being unreachable. The token the target holds afterwards is
// noted on sup, if given.
func (c *Coordinator) applyTo(ctx context.Context, target string, e entry.Entry, sup *supersession) (bool, error) {
	attempt := 0
	op := func() (bool, error) {
		if attempt > 0 {
			applyRetries.Inc()
		}
		attempt++
		changed, held, err := c.applyOnce(ctx, target, e)
		if err != nil && !errs.Retryable(err) {
			return false, backoff.Permanent(err)
		}
		if err == nil {
			sup.note(e.Token, held)
		}
		return changed, err
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(backoff.WithInitialInterval(c.cfg.RetryInterval)),
			uint64(c.cfg.ApplyRetries)),
		ctx)

	changed, err := backoff.RetryWithData(op, b)
	if err == nil {
		return changed, nil
	}
	if errors.Is(err, errs.ErrReplicaUnreachable) {
		return false, err
	}
	if errs.Retryable(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false, errors.Wrapf(errs.ErrReplicaUnreachable, "%s after %d attempts: %v", target, attempt, err)
	}
	return false, err
}

func (c *Coordinator) applyOnce(ctx context.Context, target string, e entry.Entry) (bool, clock.Token, error) {
	if target == c.nodeID {
		return c.local(ctx, e)
	}
	resp, err := c.tr.Apply(ctx, target, &wire.ApplyRequest{Cache: c.cfg.Cache, Entry: e})
	if err != nil {
		return false, clock.Token{}, err
	}
	return resp.Changed, resp.Held, nil
}

// supersession records the newest token a target reported holding above
// the Coordinated entry it was sent, when that token was issued by another
// primary. Tokens from the same primary only mean concurrent writes landed
// out of order.
type supersession struct {
	mu   sync.Mutex
	held clock.Token
}

func (s *supersession) note(sent, held clock.Token) {
	if s == nil || sent.Mode != clock.Coordinated || held.Mode != clock.Coordinated {
		return
	}
	if held.Node == sent.Node || !held.After(sent) {
		return
	}
	s.mu.Lock()
	if s.held.IsZero() || held.After(s.held) {
		s.held = held
	}
	s.mu.Unlock()
}

func (s *supersession) token() clock.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}
