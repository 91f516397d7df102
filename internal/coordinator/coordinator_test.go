package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"gridcache/internal/clock"
	"gridcache/internal/entry"
	"gridcache/internal/errs"
	"gridcache/internal/repair"
	"gridcache/internal/replication"
	"gridcache/internal/storage"
	"gridcache/internal/transport"
	"gridcache/internal/wire"
)

type replica struct {
	id       string
	store    *storage.MemStore
	seq      *clock.Sequencer
	failures atomic.Int32
}

func newReplica(id string) *replica {
	r := &replica{id: id, store: storage.NewMemStore()}
	r.seq = clock.NewSequencer(id, r.store.MaxCounter, nil)
	return r
}

func (r *replica) apply(_ context.Context, e entry.Entry) (bool, clock.Token, error) {
	if r.failures.Load() > 0 {
		r.failures.Dec()
		return false, clock.Token{}, errors.Wrap(errs.ErrStoreFailure, "injected")
	}
	changed, err := r.store.Apply(e)
	if err != nil {
		return false, clock.Token{}, err
	}
	_ = r.seq.Observe(e.Key, e.Token)
	held, _, err := r.store.Get(e.Key)
	if err != nil {
		return false, clock.Token{}, err
	}
	return changed, held.Token, nil
}

func (r *replica) HandleApply(ctx context.Context, req *wire.ApplyRequest) (*wire.ApplyResponse, error) {
	changed, held, err := r.apply(ctx, req.Entry)
	if err != nil {
		return nil, err
	}
	return &wire.ApplyResponse{Changed: changed, Held: held}, nil
}

func (r *replica) HandleGet(_ context.Context, req *wire.GetRequest) (*wire.GetResponse, error) {
	e, ok, err := r.store.Get(req.Key)
	if err != nil {
		return nil, err
	}
	return &wire.GetResponse{Found: ok, Entry: e}, nil
}

func (r *replica) HandleNextSeq(_ context.Context, req *wire.SeqRequest) (*wire.SeqResponse, error) {
	r.seq.Lift(req.Key, req.Floor)
	tok, err := r.seq.Next(req.Key)
	if err != nil {
		return nil, err
	}
	return &wire.SeqResponse{Token: tok}, nil
}

func (r *replica) HandlePing(context.Context, *wire.PingRequest) (*wire.PingResponse, error) {
	return &wire.PingResponse{Node: r.id}, nil
}

func (r *replica) value(t *testing.T, key string) (string, bool) {
	t.Helper()
	e, ok, err := r.store.Get(key)
	require.NoError(t, err)
	return string(e.Value), ok
}

type cluster struct {
	net      *transport.Network
	replicas map[string]*replica
	hints    *repair.HintQueue
}

func newCluster(ids ...string) *cluster {
	c := &cluster{
		net:      transport.NewNetwork(),
		replicas: make(map[string]*replica),
		hints:    repair.NewHintQueue(),
	}
	for _, id := range ids {
		r := newReplica(id)
		c.replicas[id] = r
		c.net.Register(id, r)
	}
	return c
}

func (c *cluster) coordinator(t *testing.T, from string, cfg Config, rs replication.ReplicaSet) *Coordinator {
	t.Helper()
	clk, err := clock.NewDistributedClock(from, storage.NewInmemStable())
	require.NoError(t, err)
	if cfg.Cache == "" {
		cfg.Cache = "c"
	}
	if cfg.ReplicaTimeout == 0 {
		cfg.ReplicaTimeout = 200 * time.Millisecond
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Millisecond
	}
	local := c.replicas[from]
	return New(cfg, Deps{
		NodeID:    from,
		Clock:     clk,
		Sequencer: local.seq,
		Replicas:  replication.Static(rs),
		Transport: c.net.Transport(from),
		Local:     local.apply,
		Hints:     c.hints,
	})
}

var threeReplicas = replication.ReplicaSet{Primary: "n1", Backups: []string{"n2", "n3"}}

func TestDistributedWriteCommits(t *testing.T) {
	c := newCluster("n1", "n2", "n3")
	co := c.coordinator(t, "n1", Config{Mode: clock.Distributed}, threeReplicas)

	out := co.Put(context.Background(), "k", []byte("v"))
	require.NoError(t, out.Err)
	assert.Equal(t, Committed, out.State)
	assert.Equal(t, []State{Created, TokenAssigned, Replicating, Committed}, out.History)
	assert.Equal(t, clock.Distributed, out.Entry.Token.Mode)
	assert.Equal(t, "n1", out.Entry.Origin)
	assert.Equal(t, 3, out.Applied())

	for id, r := range c.replicas {
		v, ok := r.value(t, "k")
		assert.True(t, ok, id)
		assert.Equal(t, "v", v, id)
	}
}

func TestLaterWriteWins(t *testing.T) {
	c := newCluster("n1", "n2", "n3")
	co := c.coordinator(t, "n1", Config{Mode: clock.Distributed}, threeReplicas)

	first := co.Put(context.Background(), "k", []byte("1"))
	second := co.Put(context.Background(), "k", []byte("2"))
	require.Equal(t, Committed, first.State)
	require.Equal(t, Committed, second.State)
	assert.True(t, second.Entry.Newer(first.Entry))

	for id, r := range c.replicas {
		v, _ := r.value(t, "k")
		assert.Equal(t, "2", v, id)
	}
}

func TestUnreachableBackupThenReplicate(t *testing.T) {
	c := newCluster("n1", "n2", "n3")
	co := c.coordinator(t, "n1", Config{Mode: clock.Distributed}, threeReplicas)
	c.net.SetDown("n3", true)

	out := co.Put(context.Background(), "k", []byte("v"))
	assert.Equal(t, PartiallyCommitted, out.State)
	assert.True(t, errors.Is(out.Err, errs.ErrReplicaUnreachable))
	assert.Equal(t, []string{"n3"}, out.FailedTargets())
	assert.Equal(t, []string{"n3"}, c.hints.Targets())
	_, ok := c.replicas["n3"].value(t, "k")
	assert.False(t, ok)

	c.net.SetDown("n3", false)
	again := co.Replicate(context.Background(), out.Entry, out.FailedTargets())
	require.NoError(t, again.Err)
	assert.Equal(t, Committed, again.State)
	v, ok := c.replicas["n3"].value(t, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	// A second re-send is a no-op everywhere.
	all := co.Replicate(context.Background(), out.Entry, threeReplicas.Targets())
	assert.Equal(t, Committed, all.State)
	for _, r := range all.Targets {
		assert.False(t, r.Changed, r.Target)
	}
}

func TestNoTargetAppliedFails(t *testing.T) {
	c := newCluster("n1", "n2", "n3")
	co := c.coordinator(t, "n1", Config{Mode: clock.Distributed},
		replication.ReplicaSet{Primary: "n2", Backups: []string{"n3"}})
	c.net.SetDown("n2", true)
	c.net.SetDown("n3", true)

	out := co.Put(context.Background(), "k", []byte("v"))
	assert.Equal(t, Failed, out.State)
	assert.True(t, errors.Is(out.Err, errs.ErrReplicaUnreachable))
	assert.Equal(t, 0, c.hints.Len())
}

func TestCoordinatedUsesRemotePrimary(t *testing.T) {
	c := newCluster("n1", "n2", "n3")
	rs := replication.ReplicaSet{Primary: "n2", Backups: []string{"n3"}}
	co := c.coordinator(t, "n1", Config{Mode: clock.Coordinated}, rs)

	first := co.Put(context.Background(), "k", []byte("1"))
	second := co.Put(context.Background(), "k", []byte("2"))
	require.Equal(t, Committed, first.State)
	require.Equal(t, Committed, second.State)

	assert.Equal(t, clock.Token{Mode: clock.Coordinated, Counter: 1, Node: "n2"}, first.Entry.Token)
	assert.Equal(t, clock.Token{Mode: clock.Coordinated, Counter: 2, Node: "n2"}, second.Entry.Token)
	assert.Equal(t, "n1", second.Entry.Origin)
	assert.Equal(t, "n2", second.Targets[0].Target)

	for _, id := range []string{"n2", "n3"} {
		v, _ := c.replicas[id].value(t, "k")
		assert.Equal(t, "2", v, id)
	}
	_, ok := c.replicas["n1"].value(t, "k")
	assert.False(t, ok)
}

func TestCoordinatedLocalPrimary(t *testing.T) {
	c := newCluster("n1", "n2")
	co := c.coordinator(t, "n1", Config{Mode: clock.Coordinated},
		replication.ReplicaSet{Primary: "n1", Backups: []string{"n2"}})

	out := co.Put(context.Background(), "k", []byte("v"))
	require.Equal(t, Committed, out.State)
	assert.Equal(t, clock.Token{Mode: clock.Coordinated, Counter: 1, Node: "n1"}, out.Entry.Token)
}

func TestCoordinatedPrimaryUnreachable(t *testing.T) {
	c := newCluster("n1", "n2", "n3")
	rs := replication.ReplicaSet{Primary: "n2", Backups: []string{"n3"}}
	co := c.coordinator(t, "n1", Config{Mode: clock.Coordinated}, rs)
	c.net.SetDown("n2", true)

	out := co.Put(context.Background(), "k", []byte("v"))
	assert.Equal(t, Failed, out.State)
	assert.True(t, errors.Is(out.Err, errs.ErrCoordinationUnavailable))
	assert.Equal(t, []State{Created, Failed}, out.History)
	_, ok := c.replicas["n3"].value(t, "k")
	assert.False(t, ok)
}

func TestCoordinatedPrimaryApplyFails(t *testing.T) {
	c := newCluster("n1", "n2")
	co := c.coordinator(t, "n1", Config{Mode: clock.Coordinated, ApplyRetries: -1},
		replication.ReplicaSet{Primary: "n1", Backups: []string{"n2"}})
	c.replicas["n1"].failures.Store(1)

	out := co.Put(context.Background(), "k", []byte("v"))
	assert.Equal(t, Failed, out.State)
	assert.True(t, errors.Is(out.Err, errs.ErrCoordinationUnavailable))
	_, ok := c.replicas["n2"].value(t, "k")
	assert.False(t, ok, "backups are not written when the primary fails")
}

func TestStoreFailureRetried(t *testing.T) {
	tests := []struct {
		name     string
		failures int32
		retries  int
		want     State
	}{
		{name: "recovers", failures: 2, retries: 3, want: Committed},
		{name: "exhausted", failures: 10, retries: 1, want: PartiallyCommitted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCluster("n1", "n2")
			co := c.coordinator(t, "n1", Config{Mode: clock.Distributed, ApplyRetries: tt.retries},
				replication.ReplicaSet{Primary: "n1", Backups: []string{"n2"}})
			c.replicas["n2"].failures.Store(tt.failures)

			out := co.Put(context.Background(), "k", []byte("v"))
			assert.Equal(t, tt.want, out.State)
			if tt.want != Committed {
				assert.True(t, errors.Is(out.Targets[1].Err, errs.ErrReplicaUnreachable))
			}
		})
	}
}

func TestMinAcksReturnsEarly(t *testing.T) {
	c := newCluster("n1", "n2", "n3")
	co := c.coordinator(t, "n1", Config{Mode: clock.Distributed, MinAcks: 2, ReplicaTimeout: time.Second}, threeReplicas)
	c.net.SetDelay("n3", 100*time.Millisecond)

	out := co.Put(context.Background(), "k", []byte("v"))
	assert.Equal(t, Committed, out.State)
	assert.Equal(t, []string{"n3"}, out.PendingTargets())

	require.Eventually(t, func() bool {
		_, ok := c.replicas["n3"].value(t, "k")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCoordinatedMinAcksPrimaryOnly(t *testing.T) {
	c := newCluster("n1", "n2")
	co := c.coordinator(t, "n1", Config{Mode: clock.Coordinated, MinAcks: 1},
		replication.ReplicaSet{Primary: "n1", Backups: []string{"n2"}})
	c.net.SetDown("n2", true)

	out := co.Put(context.Background(), "k", []byte("v"))
	assert.Equal(t, Committed, out.State)
	assert.Equal(t, []string{"n2"}, out.PendingTargets())

	require.Eventually(t, func() bool { return c.hints.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestInvalidWrites(t *testing.T) {
	c := newCluster("n1")
	co := c.coordinator(t, "n1", Config{Mode: clock.Distributed}, replication.ReplicaSet{Primary: "n1"})

	out := co.Put(context.Background(), "", []byte("v"))
	assert.Equal(t, Failed, out.State)
	assert.True(t, errors.Is(out.Err, errs.ErrEmptyKey))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out = co.Put(ctx, "k", []byte("v"))
	assert.Equal(t, Failed, out.State)
	assert.True(t, errors.Is(out.Err, context.Canceled))

	empty := c.coordinator(t, "n1", Config{Mode: clock.Distributed}, replication.ReplicaSet{})
	out = empty.Put(context.Background(), "k", []byte("v"))
	assert.Equal(t, Failed, out.State)
	assert.True(t, errors.Is(out.Err, errs.ErrNoReplicas))
}

func TestCancelAfterDispatchCompletes(t *testing.T) {
	c := newCluster("n1", "n2")
	co := c.coordinator(t, "n1", Config{Mode: clock.Distributed, ReplicaTimeout: time.Second},
		replication.ReplicaSet{Primary: "n1", Backups: []string{"n2"}})
	c.net.SetDelay("n2", 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	out := co.Put(ctx, "k", []byte("v"))
	assert.Equal(t, Committed, out.State)
	v, _ := c.replicas["n2"].value(t, "k")
	assert.Equal(t, "v", v)
}

// A backup already holds a token from another primary above what the
// primary's sequence would issue, as after the primary role moved away
// and back. The write is given a token above it and wins.
func TestCoordinatedWriteResequencesBehindNewerPrimary(t *testing.T) {
	for _, from := range []string{"n1", "n2"} {
		t.Run("from "+from, func(t *testing.T) {
			c := newCluster("n1", "n2")
			rs := replication.ReplicaSet{Primary: "n1", Backups: []string{"n2"}}
			co := c.coordinator(t, from, Config{Mode: clock.Coordinated}, rs)
			ctx := context.Background()

			first := co.Put(ctx, "k", []byte("v1"))
			require.Equal(t, Committed, first.State)

			// n2 acted as primary while n1 was unreachable.
			newer := entry.Entry{Key: "k", Value: []byte("v3"), Origin: "n2",
				Token: clock.Token{Mode: clock.Coordinated, Counter: 3, Node: "n2"}}
			_, _, err := c.replicas["n2"].apply(ctx, newer)
			require.NoError(t, err)

			out := co.Put(ctx, "k", []byte("v4"))
			require.Equal(t, Committed, out.State, "err: %v", out.Err)
			assert.Equal(t, clock.Token{Mode: clock.Coordinated, Counter: 4, Node: "n1"}, out.Entry.Token)
			assert.Equal(t, []State{Created, TokenAssigned, Replicating, TokenAssigned, Replicating, Committed}, out.History)
			for _, id := range []string{"n1", "n2"} {
				v, ok := c.replicas[id].value(t, "k")
				require.True(t, ok)
				assert.Equal(t, "v4", v, id)
			}
		})
	}
}

func TestCoordinatedConcurrentSamePrimaryNotResequenced(t *testing.T) {
	c := newCluster("n1", "n2")
	rs := replication.ReplicaSet{Primary: "n1", Backups: []string{"n2"}}
	co := c.coordinator(t, "n1", Config{Mode: clock.Coordinated}, rs)
	ctx := context.Background()

	// A later token from the same primary reached the backup first.
	ahead := entry.Entry{Key: "k", Value: []byte("later"), Origin: "n1",
		Token: clock.Token{Mode: clock.Coordinated, Counter: 2, Node: "n1"}}
	_, _, err := c.replicas["n2"].apply(ctx, ahead)
	require.NoError(t, err)

	out := co.Put(ctx, "k", []byte("earlier"))
	require.Equal(t, Committed, out.State)
	assert.Equal(t, uint64(1), out.Entry.Token.Counter)
	assert.Equal(t, []State{Created, TokenAssigned, Replicating, Committed}, out.History)
}
