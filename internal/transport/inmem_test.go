package transport

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridcache/internal/clock"
	"gridcache/internal/entry"
	"gridcache/internal/errs"
	"gridcache/internal/wire"
)

func TestInmem_ApplyAndGet(t *testing.T) {
	net := NewNetwork()
	h := newFakeHandler("n2")
	net.Register("n2", h)
	tr := net.Transport("n1")

	e := entry.Entry{Key: "k", Value: []byte("v"), Token: clock.Token{Counter: 1, Node: "n1"}, Origin: "n1"}
	resp, err := tr.Apply(context.Background(), "n2", &wire.ApplyRequest{Cache: "c", Entry: e})
	require.NoError(t, err)
	assert.True(t, resp.Changed)

	// The handler got its own copy of the value.
	e.Value[0] = 'x'
	got, err := tr.Get(context.Background(), "n2", &wire.GetRequest{Cache: "c", Key: "k"})
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.Equal(t, "v", string(got.Entry.Value))
}

func TestInmem_DownAndPartition(t *testing.T) {
	net := NewNetwork()
	net.Register("n2", newFakeHandler("n2"))
	net.Register("n3", newFakeHandler("n3"))
	tr := net.Transport("n1")
	ctx := context.Background()

	require.NoError(t, tr.Ping(ctx, "n2"))

	net.SetDown("n2", true)
	err := tr.Ping(ctx, "n2")
	assert.True(t, errors.Is(err, errs.ErrReplicaUnreachable))
	net.SetDown("n2", false)
	require.NoError(t, tr.Ping(ctx, "n2"))

	net.Partition("n1", "n3")
	assert.True(t, errors.Is(tr.Ping(ctx, "n3"), errs.ErrReplicaUnreachable))
	require.NoError(t, net.Transport("n2").Ping(ctx, "n3"))
	net.Heal("n1", "n3")
	require.NoError(t, tr.Ping(ctx, "n3"))

	assert.True(t, errors.Is(tr.Ping(ctx, "nobody"), errs.ErrReplicaUnreachable))
}

func TestInmem_DelayHonorsDeadline(t *testing.T) {
	net := NewNetwork()
	net.Register("slow", newFakeHandler("slow"))
	net.SetDelay("slow", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := net.Transport("n1").Ping(ctx, "slow")
	assert.True(t, errors.Is(err, errs.ErrReplicaUnreachable))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestInmem_HandlerErrorsKeepSentinel(t *testing.T) {
	net := NewNetwork()
	net.Register("n2", newFakeHandler("n2"))
	tr := net.Transport("n1")

	_, err := tr.NextSeq(context.Background(), "n2", &wire.SeqRequest{Cache: "c", Key: "k", From: "n1"})
	assert.True(t, errors.Is(err, errs.ErrNotPrimary))

	_, err = tr.Apply(context.Background(), "n2", &wire.ApplyRequest{Cache: "other", Entry: entry.Entry{Key: "k"}})
	assert.True(t, errors.Is(err, errs.ErrUnknownCache))
}
