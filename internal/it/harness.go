// Package it runs whole clusters of nodes in one process.
package it

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"gridcache/internal/config"
	"gridcache/internal/membership"
	"gridcache/internal/node"
	"gridcache/internal/ring"
	"gridcache/internal/transport"
)

const bufSize = 1 << 20

// Options describes a test cluster.
type Options struct {
	Nodes int
	Cache config.CacheConfig
	// GRPC runs the replica service over in-memory gRPC connections instead
	// of the in-process network. Nodes cannot be taken down in this mode.
	GRPC bool
	// Verbose logs through the test logger.
	Verbose bool
}

// Cluster is a set of nodes sharing one cache definition.
type Cluster struct {
	t     testing.TB
	ids   []string
	nodes map[string]*node.Node
	net   *transport.Network
	lis   map[string]*bufconn.Listener
}

// NewCluster starts opts.Nodes nodes named n1, n2, ... and creates the cache
// on each of them. Everything is stopped when the test ends.
func NewCluster(t testing.TB, opts Options) *Cluster {
	t.Helper()
	c := &Cluster{
		t:     t,
		nodes: make(map[string]*node.Node),
		lis:   make(map[string]*bufconn.Listener),
	}
	for i := 1; i <= opts.Nodes; i++ {
		c.ids = append(c.ids, fmt.Sprintf("n%d", i))
	}
	if !opts.GRPC {
		c.net = transport.NewNetwork()
	}

	for _, id := range c.ids {
		var peers []ring.Node
		for _, other := range c.ids {
			if other != id {
				peers = append(peers, ring.Node{ID: other, Addr: other})
			}
		}
		nodeOpts := node.Options{
			NodeID:         id,
			Addr:           id,
			Peers:          peers,
			Transport:      c.transport(id),
			Membership:     membership.Config{ProbeInterval: time.Hour},
			RepairInterval: time.Hour,
		}
		if opts.Verbose {
			nodeOpts.Logger = zaptest.NewLogger(t)
		}
		n, err := node.New(nodeOpts)
		require.NoError(t, err)
		_, err = n.CreateCache(opts.Cache)
		require.NoError(t, err)
		c.nodes[id] = n
		t.Cleanup(func() { _ = n.Stop() })

		if opts.GRPC {
			srv := transport.NewServer(n, nil)
			lis := c.lis[id]
			go func() { _ = srv.Serve(lis) }()
			t.Cleanup(srv.Stop)
		} else {
			c.net.Register(id, n)
		}
	}
	return c
}

func (c *Cluster) transport(id string) transport.Transport {
	if c.net != nil {
		return c.net.Transport(id)
	}
	c.lis[id] = bufconn.Listen(bufSize)
	resolve := func(target string) (string, bool) {
		if _, ok := c.lis[target]; !ok {
			return "", false
		}
		return "passthrough:///" + target, true
	}
	return transport.NewGRPCTransport(id, resolve, nil,
		grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			lis, ok := c.lis[strings.TrimPrefix(addr, "passthrough:///")]
			if !ok {
				return nil, errors.Errorf("no listener for %s", addr)
			}
			return lis.DialContext(ctx)
		}))
}

// IDs returns the node IDs in order.
func (c *Cluster) IDs() []string {
	return c.ids
}

// Node returns node id.
func (c *Cluster) Node(id string) *node.Node {
	return c.nodes[id]
}

// Cache returns node id's handle on the cache called name.
func (c *Cluster) Cache(id, name string) *node.Cache {
	c.t.Helper()
	cache, err := c.nodes[id].Cache(name)
	require.NoError(c.t, err)
	return cache
}

// SetDown takes node id off the network, or puts it back.
func (c *Cluster) SetDown(id string, down bool) {
	c.t.Helper()
	require.NotNil(c.t, c.net, "nodes cannot be taken down over gRPC")
	c.net.SetDown(id, down)
}

// LocalValues returns each replica's stored value of key, by node ID.
// Nodes holding nothing are left out.
func (c *Cluster) LocalValues(cache, key string) map[string]string {
	c.t.Helper()
	out := make(map[string]string)
	for _, id := range c.ids {
		e, ok, err := c.Cache(id, cache).Get(key)
		require.NoError(c.t, err)
		if ok {
			out[id] = string(e.Value)
		}
	}
	return out
}

// RequireConverged checks that every node reads want for key and that
// every replica of the key stores it.
func (c *Cluster) RequireConverged(cache, key, want string) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, id := range c.ids {
		e, ok, err := c.Cache(id, cache).Read(ctx, key)
		require.NoError(c.t, err, "read from %s", id)
		require.True(c.t, ok, "read from %s", id)
		require.Equal(c.t, want, string(e.Value), "read from %s", id)
	}

	rs, err := c.Cache(c.ids[0], cache).Replicas(key)
	require.NoError(c.t, err)
	values := c.LocalValues(cache, key)
	for _, id := range rs.Targets() {
		require.Equal(c.t, want, values[id], "replica %s of %q", id, key)
	}
}
