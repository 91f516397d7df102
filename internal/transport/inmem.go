package transport

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"gridcache/internal/errs"
	"gridcache/internal/wire"
)

type link struct {
	from, to string
}

// Network is an in-process network of handlers. Messages are encoded with
// the wire codec on the way in and out, so nothing is shared between nodes.
// Nodes can be taken down, links cut and delivery delayed.
type Network struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	down     map[string]bool
	cut      map[link]bool
	delay    map[string]time.Duration
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		handlers: make(map[string]Handler),
		down:     make(map[string]bool),
		cut:      make(map[link]bool),
		delay:    make(map[string]time.Duration),
	}
}

// Register attaches a node's handler.
func (n *Network) Register(id string, h Handler) {
	n.mu.Lock()
	n.handlers[id] = h
	n.mu.Unlock()
}

// SetDown makes every call to id fail (down=true) or succeed again.
func (n *Network) SetDown(id string, down bool) {
	n.mu.Lock()
	n.down[id] = down
	n.mu.Unlock()
}

// Partition cuts the link between a and b in both directions.
func (n *Network) Partition(a, b string) {
	n.mu.Lock()
	n.cut[link{a, b}] = true
	n.cut[link{b, a}] = true
	n.mu.Unlock()
}

// Heal restores the link between a and b.
func (n *Network) Heal(a, b string) {
	n.mu.Lock()
	delete(n.cut, link{a, b})
	delete(n.cut, link{b, a})
	n.mu.Unlock()
}

// SetDelay delays every call delivered to id.
func (n *Network) SetDelay(id string, d time.Duration) {
	n.mu.Lock()
	n.delay[id] = d
	n.mu.Unlock()
}

// Transport returns the client side for node from.
func (n *Network) Transport(from string) *InmemTransport {
	return &InmemTransport{net: n, from: from}
}

func (n *Network) route(from, to string) (Handler, time.Duration, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	h, ok := n.handlers[to]
	if !ok || n.down[to] || n.down[from] || n.cut[link{from, to}] {
		return nil, 0, errors.Wrapf(errs.ErrReplicaUnreachable, "%s -> %s", from, to)
	}
	return h, n.delay[to], nil
}

// InmemTransport implements Transport over a Network.
type InmemTransport struct {
	net  *Network
	from string
}

var codec wire.Codec

func (t *InmemTransport) deliver(ctx context.Context, target string, req, resp wire.Message, call func(context.Context, Handler, wire.Message) (wire.Message, error)) error {
	h, delay, err := t.net.route(t.from, target)
	if err != nil {
		return err
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return errors.Wrapf(errs.ErrReplicaUnreachable, "%s -> %s: %v", t.from, target, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(errs.ErrReplicaUnreachable, "%s -> %s: %v", t.from, target, err)
	}

	data, err := codec.Marshal(req)
	if err != nil {
		return err
	}
	in := newLike(req)
	if err := codec.Unmarshal(data, in); err != nil {
		return err
	}
	out, err := call(ctx, h, in)
	if err != nil {
		return err
	}
	data, err = codec.Marshal(out)
	if err != nil {
		return err
	}
	return codec.Unmarshal(data, resp)
}

func newLike(m wire.Message) wire.Message {
	switch m.(type) {
	case *wire.ApplyRequest:
		return new(wire.ApplyRequest)
	case *wire.GetRequest:
		return new(wire.GetRequest)
	case *wire.SeqRequest:
		return new(wire.SeqRequest)
	default:
		return new(wire.PingRequest)
	}
}

// Apply implements Transport.
func (t *InmemTransport) Apply(ctx context.Context, target string, req *wire.ApplyRequest) (*wire.ApplyResponse, error) {
	resp := new(wire.ApplyResponse)
	err := t.deliver(ctx, target, req, resp, func(ctx context.Context, h Handler, in wire.Message) (wire.Message, error) {
		return h.HandleApply(ctx, in.(*wire.ApplyRequest))
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Get implements Transport.
func (t *InmemTransport) Get(ctx context.Context, target string, req *wire.GetRequest) (*wire.GetResponse, error) {
	resp := new(wire.GetResponse)
	err := t.deliver(ctx, target, req, resp, func(ctx context.Context, h Handler, in wire.Message) (wire.Message, error) {
		return h.HandleGet(ctx, in.(*wire.GetRequest))
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// NextSeq implements Transport.
func (t *InmemTransport) NextSeq(ctx context.Context, target string, req *wire.SeqRequest) (*wire.SeqResponse, error) {
	resp := new(wire.SeqResponse)
	err := t.deliver(ctx, target, req, resp, func(ctx context.Context, h Handler, in wire.Message) (wire.Message, error) {
		return h.HandleNextSeq(ctx, in.(*wire.SeqRequest))
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Ping implements Transport.
func (t *InmemTransport) Ping(ctx context.Context, target string) error {
	return t.deliver(ctx, target, &wire.PingRequest{From: t.from}, new(wire.PingResponse), func(ctx context.Context, h Handler, in wire.Message) (wire.Message, error) {
		return h.HandlePing(ctx, in.(*wire.PingRequest))
	})
}

// Close is a no-op.
func (t *InmemTransport) Close() error {
	return nil
}
