package node

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gridcache/internal/clock"
	"gridcache/internal/errs"
	"gridcache/internal/wire"
)

// HandleApply resolves an entry sent by a coordinator or the repairer
// against the local replica.
func (n *Node) HandleApply(ctx context.Context, req *wire.ApplyRequest) (*wire.ApplyResponse, error) {
	c, err := n.Cache(req.Cache)
	if err != nil {
		return nil, err
	}
	changed, held, err := c.apply(ctx, req.Entry)
	if err != nil {
		return nil, err
	}
	return &wire.ApplyResponse{Changed: changed, Held: held}, nil
}

// HandleGet returns the local replica's entry.
func (n *Node) HandleGet(_ context.Context, req *wire.GetRequest) (*wire.GetResponse, error) {
	c, err := n.Cache(req.Cache)
	if err != nil {
		return nil, err
	}
	e, ok, err := c.store.Get(req.Key)
	if err != nil {
		return nil, err
	}
	return &wire.GetResponse{Found: ok, Entry: e}, nil
}

// HandleNextSeq sequences a key this node is primary for.
func (n *Node) HandleNextSeq(_ context.Context, req *wire.SeqRequest) (*wire.SeqResponse, error) {
	c, err := n.Cache(req.Cache)
	if err != nil {
		return nil, err
	}
	if c.mode != clock.Coordinated {
		return nil, errors.Wrapf(errs.ErrNotPrimary, "cache %s is not coordinated", c.name)
	}
	rs, err := c.replicas.Replicas(req.Key)
	if err != nil {
		return nil, err
	}
	if rs.Primary != n.id {
		n.logger.Debug("sequence request for foreign key",
			zap.String("cache", c.name), zap.String("key", req.Key),
			zap.String("from", req.From), zap.String("primary", rs.Primary))
		return nil, errors.Wrapf(errs.ErrNotPrimary, "%s is not primary for %q (primary %s)", n.id, req.Key, rs.Primary)
	}
	c.seq.Lift(req.Key, req.Floor)
	tok, err := c.seq.Next(req.Key)
	if err != nil {
		return nil, err
	}
	return &wire.SeqResponse{Token: tok}, nil
}

// HandlePing answers a liveness probe. A ping is also proof that the
// sender is alive.
func (n *Node) HandlePing(_ context.Context, req *wire.PingRequest) (*wire.PingResponse, error) {
	if req.From != "" {
		n.members.MarkAlive(req.From)
	}
	return &wire.PingResponse{Node: n.id}, nil
}
