package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"gridcache/internal/errs"
	"gridcache/internal/wire"
)

// Resolver maps a node ID to a dialable address.
type Resolver func(nodeID string) (string, bool)

// GRPCTransport implements Transport over gRPC. Connections are created
// lazily per node and cached.
type GRPCTransport struct {
	from     string
	resolve  Resolver
	dialOpts []grpc.DialOption
	logger   *zap.Logger

	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCTransport creates a client transport for node from. Extra dial
// options are appended to the defaults (insecure credentials, wire codec).
func NewGRPCTransport(from string, resolve Resolver, logger *zap.Logger, opts ...grpc.DialOption) *GRPCTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wire.Codec{})),
	}, opts...)
	return &GRPCTransport{
		from:     from,
		resolve:  resolve,
		dialOpts: dialOpts,
		logger:   logger.With(zap.String("node", from)),
		conns:    make(map[string]*grpc.ClientConn),
	}
}

func (t *GRPCTransport) conn(target string) (*grpc.ClientConn, error) {
	t.mu.RLock()
	cc, ok := t.conns[target]
	t.mu.RUnlock()
	if ok {
		return cc, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cc, ok := t.conns[target]; ok {
		return cc, nil
	}
	addr, ok := t.resolve(target)
	if !ok {
		return nil, errors.Wrapf(errs.ErrReplicaUnreachable, "no address for %s", target)
	}
	cc, err := grpc.NewClient(addr, t.dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(errs.ErrReplicaUnreachable, "dial %s at %s: %v", target, addr, err)
	}
	t.logger.Debug("connected to peer", zap.String("peer", target), zap.String("addr", addr))
	t.conns[target] = cc
	return cc, nil
}

func (t *GRPCTransport) invoke(ctx context.Context, target, method string, req, resp wire.Message) error {
	cc, err := t.conn(target)
	if err != nil {
		return err
	}
	return FromStatus(target, cc.Invoke(ctx, fullMethod(method), req, resp))
}

// Apply implements Transport.
func (t *GRPCTransport) Apply(ctx context.Context, target string, req *wire.ApplyRequest) (*wire.ApplyResponse, error) {
	resp := new(wire.ApplyResponse)
	if err := t.invoke(ctx, target, "Apply", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Get implements Transport.
func (t *GRPCTransport) Get(ctx context.Context, target string, req *wire.GetRequest) (*wire.GetResponse, error) {
	resp := new(wire.GetResponse)
	if err := t.invoke(ctx, target, "Get", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// NextSeq implements Transport.
func (t *GRPCTransport) NextSeq(ctx context.Context, target string, req *wire.SeqRequest) (*wire.SeqResponse, error) {
	resp := new(wire.SeqResponse)
	if err := t.invoke(ctx, target, "NextSeq", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Ping implements Transport.
func (t *GRPCTransport) Ping(ctx context.Context, target string) error {
	return t.invoke(ctx, target, "Ping", &wire.PingRequest{From: t.from}, new(wire.PingResponse))
}

// Close closes every cached connection.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	for id, cc := range t.conns {
		err = multierr.Append(err, cc.Close())
		delete(t.conns, id)
	}
	return err
}
