package transport

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gridcache/internal/errs"
	"gridcache/internal/wire"
)

// Transport sends replica operations to other nodes, addressed by node ID.
// Every call returns an explicit error; unreachable targets and expired
// contexts surface as errs.ErrReplicaUnreachable.
type Transport interface {
	Apply(ctx context.Context, target string, req *wire.ApplyRequest) (*wire.ApplyResponse, error)
	Get(ctx context.Context, target string, req *wire.GetRequest) (*wire.GetResponse, error)
	NextSeq(ctx context.Context, target string, req *wire.SeqRequest) (*wire.SeqResponse, error)
	Ping(ctx context.Context, target string) error
	Close() error
}

// Handler serves replica operations on a node.
type Handler interface {
	HandleApply(ctx context.Context, req *wire.ApplyRequest) (*wire.ApplyResponse, error)
	HandleGet(ctx context.Context, req *wire.GetRequest) (*wire.GetResponse, error)
	HandleNextSeq(ctx context.Context, req *wire.SeqRequest) (*wire.SeqResponse, error)
	HandlePing(ctx context.Context, req *wire.PingRequest) (*wire.PingResponse, error)
}

// ToStatus converts a handler error into a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch {
	case errors.Is(err, errs.ErrStoreFailure):
		code = codes.Aborted
	case errors.Is(err, errs.ErrNotPrimary):
		code = codes.FailedPrecondition
	case errors.Is(err, errs.ErrUnknownCache):
		code = codes.NotFound
	case errors.Is(err, errs.ErrEmptyKey):
		code = codes.InvalidArgument
	case errors.Is(err, errs.ErrUnsupportedAtomicity):
		code = codes.Unimplemented
	case errors.Is(err, errs.ErrCoordinationUnavailable), errors.Is(err, errs.ErrReplicaUnreachable):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// FromStatus converts an error returned by a gRPC call to target back into
// the matching sentinel.
func FromStatus(target string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return errors.Wrapf(errs.ErrReplicaUnreachable, "%s: %v", target, err)
	}
	var sentinel error
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		sentinel = errs.ErrReplicaUnreachable
	case codes.Aborted:
		sentinel = errs.ErrStoreFailure
	case codes.FailedPrecondition:
		sentinel = errs.ErrNotPrimary
	case codes.NotFound:
		sentinel = errs.ErrUnknownCache
	case codes.InvalidArgument:
		sentinel = errs.ErrEmptyKey
	case codes.Unimplemented:
		sentinel = errs.ErrUnsupportedAtomicity
	default:
		return errors.Errorf("%s: %s: %s", target, st.Code(), st.Message())
	}
	return errors.Wrapf(sentinel, "%s: %s", target, st.Message())
}
