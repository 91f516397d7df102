// Package errs holds the sentinel errors shared by the write path.
// Callers wrap them with github.com/pkg/errors and test with errors.Is.
package errs

import (
	"github.com/pkg/errors"
)

var (
	// ErrCoordinationUnavailable is returned when the primary of a key cannot
	// be reached in COORDINATED mode. The write did not happen and may be retried.
	ErrCoordinationUnavailable = errors.New("coordination unavailable")

	// ErrReplicaUnreachable marks a target that did not acknowledge an apply
	// within its timeout or retry budget.
	ErrReplicaUnreachable = errors.New("replica unreachable")

	// ErrTokenRegression is an internal consistency error: a token source
	// issued a token not greater than one it issued before.
	ErrTokenRegression = errors.New("order token regression")

	// ErrStoreFailure is a local store I/O failure. The coordinator retries it.
	ErrStoreFailure = errors.New("store failure")

	// ErrNotPrimary is returned by a node asked to sequence a key it does not own.
	ErrNotPrimary = errors.New("not primary for key")

	// ErrNoReplicas means the replica provider returned an empty set.
	ErrNoReplicas = errors.New("no replicas available")

	ErrUnknownCache         = errors.New("unknown cache")
	ErrUnsupportedAtomicity = errors.New("unsupported atomicity mode")
	ErrEmptyKey             = errors.New("key cannot be empty")
)

// Retryable reports whether err is a transient store failure worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreFailure)
}
