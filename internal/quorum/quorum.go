package quorum

import (
	"context"
	"time"
)

const (
	// DefaultPerReplicaTimeout is the default timeout for each replica call.
	DefaultPerReplicaTimeout = 2 * time.Second
)

// State is the state of one replica in a write.
type State int

const (
	// Pending means the replica had not answered when the write returned.
	Pending State = iota
	// Applied means the replica resolved the entry, whether it won or not.
	Applied
	// Failed means the replica returned an error or timed out.
	Failed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Applied:
		return "APPLIED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// TargetResult is the result of a write on one replica.
type TargetResult struct {
	Target   string
	State    State
	Changed  bool
	Err      error
	Duration time.Duration
}

// WriteResult represents the result of a fan-out write. Results follow the
// order of the targets passed to DoWrite.
type WriteResult struct {
	Results []TargetResult
	Applied int
	Failed  int
	Pending int
}

// WriteFunc applies a write on a single replica and reports whether the
// replica's stored entry changed.
type WriteFunc func(ctx context.Context, target string) (bool, error)

// WriteOptions controls DoWrite.
type WriteOptions struct {
	// MinAcks is how many replicas must apply before DoWrite may return
	// early. Zero waits for every replica.
	MinAcks int
	// Timeout bounds each replica call.
	Timeout time.Duration
	// OnLate receives the results of replicas that were still pending when
	// DoWrite returned.
	OnLate func(TargetResult)
}

type indexed struct {
	idx int
	res TargetResult
}

// DoWrite runs fn on every target in parallel. It waits for every target
// unless MinAcks > 0, in which case it returns as soon as MinAcks targets
// applied and none failed.
func DoWrite(ctx context.Context, targets []string, opts WriteOptions, fn WriteFunc) WriteResult {
	if len(targets) == 0 {
		return WriteResult{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultPerReplicaTimeout
	}

	// Buffered so replicas still running after an early return never block.
	ch := make(chan indexed, len(targets))
	for i, target := range targets {
		go func(i int, target string) {
			start := time.Now()
			tctx, cancel := context.WithTimeout(ctx, timeout)
			changed, err := fn(tctx, target)
			cancel()

			res := TargetResult{Target: target, State: Applied, Changed: changed, Duration: time.Since(start)}
			if err != nil {
				res.State, res.Changed, res.Err = Failed, false, err
			}
			ch <- indexed{idx: i, res: res}
		}(i, target)
	}

	result := WriteResult{Results: make([]TargetResult, len(targets))}
	for i, target := range targets {
		result.Results[i] = TargetResult{Target: target, State: Pending}
	}

	received := 0
	for received < len(targets) {
		in := <-ch
		received++
		result.Results[in.idx] = in.res
		if in.res.State == Applied {
			result.Applied++
		} else {
			result.Failed++
		}

		if opts.MinAcks > 0 && result.Applied >= opts.MinAcks && result.Failed == 0 && received < len(targets) {
			remaining := len(targets) - received
			if opts.OnLate != nil {
				go func() {
					for j := 0; j < remaining; j++ {
						opts.OnLate((<-ch).res)
					}
				}()
			}
			result.Pending = remaining
			break
		}
	}
	return result
}

// ReadResult is the answer of one replica to a read.
type ReadResult[T any] struct {
	Target string
	Value  T
	Err    error
}

// DoRead runs fn on every target in parallel and waits for all of them.
// Results follow the order of targets.
func DoRead[T any](ctx context.Context, targets []string, timeout time.Duration, fn func(ctx context.Context, target string) (T, error)) []ReadResult[T] {
	if timeout <= 0 {
		timeout = DefaultPerReplicaTimeout
	}
	results := make([]ReadResult[T], len(targets))
	done := make(chan struct{}, len(targets))
	for i, target := range targets {
		go func(i int, target string) {
			tctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			v, err := fn(tctx, target)
			results[i] = ReadResult[T]{Target: target, Value: v, Err: err}
			done <- struct{}{}
		}(i, target)
	}
	for range targets {
		<-done
	}
	return results
}
