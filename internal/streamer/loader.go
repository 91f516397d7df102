package streamer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gridcache/internal/coordinator"
)

// BatchEntry is one entry submitted to a load. Overwrite lets it replace an
// earlier entry for the same key in the same load.
type BatchEntry struct {
	Key       string
	Value     []byte
	Overwrite bool
}

// Writer is the write path entries are dispatched to.
type Writer interface {
	Write(ctx context.Context, key string, value []byte) *coordinator.Outcome
}

// Status is what happened to one submitted entry.
type Status int

const (
	Committed Status = iota
	PartiallyCommitted
	Failed
	// Skipped entries lost the fold to an earlier entry for the same key.
	Skipped
	// Superseded entries were replaced by a later overwriting entry.
	Superseded
	// Aborted entries were not dispatched because an earlier key failed
	// under FailFast.
	Aborted
	// Cancelled entries were not dispatched because the load was cancelled.
	Cancelled
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case Committed:
		return "COMMITTED"
	case PartiallyCommitted:
		return "PARTIALLY_COMMITTED"
	case Failed:
		return "FAILED"
	case Skipped:
		return "SKIPPED"
	case Superseded:
		return "SUPERSEDED"
	case Aborted:
		return "ABORTED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

func statusOf(s coordinator.State) Status {
	switch s {
	case coordinator.Committed:
		return Committed
	case coordinator.PartiallyCommitted:
		return PartiallyCommitted
	default:
		return Failed
	}
}

// Result reports one submitted entry. Outcome is set for dispatched entries.
type Result struct {
	Index   int
	Key     string
	Status  Status
	Outcome *coordinator.Outcome
}

// Report lists a result per submitted entry, in submission order.
type Report struct {
	LoadID     uuid.UUID
	Results    []Result
	Dispatched int
	Duration   time.Duration
}

// Count returns how many entries ended with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Failed returns the entries whose write did not fully commit.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status == Failed || res.Status == PartiallyCommitted {
			out = append(out, res)
		}
	}
	return out
}

// Key returns the result of the entry that was dispatched for key.
func (r *Report) Key(key string) (Result, bool) {
	for _, res := range r.Results {
		if res.Key == key && res.Outcome != nil {
			return res, true
		}
	}
	return Result{}, false
}

func (r *Report) merge(other *Report) {
	offset := len(r.Results)
	for _, res := range other.Results {
		res.Index += offset
		r.Results = append(r.Results, res)
	}
	r.Dispatched += other.Dispatched
	r.Duration += other.Duration
}

// Options controls one load.
type Options struct {
	// Parallelism bounds concurrent dispatches. Zero or less is unbounded.
	Parallelism int
	// FailFast stops dispatching once a key fails.
	FailFast bool
}

// Loader folds and dispatches batches.
type Loader struct {
	w      Writer
	logger *zap.Logger
}

// NewLoader creates a loader writing through w.
func NewLoader(w Writer, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{w: w, logger: logger.Named("loader")}
}

// fold picks one entry per key. It returns the indices of the picked
// entries in order of each key's first appearance, and marks the rest.
func fold(entries []BatchEntry, results []Result) []int {
	winner := make(map[string]int, len(entries))
	var order []string
	for i, e := range entries {
		results[i] = Result{Index: i, Key: e.Key}
		cur, seen := winner[e.Key]
		switch {
		case !seen:
			winner[e.Key] = i
			order = append(order, e.Key)
		case e.Overwrite:
			results[cur].Status = Superseded
			winner[e.Key] = i
		default:
			results[i].Status = Skipped
		}
	}
	picked := make([]int, len(order))
	for i, key := range order {
		picked[i] = winner[key]
	}
	return picked
}

// Load folds entries and writes each key's surviving entry. Cancelling ctx
// stops dispatching; keys already dispatched finish.
func (l *Loader) Load(ctx context.Context, entries []BatchEntry, opts Options) *Report {
	start := time.Now()
	report := &Report{LoadID: uuid.New(), Results: make([]Result, len(entries))}
	logger := l.logger.With(zap.Stringer("load", report.LoadID))

	picked := fold(entries, report.Results)

	var g errgroup.Group
	if opts.Parallelism > 0 {
		g.SetLimit(opts.Parallelism)
	}
	var (
		aborted    atomic.Bool
		dispatched atomic.Int32
	)
	wctx := context.WithoutCancel(ctx)
	// stopReason is checked before queueing a key and again once it holds a
	// dispatch slot, since a bounded group may block in between.
	stopReason := func() (Status, bool) {
		if ctx.Err() != nil {
			return Cancelled, true
		}
		if aborted.Load() {
			return Aborted, true
		}
		return 0, false
	}

	for n, idx := range picked {
		if reason, stop := stopReason(); stop {
			for _, rest := range picked[n:] {
				report.Results[rest].Status = reason
			}
			logger.Warn("load stopped dispatching",
				zap.Stringer("reason", reason), zap.Int("undispatched", len(picked)-n))
			break
		}

		idx := idx
		e := entries[idx]
		g.Go(func() error {
			res := &report.Results[idx]
			if reason, stop := stopReason(); stop {
				res.Status = reason
				return nil
			}
			dispatched.Inc()
			out := l.w.Write(wctx, e.Key, e.Value)
			res.Outcome = out
			res.Status = statusOf(out.State)
			if res.Status == Failed && opts.FailFast {
				aborted.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()
	report.Dispatched = int(dispatched.Load())

	report.Duration = time.Since(start)
	for _, res := range report.Results {
		loadedEntries.WithLabelValues(res.Status.String()).Inc()
	}
	loadDuration.Observe(report.Duration.Seconds())
	logger.Debug("load finished",
		zap.Int("entries", len(entries)),
		zap.Int("dispatched", report.Dispatched),
		zap.Int("failed", len(report.Failed())))
	return report
}
