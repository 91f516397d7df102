package resolve

import (
	"gridcache/internal/clock"
	"gridcache/internal/entry"
)

// Resolve returns the entry a replica should hold after incoming arrives
// while it holds existing (nil if the key is absent), and whether that
// differs from what it held.
func Resolve(incoming entry.Entry, existing *entry.Entry) (entry.Entry, bool) {
	if existing == nil {
		return incoming, true
	}
	if incoming.Token.Compare(existing.Token) == clock.After {
		return incoming, true
	}
	// Equal tokens are a re-delivery of the same write; a lower token lost.
	return *existing, false
}

// ReconcileResult is the outcome of reconciling the entries a set of
// replicas returned for one key.
type ReconcileResult struct {
	// Winner is the entry with the greatest token. Zero if Found is false.
	Winner entry.Entry
	Found  bool
	// Stale lists the indices of inputs whose token is below the winner's.
	Stale []int
}

// Reconcile folds entries into a single winner. Missing entries are passed
// as nil and are always reported stale once any entry exists.
func Reconcile(entries []*entry.Entry) ReconcileResult {
	var result ReconcileResult
	for _, e := range entries {
		if e == nil {
			continue
		}
		if !result.Found {
			result.Winner, result.Found = *e, true
			continue
		}
		result.Winner, _ = Resolve(*e, &result.Winner)
	}
	if !result.Found {
		return result
	}

	for i, e := range entries {
		if e == nil || e.Token.Compare(result.Winner.Token) != clock.Equal {
			result.Stale = append(result.Stale, i)
		}
	}
	return result
}

// Converged reports whether every input holds the winning entry.
func (r ReconcileResult) Converged() bool {
	return r.Found && len(r.Stale) == 0
}
