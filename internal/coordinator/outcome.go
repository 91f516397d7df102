package coordinator

import (
	"strings"

	"gridcache/internal/entry"
	"gridcache/internal/quorum"
)

// State is a step of a write.
type State int

const (
	Created State = iota
	TokenAssigned
	Replicating
	// Committed means every target applied the entry, or enough of them
	// did under MinAcks and none failed.
	Committed
	// PartiallyCommitted means some targets applied and some failed.
	PartiallyCommitted
	// Failed means the write did not reach any replica.
	Failed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case TokenAssigned:
		return "TOKEN_ASSIGNED"
	case Replicating:
		return "REPLICATING"
	case Committed:
		return "COMMITTED"
	case PartiallyCommitted:
		return "PARTIALLY_COMMITTED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Final reports whether s ends a write.
func (s State) Final() bool {
	return s == Committed || s == PartiallyCommitted || s == Failed
}

// Outcome is the result of one write.
type Outcome struct {
	Key   string
	Entry entry.Entry
	State State
	// History lists every state the write went through, in order.
	History []State
	Targets []quorum.TargetResult
	Err     error
}

func newOutcome(key string) *Outcome {
	return &Outcome{Key: key, State: Created, History: []State{Created}}
}

func (o *Outcome) transition(s State) {
	o.State = s
	o.History = append(o.History, s)
}

func (o *Outcome) fail(err error) *Outcome {
	o.Err = err
	o.transition(Failed)
	return o
}

// FailedTargets returns the targets that did not apply the entry.
func (o *Outcome) FailedTargets() []string {
	var out []string
	for _, r := range o.Targets {
		if r.State == quorum.Failed {
			out = append(out, r.Target)
		}
	}
	return out
}

// PendingTargets returns the targets still running when the write returned.
func (o *Outcome) PendingTargets() []string {
	var out []string
	for _, r := range o.Targets {
		if r.State == quorum.Pending {
			out = append(out, r.Target)
		}
	}
	return out
}

// Applied returns how many targets applied the entry.
func (o *Outcome) Applied() int {
	n := 0
	for _, r := range o.Targets {
		if r.State == quorum.Applied {
			n++
		}
	}
	return n
}

// OK reports whether the write was accepted by at least one replica.
func (o *Outcome) OK() bool {
	return o.State == Committed || o.State == PartiallyCommitted
}

func (o *Outcome) String() string {
	var b strings.Builder
	b.WriteString(o.Key)
	b.WriteString(" ")
	b.WriteString(o.State.String())
	if failed := o.FailedTargets(); len(failed) > 0 {
		b.WriteString(" failed=")
		b.WriteString(strings.Join(failed, ","))
	}
	return b.String()
}
