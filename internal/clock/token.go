package clock

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Mode selects how a cache orders writes to the same key.
type Mode int

const (
	// Distributed tokens come from the writing node's own counter.
	Distributed Mode = iota
	// Coordinated tokens come from the key's primary replica.
	Coordinated
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case Distributed:
		return "DISTRIBUTED"
	case Coordinated:
		return "COORDINATED"
	default:
		return "UNKNOWN"
	}
}

// ParseMode parses a mode name, case-insensitively. "CLOCK" and "PRIMARY"
// are accepted as aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DISTRIBUTED", "CLOCK":
		return Distributed, nil
	case "COORDINATED", "PRIMARY":
		return Coordinated, nil
	default:
		return Distributed, errors.Errorf("unknown order mode %q", s)
	}
}

// Token is a write-order token. Counter is the node clock value (Distributed)
// or the primary-assigned sequence (Coordinated); Node is the issuer.
type Token struct {
	Mode    Mode
	Counter uint64
	Node    string
}

// CompareResult represents the result of comparing two tokens.
type CompareResult int

const (
	// Before indicates this token orders before the other.
	Before CompareResult = iota
	// After indicates this token orders after the other.
	After
	// Equal indicates both tokens identify the same write.
	Equal
)

// String returns a readable form of the comparison result.
func (r CompareResult) String() string {
	switch r {
	case Before:
		return "Before"
	case After:
		return "After"
	case Equal:
		return "Equal"
	default:
		return "Unknown"
	}
}

// Compare orders two tokens. The order is total: counters first, then the
// issuing node ID. Tokens of different modes do not meet inside a cache;
// if they do, Coordinated orders after Distributed.
func (t Token) Compare(other Token) CompareResult {
	if t.Mode != other.Mode {
		if t.Mode > other.Mode {
			return After
		}
		return Before
	}
	switch {
	case t.Counter > other.Counter:
		return After
	case t.Counter < other.Counter:
		return Before
	}
	switch {
	case t.Node > other.Node:
		return After
	case t.Node < other.Node:
		return Before
	}
	return Equal
}

// After returns true if t orders strictly after other.
func (t Token) After(other Token) bool {
	return t.Compare(other) == After
}

// IsZero reports whether the token was never assigned.
func (t Token) IsZero() bool {
	return t.Counter == 0 && t.Node == ""
}

// String returns a compact representation such as "D:1700000000000001@n1".
func (t Token) String() string {
	prefix := "D"
	if t.Mode == Coordinated {
		prefix = "C"
	}
	return fmt.Sprintf("%s:%d@%s", prefix, t.Counter, t.Node)
}
