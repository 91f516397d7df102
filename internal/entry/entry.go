// Package entry defines the unit every replica stores for a key.
package entry

import (
	"gridcache/internal/clock"
	"gridcache/internal/errs"
)

// Entry is the stored state of one key: the value, the token that ordered
// the write and the node that originated it.
type Entry struct {
	Key    string
	Value  []byte
	Token  clock.Token
	Origin string
}

// Clone returns a deep copy so callers never share a value slice with a store.
func (e Entry) Clone() Entry {
	out := e
	if e.Value != nil {
		out.Value = append([]byte(nil), e.Value...)
	}
	return out
}

// Validate checks the fields every write must carry.
func (e Entry) Validate() error {
	if e.Key == "" {
		return errs.ErrEmptyKey
	}
	return nil
}

// Newer reports whether e orders strictly after other.
func (e Entry) Newer(other Entry) bool {
	return e.Token.After(other.Token)
}
