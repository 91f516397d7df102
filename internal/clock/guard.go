package clock

import (
	"sync"

	"github.com/pkg/errors"

	"gridcache/internal/errs"
)

type guardKey struct {
	source string
	key    string
}

// Guard remembers the last token each source issued and refuses any token
// that does not order after it. Distributed sources are tracked across all
// keys, Coordinated sources per key.
type Guard struct {
	mu   sync.Mutex
	last map[guardKey]Token
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{last: make(map[guardKey]Token)}
}

// Check admits t as the next token from source. It returns
// ErrTokenRegression, and records nothing, if t does not order after the
// last admitted token for the same scope.
func (g *Guard) Check(source, key string, t Token) error {
	k := guardKey{source: source}
	if t.Mode == Coordinated {
		k.key = key
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.last[k]; ok && !t.After(prev) {
		guardRejects.WithLabelValues(t.Mode.String()).Inc()
		return errors.Wrapf(errs.ErrTokenRegression, "source %s issued %s after %s", source, t, prev)
	}
	g.last[k] = t
	return nil
}

// Last returns the last token admitted for the scope of (source, key, mode).
func (g *Guard) Last(source, key string, mode Mode) (Token, bool) {
	k := guardKey{source: source}
	if mode == Coordinated {
		k.key = key
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.last[k]
	return t, ok
}
