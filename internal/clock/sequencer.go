package clock

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gridcache/internal/errs"
)

// maxSeedAttempts bounds how often Next reseeds a key because the epoch
// moved while the seed was being read.
const maxSeedAttempts = 3

// SeedFunc returns the highest Coordinated counter already committed for a
// key, or 0 if there is none.
type SeedFunc func(key string) (uint64, error)

// SequencerOption configures a Sequencer.
type SequencerOption func(*Sequencer)

// WithEpoch makes the sequencer reseed a key from SeedFunc the first time it
// is sequenced after epoch returns a new value. The node passes the
// membership epoch, so a key is reseeded after every change that can move
// its primary.
func WithEpoch(epoch func() uint64) SequencerOption {
	return func(s *Sequencer) { s.epoch = epoch }
}

type sequence struct {
	counter uint64
	epoch   uint64
	seeded  bool
}

// Sequencer hands out Coordinated tokens for the keys this node is primary
// for. Each key has its own sequence, seeded lazily the first time the key
// is sequenced in an epoch, so a node that takes over or takes back the
// primary role continues above whatever was committed meanwhile.
type Sequencer struct {
	nodeID string
	seed   SeedFunc
	epoch  func() uint64
	guard  *Guard
	logger *zap.Logger

	mu   sync.Mutex
	seqs map[string]*sequence
}

// NewSequencer creates a sequencer for nodeID. A nil seed starts every key at 0.
func NewSequencer(nodeID string, seed SeedFunc, logger *zap.Logger, opts ...SequencerOption) *Sequencer {
	if seed == nil {
		seed = func(string) (uint64, error) { return 0, nil }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sequencer{
		nodeID: nodeID,
		seed:   seed,
		epoch:  func() uint64 { return 0 },
		guard:  NewGuard(),
		logger: logger.With(zap.String("node", nodeID)),
		seqs:   make(map[string]*sequence),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next token for key. The seed is read without holding
// the sequencer lock, so seeding one key does not stall the others.
func (s *Sequencer) Next(key string) (Token, error) {
	for attempt := 1; ; attempt++ {
		s.mu.Lock()
		epoch := s.epoch()
		if seq, ok := s.seqs[key]; ok && seq.seeded && seq.epoch == epoch {
			tok, err := s.issueLocked(key, seq)
			s.mu.Unlock()
			return tok, err
		}
		s.mu.Unlock()

		seeded, err := s.seed(key)
		if err != nil {
			sequencerEvents.WithLabelValues("seed_failed").Inc()
			return Token{}, errors.Wrapf(errs.ErrStoreFailure, "seed sequence for %q: %v", key, err)
		}
		sequencerEvents.WithLabelValues("seed").Inc()

		s.mu.Lock()
		if s.epoch() != epoch && attempt < maxSeedAttempts {
			// Membership moved while seeding; the seed may already be stale.
			s.mu.Unlock()
			continue
		}
		seq, ok := s.seqs[key]
		if !ok {
			seq = &sequence{}
			s.seqs[key] = seq
		}
		// Never drop below what this node issued or observed itself.
		if seeded > seq.counter {
			seq.counter = seeded
		}
		seq.epoch = s.epoch()
		seq.seeded = true
		tok, err := s.issueLocked(key, seq)
		s.mu.Unlock()
		return tok, err
	}
}

func (s *Sequencer) issueLocked(key string, seq *sequence) (Token, error) {
	tok := Token{Mode: Coordinated, Counter: seq.counter + 1, Node: s.nodeID}
	if err := s.guard.Check(s.nodeID, key, tok); err != nil {
		s.logger.Error("token regression", zap.String("key", key), zap.Error(err))
		if last, ok := s.guard.Last(s.nodeID, key, Coordinated); ok {
			seq.counter = last.Counter
		}
		return Token{}, err
	}
	seq.counter = tok.Counter
	sequencerEvents.WithLabelValues("issue").Inc()
	return tok, nil
}

// Observe records a Coordinated token applied locally for key so the
// sequence never issues at or below it. A token issued under this node's
// identity above the sequence means the sequence lost state; the sequence
// is lifted and ErrTokenRegression is returned.
func (s *Sequencer) Observe(key string, t Token) error {
	if t.Mode != Coordinated {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, known := s.seqs[key]
	if !known {
		// Not sequenced here yet; the seed will pick the token up.
		return nil
	}
	cur := seq.counter
	if t.Counter <= cur {
		return nil
	}
	seq.counter = t.Counter
	if t.Node == s.nodeID {
		sequencerEvents.WithLabelValues("regression").Inc()
		s.logger.Error("observed own sequence above issued value",
			zap.String("key", key), zap.Stringer("token", t), zap.Uint64("issued", cur))
		return errors.Wrapf(errs.ErrTokenRegression, "key %q: node %s observed own token %s above %d", key, s.nodeID, t, cur)
	}
	return nil
}

// Lift raises the sequence of key to at least floor, a counter known to be
// committed elsewhere. A key not sequenced yet is also reseeded on its
// next use.
func (s *Sequencer) Lift(key string, floor uint64) {
	if floor == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.seqs[key]
	if !ok {
		s.seqs[key] = &sequence{counter: floor}
		sequencerEvents.WithLabelValues("lift").Inc()
		return
	}
	if floor > seq.counter {
		s.logger.Warn("sequence lifted",
			zap.String("key", key), zap.Uint64("from", seq.counter), zap.Uint64("to", floor))
		seq.counter = floor
		sequencerEvents.WithLabelValues("lift").Inc()
	}
}
