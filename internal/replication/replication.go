package replication

import (
	"github.com/pkg/errors"

	"gridcache/internal/errs"
	"gridcache/internal/ring"
)

// ReplicaSet is the set of nodes a key is written to.
type ReplicaSet struct {
	Primary string
	Backups []string
}

// Targets returns the primary followed by the backups.
func (rs ReplicaSet) Targets() []string {
	if rs.Primary == "" {
		return nil
	}
	return append([]string{rs.Primary}, rs.Backups...)
}

// Contains reports whether id is in the set.
func (rs ReplicaSet) Contains(id string) bool {
	for _, t := range rs.Targets() {
		if t == id {
			return true
		}
	}
	return false
}

// Provider resolves a key to its current replica set. A node missing from
// the set (for example during a membership change) is not a target for
// writes issued now.
type Provider interface {
	Replicas(key string) (ReplicaSet, error)
}

// RingProvider picks the first backups+1 live nodes of a key's preference list.
type RingProvider struct {
	ring    *ring.Ring
	backups int
	alive   func(id string) bool
}

// NewRingProvider creates a provider over r. alive filters out members that
// cannot currently take writes; nil accepts every member.
func NewRingProvider(r *ring.Ring, backups int, alive func(id string) bool) *RingProvider {
	if backups < 0 {
		backups = 0
	}
	return &RingProvider{ring: r, backups: backups, alive: alive}
}

// Replicas implements Provider.
func (p *RingProvider) Replicas(key string) (ReplicaSet, error) {
	nodes := p.ring.PreferenceList(key, p.backups+1, p.alive)
	if len(nodes) == 0 {
		return ReplicaSet{}, errors.Wrapf(errs.ErrNoReplicas, "key %q", key)
	}
	rs := ReplicaSet{Primary: nodes[0].ID}
	for _, n := range nodes[1:] {
		rs.Backups = append(rs.Backups, n.ID)
	}
	return rs, nil
}

// Static always returns the same replica set.
type Static ReplicaSet

// Replicas implements Provider.
func (s Static) Replicas(key string) (ReplicaSet, error) {
	rs := ReplicaSet(s)
	if rs.Primary == "" {
		return ReplicaSet{}, errors.Wrapf(errs.ErrNoReplicas, "key %q", key)
	}
	rs.Backups = append([]string(nil), rs.Backups...)
	return rs, nil
}
