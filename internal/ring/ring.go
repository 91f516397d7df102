package ring

import (
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultVnodes is the number of virtual nodes per member when none is given.
const DefaultVnodes = 128

// Node is a cluster member.
type Node struct {
	ID   string
	Addr string
}

type vnode struct {
	hash   uint64
	nodeID string
}

// Ring is a consistent hash ring. It is safe for concurrent use.
type Ring struct {
	mu     sync.RWMutex
	vnodes int
	points []vnode
	nodes  map[string]Node
}

// New creates an empty ring with vnodesPerNode points per member.
func New(vnodesPerNode int) *Ring {
	if vnodesPerNode <= 0 {
		vnodesPerNode = DefaultVnodes
	}
	return &Ring{
		vnodes: vnodesPerNode,
		nodes:  make(map[string]Node),
	}
}

func pointHash(nodeID string, i int) uint64 {
	return xxhash.Sum64String(nodeID + "#" + strconv.Itoa(i))
}

// SetNodes replaces the membership. The resulting ring depends only on the
// set of node IDs, not on their order.
func (r *Ring) SetNodes(nodes []Node) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes = make(map[string]Node, len(nodes))
	r.points = r.points[:0]
	for _, n := range nodes {
		if _, dup := r.nodes[n.ID]; dup {
			continue
		}
		r.nodes[n.ID] = n
		for i := 0; i < r.vnodes; i++ {
			r.points = append(r.points, vnode{hash: pointHash(n.ID, i), nodeID: n.ID})
		}
	}
	r.sortPoints()
}

// AddNode adds n if it is not already a member.
func (r *Ring) AddNode(n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[n.ID]; ok {
		return
	}
	r.nodes[n.ID] = n
	for i := 0; i < r.vnodes; i++ {
		r.points = append(r.points, vnode{hash: pointHash(n.ID, i), nodeID: n.ID})
	}
	r.sortPoints()
}

// RemoveNode removes the member with the given ID.
func (r *Ring) RemoveNode(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[id]; !ok {
		return
	}
	delete(r.nodes, id)
	kept := r.points[:0]
	for _, p := range r.points {
		if p.nodeID != id {
			kept = append(kept, p)
		}
	}
	r.points = kept
}

// sortPoints orders points by hash, breaking hash collisions by node ID so
// the ring is independent of insertion order.
func (r *Ring) sortPoints() {
	sort.Slice(r.points, func(i, j int) bool {
		if r.points[i].hash != r.points[j].hash {
			return r.points[i].hash < r.points[j].hash
		}
		return r.points[i].nodeID < r.points[j].nodeID
	})
}

// Owner returns the first node of key's preference list.
func (r *Ring) Owner(key string) (Node, bool) {
	list := r.PreferenceList(key, 1, nil)
	if len(list) == 0 {
		return Node{}, false
	}
	return list[0], true
}

// PreferenceList returns up to k distinct nodes for key in ring order,
// skipping nodes for which include returns false. A nil include accepts
// every member.
func (r *Ring) PreferenceList(key string, k int, include func(id string) bool) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.points) == 0 || k <= 0 {
		return nil
	}
	h := xxhash.Sum64String(key)
	start := sort.Search(len(r.points), func(i int) bool {
		return r.points[i].hash >= h
	})

	seen := make(map[string]bool, k)
	result := make([]Node, 0, k)
	for i := 0; i < len(r.points) && len(result) < k; i++ {
		id := r.points[(start+i)%len(r.points)].nodeID
		if seen[id] {
			continue
		}
		seen[id] = true
		if include != nil && !include(id) {
			continue
		}
		result = append(result, r.nodes[id])
	}
	return result
}

// Nodes returns the members sorted by ID.
func (r *Ring) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Addr returns the address of member id.
func (r *Ring) Addr(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n.Addr, ok && n.Addr != ""
}
