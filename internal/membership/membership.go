package membership

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"gridcache/internal/ring"
)

// Status represents the state of a cluster member.
type Status int

const (
	Alive Status = iota
	Suspect
	Dead
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case Alive:
		return "ALIVE"
	case Suspect:
		return "SUSPECT"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Member is a cluster member as seen by this node.
type Member struct {
	ID       string
	Addr     string
	Status   Status
	LastSeen time.Time
}

// Prober checks whether member id is reachable.
type Prober func(ctx context.Context, id string) error

// Config holds detector timings.
type Config struct {
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	SuspectTimeout time.Duration
}

func (c *Config) adjust() {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = c.ProbeInterval
	}
	if c.SuspectTimeout <= 0 {
		c.SuspectTimeout = 3 * time.Second
	}
}

// Detector is a probe-based failure detector over a fixed member list.
type Detector struct {
	localID string
	cfg     Config
	now     func() time.Time
	logger  *zap.Logger

	mu        sync.RWMutex
	members   map[string]*Member
	listeners []func(Member)
	// epoch counts membership changes.
	epoch atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a detector for localID. The local node is always Alive.
func New(localID, localAddr string, cfg Config, logger *zap.Logger) *Detector {
	cfg.adjust()
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Detector{
		localID: localID,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(zap.String("node", localID)),
		members: make(map[string]*Member),
		ctx:     ctx,
		cancel:  cancel,
	}
	d.members[localID] = &Member{ID: localID, Addr: localAddr, Status: Alive, LastSeen: d.now()}
	d.updateGauge()
	return d
}

// AddMembers adds peers, initially Alive. Known members are left untouched.
func (d *Detector) AddMembers(nodes []ring.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, n := range nodes {
		if _, ok := d.members[n.ID]; ok {
			continue
		}
		d.members[n.ID] = &Member{ID: n.ID, Addr: n.Addr, Status: Alive, LastSeen: d.now()}
		d.epoch.Inc()
	}
	d.updateGauge()
}

// OnChange registers fn to be called, on its own goroutine, whenever a
// member changes status.
func (d *Detector) OnChange(fn func(Member)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Start runs the probe loop until Stop.
func (d *Detector) Start(probe Prober) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.cfg.ProbeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				d.ProbeAll(d.ctx, probe)
				d.CheckTimeouts()
			}
		}
	}()
}

// Stop stops the probe loop.
func (d *Detector) Stop() {
	d.cancel()
	d.wg.Wait()
}

// ProbeAll probes every peer once, concurrently, and records the results.
func (d *Detector) ProbeAll(ctx context.Context, probe Prober) {
	var wg sync.WaitGroup
	for _, id := range d.peerIDs() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
			defer cancel()
			if err := probe(pctx, id); err != nil {
				d.MarkSuspect(id, err)
				return
			}
			d.MarkAlive(id)
		}(id)
	}
	wg.Wait()
}

// MarkAlive records that id answered.
func (d *Detector) MarkAlive(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.members[id]
	if !ok {
		return
	}
	m.LastSeen = d.now()
	if m.Status != Alive {
		d.logger.Info("member alive", zap.String("member", id), zap.Stringer("was", m.Status))
		d.setStatus(m, Alive)
	}
}

// MarkSuspect records a failed probe of id.
func (d *Detector) MarkSuspect(id string, cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.members[id]
	if !ok || m.Status != Alive || id == d.localID {
		return
	}
	d.logger.Warn("member suspect", zap.String("member", id), zap.Error(cause))
	d.setStatus(m, Suspect)
}

// CheckTimeouts moves members that have been Suspect for longer than the
// suspect timeout to Dead.
func (d *Detector) CheckTimeouts() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for _, m := range d.members {
		if m.Status == Suspect && now.Sub(m.LastSeen) > d.cfg.SuspectTimeout {
			d.logger.Warn("member dead", zap.String("member", m.ID))
			d.setStatus(m, Dead)
		}
	}
}

// IsAlive reports whether id is an Alive member.
func (d *Detector) IsAlive(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[id]
	return ok && m.Status == Alive
}

// Epoch returns a counter that moves on every member added and every
// status change. It is bumped before OnChange listeners run.
func (d *Detector) Epoch() uint64 {
	return d.epoch.Load()
}

// Status returns the status of id.
func (d *Detector) Status(id string) (Status, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[id]
	if !ok {
		return Dead, false
	}
	return m.Status, true
}

// Snapshot returns a copy of every member, sorted by ID.
func (d *Detector) Snapshot() []Member {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Member, 0, len(d.members))
	for _, m := range d.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Nodes returns every member as a ring node, regardless of status.
func (d *Detector) Nodes() []ring.Node {
	snap := d.Snapshot()
	nodes := make([]ring.Node, 0, len(snap))
	for _, m := range snap {
		nodes = append(nodes, ring.Node{ID: m.ID, Addr: m.Addr})
	}
	return nodes
}

func (d *Detector) peerIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.members))
	for id := range d.members {
		if id != d.localID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// setStatus must be called with d.mu held.
func (d *Detector) setStatus(m *Member, s Status) {
	m.Status = s
	d.epoch.Inc()
	d.updateGauge()
	snapshot := *m
	for _, fn := range d.listeners {
		go fn(snapshot)
	}
}

func (d *Detector) updateGauge() {
	counts := map[Status]int{Alive: 0, Suspect: 0, Dead: 0}
	for _, m := range d.members {
		counts[m.Status]++
	}
	for s, n := range counts {
		membersGauge.WithLabelValues(s.String()).Set(float64(n))
	}
}
