package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"gridcache/internal/clock"
	"gridcache/internal/ring"
)

const (
	defaultListenAddr     = "127.0.0.1:7400"
	defaultAdminAddr      = "127.0.0.1:7480"
	defaultLogLevel       = "info"
	defaultReplicaTimeout = 2 * time.Second
	defaultApplyRetries   = 3
	defaultProbeInterval  = time.Second
	defaultProbeTimeout   = 500 * time.Millisecond
	defaultSuspectTimeout = 5 * time.Second
	defaultRepairInterval = 5 * time.Second
	defaultBufferSize     = 512
)

// Atomicity names of a cache. Only ATOMIC is served.
const (
	Atomic        = "ATOMIC"
	Transactional = "TRANSACTIONAL"
)

// Duration is a time.Duration that decodes from strings such as "1.5s".
type Duration struct {
	time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.WithStack(err)
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Peer represents a peer node in the cluster.
type Peer struct {
	ID   string `toml:"id"`
	Addr string `toml:"addr"`
}

// CacheConfig is one cache's section.
type CacheConfig struct {
	Name           string   `toml:"name"`
	Atomicity      string   `toml:"atomicity"`
	OrderMode      string   `toml:"order-mode"`
	Backups        int      `toml:"backups"`
	AllowOverwrite bool     `toml:"allow-overwrite"`
	MinAcks        int      `toml:"min-acks"`
	ReplicaTimeout Duration `toml:"replica-timeout"`
	ApplyRetries   int      `toml:"apply-retries"`
	BufferSize     int      `toml:"buffer-size"`
	Parallelism    int      `toml:"parallelism"`
}

// Mode returns the parsed order mode.
func (c *CacheConfig) Mode() clock.Mode {
	m, _ := clock.ParseMode(c.OrderMode)
	return m
}

// Adjust fills defaults.
func (c *CacheConfig) Adjust() {
	adjustString(&c.Atomicity, Atomic)
	c.Atomicity = strings.ToUpper(c.Atomicity)
	adjustString(&c.OrderMode, clock.Distributed.String())
	adjustDuration(&c.ReplicaTimeout, defaultReplicaTimeout)
	adjustInt(&c.ApplyRetries, defaultApplyRetries)
	adjustInt(&c.BufferSize, defaultBufferSize)
}

// Validate checks a cache section.
func (c *CacheConfig) Validate() error {
	if c.Name == "" {
		return errors.New("cache name cannot be empty")
	}
	if c.Atomicity != Atomic && c.Atomicity != Transactional {
		return errors.Errorf("cache %s: unknown atomicity %q", c.Name, c.Atomicity)
	}
	if _, err := clock.ParseMode(c.OrderMode); err != nil {
		return errors.Wrapf(err, "cache %s", c.Name)
	}
	if c.Backups < 0 {
		return errors.Errorf("cache %s: backups cannot be negative", c.Name)
	}
	if c.MinAcks < 0 {
		return errors.Errorf("cache %s: min-acks cannot be negative", c.Name)
	}
	if c.MinAcks > c.Backups+1 {
		return errors.Errorf("cache %s: min-acks %d exceeds %d copies", c.Name, c.MinAcks, c.Backups+1)
	}
	return nil
}

// Config holds the node configuration.
type Config struct {
	NodeID     string `toml:"node-id"`
	ListenAddr string `toml:"listen-addr"`
	AdminAddr  string `toml:"admin-addr"`
	// DataDir holds the node's goleveldb files. Empty keeps everything in memory.
	DataDir  string `toml:"data-dir"`
	LogLevel string `toml:"log-level"`
	Peers    []Peer `toml:"peers"`
	VNodes   int    `toml:"vnodes"`

	ProbeInterval  Duration `toml:"probe-interval"`
	ProbeTimeout   Duration `toml:"probe-timeout"`
	SuspectTimeout Duration `toml:"suspect-timeout"`
	RepairInterval Duration `toml:"repair-interval"`

	Caches []CacheConfig `toml:"cache"`

	// WarningMsgs collects problems that do not stop the node.
	WarningMsgs []string `toml:"-"`
}

// Load reads path, or returns defaults for an empty path.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path == "" {
		c.Adjust(nil)
		return c, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.WithStack(err)
	}
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	c.Adjust(&meta)
	return c, nil
}

// Adjust fills defaults. meta, when set, is used to report unknown keys.
func (c *Config) Adjust(meta *toml.MetaData) {
	if meta != nil {
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			c.WarningMsgs = append(c.WarningMsgs,
				"config contains undefined items: "+strings.Join(keys, ", "))
		}
	}
	adjustString(&c.ListenAddr, defaultListenAddr)
	adjustString(&c.AdminAddr, defaultAdminAddr)
	adjustString(&c.LogLevel, defaultLogLevel)
	adjustInt(&c.VNodes, ring.DefaultVnodes)
	adjustDuration(&c.ProbeInterval, defaultProbeInterval)
	adjustDuration(&c.ProbeTimeout, defaultProbeTimeout)
	adjustDuration(&c.SuspectTimeout, defaultSuspectTimeout)
	adjustDuration(&c.RepairInterval, defaultRepairInterval)
	for i := range c.Caches {
		c.Caches[i].Adjust()
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("node-id cannot be empty")
	}
	seen := make(map[string]bool)
	for _, p := range c.Peers {
		if p.ID == "" || p.Addr == "" {
			return errors.Errorf("peer %q: id and addr are required", p.ID)
		}
	}
	for i := range c.Caches {
		cc := &c.Caches[i]
		if err := cc.Validate(); err != nil {
			return err
		}
		if seen[cc.Name] {
			return errors.Errorf("cache %s defined twice", cc.Name)
		}
		seen[cc.Name] = true
	}
	return nil
}

func adjustString(v *string, defValue string) {
	if len(*v) == 0 {
		*v = defValue
	}
}

func adjustInt(v *int, defValue int) {
	if *v == 0 {
		*v = defValue
	}
}

func adjustDuration(v *Duration, defValue time.Duration) {
	if v.Duration == 0 {
		v.Duration = defValue
	}
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, errors.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, errors.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: addr,
		})
	}

	return peers, nil
}

// BuildRingNodes converts config peers + self into ring.Node slice.
// Includes self node in the list.
func (c *Config) BuildRingNodes() []ring.Node {
	nodes := make([]ring.Node, 0, len(c.Peers)+1)
	nodes = append(nodes, ring.Node{
		ID:   c.NodeID,
		Addr: c.ListenAddr,
	})
	for _, peer := range c.Peers {
		// Skip self if it appears in peers list
		if peer.ID != c.NodeID {
			nodes = append(nodes, ring.Node{
				ID:   peer.ID,
				Addr: peer.Addr,
			})
		}
	}
	return nodes
}

// Cache returns the section for name.
func (c *Config) Cache(name string) (CacheConfig, bool) {
	for _, cc := range c.Caches {
		if cc.Name == name {
			return cc, true
		}
	}
	return CacheConfig{}, false
}

func (c *Config) String() string {
	return fmt.Sprintf("node=%s listen=%s admin=%s peers=%d caches=%d",
		c.NodeID, c.ListenAddr, c.AdminAddr, len(c.Peers), len(c.Caches))
}
