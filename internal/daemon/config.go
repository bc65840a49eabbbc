// Package daemon manages NoFree configuration and wires the simulator, the
// run store and the HTTP API together.
package daemon

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"

	"github.com/nofree-network/nofree/internal/app/node"
	"github.com/nofree-network/nofree/internal/domain"
	"github.com/nofree-network/nofree/internal/infra/dist"
	"github.com/nofree-network/nofree/internal/infra/sim"
)

// Config holds all daemon configuration.
type Config struct {
	Node       NodeConfig         `toml:"node"`
	Population []PopulationConfig `toml:"population,omitempty"`
	Simulation SimulationConfig   `toml:"simulation"`
	API        APIConfig          `toml:"api"`
	Storage    StorageConfig      `toml:"storage"`
	Logging    LoggingConfig      `toml:"logging"`
	Telemetry  TelemetryConfig    `toml:"telemetry"`
}

// NodeConfig holds the protocol parameters every node starts from.
type NodeConfig struct {
	RequiredShareRate        float64   `toml:"required_share_rate"`
	Kindness                 float64   `toml:"kindness"`
	TTL                      int       `toml:"ttl"`
	DownloadInterval         dist.Spec `toml:"download_interval"`
	ReputationValidity       dist.Spec `toml:"reputation_validity"`
	ReputationRequestTimeout dist.Spec `toml:"reputation_request_timeout"`
	FileRequestTimeout       dist.Spec `toml:"file_request_timeout"`
	FailedRequestPenalty     bool      `toml:"failed_request_penalty"`
}

// PopulationConfig overrides node parameters for a group of nodes. Unset
// fields inherit from [node].
type PopulationConfig struct {
	Name              string     `toml:"name"`
	Count             int        `toml:"count"`
	RequiredShareRate *float64   `toml:"required_share_rate,omitempty"`
	Kindness          *float64   `toml:"kindness,omitempty"`
	TTL               *int       `toml:"ttl,omitempty"`
	DownloadInterval  *dist.Spec `toml:"download_interval,omitempty"`
}

// SimulationConfig controls one simulation run.
type SimulationConfig struct {
	Seed        uint64       `toml:"seed"`
	Duration    Duration     `toml:"duration"`
	MaxEvents   int64        `toml:"max_events"`
	LinkLatency dist.Spec    `toml:"link_latency"`
	Topology    sim.Topology `toml:"topology"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig controls where run reports are kept.
type StorageConfig struct {
	Dir string `toml:"dir"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console or json
	File   string `toml:"file"`   // optional, in addition to stderr
}

// TelemetryConfig controls the Prometheus endpoint.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultPopulation labels nodes not claimed by any [[population]] group.
const DefaultPopulation = "default"

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Node: NodeConfig{
			RequiredShareRate:        0.8,
			Kindness:                 0.9,
			TTL:                      3,
			DownloadInterval:         dist.MustSpec("exponential(10s)"),
			ReputationValidity:       dist.MustSpec("0"),
			ReputationRequestTimeout: dist.MustSpec("2s"),
			FileRequestTimeout:       dist.MustSpec("5s"),
		},
		Simulation: SimulationConfig{
			Seed:        1,
			Duration:    Duration(10 * time.Minute),
			LinkLatency: dist.MustSpec("uniform(5ms,50ms)"),
			Topology: sim.Topology{
				Kind:   sim.TopologyRandom,
				Nodes:  10,
				Degree: 4,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 7878,
		},
		Storage: StorageConfig{
			Dir: nofreeHome(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// ─── Load / Save ────────────────────────────────────────────────────────────

// DefaultConfigPath returns ~/.nofree/config.toml (or $NOFREE_HOME/config.toml).
func DefaultConfigPath() string {
	return filepath.Join(nofreeHome(), "config.toml")
}

// LoadConfig reads config from path, falling back to defaults when the file
// does not exist. An empty path means DefaultConfigPath. Unknown keys and
// invalid values are errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet, use defaults
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("%w: unknown keys %s", domain.ErrInvalidConfig, strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as TOML.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// Encode renders cfg as TOML.
func (c Config) Encode() (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ─── Validation ─────────────────────────────────────────────────────────────

// Validate checks ranges and cross-field constraints. Errors wrap
// domain.ErrInvalidConfig or domain.ErrUnknownTopology.
func (c Config) Validate() error {
	if err := validateRates("node", c.Node.RequiredShareRate, c.Node.Kindness); err != nil {
		return err
	}
	if c.Node.TTL < 1 {
		return fmt.Errorf("%w: node.ttl must be >= 1, got %d", domain.ErrInvalidConfig, c.Node.TTL)
	}
	if err := validateInterval("node", c.Node.DownloadInterval); err != nil {
		return err
	}
	if err := c.Simulation.Topology.Validate(); err != nil {
		return err
	}

	claimed := 0
	names := make(map[string]bool)
	for i, p := range c.Population {
		label := fmt.Sprintf("population[%d]", i)
		if p.Name == "" {
			return fmt.Errorf("%w: %s needs a name", domain.ErrInvalidConfig, label)
		}
		if names[p.Name] {
			return fmt.Errorf("%w: duplicate population %q", domain.ErrInvalidConfig, p.Name)
		}
		names[p.Name] = true
		if p.Count < 0 {
			return fmt.Errorf("%w: %s.count must be >= 0", domain.ErrInvalidConfig, p.Name)
		}
		claimed += p.Count

		share, kind := c.Node.RequiredShareRate, c.Node.Kindness
		if p.RequiredShareRate != nil {
			share = *p.RequiredShareRate
		}
		if p.Kindness != nil {
			kind = *p.Kindness
		}
		if err := validateRates(p.Name, share, kind); err != nil {
			return err
		}
		if p.TTL != nil && *p.TTL < 1 {
			return fmt.Errorf("%w: %s.ttl must be >= 1", domain.ErrInvalidConfig, p.Name)
		}
		if p.DownloadInterval != nil {
			if err := validateInterval(p.Name, *p.DownloadInterval); err != nil {
				return err
			}
		}
	}
	if claimed > c.Simulation.Topology.Nodes {
		return fmt.Errorf("%w: populations claim %d nodes, topology has %d",
			domain.ErrInvalidConfig, claimed, c.Simulation.Topology.Nodes)
	}

	if c.Simulation.Duration <= 0 && c.Simulation.MaxEvents <= 0 {
		return fmt.Errorf("%w: simulation needs a duration or max_events", domain.ErrInvalidConfig)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %v", domain.ErrInvalidConfig, err)
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("%w: logging.format must be console or json", domain.ErrInvalidConfig)
	}
	return nil
}

// validateInterval rejects download intervals that are enabled but can only
// ever draw zero. "0" itself stays valid and means serve-only.
func validateInterval(scope string, s dist.Spec) error {
	if d := s.Get(); d != nil && dist.NeverPositive(d) {
		return fmt.Errorf("%w: %s.download_interval %s never draws a positive delay",
			domain.ErrInvalidConfig, scope, d)
	}
	return nil
}

func validateRates(scope string, share, kindness float64) error {
	if share < 0 || share > 1 {
		return fmt.Errorf("%w: %s.required_share_rate must be in [0,1], got %g", domain.ErrInvalidConfig, scope, share)
	}
	if kindness < 0 || kindness > 1 {
		return fmt.Errorf("%w: %s.kindness must be in [0,1], got %g", domain.ErrInvalidConfig, scope, kindness)
	}
	return nil
}

// ─── Expansion ──────────────────────────────────────────────────────────────

// NodeConfigs expands [node] and [[population]] into one config per node.
// Populations take the lowest ids in declaration order; the remaining nodes
// use [node] as is.
func (c Config) NodeConfigs() []node.Config {
	base := node.Config{
		Population:               DefaultPopulation,
		RequiredShareRate:        c.Node.RequiredShareRate,
		Kindness:                 c.Node.Kindness,
		TTL:                      c.Node.TTL,
		DownloadInterval:         c.Node.DownloadInterval.Get(),
		ReputationValidity:       c.Node.ReputationValidity.Get(),
		ReputationRequestTimeout: c.Node.ReputationRequestTimeout.Get(),
		FileRequestTimeout:       c.Node.FileRequestTimeout.Get(),
		FailedRequestPenalty:     c.Node.FailedRequestPenalty,
	}

	out := make([]node.Config, 0, c.Simulation.Topology.Nodes)
	for _, p := range c.Population {
		nc := base
		nc.Population = p.Name
		if p.RequiredShareRate != nil {
			nc.RequiredShareRate = *p.RequiredShareRate
		}
		if p.Kindness != nil {
			nc.Kindness = *p.Kindness
		}
		if p.TTL != nil {
			nc.TTL = *p.TTL
		}
		if p.DownloadInterval != nil {
			nc.DownloadInterval = p.DownloadInterval.Get()
		}
		for i := 0; i < p.Count && len(out) < c.Simulation.Topology.Nodes; i++ {
			out = append(out, nc)
		}
	}
	for len(out) < c.Simulation.Topology.Nodes {
		out = append(out, base)
	}
	for i := range out {
		out[i].ID = domain.PeerID(i)
	}
	return out
}

// SimConfig builds the simulator configuration.
func (c Config) SimConfig() sim.Config {
	return sim.Config{
		Seed:        c.Simulation.Seed,
		Duration:    time.Duration(c.Simulation.Duration),
		LinkLatency: c.Simulation.LinkLatency.Get(),
		Topology:    c.Simulation.Topology,
		Nodes:       c.NodeConfigs(),
		MaxEvents:   c.Simulation.MaxEvents,
	}
}

// PopulationCounts returns how many nodes each population received.
func (c Config) PopulationCounts() map[string]int {
	counts := make(map[string]int)
	for _, nc := range c.NodeConfigs() {
		counts[nc.Population]++
	}
	return counts
}

// PopulationNames returns the population labels in use, sorted.
func (c Config) PopulationNames() []string {
	counts := c.PopulationCounts()
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// Duration is a time.Duration written as a string ("10m") in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", domain.ErrInvalidConfig, text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// nofreeHome returns the NoFree data directory.
func nofreeHome() string {
	if env := os.Getenv("NOFREE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".nofree")
}

// Home is exported for use by other packages.
func Home() string {
	return nofreeHome()
}
