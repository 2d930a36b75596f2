// Package daemon manages the torrentnode process lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/torrentnode/torrentnode/internal/infra/p2p"
	"github.com/torrentnode/torrentnode/internal/infra/scheduler"
	"github.com/torrentnode/torrentnode/internal/node"
	"github.com/torrentnode/torrentnode/internal/sandbox"
)

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Network   NetworkConfig   `toml:"network"`
	Executor  ExecutorConfig  `toml:"executor"`
	API       APIConfig       `toml:"api"`
	Logging   LoggingConfig   `toml:"logging"`
	Intervals IntervalsConfig `toml:"intervals"`
}

// NodeConfig identifies this node and where it keeps its state.
type NodeConfig struct {
	Name    string `toml:"name"`
	DataDir string `toml:"data_dir"`
}

// NetworkConfig controls the libp2p session.
type NetworkConfig struct {
	Port         int      `toml:"port"`
	ListenAddrs  []string `toml:"listen_addrs"`
	Bootstrap    []string `toml:"bootstrap"`
	EnableDHT    bool     `toml:"enable_dht"`
	MaxPeers     int      `toml:"max_peers"`
	NATPortMap   bool     `toml:"nat_port_map"`
	HolePunching bool     `toml:"hole_punching"`
}

// ExecutorConfig controls the sandbox worker pool.
type ExecutorConfig struct {
	MaxConcurrent     int      `toml:"max_concurrent"`
	GracePeriod       string   `toml:"grace_period"`
	CustomMaxMemoryMB int      `toml:"custom_max_memory_mb"`
	CustomMaxTimeout  string   `toml:"custom_max_timeout"`
	WorkerCommand     []string `toml:"worker_command"`
}

// APIConfig controls the local control API.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level    string `toml:"level"`
	Encoding string `toml:"encoding"`
	File     string `toml:"file"`
}

// IntervalsConfig holds the orchestrator timings as duration strings.
type IntervalsConfig struct {
	PeerSweep     string `toml:"peer_sweep"`
	StaleAfter    string `toml:"stale_after"`
	Snapshot      string `toml:"snapshot"`
	Stats         string `toml:"stats"`
	ResultTimeout string `toml:"result_timeout"`
	Reannounce    string `toml:"reannounce"`
	StopTimeout   string `toml:"stop_timeout"`
	RetryBase     string `toml:"retry_base"`
	RetryMax      string `toml:"retry_max"`
}

// DefaultConfig returns the reference configuration rooted at Home().
func DefaultConfig() Config {
	return Config{
		Node: NodeConfig{
			DataDir: Home(),
		},
		Network: NetworkConfig{
			Port:         8888,
			EnableDHT:    true,
			MaxPeers:     50,
			NATPortMap:   true,
			HolePunching: true,
		},
		Executor: ExecutorConfig{
			MaxConcurrent:     4,
			GracePeriod:       "2s",
			CustomMaxMemoryMB: 128,
			CustomMaxTimeout:  "30s",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8889,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
		Intervals: IntervalsConfig{
			PeerSweep:     "30s",
			StaleAfter:    "5m",
			Snapshot:      "60s",
			Stats:         "60s",
			ResultTimeout: "10m",
			Reannounce:    "30s",
			StopTimeout:   "10s",
			RetryBase:     "2s",
			RetryMax:      "60s",
		},
	}
}

// LoadConfig reads dataDir/config.toml over the defaults. An empty dataDir
// means Home(). A missing file is not an error.
func LoadConfig(dataDir string) (Config, error) {
	cfg := DefaultConfig()
	if dataDir != "" {
		cfg.Node.DataDir = dataDir
	}
	path := filepath.Join(cfg.Node.DataDir, "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// The directory the file was found in wins over a data_dir inside it.
	if dataDir != "" {
		cfg.Node.DataDir = dataDir
	}
	return cfg, cfg.Validate()
}

// SaveConfig writes the config to <data_dir>/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(cfg.Node.DataDir, "config.toml")
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

// Validate rejects values the node cannot start with.
func (c Config) Validate() error {
	if c.Node.DataDir == "" {
		return fmt.Errorf("config: node.data_dir is required")
	}
	if c.Network.Port < 0 || c.Network.Port > 65535 {
		return fmt.Errorf("config: network.port %d out of range", c.Network.Port)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("config: api.port %d out of range", c.API.Port)
	}
	if c.Network.MaxPeers < 0 {
		return fmt.Errorf("config: network.max_peers must not be negative")
	}
	for name, s := range map[string]string{
		"executor.grace_period":       c.Executor.GracePeriod,
		"executor.custom_max_timeout": c.Executor.CustomMaxTimeout,
		"intervals.peer_sweep":        c.Intervals.PeerSweep,
		"intervals.stale_after":       c.Intervals.StaleAfter,
		"intervals.snapshot":          c.Intervals.Snapshot,
		"intervals.stats":             c.Intervals.Stats,
		"intervals.result_timeout":    c.Intervals.ResultTimeout,
		"intervals.reannounce":        c.Intervals.Reannounce,
		"intervals.stop_timeout":      c.Intervals.StopTimeout,
		"intervals.retry_base":        c.Intervals.RetryBase,
		"intervals.retry_max":         c.Intervals.RetryMax,
	} {
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// APIAddr returns host:port of the local control API.
func (c Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// TransportConfig maps the [network] section onto the p2p transport.
func (c Config) TransportConfig() p2p.Config {
	cfg := p2p.DefaultConfig()
	cfg.Port = c.Network.Port
	cfg.ListenAddrs = c.Network.ListenAddrs
	cfg.Bootstrap = c.Network.Bootstrap
	cfg.EnableDHT = c.Network.EnableDHT
	cfg.MaxPeers = c.Network.MaxPeers
	cfg.NATPortMap = c.Network.NATPortMap
	cfg.HolePunching = c.Network.HolePunching
	cfg.DataDir = c.Node.DataDir
	cfg.StatsInterval = parseDuration(c.Intervals.Stats, cfg.StatsInterval)
	return cfg
}

// SandboxConfig maps the [executor] section onto the sandbox.
func (c Config) SandboxConfig() sandbox.Config {
	def := sandbox.DefaultConfig()
	return sandbox.Config{
		Command:           c.Executor.WorkerCommand,
		CustomMaxMemoryMB: c.Executor.CustomMaxMemoryMB,
		CustomMaxTimeout:  parseDuration(c.Executor.CustomMaxTimeout, def.CustomMaxTimeout),
		GracePeriod:       parseDuration(c.Executor.GracePeriod, def.GracePeriod),
		SampleInterval:    def.SampleInterval,
	}
}

// NodeConfig maps [executor] and [intervals] onto the orchestrator.
func (c Config) NodeConfig() node.Config {
	def := node.DefaultConfig()
	return node.Config{
		DataDir:          c.Node.DataDir,
		MaxConcurrent:    c.Executor.MaxConcurrent,
		PeerSweep:        parseDuration(c.Intervals.PeerSweep, def.PeerSweep),
		StaleAfter:       parseDuration(c.Intervals.StaleAfter, def.StaleAfter),
		SnapshotInterval: parseDuration(c.Intervals.Snapshot, def.SnapshotInterval),
		StatsInterval:    parseDuration(c.Intervals.Stats, def.StatsInterval),
		ResultTimeout:    parseDuration(c.Intervals.ResultTimeout, def.ResultTimeout),
		Reannounce:       parseDuration(c.Intervals.Reannounce, def.Reannounce),
		StopTimeout:      parseDuration(c.Intervals.StopTimeout, def.StopTimeout),
		RetryInterval:    def.RetryInterval,
		Retry: scheduler.RetryConfig{
			MaxRetries: def.Retry.MaxRetries,
			BaseDelay:  parseDuration(c.Intervals.RetryBase, def.Retry.BaseDelay),
			MaxDelay:   parseDuration(c.Intervals.RetryMax, def.Retry.MaxDelay),
		},
		Intake: def.Intake,
	}
}

// Home returns the torrentnode data directory: $TORRENTNODE_HOME or
// ~/.torrentnode.
func Home() string {
	if env := os.Getenv("TORRENTNODE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".torrentnode")
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
