package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	AllowAutoCreateNamespaces bool              `json:"allowAutoCreateNamespaces" yaml:"allowAutoCreateNamespaces"`
	DefaultNamespaceName      string            `json:"defaultNamespaceName" yaml:"defaultNamespaceName"`
	NamespaceNameRegex        string            `json:"namespaceNameRegex" yaml:"namespaceNameRegex"`
	NamespaceDefaults         NamespaceDefaults `json:"namespaceDefaults" yaml:"namespaceDefaults"`
	MaxNamespaces             int               `json:"maxNamespaces" yaml:"maxNamespaces"`
	AllowedNamespaces         []string          `json:"allowedNamespaces" yaml:"allowedNamespaces"`

	Node    NodeConfig    `json:"node" yaml:"node"`
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// NamespaceDefaults captures per-namespace baseline limits.
type NamespaceDefaults struct {
	MaxTables       int `json:"maxTables" yaml:"maxTables"`
	PayloadMaxBytes int `json:"payloadMaxBytes" yaml:"payloadMaxBytes"`
}

// NodeConfig identifies this node and where it listens.
type NodeConfig struct {
	// Endpoint is the address peers use to reach this node.
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	GRPCAddr string `json:"grpcAddr" yaml:"grpcAddr"`
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`
}

// ClusterConfig drives failure detection and layout storage.
type ClusterConfig struct {
	ClusterID      string   `json:"clusterId" yaml:"clusterId"`
	Peers          []string `json:"peers" yaml:"peers"`
	PollIntervalMs int      `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	ProbeTimeoutMs int      `json:"probeTimeoutMs" yaml:"probeTimeoutMs"`
	// LayoutStore is "pebble" or "zookeeper".
	LayoutStore string   `json:"layoutStore" yaml:"layoutStore"`
	ZKServers   []string `json:"zkServers" yaml:"zkServers"`
	ZKRoot      string   `json:"zkRoot" yaml:"zkRoot"`
}

// LogConfig tunes the local log unit.
type LogConfig struct {
	CapacityBytes     int64 `json:"capacityBytes" yaml:"capacityBytes"`
	HoleFillTimeoutMs int   `json:"holeFillTimeoutMs" yaml:"holeFillTimeoutMs"`
	HoleFillPollMs    int   `json:"holeFillPollMs" yaml:"holeFillPollMs"`
	TrimIntervalMs    int   `json:"trimIntervalMs" yaml:"trimIntervalMs"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Layout store kinds.
const (
	LayoutStorePebble    = "pebble"
	LayoutStoreZooKeeper = "zookeeper"
)

// Default returns built-in defaults.
func Default() Config {
	return Config{
		AllowAutoCreateNamespaces: true,
		DefaultNamespaceName:      "default",
		NamespaceNameRegex:        "[a-z0-9-_]{1,64}",
		NamespaceDefaults: NamespaceDefaults{
			MaxTables:       1024,
			PayloadMaxBytes: 1 << 20,
		},
		Node: NodeConfig{
			Endpoint: "127.0.0.1:9000",
			GRPCAddr: ":9000",
			HTTPAddr: ":9001",
		},
		Cluster: ClusterConfig{
			PollIntervalMs: 1000,
			ProbeTimeoutMs: 500,
			LayoutStore:    LayoutStorePebble,
			ZKRoot:         "/flolog/layouts",
		},
		Log: LogConfig{
			HoleFillTimeoutMs: 1000,
			HoleFillPollMs:    10,
			TrimIntervalMs:    5000,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate reports configuration that cannot start a node.
func (c Config) Validate() error {
	if _, err := regexp.Compile(c.NamespaceNameRegex); err != nil {
		return fmt.Errorf("namespaceNameRegex: %w", err)
	}
	if c.Node.Endpoint == "" {
		return errors.New("node.endpoint is required")
	}
	switch c.Cluster.LayoutStore {
	case LayoutStorePebble:
	case LayoutStoreZooKeeper:
		if len(c.Cluster.ZKServers) == 0 {
			return errors.New("cluster.zkServers is required for the zookeeper layout store")
		}
	default:
		return fmt.Errorf("cluster.layoutStore %q; use pebble|zookeeper", c.Cluster.LayoutStore)
	}
	if c.Cluster.PollIntervalMs <= 0 || c.Cluster.ProbeTimeoutMs <= 0 {
		return errors.New("cluster poll interval and probe timeout must be positive")
	}
	if c.Log.CapacityBytes < 0 {
		return errors.New("log.capacityBytes must not be negative")
	}
	return nil
}

// Members returns this node plus its peers, deduplicated in order.
func (c ClusterConfig) Members(self string) []string {
	seen := map[string]bool{self: true}
	out := []string{self}
	for _, p := range c.Peers {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func (c ClusterConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c ClusterConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

func (c LogConfig) HoleFillTimeout() time.Duration {
	return time.Duration(c.HoleFillTimeoutMs) * time.Millisecond
}

func (c LogConfig) HoleFillPoll() time.Duration {
	return time.Duration(c.HoleFillPollMs) * time.Millisecond
}

func (c LogConfig) TrimInterval() time.Duration {
	return time.Duration(c.TrimIntervalMs) * time.Millisecond
}
