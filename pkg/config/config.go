// Package config loads and validates the YAML configuration of a manager node.
package config

import (
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/backupstore"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/retry"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Engine kinds
const (
	EngineSim        = "sim"
	EngineContainerd = "containerd"
)

// Config is the configuration of a manager node
type Config struct {
	NodeID        string `yaml:"nodeId"`
	DataDir       string `yaml:"dataDir"`
	BindAddr      string `yaml:"bindAddr"`
	APIAddr       string `yaml:"apiAddr"`
	AdvertiseAddr string `yaml:"advertiseAddr"`

	// Join is the API address of an existing member; empty bootstraps a new
	// cluster
	Join      string `yaml:"join"`
	JoinToken string `yaml:"joinToken"`

	Engine      string           `yaml:"engine"`
	EngineImage string           `yaml:"engineImage"`
	Containerd  ContainerdConfig `yaml:"containerd"`
	EngineRetry retry.Config     `yaml:"engineRetry"`

	DevicePrefix      string        `yaml:"devicePrefix"`
	ReconcileInterval time.Duration `yaml:"reconcileInterval"`

	// RateLimit bounds the mutating API requests of each client
	RateLimit RateLimit `yaml:"rateLimit"`

	Log LogConfig             `yaml:"log"`
	S3  backupstore.S3Options `yaml:"s3"`
}

// RateLimit bounds the mutating requests one client may send. A zero
// RequestsPerSecond disables the limit.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// ContainerdConfig locates the containerd daemon used by the containerd engine
type ContainerdConfig struct {
	Socket    string `yaml:"socket"`
	Namespace string `yaml:"namespace"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level log.Level `yaml:"level"`
	JSON  bool      `yaml:"json"`
	File  string    `yaml:"file"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "burrow"
	}

	return &Config{
		NodeID:   hostname,
		DataDir:  "/var/lib/burrow",
		BindAddr: "127.0.0.1:7946",
		APIAddr:  "127.0.0.1:9500",
		Engine:   EngineSim,
		Containerd: ContainerdConfig{
			Socket:    "/run/containerd/containerd.sock",
			Namespace: "burrow",
		},
		EngineRetry:       retry.DefaultConfig(),
		DevicePrefix:      "/dev/burrow",
		ReconcileInterval: 10 * time.Second,
		Log: LogConfig{
			Level: log.InfoLevel,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errdefs.NewInvalidArgumentError("failed to parse config %s: %v", path, err)
	}
	return cfg, nil
}

// Advertise returns the API address other nodes use to reach this one
func (c *Config) Advertise() string {
	if c.AdvertiseAddr != "" {
		return c.AdvertiseAddr
	}
	return c.APIAddr
}

// RaftDir is where the raft log and snapshots are kept
func (c *Config) RaftDir() string {
	return filepath.Join(c.DataDir, "raft")
}

// ReplicaDir is where the containerd engine keeps replica data
func (c *Config) ReplicaDir() string {
	return filepath.Join(c.DataDir, "replicas")
}

// Validate checks the configuration for values a node cannot start with
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errdefs.NewInvalidArgumentError("nodeId is required")
	}
	if c.DataDir == "" {
		return errdefs.NewInvalidArgumentError("dataDir is required")
	}
	for name, addr := range map[string]string{"bindAddr": c.BindAddr, "apiAddr": c.APIAddr} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return errdefs.NewInvalidArgumentError("invalid %s %q: %v", name, addr, err)
		}
	}
	if c.AdvertiseAddr != "" {
		if _, _, err := net.SplitHostPort(c.AdvertiseAddr); err != nil {
			return errdefs.NewInvalidArgumentError("invalid advertiseAddr %q: %v", c.AdvertiseAddr, err)
		}
	}
	if c.Join != "" && c.JoinToken == "" {
		return errdefs.NewInvalidArgumentError("joinToken is required to join %s", c.Join)
	}

	switch c.Engine {
	case EngineSim:
	case EngineContainerd:
		if c.Containerd.Socket == "" {
			return errdefs.NewInvalidArgumentError("containerd.socket is required for the containerd engine")
		}
	default:
		return errdefs.NewInvalidArgumentError("unknown engine %q (supported: %s, %s)", c.Engine, EngineSim, EngineContainerd)
	}

	if c.DevicePrefix == "" || !filepath.IsAbs(c.DevicePrefix) {
		return errdefs.NewInvalidArgumentError("devicePrefix must be an absolute path, got %q", c.DevicePrefix)
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return errdefs.NewInvalidArgumentError("rateLimit values must not be negative")
	}
	if c.ReconcileInterval <= 0 {
		return errdefs.NewInvalidArgumentError("reconcileInterval must be positive")
	}
	switch c.Log.Level {
	case log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel:
	default:
		return errdefs.NewInvalidArgumentError("unknown log level %q", c.Log.Level)
	}
	return nil
}
