package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend kinds
const (
	BackendContainerd = "containerd"
	BackendMemory     = "memory"
)

// Store kinds
const (
	StoreBolt   = "bolt"
	StoreMemory = "memory"
)

// Config is the master configuration, loaded from YAML and overridden by flags
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Store     string          `yaml:"store"`
	IPC       IPCConfig       `yaml:"ipc"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Backend   BackendConfig   `yaml:"backend"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Intervals IntervalsConfig `yaml:"intervals"`
	Log       LogConfig       `yaml:"log"`
}

// IPCConfig configures the command channel
type IPCConfig struct {
	Listen  string        `yaml:"listen"`
	Socket  string        `yaml:"socket"` // read-only local socket, disabled when empty
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig configures the /metrics and health endpoints
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// BackendConfig selects and configures the container backend
type BackendConfig struct {
	Kind       string           `yaml:"kind"`
	Containerd ContainerdConfig `yaml:"containerd"`
	Memory     MemoryConfig     `yaml:"memory"`
}

// ContainerdConfig configures the containerd backend
type ContainerdConfig struct {
	Socket      string        `yaml:"socket"`
	Namespace   string        `yaml:"namespace"`
	HostIP      string        `yaml:"host_ip"`
	Cores       int           `yaml:"cores"`
	MemoryBytes int64         `yaml:"memory"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// MemoryConfig sizes the simulated in-process backend
type MemoryConfig struct {
	Cores       int   `yaml:"cores"`
	MemoryBytes int64 `yaml:"memory"`
}

// ProxyConfig points at the access log of the reverse proxy in front of
// execution endpoints. The access timestamp updater runs only when set.
type ProxyConfig struct {
	AccessLog string `yaml:"access_log"`
	Prefix    string `yaml:"prefix"`
}

// IntervalsConfig holds the periodic task intervals
type IntervalsConfig struct {
	PlatformStatus  time.Duration `yaml:"platform_status"`
	Scheduler       time.Duration `yaml:"scheduler"`
	HealthCheck     time.Duration `yaml:"health_check"`
	SubmissionRetry time.Duration `yaml:"submission_retry"`
	ProxyAccess     time.Duration `yaml:"proxy_access"`
	Metrics         time.Duration `yaml:"metrics"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		DataDir: "./zoe-data",
		Store:   StoreBolt,
		IPC: IPCConfig{
			Listen:  "127.0.0.1:8723",
			Timeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9090",
		},
		Backend: BackendConfig{
			Kind: BackendContainerd,
			Containerd: ContainerdConfig{
				Socket:      "/run/containerd/containerd.sock",
				Namespace:   "zoe",
				HostIP:      "127.0.0.1",
				StopTimeout: 10 * time.Second,
			},
			Memory: MemoryConfig{
				Cores:       16,
				MemoryBytes: 64 << 30,
			},
		},
		Proxy: ProxyConfig{
			Prefix: "/zoe/",
		},
		Intervals: IntervalsConfig{
			PlatformStatus:  time.Second,
			Scheduler:       time.Second,
			HealthCheck:     30 * time.Second,
			SubmissionRetry: 10 * time.Second,
			ProxyAccess:     60 * time.Second,
			Metrics:         15 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the master cannot run with
func (c *Config) Validate() error {
	switch c.Store {
	case StoreBolt:
		if c.DataDir == "" {
			return fmt.Errorf("data_dir is required for the bolt store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	switch c.Backend.Kind {
	case BackendContainerd:
	case BackendMemory:
		if c.Backend.Memory.Cores <= 0 {
			return fmt.Errorf("backend.memory.cores must be positive")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend.Kind)
	}

	if c.IPC.Listen == "" {
		return fmt.Errorf("ipc.listen is required")
	}

	intervals := map[string]time.Duration{
		"platform_status":  c.Intervals.PlatformStatus,
		"scheduler":        c.Intervals.Scheduler,
		"health_check":     c.Intervals.HealthCheck,
		"submission_retry": c.Intervals.SubmissionRetry,
		"proxy_access":     c.Intervals.ProxyAccess,
		"metrics":          c.Intervals.Metrics,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("intervals.%s must be positive, got %s", name, d)
		}
	}
	return nil
}
