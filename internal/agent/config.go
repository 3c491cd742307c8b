// Package agent holds the daemon configuration.
package agent

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerSpec    `yaml:"server"`
	DataDir   string        `yaml:"data_dir"`
	Occupancy OccupancySpec `yaml:"occupancy,omitempty"`
	Snapshot  SnapshotSpec  `yaml:"snapshot,omitempty"`
	Admin     AdminSpec     `yaml:"admin,omitempty"`
}

type ServerSpec struct {
	URL        string `yaml:"url"`
	ClientName string `yaml:"client_name"`
	Wallet     string `yaml:"wallet,omitempty"`
	AuthToken  string `yaml:"auth_token,omitempty"`
}

type OccupancySpec struct {
	GraceSeconds    int `yaml:"grace_seconds"`
	IntervalSeconds int `yaml:"interval_seconds"`
}

type SnapshotSpec struct {
	EverySeconds int `yaml:"every_seconds"`
	Keep         int `yaml:"keep"`
}

type AdminSpec struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("agent.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("agent.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Server: ServerSpec{
			URL:        "ws://127.0.0.1:8080/ws",
			ClientName: "pixelcove-agent",
		},
		DataDir: "./data",
		Occupancy: OccupancySpec{
			GraceSeconds:    3,
			IntervalSeconds: 20,
		},
		Snapshot: SnapshotSpec{
			EverySeconds: 60,
			Keep:         8,
		},
		Admin: AdminSpec{
			Addr: "127.0.0.1:7780",
		},
	}
}

// Normalize fills omitted values; Validate rejects explicit bad ones.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Server.URL = strings.TrimSpace(c.Server.URL)
	c.Server.ClientName = strings.TrimSpace(c.Server.ClientName)
	c.Server.Wallet = strings.TrimSpace(c.Server.Wallet)
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.Admin.Addr = strings.TrimSpace(c.Admin.Addr)

	if c.Server.ClientName == "" {
		c.Server.ClientName = "pixelcove-agent"
	}
	if c.Occupancy.GraceSeconds == 0 {
		c.Occupancy.GraceSeconds = 3
	}
	if c.Occupancy.IntervalSeconds == 0 {
		c.Occupancy.IntervalSeconds = 20
	}
	if c.Snapshot.EverySeconds == 0 {
		c.Snapshot.EverySeconds = 60
	}
	if c.Snapshot.Keep == 0 {
		c.Snapshot.Keep = 8
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if c.Server.URL == "" {
		return fmt.Errorf("server.url must not be empty")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server.url scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("server.url must include a host")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Occupancy.GraceSeconds < 0 {
		return fmt.Errorf("occupancy.grace_seconds must be >= 0")
	}
	if c.Occupancy.IntervalSeconds <= 0 {
		return fmt.Errorf("occupancy.interval_seconds must be > 0")
	}
	if c.Snapshot.EverySeconds <= 0 {
		return fmt.Errorf("snapshot.every_seconds must be > 0")
	}
	if c.Snapshot.Keep <= 0 {
		return fmt.Errorf("snapshot.keep must be > 0")
	}
	if c.Admin.Addr == "" {
		return fmt.Errorf("admin.addr must not be empty")
	}
	return nil
}

func (c Config) OccupancyGrace() time.Duration {
	return time.Duration(c.Occupancy.GraceSeconds) * time.Second
}

func (c Config) OccupancyInterval() time.Duration {
	return time.Duration(c.Occupancy.IntervalSeconds) * time.Second
}

func (c Config) SnapshotEvery() time.Duration {
	return time.Duration(c.Snapshot.EverySeconds) * time.Second
}
