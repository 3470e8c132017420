package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RoutingMode selects how synthesized routing rules direct traffic.
type RoutingMode string

const (
	RouteGlobal    RoutingMode = "global"
	RouteBypassLAN RoutingMode = "bypass-lan"
	RouteRules     RoutingMode = "rules"
)

type Config struct {
	Engine      EngineConfig      `yaml:"engine"`
	Inbound     InboundConfig     `yaml:"inbound"`
	Routing     RoutingConfig     `yaml:"routing"`
	DNS         DNSConfig         `yaml:"dns"`
	TUN         TUNConfig         `yaml:"tun"`
	SystemProxy SystemProxyConfig `yaml:"system_proxy"`
	Health      HealthConfig      `yaml:"health"`
	Restart     RestartConfig     `yaml:"restart"`
	Database    DatabaseConfig    `yaml:"database"`
	GeoIP       GeoIPConfig       `yaml:"geoip"`
}

type EngineConfig struct {
	BinaryPath string `yaml:"binary_path"`
	ConfigDir  string `yaml:"config_dir"` // empty means the OS temp dir
}

type InboundConfig struct {
	Listen    string `yaml:"listen"`
	HTTPPort  int    `yaml:"http_port"`
	SOCKSPort int    `yaml:"socks_port"`
}

type RoutingConfig struct {
	Mode  RoutingMode  `yaml:"mode"`
	Rules []RuleConfig `yaml:"rules"`
}

// RuleConfig is one user-defined routing rule. Rules apply in declaration
// order, ahead of the built-in LAN bypass.
type RuleConfig struct {
	Domains  []string `yaml:"domains"`
	IPs      []string `yaml:"ips"`
	Outbound string   `yaml:"outbound"` // proxy, direct or block
}

type DNSConfig struct {
	Servers []string `yaml:"servers"`
}

type TUNConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interface string `yaml:"interface"`
	Address   string `yaml:"address"`
	MTU       int    `yaml:"mtu"`
	Port      int    `yaml:"port"` // local port of the TUN inbound
}

type SystemProxyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"` // network service name on darwin
}

type HealthConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Retries  int           `yaml:"retries"`
	Interval time.Duration `yaml:"interval"`
}

type RestartConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	GracePeriod    time.Duration `yaml:"grace_period"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type GeoIPConfig struct {
	CountryPath string `yaml:"country_path"`
}

// Load reads the YAML config at path, applying defaults for anything the
// file leaves out. A missing file is not an error when path is empty;
// defaults alone are a working configuration.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = "config.yaml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			BinaryPath: "xray",
		},
		Inbound: InboundConfig{
			Listen:    "127.0.0.1",
			HTTPPort:  10809,
			SOCKSPort: 10808,
		},
		Routing: RoutingConfig{
			Mode: RouteBypassLAN,
		},
		DNS: DNSConfig{
			Servers: []string{"1.1.1.1", "8.8.8.8"},
		},
		TUN: TUNConfig{
			Interface: "xray0",
			Address:   "198.18.0.1/30",
			MTU:       1500,
			Port:      10810,
		},
		SystemProxy: SystemProxyConfig{
			Enabled: true,
			Service: "Wi-Fi",
		},
		Health: HealthConfig{
			Timeout:  2 * time.Second,
			Retries:  10,
			Interval: 250 * time.Millisecond,
		},
		Restart: RestartConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     8 * time.Second,
			GracePeriod:    5 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "profiles.db",
		},
	}
}

func (c *Config) Validate() error {
	switch c.Routing.Mode {
	case RouteGlobal, RouteBypassLAN, RouteRules:
	default:
		return fmt.Errorf("unknown routing mode %q", c.Routing.Mode)
	}

	for _, p := range []int{c.Inbound.HTTPPort, c.Inbound.SOCKSPort} {
		if p < 1 || p > 65535 {
			return fmt.Errorf("inbound port %d out of range", p)
		}
	}
	if c.TUN.Enabled && (c.TUN.Port < 1 || c.TUN.Port > 65535) {
		return fmt.Errorf("tun port %d out of range", c.TUN.Port)
	}

	for _, r := range c.Routing.Rules {
		switch r.Outbound {
		case "proxy", "direct", "block":
		default:
			return fmt.Errorf("rule outbound must be proxy, direct or block, got %q", r.Outbound)
		}
	}
	return nil
}
