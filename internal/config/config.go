package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	goconfig "github.com/tpodg/go-config"
)

const (
	DefaultConfigFileName = ".ipsettle.yaml"
	EnvPrefix             = "IPSETTLE"
)

type Config struct {
	Log         LogConfig    `yaml:"log"`
	MetricsFile string       `yaml:"metrics_file"`
	Hosts       []HostConfig `yaml:"hosts"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HostConfig struct {
	Name             string        `yaml:"name"`
	Address          string        `yaml:"address"`
	User             UserConfig    `yaml:"user"`
	KnownHostsPath   string        `yaml:"known_hosts"`
	InsecureHostKey  bool          `yaml:"insecure_host_key"`
	UseAgent         *bool         `yaml:"use_agent"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// Adapter forces a network adapter; it is detected from /etc/os-release when empty.
	Adapter string `yaml:"adapter"`
	// Network is the desired address state applied by `configure`.
	Network map[string]any `yaml:"network"`
	// Remove lists addresses `configure` takes off the interface.
	Remove []string `yaml:"remove"`
}

type UserConfig struct {
	Name         string `yaml:"name"`
	Password     string `yaml:"password"`
	SSHKey       string `yaml:"ssh_key"`
	PrivateKey   string `yaml:"private_key"`
	Passphrase   string `yaml:"passphrase"`
	SudoPassword string `yaml:"sudo_password"`
}

// Host returns the host named name.
func (c *Config) Host(name string) (HostConfig, bool) {
	for _, h := range c.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return HostConfig{}, false
}

// Select returns the hosts named in names, or every host when names is empty.
func (c *Config) Select(names ...string) ([]HostConfig, error) {
	if len(names) == 0 {
		return c.Hosts, nil
	}
	out := make([]HostConfig, 0, len(names))
	for _, name := range names {
		h, ok := c.Host(name)
		if !ok {
			return nil, fmt.Errorf("host %q is not configured", name)
		}
		out = append(out, h)
	}
	return out, nil
}

// Load the configuration from the given file or default locations.
func Load(cfgFile string) (*Config, error) {
	path, err := findConfigFile(cfgFile)
	if err != nil {
		return nil, err
	}

	c := goconfig.New()
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for %s: %w", path, err)
		}
		c.WithProviders(&goconfig.Yaml{Path: absPath})
	}

	c.WithProviders(&goconfig.Env{Prefix: EnvPrefix})

	cfg := &Config{}
	if err := c.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Hosts))
	for i, h := range c.Hosts {
		if h.Name == "" {
			return fmt.Errorf("hosts[%d]: name is required", i)
		}
		if h.Address == "" {
			return fmt.Errorf("host %q: address is required", h.Name)
		}
		if seen[h.Name] {
			return fmt.Errorf("host %q is configured twice", h.Name)
		}
		seen[h.Name] = true
	}
	return nil
}

func findConfigFile(cfgFile string) (string, error) {
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			return "", fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
		return cfgFile, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, DefaultConfigFileName)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if _, err := os.Stat(DefaultConfigFileName); err == nil {
		return DefaultConfigFileName, nil
	}

	return "", nil
}
