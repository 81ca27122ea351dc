package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/veesix-networks/gidd/pkg/gid"
	"github.com/veesix-networks/gidd/pkg/logger"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDispatcherQueueSize = 1024
	DefaultReclaimQueueSize    = 256
	DefaultEventsQueueSize     = 4096
	DefaultTableSize           = 16
	DefaultMetricsAddress      = ":9464"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Dispatcher.QueueSize == 0 {
		c.Dispatcher.QueueSize = DefaultDispatcherQueueSize
	}
	if c.Reclaim.QueueSize == 0 {
		c.Reclaim.QueueSize = DefaultReclaimQueueSize
	}
	if c.Events.QueueSize == 0 {
		c.Events.QueueSize = DefaultEventsQueueSize
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = DefaultMetricsAddress
	}

	for i := range c.Devices {
		for j := range c.Devices[i].Ports {
			p := &c.Devices[i].Ports[j]
			if p.TableSize == 0 {
				p.TableSize = DefaultTableSize
			}
			if p.LinkLayer == "" {
				p.LinkLayer = "ethernet"
			}
			if len(p.Capabilities) == 0 {
				p.Capabilities = []string{"roce-v1", "roce-v2"}
			}
		}
	}
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	if !logger.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	for name, lvl := range c.Logging.Components {
		if !logger.ValidLevel(lvl) {
			return fmt.Errorf("logging.components.%s: unknown level %q", name, lvl)
		}
	}

	if c.Dispatcher.QueueSize < 0 {
		return fmt.Errorf("dispatcher.queue_size must not be negative")
	}
	if c.Reclaim.QueueSize < 0 {
		return fmt.Errorf("reclaim.queue_size must not be negative")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, dev := range c.Devices {
		if dev.Name == "" {
			return fmt.Errorf("devices[%d].name is required", i)
		}
		if seen[dev.Name] {
			return fmt.Errorf("devices[%d]: duplicate device name %q", i, dev.Name)
		}
		seen[dev.Name] = true

		if len(dev.Ports) == 0 {
			return fmt.Errorf("devices.%s: at least one port is required", dev.Name)
		}
		for j, p := range dev.Ports {
			if p.TableSize < 0 {
				return fmt.Errorf("devices.%s.ports[%d].table_size must be positive", dev.Name, j)
			}
			if _, err := ParseLinkLayer(p.LinkLayer); err != nil {
				return fmt.Errorf("devices.%s.ports[%d].link_layer: %w", dev.Name, j, err)
			}
			if _, err := gid.ParseKindMask(p.Capabilities); err != nil {
				return fmt.Errorf("devices.%s.ports[%d].capabilities: %w", dev.Name, j, err)
			}
		}
	}

	return nil
}
