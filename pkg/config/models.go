package config

import (
	"github.com/veesix-networks/gidd/pkg/logger"
)

type Config struct {
	Logging    Logging    `yaml:"logging"`
	Dispatcher Dispatcher `yaml:"dispatcher"`
	Reclaim    Reclaim    `yaml:"reclaim"`
	Events     Events     `yaml:"events"`
	Netlink    Netlink    `yaml:"netlink"`
	Metrics    Metrics    `yaml:"metrics"`
	Devices    []Device   `yaml:"devices"`
}

type Logging struct {
	Format string          `yaml:"format"`
	Level  logger.LogLevel `yaml:"level"`
	// Output is stdout, stderr or a file path.
	Output     string                     `yaml:"output,omitempty"`
	Components map[string]logger.LogLevel `yaml:"components,omitempty"`
}

type Dispatcher struct {
	QueueSize int `yaml:"queue_size"`
}

type Reclaim struct {
	QueueSize int `yaml:"queue_size"`
	// Inline releases interface handles on the writer after a grace period
	// instead of queueing them.
	Inline bool `yaml:"inline,omitempty"`
}

// DeferQueueSize is the reclaimer queue length, zero when inline.
func (r Reclaim) DeferQueueSize() int {
	if r.Inline {
		return 0
	}
	return r.QueueSize
}

type Events struct {
	QueueSize int `yaml:"queue_size"`
}

type Netlink struct {
	Enabled   *bool  `yaml:"enabled,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

func (n Netlink) IsEnabled() bool {
	return n.Enabled == nil || *n.Enabled
}

type Metrics struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// Device describes a software RDMA device whose ports are bound to host
// interfaces by name.
type Device struct {
	Name  string `yaml:"name"`
	Ports []Port `yaml:"ports"`
}

type Port struct {
	NetDev       string   `yaml:"netdev"`
	TableSize    int      `yaml:"table_size"`
	LinkLayer    string   `yaml:"link_layer,omitempty"`
	Capabilities []string `yaml:"capabilities"`
}
