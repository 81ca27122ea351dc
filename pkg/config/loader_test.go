package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/veesix-networks/gidd/pkg/device"
)

const sampleConfig = `
logging:
  format: json
  level: debug
  components:
    gidcache: warn
dispatcher:
  queue_size: 64
netlink:
  namespace: blue
metrics:
  enabled: true
devices:
  - name: rxe0
    ports:
      - netdev: eth0
        table_size: 32
        capabilities: [roce-v2]
      - netdev: ib0
        link_layer: infiniband
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}

	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Logging.Components["gidcache"] != "warn" {
		t.Fatalf("component levels = %v", cfg.Logging.Components)
	}
	if cfg.Dispatcher.QueueSize != 64 {
		t.Fatalf("dispatcher.queue_size = %d", cfg.Dispatcher.QueueSize)
	}
	if cfg.Reclaim.QueueSize != DefaultReclaimQueueSize || cfg.Events.QueueSize != DefaultEventsQueueSize {
		t.Fatalf("queue defaults not applied: %+v %+v", cfg.Reclaim, cfg.Events)
	}
	if !cfg.Netlink.IsEnabled() || cfg.Netlink.Namespace != "blue" {
		t.Fatalf("netlink = %+v", cfg.Netlink)
	}
	if cfg.Metrics.ListenAddress != DefaultMetricsAddress {
		t.Fatalf("metrics.listen_address = %q", cfg.Metrics.ListenAddress)
	}

	ports := cfg.Devices[0].Ports
	if ports[0].TableSize != 32 || ports[0].LinkLayer != "ethernet" || len(ports[0].Capabilities) != 1 {
		t.Fatalf("port 1 = %+v", ports[0])
	}
	if ports[1].TableSize != DefaultTableSize || len(ports[1].Capabilities) != 2 {
		t.Fatalf("port 2 defaults = %+v", ports[1])
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	if cfg.Logging.Format != "text" || cfg.Logging.Level != "info" {
		t.Fatalf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Dispatcher.QueueSize != DefaultDispatcherQueueSize {
		t.Fatalf("dispatcher default = %d", cfg.Dispatcher.QueueSize)
	}
	if cfg.Metrics.Enabled || cfg.Metrics.ListenAddress != "" {
		t.Fatalf("metrics should stay disabled: %+v", cfg.Metrics)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad format", "logging: {format: xml}", "logging.format"},
		{"bad level", "logging: {level: trace}", "logging.level"},
		{"bad component level", "logging: {components: {gidcache: loud}}", "logging.components.gidcache"},
		{"negative queue", "dispatcher: {queue_size: -1}", "dispatcher.queue_size"},
		{"unnamed device", "devices: [{ports: [{netdev: eth0}]}]", "name is required"},
		{"no ports", "devices: [{name: rxe0}]", "at least one port"},
		{"duplicate", "devices: [{name: a, ports: [{netdev: x}]}, {name: a, ports: [{netdev: y}]}]", "duplicate"},
		{"bad kind", "devices: [{name: a, ports: [{netdev: x, capabilities: [iwarp]}]}]", "capabilities"},
		{"bad link layer", "devices: [{name: a, ports: [{netdev: x, link_layer: fddi}]}]", "link_layer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}

	path := filepath.Join(t.TempDir(), "gidd.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if loaded.Devices[0].Name != "rxe0" || loaded.Netlink.Namespace != "blue" {
		t.Fatalf("loaded config = %+v", loaded)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Load() = %v, want not-exist error", err)
	}
}

func TestParseLinkLayer(t *testing.T) {
	if ll, err := ParseLinkLayer("IB"); err != nil || ll != device.LinkLayerInfiniband {
		t.Fatalf("ParseLinkLayer(IB) = %v, %v", ll, err)
	}
	if ll, err := ParseLinkLayer("ethernet"); err != nil || ll != device.LinkLayerEthernet {
		t.Fatalf("ParseLinkLayer(ethernet) = %v, %v", ll, err)
	}
	if _, err := ParseLinkLayer("fddi"); err == nil {
		t.Fatal("expected error")
	}
}

func TestReclaimInline(t *testing.T) {
	cfg, err := Parse([]byte("reclaim: {inline: true}"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Reclaim.QueueSize != DefaultReclaimQueueSize {
		t.Fatalf("queue size = %d", cfg.Reclaim.QueueSize)
	}
	if got := cfg.Reclaim.DeferQueueSize(); got != 0 {
		t.Fatalf("DeferQueueSize() = %d, want 0", got)
	}

	cfg.Reclaim.Inline = false
	if got := cfg.Reclaim.DeferQueueSize(); got != DefaultReclaimQueueSize {
		t.Fatalf("DeferQueueSize() = %d", got)
	}
}
