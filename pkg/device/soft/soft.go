// Package soft implements device.Device in software. It keeps its own copy
// of the programmed GID table per port and supports failure and latency
// injection, which makes it usable both as a stand-in device for the
// daemon and as a test double.
package soft

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veesix-networks/gidd/pkg/device"
	"github.com/veesix-networks/gidd/pkg/gid"
	"github.com/veesix-networks/gidd/pkg/logger"
	"github.com/veesix-networks/gidd/pkg/netdev"
)

type PortConfig struct {
	NetDev *netdev.Handle
	// NetDevName binds the port by interface name through the resolver
	// when NetDev is nil.
	NetDevName   string
	TableSize    int
	LinkLayer    device.LinkLayer
	Capabilities gid.KindMask
}

// SlotContext is the per-slot state handed back to the cache. A rewrite of
// the same slot reuses the previous context.
type SlotContext struct {
	Port   int
	Index  int
	Writes uint64
}

// Resolver maps an interface name to its current handle.
type Resolver func(name string) *netdev.Handle

// ProgramHook may veto a programming request by returning an error.
type ProgramHook func(port, index int, id gid.Identifier, attrs gid.Attributes) error

type slot struct {
	id    gid.Identifier
	attrs gid.Attributes
}

type port struct {
	cfg    PortConfig
	table  []slot
	writes uint64
}

type Device struct {
	name   string
	logger *slog.Logger

	mu       sync.RWMutex
	ports    []*port
	hook     ProgramHook
	delay    time.Duration
	capsErr  error
	resolver Resolver
}

var _ device.Device = (*Device)(nil)

func New(name string, ports ...PortConfig) *Device {
	d := &Device{
		name:   name,
		logger: logger.Get(logger.Device).With("device", name),
	}
	for _, cfg := range ports {
		size := cfg.TableSize
		if size < 0 {
			size = 0
		}
		d.ports = append(d.ports, &port{cfg: cfg, table: make([]slot, size)})
	}
	return d
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) PortCount() int {
	return len(d.ports)
}

func (d *Device) port(p int) *port {
	if p < 1 || p > len(d.ports) {
		return nil
	}
	return d.ports[p-1]
}

func (d *Device) TableSize(p int) int {
	pt := d.port(p)
	if pt == nil {
		return 0
	}
	return pt.cfg.TableSize
}

func (d *Device) LinkLayer(p int) device.LinkLayer {
	pt := d.port(p)
	if pt == nil {
		return device.LinkLayerUnspecified
	}
	return pt.cfg.LinkLayer
}

func (d *Device) NetDev(p int) *netdev.Handle {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pt := d.port(p)
	if pt == nil {
		return nil
	}
	if pt.cfg.NetDev == nil && pt.cfg.NetDevName != "" && d.resolver != nil {
		return d.resolver(pt.cfg.NetDevName)
	}
	return pt.cfg.NetDev
}

func (d *Device) SetResolver(r Resolver) {
	d.mu.Lock()
	d.resolver = r
	d.mu.Unlock()
}

// Bind attaches port p to h, replacing any previous binding.
func (d *Device) Bind(p int, h *netdev.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pt := d.port(p)
	if pt == nil {
		return fmt.Errorf("%s: no port %d", d.name, p)
	}
	pt.cfg.NetDev = h
	return nil
}

func (d *Device) Capabilities(p int) (gid.KindMask, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.capsErr != nil {
		return 0, d.capsErr
	}
	pt := d.port(p)
	if pt == nil {
		return 0, fmt.Errorf("%s: no port %d", d.name, p)
	}
	return pt.cfg.Capabilities, nil
}

func (d *Device) SetCapabilities(p int, caps gid.KindMask) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pt := d.port(p); pt != nil {
		pt.cfg.Capabilities = caps
	}
}

// SetCapabilitiesError makes every Capabilities query fail with err.
func (d *Device) SetCapabilitiesError(err error) {
	d.mu.Lock()
	d.capsErr = err
	d.mu.Unlock()
}

func (d *Device) SetProgramHook(hook ProgramHook) {
	d.mu.Lock()
	d.hook = hook
	d.mu.Unlock()
}

// SetDelay stalls every ProgramGID call, widening the window in which a
// slot is marked in flight.
func (d *Device) SetDelay(delay time.Duration) {
	d.mu.Lock()
	d.delay = delay
	d.mu.Unlock()
}

func (d *Device) ProgramGID(p, index int, id gid.Identifier, attrs gid.Attributes, prev any) (any, error) {
	d.mu.RLock()
	hook, delay := d.hook, d.delay
	d.mu.RUnlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if hook != nil {
		if err := hook(p, index, id, attrs); err != nil {
			d.logger.Debug("Programming rejected", "port", p, "index", index, "gid", id, "error", err)
			return nil, err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	pt := d.port(p)
	if pt == nil {
		return nil, fmt.Errorf("%s: no port %d", d.name, p)
	}
	if index < 0 || index >= len(pt.table) {
		return nil, fmt.Errorf("%s: port %d index %d out of range", d.name, p, index)
	}
	pt.table[index] = slot{id: id, attrs: attrs}
	pt.writes++

	sc, ok := prev.(*SlotContext)
	if !ok || sc.Port != p || sc.Index != index {
		sc = &SlotContext{Port: p, Index: index}
	}
	sc.Writes++

	d.logger.Debug("Programmed GID", "port", p, "index", index, "gid", id, "kind", attrs.Kind, "slot_writes", sc.Writes)
	return sc, nil
}

// Programmed returns the identifiers currently written to port p.
func (d *Device) Programmed(p int) []gid.Identifier {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pt := d.port(p)
	if pt == nil {
		return nil
	}
	ids := make([]gid.Identifier, len(pt.table))
	for i, s := range pt.table {
		ids[i] = s.id
	}
	return ids
}

func (d *Device) Writes(p int) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if pt := d.port(p); pt != nil {
		return pt.writes
	}
	return 0
}
