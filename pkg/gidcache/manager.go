// Package gidcache keeps the per-port GID tables of an RDMA device. Each
// table has one serialized writer and any number of lock-free readers;
// interface handles referenced by entries are released only after a grace
// period.
package gidcache

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/veesix-networks/gidd/pkg/device"
	"github.com/veesix-networks/gidd/pkg/gid"
	"github.com/veesix-networks/gidd/pkg/logger"
	"github.com/veesix-networks/gidd/pkg/netdev"
)

type State int32

const (
	StateUninitialized State = iota
	StateAllocated
	StateActive
	StateInactive
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAllocated:
		return "allocated"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Notifier is told about every slot whose programming succeeded.
type Notifier interface {
	GIDChanged(device string, port, index int)
}

type Options struct {
	// Reclaimer defers interface handle releases. When nil the manager
	// releases inline after a full grace period.
	Reclaimer *Reclaimer
	Notifier  Notifier
	WriteHook WriteHook
}

type TableStats struct {
	Port            int
	Size            int
	Used            int
	Writes          uint64
	ProgramFailures uint64
}

type Manager struct {
	dev      device.Device
	tables   []*Table
	rcu      *Reclaimer
	ownRCU   bool
	notifier Notifier
	hook     WriteHook
	logger   *slog.Logger

	lifecycle sync.Mutex
	state     atomic.Int32
}

// New allocates one table per device port. Allocation is all-or-nothing:
// on failure no tables are kept and ErrAllocation is returned.
func New(dev device.Device, opts Options) (*Manager, error) {
	m := &Manager{
		dev:      dev,
		rcu:      opts.Reclaimer,
		notifier: opts.Notifier,
		hook:     opts.WriteHook,
		logger:   logger.Get(logger.GIDCache).With("device", dev.Name()),
	}

	ports := dev.PortCount()
	if ports <= 0 {
		return nil, fmt.Errorf("%s: no ports: %w", dev.Name(), ErrAllocation)
	}

	tables := make([]*Table, 0, ports)
	for port := 1; port <= ports; port++ {
		size := dev.TableSize(port)
		if size <= 0 {
			m.logger.Warn("Failed to allocate GID table, rolling back", "port", port, "size", size)
			return nil, fmt.Errorf("%s port %d: table size %d: %w", dev.Name(), port, size, ErrAllocation)
		}
		tables = append(tables, newTable(port, size))
	}
	m.tables = tables

	if m.rcu == nil {
		m.rcu = NewReclaimer(0)
		m.ownRCU = true
	}

	m.state.Store(int32(StateAllocated))
	return m, nil
}

func (m *Manager) Device() device.Device {
	return m.dev
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) Ports() int {
	return len(m.tables)
}

func (m *Manager) Activate() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	switch s := m.State(); s {
	case StateAllocated, StateInactive:
	case StateActive:
		return nil
	default:
		return fmt.Errorf("%s: cannot activate from %s: %w", m.dev.Name(), s, ErrNotReady)
	}

	for _, t := range m.tables {
		t.active.Store(true)
	}
	m.state.Store(int32(StateActive))
	m.logger.Info("GID tables active", "ports", len(m.tables))
	return nil
}

// Deactivate stops accepting operations. Writers already holding a table
// lock finish their update.
func (m *Manager) Deactivate() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.State() != StateActive {
		return
	}
	for _, t := range m.tables {
		t.active.Store(false)
	}
	m.state.Store(int32(StateInactive))
	m.logger.Info("GID tables inactive")
}

// Destroy releases every interface handle still held by the tables. The
// caller must have drained every producer of writes first.
func (m *Manager) Destroy() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.State() == StateDestroyed {
		return
	}
	for _, t := range m.tables {
		t.active.Store(false)
	}

	released := 0
	for _, t := range m.tables {
		t.mu.Lock()
		for i := range t.slots {
			s := &t.slots[i]
			h := s.iface.Load()
			if h == nil {
				continue
			}
			orig := s.beginWrite()
			s.store(gid.Zero, gid.Attributes{})
			t.contexts[i] = nil
			s.endWrite(orig)
			m.rcu.Defer(h.Put)
			released++
		}
		t.mu.Unlock()
	}
	m.state.Store(int32(StateDestroyed))

	if m.ownRCU {
		m.rcu.Close()
	}
	m.logger.Info("GID tables destroyed", "released_handles", released)
}

func (m *Manager) IsActive(port int) bool {
	if port < 1 || port > len(m.tables) {
		return false
	}
	return m.State() == StateActive && m.tables[port-1].Active()
}

func (m *Manager) table(port int) (*Table, error) {
	if port < 1 || port > len(m.tables) {
		return nil, fmt.Errorf("%s port %d: %w", m.dev.Name(), port, ErrOutOfRange)
	}
	t := m.tables[port-1]
	if !t.Active() {
		return nil, ErrNotReady
	}
	return t, nil
}

func (m *Manager) TableSize(port int) int {
	if port < 1 || port > len(m.tables) {
		return 0
	}
	return m.tables[port-1].Size()
}

// write rewrites slot index of t. The caller holds t.mu. A programming
// failure leaves the slot empty and is returned for logging only.
func (m *Manager) write(t *Table, index int, id gid.Identifier, attrs gid.Attributes) error {
	s := &t.slots[index]

	orig := s.beginWrite()
	m.stage(StageInflight, t.port, index)

	ctx, err := m.dev.ProgramGID(t.port, index, id, attrs, t.contexts[index])
	m.stage(StageProgrammed, t.port, index)
	if err != nil {
		t.failures.Add(1)
		m.logger.Warn("Failed to program GID, clearing slot", "port", t.port, "index", index, "gid", id, "error", err)
		id, attrs, ctx = gid.Zero, gid.Attributes{}, nil
	}

	old := s.iface.Load()
	if attrs.Iface != nil && attrs.Iface != old {
		attrs.Iface.Hold()
	}
	s.store(id, attrs)
	t.contexts[index] = ctx
	m.stage(StageCopied, t.port, index)

	s.endWrite(orig)
	t.writes.Add(1)
	m.stage(StagePublished, t.port, index)

	if old != nil && old != attrs.Iface {
		m.rcu.Defer(old.Put)
	}

	if err == nil && m.notifier != nil {
		m.notifier.GIDChanged(m.dev.Name(), t.port, index)
	}
	return err
}

func (m *Manager) stage(stage WriteStage, port, index int) {
	if m.hook != nil {
		m.hook(stage, port, index)
	}
}

// Add stores id under attrs unless an entry with the same identifier and
// kind already exists.
func (m *Manager) Add(port int, id gid.Identifier, attrs gid.Attributes) error {
	t, err := m.table(port)
	if err != nil {
		return err
	}

	if err := t.lockActive(); err != nil {
		return err
	}
	defer t.mu.Unlock()

	if t.find(m.rcu, id, attrs, gid.MaskKind) >= 0 {
		return nil
	}

	ix := t.find(m.rcu, gid.Zero, gid.Attributes{}, gid.MaskNone)
	if ix < 0 {
		return fmt.Errorf("%s port %d: add %s: %w", m.dev.Name(), port, id, ErrCapacityExceeded)
	}

	m.write(t, ix, id, attrs)
	return nil
}

// Delete clears the entry matching id, kind and interface. Default GIDs
// are only replaced through SetDefault. Deleting an absent entry succeeds.
func (m *Manager) Delete(port int, id gid.Identifier, attrs gid.Attributes) error {
	t, err := m.table(port)
	if err != nil {
		return err
	}

	if attrs.Iface != nil && id == gid.Default(attrs.Iface) {
		return fmt.Errorf("%s port %d: delete %s: %w", m.dev.Name(), port, id, ErrPermissionDenied)
	}

	if err := t.lockActive(); err != nil {
		return err
	}
	defer t.mu.Unlock()

	ix := t.find(m.rcu, id, attrs, gid.MaskKindIface)
	if ix < 0 {
		return nil
	}

	m.write(t, ix, gid.Zero, gid.Attributes{})
	return nil
}

// DeleteAllForInterface clears every entry referencing h, default GIDs
// included.
func (m *Manager) DeleteAllForInterface(port int, h *netdev.Handle) error {
	t, err := m.table(port)
	if err != nil {
		return err
	}
	if h == nil {
		return nil
	}

	if err := t.lockActive(); err != nil {
		return err
	}
	defer t.mu.Unlock()

	for ix := range t.slots {
		if t.slots[ix].iface.Load() == h {
			m.write(t, ix, gid.Zero, gid.Attributes{})
		}
	}
	return nil
}

// Get reads slot index without locking. ErrRetry reports a slot caught
// mid-update; the caller may simply ask again.
func (m *Manager) Get(port, index int) (gid.Identifier, gid.Attributes, error) {
	t, err := m.table(port)
	if err != nil {
		return gid.Zero, gid.Attributes{}, err
	}
	if index < 0 || index >= t.Size() {
		return gid.Zero, gid.Attributes{}, fmt.Errorf("%s port %d index %d: %w", m.dev.Name(), port, index, ErrOutOfRange)
	}

	e, ok := t.read(m.rcu, index)
	if !ok {
		return gid.Zero, gid.Attributes{}, ErrRetry
	}
	return e.ID, e.Attrs, nil
}

// Find searches a single port.
func (m *Manager) Find(port int, id gid.Identifier, val gid.Attributes, mask gid.Mask) (int, error) {
	t, err := m.table(port)
	if err != nil {
		return -1, err
	}
	if ix := t.find(m.rcu, id, val, mask); ix >= 0 {
		return ix, nil
	}
	return -1, ErrNotFound
}

// FindAcrossPorts returns the first Ethernet port, in ascending order,
// holding id with the given kind.
func (m *Manager) FindAcrossPorts(id gid.Identifier, kind gid.Kind) (port, index int, err error) {
	val := gid.Attributes{Kind: kind}
	for p := 1; p <= len(m.tables); p++ {
		if m.dev.LinkLayer(p) != device.LinkLayerEthernet {
			continue
		}
		t := m.tables[p-1]
		if !t.Active() {
			continue
		}
		if ix := t.find(m.rcu, id, val, gid.MaskKind); ix >= 0 {
			return p, ix, nil
		}
	}
	return 0, -1, ErrNotFound
}

// SetDefault rewrites the default GID of h for every kind in kinds,
// packing them into the lowest slots in ascending kind order. A kind whose
// slot cannot be cleared or programmed is skipped and the next kind reuses
// its slot. It returns the number of default entries written.
func (m *Manager) SetDefault(port int, h *netdev.Handle, kinds gid.KindMask) (int, error) {
	t, err := m.table(port)
	if err != nil {
		return 0, err
	}

	if h == nil {
		return 0, fmt.Errorf("%s port %d: default gid needs an interface", m.dev.Name(), port)
	}

	id := gid.Default(h)
	attrs := gid.Attributes{Iface: h, Namespace: h.Namespace}

	if err := t.lockActive(); err != nil {
		return 0, err
	}
	defer t.mu.Unlock()

	success := 0
	for _, kind := range kinds.Kinds() {
		if success >= t.Size() {
			break
		}
		attrs.Kind = kind

		if err := m.write(t, success, gid.Zero, gid.Attributes{}); err != nil {
			m.logger.Warn("Can't clear slot for default GID", "port", port, "index", success, "gid", id)
			continue
		}
		if err := m.write(t, success, id, attrs); err != nil {
			m.logger.Warn("Unable to add default GID", "port", port, "gid", id, "kind", kind)
			continue
		}
		success++
	}
	return success, nil
}

// Entries returns a settled copy of every non-empty slot, retrying slots
// caught mid-update a bounded number of times.
func (m *Manager) Entries(port int) ([]Entry, error) {
	t, err := m.table(port)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for ix := 0; ix < t.Size(); ix++ {
		for attempt := 0; attempt < 8; attempt++ {
			e, ok := t.read(m.rcu, ix)
			if !ok {
				continue
			}
			if !e.ID.IsZero() {
				entries = append(entries, e)
			}
			break
		}
	}
	return entries, nil
}

func (m *Manager) Stats(port int) (TableStats, error) {
	if port < 1 || port > len(m.tables) {
		return TableStats{}, fmt.Errorf("%s port %d: %w", m.dev.Name(), port, ErrOutOfRange)
	}
	t := m.tables[port-1]

	st := TableStats{
		Port:            port,
		Size:            t.Size(),
		Writes:          t.writes.Load(),
		ProgramFailures: t.failures.Load(),
	}
	if entries, err := m.Entries(port); err == nil {
		st.Used = len(entries)
	}
	return st, nil
}
