package netdev

import (
	"net"
	"sync"
	"sync/atomic"
)

type State uint32

const (
	StateRegistered State = iota
	StateUnregistering
	StateUnregistered
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateUnregistering:
		return "unregistering"
	case StateUnregistered:
		return "unregistered"
	default:
		return "unknown"
	}
}

// Handle is a shared reference to a host network interface. Holders that
// store a Handle beyond the call that handed it to them must Hold it and
// Put it when done. The registry owns the first reference and drops it on
// Unregister; Released is closed once the last reference is gone.
type Handle struct {
	Index       int
	Namespace   string
	ParentIndex int

	mu          sync.RWMutex
	name        string
	hwAddr      net.HardwareAddr
	masterIndex int

	up       atomic.Bool
	state    atomic.Uint32
	refs     atomic.Int64
	released chan struct{}
	once     sync.Once
}

func NewHandle(index int, name string, hwAddr net.HardwareAddr) *Handle {
	h := &Handle{
		Index:    index,
		name:     name,
		hwAddr:   append(net.HardwareAddr(nil), hwAddr...),
		released: make(chan struct{}),
	}
	h.refs.Store(1)
	return h
}

func (h *Handle) Name() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.name
}

func (h *Handle) SetName(name string) {
	h.mu.Lock()
	h.name = name
	h.mu.Unlock()
}

func (h *Handle) HardwareAddr() net.HardwareAddr {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append(net.HardwareAddr(nil), h.hwAddr...)
}

// SetHardwareAddr reports whether the address actually changed.
func (h *Handle) SetHardwareAddr(addr net.HardwareAddr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hwAddr.String() == addr.String() {
		return false
	}
	h.hwAddr = append(net.HardwareAddr(nil), addr...)
	return true
}

func (h *Handle) MasterIndex() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.masterIndex
}

func (h *Handle) SetMasterIndex(index int) {
	h.mu.Lock()
	h.masterIndex = index
	h.mu.Unlock()
}

func (h *Handle) IsUp() bool {
	return h.up.Load()
}

// SetUp reports whether the admin state changed.
func (h *Handle) SetUp(up bool) bool {
	return h.up.Swap(up) != up
}

func (h *Handle) State() State {
	return State(h.state.Load())
}

func (h *Handle) SetState(s State) {
	h.state.Store(uint32(s))
}

func (h *Handle) Hold() *Handle {
	h.refs.Add(1)
	return h
}

func (h *Handle) Put() {
	n := h.refs.Add(-1)
	if n == 0 {
		h.once.Do(func() { close(h.released) })
	}
	if n < 0 {
		panic("netdev: handle " + h.Name() + " put below zero")
	}
}

func (h *Handle) Refs() int64 {
	return h.refs.Load()
}

// Unregister marks the interface gone and drops the registration reference.
func (h *Handle) Unregister() {
	h.SetState(StateUnregistered)
	h.Put()
}

func (h *Handle) Released() <-chan struct{} {
	return h.released
}

func (h *Handle) String() string {
	return h.Name()
}
