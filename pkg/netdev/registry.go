package netdev

import (
	"net"
	"sort"
	"sync"
)

type entry struct {
	handle        *Handle
	ipv4Addresses []net.IP
	ipv6Addresses []net.IP
}

// Registry is the host interface snapshot consulted while resolving GID
// updates. Writers are expected to hold the Guard around topology changes
// so that an enumeration under the Guard sees a consistent view.
type Registry struct {
	mu      sync.RWMutex
	byIndex map[int]*entry
	byName  map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{
		byIndex: make(map[int]*entry),
		byName:  make(map[string]*entry),
	}
}

func (r *Registry) Add(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{handle: h}
	if old, ok := r.byIndex[h.Index]; ok {
		e.ipv4Addresses = old.ipv4Addresses
		e.ipv6Addresses = old.ipv6Addresses
	}
	r.byIndex[h.Index] = e
	if name := h.Name(); name != "" {
		r.byName[name] = e
	}
}

func (r *Registry) Rename(oldName, newName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byName[oldName]; ok {
		delete(r.byName, oldName)
		e.handle.SetName(newName)
		r.byName[newName] = e
	}
}

func (r *Registry) Remove(index int) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byIndex[index]
	if !ok {
		return nil
	}
	delete(r.byIndex, index)
	if name := e.handle.Name(); name != "" {
		delete(r.byName, name)
	}
	return e.handle
}

func (r *Registry) Get(index int) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.byIndex[index]; ok {
		return e.handle
	}
	return nil
}

func (r *Registry) GetByName(name string) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.byName[name]; ok {
		return e.handle
	}
	return nil
}

// List returns the registered interfaces ordered by ifindex.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Handle, 0, len(r.byIndex))
	for _, e := range r.byIndex {
		result = append(result, e.handle)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIndex)
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byIndex = make(map[int]*entry)
	r.byName = make(map[string]*entry)
}

// AddAddress records ip on the interface, routing it to the IPv4 or IPv6
// list. It reports whether the address was new.
func (r *Registry) AddAddress(index int, ip net.IP) bool {
	if ip.To4() != nil {
		return r.AddIPv4Address(index, ip)
	}
	return r.AddIPv6Address(index, ip)
}

func (r *Registry) RemoveAddress(index int, ip net.IP) bool {
	if ip.To4() != nil {
		return r.RemoveIPv4Address(index, ip)
	}
	return r.RemoveIPv6Address(index, ip)
}

func (r *Registry) AddIPv4Address(index int, ip net.IP) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byIndex[index]
	if !ok {
		return false
	}

	v4 := ip.To4()
	if v4 == nil {
		return false
	}

	for _, existing := range e.ipv4Addresses {
		if existing.Equal(v4) {
			return false
		}
	}
	e.ipv4Addresses = append(e.ipv4Addresses, v4)
	return true
}

func (r *Registry) RemoveIPv4Address(index int, ip net.IP) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byIndex[index]
	if !ok {
		return false
	}

	v4 := ip.To4()
	if v4 == nil {
		return false
	}

	for i, existing := range e.ipv4Addresses {
		if existing.Equal(v4) {
			e.ipv4Addresses = append(e.ipv4Addresses[:i:i], e.ipv4Addresses[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) AddIPv6Address(index int, ip net.IP) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byIndex[index]
	if !ok {
		return false
	}

	v6 := ip.To16()
	if v6 == nil || ip.To4() != nil {
		return false
	}

	for _, existing := range e.ipv6Addresses {
		if existing.Equal(v6) {
			return false
		}
	}
	e.ipv6Addresses = append(e.ipv6Addresses, v6)
	return true
}

func (r *Registry) RemoveIPv6Address(index int, ip net.IP) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byIndex[index]
	if !ok {
		return false
	}

	v6 := ip.To16()
	if v6 == nil {
		return false
	}

	for i, existing := range e.ipv6Addresses {
		if existing.Equal(v6) {
			e.ipv6Addresses = append(e.ipv6Addresses[:i:i], e.ipv6Addresses[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) IPv4Addresses(index int) []net.IP {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.byIndex[index]; ok {
		return append([]net.IP(nil), e.ipv4Addresses...)
	}
	return nil
}

func (r *Registry) IPv6Addresses(index int) []net.IP {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.byIndex[index]; ok {
		return append([]net.IP(nil), e.ipv6Addresses...)
	}
	return nil
}

// RealDev returns the lower device of a VLAN interface, or nil when h is
// not stacked on another registered interface.
func (r *Registry) RealDev(h *Handle) *Handle {
	if h == nil || h.ParentIndex == 0 || h.ParentIndex == h.Index {
		return nil
	}
	return r.Get(h.ParentIndex)
}

// Master returns the bond/team upper device h is enslaved to, if any.
func (r *Registry) Master(h *Handle) *Handle {
	if h == nil {
		return nil
	}
	idx := h.MasterIndex()
	if idx == 0 || idx == h.Index {
		return nil
	}
	return r.Get(idx)
}
