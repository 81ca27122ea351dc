package gidcache

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/veesix-networks/gidd/pkg/gid"
	"github.com/veesix-networks/gidd/pkg/netdev"
)

// inflight marks a slot whose contents are being rewritten.
const inflight uint32 = math.MaxUint32

// slot is a versioned cell. A single writer (serialized by the table lock)
// publishes inflight, stores the fields, then publishes the next version.
// Readers sample the version before and after copying the fields and
// discard the copy when the samples differ or either one is inflight.
//
// Every field is an atomic so copies never race; sync/atomic operations
// are sequentially consistent, which gives the release ordering on the
// writer side and the acquire ordering on the reader side.
type slot struct {
	version atomic.Uint32
	idHi    atomic.Uint64
	idLo    atomic.Uint64
	kind    atomic.Uint32
	iface   atomic.Pointer[netdev.Handle]
	ns      atomic.Pointer[string]
}

func (s *slot) beginWrite() uint32 {
	orig := s.version.Load()
	s.version.Store(inflight)
	return orig
}

func (s *slot) endWrite(orig uint32) uint32 {
	next := orig + 1
	if next == inflight {
		next = 0
	}
	s.version.Store(next)
	return next
}

func (s *slot) store(id gid.Identifier, attrs gid.Attributes) {
	s.idHi.Store(binary.BigEndian.Uint64(id[:8]))
	s.idLo.Store(binary.BigEndian.Uint64(id[8:]))
	s.kind.Store(uint32(attrs.Kind))
	s.iface.Store(attrs.Iface)
	if attrs.Namespace == "" {
		s.ns.Store(nil)
	} else {
		ns := attrs.Namespace
		s.ns.Store(&ns)
	}
}

func (s *slot) loadID() gid.Identifier {
	var id gid.Identifier
	binary.BigEndian.PutUint64(id[:8], s.idHi.Load())
	binary.BigEndian.PutUint64(id[8:], s.idLo.Load())
	return id
}

func (s *slot) loadAttrs() gid.Attributes {
	attrs := gid.Attributes{
		Kind:  gid.Kind(s.kind.Load()),
		Iface: s.iface.Load(),
	}
	if ns := s.ns.Load(); ns != nil {
		attrs.Namespace = *ns
	}
	return attrs
}

// read copies the slot. ok is false on a transient miss.
func (s *slot) read() (id gid.Identifier, attrs gid.Attributes, version uint32, ok bool) {
	version = s.version.Load()
	if version == inflight {
		return gid.Zero, gid.Attributes{}, version, false
	}
	id = s.loadID()
	attrs = s.loadAttrs()
	if s.version.Load() != version {
		return gid.Zero, gid.Attributes{}, version, false
	}
	return id, attrs, version, true
}
