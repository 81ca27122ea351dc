// Package gid defines GID table identifiers, identity kinds and the
// attribute sets they are stored and matched with.
package gid

import (
	"net"

	"github.com/veesix-networks/gidd/pkg/netdev"
	"inet.af/netaddr"
)

const Size = 16

type Identifier [Size]byte

var Zero Identifier

func (id Identifier) IsZero() bool {
	return id == Zero
}

func (id Identifier) String() string {
	return netaddr.IPFrom16(id).String()
}

// FromIP maps an interface address onto its GID. IPv4 addresses use the
// IPv4-mapped IPv6 form.
func FromIP(ip net.IP) Identifier {
	addr, ok := netaddr.FromStdIP(ip)
	if !ok {
		return Zero
	}
	return Identifier(addr.As16())
}

// DefaultFromMAC builds the link-local default GID for an interface: the
// fe80::/64 prefix followed by the modified EUI-64 of a 48-bit MAC.
func DefaultFromMAC(mac net.HardwareAddr) Identifier {
	var id Identifier
	id[0] = 0xfe
	id[1] = 0x80
	if len(mac) != 6 {
		return id
	}
	id[8] = mac[0] ^ 0x02
	id[9] = mac[1]
	id[10] = mac[2]
	id[11] = 0xff
	id[12] = 0xfe
	id[13] = mac[3]
	id[14] = mac[4]
	id[15] = mac[5]
	return id
}

// Default returns the default GID of h.
func Default(h *netdev.Handle) Identifier {
	return DefaultFromMAC(h.HardwareAddr())
}

// Attributes qualify a stored GID. The zero value is the empty attribute
// set written into cleared slots.
type Attributes struct {
	Kind      Kind
	Iface     *netdev.Handle
	Namespace string
}

func (a Attributes) IsZero() bool {
	return a == Attributes{}
}

// Mask selects the attribute fields that take part in a lookup. The
// identifier itself is always compared.
type Mask uint8

const (
	MaskKind Mask = 1 << iota
	MaskIface

	MaskNone      Mask = 0
	MaskKindIface      = MaskKind | MaskIface
)

func (m Mask) Has(f Mask) bool {
	return m&f == f
}
