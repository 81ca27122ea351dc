package gidmgmt

import (
	"context"
	"net"

	"github.com/veesix-networks/gidd/pkg/netdev"
)

type LinkEvent int

const (
	LinkRegistered LinkEvent = iota
	LinkUp
	LinkUnregistered
	LinkAddressChanged
)

func (e LinkEvent) String() string {
	switch e {
	case LinkRegistered:
		return "register"
	case LinkUp:
		return "up"
	case LinkUnregistered:
		return "unregister"
	case LinkAddressChanged:
		return "change-addr"
	default:
		return "unknown"
	}
}

type AddrEvent int

const (
	AddressAdded AddrEvent = iota
	AddressRemoved
)

func (e AddrEvent) String() string {
	if e == AddressAdded {
		return "add"
	}
	return "del"
}

// Sink receives interface and address notifications. Implementations must
// not block the caller.
type Sink interface {
	LinkChanged(ev LinkEvent, h *netdev.Handle)
	AddressChanged(ev AddrEvent, h *netdev.Handle, ip net.IP)
}

// Source delivers notifications to a Sink until ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}
