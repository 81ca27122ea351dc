// Package device describes the RDMA device surface the GID cache is built
// on: per-port table geometry, link layer, the bound network interface,
// supported GID kinds and the hardware programming callback.
package device

import (
	"github.com/veesix-networks/gidd/pkg/gid"
	"github.com/veesix-networks/gidd/pkg/netdev"
)

type LinkLayer uint8

const (
	LinkLayerUnspecified LinkLayer = iota
	LinkLayerInfiniband
	LinkLayerEthernet
)

func (l LinkLayer) String() string {
	switch l {
	case LinkLayerInfiniband:
		return "infiniband"
	case LinkLayerEthernet:
		return "ethernet"
	default:
		return "unspecified"
	}
}

// Device ports are numbered from 1.
type Device interface {
	Name() string
	PortCount() int
	TableSize(port int) int
	LinkLayer(port int) LinkLayer
	// NetDev returns the interface backing port, or nil.
	NetDev(port int) *netdev.Handle
	Capabilities(port int) (gid.KindMask, error)
	// ProgramGID writes id into hardware slot index. prev is the context
	// returned by the last successful write of that slot, or nil. The
	// returned context replaces it; a failed write drops it.
	ProgramGID(port, index int, id gid.Identifier, attrs gid.Attributes, prev any) (any, error)
}
