package gidmgmt

import (
	"errors"
	"net"

	"github.com/veesix-networks/gidd/pkg/gid"
	"github.com/veesix-networks/gidd/pkg/gidcache"
	"github.com/veesix-networks/gidd/pkg/netdev"
)

var _ Sink = (*Service)(nil)

func (s *Service) AddCmd() Command {
	return Command{Name: "add", Filter: s.IsPortOfNetdev, Action: s.AddInterfaceAddresses}
}

func (s *Service) DelCmd() Command {
	return Command{Name: "del", Filter: PassAll, Action: s.DeleteInterfaceAddresses}
}

// LinkChanged turns an interface notification into queued work.
func (s *Service) LinkChanged(ev LinkEvent, h *netdev.Handle) {
	var cmds [maxCommands]Command

	switch ev {
	case LinkRegistered, LinkUp:
		cmds[0] = s.AddCmd()
	case LinkUnregistered:
		if h.State() >= netdev.StateUnregistered {
			return
		}
		cmds[0] = s.DelCmd()
	case LinkAddressChanged:
		cmds[0] = s.DelCmd()
		cmds[1] = s.AddCmd()
	default:
		return
	}

	s.enqueue(&interfaceWork{svc: s, iface: h.Hold(), cmds: cmds})
}

// AddressChanged queues the GID derived from ip for addition or removal
// on every port backed by h.
func (s *Service) AddressChanged(ev AddrEvent, h *netdev.Handle, ip net.IP) {
	id := gid.FromIP(ip)
	if id.IsZero() {
		return
	}

	op := OpAdd
	if ev == AddressRemoved {
		op = OpDelete
	}

	s.enqueue(&addressWork{svc: s, iface: h.Hold(), id: id, op: op})
}

func (s *Service) enqueue(w Work) {
	if err := s.dispatcher.Enqueue(w); err != nil {
		s.logger.Warn("Dropped GID update", "work", w.String(), "error", err)
	}
}

func PassAll(PortRef) bool {
	return true
}

// IsPortOfNetdev accepts ports whose interface, or the bond it is
// enslaved to, is the notified interface or the real device under it.
func (s *Service) IsPortOfNetdev(p PortRef) bool {
	idev := p.Device.NetDev(p.Port)
	if idev == nil || p.Iface == nil {
		return false
	}

	ndev := p.Iface
	if rdev := s.registry.RealDev(ndev); rdev != nil {
		ndev = rdev
	}
	if mdev := s.registry.Master(idev); mdev != nil {
		idev = mdev
	}
	return ndev == idev
}

// AddInterfaceAddresses installs the default GIDs of the port's own
// interface and one GID per configured address of p.Iface.
func (s *Service) AddInterfaceAddresses(p PortRef) {
	s.setDefaultGIDs(p)

	if p.Iface.State() >= netdev.StateUnregistering {
		return
	}

	for _, ip := range s.registry.IPv4Addresses(p.Iface.Index) {
		s.updateGID(OpAdd, p, gid.FromIP(ip))
	}
	for _, ip := range s.registry.IPv6Addresses(p.Iface.Index) {
		s.updateGID(OpAdd, p, gid.FromIP(ip))
	}
}

func (s *Service) DeleteInterfaceAddresses(p PortRef) {
	if err := p.Manager.DeleteAllForInterface(p.Port, p.Iface); err != nil {
		s.logger.Debug("Delete all GIDs failed", "device", p.Device.Name(), "port", p.Port, "netdev", p.Iface.Name(), "error", err)
	}
}

func (s *Service) setDefaultGIDs(p PortRef) {
	if p.Device.NetDev(p.Port) != p.Iface {
		return
	}

	kinds := s.capabilities(p)
	n, err := p.Manager.SetDefault(p.Port, p.Iface, kinds)
	if err != nil {
		s.logger.Debug("Set default GIDs failed", "device", p.Device.Name(), "port", p.Port, "error", err)
		return
	}
	if n != kinds.Len() {
		s.logger.Warn("Default GIDs partially installed", "device", p.Device.Name(), "port", p.Port,
			"netdev", p.Iface.Name(), "installed", n, "kinds", kinds.String())
	}
}

// updateGID applies op to id for every kind the port supports.
func (s *Service) updateGID(op Op, p PortRef, id gid.Identifier) {
	kinds := s.capabilities(p)
	attrs := gid.Attributes{Iface: p.Iface, Namespace: p.Iface.Namespace}

	for _, kind := range kinds.Kinds() {
		attrs.Kind = kind

		var err error
		switch op {
		case OpAdd:
			err = p.Manager.Add(p.Port, id, attrs)
		case OpDelete:
			err = p.Manager.Delete(p.Port, id, attrs)
		}

		switch {
		case err == nil:
		case errors.Is(err, gidcache.ErrCapacityExceeded):
			s.logger.Warn("GID table full", "device", p.Device.Name(), "port", p.Port, "gid", id, "kind", kind)
		default:
			s.logger.Debug("GID update skipped", "op", op, "device", p.Device.Name(), "port", p.Port,
				"gid", id, "kind", kind, "error", err)
		}
	}
}

func (s *Service) capabilities(p PortRef) gid.KindMask {
	kinds, err := p.Device.Capabilities(p.Port)
	if err != nil {
		s.logger.Warn("Port capability query failed", "device", p.Device.Name(), "port", p.Port, "error", err)
		return 0
	}
	return kinds
}

// enumAll resolves every known interface as if it had just registered.
// The caller holds the guard.
func (s *Service) enumAll() {
	for _, h := range s.registry.List() {
		s.EnumPorts(h, s.IsPortOfNetdev, s.AddInterfaceAddresses)
	}
}
