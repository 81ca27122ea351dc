// Package nlsource feeds rtnetlink link and address notifications into the
// interface registry and forwards them to a gidmgmt.Sink.
package nlsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/veesix-networks/gidd/pkg/gidmgmt"
	"github.com/veesix-networks/gidd/pkg/logger"
	"github.com/veesix-networks/gidd/pkg/netdev"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

const updateBuffer = 512

type Config struct {
	Registry *netdev.Registry
	Guard    *netdev.Guard
	// Namespace names a network namespace under /var/run/netns. Empty
	// means the namespace of the calling thread.
	Namespace string
}

type Source struct {
	registry  *netdev.Registry
	guard     *netdev.Guard
	namespace string
	logger    *slog.Logger
}

var _ gidmgmt.Source = (*Source)(nil)

func New(cfg Config) *Source {
	return &Source{
		registry:  cfg.Registry,
		guard:     cfg.Guard,
		namespace: cfg.Namespace,
		logger:    logger.Get(logger.Netlink),
	}
}

func (s *Source) Name() string {
	if s.namespace != "" {
		return "netlink:" + s.namespace
	}
	return "netlink"
}

// Run subscribes before listing existing links so no change between the
// dump and the subscription is lost.
func (s *Source) Run(ctx context.Context, sink gidmgmt.Sink) error {
	var (
		ns  *netns.NsHandle
		nlh *netlink.Handle
		err error
	)
	if s.namespace != "" {
		h, nsErr := netns.GetFromName(s.namespace)
		if nsErr != nil {
			return fmt.Errorf("open netns %s: %w", s.namespace, nsErr)
		}
		defer h.Close()
		ns = &h
		nlh, err = netlink.NewHandleAt(h)
	} else {
		nlh, err = netlink.NewHandle()
	}
	if err != nil {
		return fmt.Errorf("netlink handle: %w", err)
	}
	defer nlh.Close()

	done := make(chan struct{})
	defer close(done)

	onError := func(err error) {
		s.logger.Warn("Netlink subscription error", "error", err)
	}

	linkCh := make(chan netlink.LinkUpdate, updateBuffer)
	if err := netlink.LinkSubscribeWithOptions(linkCh, done, netlink.LinkSubscribeOptions{
		Namespace:     ns,
		ErrorCallback: onError,
	}); err != nil {
		return fmt.Errorf("subscribe to link updates: %w", err)
	}

	addrCh := make(chan netlink.AddrUpdate, updateBuffer)
	if err := netlink.AddrSubscribeWithOptions(addrCh, done, netlink.AddrSubscribeOptions{
		Namespace:     ns,
		ErrorCallback: onError,
	}); err != nil {
		return fmt.Errorf("subscribe to address updates: %w", err)
	}

	if err := s.seed(nlh, sink); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-linkCh:
			if !ok {
				return errors.New("link subscription closed")
			}
			s.handleLink(u, sink)
		case u, ok := <-addrCh:
			if !ok {
				return errors.New("address subscription closed")
			}
			s.handleAddr(u, sink)
		}
	}
}

func (s *Source) seed(nlh *netlink.Handle, sink gidmgmt.Sink) error {
	links, err := nlh.LinkList()
	if err != nil && !errors.Is(err, netlink.ErrDumpInterrupted) {
		return fmt.Errorf("list links: %w", err)
	}

	var registered []*netdev.Handle

	s.guard.Lock()
	for _, link := range links {
		attrs := link.Attrs()
		if s.registry.Get(attrs.Index) != nil {
			continue
		}
		h := s.newHandle(link)
		h.SetUp(attrs.Flags&net.FlagUp != 0)
		s.registry.Add(h)

		addrs, err := nlh.AddrList(link, netlink.FAMILY_ALL)
		if err != nil && !errors.Is(err, netlink.ErrDumpInterrupted) {
			s.logger.Warn("Failed to list addresses", "netdev", attrs.Name, "error", err)
		}
		for _, a := range addrs {
			if a.IPNet != nil {
				s.registry.AddAddress(h.Index, a.IP)
			}
		}
		registered = append(registered, h)
	}
	s.guard.Unlock()

	for _, h := range registered {
		sink.LinkChanged(gidmgmt.LinkRegistered, h)
	}
	s.logger.Info("Seeded interface registry", "links", len(registered))
	return nil
}

func (s *Source) newHandle(link netlink.Link) *netdev.Handle {
	attrs := link.Attrs()
	h := netdev.NewHandle(attrs.Index, attrs.Name, attrs.HardwareAddr)
	h.Namespace = s.namespace
	if link.Type() == "vlan" {
		h.ParentIndex = attrs.ParentIndex
	}
	h.SetMasterIndex(attrs.MasterIndex)
	return h
}

func (s *Source) handleLink(u netlink.LinkUpdate, sink gidmgmt.Sink) {
	attrs := u.Link.Attrs()
	up := u.IfInfomsg.Flags&unix.IFF_UP != 0

	switch u.Header.Type {
	case unix.RTM_NEWLINK:
		s.guard.Lock()
		h := s.registry.Get(attrs.Index)
		if h == nil {
			h = s.newHandle(u.Link)
			h.SetUp(up)
			s.registry.Add(h)
			s.guard.Unlock()

			s.logger.Debug("Link registered", "netdev", attrs.Name, "index", attrs.Index)
			sink.LinkChanged(gidmgmt.LinkRegistered, h)
			return
		}

		if name := h.Name(); name != attrs.Name {
			s.registry.Rename(name, attrs.Name)
		}
		h.SetMasterIndex(attrs.MasterIndex)
		addrChanged := len(attrs.HardwareAddr) > 0 && h.SetHardwareAddr(attrs.HardwareAddr)
		upChanged := h.SetUp(up)
		s.guard.Unlock()

		if addrChanged {
			s.logger.Debug("Link address changed", "netdev", attrs.Name, "mac", attrs.HardwareAddr)
			sink.LinkChanged(gidmgmt.LinkAddressChanged, h)
		}
		if upChanged && up {
			s.logger.Debug("Link up", "netdev", attrs.Name)
			sink.LinkChanged(gidmgmt.LinkUp, h)
		}

	case unix.RTM_DELLINK:
		s.guard.Lock()
		h := s.registry.Remove(attrs.Index)
		if h != nil {
			h.SetState(netdev.StateUnregistering)
		}
		s.guard.Unlock()

		if h == nil {
			return
		}
		s.logger.Debug("Link unregistered", "netdev", attrs.Name, "index", attrs.Index)
		sink.LinkChanged(gidmgmt.LinkUnregistered, h)
		h.Unregister()
	}
}

func (s *Source) handleAddr(u netlink.AddrUpdate, sink gidmgmt.Sink) {
	ip := u.LinkAddress.IP

	s.guard.Lock()
	h := s.registry.Get(u.LinkIndex)
	if h == nil {
		s.guard.Unlock()
		return
	}
	var changed bool
	if u.NewAddr {
		changed = s.registry.AddAddress(h.Index, ip)
	} else {
		changed = s.registry.RemoveAddress(h.Index, ip)
	}
	up := h.IsUp()
	s.guard.Unlock()

	if !changed {
		return
	}

	switch {
	case u.NewAddr && up:
		sink.AddressChanged(gidmgmt.AddressAdded, h, ip)
	case !u.NewAddr:
		sink.AddressChanged(gidmgmt.AddressRemoved, h, ip)
	}
}
