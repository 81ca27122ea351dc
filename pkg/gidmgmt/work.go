package gidmgmt

import (
	"fmt"

	"github.com/veesix-networks/gidd/pkg/device"
	"github.com/veesix-networks/gidd/pkg/gid"
	"github.com/veesix-networks/gidd/pkg/gidcache"
	"github.com/veesix-networks/gidd/pkg/netdev"
)

// PortRef names one active Ethernet port considered for an interface.
type PortRef struct {
	Device  device.Device
	Manager *gidcache.Manager
	Port    int
	Iface   *netdev.Handle
}

type (
	Filter func(p PortRef) bool
	Action func(p PortRef)
)

// Command pairs a port filter with the action applied to every port it
// accepts.
type Command struct {
	Name   string
	Filter Filter
	Action Action
}

const maxCommands = 2

type Op int

const (
	OpDelete Op = iota
	OpAdd
)

func (o Op) String() string {
	if o == OpAdd {
		return "add"
	}
	return "del"
}

// interfaceWork runs up to two commands for one interface, each under its
// own hold of the enumeration guard.
type interfaceWork struct {
	svc   *Service
	iface *netdev.Handle
	cmds  [maxCommands]Command
}

func (w *interfaceWork) Run() {
	for _, cmd := range w.cmds {
		if cmd.Action == nil {
			break
		}
		w.svc.guard.Do(func() {
			w.svc.EnumPorts(w.iface, cmd.Filter, cmd.Action)
		})
	}
}

func (w *interfaceWork) Release() {
	w.iface.Put()
}

func (w *interfaceWork) String() string {
	names := w.cmds[0].Name
	if w.cmds[1].Action != nil {
		names += "," + w.cmds[1].Name
	}
	return fmt.Sprintf("netdev %s [%s]", w.iface.Name(), names)
}

type addressWork struct {
	svc   *Service
	iface *netdev.Handle
	id    gid.Identifier
	op    Op
}

func (w *addressWork) Run() {
	w.svc.guard.Do(func() {
		w.svc.EnumPorts(w.iface, w.svc.IsPortOfNetdev, func(p PortRef) {
			w.svc.updateGID(w.op, p, w.id)
		})
	})
}

func (w *addressWork) Release() {
	w.iface.Put()
}

func (w *addressWork) String() string {
	return fmt.Sprintf("addr %s %s on %s", w.op, w.id, w.iface.Name())
}

type rescanWork struct {
	svc *Service
}

func (w *rescanWork) Run() {
	w.svc.guard.Do(w.svc.enumAll)
}

func (w *rescanWork) Release() {}

func (w *rescanWork) String() string {
	return "rescan"
}
