// Package gidmgmt keeps GID tables in step with host interfaces. Interface
// and address notifications are resolved into work items that a single
// dispatcher worker applies to the GID cache of every attached device.
package gidmgmt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/veesix-networks/gidd/pkg/component"
	"github.com/veesix-networks/gidd/pkg/device"
	"github.com/veesix-networks/gidd/pkg/events"
	"github.com/veesix-networks/gidd/pkg/gidcache"
	"github.com/veesix-networks/gidd/pkg/logger"
	"github.com/veesix-networks/gidd/pkg/netdev"
)

type Config struct {
	Registry   *netdev.Registry
	Guard      *netdev.Guard
	Dispatcher *Dispatcher
	Reclaimer  *gidcache.Reclaimer
	Notifier   gidcache.Notifier
	WriteHook  gidcache.WriteHook
	// Bus, when set, receives device attach/detach events.
	Bus     events.Bus
	Sources []Source
}

type attached struct {
	dev device.Device
	mgr *gidcache.Manager
}

type Service struct {
	*component.Base
	logger *slog.Logger

	registry   *netdev.Registry
	guard      *netdev.Guard
	dispatcher *Dispatcher
	cacheOpts  gidcache.Options
	bus        events.Bus
	sources    []Source

	mu      sync.RWMutex
	devices []*attached
}

func NewService(cfg Config) *Service {
	if cfg.Registry == nil {
		cfg.Registry = netdev.NewRegistry()
	}
	if cfg.Guard == nil {
		cfg.Guard = &netdev.Guard{}
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NewDispatcher(DefaultQueueSize)
	}

	return &Service{
		Base:       component.NewBase("gidmgmt"),
		logger:     logger.Get(logger.GIDMgmt),
		registry:   cfg.Registry,
		guard:      cfg.Guard,
		dispatcher: cfg.Dispatcher,
		cacheOpts: gidcache.Options{
			Reclaimer: cfg.Reclaimer,
			Notifier:  cfg.Notifier,
			WriteHook: cfg.WriteHook,
		},
		bus:     cfg.Bus,
		sources: cfg.Sources,
	}
}

func (s *Service) Registry() *netdev.Registry {
	return s.registry
}

func (s *Service) Guard() *netdev.Guard {
	return s.guard
}

func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Start runs the dispatcher worker and every event source.
func (s *Service) Start(ctx context.Context) error {
	if err := s.StartContext(ctx); err != nil {
		return err
	}

	if err := s.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	for _, src := range s.sources {
		s.Go(func() {
			s.logger.Info("Starting event source", "source", src.Name())
			if err := src.Run(s.Ctx, s); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Event source failed", "source", src.Name(), "error", err)
			}
		})
	}
	return nil
}

// Stop silences the sources, drains the dispatcher and detaches every
// device.
func (s *Service) Stop(ctx context.Context) error {
	s.StopContext()

	var errs []error
	if err := s.dispatcher.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	for _, name := range s.Devices() {
		if err := s.DetachDevice(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AttachDevice allocates and activates the GID cache of dev and queues a
// full rescan to populate it. On failure the device is left without a
// cache.
func (s *Service) AttachDevice(dev device.Device) error {
	if s.Stopped() {
		return ErrStopped
	}

	s.mu.Lock()
	for _, a := range s.devices {
		if a.dev.Name() == dev.Name() {
			s.mu.Unlock()
			return fmt.Errorf("device %s already attached", dev.Name())
		}
	}

	mgr, err := gidcache.New(dev, s.cacheOpts)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("GID cache setup failed", "device", dev.Name(), "error", err)
		return err
	}
	if err := mgr.Activate(); err != nil {
		s.mu.Unlock()
		mgr.Destroy()
		return err
	}

	a := &attached{dev: dev, mgr: mgr}
	s.devices = append(s.devices, a)
	s.mu.Unlock()

	if err := s.Rescan(); err != nil {
		s.remove(a)
		mgr.Deactivate()
		mgr.Destroy()
		return fmt.Errorf("queue rescan for %s: %w", dev.Name(), err)
	}

	s.logger.Info("Device attached", "device", dev.Name(), "ports", dev.PortCount())
	s.publish(dev.Name(), events.DeviceAttached)
	return nil
}

// DetachDevice deactivates the device's cache, waits for queued work to
// finish and releases the tables. When the wait fails the device stays
// attached and inactive so the detach can be retried.
func (s *Service) DetachDevice(ctx context.Context, name string) error {
	a := s.lookup(name)
	if a == nil {
		return fmt.Errorf("device %s not attached", name)
	}

	a.mgr.Deactivate()
	if err := s.dispatcher.Flush(ctx); err != nil && !errors.Is(err, ErrStopped) {
		return fmt.Errorf("flush updates for %s: %w", name, err)
	}
	if !s.remove(a) {
		// A concurrent detach of the same device got there first.
		return nil
	}
	a.mgr.Destroy()

	s.logger.Info("Device detached", "device", name)
	s.publish(name, events.DeviceDetached)
	return nil
}

func (s *Service) lookup(name string) *attached {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.devices {
		if a.dev.Name() == name {
			return a
		}
	}
	return nil
}

func (s *Service) remove(a *attached) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, d := range s.devices {
		if d == a {
			s.devices = append(s.devices[:i:i], s.devices[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Service) publish(name string, state events.DeviceState) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.TopicDevice, events.Event{
		Source: "gidmgmt",
		Data:   events.DeviceEvent{Device: name, State: state},
	})
}

// Rescan queues a full resolution of every registered interface.
func (s *Service) Rescan() error {
	return s.dispatcher.Enqueue(&rescanWork{svc: s})
}

func (s *Service) snapshot() []*attached {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*attached(nil), s.devices...)
}

// EnumPorts calls action for every active Ethernet port of every attached
// device that filter accepts for h.
func (s *Service) EnumPorts(h *netdev.Handle, filter Filter, action Action) {
	for _, a := range s.snapshot() {
		for port := 1; port <= a.dev.PortCount(); port++ {
			if a.dev.LinkLayer(port) != device.LinkLayerEthernet {
				continue
			}
			if !a.mgr.IsActive(port) {
				continue
			}
			p := PortRef{Device: a.dev, Manager: a.mgr, Port: port, Iface: h}
			if filter(p) {
				action(p)
			}
		}
	}
}

func (s *Service) Manager(name string) *gidcache.Manager {
	if a := s.lookup(name); a != nil {
		return a.mgr
	}
	return nil
}

func (s *Service) Devices() []string {
	devs := s.snapshot()
	names := make([]string, len(devs))
	for i, a := range devs {
		names[i] = a.dev.Name()
	}
	return names
}

// IsActive reports whether the GID table of the device port accepts
// updates. Unknown devices are never active.
func (s *Service) IsActive(name string, port int) bool {
	mgr := s.Manager(name)
	return mgr != nil && mgr.IsActive(port)
}
