package gidmgmt

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/gidd/pkg/device"
	"github.com/veesix-networks/gidd/pkg/device/soft"
	"github.com/veesix-networks/gidd/pkg/events"
	"github.com/veesix-networks/gidd/pkg/events/local"
	"github.com/veesix-networks/gidd/pkg/gid"
	"github.com/veesix-networks/gidd/pkg/gidcache"
	"github.com/veesix-networks/gidd/pkg/netdev"
)

func TestAttachPopulatesFromRegistry(t *testing.T) {
	f := newFixture(t, Config{})
	x := f.iface(t, 2, "eth0", "00:11:22:33:44:55", "10.0.0.1")

	dev := soft.New("rxe0", ethPort(x))
	require.NoError(t, f.svc.AttachDevice(dev))
	f.flush(t)

	m := f.svc.Manager("rxe0")
	require.NotNil(t, m)
	assert.True(t, f.svc.IsActive("rxe0", 1))
	assert.Len(t, entries(t, m, 1), 4)

	def := gid.Default(x)
	addr := ipGID("10.0.0.1")
	for _, kind := range []gid.Kind{gid.KindRoCEv1, gid.KindRoCEv2} {
		assert.True(t, has(m, 1, def, kind, x), "default %s", kind)
		assert.True(t, has(m, 1, addr, kind, x), "address %s", kind)
	}
}

func TestInterfaceLifecycle(t *testing.T) {
	f := newFixture(t, Config{})
	x := f.iface(t, 2, "eth0", "00:11:22:33:44:55")
	y := f.iface(t, 3, "eth1", "00:11:22:33:44:66", "192.168.0.1")

	dev := soft.New("rxe0", ethPort(x), ethPort(y))
	require.NoError(t, f.svc.AttachDevice(dev))
	f.flush(t)
	m := f.svc.Manager("rxe0")

	// Address configured after registration.
	require.True(t, f.reg.AddAddress(x.Index, net.ParseIP("10.0.0.1")))
	f.svc.AddressChanged(AddressAdded, x, net.ParseIP("10.0.0.1"))
	f.flush(t)
	assert.Len(t, entries(t, m, 1), 4)
	assert.Len(t, entries(t, m, 2), 4)

	// MAC change: every entry of x is removed before any is re-added.
	var (
		mu     sync.Mutex
		writes []gid.Identifier
	)
	dev.SetProgramHook(func(port, index int, id gid.Identifier, attrs gid.Attributes) error {
		if port == 1 {
			mu.Lock()
			writes = append(writes, id)
			mu.Unlock()
		}
		return nil
	})

	oldDefault := gid.Default(x)
	hw, _ := net.ParseMAC("00:11:22:33:44:77")
	require.True(t, x.SetHardwareAddr(hw))
	f.svc.LinkChanged(LinkAddressChanged, x)
	f.flush(t)

	mu.Lock()
	seq := append([]gid.Identifier(nil), writes...)
	mu.Unlock()

	// 4 clears, then per kind a clear and the default, then both addresses.
	require.Len(t, seq, 10)
	for i, id := range seq[:4] {
		assert.True(t, id.IsZero(), "write %d must clear an entry of the old address", i)
	}
	assert.NotContains(t, seq, oldDefault)
	assert.Equal(t, gid.Default(x), seq[5])
	assert.Equal(t, gid.Default(x), seq[7])
	assert.Equal(t, ipGID("10.0.0.1"), seq[8])
	assert.Equal(t, ipGID("10.0.0.1"), seq[9])

	assert.Len(t, entries(t, m, 1), 4)
	assert.False(t, has(m, 1, oldDefault, gid.KindRoCEv1, x))
	assert.True(t, has(m, 1, gid.Default(x), gid.KindRoCEv1, x))
	assert.True(t, has(m, 1, ipGID("10.0.0.1"), gid.KindRoCEv2, x))

	// Unregistration only removes x's entries.
	x.SetState(netdev.StateUnregistering)
	f.reg.Remove(x.Index)
	f.svc.LinkChanged(LinkUnregistered, x)
	x.Unregister()
	f.flush(t)

	assert.Empty(t, entries(t, m, 1))
	assert.Len(t, entries(t, m, 2), 4)
	assert.True(t, has(m, 2, ipGID("192.168.0.1"), gid.KindRoCEv2, y))

	select {
	case <-x.Released():
	case <-time.After(2 * time.Second):
		t.Fatalf("eth0 still referenced: refs=%d", x.Refs())
	}
}

func TestAddThenDeleteKeepsOrder(t *testing.T) {
	f := newFixture(t, Config{Dispatcher: NewDispatcher(16)})
	x := f.iface(t, 2, "eth0", "00:11:22:33:44:55")

	require.NoError(t, f.svc.AttachDevice(soft.New("rxe0", ethPort(x))))
	f.flush(t)
	m := f.svc.Manager("rxe0")

	ip := net.ParseIP("10.0.0.9")
	f.svc.AddressChanged(AddressAdded, x, ip)
	f.svc.AddressChanged(AddressRemoved, x, ip)
	f.flush(t)
	assert.False(t, has(m, 1, ipGID("10.0.0.9"), gid.KindRoCEv2, x))

	f.svc.AddressChanged(AddressRemoved, x, ip)
	f.svc.AddressChanged(AddressAdded, x, ip)
	f.flush(t)
	assert.True(t, has(m, 1, ipGID("10.0.0.9"), gid.KindRoCEv2, x))
}

func TestVLANAddressesLandOnRealDevicePort(t *testing.T) {
	f := newFixture(t, Config{})
	x := f.iface(t, 2, "eth0", "00:11:22:33:44:55")
	v := f.iface(t, 10, "eth0.100", "00:11:22:33:44:55", "10.100.0.1")
	v.ParentIndex = x.Index
	f.iface(t, 4, "eth9", "00:11:22:33:44:99", "172.16.0.1")

	require.NoError(t, f.svc.AttachDevice(soft.New("rxe0", ethPort(x))))
	f.flush(t)
	m := f.svc.Manager("rxe0")

	assert.True(t, has(m, 1, ipGID("10.100.0.1"), gid.KindRoCEv2, v))
	assert.False(t, has(m, 1, gid.Default(v), gid.KindRoCEv2, v), "vlan must not own default GIDs")
	_, err := m.Find(1, ipGID("172.16.0.1"), gid.Attributes{}, gid.MaskNone)
	assert.ErrorIs(t, err, gidcache.ErrNotFound)

	// Removing the real device keeps the VLAN's entries.
	f.svc.LinkChanged(LinkUnregistered, x)
	f.flush(t)
	assert.True(t, has(m, 1, ipGID("10.100.0.1"), gid.KindRoCEv2, v))
	assert.False(t, has(m, 1, gid.Default(x), gid.KindRoCEv1, x))
}

func TestBondSlavePortFollowsMaster(t *testing.T) {
	f := newFixture(t, Config{})
	bond := f.iface(t, 5, "bond0", "00:11:22:33:44:aa", "10.5.0.1")
	slave := f.iface(t, 2, "eth0", "00:11:22:33:44:55")
	slave.SetMasterIndex(bond.Index)

	require.NoError(t, f.svc.AttachDevice(soft.New("rxe0", ethPort(slave))))
	f.flush(t)
	m := f.svc.Manager("rxe0")

	assert.True(t, has(m, 1, ipGID("10.5.0.1"), gid.KindRoCEv2, bond))

	// The port is matched through its master only.
	p := PortRef{Device: m.Device(), Manager: m, Port: 1, Iface: slave}
	assert.False(t, f.svc.IsPortOfNetdev(p))
	p.Iface = bond
	assert.True(t, f.svc.IsPortOfNetdev(p))
}

func TestUnregisteredTwiceIsIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	x := f.iface(t, 2, "eth0", "00:11:22:33:44:55")
	x.SetState(netdev.StateUnregistered)

	before := f.svc.Dispatcher().Stats().Enqueued
	f.svc.LinkChanged(LinkUnregistered, x)
	assert.Equal(t, before, f.svc.Dispatcher().Stats().Enqueued)
	assert.EqualValues(t, 1, x.Refs())
}

func TestDroppedEventReleasesHandle(t *testing.T) {
	d := NewDispatcher(1)
	svc := NewService(Config{Dispatcher: d})
	x := netdev.NewHandle(2, "eth0", nil)

	svc.LinkChanged(LinkRegistered, x)
	svc.LinkChanged(LinkUp, x)
	assert.EqualValues(t, 1, d.Stats().Dropped)
	assert.EqualValues(t, 2, x.Refs())

	require.NoError(t, svc.Stop(context.Background()))
	assert.EqualValues(t, 1, x.Refs())
}

func TestNonEthernetPortsSkipped(t *testing.T) {
	f := newFixture(t, Config{})
	x := f.iface(t, 2, "ib0", "00:11:22:33:44:55", "10.0.0.1")

	port := ethPort(x)
	port.LinkLayer = device.LinkLayerInfiniband
	require.NoError(t, f.svc.AttachDevice(soft.New("mlx0", port)))
	f.flush(t)

	assert.Empty(t, entries(t, f.svc.Manager("mlx0"), 1))
}

func TestCapabilityFailureInstallsNothing(t *testing.T) {
	f := newFixture(t, Config{})
	x := f.iface(t, 2, "eth0", "00:11:22:33:44:55", "10.0.0.1")

	dev := soft.New("rxe0", ethPort(x))
	dev.SetCapabilitiesError(errors.New("query failed"))
	require.NoError(t, f.svc.AttachDevice(dev))
	f.flush(t)

	assert.Empty(t, entries(t, f.svc.Manager("rxe0"), 1))
}

func TestAttachFailureLeavesDeviceAbsent(t *testing.T) {
	f := newFixture(t, Config{})
	x := f.iface(t, 2, "eth0", "00:11:22:33:44:55")

	port := ethPort(x)
	port.TableSize = 0
	err := f.svc.AttachDevice(soft.New("rxe0", port))
	require.ErrorIs(t, err, gidcache.ErrAllocation)

	assert.Nil(t, f.svc.Manager("rxe0"))
	assert.Empty(t, f.svc.Devices())
	assert.False(t, f.svc.IsActive("rxe0", 1))

	// Events for a device without a cache are harmless.
	f.svc.LinkChanged(LinkUp, x)
	f.flush(t)
}

func TestAttachTwiceRejected(t *testing.T) {
	f := newFixture(t, Config{})
	x := f.iface(t, 2, "eth0", "00:11:22:33:44:55")

	require.NoError(t, f.svc.AttachDevice(soft.New("rxe0", ethPort(x))))
	assert.Error(t, f.svc.AttachDevice(soft.New("rxe0", ethPort(x))))
	assert.Equal(t, []string{"rxe0"}, f.svc.Devices())
}

func TestDetachReleasesEverything(t *testing.T) {
	bus := local.NewBus(16)
	defer bus.Close()

	got := make(chan events.DeviceEvent, 4)
	bus.Subscribe(events.TopicDevice, func(ev events.Event) {
		got <- ev.Data.(events.DeviceEvent)
	})

	f := newFixture(t, Config{Bus: bus})
	x := f.iface(t, 2, "eth0", "00:11:22:33:44:55", "10.0.0.1")

	require.NoError(t, f.svc.AttachDevice(soft.New("rxe0", ethPort(x))))
	f.flush(t)
	assert.EqualValues(t, 5, x.Refs())

	require.NoError(t, f.svc.DetachDevice(context.Background(), "rxe0"))
	assert.Nil(t, f.svc.Manager("rxe0"))
	assert.False(t, f.svc.IsActive("rxe0", 1))
	assert.EqualValues(t, 1, x.Refs())

	assert.Error(t, f.svc.DetachDevice(context.Background(), "rxe0"))

	for _, want := range []events.DeviceState{events.DeviceAttached, events.DeviceDetached} {
		select {
		case ev := <-got:
			assert.Equal(t, "rxe0", ev.Device)
			assert.Equal(t, want, ev.State)
		case <-time.After(2 * time.Second):
			t.Fatalf("missing %s event", want)
		}
	}
}

func TestGIDChangesPublished(t *testing.T) {
	bus := local.NewBus(64)
	defer bus.Close()

	got := make(chan events.GIDChangeEvent, 64)
	bus.Subscribe(events.TopicGIDChange, func(ev events.Event) {
		got <- ev.Data.(events.GIDChangeEvent)
	})

	f := newFixture(t, Config{Notifier: &events.GIDNotifier{Bus: bus, Source: "test"}})
	x := f.iface(t, 2, "eth0", "00:11:22:33:44:55")

	require.NoError(t, f.svc.AttachDevice(soft.New("rxe0", ethPort(x))))
	f.flush(t)

	select {
	case ev := <-got:
		assert.Equal(t, "rxe0", ev.Device)
		assert.Equal(t, 1, ev.Port)
	case <-time.After(2 * time.Second):
		t.Fatal("no GID change published")
	}
}

type fakeSource struct {
	events func(Sink)
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Run(ctx context.Context, sink Sink) error {
	s.events(sink)
	<-ctx.Done()
	return ctx.Err()
}

func TestSourcesFeedTheDispatcher(t *testing.T) {
	reg := netdev.NewRegistry()
	x := netdev.NewHandle(2, "eth0", net.HardwareAddr{0, 0x11, 0x22, 0x33, 0x44, 0x55})
	reg.Add(x)
	reg.AddAddress(2, net.ParseIP("10.0.0.1"))

	fed := make(chan struct{})
	src := &fakeSource{events: func(sink Sink) {
		sink.LinkChanged(LinkRegistered, x)
		close(fed)
	}}

	svc := NewService(Config{Registry: reg, Sources: []Source{src}})
	dev := soft.New("rxe0", ethPort(x))
	require.NoError(t, svc.AttachDevice(dev))
	require.NoError(t, svc.Start(context.Background()))
	<-fed

	require.NoError(t, svc.Dispatcher().Flush(context.Background()))
	assert.Len(t, entries(t, svc.Manager("rxe0"), 1), 4)

	require.NoError(t, svc.Stop(context.Background()))
	assert.Empty(t, svc.Devices())
	assert.EqualValues(t, 1, x.Refs())
}

func TestAttachAfterStopRejected(t *testing.T) {
	reg := netdev.NewRegistry()
	svc := NewService(Config{Registry: reg})
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))

	h := netdev.NewHandle(2, "eth0", net.HardwareAddr{0x02, 0, 0, 0, 0, 1})
	err := svc.AttachDevice(soft.New("rxe0", ethPort(h)))
	assert.ErrorIs(t, err, ErrStopped)
	assert.Empty(t, svc.Devices())
	assert.Error(t, svc.Start(context.Background()), "a stopped service cannot restart")
}

func TestDetachRetryAfterFlushTimeout(t *testing.T) {
	f := newFixture(t, Config{})
	x := f.iface(t, 2, "eth0", "00:11:22:33:44:55", "10.0.0.1")
	require.NoError(t, f.svc.AttachDevice(soft.New("rxe0", ethPort(x))))
	f.flush(t)
	require.Greater(t, x.Refs(), int64(1))

	w := newBlockingWork()
	require.NoError(t, f.svc.Dispatcher().Enqueue(w))
	<-w.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.svc.DetachDevice(ctx, "rxe0"), context.DeadlineExceeded)

	m := f.svc.Manager("rxe0")
	require.NotNil(t, m, "device stays attached after a failed detach")
	assert.Equal(t, gidcache.StateInactive, m.State())
	assert.False(t, f.svc.IsActive("rxe0", 1))

	close(w.release)
	require.NoError(t, f.svc.DetachDevice(context.Background(), "rxe0"))
	assert.Nil(t, f.svc.Manager("rxe0"))
	assert.Equal(t, gidcache.StateDestroyed, m.State())
	assert.EqualValues(t, 1, x.Refs())
}

func TestConcurrentAttachSameName(t *testing.T) {
	f := newFixture(t, Config{})
	x := f.iface(t, 2, "eth0", "00:11:22:33:44:55")

	const attempts = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- f.svc.AttachDevice(soft.New("rxe0", ethPort(x)))
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	attached := 0
	for err := range errs {
		if err == nil {
			attached++
		}
	}
	assert.Equal(t, 1, attached)
	assert.Equal(t, []string{"rxe0"}, f.svc.Devices())
	f.flush(t)
}
