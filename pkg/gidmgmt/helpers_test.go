package gidmgmt

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/gidd/pkg/device"
	"github.com/veesix-networks/gidd/pkg/device/soft"
	"github.com/veesix-networks/gidd/pkg/gid"
	"github.com/veesix-networks/gidd/pkg/gidcache"
	"github.com/veesix-networks/gidd/pkg/netdev"
)

var roce = gid.MaskOf(gid.KindRoCEv1, gid.KindRoCEv2)

type fixture struct {
	svc *Service
	reg *netdev.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.Registry == nil {
		cfg.Registry = netdev.NewRegistry()
	}
	svc := NewService(cfg)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return &fixture{svc: svc, reg: cfg.Registry}
}

// iface registers a handle the way the netlink source does.
func (f *fixture) iface(t *testing.T, index int, name, mac string, addrs ...string) *netdev.Handle {
	t.Helper()
	hw, err := net.ParseMAC(mac)
	require.NoError(t, err)
	h := netdev.NewHandle(index, name, hw)
	h.SetUp(true)
	f.reg.Add(h)
	for _, a := range addrs {
		require.True(t, f.reg.AddAddress(index, net.ParseIP(a)))
	}
	return h
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Dispatcher().Flush(ctx))
}

func ethPort(h *netdev.Handle) soft.PortConfig {
	return soft.PortConfig{
		NetDev:       h,
		TableSize:    16,
		LinkLayer:    device.LinkLayerEthernet,
		Capabilities: roce,
	}
}

func entries(t *testing.T, m *gidcache.Manager, port int) []gidcache.Entry {
	t.Helper()
	es, err := m.Entries(port)
	require.NoError(t, err)
	return es
}

// has reports whether port holds id under kind for h.
func has(m *gidcache.Manager, port int, id gid.Identifier, kind gid.Kind, h *netdev.Handle) bool {
	_, err := m.Find(port, id, gid.Attributes{Kind: kind, Iface: h}, gid.MaskKindIface)
	return err == nil
}

func ipGID(s string) gid.Identifier {
	return gid.FromIP(net.ParseIP(s))
}

// blockingWork parks the worker until release is closed.
type blockingWork struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingWork() *blockingWork {
	return &blockingWork{started: make(chan struct{}), release: make(chan struct{})}
}

func (w *blockingWork) Run() {
	close(w.started)
	<-w.release
}
func (w *blockingWork) Release()       {}
func (w *blockingWork) String() string { return "blocking" }

type recordWork struct {
	id       int
	log      *[]int
	released *int
}

func (w *recordWork) Run()           { *w.log = append(*w.log, w.id) }
func (w *recordWork) Release()       { *w.released++ }
func (w *recordWork) String() string { return "record" }
