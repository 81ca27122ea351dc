package gidcache

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/gidd/pkg/device"
	"github.com/veesix-networks/gidd/pkg/device/soft"
	"github.com/veesix-networks/gidd/pkg/gid"
	"github.com/veesix-networks/gidd/pkg/netdev"
)

var roce = gid.MaskOf(gid.KindRoCEv1, gid.KindRoCEv2)

func testHandle(t *testing.T, index int, name, mac string) *netdev.Handle {
	t.Helper()
	hw, err := net.ParseMAC(mac)
	require.NoError(t, err)
	return netdev.NewHandle(index, name, hw)
}

func ethPort(h *netdev.Handle, size int) soft.PortConfig {
	return soft.PortConfig{
		NetDev:       h,
		TableSize:    size,
		LinkLayer:    device.LinkLayerEthernet,
		Capabilities: roce,
	}
}

// newActive returns an active manager over a single Ethernet port.
func newActive(t *testing.T, h *netdev.Handle, size int, opts Options) (*Manager, *soft.Device) {
	t.Helper()
	dev := soft.New("rxe0", ethPort(h, size))
	m, err := New(dev, opts)
	require.NoError(t, err)
	require.NoError(t, m.Activate())
	t.Cleanup(m.Destroy)
	return m, dev
}

func ipGID(s string) gid.Identifier {
	return gid.FromIP(net.ParseIP(s))
}

type change struct {
	device      string
	port, index int
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []change
}

func (n *recordingNotifier) GIDChanged(device string, port, index int) {
	n.mu.Lock()
	n.changes = append(n.changes, change{device, port, index})
	n.mu.Unlock()
}

func (n *recordingNotifier) snapshot() []change {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]change(nil), n.changes...)
}
