package main

import (
	"fmt"

	"github.com/veesix-networks/gidd/pkg/config"
	"github.com/veesix-networks/gidd/pkg/device/soft"
	"github.com/veesix-networks/gidd/pkg/gid"
	"github.com/veesix-networks/gidd/pkg/netdev"
)

// buildDevices creates one software device per configured device. Ports
// resolve their interface by name in the registry at use time, so they
// follow interfaces that are recreated.
func buildDevices(cfgs []config.Device, registry *netdev.Registry) ([]*soft.Device, error) {
	devs := make([]*soft.Device, 0, len(cfgs))
	for _, dc := range cfgs {
		ports := make([]soft.PortConfig, 0, len(dc.Ports))
		for i, pc := range dc.Ports {
			ll, err := config.ParseLinkLayer(pc.LinkLayer)
			if err != nil {
				return nil, fmt.Errorf("device %s port %d: %w", dc.Name, i+1, err)
			}
			caps, err := gid.ParseKindMask(pc.Capabilities)
			if err != nil {
				return nil, fmt.Errorf("device %s port %d: %w", dc.Name, i+1, err)
			}
			ports = append(ports, soft.PortConfig{
				NetDevName:   pc.NetDev,
				TableSize:    pc.TableSize,
				LinkLayer:    ll,
				Capabilities: caps,
			})
		}

		dev := soft.New(dc.Name, ports...)
		dev.SetResolver(registry.GetByName)
		devs = append(devs, dev)
	}
	return devs, nil
}
