package config

import (
	"fmt"
	"strings"

	"github.com/veesix-networks/gidd/pkg/device"
)

func ParseLinkLayer(s string) (device.LinkLayer, error) {
	switch strings.ToLower(s) {
	case "ethernet", "eth":
		return device.LinkLayerEthernet, nil
	case "infiniband", "ib":
		return device.LinkLayerInfiniband, nil
	default:
		return device.LinkLayerUnspecified, fmt.Errorf("unknown link layer %q", s)
	}
}
