package main

import (
	"context"
	"net/netip"
)

type InterfaceInfo struct {
	Name      string         `toml:"name"`
	VRF       string         `toml:"vrf"`
	Bandwidth uint32         `toml:"bandwidth"`
	Addrs     []netip.Prefix `toml:"addresses"`
}

// InterfaceSource reports the interfaces OSPF can run on.
type InterfaceSource interface {
	Interfaces(ctx context.Context) ([]InterfaceInfo, error)
}

type StaticInterfaceSource struct {
	interfaces []InterfaceInfo
}

func NewStaticInterfaceSource(interfaces []InterfaceInfo) *StaticInterfaceSource {
	return &StaticInterfaceSource{interfaces: interfaces}
}

func (s *StaticInterfaceSource) Interfaces(ctx context.Context) ([]InterfaceInfo, error) {
	interfaces := make([]InterfaceInfo, 0, len(s.interfaces))
	for _, info := range s.interfaces {
		if info.VRF == "" {
			info.VRF = "default"
		}
		interfaces = append(interfaces, info)
	}
	return interfaces, nil
}
