package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/vishvananda/netlink"
	"go4.org/netipx"
)

// SystemInterfaceSource reads interfaces, IPv4 addresses and VRF membership
// from the kernel.
type SystemInterfaceSource struct {
	sysfs string
}

func NewSystemInterfaceSource() *SystemInterfaceSource {
	return &SystemInterfaceSource{sysfs: "/sys/class/net"}
}

// speed returns the link speed in kbit/s, or 0 if the driver reports none.
func (s *SystemInterfaceSource) speed(name string) uint32 {
	res, err := os.ReadFile(s.sysfs + "/" + name + "/speed")
	if err != nil {
		return 0
	}
	mbit, err := strconv.ParseInt(strings.TrimSpace(string(res)), 10, 64)
	if err != nil || mbit <= 0 {
		return 0
	}
	return uint32(mbit * 1000)
}

func (s *SystemInterfaceSource) Interfaces(ctx context.Context) ([]InterfaceInfo, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, errors.Wrap(err, "could not list links")
	}

	vrfs := make(map[int]string)
	for _, link := range links {
		if link.Type() == "vrf" {
			vrfs[link.Attrs().Index] = link.Attrs().Name
		}
	}

	interfaces := make([]InterfaceInfo, 0, len(links))
	for _, link := range links {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		attrs := link.Attrs()
		if link.Type() == "vrf" {
			continue
		}
		info := InterfaceInfo{
			Name:      attrs.Name,
			VRF:       "default",
			Bandwidth: s.speed(attrs.Name),
		}
		if vrf, ok := vrfs[attrs.MasterIndex]; ok {
			info.VRF = vrf
		}
		addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
		if err != nil {
			return nil, errors.Wrapf(err, "could not list addresses of %s", attrs.Name)
		}
		for _, addr := range addrs {
			prefix, ok := netipx.FromStdIPNet(addr.IPNet)
			if !ok {
				log.Warn().Str("interface", attrs.Name).Str("address", addr.IPNet.String()).Msg("interfaces: skipping unparsable address")
				continue
			}
			info.Addrs = append(info.Addrs, prefix)
		}
		interfaces = append(interfaces, info)
	}
	log.Debug().Int("count", len(interfaces)).Msg("interfaces: discovered system interfaces")
	return interfaces, nil
}
