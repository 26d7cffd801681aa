package main

import (
	"net/netip"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

const VirtualLinkPrefix = "VLINK"

// DefaultBandwidth is assumed for interfaces that report none, in kbit/s.
const DefaultBandwidth = 10000

type IfParamFlags uint16

const (
	IfParamArea IfParamFlags = 1 << iota
	IfParamCost
	IfParamPassive
	IfParamPriority
	IfParamHello
	IfParamDead
	IfParamRetransmit
	IfParamTransmitDelay
	IfParamMTUIgnore
)

// IfParams are the per-interface (or per-address) OSPF parameters. A value
// counts only when its flag is set, so zero stays a legal setting.
type IfParams struct {
	configured         IfParamFlags
	Area               AreaID
	AreaFormat         AreaIDFormat
	Cost               uint16
	Passive            bool
	Priority           uint8
	HelloInterval      uint16
	DeadInterval       uint32
	RetransmitInterval uint16
	TransmitDelay      uint16
	MTUIgnore          bool
}

func (p *IfParams) IsSet(f IfParamFlags) bool {
	return p != nil && p.configured&f != 0
}

func (p *IfParams) Set(f IfParamFlags) {
	p.configured |= f
}

func (p *IfParams) Unset(f IfParamFlags) {
	p.configured &^= f
}

func (p *IfParams) Empty() bool {
	return p.configured == 0
}

// Interface is the runtime view of a system interface together with its
// OSPF parameters.
type Interface struct {
	router     *Router
	Name       string
	VRF        string
	Bandwidth  uint32 // kbit/s
	Addrs      []netip.Prefix
	Params     *IfParams
	addrParams map[netip.Addr]*IfParams
	membership map[netip.Prefix]AreaID
	Cost       uint32
	Passive    bool
}

func NewInterface(info InterfaceInfo) *Interface {
	addrs := append([]netip.Prefix(nil), info.Addrs...)
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Addr().Less(addrs[j].Addr()) })
	return &Interface{
		Name:       info.Name,
		VRF:        info.VRF,
		Bandwidth:  info.Bandwidth,
		Addrs:      addrs,
		Params:     &IfParams{},
		addrParams: make(map[netip.Addr]*IfParams),
		membership: make(map[netip.Prefix]AreaID),
	}
}

func (ifp *Interface) instance() *Instance {
	if ifp.router == nil {
		return nil
	}
	return ifp.router.InstanceByVRF(ifp.VRF)
}

func (ifp *Interface) IsVirtualLink() bool {
	return strings.HasPrefix(ifp.Name, VirtualLinkPrefix)
}

func (ifp *Interface) AddrParams(addr netip.Addr) *IfParams {
	return ifp.addrParams[addr]
}

// AddrParamsGet returns the address-level parameters, creating them if
// necessary.
func (ifp *Interface) AddrParamsGet(addr netip.Addr) *IfParams {
	if p, ok := ifp.addrParams[addr]; ok {
		return p
	}
	p := &IfParams{}
	ifp.addrParams[addr] = p
	return p
}

func (ifp *Interface) AddrParamsDelete(addr netip.Addr) bool {
	if _, ok := ifp.addrParams[addr]; !ok {
		return false
	}
	delete(ifp.addrParams, addr)
	return true
}

// HasExplicitArea reports whether the interface or any of its addresses has
// an area configured directly.
func (ifp *Interface) HasExplicitArea() bool {
	if ifp.Params.IsSet(IfParamArea) {
		return true
	}
	for _, p := range ifp.addrParams {
		if p.IsSet(IfParamArea) {
			return true
		}
	}
	return false
}

func (ifp *Interface) explicitArea(addr netip.Prefix) (AreaID, bool) {
	if addr.IsValid() {
		if p := ifp.addrParams[addr.Addr()]; p.IsSet(IfParamArea) {
			return p.Area, true
		}
	}
	if ifp.Params.IsSet(IfParamArea) {
		return ifp.Params.Area, true
	}
	return 0, false
}

// AreaFor returns the area the address runs in, if any.
func (ifp *Interface) AreaFor(addr netip.Prefix) (AreaID, bool) {
	area, ok := ifp.membership[addr]
	return area, ok
}

func (ifp *Interface) Areas() []AreaID {
	seen := make(map[AreaID]bool)
	areas := make([]AreaID, 0)
	for _, area := range ifp.membership {
		if !seen[area] {
			seen[area] = true
			areas = append(areas, area)
		}
	}
	sort.Slice(areas, func(i, j int) bool { return areas[i] < areas[j] })
	return areas
}

// outputCost is the explicit cost if configured, otherwise derived from the
// reference bandwidth (Mbit/s) and the interface bandwidth (kbit/s).
func (ifp *Interface) outputCost(refBandwidth uint32) uint32 {
	if ifp.Params.IsSet(IfParamCost) {
		return uint32(ifp.Params.Cost)
	}
	bandwidth := ifp.Bandwidth
	if bandwidth == 0 {
		bandwidth = DefaultBandwidth
	}
	cost := uint64(refBandwidth) * 1000 / uint64(bandwidth)
	if cost < 1 {
		return 1
	}
	if cost > MaxInterfaceCost {
		return MaxInterfaceCost
	}
	return uint32(cost)
}

func (r *Router) AddInterface(info InterfaceInfo) *Interface {
	if ifp, ok := r.interfaces[info.Name]; ok {
		ifp.VRF = info.VRF
		ifp.Bandwidth = info.Bandwidth
		ifp.Addrs = NewInterface(info).Addrs
		r.interfaceChanged(ifp)
		return ifp
	}
	ifp := NewInterface(info)
	ifp.router = r
	r.interfaces[info.Name] = ifp
	log.Debug().Str("interface", ifp.Name).Str("vrf", ifp.VRF).Uint32("bandwidth", ifp.Bandwidth).Msg("ospf: added interface")
	r.interfaceChanged(ifp)
	return ifp
}

// GetInterface returns the named interface. Interfaces configured before
// the system reports them are created without addresses.
func (r *Router) GetInterface(name string, vrf string) *Interface {
	if ifp, ok := r.interfaces[name]; ok {
		return ifp
	}
	return r.AddInterface(InterfaceInfo{Name: name, VRF: vrf})
}

func (r *Router) LookupInterface(name string) *Interface {
	return r.interfaces[name]
}

func (r *Router) Interfaces() []*Interface {
	interfaces := make([]*Interface, 0, len(r.interfaces))
	for _, ifp := range r.interfaces {
		interfaces = append(interfaces, ifp)
	}
	sort.Slice(interfaces, func(i, j int) bool { return interfaces[i].Name < interfaces[j].Name })
	return interfaces
}

func (r *Router) InterfacesInVRF(vrf string) []*Interface {
	interfaces := make([]*Interface, 0)
	for _, ifp := range r.Interfaces() {
		if ifp.VRF == vrf {
			interfaces = append(interfaces, ifp)
		}
	}
	return interfaces
}

// interfaceChanged refreshes everything the owning process derives from
// the interface.
func (r *Router) interfaceChanged(ifp *Interface) {
	o := r.InstanceByVRF(ifp.VRF)
	if o == nil {
		return
	}
	o.InterfaceAreaUpdate(ifp)
	o.InterfaceCostUpdate(ifp)
	o.InterfacePassiveUpdate(ifp)
}
