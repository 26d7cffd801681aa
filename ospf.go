package main

import (
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go4.org/netipx"
)

const (
	DefaultReferenceBandwidth = 100 // Mbit/s
	DefaultWriteMultiplier    = 20
	DefaultMetricUnset        = -1
	DefaultMetricType         = 2
	MaxInterfaceCost          = 65535
)

type AreaID uint32

const BackboneArea AreaID = 0

type AreaIDFormat int

const (
	AreaIDFormatAddress AreaIDFormat = iota
	AreaIDFormatDecimal
)

// ParseAreaID accepts both the dotted and the decimal notation and remembers
// which one was used for display.
func ParseAreaID(s string) (AreaID, AreaIDFormat, error) {
	if addr, err := netip.ParseAddr(s); err == nil && addr.Is4() {
		b := addr.As4()
		return AreaID(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])), AreaIDFormatAddress, nil
	}
	if strings.Contains(s, ".") {
		return 0, 0, errors.Errorf("invalid area id %q", s)
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, 0, errors.Errorf("invalid area id %q", s)
	}
	return AreaID(v), AreaIDFormatDecimal, nil
}

func (a AreaID) String() string {
	return netip.AddrFrom4([4]byte{byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a)}).String()
}

func (a AreaID) Format(f AreaIDFormat) string {
	if f == AreaIDFormatDecimal {
		return strconv.FormatUint(uint64(a), 10)
	}
	return a.String()
}

type AreaType int

const (
	AreaNormal AreaType = iota
	AreaStub
	AreaNSSA
)

func parseAreaType(s string) (AreaType, error) {
	switch s {
	case "normal":
		return AreaNormal, nil
	case "stub":
		return AreaStub, nil
	case "nssa":
		return AreaNSSA, nil
	}
	return AreaNormal, errors.Errorf("invalid area type %q", s)
}

type AuthType int

const (
	AuthNone AuthType = iota
	AuthSimple
	AuthMessageDigest
)

func parseAuthType(s string) (AuthType, error) {
	switch s {
	case "none":
		return AuthNone, nil
	case "simple":
		return AuthSimple, nil
	case "message-digest":
		return AuthMessageDigest, nil
	}
	return AuthNone, errors.Errorf("invalid authentication type %q", s)
}

type RouteType string

const (
	RouteKernel    RouteType = "kernel"
	RouteConnected RouteType = "connected"
	RouteStatic    RouteType = "static"
	RouteRIP       RouteType = "rip"
	RouteBGP       RouteType = "bgp"
	RouteISIS      RouteType = "isis"
	RouteTable     RouteType = "table"
	RouteDefault   RouteType = "default"
)

func parseRouteType(s string) (RouteType, error) {
	switch t := RouteType(s); t {
	case RouteKernel, RouteConnected, RouteStatic, RouteRIP, RouteBGP, RouteISIS, RouteTable:
		return t, nil
	}
	return "", errors.Errorf("cannot redistribute %q into ospf", s)
}

func parseMetricType(s string) (int, error) {
	switch s {
	case "type-1", "1":
		return 1, nil
	case "type-2", "2":
		return 2, nil
	}
	return 0, errors.Errorf("invalid metric type %q", s)
}

type DefaultOriginateMode int

const (
	DefaultOriginateNone DefaultOriginateMode = iota
	DefaultOriginateZebra
	DefaultOriginateAlways
)

func (m DefaultOriginateMode) String() string {
	switch m {
	case DefaultOriginateZebra:
		return "zebra"
	case DefaultOriginateAlways:
		return "always"
	default:
		return "none"
	}
}

type ConfigFlags uint8

const (
	FlagRFC1583Compatible ConfigFlags = 1 << iota
	FlagLogAdjacencyChanges
	FlagLogAdjacencyDetail
	FlagOpaqueCapable
)

type Redistribution struct {
	Type       RouteType
	Metric     int64
	MetricType int
	RouteMap   string
}

type AreaRange struct {
	Prefix     netip.Prefix
	Advertise  bool
	Cost       uint32
	CostSet    bool
	Substitute netip.Prefix
}

type VirtualLink struct {
	Area               *Area
	Peer               netip.Addr
	HelloInterval      uint16
	DeadInterval       uint16
	RetransmitInterval uint16
	TransmitDelay      uint16
}

type Network struct {
	Prefix netip.Prefix
	Area   AreaID
	Format AreaIDFormat
}

type Neighbor struct {
	Address      netip.Addr
	Priority     uint8
	PollInterval uint16
}

type Area struct {
	instance    *Instance
	ID          AreaID
	Format      AreaIDFormat
	Type        AreaType
	NoSummary   bool
	DefaultCost uint32
	Auth        AuthType
	FullNbrs    int
	configured  bool
	ranges      *treemap.Map
	vlinks      map[netip.Addr]*VirtualLink
}

// Instance is one OSPF process, identified by instance id and VRF.
type Instance struct {
	router           *Router
	Instance         uint16
	VRF              string
	RouterIDStatic   netip.Addr
	Config           ConfigFlags
	RefBandwidth     uint32
	DefaultMetric    int64
	WriteMultiplier  uint32
	PassiveDefault   bool
	DefaultOriginate DefaultOriginateMode
	areas            *treemap.Map
	networks         *treemap.Map
	redist           map[RouteType]*Redistribution
	neighbors        map[netip.Addr]*Neighbor
}

func prefixComparator(a, b interface{}) int {
	return netipx.ComparePrefix(a.(netip.Prefix), b.(netip.Prefix))
}

func areaComparator(a, b interface{}) int {
	return utils.UInt32Comparator(uint32(a.(AreaID)), uint32(b.(AreaID)))
}

func newInstance(r *Router, instance uint16, vrf string) *Instance {
	return &Instance{
		router:          r,
		Instance:        instance,
		VRF:             vrf,
		RefBandwidth:    DefaultReferenceBandwidth,
		DefaultMetric:   DefaultMetricUnset,
		WriteMultiplier: DefaultWriteMultiplier,
		areas:           treemap.NewWith(areaComparator),
		networks:        treemap.NewWith(prefixComparator),
		redist:          make(map[RouteType]*Redistribution),
		neighbors:       make(map[netip.Addr]*Neighbor),
	}
}

func (o *Instance) engine() ProtocolEngine {
	return o.router.engine
}

func (o *Instance) IsSet(f ConfigFlags) bool {
	return o.Config&f != 0
}

func (o *Instance) SetFlag(f ConfigFlags, on bool) bool {
	was := o.IsSet(f)
	if on {
		o.Config |= f
	} else {
		o.Config &^= f
	}
	return was != on
}

func (o *Instance) AreaLookup(id AreaID) *Area {
	v, ok := o.areas.Get(id)
	if !ok {
		return nil
	}
	return v.(*Area)
}

func (o *Instance) AreaGet(id AreaID, format AreaIDFormat) *Area {
	if a := o.AreaLookup(id); a != nil {
		return a
	}
	a := &Area{
		instance:    o,
		ID:          id,
		Format:      format,
		DefaultCost: 1,
		ranges:      treemap.NewWith(prefixComparator),
		vlinks:      make(map[netip.Addr]*VirtualLink),
	}
	o.areas.Put(id, a)
	log.Debug().Str("area", id.String()).Uint16("instance", o.Instance).Msg("ospf: created area")
	return a
}

func (o *Instance) Areas() []*Area {
	values := o.areas.Values()
	areas := make([]*Area, 0, len(values))
	for _, v := range values {
		areas = append(areas, v.(*Area))
	}
	return areas
}

func (o *Instance) areaInUse(a *Area) bool {
	if a.configured || a.ranges.Size() > 0 || len(a.vlinks) > 0 {
		return true
	}
	for _, n := range o.Networks() {
		if n.Area == a.ID {
			return true
		}
	}
	for _, ifp := range o.router.InterfacesInVRF(o.VRF) {
		for _, area := range ifp.membership {
			if area == a.ID {
				return true
			}
		}
	}
	return false
}

// areaCheckFree drops an area nothing refers to any more.
func (o *Instance) areaCheckFree(a *Area) {
	if a == nil || o.areaInUse(a) {
		return
	}
	o.areas.Remove(a.ID)
	log.Debug().Str("area", a.ID.String()).Uint16("instance", o.Instance).Msg("ospf: freed area")
}

// AreaUnconfigure removes what the area subtree configured and frees the
// area when nothing else refers to it.
func (o *Instance) AreaUnconfigure(a *Area) {
	a.configured = false
	a.Type = AreaNormal
	a.NoSummary = false
	a.DefaultCost = 1
	a.Auth = AuthNone
	a.ranges.Clear()
	a.vlinks = make(map[netip.Addr]*VirtualLink)
	o.engine().ScheduleABRTask(o)
	o.areaCheckFree(a)
}

func (o *Instance) Networks() []*Network {
	values := o.networks.Values()
	networks := make([]*Network, 0, len(values))
	for _, v := range values {
		networks = append(networks, v.(*Network))
	}
	return networks
}

func (o *Instance) HasNetworks() bool {
	return o.networks.Size() > 0
}

func (o *Instance) NetworkLookup(p netip.Prefix) *Network {
	v, ok := o.networks.Get(p)
	if !ok {
		return nil
	}
	return v.(*Network)
}

// NetworkSet adds a network statement. It returns false if the prefix is
// already configured.
func (o *Instance) NetworkSet(p netip.Prefix, area AreaID, format AreaIDFormat) bool {
	if o.NetworkLookup(p) != nil {
		return false
	}
	o.networks.Put(p, &Network{Prefix: p, Area: area, Format: format})
	o.AreaGet(area, format)
	o.updateMembership()
	return true
}

// NetworkUnset removes a network statement. It returns false if no statement
// for prefix and area exists.
func (o *Instance) NetworkUnset(p netip.Prefix, area AreaID) bool {
	n := o.NetworkLookup(p)
	if n == nil || n.Area != area {
		return false
	}
	o.networks.Remove(p)
	o.updateMembership()
	o.areaCheckFree(o.AreaLookup(area))
	return true
}

// networkMatch returns the area of the longest network statement containing
// addr.
func (o *Instance) networkMatch(addr netip.Prefix) (AreaID, bool) {
	var best *Network
	for _, n := range o.Networks() {
		if n.Prefix.Bits() > addr.Bits() || !n.Prefix.Contains(addr.Addr()) {
			continue
		}
		if best == nil || n.Prefix.Bits() > best.Prefix.Bits() {
			best = n
		}
	}
	if best == nil {
		return 0, false
	}
	return best.Area, true
}

func (o *Instance) updateMembership() {
	for _, ifp := range o.router.InterfacesInVRF(o.VRF) {
		o.InterfaceAreaUpdate(ifp)
	}
}

// InterfaceAreaUpdate recomputes which areas the interface's addresses run
// in and tells the engine when that changed.
func (o *Instance) InterfaceAreaUpdate(ifp *Interface) {
	membership := make(map[netip.Prefix]AreaID)
	for _, addr := range ifp.Addrs {
		if area, ok := ifp.explicitArea(addr); ok {
			membership[addr] = area
		} else if area, ok := o.networkMatch(addr); ok {
			membership[addr] = area
		}
	}
	if len(ifp.Addrs) == 0 {
		if area, ok := ifp.explicitArea(netip.Prefix{}); ok {
			membership[netip.Prefix{}] = area
		}
	}
	changed := len(membership) != len(ifp.membership)
	for addr, area := range membership {
		if old, ok := ifp.membership[addr]; !ok || old != area {
			changed = true
		}
		o.AreaGet(area, AreaIDFormatAddress)
	}
	old := ifp.membership
	ifp.membership = membership
	if !changed {
		return
	}
	for _, area := range old {
		o.areaCheckFree(o.AreaLookup(area))
	}
	log.Debug().Str("interface", ifp.Name).Int("addresses", len(membership)).Msg("ospf: interface area membership changed")
	o.engine().InterfaceAreaChanged(ifp)
}

func (o *Instance) rangeArea(areaID AreaID) *Area {
	return o.AreaGet(areaID, AreaIDFormatAddress)
}

func (a *Area) RangeLookup(p netip.Prefix) *AreaRange {
	v, ok := a.ranges.Get(p)
	if !ok {
		return nil
	}
	return v.(*AreaRange)
}

func (a *Area) Ranges() []*AreaRange {
	values := a.ranges.Values()
	ranges := make([]*AreaRange, 0, len(values))
	for _, v := range values {
		ranges = append(ranges, v.(*AreaRange))
	}
	return ranges
}

// AreaRangeSet creates the range or updates its advertise flag. Cost and
// substitute of an existing range are kept.
func (o *Instance) AreaRangeSet(areaID AreaID, p netip.Prefix, advertise bool) *AreaRange {
	a := o.rangeArea(areaID)
	r := a.RangeLookup(p)
	if r == nil {
		r = &AreaRange{Prefix: p}
		a.ranges.Put(p, r)
	} else if r.Advertise == advertise {
		return r
	}
	r.Advertise = advertise
	o.engine().ScheduleABRTask(o)
	return r
}

func (o *Instance) AreaRangeUnset(areaID AreaID, p netip.Prefix) bool {
	a := o.AreaLookup(areaID)
	if a == nil || a.RangeLookup(p) == nil {
		return false
	}
	a.ranges.Remove(p)
	o.engine().ScheduleABRTask(o)
	o.areaCheckFree(a)
	return true
}

func (o *Instance) AreaRangeCostSet(areaID AreaID, p netip.Prefix, cost uint32) bool {
	a := o.AreaLookup(areaID)
	if a == nil {
		return false
	}
	r := a.RangeLookup(p)
	if r == nil {
		return false
	}
	if r.CostSet && r.Cost == cost {
		return true
	}
	r.Cost = cost
	r.CostSet = true
	o.engine().ScheduleABRTask(o)
	return true
}

func (o *Instance) AreaRangeSubstituteSet(areaID AreaID, p netip.Prefix, s netip.Prefix) bool {
	a := o.AreaLookup(areaID)
	if a == nil {
		return false
	}
	r := a.RangeLookup(p)
	if r == nil {
		return false
	}
	r.Substitute = s
	o.engine().ScheduleABRTask(o)
	return true
}

func (o *Instance) AreaRangeSubstituteUnset(areaID AreaID, p netip.Prefix) {
	a := o.AreaLookup(areaID)
	if a == nil {
		return
	}
	r := a.RangeLookup(p)
	if r == nil || !r.Substitute.IsValid() {
		return
	}
	r.Substitute = netip.Prefix{}
	o.engine().ScheduleABRTask(o)
}

func (a *Area) VirtualLinkSet(peer netip.Addr) *VirtualLink {
	if vl, ok := a.vlinks[peer]; ok {
		return vl
	}
	vl := &VirtualLink{
		Area:               a,
		Peer:               peer,
		HelloInterval:      10,
		DeadInterval:       40,
		RetransmitInterval: 5,
		TransmitDelay:      1,
	}
	a.vlinks[peer] = vl
	a.instance.engine().ScheduleABRTask(a.instance)
	return vl
}

func (a *Area) VirtualLinkUnset(peer netip.Addr) bool {
	if _, ok := a.vlinks[peer]; !ok {
		return false
	}
	delete(a.vlinks, peer)
	a.instance.engine().ScheduleABRTask(a.instance)
	a.instance.areaCheckFree(a)
	return true
}

func (a *Area) VirtualLinks() []*VirtualLink {
	vlinks := make([]*VirtualLink, 0, len(a.vlinks))
	for _, vl := range a.vlinks {
		vlinks = append(vlinks, vl)
	}
	sort.Slice(vlinks, func(i, j int) bool { return vlinks[i].Peer.Less(vlinks[j].Peer) })
	return vlinks
}

func (o *Instance) NeighborSet(addr netip.Addr) *Neighbor {
	if n, ok := o.neighbors[addr]; ok {
		return n
	}
	n := &Neighbor{Address: addr, PollInterval: 120}
	o.neighbors[addr] = n
	return n
}

func (o *Instance) NeighborUnset(addr netip.Addr) bool {
	if _, ok := o.neighbors[addr]; !ok {
		return false
	}
	delete(o.neighbors, addr)
	return true
}

func (o *Instance) Neighbor(addr netip.Addr) *Neighbor {
	return o.neighbors[addr]
}

func (o *Instance) RedistLookup(t RouteType) *Redistribution {
	return o.redist[t]
}

func (o *Instance) RedistAdd(t RouteType) *Redistribution {
	if red, ok := o.redist[t]; ok {
		return red
	}
	red := &Redistribution{Type: t, Metric: DefaultMetricUnset, MetricType: DefaultMetricType}
	o.redist[t] = red
	return red
}

func (o *Instance) RedistDel(t RouteType) bool {
	if _, ok := o.redist[t]; !ok {
		return false
	}
	delete(o.redist, t)
	return true
}

func (o *Instance) Redistributions() []*Redistribution {
	reds := make([]*Redistribution, 0, len(o.redist))
	for _, red := range o.redist {
		reds = append(reds, red)
	}
	sort.Slice(reds, func(i, j int) bool { return reds[i].Type < reds[j].Type })
	return reds
}

// ScheduleRedistUpdate asks for an ASBR update of every registered
// redistribution, e.g. after the default metric changed.
func (o *Instance) ScheduleRedistUpdate() {
	for _, red := range o.Redistributions() {
		o.engine().ScheduleASBRUpdate(o, red.Type)
	}
}

// RefreshInterfaceCosts recomputes the advertised cost of every interface
// in the instance's VRF.
func (o *Instance) RefreshInterfaceCosts() {
	for _, ifp := range o.router.InterfacesInVRF(o.VRF) {
		o.InterfaceCostUpdate(ifp)
	}
}

func (o *Instance) InterfaceCostUpdate(ifp *Interface) {
	cost := ifp.outputCost(o.RefBandwidth)
	if cost == ifp.Cost {
		return
	}
	ifp.Cost = cost
	o.engine().InterfaceCostChanged(ifp, cost)
}

// PassiveUpdate applies the process-wide passive default to interfaces
// without an explicit setting.
func (o *Instance) PassiveUpdate() {
	for _, ifp := range o.router.InterfacesInVRF(o.VRF) {
		o.InterfacePassiveUpdate(ifp)
	}
}

func (o *Instance) InterfacePassiveUpdate(ifp *Interface) {
	passive := o.PassiveDefault
	if ifp.Params.IsSet(IfParamPassive) {
		passive = ifp.Params.Passive
	}
	if passive == ifp.Passive {
		return
	}
	ifp.Passive = passive
	o.engine().PassiveChanged(ifp)
}

func (o *Instance) hasFullNeighbors() bool {
	for _, a := range o.Areas() {
		if a.FullNbrs > 0 {
			return true
		}
	}
	return false
}

type instanceKey struct {
	instance uint16
	vrf      string
}

// Router holds the runtime OSPF state the northbound callbacks mutate.
type Router struct {
	engine     ProtocolEngine
	instances  map[instanceKey]*Instance
	interfaces map[string]*Interface
}

func NewRouter(engine ProtocolEngine) *Router {
	return &Router{
		engine:     engine,
		instances:  make(map[instanceKey]*Instance),
		interfaces: make(map[string]*Interface),
	}
}

func (r *Router) LookupInstance(instance uint16, vrf string) *Instance {
	return r.instances[instanceKey{instance, vrf}]
}

// GetInstance returns the process for instance and vrf, creating it if
// necessary.
func (r *Router) GetInstance(instance uint16, vrf string) (*Instance, bool) {
	if o := r.LookupInstance(instance, vrf); o != nil {
		return o, false
	}
	o := newInstance(r, instance, vrf)
	r.instances[instanceKey{instance, vrf}] = o
	for _, ifp := range r.InterfacesInVRF(vrf) {
		ifp.membership = make(map[netip.Prefix]AreaID)
		o.InterfaceAreaUpdate(ifp)
	}
	o.RefreshInterfaceCosts()
	o.PassiveUpdate()
	return o, true
}

// InstanceByVRF returns the process running in vrf, if any.
func (r *Router) InstanceByVRF(vrf string) *Instance {
	var found *Instance
	for key, o := range r.instances {
		if key.vrf != vrf {
			continue
		}
		if found == nil || o.Instance < found.Instance {
			found = o
		}
	}
	return found
}

func (r *Router) Instances() []*Instance {
	instances := make([]*Instance, 0, len(r.instances))
	for _, o := range r.instances {
		instances = append(instances, o)
	}
	sort.Slice(instances, func(i, j int) bool {
		if instances[i].VRF != instances[j].VRF {
			return instances[i].VRF < instances[j].VRF
		}
		return instances[i].Instance < instances[j].Instance
	})
	return instances
}

// Finish tears down a process with everything it owns.
func (r *Router) Finish(o *Instance) {
	for _, red := range o.Redistributions() {
		o.RedistDel(red.Type)
	}
	o.DefaultOriginate = DefaultOriginateNone
	o.networks.Clear()
	o.areas.Clear()
	o.neighbors = make(map[netip.Addr]*Neighbor)
	for _, ifp := range r.InterfacesInVRF(o.VRF) {
		ifp.membership = make(map[netip.Prefix]AreaID)
	}
	delete(r.instances, instanceKey{o.Instance, o.VRF})
	log.Info().Uint16("instance", o.Instance).Str("vrf", o.VRF).Msg("ospf: instance finished")
	r.engine.InstanceFinished(o)
}
