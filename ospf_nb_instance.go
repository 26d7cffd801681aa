package main

import (
	"net/netip"
	"strconv"

	"github.com/rs/zerolog/log"
)

func ospfCreate(args *Args) error {
	vrf, err := args.Node.StringOr("../vrf", "default")
	if err != nil {
		return err
	}
	name, err := args.Node.String("../name")
	if err != nil {
		return err
	}
	instance, err := strconv.ParseUint(name, 10, 16)
	if err != nil {
		return genericErrorf("invalid ospf instance %q", name)
	}

	o, created := args.Router.GetInstance(uint16(instance), vrf)
	log.Debug().Uint16("instance", o.Instance).Str("vrf", o.VRF).Bool("created", created).Msg("ospf: router ospf configured")
	return args.Entries.Bind(args.Node, o)
}

func ospfDestroy(args *Args) error {
	o, ok := args.Entries.UnbindSubtree(args.Node).(*Instance)
	if !ok {
		return errUnbound(args)
	}
	args.Router.Finish(o)
	return nil
}

func validateRouterID(args *Args) error {
	if _, err := args.Node.IPv4("."); err != nil {
		return validationErrorf("%v", err)
	}
	return nil
}

func setRouterID(o *Instance, id netip.Addr) {
	o.RouterIDStatic = id
	if o.hasFullNeighbors() {
		log.Warn().Uint16("instance", o.Instance).Msg("ospf: router id change takes effect after clearing the ospf process")
		return
	}
	o.engine().RouterIDUpdate(o)
}

func routerIDModify(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	id, err := args.Node.IPv4(".")
	if err != nil {
		return err
	}
	setRouterID(o, id)
	return nil
}

func routerIDDestroy(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	setRouterID(o, netip.Addr{})
	return nil
}

func setOpaque(o *Instance, on bool) {
	if o.SetFlag(FlagOpaqueCapable, on) {
		o.engine().RenegotiateCapabilities(o, on)
	}
}

func capabilityOpaqueModify(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	on, err := args.Node.Bool(".")
	if err != nil {
		return err
	}
	setOpaque(o, on)
	return nil
}

func capabilityOpaqueDestroy(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	setOpaque(o, false)
	return nil
}

func setRFC1583(o *Instance, on bool) {
	if o.SetFlag(FlagRFC1583Compatible, on) {
		o.engine().ScheduleSPF(o, SPFConfigChange)
	}
}

func rfc1583Modify(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	on, err := args.Node.Bool(".")
	if err != nil {
		return err
	}
	setRFC1583(o, on)
	return nil
}

func rfc1583Destroy(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	setRFC1583(o, false)
	return nil
}

func logAdjacencyCreate(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	o.SetFlag(FlagLogAdjacencyChanges, true)
	return nil
}

func logAdjacencyDestroy(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	o.SetFlag(FlagLogAdjacencyChanges, false)
	o.SetFlag(FlagLogAdjacencyDetail, false)
	return nil
}

func logAdjacencyDetailModify(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	on, err := args.Node.Bool(".")
	if err != nil {
		return err
	}
	o.SetFlag(FlagLogAdjacencyDetail, on)
	return nil
}

func logAdjacencyDetailDestroy(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	o.SetFlag(FlagLogAdjacencyDetail, false)
	return nil
}

func setDefaultMetric(o *Instance, metric int64) {
	if o.DefaultMetric == metric {
		return
	}
	o.DefaultMetric = metric
	o.ScheduleRedistUpdate()
}

func defaultMetricModify(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	metric, err := args.Node.Uint32(".")
	if err != nil {
		return err
	}
	setDefaultMetric(o, int64(metric))
	return nil
}

func defaultMetricDestroy(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	setDefaultMetric(o, DefaultMetricUnset)
	return nil
}

func writeMultiplierModify(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	v, err := args.Node.Uint32(".")
	if err != nil {
		return err
	}
	o.WriteMultiplier = v
	return nil
}

func writeMultiplierDestroy(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	o.WriteMultiplier = DefaultWriteMultiplier
	return nil
}

func passiveDefaultModify(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	on, err := args.Node.Bool(".")
	if err != nil {
		return err
	}
	o.PassiveDefault = on
	o.PassiveUpdate()
	return nil
}

func passiveDefaultDestroy(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	o.PassiveDefault = false
	o.PassiveUpdate()
	return nil
}

func setReferenceBandwidth(o *Instance, refbw uint32) error {
	if o.RefBandwidth == refbw {
		return noChanges("reference bandwidth is already %d", refbw)
	}
	log.Info().Uint16("instance", o.Instance).Uint32("old", o.RefBandwidth).Uint32("new", refbw).Msg("ospf: reference bandwidth changed")
	o.RefBandwidth = refbw
	o.RefreshInterfaceCosts()
	return nil
}

func referenceBandwidthModify(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	refbw, err := args.Node.Uint32(".")
	if err != nil {
		return err
	}
	return setReferenceBandwidth(o, refbw)
}

func referenceBandwidthDestroy(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	return setReferenceBandwidth(o, DefaultReferenceBandwidth)
}

func neighborCreate(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	addr, err := args.Node.IPv4("./address")
	if err != nil {
		return err
	}
	return args.Entries.Bind(args.Node, o.NeighborSet(addr))
}

func neighborDestroy(args *Args) error {
	n, ok := args.Entries.Unbind(args.Node).(*Neighbor)
	if !ok {
		return errUnbound(args)
	}
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	if !o.NeighborUnset(n.Address) {
		return notFoundErrorf("no neighbor %s configured", n.Address)
	}
	return nil
}

func neighborPriorityModify(args *Args) error {
	n, err := GetEntry[*Neighbor](args.Entries, args.Node, true)
	if err != nil {
		return err
	}
	priority, err := args.Node.Uint8(".")
	if err != nil {
		return err
	}
	n.Priority = priority
	return nil
}

func neighborPollIntervalModify(args *Args) error {
	n, err := GetEntry[*Neighbor](args.Entries, args.Node, true)
	if err != nil {
		return err
	}
	interval, err := args.Node.Uint16(".")
	if err != nil {
		return err
	}
	n.PollInterval = interval
	return nil
}

// networkModeAllowed rejects network statements in multi-instance mode.
func networkModeAllowed(args *Args) error {
	name, err := args.Node.StringOr("../../../name", "0")
	if err != nil {
		return err
	}
	id, err := args.Node.StringOr("../../explicit-router-id", "0.0.0.0")
	if err != nil {
		return err
	}
	if name != "0" || (id != "0.0.0.0" && id != "0") {
		return validationErrorf("The network command is not supported in multi-instance ospf")
	}
	return nil
}

func validateNetworkCreate(args *Args) error {
	if err := networkModeAllowed(args); err != nil {
		return err
	}
	if _, err := args.Node.IPv4Prefix("./prefix"); err != nil {
		return validationErrorf("%v", err)
	}
	if !args.Node.Exists("./area") {
		return validationErrorf("network %s has no area", args.Node.Keys()[0].Value)
	}
	if args.Node.Exists(IfOSPFXPath+"/area") || args.Node.Exists(IfOSPFXPath+"/interface-address/area") {
		return validationErrorf("Please remove all ip ospf area x.x.x.x commands first.")
	}
	return nil
}

func validateNetworkDestroy(args *Args) error {
	return networkModeAllowed(args)
}

func networkCreate(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	prefix, err := args.Node.IPv4Prefix("./prefix")
	if err != nil {
		return err
	}
	area, format, err := areaIDAt(args.Node, "./area")
	if err != nil {
		return err
	}
	if !o.NetworkSet(prefix, area, format) {
		return genericErrorf("There is already same network statement.")
	}
	return args.Entries.Bind(args.Node, o.NetworkLookup(prefix))
}

func networkDestroy(args *Args) error {
	args.Entries.Unbind(args.Node)
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	prefix, err := args.Node.IPv4Prefix("./prefix")
	if err != nil {
		return err
	}
	area, _, err := areaIDAt(args.Node, "./area")
	if err != nil {
		return err
	}
	if !o.NetworkUnset(prefix, area) {
		return notFoundErrorf("Can't find specific network area configuration to delete.")
	}
	return nil
}

func validateNetworkArea(args *Args) error {
	area, _, err := areaIDAt(args.Node, ".")
	if err != nil {
		return validationErrorf("%v", err)
	}
	o, err := GetEntry[*Instance](args.Entries, args.Node, false)
	if err != nil || o == nil {
		return err
	}
	prefix, err := args.Node.IPv4Prefix("../prefix")
	if err != nil {
		return err
	}
	if n := o.NetworkLookup(prefix); n != nil && n.Area != area {
		return validationErrorf("Directly changing network area is not supported")
	}
	return nil
}
