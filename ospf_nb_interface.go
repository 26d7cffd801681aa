package main

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ancestor returns the closest list entry called name at or above n.
func ancestor(n *Node, name string) *Node {
	for p := n; p != nil; p = p.Parent() {
		if p.Name() == name && p.IsListEntry() {
			return p
		}
	}
	return nil
}

func interfaceCreate(args *Args) error {
	name, err := args.Node.String("./name")
	if err != nil {
		return err
	}
	vrf, err := args.Node.StringOr("./vrf", "default")
	if err != nil {
		return err
	}
	ifp := args.Router.GetInterface(name, vrf)
	return args.Entries.Bind(args.Node, ifp)
}

func resetInterfaceParams(r *Router, ifp *Interface) {
	ifp.Params = &IfParams{}
	ifp.addrParams = make(map[netip.Addr]*IfParams)
	r.interfaceChanged(ifp)
}

func interfaceDestroy(args *Args) error {
	ifp, ok := args.Entries.UnbindSubtree(args.Node).(*Interface)
	if !ok {
		return errUnbound(args)
	}
	resetInterfaceParams(args.Router, ifp)
	return nil
}

func interfaceOSPFDestroy(args *Args) error {
	ifp, err := GetEntry[*Interface](args.Entries, args.Node, true)
	if err != nil {
		return err
	}
	log.Debug().Str("interface", ifp.Name).Msg("ospf: removing interface configuration")
	resetInterfaceParams(args.Router, ifp)
	return nil
}

// validateAreaBinding checks the rules shared by interface and address area
// assignment and returns the interface, which is nil before it is created.
func validateAreaBinding(args *Args, area AreaID) (*Interface, error) {
	ifNode := ancestor(args.Node, "interface")
	if ifNode == nil {
		return nil, errUnbound(args)
	}
	name, err := ifNode.String("./name")
	if err != nil {
		return nil, err
	}
	vrf, err := ifNode.StringOr("./vrf", "default")
	if err != nil {
		return nil, err
	}
	ifp, err := GetEntry[*Interface](args.Entries, args.Node, false)
	if err != nil {
		return nil, err
	}
	if ifp == nil {
		ifp = args.Router.LookupInterface(name)
	}

	if strings.HasPrefix(name, VirtualLinkPrefix) {
		return nil, validationErrorf("Cannot enable OSPF on a virtual link.")
	}
	networks, err := candidateHasNetworks(args, vrf)
	if err != nil {
		return nil, err
	}
	if networks {
		return nil, validationErrorf("Please remove all network commands first.")
	}
	if ifp != nil && ifp.Params.IsSet(IfParamArea) && ifp.Params.Area != area {
		return nil, validationErrorf("Must remove previous area config before changing ospf area.")
	}
	return ifp, nil
}

// candidateHasNetworks reports whether the served process of vrf keeps any
// network statement once the transaction is applied.
func candidateHasNetworks(args *Args, vrf string) (bool, error) {
	if args.Candidate == nil {
		o := args.Router.InstanceByVRF(vrf)
		return o != nil && o.HasNetworks(), nil
	}
	networks, err := args.Candidate.Find(OSPFXPath + "/ip-networks/network")
	if err != nil {
		return false, err
	}
	for _, n := range networks {
		p := ancestor(n, protocolListName)
		if p == nil {
			continue
		}
		name, err := p.String("./name")
		if err != nil {
			return false, err
		}
		instance, err := strconv.ParseUint(name, 10, 16)
		if err != nil || uint16(instance) != args.Context.Instance {
			continue
		}
		if pvrf, _ := p.StringOr("./vrf", "default"); pvrf == vrf {
			return true, nil
		}
	}
	return false, nil
}

func validateInterfaceArea(args *Args) error {
	if err := validateAreaID(args); err != nil {
		return err
	}
	area, _, err := areaIDAt(args.Node, ".")
	if err != nil {
		return err
	}
	_, err = validateAreaBinding(args, area)
	return err
}

func interfaceAreaModify(args *Args) error {
	ifp, err := GetEntry[*Interface](args.Entries, args.Node, true)
	if err != nil {
		return err
	}
	area, format, err := areaIDAt(args.Node, ".")
	if err != nil {
		return err
	}
	ifp.Params.Set(IfParamArea)
	ifp.Params.Area = area
	ifp.Params.AreaFormat = format
	args.Router.interfaceChanged(ifp)
	return nil
}

func interfaceAreaDestroy(args *Args) error {
	ifp, err := GetEntry[*Interface](args.Entries, args.Node, true)
	if err != nil {
		return err
	}
	if !ifp.Params.IsSet(IfParamArea) {
		return nil
	}
	ifp.Params.Unset(IfParamArea)
	args.Router.interfaceChanged(ifp)
	return nil
}

func addressOf(n *Node) (netip.Addr, error) {
	entry := ancestor(n, "interface-address")
	if entry == nil {
		return netip.Addr{}, errUnbound(&Args{Node: n})
	}
	return entry.IPv4("./address")
}

func interfaceAddressCreate(args *Args) error {
	ifp, err := GetEntry[*Interface](args.Entries, args.Node, true)
	if err != nil {
		return err
	}
	addr, err := addressOf(args.Node)
	if err != nil {
		return err
	}
	ifp.AddrParamsGet(addr)
	return nil
}

func interfaceAddressDestroy(args *Args) error {
	ifp, err := GetEntry[*Interface](args.Entries, args.Node, true)
	if err != nil {
		return err
	}
	addr, err := addressOf(args.Node)
	if err != nil {
		return err
	}
	if ifp.AddrParamsDelete(addr) {
		args.Router.interfaceChanged(ifp)
	}
	return nil
}

func validateInterfaceAddressArea(args *Args) error {
	if err := validateAreaID(args); err != nil {
		return err
	}
	area, _, err := areaIDAt(args.Node, ".")
	if err != nil {
		return err
	}
	ifp, err := validateAreaBinding(args, area)
	if err != nil || ifp == nil {
		return err
	}
	addr, err := addressOf(args.Node)
	if err != nil {
		return validationErrorf("%v", err)
	}
	if p := ifp.AddrParams(addr); p.IsSet(IfParamArea) && p.Area != area {
		return validationErrorf("Must remove previous area/address config before changing ospf area.")
	}
	return nil
}

func interfaceAddressAreaModify(args *Args) error {
	ifp, err := GetEntry[*Interface](args.Entries, args.Node, true)
	if err != nil {
		return err
	}
	addr, err := addressOf(args.Node)
	if err != nil {
		return err
	}
	area, format, err := areaIDAt(args.Node, ".")
	if err != nil {
		return err
	}
	p := ifp.AddrParamsGet(addr)
	if p.IsSet(IfParamArea) && p.Area == area {
		return nil
	}
	p.Set(IfParamArea)
	p.Area = area
	p.AreaFormat = format
	args.Router.interfaceChanged(ifp)
	return nil
}

func interfaceAddressAreaDestroy(args *Args) error {
	ifp, err := GetEntry[*Interface](args.Entries, args.Node, true)
	if err != nil {
		return err
	}
	addr, err := addressOf(args.Node)
	if err != nil {
		return err
	}
	p := ifp.AddrParams(addr)
	if !p.IsSet(IfParamArea) {
		return nil
	}
	p.Unset(IfParamArea)
	args.Router.interfaceChanged(ifp)
	return nil
}

// interfaceParam describes a parameter leaf that exists both per interface
// and per interface address.
type interfaceParam struct {
	leaf     string
	flag     IfParamFlags
	validate HandlerFunc
	set      func(p *IfParams, n *Node) error
}

var interfaceParams = []interfaceParam{
	{leaf: "cost", flag: IfParamCost, validate: validateRange(1, 65535), set: func(p *IfParams, n *Node) (err error) {
		p.Cost, err = n.Uint16(".")
		return err
	}},
	{leaf: "passive", flag: IfParamPassive, validate: validateBool, set: func(p *IfParams, n *Node) (err error) {
		p.Passive, err = n.Bool(".")
		return err
	}},
	{leaf: "priority", flag: IfParamPriority, validate: validateRange(0, 255), set: func(p *IfParams, n *Node) (err error) {
		p.Priority, err = n.Uint8(".")
		return err
	}},
	{leaf: "hello-interval", flag: IfParamHello, validate: validateRange(1, 65535), set: func(p *IfParams, n *Node) (err error) {
		p.HelloInterval, err = n.Uint16(".")
		return err
	}},
	{leaf: "dead-interval/interval", flag: IfParamDead, validate: validateRange(1, 65535), set: func(p *IfParams, n *Node) (err error) {
		p.DeadInterval, err = n.Uint32(".")
		return err
	}},
	{leaf: "retransmit-interval", flag: IfParamRetransmit, validate: validateRange(1, 65535), set: func(p *IfParams, n *Node) (err error) {
		p.RetransmitInterval, err = n.Uint16(".")
		return err
	}},
	{leaf: "transmit-delay", flag: IfParamTransmitDelay, validate: validateRange(1, 65535), set: func(p *IfParams, n *Node) (err error) {
		p.TransmitDelay, err = n.Uint16(".")
		return err
	}},
	{leaf: "mtu-ignore", flag: IfParamMTUIgnore, validate: validateBool, set: func(p *IfParams, n *Node) (err error) {
		p.MTUIgnore, err = n.Bool(".")
		return err
	}},
}

func (ip interfaceParam) params(args *Args, address bool, create bool) (*Interface, *IfParams, error) {
	ifp, err := GetEntry[*Interface](args.Entries, args.Node, true)
	if err != nil {
		return nil, nil, err
	}
	if !address {
		return ifp, ifp.Params, nil
	}
	addr, err := addressOf(args.Node)
	if err != nil {
		return nil, nil, err
	}
	if create {
		return ifp, ifp.AddrParamsGet(addr), nil
	}
	return ifp, ifp.AddrParams(addr), nil
}

func (ip interfaceParam) callbacks(address bool) Callbacks {
	return Callbacks{
		Modify: &PhaseFuncs{
			Validate: ip.validate,
			Apply: func(args *Args) error {
				ifp, p, err := ip.params(args, address, true)
				if err != nil {
					return err
				}
				if err := ip.set(p, args.Node); err != nil {
					return err
				}
				p.Set(ip.flag)
				args.Router.interfaceChanged(ifp)
				return nil
			},
		},
		Destroy: &PhaseFuncs{
			Apply: func(args *Args) error {
				ifp, p, err := ip.params(args, address, false)
				if err != nil {
					return err
				}
				if !p.IsSet(ip.flag) {
					return nil
				}
				p.Unset(ip.flag)
				args.Router.interfaceChanged(ifp)
				return nil
			},
		},
	}
}
