package main

import (
	"github.com/rs/zerolog/log"
)

const AreasXPath = OSPFXPath + "/areas/area"

func areaCallbacks() map[string]Callbacks {
	return map[string]Callbacks{
		AreasXPath: {
			Create:  &PhaseFuncs{Validate: validateAreaKey, Apply: areaCreate},
			Destroy: &PhaseFuncs{Apply: areaDestroy},
		},
		AreasXPath + "/area-type": {
			Modify:  &PhaseFuncs{Validate: validateAreaType, Apply: areaTypeModify},
			Destroy: &PhaseFuncs{Apply: areaTypeDestroy},
		},
		AreasXPath + "/summary": {
			Modify:  &PhaseFuncs{Validate: validateBool, Apply: areaSummaryModify},
			Destroy: &PhaseFuncs{Apply: areaSummaryDestroy},
		},
		AreasXPath + "/default-cost": {
			Modify:  &PhaseFuncs{Validate: validateRange(0, 16777215), Apply: areaDefaultCostModify},
			Destroy: &PhaseFuncs{Apply: areaDefaultCostDestroy},
		},
		AreasXPath + "/authentication": {
			Create:  inert(),
			Destroy: &PhaseFuncs{Apply: areaAuthenticationDestroy},
		},
		AreasXPath + "/authentication/type": {
			Modify: &PhaseFuncs{Validate: validateAuthType, Apply: areaAuthenticationTypeModify},
		},
		AreasXPath + "/ranges/range": {
			Create:  &PhaseFuncs{Validate: validateRangePrefix, Apply: rangeCreate},
			Destroy: &PhaseFuncs{Apply: rangeDestroy},
		},
		AreasXPath + "/ranges/range/advertise": {
			Modify: &PhaseFuncs{Validate: validateBool, Apply: rangeAdvertiseModify},
		},
		AreasXPath + "/ranges/range/cost": {
			Modify: &PhaseFuncs{Validate: validateRange(0, 16777215), Apply: rangeCostModify},
			// The cost goes away with its range only.
			Destroy: inert(),
		},
		AreasXPath + "/ranges/range/substitute": {
			Modify:  &PhaseFuncs{Validate: validateSubstitute, Apply: rangeSubstituteModify},
			Destroy: &PhaseFuncs{Apply: rangeSubstituteDestroy},
		},
		AreasXPath + "/virtual-links/virtual-link": {
			Create:  &PhaseFuncs{Validate: validateVirtualLink, Apply: virtualLinkCreate},
			Destroy: &PhaseFuncs{Apply: virtualLinkDestroy},
		},
		AreasXPath + "/virtual-links/virtual-link/hello-interval": {
			Modify: &PhaseFuncs{Validate: validateRange(1, 65535), Apply: virtualLinkTimer(func(vl *VirtualLink, v uint16) { vl.HelloInterval = v })},
		},
		AreasXPath + "/virtual-links/virtual-link/dead-interval": {
			Modify: &PhaseFuncs{Validate: validateRange(1, 65535), Apply: virtualLinkTimer(func(vl *VirtualLink, v uint16) { vl.DeadInterval = v })},
		},
		AreasXPath + "/virtual-links/virtual-link/retransmit-interval": {
			Modify: &PhaseFuncs{Validate: validateRange(1, 65535), Apply: virtualLinkTimer(func(vl *VirtualLink, v uint16) { vl.RetransmitInterval = v })},
		},
		AreasXPath + "/virtual-links/virtual-link/transmit-delay": {
			Modify: &PhaseFuncs{Validate: validateRange(1, 65535), Apply: virtualLinkTimer(func(vl *VirtualLink, v uint16) { vl.TransmitDelay = v })},
		},
	}
}

func areaOf(args *Args) (*Area, error) {
	return GetEntry[*Area](args.Entries, args.Node, true)
}

func validateAreaKey(args *Args) error {
	if _, _, err := areaIDAt(args.Node, "./area-id"); err != nil {
		return validationErrorf("%v", err)
	}
	return nil
}

func areaCreate(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	id, format, err := areaIDAt(args.Node, "./area-id")
	if err != nil {
		return err
	}
	a := o.AreaGet(id, format)
	a.Format = format
	a.configured = true
	return args.Entries.Bind(args.Node, a)
}

func areaDestroy(args *Args) error {
	a, ok := args.Entries.UnbindSubtree(args.Node).(*Area)
	if !ok {
		return errUnbound(args)
	}
	a.instance.AreaUnconfigure(a)
	return nil
}

func validateAreaType(args *Args) error {
	t, err := args.Node.Enum(".")
	if err != nil {
		return err
	}
	areaType, err := parseAreaType(t)
	if err != nil {
		return validationErrorf("%v", err)
	}
	id, _, err := areaIDAt(args.Node, "../area-id")
	if err != nil {
		return err
	}
	if id == BackboneArea && areaType != AreaNormal {
		return validationErrorf("You can't configure %s to backbone.", t)
	}
	return nil
}

func setAreaType(a *Area, t AreaType) {
	if a.Type == t {
		return
	}
	a.Type = t
	if t == AreaNormal {
		a.NoSummary = false
	}
	log.Debug().Str("area", a.ID.String()).Int("type", int(t)).Msg("ospf: area type changed")
	a.instance.engine().ScheduleSPF(a.instance, SPFAreaChange)
}

func areaTypeModify(args *Args) error {
	a, err := areaOf(args)
	if err != nil {
		return err
	}
	t, err := args.Node.Enum(".")
	if err != nil {
		return err
	}
	areaType, err := parseAreaType(t)
	if err != nil {
		return err
	}
	setAreaType(a, areaType)
	return nil
}

func areaTypeDestroy(args *Args) error {
	a, err := areaOf(args)
	if err != nil {
		return err
	}
	setAreaType(a, AreaNormal)
	return nil
}

func setAreaSummary(a *Area, summary bool) {
	if a.NoSummary == !summary {
		return
	}
	a.NoSummary = !summary
	a.instance.engine().ScheduleABRTask(a.instance)
}

func areaSummaryModify(args *Args) error {
	a, err := areaOf(args)
	if err != nil {
		return err
	}
	summary, err := args.Node.Bool(".")
	if err != nil {
		return err
	}
	setAreaSummary(a, summary)
	return nil
}

func areaSummaryDestroy(args *Args) error {
	a, err := areaOf(args)
	if err != nil {
		return err
	}
	setAreaSummary(a, true)
	return nil
}

func setAreaDefaultCost(a *Area, cost uint32) {
	if a.DefaultCost == cost {
		return
	}
	a.DefaultCost = cost
	a.instance.engine().ScheduleABRTask(a.instance)
}

func areaDefaultCostModify(args *Args) error {
	a, err := areaOf(args)
	if err != nil {
		return err
	}
	cost, err := args.Node.Uint32(".")
	if err != nil {
		return err
	}
	setAreaDefaultCost(a, cost)
	return nil
}

func areaDefaultCostDestroy(args *Args) error {
	a, err := areaOf(args)
	if err != nil {
		return err
	}
	setAreaDefaultCost(a, 1)
	return nil
}

func validateAuthType(args *Args) error {
	t, err := args.Node.Enum(".")
	if err != nil {
		return err
	}
	if _, err := parseAuthType(t); err != nil {
		return validationErrorf("%v", err)
	}
	return nil
}

func areaAuthenticationTypeModify(args *Args) error {
	a, err := areaOf(args)
	if err != nil {
		return err
	}
	t, err := args.Node.Enum(".")
	if err != nil {
		return err
	}
	auth, err := parseAuthType(t)
	if err != nil {
		return err
	}
	a.Auth = auth
	return nil
}

func areaAuthenticationDestroy(args *Args) error {
	a, err := areaOf(args)
	if err != nil {
		return err
	}
	a.Auth = AuthNone
	return nil
}

func validateRangePrefix(args *Args) error {
	if _, err := args.Node.IPv4Prefix("./prefix"); err != nil {
		return validationErrorf("%v", err)
	}
	return nil
}

// rangeKey reads the area and prefix a node below a range refers to.
func rangeKey(n *Node, rangePath string) (AreaID, *Node, error) {
	nodes, err := n.Find(rangePath)
	if err != nil {
		return 0, nil, err
	}
	if len(nodes) == 0 {
		return 0, nil, errUnbound(&Args{Node: n})
	}
	r := nodes[0]
	id, _, err := areaIDAt(r, "../../area-id")
	if err != nil {
		return 0, nil, err
	}
	return id, r, nil
}

// rangeCreate creates the range with its final advertise state, so the cost
// and substitute leaves find it whatever order they arrive in.
func rangeCreate(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	id, r, err := rangeKey(args.Node, ".")
	if err != nil {
		return err
	}
	prefix, err := r.IPv4Prefix("./prefix")
	if err != nil {
		return err
	}
	advertise, err := r.BoolOr("./advertise", true)
	if err != nil {
		return err
	}
	o.AreaRangeSet(id, prefix, advertise)
	return nil
}

func rangeDestroy(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	id, r, err := rangeKey(args.Node, ".")
	if err != nil {
		return err
	}
	prefix, err := r.IPv4Prefix("./prefix")
	if err != nil {
		return err
	}
	o.AreaRangeUnset(id, prefix)
	return nil
}

func rangeAdvertiseModify(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	id, r, err := rangeKey(args.Node, "..")
	if err != nil {
		return err
	}
	prefix, err := r.IPv4Prefix("./prefix")
	if err != nil {
		return err
	}
	advertise, err := args.Node.Bool(".")
	if err != nil {
		return err
	}
	o.AreaRangeSet(id, prefix, advertise)
	if !advertise {
		o.AreaRangeSubstituteUnset(id, prefix)
	}
	return nil
}

func rangeCostModify(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	id, r, err := rangeKey(args.Node, "..")
	if err != nil {
		return err
	}
	prefix, err := r.IPv4Prefix("./prefix")
	if err != nil {
		return err
	}
	cost, err := args.Node.Uint32(".")
	if err != nil {
		return err
	}
	if !o.AreaRangeCostSet(id, prefix, cost) {
		return notFoundErrorf("no range %s in area %s", prefix, id)
	}
	return nil
}

func validateSubstitute(args *Args) error {
	if _, err := args.Node.IPv4Prefix("."); err != nil {
		return validationErrorf("%v", err)
	}
	return nil
}

func rangeSubstituteModify(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	id, r, err := rangeKey(args.Node, "..")
	if err != nil {
		return err
	}
	prefix, err := r.IPv4Prefix("./prefix")
	if err != nil {
		return err
	}
	substitute, err := args.Node.IPv4Prefix(".")
	if err != nil {
		return err
	}
	// A range that is not advertised has no substitute.
	advertise, err := r.BoolOr("./advertise", true)
	if err != nil {
		return err
	}
	if !advertise {
		o.AreaRangeSubstituteUnset(id, prefix)
		return nil
	}
	if !o.AreaRangeSubstituteSet(id, prefix, substitute) {
		return notFoundErrorf("no range %s in area %s", prefix, id)
	}
	return nil
}

func rangeSubstituteDestroy(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	id, r, err := rangeKey(args.Node, "..")
	if err != nil {
		return err
	}
	prefix, err := r.IPv4Prefix("./prefix")
	if err != nil {
		return err
	}
	o.AreaRangeSubstituteUnset(id, prefix)
	return nil
}

func validateVirtualLink(args *Args) error {
	id, _, err := areaIDAt(args.Node, "../../area-id")
	if err != nil {
		return err
	}
	if id == BackboneArea {
		return validationErrorf("Configuring VLs over the backbone is not allowed")
	}
	if _, err := args.Node.IPv4("./neighbor"); err != nil {
		return validationErrorf("%v", err)
	}
	return nil
}

func virtualLinkCreate(args *Args) error {
	a, err := areaOf(args)
	if err != nil {
		return err
	}
	peer, err := args.Node.IPv4("./neighbor")
	if err != nil {
		return err
	}
	return args.Entries.Bind(args.Node, a.VirtualLinkSet(peer))
}

func virtualLinkDestroy(args *Args) error {
	vl, ok := args.Entries.Unbind(args.Node).(*VirtualLink)
	if !ok {
		return errUnbound(args)
	}
	if !vl.Area.VirtualLinkUnset(vl.Peer) {
		return notFoundErrorf("no virtual link to %s in area %s", vl.Peer, vl.Area.ID)
	}
	return nil
}

func virtualLinkTimer(set func(vl *VirtualLink, v uint16)) HandlerFunc {
	return func(args *Args) error {
		vl, err := GetEntry[*VirtualLink](args.Entries, args.Node, true)
		if err != nil {
			return err
		}
		v, err := args.Node.Uint16(".")
		if err != nil {
			return err
		}
		set(vl, v)
		return nil
	}
}
