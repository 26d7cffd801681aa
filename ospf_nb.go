package main

import (
	"github.com/pkg/errors"
)

const (
	ProtocolXPath  = "/frr-routing:routing/control-plane-protocols/control-plane-protocol"
	OSPFXPath      = ProtocolXPath + "/frr-ospfd:ospf"
	InterfaceXPath = "/frr-interface:lib/interface"
	IfOSPFXPath    = InterfaceXPath + "/frr-ospfd:ospf"
)

func inert() *PhaseFuncs {
	return &PhaseFuncs{}
}

// OSPFCallbacks returns the callback table of the OSPF configuration schema.
func OSPFCallbacks() map[string]Callbacks {
	table := map[string]Callbacks{
		OSPFXPath: {
			Create:  &PhaseFuncs{Apply: ospfCreate},
			Destroy: &PhaseFuncs{Apply: ospfDestroy},
		},
		OSPFXPath + "/explicit-router-id": {
			Modify:  &PhaseFuncs{Validate: validateRouterID, Apply: routerIDModify},
			Destroy: &PhaseFuncs{Apply: routerIDDestroy},
		},
		OSPFXPath + "/capability-opaque": {
			Modify:  &PhaseFuncs{Validate: validateBool, Apply: capabilityOpaqueModify},
			Destroy: &PhaseFuncs{Apply: capabilityOpaqueDestroy},
		},
		OSPFXPath + "/compatible-rfc1583": {
			Modify:  &PhaseFuncs{Validate: validateBool, Apply: rfc1583Modify},
			Destroy: &PhaseFuncs{Apply: rfc1583Destroy},
		},
		OSPFXPath + "/log-adjacency-changes": {
			Create:  &PhaseFuncs{Apply: logAdjacencyCreate},
			Destroy: &PhaseFuncs{Apply: logAdjacencyDestroy},
		},
		OSPFXPath + "/log-adjacency-changes/detail": {
			Modify:  &PhaseFuncs{Validate: validateBool, Apply: logAdjacencyDetailModify},
			Destroy: &PhaseFuncs{Apply: logAdjacencyDetailDestroy},
		},
		OSPFXPath + "/default-metric": {
			Modify:  &PhaseFuncs{Validate: validateRange(0, 16777214), Apply: defaultMetricModify},
			Destroy: &PhaseFuncs{Apply: defaultMetricDestroy},
		},
		OSPFXPath + "/write-multiplier": {
			Modify:  &PhaseFuncs{Validate: validateRange(1, 100), Apply: writeMultiplierModify},
			Destroy: &PhaseFuncs{Apply: writeMultiplierDestroy},
		},
		OSPFXPath + "/passive-interface-default": {
			Modify:  &PhaseFuncs{Validate: validateBool, Apply: passiveDefaultModify},
			Destroy: &PhaseFuncs{Apply: passiveDefaultDestroy},
		},
		OSPFXPath + "/auto-cost/reference-bandwidth": {
			Modify:  &PhaseFuncs{Validate: validateRange(1, 4294967), Apply: referenceBandwidthModify},
			Destroy: &PhaseFuncs{Apply: referenceBandwidthDestroy},
		},

		// Accepted without runtime effect.
		OSPFXPath + "/use-arp":               {Modify: inert()},
		OSPFXPath + "/send-extra-data-zebra": {Modify: inert()},
		OSPFXPath + "/abr-type":              {Modify: inert()},

		OSPFXPath + "/nbma-neighbors/neighbor": {
			Create:  &PhaseFuncs{Apply: neighborCreate},
			Destroy: &PhaseFuncs{Apply: neighborDestroy},
		},
		OSPFXPath + "/nbma-neighbors/neighbor/priority": {
			Modify: &PhaseFuncs{Validate: validateRange(0, 255), Apply: neighborPriorityModify},
		},
		OSPFXPath + "/nbma-neighbors/neighbor/poll-interval": {
			Modify: &PhaseFuncs{Validate: validateRange(1, 65535), Apply: neighborPollIntervalModify},
		},

		OSPFXPath + "/ip-networks/network": {
			Create:  &PhaseFuncs{Validate: validateNetworkCreate, Apply: networkCreate},
			Destroy: &PhaseFuncs{Validate: validateNetworkDestroy, Apply: networkDestroy},
		},
		OSPFXPath + "/ip-networks/network/area": {
			Modify: &PhaseFuncs{Validate: validateNetworkArea},
		},

		InterfaceXPath: {
			Create:  &PhaseFuncs{Apply: interfaceCreate},
			Destroy: &PhaseFuncs{Apply: interfaceDestroy},
		},
		InterfaceXPath + "/vrf": {Modify: inert()},
		IfOSPFXPath: {
			Create:  inert(),
			Destroy: &PhaseFuncs{Apply: interfaceOSPFDestroy},
		},
		IfOSPFXPath + "/area": {
			Modify:  &PhaseFuncs{Validate: validateInterfaceArea, Apply: interfaceAreaModify},
			Destroy: &PhaseFuncs{Apply: interfaceAreaDestroy},
		},
		IfOSPFXPath + "/interface-address": {
			Create:  &PhaseFuncs{Apply: interfaceAddressCreate},
			Destroy: &PhaseFuncs{Apply: interfaceAddressDestroy},
		},
		IfOSPFXPath + "/interface-address/area": {
			Modify:  &PhaseFuncs{Validate: validateInterfaceAddressArea, Apply: interfaceAddressAreaModify},
			Destroy: &PhaseFuncs{Apply: interfaceAddressAreaDestroy},
		},
	}

	for path, cbs := range areaCallbacks() {
		table[path] = cbs
	}
	for path, cbs := range redistributeCallbacks() {
		table[path] = cbs
	}
	for _, param := range interfaceParams {
		table[IfOSPFXPath+"/"+param.leaf] = param.callbacks(false)
		table[IfOSPFXPath+"/interface-address/"+param.leaf] = param.callbacks(true)
	}
	return table
}

func instanceOf(args *Args) (*Instance, error) {
	return GetEntry[*Instance](args.Entries, args.Node, true)
}

func areaIDAt(n *Node, path string) (AreaID, AreaIDFormat, error) {
	s, err := n.String(path)
	if err != nil {
		return 0, 0, err
	}
	return ParseAreaID(s)
}

func validateBool(args *Args) error {
	_, err := args.Node.Bool(".")
	return err
}

func validateRange(min uint64, max uint64) HandlerFunc {
	return func(args *Args) error {
		v, err := args.Node.Uint32(".")
		if err != nil {
			return err
		}
		if uint64(v) < min || uint64(v) > max {
			return validationErrorf("%s: value %d out of range %d-%d", args.Node.Name(), v, min, max)
		}
		return nil
	}
}

func validateAreaID(args *Args) error {
	_, _, err := areaIDAt(args.Node, ".")
	if err != nil {
		return validationErrorf("%v", err)
	}
	return nil
}

// errUnbound reports a create callback that never ran for a node.
func errUnbound(args *Args) error {
	return errors.Wrap(ErrEntryMissing, args.Node.XPath())
}
