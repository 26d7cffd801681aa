package main

import (
	"github.com/rs/zerolog/log"
)

const (
	DefaultInformationXPath = OSPFXPath + "/default-information"
	RedistributeXPath       = OSPFXPath + "/redistribute/routes"
)

func redistributeCallbacks() map[string]Callbacks {
	table := map[string]Callbacks{
		DefaultInformationXPath: {
			Create:      inert(),
			Destroy:     inert(),
			ApplyFinish: defaultInformationApplyFinish,
		},
		RedistributeXPath: {
			Create:      &PhaseFuncs{Validate: validateRedistProtocol, Apply: redistributeCreate},
			Destroy:     &PhaseFuncs{Apply: redistributeDestroy},
			ApplyFinish: redistributeApplyFinish,
		},
	}

	// Leaves of both subtrees take effect in their apply-finish callback.
	leaves := map[string]HandlerFunc{
		"originate":   validateBool,
		"always":      validateBool,
		"metric":      validateRange(0, 16777214),
		"metric-type": validateMetricType,
		"route-map":   nil,
	}
	for leaf, validate := range leaves {
		table[DefaultInformationXPath+"/"+leaf] = Callbacks{
			Modify:  &PhaseFuncs{Validate: validate},
			Destroy: inert(),
		}
		if leaf == "originate" || leaf == "always" {
			continue
		}
		table[RedistributeXPath+"/"+leaf] = Callbacks{
			Modify:  &PhaseFuncs{Validate: validate},
			Destroy: inert(),
		}
	}
	return table
}

func validateMetricType(args *Args) error {
	t, err := args.Node.Enum(".")
	if err != nil {
		return err
	}
	if _, err := parseMetricType(t); err != nil {
		return validationErrorf("%v", err)
	}
	return nil
}

// redistStaging is the whole of a redistribution subtree read at once.
type redistStaging struct {
	Originate  bool
	Always     bool
	Metric     int64
	MetricType int
	RouteMap   string
}

func (s redistStaging) mode() DefaultOriginateMode {
	switch {
	case !s.Originate:
		return DefaultOriginateNone
	case s.Always:
		return DefaultOriginateAlways
	default:
		return DefaultOriginateZebra
	}
}

func (s redistStaging) matches(red *Redistribution) bool {
	return red != nil && red.Metric == s.Metric && red.MetricType == s.MetricType && red.RouteMap == s.RouteMap
}

func (s redistStaging) store(red *Redistribution) {
	red.Metric = s.Metric
	red.MetricType = s.MetricType
	red.RouteMap = s.RouteMap
}

func readRedistStaging(n *Node) (redistStaging, error) {
	s := redistStaging{Metric: DefaultMetricUnset, MetricType: DefaultMetricType}
	var err error
	if s.Originate, err = n.BoolOr("./originate", false); err != nil {
		return s, err
	}
	if s.Always, err = n.BoolOr("./always", false); err != nil {
		return s, err
	}
	if n.Exists("./metric") {
		metric, err := n.Uint32("./metric")
		if err != nil {
			return s, err
		}
		s.Metric = int64(metric)
	}
	if n.Exists("./metric-type") {
		t, err := n.Enum("./metric-type")
		if err != nil {
			return s, err
		}
		if s.MetricType, err = parseMetricType(t); err != nil {
			return s, err
		}
	}
	if s.RouteMap, err = n.StringOr("./route-map", ""); err != nil {
		return s, err
	}
	return s, nil
}

func defaultInformationApplyFinish(args *Args) error {
	o, err := GetEntry[*Instance](args.Entries, args.Node, false)
	if err != nil || o == nil {
		return err
	}
	staging := redistStaging{Metric: DefaultMetricUnset, MetricType: DefaultMetricType}
	if !args.Vanished {
		if staging, err = readRedistStaging(args.Node); err != nil {
			return err
		}
	}
	applyDefaultInformation(o, staging)
	return nil
}

func applyDefaultInformation(o *Instance, staging redistStaging) {
	mode := staging.mode()
	if mode == DefaultOriginateNone {
		if o.RedistLookup(RouteDefault) == nil && o.DefaultOriginate == DefaultOriginateNone {
			return
		}
		o.RedistDel(RouteDefault)
		o.DefaultOriginate = DefaultOriginateNone
		log.Info().Uint16("instance", o.Instance).Msg("ospf: default route origination disabled")
		o.engine().RedistributeDefault(o, DefaultOriginateNone)
		return
	}

	if staging.matches(o.RedistLookup(RouteDefault)) && o.DefaultOriginate == mode {
		log.Debug().Uint16("instance", o.Instance).Msg("ospf: default route origination unchanged")
		return
	}
	red := o.RedistAdd(RouteDefault)
	staging.store(red)
	o.DefaultOriginate = mode
	log.Info().Uint16("instance", o.Instance).Str("mode", mode.String()).Int64("metric", red.Metric).Msg("ospf: default route origination updated")
	o.engine().RedistributeDefault(o, mode)
}

func validateRedistProtocol(args *Args) error {
	protocol, err := args.Node.String("./protocol")
	if err != nil {
		return err
	}
	if _, err := parseRouteType(protocol); err != nil {
		return validationErrorf("%v", err)
	}
	return nil
}

func redistributeCreate(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	protocol, err := args.Node.String("./protocol")
	if err != nil {
		return err
	}
	t, err := parseRouteType(protocol)
	if err != nil {
		return err
	}
	o.RedistAdd(t)
	o.engine().ScheduleASBRUpdate(o, t)
	return nil
}

func redistributeDestroy(args *Args) error {
	o, err := instanceOf(args)
	if err != nil {
		return err
	}
	protocol, err := args.Node.String("./protocol")
	if err != nil {
		return err
	}
	t, err := parseRouteType(protocol)
	if err != nil {
		return err
	}
	if !o.RedistDel(t) {
		return notFoundErrorf("%s is not redistributed", t)
	}
	o.engine().ScheduleASBRUpdate(o, t)
	return nil
}

func redistributeApplyFinish(args *Args) error {
	if args.Vanished {
		return nil
	}
	o, err := GetEntry[*Instance](args.Entries, args.Node, false)
	if err != nil || o == nil {
		return err
	}
	protocol, err := args.Node.String("./protocol")
	if err != nil {
		return err
	}
	t, err := parseRouteType(protocol)
	if err != nil {
		return err
	}
	red := o.RedistLookup(t)
	if red == nil {
		return nil
	}
	staging, err := readRedistStaging(args.Node)
	if err != nil {
		return err
	}
	if staging.matches(red) {
		return nil
	}
	staging.store(red)
	o.engine().ScheduleASBRUpdate(o, t)
	return nil
}
