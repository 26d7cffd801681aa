package main

import (
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

type SPFReason int

const (
	SPFConfigChange SPFReason = iota
	SPFAreaChange
	SPFRouterIDChange
	SPFInterfaceChange
)

func (r SPFReason) String() string {
	switch r {
	case SPFConfigChange:
		return "config-change"
	case SPFAreaChange:
		return "area-change"
	case SPFRouterIDChange:
		return "router-id-change"
	case SPFInterfaceChange:
		return "interface-change"
	default:
		return "unknown"
	}
}

// ProtocolEngine is what the configuration layer drives. Implementations
// must not block: recomputation is scheduled, not run inline.
type ProtocolEngine interface {
	ScheduleSPF(o *Instance, reason SPFReason)
	ScheduleABRTask(o *Instance)
	ScheduleASBRUpdate(o *Instance, t RouteType)
	RouterIDUpdate(o *Instance)
	RenegotiateCapabilities(o *Instance, opaque bool)
	InterfaceCostChanged(ifp *Interface, cost uint32)
	InterfaceAreaChanged(ifp *Interface)
	PassiveChanged(ifp *Interface)
	RedistributeDefault(o *Instance, mode DefaultOriginateMode)
	InstanceFinished(o *Instance)
}

// DeferredEngine turns recomputation requests into debounced tasks on a
// TaskScheduler.
type DeferredEngine struct {
	scheduler *TaskScheduler
	spfDelay  time.Duration
	asbrDelay time.Duration
	metrics   *Metrics
}

func NewDeferredEngine(scheduler *TaskScheduler, spfDelay time.Duration, asbrDelay time.Duration, metrics *Metrics) *DeferredEngine {
	return &DeferredEngine{
		scheduler: scheduler,
		spfDelay:  spfDelay,
		asbrDelay: asbrDelay,
		metrics:   metrics,
	}
}

func instanceTaskKey(kind string, o *Instance) string {
	return kind + "/" + o.VRF + "/" + strconv.FormatUint(uint64(o.Instance), 10)
}

func (e *DeferredEngine) alive(o *Instance) bool {
	return o.router.LookupInstance(o.Instance, o.VRF) == o
}

func (e *DeferredEngine) ScheduleSPF(o *Instance, reason SPFReason) {
	e.metrics.SPFScheduled.WithLabelValues(reason.String()).Inc()
	scheduled := e.scheduler.Schedule(instanceTaskKey("spf", o), e.spfDelay, func() {
		if !e.alive(o) {
			return
		}
		log.Info().Uint16("instance", o.Instance).Str("vrf", o.VRF).Int("areas", len(o.Areas())).Msg("spf: running calculation")
		e.metrics.SPFRuns.Inc()
	})
	if !scheduled {
		log.Debug().Uint16("instance", o.Instance).Str("reason", reason.String()).Msg("spf: already scheduled")
	}
}

func (e *DeferredEngine) ScheduleABRTask(o *Instance) {
	e.scheduler.Schedule(instanceTaskKey("abr", o), e.spfDelay, func() {
		if !e.alive(o) {
			return
		}
		ranges := 0
		for _, a := range o.Areas() {
			ranges += len(a.Ranges())
		}
		log.Info().Uint16("instance", o.Instance).Int("ranges", ranges).Msg("spf: running abr task")
		e.metrics.ABRRuns.Inc()
	})
}

func (e *DeferredEngine) ScheduleASBRUpdate(o *Instance, t RouteType) {
	e.scheduler.Schedule(instanceTaskKey("asbr/"+string(t), o), e.asbrDelay, func() {
		if !e.alive(o) {
			return
		}
		event := log.Info().Uint16("instance", o.Instance).Str("type", string(t))
		if red := o.RedistLookup(t); red != nil {
			event = event.Int64("metric", red.Metric).Int("metric-type", red.MetricType).Str("route-map", red.RouteMap)
		} else {
			event = event.Bool("withdrawn", true)
		}
		event.Msg("asbr: updating external routes")
		e.metrics.ASBRUpdates.WithLabelValues(string(t)).Inc()
	})
}

func (e *DeferredEngine) RouterIDUpdate(o *Instance) {
	log.Info().Uint16("instance", o.Instance).Str("router-id", o.RouterIDStatic.String()).Msg("ospf: router id updated")
	e.ScheduleSPF(o, SPFRouterIDChange)
}

func (e *DeferredEngine) RenegotiateCapabilities(o *Instance, opaque bool) {
	log.Info().Uint16("instance", o.Instance).Bool("opaque", opaque).Msg("ospf: renegotiating optional capabilities")
}

func (e *DeferredEngine) InterfaceCostChanged(ifp *Interface, cost uint32) {
	log.Info().Str("interface", ifp.Name).Uint32("cost", cost).Msg("ospf: interface cost changed")
	e.metrics.CostRecomputes.Inc()
	if o := ifp.instance(); o != nil {
		e.ScheduleSPF(o, SPFInterfaceChange)
	}
}

func (e *DeferredEngine) InterfaceAreaChanged(ifp *Interface) {
	log.Info().Str("interface", ifp.Name).Interface("areas", ifp.Areas()).Msg("ospf: interface area changed")
	if o := ifp.instance(); o != nil {
		e.ScheduleSPF(o, SPFAreaChange)
	}
}

func (e *DeferredEngine) PassiveChanged(ifp *Interface) {
	log.Info().Str("interface", ifp.Name).Bool("passive", ifp.Passive).Msg("ospf: interface passive state changed")
}

func (e *DeferredEngine) RedistributeDefault(o *Instance, mode DefaultOriginateMode) {
	log.Info().Uint16("instance", o.Instance).Str("mode", mode.String()).Msg("asbr: default route origination changed")
	e.ScheduleASBRUpdate(o, RouteDefault)
}

func (e *DeferredEngine) InstanceFinished(o *Instance) {
	log.Info().Uint16("instance", o.Instance).Str("vrf", o.VRF).Msg("ospf: withdrawing instance")
}
