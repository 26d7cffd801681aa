package main

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferredEngineDebounces(t *testing.T) {
	scheduler := NewTaskScheduler()
	defer scheduler.Stop()
	metrics := NewMetrics(prometheus.NewRegistry())
	router := NewRouter(NewDeferredEngine(scheduler, time.Hour, time.Hour, metrics))
	router.AddInterface(eth0)
	nb := NewNorthbound(router, BindingContext{}, metrics)
	nb.RegisterAll(OSPFCallbacks())

	require.NoError(t, nb.CommitEdits([]Edit{set(testOSPF, "")}))
	require.NoError(t, nb.CommitEdits([]Edit{set(testOSPF+"/compatible-rfc1583", "true")}))
	require.NoError(t, nb.CommitEdits([]Edit{set(networkPath("10.0.0.0/24")+"/area", "0.0.0.0")}))

	assert.Equal(t, []string{"spf/default/0"}, scheduler.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SPFScheduled.WithLabelValues("interface-change")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SPFScheduled.WithLabelValues("config-change")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SPFScheduled.WithLabelValues("area-change")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CostRecomputes))

	assert.Equal(t, 1, scheduler.Flush())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SPFRuns))

	require.NoError(t, nb.CommitEdits([]Edit{
		set(testOSPF+"/default-information/originate", "true"),
		set(rangePath("0.0.0.1", "10.1.0.0/16")+"/cost", "10"),
	}))
	assert.Equal(t, []string{"abr/default/0", "asbr/default/default/0"}, scheduler.Pending())
	assert.Equal(t, 2, scheduler.Flush())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ASBRUpdates.WithLabelValues("default")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ABRRuns))
}

func TestDeferredEngineSkipsFinishedInstance(t *testing.T) {
	scheduler := NewTaskScheduler()
	defer scheduler.Stop()
	metrics := NewMetrics(prometheus.NewRegistry())
	router := NewRouter(NewDeferredEngine(scheduler, time.Hour, time.Hour, metrics))
	nb := NewNorthbound(router, BindingContext{}, metrics)
	nb.RegisterAll(OSPFCallbacks())

	require.NoError(t, nb.CommitEdits([]Edit{set(testOSPF+"/compatible-rfc1583", "true")}))
	assert.Equal(t, []string{"spf/default/0"}, scheduler.Pending())

	require.NoError(t, nb.CommitEdits([]Edit{del(ProtocolXPath + "[type='frr-ospfd:ospf'][name='0'][vrf='default']")}))
	assert.Equal(t, 1, scheduler.Flush())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.SPFRuns))
}
