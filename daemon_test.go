package main

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDaemon(t *testing.T, store ConfigStore) *Daemon {
	t.Helper()
	config := Configuration{
		Node:      "node-test-" + RandStringRunes(10),
		SPFDelay:  Duration{time.Hour},
		ASBRDelay: Duration{time.Hour},
	}
	source := NewStaticInterfaceSource([]InterfaceInfo{eth0})
	return NewDaemon(config, store, source, NewMetrics(prometheus.NewRegistry()))
}

func TestDaemonSetupRestoresRunning(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, 0, testEdits))

	d := newTestDaemon(t, store)
	require.NoError(t, d.Setup(ctx))
	defer d.scheduler.Stop()

	assert.Equal(t, 1, d.revision)
	o := d.router.LookupInstance(0, "default")
	require.NotNil(t, o)
	assert.Equal(t, uint32(30), o.WriteMultiplier)
	ifp := d.router.LookupInterface("eth0")
	require.NotNil(t, ifp)
	area, ok := ifp.AreaFor(netip.MustParsePrefix("10.0.0.1/24"))
	assert.True(t, ok)
	assert.Equal(t, BackboneArea, area)
	assert.Equal(t, []string{"spf/default/0"}, d.scheduler.Pending())
}

func TestDaemonSetupRejectsBrokenRunning(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, 0, []Edit{{Op: EditSet, XPath: testOSPF + "/write-multiplier", Value: "1000"}}))

	d := newTestDaemon(t, store)
	defer d.scheduler.Stop()
	assert.Error(t, d.Setup(ctx))
}

func TestDaemonCommitPersists(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	d := newTestDaemon(t, store)
	require.NoError(t, d.Setup(ctx))
	defer d.scheduler.Stop()

	require.NoError(t, d.Commit(ctx, testEdits))
	running, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, running.Revision)
	assert.Equal(t, d.northbound.Running().Leaves(), running.Edits)

	// Failed and empty commits leave the store alone.
	err = d.Commit(ctx, []Edit{{Op: EditSet, XPath: testOSPF + "/write-multiplier", Value: "0"}})
	assert.Equal(t, ResultErrValidation, ResultOf(err))
	err = d.Commit(ctx, testEdits)
	assert.Equal(t, ResultErrNoChanges, ResultOf(err))
	running, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, running.Revision)

	// Another writer got in between.
	require.NoError(t, store.Save(ctx, 1, running.Edits))
	err = d.Commit(ctx, []Edit{{Op: EditDelete, XPath: testOSPF + "/write-multiplier"}})
	assert.True(t, errors.Is(err, ErrTransactionFailed))
	assert.Equal(t, 1, d.revision)
}

func TestDaemonRunServesRequests(t *testing.T) {
	store := NewMemoryStore()
	d := newTestDaemon(t, store)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	done := make(chan error)
	go func() {
		done <- d.Run(ctx)
	}()

	reply, err := store.Submit(ctx, NewCommitRequest(d.Config.Node, testEdits))
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Result)
	assert.Empty(t, reply.Message)

	reply, err = store.Submit(ctx, NewCommitRequest(d.Config.Node, []Edit{
		{Op: EditSet, XPath: ifOSPF("eth0") + "/area", Value: "0.0.0.1"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "validation-error", reply.Result)
	assert.Contains(t, reply.Message, "Must remove previous area config before changing ospf area.")

	running, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, running.Revision)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("d.Run(ctx) did not return after cancel")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.RequestsHandled.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.RequestsHandled.WithLabelValues("validation-error")))
}

type refusingWatchStore struct {
	*MemoryStore
}

func (refusingWatchStore) Requests(ctx context.Context) (<-chan CommitRequest, error) {
	return nil, errors.New("watch refused")
}

func TestDaemonRunFailsWithoutRequestWatch(t *testing.T) {
	d := newTestDaemon(t, refusingWatchStore{NewMemoryStore()})
	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not start request-watcher")
	assert.Contains(t, err.Error(), "watch refused")
}
