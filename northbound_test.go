package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder logs every callback invocation as "phase kind xpath".
type recorder struct {
	calls []string
	fail  map[string]error
}

func (r *recorder) handler() HandlerFunc {
	return func(args *Args) error {
		call := args.Phase.String() + " " + args.Kind.String() + " " + args.Node.XPath()
		r.calls = append(r.calls, call)
		return r.fail[call]
	}
}

func (r *recorder) phases() *PhaseFuncs {
	return &PhaseFuncs{
		Validate: r.handler(),
		Prepare:  r.handler(),
		Abort:    r.handler(),
		Apply:    r.handler(),
	}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{Create: r.phases(), Modify: r.phases(), Destroy: r.phases()}
}

func newRecordingNorthbound(t *testing.T) (*Northbound, *recorder, *Metrics) {
	t.Helper()
	r := &recorder{fail: make(map[string]error)}
	metrics := NewMetrics(prometheus.NewRegistry())
	nb := NewNorthbound(NewRouter(NewMockEngine()), BindingContext{}, metrics)
	nb.Register("/test/list", r.callbacks())
	nb.Register("/test/list/leaf", Callbacks{Modify: r.phases(), Destroy: r.phases()})
	nb.Register("/test/other", Callbacks{Modify: r.phases(), Destroy: r.phases()})
	return nb, r, metrics
}

func changeStrings(changes []Change) []string {
	s := make([]string, 0, len(changes))
	for _, c := range changes {
		s = append(s, c.String())
	}
	return s
}

func TestDiffOrdersDestroysFirst(t *testing.T) {
	nb, _, _ := newRecordingNorthbound(t)
	running := NewTree()
	require.NoError(t, running.Apply([]Edit{
		set("/test/list[name='a']/leaf", "1"),
		set("/test/list[name='b']/leaf", "1"),
		set("/test/other", "x"),
	}))
	candidate := running.Copy()
	require.NoError(t, candidate.Apply([]Edit{
		del("/test/list[name='a']"),
		set("/test/list[name='b']/leaf", "2"),
		set("/test/list[name='c']/leaf", "3"),
		del("/test/other"),
	}))

	want := []string{
		"destroy /test/list[name='a']",
		"destroy /test/other",
		"modify /test/list[name='b']/leaf",
		"create /test/list[name='c']",
		"modify /test/list[name='c']/leaf",
	}
	if diff := cmp.Diff(want, changeStrings(nb.Diff(running, candidate))); diff != "" {
		t.Errorf("nb.Diff() mismatch (-want +got):\n%s", diff)
	}
}

func TestCommitPhaseOrder(t *testing.T) {
	nb, r, _ := newRecordingNorthbound(t)
	require.NoError(t, nb.CommitEdits([]Edit{set("/test/list[name='a']/leaf", "1")}))

	want := []string{
		"validate create /test/list[name='a']",
		"validate modify /test/list[name='a']/leaf",
		"prepare create /test/list[name='a']",
		"prepare modify /test/list[name='a']/leaf",
		"apply create /test/list[name='a']",
		"apply modify /test/list[name='a']/leaf",
	}
	assert.Equal(t, want, r.calls)
	assert.Equal(t, "1", nb.Running().Get("/test/list[name='a']/leaf").Value())
}

func TestCommitValidationFailureLeavesRunning(t *testing.T) {
	nb, r, metrics := newRecordingNorthbound(t)
	r.fail["validate modify /test/list[name='a']/leaf"] = validationErrorf("bad leaf")

	err := nb.CommitEdits([]Edit{set("/test/list[name='a']/leaf", "1")})
	assert.Equal(t, ResultErrValidation, ResultOf(err))
	assert.Contains(t, err.Error(), "bad leaf")
	assert.Nil(t, nb.Running().Get("/test/list[name='a']"))
	for _, call := range r.calls {
		assert.NotContains(t, call, "prepare")
		assert.NotContains(t, call, "apply")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Commits.WithLabelValues("validation-error")))
}

func TestCommitPrepareFailureAborts(t *testing.T) {
	nb, r, _ := newRecordingNorthbound(t)
	r.fail["prepare modify /test/list[name='b']/leaf"] = genericErrorf("out of resources")

	err := nb.CommitEdits([]Edit{
		set("/test/list[name='a']/leaf", "1"),
		set("/test/list[name='b']/leaf", "1"),
	})
	assert.Equal(t, ResultErr, ResultOf(err))
	assert.Equal(t, []string{
		"abort create /test/list[name='a']",
		"abort modify /test/list[name='a']/leaf",
		"abort create /test/list[name='b']",
	}, r.calls[len(r.calls)-3:])
	assert.Nil(t, nb.Running().Get("/test/list[name='a']"))
}

func TestCommitApplyErrorKeepsCandidate(t *testing.T) {
	nb, r, _ := newRecordingNorthbound(t)
	r.fail["apply modify /test/list[name='a']/leaf"] = notFoundErrorf("gone")

	err := nb.CommitEdits([]Edit{
		set("/test/list[name='a']/leaf", "1"),
		set("/test/other", "x"),
	})
	assert.Equal(t, ResultErrNotFound, ResultOf(err))
	assert.Contains(t, r.calls, "apply modify /test/other")
	assert.NotNil(t, nb.Running().Get("/test/list[name='a']/leaf"))
}

func TestCommitWithoutChanges(t *testing.T) {
	nb, r, _ := newRecordingNorthbound(t)
	require.NoError(t, nb.CommitEdits([]Edit{set("/test/other", "x")}))
	r.calls = nil

	err := nb.CommitEdits([]Edit{set("/test/other", "x")})
	assert.Equal(t, ResultErrNoChanges, ResultOf(err))
	assert.Empty(t, r.calls)

	err = nb.CommitEdits([]Edit{del("/test/missing")})
	assert.Equal(t, ResultErrValidation, ResultOf(err))
}

func TestApplyFinishRunsOncePerSubtree(t *testing.T) {
	nb, _, _ := newRecordingNorthbound(t)
	finished := make([]string, 0)
	vanished := make([]bool, 0)
	nb.Register("/test/group", Callbacks{
		Create:  inert(),
		Destroy: inert(),
		ApplyFinish: func(args *Args) error {
			finished = append(finished, args.Node.XPath())
			vanished = append(vanished, args.Vanished)
			return nil
		},
	})
	nb.Register("/test/group/a", Callbacks{Modify: inert(), Destroy: inert()})
	nb.Register("/test/group/b", Callbacks{Modify: inert(), Destroy: inert()})

	require.NoError(t, nb.CommitEdits([]Edit{set("/test/group/a", "1"), set("/test/group/b", "2")}))
	assert.Equal(t, []string{"/test/group"}, finished)

	require.NoError(t, nb.CommitEdits([]Edit{set("/test/group/b", "3")}))
	assert.Len(t, finished, 2)

	require.NoError(t, nb.CommitEdits([]Edit{del("/test/group")}))
	assert.Equal(t, []bool{false, false, true}, vanished)
}

func TestDispatchIgnoresForeignInstance(t *testing.T) {
	r := &recorder{fail: make(map[string]error)}
	nb := NewNorthbound(NewRouter(NewMockEngine()), BindingContext{Instance: 2}, NewMetrics(prometheus.NewRegistry()))
	nb.Register(OSPFXPath, r.callbacks())

	err := nb.CommitEdits([]Edit{set(protocolPath("1", "default"), "")})
	assert.Equal(t, ResultErrNoChanges, ResultOf(err))
	assert.Empty(t, r.calls)

	require.NoError(t, nb.CommitEdits([]Edit{set(protocolPath("2", "default"), "")}))
	assert.Contains(t, r.calls, "apply create "+protocolPath("2", "default"))
}
