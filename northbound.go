package main

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

type Phase int

const (
	PhaseValidate Phase = iota
	PhasePrepare
	PhaseAbort
	PhaseApply
)

func (p Phase) String() string {
	switch p {
	case PhaseValidate:
		return "validate"
	case PhasePrepare:
		return "prepare"
	case PhaseAbort:
		return "abort"
	case PhaseApply:
		return "apply"
	default:
		return "unknown"
	}
}

type Kind int

const (
	KindCreate Kind = iota
	KindModify
	KindDestroy
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindModify:
		return "modify"
	case KindDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

type HandlerFunc func(args *Args) error

// PhaseFuncs holds the handlers of one change kind. Missing phases are
// no-ops.
type PhaseFuncs struct {
	Validate HandlerFunc
	Prepare  HandlerFunc
	Abort    HandlerFunc
	Apply    HandlerFunc
}

func (p *PhaseFuncs) handler(phase Phase) HandlerFunc {
	if p == nil {
		return nil
	}
	switch phase {
	case PhaseValidate:
		return p.Validate
	case PhasePrepare:
		return p.Prepare
	case PhaseAbort:
		return p.Abort
	case PhaseApply:
		return p.Apply
	}
	return nil
}

// Callbacks are registered per schema path.
type Callbacks struct {
	Create      *PhaseFuncs
	Modify      *PhaseFuncs
	Destroy     *PhaseFuncs
	ApplyFinish HandlerFunc
}

func (c *Callbacks) kind(k Kind) *PhaseFuncs {
	switch k {
	case KindCreate:
		return c.Create
	case KindModify:
		return c.Modify
	case KindDestroy:
		return c.Destroy
	}
	return nil
}

// BindingContext scopes the binding layer to the routing instance it serves.
type BindingContext struct {
	Instance uint16
	VRFs     []string
}

func (c BindingContext) servesVRF(vrf string) bool {
	if len(c.VRFs) == 0 {
		return true
	}
	for _, v := range c.VRFs {
		if v == vrf {
			return true
		}
	}
	return false
}

type Args struct {
	Phase Phase
	Kind  Kind
	// Node lives in the candidate tree, or in the running tree for destroys
	// and vanished apply-finish subtrees.
	Node      *Node
	Vanished  bool
	Candidate *Tree
	Running   *Tree
	Entries   *EntryStore
	Router    *Router
	Context   BindingContext
}

type Change struct {
	Kind      Kind
	Node      *Node
	callbacks *Callbacks
}

func (c Change) String() string {
	return c.Kind.String() + " " + c.Node.XPath()
}

const protocolListName = "control-plane-protocol"

// Northbound drives configuration transactions against the registered
// callbacks and keeps the running configuration.
type Northbound struct {
	callbacks map[string]*Callbacks
	running   *Tree
	entries   *EntryStore
	router    *Router
	ctx       BindingContext
	metrics   *Metrics
}

func NewNorthbound(router *Router, ctx BindingContext, metrics *Metrics) *Northbound {
	return &Northbound{
		callbacks: make(map[string]*Callbacks),
		running:   NewTree(),
		entries:   NewEntryStore(),
		router:    router,
		ctx:       ctx,
		metrics:   metrics,
	}
}

func (nb *Northbound) Register(schemaPath string, cbs Callbacks) {
	c := cbs
	nb.callbacks[schemaPath] = &c
}

func (nb *Northbound) RegisterAll(table map[string]Callbacks) {
	for path, cbs := range table {
		nb.Register(path, cbs)
	}
}

func (nb *Northbound) Running() *Tree {
	return nb.running
}

// Candidate returns a copy of the running configuration to edit.
func (nb *Northbound) Candidate() *Tree {
	return nb.running.Copy()
}

func (nb *Northbound) Entries() *EntryStore {
	return nb.entries
}

// Diff lists the changes that turn running into candidate. Destroys come
// first. A destroyed node with a destroy callback covers its whole subtree.
// Creates and modifies follow in candidate order; a new node with a create
// callback gets a create, other new or changed leaves get a modify.
func (nb *Northbound) Diff(running *Tree, candidate *Tree) []Change {
	changes := make([]Change, 0)

	running.Walk(func(n *Node) bool {
		if n.IsKey() || candidate.Get(n.XPath()) != nil {
			return true
		}
		cbs := nb.callbacks[n.SchemaPath()]
		if cbs != nil && cbs.Destroy != nil {
			changes = append(changes, Change{Kind: KindDestroy, Node: n, callbacks: cbs})
			return false
		}
		return true
	})

	candidate.Walk(func(n *Node) bool {
		if n.IsKey() {
			return false
		}
		cbs := nb.callbacks[n.SchemaPath()]
		old := running.Get(n.XPath())
		if old == nil {
			switch {
			case cbs != nil && cbs.Create != nil:
				changes = append(changes, Change{Kind: KindCreate, Node: n, callbacks: cbs})
			case cbs != nil && cbs.Modify != nil:
				changes = append(changes, Change{Kind: KindModify, Node: n, callbacks: cbs})
			case cbs == nil && n.IsTerminal():
				changes = append(changes, Change{Kind: KindModify, Node: n})
			}
			return true
		}
		if n.IsListEntry() || !n.IsTerminal() || old.Value() == n.Value() {
			return true
		}
		if cbs == nil {
			changes = append(changes, Change{Kind: KindModify, Node: n})
		} else if cbs.Modify != nil {
			changes = append(changes, Change{Kind: KindModify, Node: n, callbacks: cbs})
		}
		return true
	})

	return changes
}

// served reports whether the node belongs to the routing instance this
// binding layer serves. Nodes outside any routing instance always are.
func (nb *Northbound) served(n *Node) bool {
	for p := n; p != nil; p = p.Parent() {
		if p.Name() != protocolListName || !p.IsListEntry() {
			continue
		}
		name, err := p.String("./name")
		if err != nil {
			return false
		}
		instance, err := strconv.ParseUint(name, 10, 16)
		if err != nil || uint16(instance) != nb.ctx.Instance {
			return false
		}
		vrf, _ := p.StringOr("./vrf", "default")
		return nb.ctx.servesVRF(vrf)
	}
	return true
}

func (nb *Northbound) args(phase Phase, kind Kind, n *Node, candidate *Tree) *Args {
	return &Args{
		Phase:     phase,
		Kind:      kind,
		Node:      n,
		Candidate: candidate,
		Running:   nb.running,
		Entries:   nb.entries,
		Router:    nb.router,
		Context:   nb.ctx,
	}
}

// Dispatch delivers one phase of a change to its handler.
func (nb *Northbound) Dispatch(phase Phase, change Change, candidate *Tree) error {
	xpath := change.Node.XPath()
	if !nb.served(change.Node) {
		log.Debug().Str("xpath", xpath).Msg("nb: ignoring change for foreign instance")
		return noChanges("%s belongs to another instance", xpath)
	}
	if change.callbacks == nil {
		if phase != PhaseValidate {
			return nil
		}
		err := &CallbackError{Result: ResultErrValidation, Message: "unsupported configuration node " + xpath, Err: ErrUnknownXPath}
		nb.metrics.Callbacks.WithLabelValues(phase.String(), ResultOf(err).String()).Inc()
		return err
	}
	handler := change.callbacks.kind(change.Kind).handler(phase)
	if handler == nil {
		return nil
	}
	err := handler(nb.args(phase, change.Kind, change.Node, candidate))
	if err != nil && phase == PhaseValidate {
		var cbErr *CallbackError
		if !errors.As(err, &cbErr) && !errors.Is(err, ErrEntryMissing) {
			err = &CallbackError{Result: ResultErrValidation, Message: err.Error(), Err: err}
		}
	}
	nb.metrics.Callbacks.WithLabelValues(phase.String(), ResultOf(err).String()).Inc()
	if err != nil {
		return errors.Wrapf(err, "%s %s", phase, xpath)
	}
	return nil
}

// failed reports whether err should stop the transaction.
func failed(err error) bool {
	return err != nil && ResultOf(err) != ResultErrNoChanges
}

// CommitEdits applies edits to a copy of the running configuration and
// commits it.
func (nb *Northbound) CommitEdits(edits []Edit) error {
	candidate := nb.Candidate()
	if err := candidate.Apply(edits); err != nil {
		nb.metrics.Commits.WithLabelValues(ResultErrValidation.String()).Inc()
		return &CallbackError{Result: ResultErrValidation, Message: err.Error(), Err: err}
	}
	return nb.Commit(candidate)
}

// Commit runs one transaction: validate every change, prepare every change
// (aborting the prepared ones on failure), apply every change, then run the
// apply-finish callbacks once per subtree. Apply errors are reported but not
// rolled back.
func (nb *Northbound) Commit(candidate *Tree) error {
	err := nb.commit(candidate)
	result := ResultOf(err)
	nb.metrics.Commits.WithLabelValues(result.String()).Inc()
	nb.metrics.RunningEntries.Set(float64(nb.entries.Len()))
	if result.Success() {
		return err
	}
	log.Error().Err(err).Str("result", result.String()).Msg("nb: commit failed")
	return err
}

func (nb *Northbound) commit(candidate *Tree) error {
	changes := nb.Diff(nb.running, candidate)
	if len(changes) == 0 {
		return noChanges("no changes to commit")
	}
	log.Debug().Int("changes", len(changes)).Msg("nb: starting transaction")

	for _, change := range changes {
		if err := nb.Dispatch(PhaseValidate, change, candidate); failed(err) {
			return err
		}
	}

	for i, change := range changes {
		if err := nb.Dispatch(PhasePrepare, change, candidate); failed(err) {
			for _, prepared := range changes[:i] {
				if abortErr := nb.Dispatch(PhaseAbort, prepared, candidate); failed(abortErr) {
					log.Error().Err(abortErr).Str("xpath", prepared.Node.XPath()).Msg("nb: abort failed")
				}
			}
			return err
		}
	}

	var applyErr error
	applied := 0
	for _, change := range changes {
		err := nb.Dispatch(PhaseApply, change, candidate)
		if failed(err) {
			log.Error().Err(err).Str("xpath", change.Node.XPath()).Msg("nb: apply failed")
			applyErr = multierr.Append(applyErr, err)
			continue
		}
		if err == nil {
			applied++
		}
	}
	applyErr = multierr.Append(applyErr, nb.applyFinish(changes, candidate))

	nb.running = candidate
	log.Info().Int("changes", len(changes)).Int("applied", applied).Msg("nb: transaction committed")
	if applyErr != nil {
		return applyErr
	}
	if applied == 0 {
		return noChanges("nothing applied")
	}
	return nil
}

// applyFinish runs each apply-finish callback once for every distinct
// subtree a change touched, in order of first touch.
func (nb *Northbound) applyFinish(changes []Change, candidate *Tree) error {
	type finish struct {
		node *Node
		fn   HandlerFunc
	}
	seen := make(map[string]bool)
	finishes := make([]finish, 0)
	for _, change := range changes {
		for n := change.Node; n != nil; n = n.Parent() {
			cbs := nb.callbacks[n.SchemaPath()]
			if cbs == nil || cbs.ApplyFinish == nil || seen[n.XPath()] {
				continue
			}
			seen[n.XPath()] = true
			finishes = append(finishes, finish{node: n, fn: cbs.ApplyFinish})
		}
	}

	var finishErr error
	for _, f := range finishes {
		xpath := f.node.XPath()
		args := nb.args(PhaseApply, KindModify, f.node, candidate)
		if current := candidate.Get(xpath); current != nil {
			args.Node = current
		} else {
			args.Vanished = true
		}
		if !nb.served(args.Node) {
			continue
		}
		err := f.fn(args)
		nb.metrics.Callbacks.WithLabelValues("apply-finish", ResultOf(err).String()).Inc()
		if failed(err) {
			log.Error().Err(err).Str("xpath", xpath).Msg("nb: apply-finish failed")
			finishErr = multierr.Append(finishErr, errors.Wrapf(err, "apply-finish %s", xpath))
		}
	}
	return finishErr
}
