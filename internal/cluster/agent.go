package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/rzbill/flolog/internal/layout"
	logpkg "github.com/rzbill/flolog/pkg/log"
)

// AgentOptions configures an Agent.
type AgentOptions struct {
	Self       string
	Holder     *layout.Holder
	Store      layout.Store
	Detector   *FailureDetector
	Reconciler *Reconciler
	// Observe sees every report before it is handled. Optional.
	Observe    func(PollReport)
	Logger     logpkg.Logger
}

// Agent drives layout changes from poll reports: it keeps the local layout
// current through the reconciler and, when it is the designated proposer,
// commits successor layouts that track failed and recovered nodes.
type Agent struct {
	self       string
	holder     *layout.Holder
	store      layout.Store
	detector   *FailureDetector
	reconciler *Reconciler
	observe    func(PollReport)
	logger     logpkg.Logger
}

func NewAgent(opts AgentOptions) *Agent {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	if opts.Observe == nil {
		opts.Observe = func(PollReport) {}
	}
	return &Agent{
		self:       opts.Self,
		holder:     opts.Holder,
		store:      opts.Store,
		detector:   opts.Detector,
		reconciler: opts.Reconciler,
		observe:    opts.Observe,
		logger:     opts.Logger.WithComponent("cluster-agent"),
	}
}

// Run blocks until ctx is done.
func (a *Agent) Run(ctx context.Context) {
	a.logger.Info("cluster agent started", logpkg.Str("self", a.self), logpkg.Epoch(a.holder.Epoch()))
	a.detector.Run(ctx, func(ctx context.Context, report PollReport) {
		a.observe(report)
		if _, err := a.Handle(ctx, report); err != nil {
			a.logger.Warn("layout proposal failed", logpkg.Str("round", report.RoundID), logpkg.Err(err))
		}
	})
}

// Handle processes one report. It returns the layout committed as a result,
// if any.
func (a *Agent) Handle(ctx context.Context, report PollReport) (*layout.Layout, error) {
	if a.reconciler != nil {
		if a.reconciler.Handle(ctx, report) != Stable {
			return nil, nil
		}
	}
	if !report.State.IsOk() || a.store == nil {
		return nil, nil
	}

	current := a.holder.Layout()
	if report.PollEpoch != current.Epoch {
		// The layout changed during the round; the next round sees it.
		return nil, nil
	}
	if !a.isProposer(current, report) {
		return nil, nil
	}
	next := current.Successor(report.FailedNodes())
	if sameMembers(next.Unresponsive, current.Unresponsive) {
		return nil, nil
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	committed := next
	err := a.store.Commit(ctx, next)
	switch {
	case errors.Is(err, layout.ErrEpochTaken):
		committed, err = a.store.Get(ctx, next.Epoch)
		if err != nil {
			return nil, fmt.Errorf("load competing layout: %w", err)
		}
		a.logger.Info("lost layout proposal", logpkg.Epoch(next.Epoch))
	case err != nil:
		return nil, fmt.Errorf("commit layout %d: %w", next.Epoch, err)
	default:
		a.logger.Info("committed layout",
			logpkg.Epoch(next.Epoch), logpkg.F("unresponsive", next.Unresponsive))
	}

	if err := a.install(ctx, committed); err != nil {
		return nil, err
	}
	return &committed, nil
}

func (a *Agent) install(ctx context.Context, l layout.Layout) error {
	if a.reconciler != nil {
		return a.reconciler.Install(ctx, l)
	}
	a.holder.Update(l)
	return nil
}

// isProposer reports whether self is the first layout server, in layout
// order, that is reachable in this round. Every node evaluates the same rule
// so at most one proposer is active per view.
func (a *Agent) isProposer(l layout.Layout, report PollReport) bool {
	reachable := map[string]bool{a.self: true}
	for _, n := range report.ReachableNodes() {
		reachable[n] = true
	}
	for _, n := range l.LayoutServers {
		if reachable[n] {
			return n == a.self
		}
	}
	return false
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, n := range a {
		set[n] = struct{}{}
	}
	for _, n := range b {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}
