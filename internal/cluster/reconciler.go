package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rzbill/flolog/internal/layout"
	logpkg "github.com/rzbill/flolog/pkg/log"
	"go.uber.org/multierr"
)

// ReconcileState is the node's belief about its committed layout.
type ReconcileState int

const (
	// Stable means no peer has reported a newer epoch.
	Stable ReconcileState = iota
	// SuspectStale means a peer reported an epoch above the local one and
	// the local layout must be replaced before it is trusted again.
	SuspectStale
)

func (s ReconcileState) String() string {
	if s == Stable {
		return "STABLE"
	}
	return "SUSPECT_STALE"
}

// LayoutFetcher retrieves a peer's committed layout.
type LayoutFetcher interface {
	FetchLayout(ctx context.Context, node string) (layout.Layout, error)
}

// AdoptFunc applies a newly committed layout to local services, for example
// sealing the log unit and resetting the sequencer.
type AdoptFunc func(ctx context.Context, l layout.Layout) error

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Holder  *layout.Holder
	Fetcher LayoutFetcher
	// Store, when shared between nodes, is consulted before peers.
	Store   layout.Store
	Adopt   AdoptFunc
	Metrics Metrics
	Logger  logpkg.Logger
}

// Reconciler runs the STABLE / SUSPECT_STALE state machine over poll reports.
type Reconciler struct {
	holder  *layout.Holder
	fetcher LayoutFetcher
	store   layout.Store
	adopt   AdoptFunc
	metrics Metrics
	logger  logpkg.Logger

	mu        sync.Mutex
	state     ReconcileState
	candidate uint64
}

func NewReconciler(opts ReconcilerOptions) *Reconciler {
	if opts.Adopt == nil {
		opts.Adopt = func(context.Context, layout.Layout) error { return nil }
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	return &Reconciler{
		holder:  opts.Holder,
		fetcher: opts.Fetcher,
		store:   opts.Store,
		adopt:   opts.Adopt,
		metrics: opts.Metrics,
		logger:  opts.Logger.WithComponent("reconciler"),
	}
}

// State returns the current state and, when SuspectStale, the epoch that
// must be reached.
func (r *Reconciler) State() (ReconcileState, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.candidate
}

// Handle advances the state machine with one report. It reports the state
// after handling.
func (r *Reconciler) Handle(ctx context.Context, report PollReport) ReconcileState {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.holder.Layout()
	if slot, ok := report.LayoutSlotUnfilled(current); ok && slot > r.candidate {
		if r.state == Stable {
			r.logger.Warn("local layout is stale",
				logpkg.Epoch(current.Epoch), logpkg.Uint64("candidate", slot))
		}
		r.state, r.candidate = SuspectStale, slot
	}
	if r.state == Stable {
		return r.state
	}
	if current.Epoch >= r.candidate {
		r.state = Stable
		return r.state
	}

	l, err := r.discover(ctx, report)
	if err != nil {
		r.logger.Warn("layout discovery failed",
			logpkg.Uint64("candidate", r.candidate), logpkg.Err(err))
		return r.state
	}
	if err := r.install(ctx, l); err != nil {
		r.logger.Error("adopting layout failed", logpkg.Epoch(l.Epoch), logpkg.Err(err))
		return r.state
	}
	r.state = Stable
	return r.state
}

// Install adopts l if it is newer than the held layout. The agent uses it
// after committing its own proposal.
func (r *Reconciler) Install(ctx context.Context, l layout.Layout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.install(ctx, l); err != nil {
		return err
	}
	if r.holder.Epoch() >= r.candidate {
		r.state = Stable
	}
	return nil
}

func (r *Reconciler) install(ctx context.Context, l layout.Layout) error {
	if l.Epoch <= r.holder.Epoch() {
		return nil
	}
	if err := r.adopt(ctx, l); err != nil {
		return err
	}
	if r.holder.Update(l) {
		r.metrics.ObserveEpoch(l.Epoch)
		r.logger.Info("adopted layout", logpkg.Epoch(l.Epoch), logpkg.F("unresponsive", l.Unresponsive))
	}
	return nil
}

// discover finds a committed layout at or above the candidate epoch, first
// in the shared store, then from the peers that reported the highest epochs.
func (r *Reconciler) discover(ctx context.Context, report PollReport) (layout.Layout, error) {
	var errs []error
	if r.store != nil {
		l, err := r.store.Latest(ctx)
		if err == nil && l.Epoch >= r.candidate {
			return l, nil
		}
		if err != nil && !errors.Is(err, layout.ErrNotFound) {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if r.fetcher == nil {
		return layout.Layout{}, multierr.Combine(append(errs, errors.New("no layout fetcher"))...)
	}

	peers := make([]string, 0, len(report.WrongEpochs))
	for n, e := range report.WrongEpochs {
		if e >= r.candidate {
			peers = append(peers, n)
		}
	}
	sort.Slice(peers, func(i, j int) bool {
		ei, ej := report.WrongEpochs[peers[i]], report.WrongEpochs[peers[j]]
		if ei != ej {
			return ei > ej
		}
		return peers[i] < peers[j]
	})
	for _, n := range peers {
		l, err := r.fetcher.FetchLayout(ctx, n)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n, err))
			continue
		}
		if l.Epoch >= r.candidate {
			return l, nil
		}
	}
	errs = append(errs, fmt.Errorf("no committed layout at epoch >= %d", r.candidate))
	return layout.Layout{}, multierr.Combine(errs...)
}
