package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rzbill/flolog/internal/layout"
	"github.com/rzbill/flolog/pkg/id"
	logpkg "github.com/rzbill/flolog/pkg/log"
	"golang.org/x/sync/errgroup"
)

// ErrNoMembership fails a round that has no layout to probe against.
var ErrNoMembership = errors.New("cluster: no membership to probe")

// Prober sends one probe to a peer.
type Prober interface {
	Probe(ctx context.Context, node string, req ProbeRequest) (ProbeResponse, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, node string, req ProbeRequest) (ProbeResponse, error)

func (f ProberFunc) Probe(ctx context.Context, node string, req ProbeRequest) (ProbeResponse, error) {
	return f(ctx, node, req)
}

// Metrics observes detection rounds. Optional.
type Metrics interface {
	ObserveRound(elapsed time.Duration, failed, wrongEpoch int, ok bool)
	ObserveEpoch(epoch uint64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRound(time.Duration, int, int, bool) {}
func (noopMetrics) ObserveEpoch(uint64)                        {}

// DetectorOptions configures a FailureDetector.
type DetectorOptions struct {
	Self         string
	Holder       *layout.Holder
	Prober       Prober
	Interval     time.Duration
	ProbeTimeout time.Duration
	Clock        clock.Clock
	Metrics      Metrics
	Logger       logpkg.Logger
}

// FailureDetector probes every node of the committed layout on a fixed
// period. Rounds never overlap and never return an error: failures are
// folded into the report.
type FailureDetector struct {
	self     string
	holder   *layout.Holder
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	clock    clock.Clock
	metrics  Metrics
	logger   logpkg.Logger
	ids      *id.Generator

	roundMu sync.Mutex
}

// NewFailureDetector applies defaults to opts.
func NewFailureDetector(opts DetectorOptions) *FailureDetector {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = opts.Interval / 2
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	return &FailureDetector{
		self:     opts.Self,
		holder:   opts.Holder,
		prober:   opts.Prober,
		interval: opts.Interval,
		timeout:  opts.ProbeTimeout,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		logger:   opts.Logger.WithComponent("detector"),
		ids:      id.NewGeneratorWithClock(opts.Clock),
	}
}

// Poll runs one probing round against every node of the committed layout
// except the local one.
func (d *FailureDetector) Poll(ctx context.Context) PollReport {
	d.roundMu.Lock()
	defer d.roundMu.Unlock()

	start := d.clock.Now()
	report := PollReport{RoundID: d.ids.Next().String(), WrongEpochs: map[string]uint64{}}
	defer func() {
		report.Elapsed = d.clock.Since(start)
		d.metrics.ObserveRound(report.Elapsed, len(report.FailedNodes()), len(report.WrongEpochs), report.State.IsOk())
	}()

	if d.holder == nil {
		report.State = Fail[ClusterState](ErrNoMembership)
		return report
	}
	snap := d.holder.Load()
	report.PollEpoch = snap.Layout.Epoch
	if err := ctx.Err(); err != nil {
		report.State = Fail[ClusterState](fmt.Errorf("round aborted: %w", err))
		return report
	}

	var peers []string
	for _, n := range snap.Layout.Nodes() {
		if n != d.self {
			peers = append(peers, n)
		}
	}

	state := NewClusterState(d.self)
	var mu sync.Mutex
	req := ProbeRequest{Epoch: report.PollEpoch, From: d.self, RoundID: report.RoundID}
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, d.timeout)
			defer cancel()
			resp, err := d.prober.Probe(pctx, peer, req)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				state.Set(NodeConnectivity{Node: peer, Status: Failed, Error: err.Error()})
			case resp.Status == ProbeWrongEpoch:
				state.Set(NodeConnectivity{Node: peer, Status: Connected, Epoch: resp.Epoch})
				report.WrongEpochs[peer] = resp.Epoch
			default:
				state.Set(NodeConnectivity{Node: peer, Status: Connected, Epoch: resp.Epoch})
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		report.State = Fail[ClusterState](fmt.Errorf("round aborted: %w", err))
		return report
	}
	report.State = Ok(state)
	return report
}

// Run polls every interval until ctx is done, handing each report to handle.
// A slow round delays the next one; ticks that fire meanwhile are dropped.
func (d *FailureDetector) Run(ctx context.Context, handle func(context.Context, PollReport)) {
	ticker := d.clock.Ticker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		report := d.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if failed := report.FailedNodes(); len(failed) > 0 || len(report.WrongEpochs) > 0 {
			d.logger.Debug("poll round",
				logpkg.Str("round", report.RoundID),
				logpkg.F("failed", failed),
				logpkg.F("wrong_epochs", report.WrongEpochs),
				logpkg.Dur("elapsed", report.Elapsed))
		}
		handle(ctx, report)
	}
}
