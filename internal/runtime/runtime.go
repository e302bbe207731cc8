package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/cluster"
	cfgpkg "github.com/rzbill/flolog/internal/config"
	"github.com/rzbill/flolog/internal/eventlog"
	"github.com/rzbill/flolog/internal/layout"
	"github.com/rzbill/flolog/internal/listener"
	"github.com/rzbill/flolog/internal/metrics"
	"github.com/rzbill/flolog/internal/namespace"
	"github.com/rzbill/flolog/internal/sequencer"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
	"github.com/rzbill/flolog/internal/stream"
	"github.com/rzbill/flolog/internal/table"
	logpkg "github.com/rzbill/flolog/pkg/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	openTimeout      = 30 * time.Second
	zkSessionTimeout = 10 * time.Second
)

// Transport reaches peer nodes. Without one the node runs alone and never
// probes.
type Transport interface {
	cluster.Prober
	cluster.LayoutFetcher
	AnnounceStream(ctx context.Context, node string, msg cluster.StreamCreated) error
}

// Options for building the Runtime.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	Config  cfgpkg.Config

	Transport Transport
	Metrics   *metrics.Metrics
	Clock     clock.Clock
	Logger    logpkg.Logger
}

// Runtime wires storage, the log unit, the sequencer and cluster membership
// for one node.
type Runtime struct {
	self    string
	db      *pebblestore.DB
	config  cfgpkg.Config
	logger  logpkg.Logger
	metrics *metrics.Metrics
	clock   clock.Clock

	log        *eventlog.Log
	seq        *sequencer.Server
	filler     *eventlog.HoleFiller
	holder     *layout.Holder
	store      layout.Store
	zk         *layout.ZKStore
	namespaces *namespace.Registry
	directory  *stream.Directory
	listeners  *listener.Registry

	transport  Transport
	detector   *cluster.FailureDetector
	reconciler *cluster.Reconciler
	agent      *cluster.Agent
	lastReport atomic.Pointer[cluster.PollReport]

	adoptMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Open initializes the underlying storage, recovers the sequencer from the
// log unit and installs the latest committed layout, bootstrapping epoch 0
// from the configured members when none exists.
func Open(opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: opts.DataDir,
		Fsync:   opts.Fsync,
		Metrics: opts.Metrics,
		Logger:  opts.Logger.WithComponent("pebble"),
	})
	if err != nil {
		return nil, err
	}
	r := &Runtime{
		self:      cfg.Node.Endpoint,
		db:        db,
		config:    cfg,
		logger:    opts.Logger.WithComponent("runtime"),
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		transport: opts.Transport,
	}
	if err := r.open(opts); err != nil {
		return nil, multierr.Append(err, r.closeStores())
	}
	return r, nil
}

func (r *Runtime) open(opts Options) error {
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	cfg := r.config

	var err error
	r.log, err = eventlog.OpenLog(r.db, eventlog.Options{
		CapacityBytes: cfg.Log.CapacityBytes,
		TrimHook:      r.metrics,
		Logger:        opts.Logger,
	})
	if err != nil {
		return fmt.Errorf("open log unit: %w", err)
	}

	switch cfg.Cluster.LayoutStore {
	case cfgpkg.LayoutStoreZooKeeper:
		r.zk, err = layout.NewZKStore(cfg.Cluster.ZKServers, cfg.Cluster.ZKRoot, zkSessionTimeout)
		if err != nil {
			return fmt.Errorf("connect layout store: %w", err)
		}
		r.store = r.zk
	default:
		r.store = layout.NewPebbleStore(r.db)
	}

	current, err := r.bootstrapLayout(ctx)
	if err != nil {
		return err
	}
	if le := r.log.Epoch(); le > current.Epoch {
		return fmt.Errorf("log unit sealed at epoch %d, ahead of committed layout %d", le, current.Epoch)
	}
	if err := r.log.Seal(ctx, current.Epoch); err != nil {
		return fmt.Errorf("seal log unit: %w", err)
	}
	st, err := sequencer.Recover(ctx, r.log)
	if err != nil {
		return fmt.Errorf("recover sequencer: %w", err)
	}
	r.seq = sequencer.NewServer(sequencer.Options{
		Epoch: current.Epoch, State: st, Metrics: r.metrics, Logger: opts.Logger,
	})
	r.holder = layout.NewHolder(current)
	r.metrics.ObserveEpoch(current.Epoch)

	r.filler = eventlog.NewHoleFiller(r.log, eventlog.HoleFillOptions{
		Timeout: cfg.Log.HoleFillTimeout(),
		Poll:    cfg.Log.HoleFillPoll(),
		Epoch:   r.holder.Epoch,
		Clock:   r.clock,
		Logger:  opts.Logger,
	})

	r.namespaces, err = namespace.NewRegistry(r.db, cfg)
	if err != nil {
		return err
	}
	r.directory = stream.NewDirectory(r.db, stream.DirectoryOptions{
		LogID:      LogID(cfg.Cluster.ClusterID),
		Sequencer:  r.seq,
		Namespaces: r.namespaces,
		Announce:   r.announce,
		Logger:     opts.Logger,
	})
	r.listeners = listener.NewRegistry(listener.Options{
		Sequencer: r.seq,
		Log:       r.log,
		Filler:    r.filler,
		Poll:      cfg.Log.HoleFillPoll(),
		Clock:     r.clock,
		Logger:    opts.Logger,
	})

	if r.transport != nil {
		r.detector = cluster.NewFailureDetector(cluster.DetectorOptions{
			Self:         r.self,
			Holder:       r.holder,
			Prober:       r.transport,
			Interval:     cfg.Cluster.PollInterval(),
			ProbeTimeout: cfg.Cluster.ProbeTimeout(),
			Clock:        r.clock,
			Metrics:      r.metrics,
			Logger:       opts.Logger,
		})
		r.reconciler = cluster.NewReconciler(cluster.ReconcilerOptions{
			Holder:  r.holder,
			Fetcher: r.transport,
			Store:   r.store,
			Adopt:   r.adopt,
			Metrics: r.metrics,
			Logger:  opts.Logger,
		})
		r.agent = cluster.NewAgent(cluster.AgentOptions{
			Self:       r.self,
			Holder:     r.holder,
			Store:      r.store,
			Detector:   r.detector,
			Reconciler: r.reconciler,
			Observe:    func(rep cluster.PollReport) { r.lastReport.Store(&rep) },
			Logger:     opts.Logger,
		})
	}
	r.logger.Info("runtime opened",
		logpkg.Str("self", r.self), logpkg.Epoch(current.Epoch), logpkg.Uint64("tail", st.Global))
	return nil
}

// bootstrapLayout returns the latest committed layout, committing epoch 0
// from the configured members when the store is empty.
func (r *Runtime) bootstrapLayout(ctx context.Context) (layout.Layout, error) {
	latest, err := r.store.Latest(ctx)
	if err == nil {
		return latest, nil
	}
	if !errors.Is(err, layout.ErrNotFound) {
		return layout.Layout{}, fmt.Errorf("load layout: %w", err)
	}
	// Sorted so every member bootstraps the same layout.
	members := r.config.Cluster.Members(r.self)
	sort.Strings(members)
	initial := layout.Layout{
		Epoch:         0,
		ClusterID:     r.config.Cluster.ClusterID,
		LayoutServers: members,
		Sequencers:    members[:1],
		LogServers:    members,
	}
	err = r.store.Commit(ctx, initial)
	if errors.Is(err, layout.ErrEpochTaken) {
		// Another member bootstrapped first.
		return r.store.Get(ctx, 0)
	}
	if err != nil {
		return layout.Layout{}, fmt.Errorf("bootstrap layout: %w", err)
	}
	r.logger.Info("bootstrapped layout", logpkg.F("members", members))
	return initial, nil
}

// LogID names the shared log of a cluster.
func LogID(clusterID string) uuid.UUID {
	if clusterID == "" {
		clusterID = "flolog"
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("flolog:log:"+clusterID))
}

// adopt moves the node to l's epoch: the log unit is sealed so stale writers
// are rejected, and the sequencer restarts from what the log holds. A local
// layout store records l first so a restart opens at the sealed epoch.
func (r *Runtime) adopt(ctx context.Context, l layout.Layout) error {
	r.adoptMu.Lock()
	defer r.adoptMu.Unlock()
	if r.zk == nil {
		err := r.store.Commit(ctx, l)
		if err != nil && !errors.Is(err, layout.ErrEpochTaken) {
			return fmt.Errorf("record layout %d: %w", l.Epoch, err)
		}
	}
	if err := r.log.Seal(ctx, l.Epoch); err != nil {
		return fmt.Errorf("seal log unit: %w", err)
	}
	st, err := sequencer.Recover(ctx, r.log)
	if err != nil {
		return fmt.Errorf("recover sequencer: %w", err)
	}
	if err := r.seq.Reset(l.Epoch, st); err != nil {
		return fmt.Errorf("reset sequencer: %w", err)
	}
	return nil
}

// announce tells every other active node about a new stream.
func (r *Runtime) announce(ctx context.Context, msg cluster.StreamCreated) error {
	if r.transport == nil {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range r.holder.Layout().ActiveNodes() {
		if node == r.self {
			continue
		}
		node := node
		g.Go(func() error {
			if err := r.transport.AnnounceStream(gctx, node, msg); err != nil {
				return fmt.Errorf("announce to %s: %w", node, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Start launches the cluster agent and the trim coordinator. They stop when
// ctx is done or the runtime closes.
func (r *Runtime) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	if r.agent != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.agent.Run(ctx)
		}()
	}
	if interval := r.config.Log.TrimInterval(); interval > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.trimLoop(ctx, interval)
		}()
	}
}

func (r *Runtime) trimLoop(ctx context.Context, interval time.Duration) {
	ticker := r.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := r.TrimOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("trim pass failed", logpkg.Err(err))
			}
		}
	}
}

// TrimOnce prefix-trims the log up to the lowest address every stream
// created on this node has released. ok is false when some stream has not
// released anything yet.
func (r *Runtime) TrimOnce(ctx context.Context) (floor uint64, ok bool, err error) {
	ids, err := r.directory.LocalIDs()
	if err != nil {
		return 0, false, err
	}
	requests, err := r.log.TrimRequests()
	if err != nil {
		return 0, false, err
	}
	floor, ok = eventlog.TrimFloor(requests, ids)
	if !ok {
		return 0, false, nil
	}
	if err := r.log.Trim(ctx, floor); err != nil {
		return 0, false, err
	}
	return floor, true, nil
}

// StreamEnv returns the machinery streams of this node share.
func (r *Runtime) StreamEnv() stream.Env {
	return stream.Env{
		Sequencer:    r.seq,
		Log:          r.log,
		Epoch:        r.holder.Epoch,
		Filler:       r.filler,
		Cursors:      r.log,
		TrimRequests: r.log,
		Logger:       r.logger,
	}
}

// OpenStream creates ns/table if needed and opens its stream at the
// position the table started from.
func (r *Runtime) OpenStream(ctx context.Context, ns, tbl string) (*stream.Stream, stream.Info, error) {
	info, _, err := r.directory.Create(ctx, ns, tbl)
	if err != nil {
		return nil, stream.Info{}, err
	}
	s, err := stream.Open(r.StreamEnv(), info.ID, eventlog.Cursor{Global: info.StartPosition})
	if err != nil {
		return nil, stream.Info{}, err
	}
	return s, info, nil
}

// OpenTable creates ns/tbl if needed and opens its persisted view.
func (r *Runtime) OpenTable(ctx context.Context, ns, tbl string) (*table.Table, error) {
	info, _, err := r.directory.Create(ctx, ns, tbl)
	if err != nil {
		return nil, err
	}
	return table.Open(r.StreamEnv(), r.db, info)
}

// HandleProbe answers a peer's probe.
func (r *Runtime) HandleProbe(req cluster.ProbeRequest) cluster.ProbeResponse {
	return cluster.ProbeHandler{Self: r.self, Epoch: r.holder.Epoch}.Handle(req)
}

// LastReport returns the most recent poll report, if a round has run.
func (r *Runtime) LastReport() (cluster.PollReport, bool) {
	rep := r.lastReport.Load()
	if rep == nil {
		return cluster.PollReport{}, false
	}
	return *rep, true
}

// ReconcileState reports the reconciler's state. A node without peers is
// always stable.
func (r *Runtime) ReconcileState() (cluster.ReconcileState, uint64) {
	if r.reconciler == nil {
		return cluster.Stable, 0
	}
	return r.reconciler.State()
}

// Close stops background work and closes underlying resources.
func (r *Runtime) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	var err error
	if r.listeners != nil {
		err = multierr.Append(err, r.listeners.Close())
	}
	return multierr.Append(err, r.closeStores())
}

func (r *Runtime) closeStores() error {
	var err error
	if r.zk != nil {
		err = multierr.Append(err, r.zk.Close())
	}
	if r.db != nil && !r.db.Closed() {
		err = multierr.Append(err, r.db.Close())
	}
	return err
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil || r.db.Closed() {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	if state, target := r.ReconcileState(); state != cluster.Stable {
		return fmt.Errorf("layout behind: waiting for epoch %d", target)
	}
	return nil
}

// Self returns the endpoint that identifies this node.
func (r *Runtime) Self() string { return r.self }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

func (r *Runtime) Log() *eventlog.Log { return r.log }
func (r *Runtime) Sequencer() *sequencer.Server { return r.seq }
func (r *Runtime) Holder() *layout.Holder { return r.holder }
func (r *Runtime) LayoutStore() layout.Store { return r.store }
func (r *Runtime) Namespaces() *namespace.Registry { return r.namespaces }
func (r *Runtime) Directory() *stream.Directory { return r.directory }
func (r *Runtime) Listeners() *listener.Registry { return r.listeners }
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }
func (r *Runtime) Filler() *eventlog.HoleFiller { return r.filler }
func (r *Runtime) Agent() *cluster.Agent { return r.agent }
func (r *Runtime) Detector() *cluster.FailureDetector { return r.detector }
