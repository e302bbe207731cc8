package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rzbill/flolog/internal/layout"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("connection refused")

func threeNodes(epoch uint64) layout.Layout {
	return layout.Layout{
		Epoch:         epoch,
		ClusterID:     "c1",
		LayoutServers: []string{"n1", "n2", "n3"},
		Sequencers:    []string{"n1"},
		LogServers:    []string{"n1", "n2", "n3"},
	}
}

// fakeCluster answers probes from a table of peer epochs; absent peers fail.
type fakeCluster struct {
	mu      sync.Mutex
	epochs  map[string]uint64
	layouts map[string]layout.Layout
	probes  int
}

func (f *fakeCluster) Probe(_ context.Context, node string, req ProbeRequest) (ProbeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	e, ok := f.epochs[node]
	if !ok {
		return ProbeResponse{}, errDown
	}
	return ProbeHandler{Self: node, Epoch: func() uint64 { return e }}.Handle(req), nil
}

func (f *fakeCluster) FetchLayout(_ context.Context, node string) (layout.Layout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.layouts[node]
	if !ok {
		return layout.Layout{}, errDown
	}
	return l, nil
}

// memStore is a single-process layout.Store.
type memStore struct {
	mu      sync.Mutex
	layouts map[uint64]layout.Layout
}

func newMemStore(initial ...layout.Layout) *memStore {
	s := &memStore{layouts: map[uint64]layout.Layout{}}
	for _, l := range initial {
		s.layouts[l.Epoch] = l
	}
	return s
}

func (s *memStore) Commit(_ context.Context, l layout.Layout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.layouts[l.Epoch]; ok {
		if cur.Equal(l) {
			return nil
		}
		return layout.ErrEpochTaken
	}
	s.layouts[l.Epoch] = l.Clone()
	return nil
}

func (s *memStore) Get(_ context.Context, epoch uint64) (layout.Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layouts[epoch]
	if !ok {
		return layout.Layout{}, layout.ErrNotFound
	}
	return l, nil
}

func (s *memStore) Latest(_ context.Context) (layout.Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best layout.Layout
	found := false
	for e, l := range s.layouts {
		if !found || e > best.Epoch {
			best, found = l, true
		}
	}
	if !found {
		return layout.Layout{}, layout.ErrNotFound
	}
	return best, nil
}

func TestDetectorPoll(t *testing.T) {
	holder := layout.NewHolder(threeNodes(5))
	fc := &fakeCluster{epochs: map[string]uint64{"n2": 7}}
	d := NewFailureDetector(DetectorOptions{Self: "n1", Holder: holder, Prober: fc, Clock: clock.NewMock()})

	r := d.Poll(context.Background())
	require.True(t, r.State.IsOk())
	require.Equal(t, uint64(5), r.PollEpoch)
	require.NotEmpty(t, r.RoundID)
	require.Equal(t, map[string]uint64{"n2": 7}, r.WrongEpochs)
	require.Equal(t, []string{"n3"}, r.FailedNodes())
	require.Equal(t, []string{"n2"}, r.AllReachableNodes())
	require.Empty(t, r.ReachableNodes())
	require.Equal(t, 2, fc.probes, "self is never probed")

	slot, ok := r.LayoutSlotUnfilled(holder.Layout())
	require.True(t, ok)
	require.Equal(t, uint64(7), slot)
}

func TestDetectorRoundIDsIncrease(t *testing.T) {
	mock := clock.NewMock()
	d := NewFailureDetector(DetectorOptions{
		Self:   "n1",
		Holder: layout.NewHolder(threeNodes(1)),
		Prober: &fakeCluster{epochs: map[string]uint64{"n2": 1, "n3": 1}},
		Clock:  mock,
	})
	a := d.Poll(context.Background())
	b := d.Poll(context.Background())
	require.Less(t, a.RoundID, b.RoundID)
}

func TestDetectorCanceledRoundFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewFailureDetector(DetectorOptions{
		Self:   "n1",
		Holder: layout.NewHolder(threeNodes(1)),
		Prober: &fakeCluster{},
		Clock:  clock.NewMock(),
	})
	r := d.Poll(ctx)
	require.False(t, r.State.IsOk())
	require.ErrorIs(t, r.State.Err(), context.Canceled)
	require.Empty(t, r.FailedNodes())
}

func TestDetectorNoMembership(t *testing.T) {
	d := NewFailureDetector(DetectorOptions{Self: "n1", Prober: &fakeCluster{}})
	r := d.Poll(context.Background())
	require.ErrorIs(t, r.State.Err(), ErrNoMembership)
}

func TestDetectorRunOnTicks(t *testing.T) {
	mock := clock.NewMock()
	d := NewFailureDetector(DetectorOptions{
		Self:     "n1",
		Holder:   layout.NewHolder(threeNodes(1)),
		Prober:   &fakeCluster{epochs: map[string]uint64{"n2": 1, "n3": 1}},
		Interval: time.Second,
		Clock:    mock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reports := make(chan PollReport, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx, func(_ context.Context, r PollReport) {
			select {
			case reports <- r:
			default:
			}
		})
	}()

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return len(reports) > 0
	}, 2*time.Second, 10*time.Millisecond)
	r := <-reports
	require.Equal(t, []string{"n2", "n3"}, r.ReachableNodes())

	cancel()
	<-done
}

func TestReconcilerAdoptsNewerLayout(t *testing.T) {
	holder := layout.NewHolder(threeNodes(5))
	newer := threeNodes(7)
	newer.Unresponsive = []string{"n3"}
	fc := &fakeCluster{
		epochs:  map[string]uint64{"n2": 7},
		layouts: map[string]layout.Layout{"n2": newer},
	}
	var adopted []uint64
	rec := NewReconciler(ReconcilerOptions{
		Holder:  holder,
		Fetcher: fc,
		Adopt: func(_ context.Context, l layout.Layout) error {
			adopted = append(adopted, l.Epoch)
			return nil
		},
	})

	d := NewFailureDetector(DetectorOptions{Self: "n1", Holder: holder, Prober: fc, Clock: clock.NewMock()})
	state := rec.Handle(context.Background(), d.Poll(context.Background()))
	require.Equal(t, Stable, state)
	require.Equal(t, uint64(7), holder.Epoch())
	require.Equal(t, []uint64{7}, adopted)
	require.True(t, holder.Layout().Equal(newer))
}

func TestReconcilerStaysSuspectUntilFetched(t *testing.T) {
	holder := layout.NewHolder(threeNodes(5))
	fc := &fakeCluster{epochs: map[string]uint64{"n2": 7}}
	rec := NewReconciler(ReconcilerOptions{Holder: holder, Fetcher: fc})
	d := NewFailureDetector(DetectorOptions{Self: "n1", Holder: holder, Prober: fc, Clock: clock.NewMock()})

	require.Equal(t, SuspectStale, rec.Handle(context.Background(), d.Poll(context.Background())))
	st, candidate := rec.State()
	require.Equal(t, SuspectStale, st)
	require.Equal(t, uint64(7), candidate)
	require.Equal(t, uint64(5), holder.Epoch())

	// A later round without the peer keeps the suspicion.
	empty := PollReport{WrongEpochs: map[string]uint64{}, State: stateOf(nil, nil)}
	require.Equal(t, SuspectStale, rec.Handle(context.Background(), empty))

	fc.layouts = map[string]layout.Layout{"n2": threeNodes(7)}
	require.Equal(t, SuspectStale, rec.Handle(context.Background(), empty), "no wrong-epoch peer to fetch from")

	require.Equal(t, Stable, rec.Handle(context.Background(), d.Poll(context.Background())))
	require.Equal(t, uint64(7), holder.Epoch())
}

func TestReconcilerPrefersStore(t *testing.T) {
	holder := layout.NewHolder(threeNodes(5))
	store := newMemStore(threeNodes(5), threeNodes(8))
	rec := NewReconciler(ReconcilerOptions{Holder: holder, Store: store})

	r := PollReport{WrongEpochs: map[string]uint64{"n2": 8}, State: stateOf([]string{"n2"}, nil)}
	require.Equal(t, Stable, rec.Handle(context.Background(), r))
	require.Equal(t, uint64(8), holder.Epoch())
}

func TestReconcilerIgnoresLowerEpochs(t *testing.T) {
	holder := layout.NewHolder(threeNodes(5))
	rec := NewReconciler(ReconcilerOptions{Holder: holder})
	r := PollReport{WrongEpochs: map[string]uint64{"n2": 3}, State: stateOf([]string{"n2"}, nil)}
	require.Equal(t, Stable, rec.Handle(context.Background(), r))
	require.Equal(t, uint64(5), holder.Epoch())
}

func TestReconcilerAdoptFailureKeepsLayout(t *testing.T) {
	holder := layout.NewHolder(threeNodes(5))
	rec := NewReconciler(ReconcilerOptions{
		Holder: holder,
		Store:  newMemStore(threeNodes(6)),
		Adopt:  func(context.Context, layout.Layout) error { return errors.New("seal failed") },
	})
	r := PollReport{WrongEpochs: map[string]uint64{"n2": 6}, State: stateOf([]string{"n2"}, nil)}
	require.Equal(t, SuspectStale, rec.Handle(context.Background(), r))
	require.Equal(t, uint64(5), holder.Epoch())
}

func newAgent(t *testing.T, self string, holder *layout.Holder, store layout.Store, fc *fakeCluster) *Agent {
	t.Helper()
	rec := NewReconciler(ReconcilerOptions{Holder: holder, Store: store, Fetcher: fc})
	d := NewFailureDetector(DetectorOptions{Self: self, Holder: holder, Prober: fc, Clock: clock.NewMock()})
	return NewAgent(AgentOptions{Self: self, Holder: holder, Store: store, Detector: d, Reconciler: rec})
}

func TestAgentMarksFailedNodeUnresponsive(t *testing.T) {
	holder := layout.NewHolder(threeNodes(1))
	store := newMemStore(threeNodes(1))
	fc := &fakeCluster{epochs: map[string]uint64{"n2": 1}}
	a := newAgent(t, "n1", holder, store, fc)

	committed, err := a.Handle(context.Background(), a.detector.Poll(context.Background()))
	require.NoError(t, err)
	require.NotNil(t, committed)
	require.Equal(t, uint64(2), committed.Epoch)
	require.Equal(t, []string{"n3"}, committed.Unresponsive)
	require.Equal(t, uint64(2), holder.Epoch())

	stored, err := store.Get(context.Background(), 2)
	require.NoError(t, err)
	require.True(t, stored.Equal(*committed))

	// n3 comes back: the next layout clears it.
	fc.epochs = map[string]uint64{"n2": 2, "n3": 2}
	committed, err = a.Handle(context.Background(), a.detector.Poll(context.Background()))
	require.NoError(t, err)
	require.NotNil(t, committed)
	require.Equal(t, uint64(3), committed.Epoch)
	require.Empty(t, committed.Unresponsive)
}

func TestAgentNoChangeNoProposal(t *testing.T) {
	holder := layout.NewHolder(threeNodes(1))
	store := newMemStore(threeNodes(1))
	a := newAgent(t, "n1", holder, store, &fakeCluster{epochs: map[string]uint64{"n2": 1, "n3": 1}})

	committed, err := a.Handle(context.Background(), a.detector.Poll(context.Background()))
	require.NoError(t, err)
	require.Nil(t, committed)
	require.Equal(t, uint64(1), holder.Epoch())
}

func TestAgentOnlyFirstReachableLayoutServerProposes(t *testing.T) {
	holder := layout.NewHolder(threeNodes(1))
	store := newMemStore(threeNodes(1))
	// n2 sees n1 and n3 down, but n1 precedes it only if reachable.
	a := newAgent(t, "n2", holder, store, &fakeCluster{epochs: map[string]uint64{"n1": 1}})

	committed, err := a.Handle(context.Background(), a.detector.Poll(context.Background()))
	require.NoError(t, err)
	require.Nil(t, committed, "n1 is reachable and proposes")

	a = newAgent(t, "n2", holder, store, &fakeCluster{epochs: map[string]uint64{"n3": 1}})
	committed, err = a.Handle(context.Background(), a.detector.Poll(context.Background()))
	require.NoError(t, err)
	require.NotNil(t, committed)
	require.Equal(t, []string{"n1"}, committed.Unresponsive)
}

func TestAgentLosesRaceAdoptsWinner(t *testing.T) {
	holder := layout.NewHolder(threeNodes(1))
	winner := threeNodes(2)
	winner.Unresponsive = []string{"n2"}
	store := newMemStore(threeNodes(1), winner)
	a := newAgent(t, "n1", holder, store, &fakeCluster{epochs: map[string]uint64{"n2": 1}})

	committed, err := a.Handle(context.Background(), a.detector.Poll(context.Background()))
	require.NoError(t, err)
	require.NotNil(t, committed)
	require.True(t, committed.Equal(winner))
	require.True(t, holder.Layout().Equal(winner))
}

func TestAgentSkipsWhileSuspect(t *testing.T) {
	holder := layout.NewHolder(threeNodes(1))
	store := newMemStore(threeNodes(1))
	a := newAgent(t, "n1", holder, store, &fakeCluster{epochs: map[string]uint64{"n2": 4}})

	committed, err := a.Handle(context.Background(), a.detector.Poll(context.Background()))
	require.NoError(t, err)
	require.Nil(t, committed)
	require.Equal(t, uint64(1), holder.Epoch())
}
