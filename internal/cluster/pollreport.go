package cluster

import (
	"sort"
	"time"

	"github.com/rzbill/flolog/internal/layout"
)

// PollReport is the outcome of one detection round. Derived node sets are
// computed on demand. When State holds an error only the wrong-epoch peers
// remain visible, through AllReachableNodes.
type PollReport struct {
	RoundID     string
	PollEpoch   uint64
	WrongEpochs map[string]uint64
	State       Result[ClusterState]
	Elapsed     time.Duration
}

// AllReachableNodes returns the reachable nodes plus wrong-epoch peers; an
// epoch mismatch still proves liveness.
func (r PollReport) AllReachableNodes() []string {
	set := make(map[string]struct{})
	for _, n := range r.ReachableNodes() {
		set[n] = struct{}{}
	}
	for n := range r.WrongEpochs {
		set[n] = struct{}{}
	}
	return sortedKeys(set)
}

// ReachableNodes returns connected nodes minus wrong-epoch peers.
func (r PollReport) ReachableNodes() []string {
	st, err := r.State.Get()
	if err != nil {
		return nil
	}
	return r.withoutWrongEpoch(st.ConnectedNodes())
}

// FailedNodes returns failed nodes minus wrong-epoch peers. A definitive
// epoch answer outweighs a probe timeout from another signal.
func (r PollReport) FailedNodes() []string {
	st, err := r.State.Get()
	if err != nil {
		return nil
	}
	return r.withoutWrongEpoch(st.FailedNodes())
}

// LayoutSlotUnfilled returns the highest epoch reported by any wrong-epoch
// peer when it is strictly greater than the committed layout's epoch.
func (r PollReport) LayoutSlotUnfilled(l layout.Layout) (uint64, bool) {
	highest := l.Epoch
	for _, e := range r.WrongEpochs {
		if e > highest {
			highest = e
		}
	}
	if highest > l.Epoch {
		return highest, true
	}
	return 0, false
}

func (r PollReport) withoutWrongEpoch(nodes []string) []string {
	var out []string
	for _, n := range nodes {
		if _, wrong := r.WrongEpochs[n]; !wrong {
			out = append(out, n)
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
