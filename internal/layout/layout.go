// Package layout holds the committed cluster membership contract and the
// stores that decide which layout is committed for each epoch.
package layout

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotFound is returned when no layout is committed for an epoch.
	ErrNotFound = errors.New("layout: not found")
	// ErrEpochTaken is returned when a different layout was already committed
	// for the proposed epoch.
	ErrEpochTaken = errors.New("layout: epoch already committed")
	// ErrEpochOvershot is returned by WaitForEpoch when the committed epoch
	// moved past the awaited one.
	ErrEpochOvershot = errors.New("layout: epoch moved past target")
	// ErrInvalid is returned for layouts that cannot be committed.
	ErrInvalid = errors.New("layout: invalid")
)

// Layout is the membership contract of one epoch.
type Layout struct {
	Epoch         uint64   `json:"epoch" yaml:"epoch"`
	ClusterID     string   `json:"clusterId" yaml:"clusterId"`
	LayoutServers []string `json:"layoutServers" yaml:"layoutServers"`
	Sequencers    []string `json:"sequencers" yaml:"sequencers"`
	LogServers    []string `json:"logServers" yaml:"logServers"`
	Unresponsive  []string `json:"unresponsive,omitempty" yaml:"unresponsive,omitempty"`
}

// Validate checks the layout can serve as a committed contract.
func (l Layout) Validate() error {
	switch {
	case len(l.LayoutServers) == 0:
		return fmt.Errorf("%w: no layout servers", ErrInvalid)
	case len(l.Sequencers) == 0:
		return fmt.Errorf("%w: no sequencers", ErrInvalid)
	case len(l.LogServers) == 0:
		return fmt.Errorf("%w: no log servers", ErrInvalid)
	}
	return nil
}

// Nodes returns every node named in the layout, sorted and deduplicated.
func (l Layout) Nodes() []string {
	set := make(map[string]struct{})
	for _, group := range [][]string{l.LayoutServers, l.Sequencers, l.LogServers, l.Unresponsive} {
		for _, n := range group {
			set[n] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsUnresponsive reports whether node is marked unresponsive.
func (l Layout) IsUnresponsive(node string) bool {
	for _, n := range l.Unresponsive {
		if n == node {
			return true
		}
	}
	return false
}

// ActiveNodes returns Nodes minus the unresponsive set.
func (l Layout) ActiveNodes() []string {
	var out []string
	for _, n := range l.Nodes() {
		if !l.IsUnresponsive(n) {
			out = append(out, n)
		}
	}
	return out
}

// PrimarySequencer is the first responsive sequencer.
func (l Layout) PrimarySequencer() (string, bool) {
	for _, n := range l.Sequencers {
		if !l.IsUnresponsive(n) {
			return n, true
		}
	}
	return "", false
}

// Clone returns a deep copy.
func (l Layout) Clone() Layout {
	c := l
	c.LayoutServers = append([]string(nil), l.LayoutServers...)
	c.Sequencers = append([]string(nil), l.Sequencers...)
	c.LogServers = append([]string(nil), l.LogServers...)
	c.Unresponsive = append([]string(nil), l.Unresponsive...)
	return c
}

// Successor returns the layout for the next epoch with the given nodes
// marked unresponsive. Nodes not listed become responsive again.
func (l Layout) Successor(unresponsive []string) Layout {
	next := l.Clone()
	next.Epoch = l.Epoch + 1
	known := make(map[string]bool)
	for _, n := range l.Nodes() {
		known[n] = true
	}
	next.Unresponsive = nil
	for _, n := range unresponsive {
		if known[n] && !next.IsUnresponsive(n) {
			next.Unresponsive = append(next.Unresponsive, n)
		}
	}
	sort.Strings(next.Unresponsive)
	return next
}

// Equal compares two layouts, treating the unresponsive set as unordered.
func (l Layout) Equal(o Layout) bool {
	if l.Epoch != o.Epoch || l.ClusterID != o.ClusterID {
		return false
	}
	return equalStrings(l.LayoutServers, o.LayoutServers) &&
		equalStrings(l.Sequencers, o.Sequencers) &&
		equalStrings(l.LogServers, o.LogServers) &&
		equalStrings(sorted(l.Unresponsive), sorted(o.Unresponsive))
}

func sorted(s []string) []string {
	c := append([]string(nil), s...)
	sort.Strings(c)
	return c
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
