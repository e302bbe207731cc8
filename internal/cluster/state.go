package cluster

import "sort"

// Connectivity is the probing node's view of one peer.
type Connectivity int

const (
	Connected Connectivity = iota
	Failed
)

func (c Connectivity) String() string {
	if c == Connected {
		return "connected"
	}
	return "failed"
}

// NodeConnectivity records one probe outcome.
type NodeConnectivity struct {
	Node   string       `json:"node"`
	Status Connectivity `json:"status"`
	// Epoch is the epoch the peer answered with, zero when it did not answer.
	Epoch uint64 `json:"epoch"`
	Error string `json:"error,omitempty"`
}

// ClusterState is one round's connectivity snapshot from the local node.
type ClusterState struct {
	Local string                      `json:"local"`
	Nodes map[string]NodeConnectivity `json:"nodes"`
}

// NewClusterState returns an empty state for local.
func NewClusterState(local string) ClusterState {
	return ClusterState{Local: local, Nodes: make(map[string]NodeConnectivity)}
}

// Set records a probe outcome.
func (s ClusterState) Set(nc NodeConnectivity) { s.Nodes[nc.Node] = nc }

// ConnectedNodes returns peers classified connected, sorted.
func (s ClusterState) ConnectedNodes() []string { return s.with(Connected) }

// FailedNodes returns peers classified failed, sorted.
func (s ClusterState) FailedNodes() []string { return s.with(Failed) }

func (s ClusterState) with(c Connectivity) []string {
	var out []string
	for n, nc := range s.Nodes {
		if nc.Status == c {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
