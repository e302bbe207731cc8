// Package cluster detects peer failures and keeps the committed layout
// current.
//
// A FailureDetector probes every node of the committed layout each round and
// produces a PollReport. Peers that answer at another epoch are alive but
// disagree on the layout; a higher epoch from any of them moves the
// Reconciler to SUSPECT_STALE until a layout at least that new is fetched and
// adopted. The Agent commits successor layouts through a layout.Store when
// the local node is the first reachable layout server.
package cluster
