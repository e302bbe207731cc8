package controllers

import (
	"github.com/rzbill/flolog/internal/cluster"
	"github.com/rzbill/flolog/internal/eventlog"
)

// nsCreateReq represents a request to create a new namespace.
type nsCreateReq struct {
	Namespace string `json:"namespace"`
}

// tableCreateReq registers ns/table.
type tableCreateReq struct {
	Namespace string `json:"namespace"`
	Table     string `json:"table"`
}

// tableCreateResp reports whether the table already existed.
type tableCreateResp struct {
	Created bool `json:"created"`
	Table   any  `json:"table"`
}

// putReq writes one row.
type putReq struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// appendReq appends a raw payload to a table's stream.
type appendReq struct {
	Payload []byte `json:"payload"`
}

// timestampJSON is where an append landed.
type timestampJSON struct {
	Epoch  uint64 `json:"epoch"`
	Global uint64 `json:"global"`
	Local  uint64 `json:"local"`
}

func toTimestampJSON(ts eventlog.Timestamp) timestampJSON {
	return timestampJSON{Epoch: ts.Epoch, Global: ts.Global, Local: ts.Local}
}

// logStatusJSON describes the local log unit.
type logStatusJSON struct {
	Name      string `json:"name"`
	Epoch     uint64 `json:"epoch"`
	Tail      uint64 `json:"tail"`
	TrimMark  uint64 `json:"trim_mark"`
	UsedBytes int64  `json:"used_bytes"`
}

// entryJSON is one stored log entry.
type entryJSON struct {
	Addr    uint64       `json:"addr"`
	Epoch   uint64       `json:"epoch"`
	Hole    bool         `json:"hole"`
	Records []recordJSON `json:"records,omitempty"`
}

type recordJSON struct {
	Stream  string `json:"stream"`
	Seq     uint64 `json:"seq"`
	Payload []byte `json:"payload"`
}

func toEntryJSON(it eventlog.Item) entryJSON {
	out := entryJSON{Addr: it.Addr, Epoch: it.Entry.Epoch, Hole: it.Entry.Type == eventlog.EntryHole}
	for _, r := range it.Entry.Records {
		out.Records = append(out.Records, recordJSON{Stream: r.Stream.String(), Seq: r.Seq, Payload: r.Payload})
	}
	return out
}

// entriesPageJSON is one page of a log scan.
type entriesPageJSON struct {
	Items []entryJSON `json:"items"`
	Next  uint64      `json:"next"`
	More  bool        `json:"more"`
}

// pollReportJSON flattens a cluster.PollReport.
type pollReportJSON struct {
	RoundID     string                `json:"round_id"`
	PollEpoch   uint64                `json:"poll_epoch"`
	Reachable   []string              `json:"reachable"`
	Failed      []string              `json:"failed"`
	WrongEpochs map[string]uint64     `json:"wrong_epochs,omitempty"`
	State       *cluster.ClusterState `json:"state,omitempty"`
	Error       string                `json:"error,omitempty"`
	ElapsedMs   int64                 `json:"elapsed_ms"`
}

func toPollReportJSON(rep cluster.PollReport) pollReportJSON {
	out := pollReportJSON{
		RoundID:     rep.RoundID,
		PollEpoch:   rep.PollEpoch,
		Reachable:   rep.ReachableNodes(),
		Failed:      rep.FailedNodes(),
		WrongEpochs: rep.WrongEpochs,
		ElapsedMs:   rep.Elapsed.Milliseconds(),
	}
	if st, err := rep.State.Get(); err != nil {
		out.Error = err.Error()
	} else {
		out.State = &st
	}
	return out
}

// reconcileJSON is the reconciler's view of the layout.
type reconcileJSON struct {
	State     string `json:"state"`
	Candidate uint64 `json:"candidate,omitempty"`
	Epoch     uint64 `json:"epoch"`
}
