package cluster

import "github.com/google/uuid"

// StreamCreated is gossiped to peers when a node creates a stream.
type StreamCreated struct {
	StreamID      uuid.UUID `json:"streamId"`
	LogID         uuid.UUID `json:"logId"`
	StartPosition uint64    `json:"startPosition"`
	Namespace     string    `json:"namespace,omitempty"`
	Table         string    `json:"table,omitempty"`
}

// ProbeRequest asks a peer whether it is alive and agrees on the epoch.
type ProbeRequest struct {
	Epoch   uint64 `json:"epoch"`
	From    string `json:"from"`
	RoundID string `json:"roundId,omitempty"`
}

// ProbeStatus classifies a probe reply.
type ProbeStatus int

const (
	// ProbeOK means the peer is connected at the prober's epoch.
	ProbeOK ProbeStatus = iota
	// ProbeWrongEpoch means the peer is alive but at another epoch.
	ProbeWrongEpoch
)

func (s ProbeStatus) String() string {
	switch s {
	case ProbeOK:
		return "ok"
	case ProbeWrongEpoch:
		return "wrong_epoch"
	default:
		return "unknown"
	}
}

// ProbeResponse carries normal connectivity or a wrong-epoch indication with
// the responder's current epoch.
type ProbeResponse struct {
	Node   string      `json:"node"`
	Status ProbeStatus `json:"status"`
	Epoch  uint64      `json:"epoch"`
}

// ProbeHandler answers probes on behalf of the local node.
type ProbeHandler struct {
	Self  string
	Epoch func() uint64
}

// Handle answers req, reporting wrong epoch when the prober's differs.
func (h ProbeHandler) Handle(req ProbeRequest) ProbeResponse {
	local := h.Epoch()
	if req.Epoch != local {
		return ProbeResponse{Node: h.Self, Status: ProbeWrongEpoch, Epoch: local}
	}
	return ProbeResponse{Node: h.Self, Status: ProbeOK, Epoch: local}
}
