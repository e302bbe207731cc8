package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/cluster"
	"github.com/rzbill/flolog/internal/eventlog"
	"github.com/rzbill/flolog/internal/layout"
	"github.com/rzbill/flolog/internal/listener"
	"github.com/rzbill/flolog/internal/sequencer"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client talks to one node.
type Client struct {
	node string
	conn grpc.ClientConnInterface
	// closer is nil when the caller owns the connection.
	closer io.Closer
}

// Dial returns a client for node. No connection is made until the first
// call.
func Dial(node string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	conn, err := grpc.NewClient(node, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", node, err)
	}
	return &Client{node: node, conn: conn, closer: conn}, nil
}

// NewClient wraps an existing connection to node.
func NewClient(node string, conn grpc.ClientConnInterface) *Client {
	return &Client{node: node, conn: conn}
}

func (c *Client) Node() string { return c.node }

// Close releases the connection if Dial created it.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, service, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(service, method), req, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, transportErr(ctx, err)
	}
	return out, nil
}

// Check returns the node's health status.
func (c *Client) Check(ctx context.Context) (string, error) {
	resp, err := invoke[HealthResponse](ctx, c, healthService, "Check", &Empty{})
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *Client) Probe(ctx context.Context, req cluster.ProbeRequest) (cluster.ProbeResponse, error) {
	resp, err := invoke[cluster.ProbeResponse](ctx, c, clusterService, "Probe", &req)
	if err != nil {
		return cluster.ProbeResponse{}, err
	}
	return *resp, nil
}

// FetchLayout returns the layout the node has installed.
func (c *Client) FetchLayout(ctx context.Context) (layout.Layout, error) {
	resp, err := invoke[LayoutResponse](ctx, c, clusterService, "GetLayout", &Empty{})
	if err != nil {
		return layout.Layout{}, err
	}
	if resp.Err != nil {
		return layout.Layout{}, resp.Err.Err()
	}
	return resp.Layout, nil
}

// AnnounceStream tells the node about a stream created elsewhere.
func (c *Client) AnnounceStream(ctx context.Context, msg cluster.StreamCreated) error {
	resp, err := invoke[Ack](ctx, c, clusterService, "StreamCreated", &msg)
	if err != nil {
		return err
	}
	return resp.Err.Err()
}

// LogUnit returns the node's address space.
func (c *Client) LogUnit() *LogUnitClient { return &LogUnitClient{c: c} }

// Sequencer returns the node's sequencer.
func (c *Client) Sequencer() *SequencerClient { return &SequencerClient{c: c} }

// Subscribe streams batches from the node to l until the subscription ends,
// the node goes away or ctx is done. A subscription the node ends is
// reported through l.OnError and Subscribe returns nil.
func (c *Client) Subscribe(ctx context.Context, req SubscribeRequest, l listener.StreamListener) error {
	if req.ID == "" {
		req.ID = l.ID()
	}
	cs, err := c.conn.NewStream(ctx, &listenerServiceDesc.Streams[0], fullMethod(listenerService, "Subscribe"),
		grpc.CallContentSubtype(codecName))
	if err != nil {
		return transportErr(ctx, err)
	}
	if err := cs.SendMsg(&req); err != nil {
		return transportErr(ctx, err)
	}
	if err := cs.CloseSend(); err != nil {
		return transportErr(ctx, err)
	}
	for {
		var ev SubscribeEvent
		if err := cs.RecvMsg(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return transportErr(ctx, err)
		}
		if ev.Err != nil {
			kind := listener.Fatal
			if ev.Recoverable {
				kind = listener.Recoverable
			}
			l.OnError(&listener.Error{Kind: kind, Address: ev.Address, Err: ev.Err.Err()})
			return nil
		}
		if ev.Batch != nil {
			l.OnNext(*ev.Batch)
		}
	}
}

// LogUnitClient is a remote eventlog.AddressSpace.
type LogUnitClient struct {
	c *Client
}

var _ eventlog.AddressSpace = (*LogUnitClient)(nil)

func (l *LogUnitClient) Write(ctx context.Context, addr uint64, e eventlog.Entry) error {
	resp, err := invoke[Ack](ctx, l.c, logUnitService, "Write", &WriteRequest{Addr: addr, Entry: eventlog.MarshalEntry(e)})
	if err != nil {
		return err
	}
	return resp.Err.Err()
}

func (l *LogUnitClient) Read(ctx context.Context, addr uint64) (eventlog.Entry, error) {
	resp, err := invoke[ReadResponse](ctx, l.c, logUnitService, "Read", &AddrRequest{Addr: addr})
	if err != nil {
		return eventlog.Entry{}, err
	}
	if resp.Err != nil {
		return eventlog.Entry{}, resp.Err.Err()
	}
	return eventlog.UnmarshalEntry(resp.Entry)
}

func (l *LogUnitClient) Tail(ctx context.Context) (uint64, error) {
	return addrCall(ctx, l.c, logUnitService, "Tail", &Empty{})
}

func (l *LogUnitClient) TrimMark(ctx context.Context) (uint64, error) {
	return addrCall(ctx, l.c, logUnitService, "TrimMark", &Empty{})
}

func (l *LogUnitClient) Trim(ctx context.Context, addr uint64) error {
	resp, err := invoke[Ack](ctx, l.c, logUnitService, "Trim", &AddrRequest{Addr: addr})
	if err != nil {
		return err
	}
	return resp.Err.Err()
}

func (l *LogUnitClient) Seal(ctx context.Context, epoch uint64) error {
	resp, err := invoke[Ack](ctx, l.c, logUnitService, "Seal", &SealRequest{Epoch: epoch})
	if err != nil {
		return err
	}
	return resp.Err.Err()
}

// SequencerClient is a remote sequencer.Sequencer.
type SequencerClient struct {
	c *Client
}

var _ sequencer.Sequencer = (*SequencerClient)(nil)

func (s *SequencerClient) Next(ctx context.Context, epoch uint64, streams ...uuid.UUID) (sequencer.Token, error) {
	resp, err := invoke[NextResponse](ctx, s.c, sequencerService, "Next", &NextRequest{Epoch: epoch, Streams: streams})
	if err != nil {
		return sequencer.Token{}, err
	}
	if resp.Err != nil {
		return sequencer.Token{}, resp.Err.Err()
	}
	return resp.Token, nil
}

func (s *SequencerClient) Current(ctx context.Context, stream uuid.UUID) (uint64, error) {
	return addrCall(ctx, s.c, sequencerService, "Current", &CurrentRequest{Stream: stream})
}

func (s *SequencerClient) Tail(ctx context.Context) (uint64, error) {
	return addrCall(ctx, s.c, sequencerService, "Tail", &Empty{})
}

func addrCall(ctx context.Context, c *Client, service, method string, req any) (uint64, error) {
	resp, err := invoke[AddrResponse](ctx, c, service, method, req)
	if err != nil {
		return 0, err
	}
	if resp.Err != nil {
		return 0, resp.Err.Err()
	}
	return resp.Addr, nil
}

// Peers keeps one client per node, dialing on first use. It is the
// transport a runtime probes and gossips through.
type Peers struct {
	opts []grpc.DialOption

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPeers returns an empty peer set; opts apply to every dial.
func NewPeers(opts ...grpc.DialOption) *Peers {
	return &Peers{opts: opts, clients: make(map[string]*Client)}
}

// Client returns the client for node.
func (p *Peers) Client(node string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[node]; ok {
		return c, nil
	}
	c, err := Dial(node, p.opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", eventlog.ErrUnreachable, err)
	}
	p.clients[node] = c
	return c, nil
}

func (p *Peers) Probe(ctx context.Context, node string, req cluster.ProbeRequest) (cluster.ProbeResponse, error) {
	c, err := p.Client(node)
	if err != nil {
		return cluster.ProbeResponse{}, err
	}
	return c.Probe(ctx, req)
}

func (p *Peers) FetchLayout(ctx context.Context, node string) (layout.Layout, error) {
	c, err := p.Client(node)
	if err != nil {
		return layout.Layout{}, err
	}
	return c.FetchLayout(ctx)
}

func (p *Peers) AnnounceStream(ctx context.Context, node string, msg cluster.StreamCreated) error {
	c, err := p.Client(node)
	if err != nil {
		return err
	}
	return c.AnnounceStream(ctx, msg)
}

// Close closes every dialed connection.
func (p *Peers) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	for node, c := range p.clients {
		err = multierr.Append(err, c.Close())
		delete(p.clients, node)
	}
	return err
}
