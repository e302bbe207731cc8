package grpcserver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/cluster"
	cfgpkg "github.com/rzbill/flolog/internal/config"
	"github.com/rzbill/flolog/internal/eventlog"
	"github.com/rzbill/flolog/internal/faultinject"
	"github.com/rzbill/flolog/internal/listener"
	"github.com/rzbill/flolog/internal/runtime"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
	"github.com/rzbill/flolog/internal/stream"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const (
	bufSize = 1 << 20
	bufNode = "passthrough:///bufnet"
)

var _ runtime.Transport = (*Peers)(nil)

func dialer(s *grpc.Server) func(context.Context, string) (net.Conn, error) {
	lis := bufconn.Listen(bufSize)
	go func() { _ = s.Serve(lis) }()
	return func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
}

type harness struct {
	rt     *runtime.Runtime
	srv    *Server
	dial   func(context.Context, string) (net.Conn, error)
	client *Client
}

func newHarness(t *testing.T, opts ...grpc.DialOption) *harness {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	require.NoError(t, err)
	srv := New(rt)
	d := dialer(srv.grpc)
	c, err := Dial(bufNode, append([]grpc.DialOption{grpc.WithContextDialer(d)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
		srv.Close()
		_ = rt.Close()
	})
	return &harness{rt: rt, srv: srv, dial: d, client: c}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestHealthOverGRPC(t *testing.T) {
	h := newHarness(t)
	status, err := h.client.Check(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, "ok", status)
}

func TestLogUnitOverGRPC(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)
	lu := h.client.LogUnit()
	id := uuid.New()
	a := eventlog.Entry{Type: eventlog.EntryData, Records: []eventlog.Record{{Stream: id, Payload: []byte("a")}}}
	b := eventlog.Entry{Type: eventlog.EntryData, Records: []eventlog.Record{{Stream: id, Payload: []byte("b")}}}

	require.NoError(t, lu.Write(ctx, 0, a))
	require.ErrorIs(t, lu.Write(ctx, 0, b), eventlog.ErrOverwrite)
	got, err := lu.Read(ctx, 0)
	require.NoError(t, err)
	require.True(t, got.Equal(a), "read %+v", got)

	_, err = lu.Read(ctx, 5)
	require.ErrorIs(t, err, eventlog.ErrNotWritten)
	tail, err := lu.Tail(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), tail)

	require.NoError(t, lu.Seal(ctx, 2))
	err = lu.Write(ctx, 1, b)
	require.ErrorIs(t, err, eventlog.ErrWrongEpoch)
	epoch, ok := eventlog.CurrentEpoch(err)
	require.True(t, ok)
	require.Equal(t, uint64(2), epoch)

	require.NoError(t, lu.Trim(ctx, 0))
	_, err = lu.Read(ctx, 0)
	require.ErrorIs(t, err, eventlog.ErrTrimmed)
	mark, err := lu.TrimMark(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), mark)
}

func TestStreamOverRemoteNode(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)
	env := stream.Env{Sequencer: h.client.Sequencer(), Log: h.client.LogUnit()}
	id := uuid.New()
	s, err := stream.Open(env, id, eventlog.Cursor{})
	require.NoError(t, err)

	for _, p := range []string{"x", "y"} {
		_, err := s.Append(ctx, []byte(p))
		require.NoError(t, err)
	}
	entries, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "x", string(entries[0].Payload))
	require.Equal(t, "y", string(entries[1].Payload))

	cur, err := h.client.Sequencer().Current(ctx, id)
	require.NoError(t, err)
	require.Equal(t, uint64(2), cur)
	local, err := h.rt.Sequencer().Tail(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), local)
}

func TestPeersProbeLayoutAndGossip(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)
	peers := NewPeers(grpc.WithContextDialer(h.dial))
	t.Cleanup(func() { _ = peers.Close() })

	resp, err := peers.Probe(ctx, bufNode, cluster.ProbeRequest{Epoch: 0, From: "other"})
	require.NoError(t, err)
	require.Equal(t, cluster.ProbeOK, resp.Status)
	resp, err = peers.Probe(ctx, bufNode, cluster.ProbeRequest{Epoch: 3, From: "other"})
	require.NoError(t, err)
	require.Equal(t, cluster.ProbeWrongEpoch, resp.Status)
	require.Equal(t, uint64(0), resp.Epoch)

	l, err := peers.FetchLayout(ctx, bufNode)
	require.NoError(t, err)
	require.True(t, l.Equal(h.rt.Holder().Layout()))

	msg := cluster.StreamCreated{
		StreamID:  stream.TableID("default", "remote"),
		LogID:     runtime.LogID(""),
		Namespace: "default",
		Table:     "remote",
	}
	require.NoError(t, peers.AnnounceStream(ctx, bufNode, msg))
	info, err := h.rt.Directory().Get(msg.StreamID)
	require.NoError(t, err)
	require.Equal(t, "remote", info.Table)
}

func TestDroppedCallsAreUnreachable(t *testing.T) {
	rules := &faultinject.Rules{}
	h := newHarness(t, grpc.WithUnaryInterceptor(faultinject.UnaryClientInterceptor(rules)))
	ctx := testCtx(t)

	rules.Add(faultinject.MethodIs(fullMethod(clusterService, "Probe")).Drop())
	_, err := h.client.Probe(ctx, cluster.ProbeRequest{})
	require.ErrorIs(t, err, eventlog.ErrUnreachable)

	// Other methods still pass.
	_, err = h.client.LogUnit().Tail(ctx)
	require.NoError(t, err)

	rules.Clear()
	_, err = h.client.Probe(ctx, cluster.ProbeRequest{})
	require.NoError(t, err)
}

type collector struct {
	id string

	mu      sync.Mutex
	batches []listener.Batch
	errs    []error
}

func (c *collector) ID() string { return c.id }

func (c *collector) OnNext(b listener.Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
}

func (c *collector) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func TestSubscribeOverGRPC(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)
	s, info, err := h.rt.OpenStream(ctx, "default", "orders")
	require.NoError(t, err)
	for _, p := range []string{"a", "b", "c"} {
		_, err := s.Append(ctx, []byte(p))
		require.NoError(t, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	col := &collector{id: "remote-1"}
	done := make(chan error, 1)
	go func() {
		done <- h.client.Subscribe(subCtx, SubscribeRequest{Streams: []uuid.UUID{info.ID}, Filter: "text != 'b'"}, col)
	}()
	require.Eventually(t, func() bool { return col.count() == 2 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.rt.Listeners().Registered("remote-1") }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	require.Eventually(t, func() bool { return !h.rt.Listeners().Registered("remote-1") }, 3*time.Second, 10*time.Millisecond)

	col.mu.Lock()
	defer col.mu.Unlock()
	require.Empty(t, col.errs)
	require.Equal(t, "a", string(col.batches[0].Streams[info.ID][0].Payload))
	require.Equal(t, "c", string(col.batches[1].Streams[info.ID][0].Payload))
}
