package listener

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/eventlog"
	"github.com/rzbill/flolog/internal/sequencer"
	"github.com/rzbill/flolog/internal/stream"
	logpkg "github.com/rzbill/flolog/pkg/log"
)

// Options configures a Registry.
type Options struct {
	Sequencer sequencer.Sequencer
	Log       eventlog.AddressSpace
	// Filler reads issued addresses; defaults to a HoleFiller over Log.
	Filler *eventlog.HoleFiller
	// Poll bounds how long a caught-up subscription waits before checking
	// the sequencer tail again.
	Poll   time.Duration
	Clock  clock.Clock
	Logger logpkg.Logger
}

// SubscribeOptions selects what a subscription receives.
type SubscribeOptions struct {
	// Streams limits delivery to these streams; empty means all.
	Streams []uuid.UUID
	// From is the first address examined.
	From uint64
	// Filter is a CEL expression applied per record.
	Filter string
}

// Registry owns the subscriptions of one node.
type Registry struct {
	seq    sequencer.Sequencer
	log    eventlog.AddressSpace
	filler *eventlog.HoleFiller
	poll   time.Duration
	clock  clock.Clock
	logger logpkg.Logger

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
	wg     sync.WaitGroup
}

type subscription struct {
	l       StreamListener
	streams map[uuid.UUID]struct{}
	filter  Filter
	cancel  context.CancelFunc
	stopped atomic.Bool
	next    uint64
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Poll <= 0 {
		opts.Poll = 50 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	if opts.Filler == nil {
		opts.Filler = eventlog.NewHoleFiller(opts.Log, eventlog.HoleFillOptions{Clock: opts.Clock, Logger: opts.Logger})
	}
	return &Registry{
		seq:    opts.Sequencer,
		log:    opts.Log,
		filler: opts.Filler,
		poll:   opts.Poll,
		clock:  opts.Clock,
		logger: opts.Logger.WithComponent("listener"),
		subs:   make(map[string]*subscription),
	}
}

// Subscribe registers l and starts delivering from opts.From.
func (r *Registry) Subscribe(l StreamListener, opts SubscribeOptions) error {
	filter, err := CompileFilter(opts.Filter)
	if err != nil {
		return err
	}
	sub := &subscription{l: l, filter: filter, next: opts.From}
	if len(opts.Streams) > 0 {
		sub.streams = make(map[uuid.UUID]struct{}, len(opts.Streams))
		for _, id := range opts.Streams {
			sub.streams[id] = struct{}{}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if _, dup := r.subs[l.ID()]; dup {
		return ErrAlreadyRegistered
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub.cancel = cancel
	r.subs[l.ID()] = sub
	r.wg.Add(1)
	go r.run(ctx, sub)
	r.logger.Debug("subscribed", logpkg.Str("listener", l.ID()), logpkg.Uint64("from", opts.From))
	return nil
}

// Unsubscribe stops delivery to the listener with id. A delivery already in
// progress completes; none starts afterwards. It reports whether id was
// registered.
func (r *Registry) Unsubscribe(id string) bool {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	r.mu.Unlock()
	if ok {
		sub.stopped.Store(true)
		sub.cancel()
	}
	return ok
}

// Registered reports whether a listener with id is subscribed.
func (r *Registry) Registered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[id]
	return ok
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Close unsubscribes everyone and waits for delivery goroutines to exit.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	subs := r.subs
	r.subs = make(map[string]*subscription)
	r.mu.Unlock()
	for _, sub := range subs {
		sub.stopped.Store(true)
		sub.cancel()
	}
	r.wg.Wait()
	return nil
}

func (r *Registry) run(ctx context.Context, sub *subscription) {
	defer r.wg.Done()
	for {
		tail, err := r.seq.Tail(ctx)
		if err != nil {
			r.fail(ctx, sub, err)
			return
		}
		for sub.next < tail {
			e, err := r.filler.ReadOrFill(ctx, sub.next)
			if err != nil {
				r.fail(ctx, sub, err)
				return
			}
			if batch, ok := sub.batch(sub.next, e); ok {
				if sub.stopped.Load() {
					return
				}
				sub.l.OnNext(batch)
			}
			sub.next++
		}
		if !r.wait(ctx) {
			return
		}
	}
}

// wait blocks until the log may have grown or ctx ends.
func (r *Registry) wait(ctx context.Context) bool {
	if w, ok := r.log.(eventlog.AppendWaiter); ok {
		w.WaitForAppend(r.poll)
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-r.clock.After(r.poll):
		return true
	}
}

func (r *Registry) fail(ctx context.Context, sub *subscription, err error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}
	r.mu.Lock()
	if cur, ok := r.subs[sub.l.ID()]; ok && cur == sub {
		delete(r.subs, sub.l.ID())
	}
	r.mu.Unlock()
	if !sub.stopped.CompareAndSwap(false, true) {
		return
	}
	sub.cancel()
	le := classify(sub.next, err)
	r.logger.Warn("subscription ended", logpkg.Str("listener", sub.l.ID()),
		logpkg.Str("kind", le.Kind.String()), logpkg.Err(err))
	sub.l.OnError(le)
}

// batch extracts the records of e the subscription wants.
func (s *subscription) batch(addr uint64, e eventlog.Entry) (Batch, bool) {
	if e.IsHole() {
		return Batch{}, false
	}
	b := Batch{Address: addr, Epoch: e.Epoch}
	streams := e.Streams()
	for _, rec := range e.Records {
		if s.streams != nil {
			if _, want := s.streams[rec.Stream]; !want {
				continue
			}
		}
		ts := eventlog.Timestamp{Epoch: e.Epoch, Global: addr, Local: rec.Seq}
		if !s.filter.Match(ts, rec.Stream, rec.Payload) {
			continue
		}
		if b.Streams == nil {
			b.Streams = make(map[uuid.UUID][]stream.Entry)
		}
		b.Streams[rec.Stream] = append(b.Streams[rec.Stream], stream.Entry{
			Timestamp: ts,
			Payload:   rec.Payload,
			Streams:   streams,
		})
	}
	return b, b.Streams != nil
}
