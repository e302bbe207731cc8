package eventlog

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhangyunhao116/skipmap"
)

// MemoryLog is an in-memory address space. Write-once is enforced by the
// skip list's LoadOrStore so concurrent writers never block each other on
// distinct addresses.
type MemoryLog struct {
	entries  *skipmap.FuncMap[uint64, memSlot]
	capacity int64
	bytes    atomic.Int64
	tail     atomic.Uint64
	epoch    atomic.Uint64
	closed   atomic.Bool

	mu       sync.Mutex // guards trimMark and notifyCh
	trimMark uint64
	notifyCh chan struct{}
	hook     TrimHook
}

type memSlot struct {
	entry Entry
	size  int64
}

var (
	_ AddressSpace = (*MemoryLog)(nil)
	_ Scanner      = (*MemoryLog)(nil)
	_ AppendWaiter = (*MemoryLog)(nil)
)

// NewMemoryLog returns an empty in-memory log. capacityBytes of zero means
// unbounded.
func NewMemoryLog(capacityBytes int64) *MemoryLog {
	return &MemoryLog{
		entries:  skipmap.NewFunc[uint64, memSlot](func(a, b uint64) bool { return a < b }),
		capacity: capacityBytes,
		notifyCh: make(chan struct{}),
		hook:     noopTrimHook{},
	}
}

// SetTrimHook installs a hook observing trimmed ranges.
func (m *MemoryLog) SetTrimHook(h TrimHook) { m.hook = h }

// Close makes every later operation fail ErrUnreachable.
func (m *MemoryLog) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *MemoryLog) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrUnreachable
	}
	return nil
}

func (m *MemoryLog) Write(ctx context.Context, addr uint64, e Entry) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	if err := checkEpoch(m.epoch.Load(), e.Epoch); err != nil {
		return err
	}
	m.mu.Lock()
	trimmed := addr < m.trimMark
	m.mu.Unlock()
	if trimmed {
		return ErrTrimmed
	}
	size := int64(e.Size())
	if m.capacity > 0 && m.bytes.Add(size) > m.capacity && e.Type != EntryHole {
		m.bytes.Add(-size)
		return ErrOutOfSpace
	}
	if _, loaded := m.entries.LoadOrStore(addr, memSlot{entry: e, size: size}); loaded {
		if m.capacity > 0 {
			m.bytes.Add(-size)
		}
		return ErrOverwrite
	}
	if m.capacity <= 0 {
		m.bytes.Add(size)
	}
	for {
		t := m.tail.Load()
		if addr < t || m.tail.CompareAndSwap(t, addr+1) {
			break
		}
	}
	m.mu.Lock()
	close(m.notifyCh)
	m.notifyCh = make(chan struct{})
	m.mu.Unlock()
	return nil
}

func (m *MemoryLog) Read(ctx context.Context, addr uint64) (Entry, error) {
	if err := m.check(ctx); err != nil {
		return Entry{}, err
	}
	if addr < m.loadTrimMark() {
		return Entry{}, ErrTrimmed
	}
	slot, ok := m.entries.Load(addr)
	if !ok {
		if addr < m.loadTrimMark() {
			return Entry{}, ErrTrimmed
		}
		return Entry{}, ErrNotWritten
	}
	return slot.entry, nil
}

func (m *MemoryLog) loadTrimMark() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trimMark
}

func (m *MemoryLog) Tail(ctx context.Context) (uint64, error) {
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	return m.tail.Load(), nil
}

func (m *MemoryLog) TrimMark(ctx context.Context) (uint64, error) {
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	return m.loadTrimMark(), nil
}

func (m *MemoryLog) Trim(ctx context.Context, addr uint64) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	tail := m.tail.Load()
	if tail == 0 {
		return nil
	}
	if addr >= tail {
		addr = tail - 1
	}
	m.mu.Lock()
	from := m.trimMark
	if addr < from {
		m.mu.Unlock()
		return nil
	}
	m.trimMark = addr + 1
	m.mu.Unlock()

	var doomed []uint64
	m.entries.Range(func(a uint64, _ memSlot) bool {
		if a > addr {
			return false
		}
		if a >= from {
			doomed = append(doomed, a)
		}
		return true
	})
	for _, a := range doomed {
		if slot, ok := m.entries.LoadAndDelete(a); ok {
			m.bytes.Add(-slot.size)
		}
	}
	if len(doomed) > 0 {
		m.hook.EmitTrimRange("memory", doomed[0], doomed[len(doomed)-1])
	}
	return nil
}

func (m *MemoryLog) Seal(ctx context.Context, epoch uint64) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	for {
		cur := m.epoch.Load()
		if err := checkSeal(cur, epoch); err != nil {
			return err
		}
		if cur == epoch || m.epoch.CompareAndSwap(cur, epoch) {
			return nil
		}
	}
}

// Epoch returns the sealed epoch.
func (m *MemoryLog) Epoch() uint64 { return m.epoch.Load() }

// UsedBytes returns the payload bytes counted against capacity.
func (m *MemoryLog) UsedBytes() int64 { return m.bytes.Load() }

func (m *MemoryLog) Scan(ctx context.Context, opts ScanOptions) (ScanPage, error) {
	var page ScanPage
	if err := m.check(ctx); err != nil {
		return page, err
	}
	var all []Item
	m.entries.Range(func(a uint64, s memSlot) bool {
		if opts.Reverse {
			if a > opts.Start {
				return false
			}
		} else if a < opts.Start {
			return true
		}
		all = append(all, Item{Addr: a, Entry: s.entry})
		return opts.Reverse || opts.Limit <= 0 || len(all) <= opts.Limit
	})
	if opts.Reverse {
		sort.Slice(all, func(i, j int) bool { return all[i].Addr > all[j].Addr })
	}
	if opts.Limit > 0 && len(all) > opts.Limit {
		page.Next, page.More = all[opts.Limit].Addr, true
		all = all[:opts.Limit]
	}
	page.Items = all
	return page, nil
}

func (m *MemoryLog) WaitForAppend(timeout time.Duration) bool {
	m.mu.Lock()
	ch := m.notifyCh
	m.mu.Unlock()
	return waitOn(ch, timeout)
}
