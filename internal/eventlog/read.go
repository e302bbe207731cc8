package eventlog

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// ScanFromEnd used as ScanOptions.Start with Reverse begins at the last entry.
const ScanFromEnd = ^uint64(0)

// ScanOptions bounds a range scan. Start is inclusive in both directions.
type ScanOptions struct {
	Start   uint64
	Limit   int
	Reverse bool
}

// Item is one stored entry returned by a scan.
type Item struct {
	Addr  uint64
	Entry Entry
}

// ScanPage is one page of a scan. When More is set, Next resumes it.
type ScanPage struct {
	Items []Item
	Next  uint64
	More  bool
}

// Scanner is implemented by address spaces that can list written entries
// without probing every address.
type Scanner interface {
	Scan(ctx context.Context, opts ScanOptions) (ScanPage, error)
}

var _ Scanner = (*Log)(nil)

// Scan returns up to Limit written entries starting at Start. Reverse scans
// descending. A corrupt entry fails the scan with ErrUnrecoverable.
func (l *Log) Scan(ctx context.Context, opts ScanOptions) (ScanPage, error) {
	var page ScanPage
	if err := ctx.Err(); err != nil {
		return page, err
	}
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: KeyLogEntry(l.name, l.loadTrimMark()),
		UpperBound: append(KeyLogEntry(l.name, ^uint64(0)), 0x00),
	})
	if err != nil {
		return page, storageErr("scan", err)
	}
	defer iter.Close()

	var valid bool
	if opts.Reverse {
		if opts.Start == ScanFromEnd {
			valid = iter.Last()
		} else {
			valid = iter.SeekLT(append(KeyLogEntry(l.name, opts.Start), 0x00))
		}
	} else {
		valid = iter.SeekGE(KeyLogEntry(l.name, opts.Start))
	}

	for ; valid && (opts.Limit <= 0 || len(page.Items) < opts.Limit); valid = step(iter, opts.Reverse) {
		addr := addrFromEntryKey(iter.Key())
		e, err := UnmarshalEntry(iter.Value())
		if err != nil {
			return page, fmt.Errorf("scan at %d: %w", addr, err)
		}
		page.Items = append(page.Items, Item{Addr: addr, Entry: e})
	}
	if err := iter.Error(); err != nil {
		return page, fmt.Errorf("%w: scan: %v", ErrUnrecoverable, err)
	}
	if valid {
		page.Next = addrFromEntryKey(iter.Key())
		page.More = true
	}
	return page, nil
}

func step(iter *pebble.Iterator, reverse bool) bool {
	if reverse {
		return iter.Prev()
	}
	return iter.Next()
}
