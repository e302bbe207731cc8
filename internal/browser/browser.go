// Package browser implements the administrative inspection operations over
// a node's tables: list, info, show and drop. The HTTP surface and the
// `flo browser` commands both go through it.
package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/rzbill/flolog/internal/eventlog"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
	"github.com/rzbill/flolog/internal/stream"
	"github.com/rzbill/flolog/internal/table"
	logpkg "github.com/rzbill/flolog/pkg/log"
)

// ErrBadFilter is returned for filter expressions that do not compile to a
// boolean.
var ErrBadFilter = errors.New("browser: bad filter")

// Source is what the browser reads. *runtime.Runtime implements it.
type Source interface {
	DB() *pebblestore.DB
	Directory() *stream.Directory
	StreamEnv() stream.Env
}

// Browser inspects the tables of one node.
type Browser struct {
	src    Source
	logger logpkg.Logger
}

func New(src Source, logger logpkg.Logger) *Browser {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	return &Browser{src: src, logger: logger.WithComponent("browser")}
}

// TableInfo is a table's directory record plus the state of its view.
type TableInfo struct {
	stream.Info
	Stats table.Stats `json:"stats"`
	// Stale is set when the view could not catch up with the log.
	Stale string `json:"stale,omitempty"`
}

// Row is one key of a table view.
type Row struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// ShowOptions narrows ShowTable.
type ShowOptions struct {
	// Filter is a CEL expression over key, value, size and json.
	Filter string
	// Limit caps the rows returned; zero means no limit.
	Limit int
}

// ListTables returns the tables of ns, or every known stream when ns is
// empty.
func (b *Browser) ListTables(ns string) ([]stream.Info, error) {
	if ns == "" {
		return b.src.Directory().All()
	}
	return b.src.Directory().List(ns)
}

// InfoTable catches the view up and describes it.
func (b *Browser) InfoTable(ctx context.Context, ns, tbl string) (TableInfo, error) {
	info, err := b.src.Directory().Lookup(ns, tbl)
	if err != nil {
		return TableInfo{}, err
	}
	out := TableInfo{Info: info}
	if err := b.sync(ctx, info); err != nil {
		out.Stale = err.Error()
	}
	out.Stats, err = table.ViewStats(b.src.DB(), info.ID)
	return out, err
}

// ShowTable catches the view up and returns its rows in key order.
func (b *Browser) ShowTable(ctx context.Context, ns, tbl string, opts ShowOptions) ([]Row, error) {
	filter, err := compileRowFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	info, err := b.src.Directory().Lookup(ns, tbl)
	if err != nil {
		return nil, err
	}
	if err := b.sync(ctx, info); err != nil {
		b.logger.Warn("showing stale view", logpkg.Str("table", ns+"/"+tbl), logpkg.Err(err))
	}
	it, err := table.Rows(b.src.DB(), info.ID)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var rows []Row
	for opts.Limit <= 0 || len(rows) < opts.Limit {
		kv, ok, err := it.Next()
		if err != nil {
			return rows, err
		}
		if !ok {
			break
		}
		if filter.match(kv.Key, kv.Value) {
			rows = append(rows, Row{Key: kv.Key, Value: kv.Value})
		}
	}
	return rows, nil
}

// DropTable unregisters ns/tbl and removes its view. Its entries stay in the
// log until trimmed.
func (b *Browser) DropTable(ctx context.Context, ns, tbl string) (stream.Info, error) {
	info, err := b.src.Directory().Drop(ctx, ns, tbl)
	if err != nil {
		return stream.Info{}, err
	}
	if err := table.DropView(ctx, b.src.DB(), info.ID); err != nil {
		return info, fmt.Errorf("drop view: %w", err)
	}
	b.logger.Info("table dropped", logpkg.Str("table", ns+"/"+tbl), logpkg.Str("stream", info.ID.String()))
	return info, nil
}

// sync replays the table's stream into its view. A view behind the trim
// mark cannot catch up; that is reported, not fatal.
func (b *Browser) sync(ctx context.Context, info stream.Info) error {
	t, err := table.Open(b.src.StreamEnv(), b.src.DB(), info)
	if err != nil {
		return err
	}
	defer t.Close()
	if _, err := t.Sync(ctx); err != nil {
		if errors.Is(err, eventlog.ErrTrimmed) {
			return fmt.Errorf("view behind trim mark: %w", err)
		}
		return err
	}
	return nil
}
