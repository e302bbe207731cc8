package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/cluster"
	"github.com/rzbill/flolog/internal/namespace"
	"github.com/rzbill/flolog/internal/sequencer"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
	logpkg "github.com/rzbill/flolog/pkg/log"
)

var (
	// ErrNotFound is returned for unknown tables or stream IDs.
	ErrNotFound = errors.New("stream: not found")
	// ErrInvalidTable is returned for empty table names or names containing
	// a slash.
	ErrInvalidTable = errors.New("stream: invalid table name")
	// ErrTableLimit is returned when a namespace already holds its maximum
	// number of tables.
	ErrTableLimit = errors.New("stream: table limit reached")
)

// Info describes one registered stream.
type Info struct {
	ID            uuid.UUID `json:"id"`
	LogID         uuid.UUID `json:"logId"`
	Namespace     string    `json:"namespace,omitempty"`
	Table         string    `json:"table,omitempty"`
	StartPosition uint64    `json:"startPosition"`
	CreatedAtMs   int64     `json:"createdAtMs"`
	// Remote is set for streams only known from a peer's announcement. They
	// post no trim requests against the local log.
	Remote bool `json:"remote,omitempty"`
}

// Announcer tells peers about a newly created stream.
type Announcer func(ctx context.Context, msg cluster.StreamCreated) error

// DirectoryOptions configures a Directory.
type DirectoryOptions struct {
	LogID      uuid.UUID
	Sequencer  sequencer.Sequencer
	Namespaces *namespace.Registry
	Announce   Announcer
	Logger     logpkg.Logger
}

// Directory maps namespace/table names to stream IDs. IDs are derived from
// the names so every node computes the same one.
type Directory struct {
	db         *pebblestore.DB
	logID      uuid.UUID
	seq        sequencer.Sequencer
	namespaces *namespace.Registry
	announce   Announcer
	logger     logpkg.Logger

	mu sync.Mutex
}

var (
	byNamePrefix = []byte("stream/t/")
	byIDPrefix   = []byte("stream/id/")
)

func keyByName(ns, table string) []byte {
	return []byte(string(byNamePrefix) + ns + "/" + table)
}

func keyByID(id uuid.UUID) []byte {
	return append(append([]byte(nil), byIDPrefix...), id[:]...)
}

// TableID derives the stream ID of a table.
func TableID(ns, table string) uuid.UUID {
	return uuid.NewSHA1(namespace.IDFor(ns), []byte(table))
}

// NewDirectory returns a directory stored in db.
func NewDirectory(db *pebblestore.DB, opts DirectoryOptions) *Directory {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	return &Directory{
		db:         db,
		logID:      opts.LogID,
		seq:        opts.Sequencer,
		namespaces: opts.Namespaces,
		announce:   opts.Announce,
		logger:     opts.Logger.WithComponent("stream-directory"),
	}
}

// Create registers table in ns and announces it. Creating an existing table
// returns its Info with created false.
func (d *Directory) Create(ctx context.Context, ns, table string) (info Info, created bool, err error) {
	if table == "" || strings.Contains(table, "/") {
		return Info{}, false, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	var maxTables int
	if d.namespaces != nil {
		meta, err := d.namespaces.Ensure(ns)
		if err != nil {
			return Info{}, false, err
		}
		maxTables = meta.MaxTables
	}

	d.mu.Lock()
	if existing, err := d.Lookup(ns, table); err == nil {
		if existing.Remote {
			existing.Remote = false
			err = d.put(ctx, existing)
		}
		d.mu.Unlock()
		if err != nil {
			return Info{}, false, err
		}
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		d.mu.Unlock()
		return Info{}, false, err
	}
	if maxTables > 0 {
		tables, err := d.List(ns)
		if err != nil {
			d.mu.Unlock()
			return Info{}, false, err
		}
		if len(tables) >= maxTables {
			d.mu.Unlock()
			return Info{}, false, fmt.Errorf("%w: %s has %d", ErrTableLimit, ns, len(tables))
		}
	}
	var start uint64
	if d.seq != nil {
		if start, err = d.seq.Tail(ctx); err != nil {
			d.mu.Unlock()
			return Info{}, false, err
		}
	}
	info = Info{
		ID:            TableID(ns, table),
		LogID:         d.logID,
		Namespace:     ns,
		Table:         table,
		StartPosition: start,
		CreatedAtMs:   time.Now().UnixMilli(),
	}
	err = d.put(ctx, info)
	d.mu.Unlock()
	if err != nil {
		return Info{}, false, err
	}

	d.logger.Info("stream created", logpkg.Str("namespace", ns), logpkg.Str("table", table),
		logpkg.Str("stream", info.ID.String()))
	if d.announce != nil {
		msg := cluster.StreamCreated{
			StreamID:      info.ID,
			LogID:         info.LogID,
			StartPosition: info.StartPosition,
			Namespace:     ns,
			Table:         table,
		}
		if err := d.announce(ctx, msg); err != nil {
			d.logger.Warn("stream announcement incomplete", logpkg.Str("stream", info.ID.String()), logpkg.Err(err))
		}
	}
	return info, true, nil
}

// Record stores a stream announced by a peer. Known streams are left as
// they are.
func (d *Directory) Record(ctx context.Context, msg cluster.StreamCreated) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.Get(msg.StreamID); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return d.put(ctx, Info{
		ID:            msg.StreamID,
		LogID:         msg.LogID,
		Namespace:     msg.Namespace,
		Table:         msg.Table,
		StartPosition: msg.StartPosition,
		CreatedAtMs:   time.Now().UnixMilli(),
		Remote:        true,
	})
}

func (d *Directory) put(ctx context.Context, info Info) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	batch := d.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(keyByID(info.ID), b, nil); err != nil {
		return err
	}
	if info.Table != "" {
		if err := batch.Set(keyByName(info.Namespace, info.Table), b, nil); err != nil {
			return err
		}
	}
	return d.db.CommitBatch(ctx, batch)
}

func decodeInfo(b []byte) (Info, error) {
	var info Info
	err := json.Unmarshal(b, &info)
	return info, err
}

func (d *Directory) load(key []byte) (Info, error) {
	b, err := d.db.Get(key)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, err
	}
	return decodeInfo(b)
}

// Lookup returns the stream registered for ns/table.
func (d *Directory) Lookup(ns, table string) (Info, error) {
	info, err := d.load(keyByName(ns, table))
	if errors.Is(err, ErrNotFound) {
		return Info{}, fmt.Errorf("%w: %s/%s", ErrNotFound, ns, table)
	}
	return info, err
}

// Get returns the stream registered under id.
func (d *Directory) Get(id uuid.UUID) (Info, error) {
	info, err := d.load(keyByID(id))
	if errors.Is(err, ErrNotFound) {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return info, err
}

// List returns the tables of ns in name order.
func (d *Directory) List(ns string) ([]Info, error) {
	return d.scan([]byte(string(byNamePrefix) + ns + "/"))
}

// All returns every known stream, including ones announced without a name.
func (d *Directory) All() ([]Info, error) {
	return d.scan(byIDPrefix)
}

// IDs returns the ID of every known stream.
func (d *Directory) IDs() ([]uuid.UUID, error) {
	all, err := d.All()
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(all))
	for i, info := range all {
		ids[i] = info.ID
	}
	return ids, nil
}

// LocalIDs returns the ID of every stream created on this node.
func (d *Directory) LocalIDs() ([]uuid.UUID, error) {
	all, err := d.All()
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for _, info := range all {
		if !info.Remote {
			ids = append(ids, info.ID)
		}
	}
	return ids, nil
}

func (d *Directory) scan(prefix []byte) ([]Info, error) {
	it, err := pebblestore.NewEntryIterator(d.db, prefix, pebblestore.BytesDecoder, decodeInfo)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []Info
	for {
		kv, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, kv.Value)
	}
}

// Drop unregisters ns/table. Its entries stay in the log until trimmed.
func (d *Directory) Drop(ctx context.Context, ns, table string) (Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, err := d.Lookup(ns, table)
	if err != nil {
		return Info{}, err
	}
	batch := d.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(keyByName(ns, table), nil); err != nil {
		return Info{}, err
	}
	if err := batch.Delete(keyByID(info.ID), nil); err != nil {
		return Info{}, err
	}
	if err := d.db.CommitBatch(ctx, batch); err != nil {
		return Info{}, err
	}
	d.logger.Info("stream dropped", logpkg.Str("namespace", ns), logpkg.Str("table", table))
	return info, nil
}
