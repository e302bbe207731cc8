package layout

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
)

var layoutPrefix = []byte("layout/")

func keyLayout(epoch uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), layoutPrefix...), epoch)
}

// PebbleStore commits layouts in the node's local Pebble instance. It is the
// store for single-node and statically configured clusters.
type PebbleStore struct {
	db *pebblestore.DB
	mu sync.Mutex
}

var _ Store = (*PebbleStore)(nil)

func NewPebbleStore(db *pebblestore.DB) *PebbleStore {
	return &PebbleStore{db: db}
}

func (s *PebbleStore) Commit(ctx context.Context, l Layout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	val, err := json.Marshal(l)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exists, err := s.db.Has(keyLayout(l.Epoch))
	if err != nil {
		return fmt.Errorf("layout commit: %w", err)
	}
	if exists {
		return resolveConflict(ctx, s, l)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyLayout(l.Epoch), val, nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

func (s *PebbleStore) Get(_ context.Context, epoch uint64) (Layout, error) {
	val, err := s.db.Get(keyLayout(epoch))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Layout{}, ErrNotFound
	}
	if err != nil {
		return Layout{}, fmt.Errorf("layout get: %w", err)
	}
	var l Layout
	if err := json.Unmarshal(val, &l); err != nil {
		return Layout{}, fmt.Errorf("layout decode epoch %d: %w", epoch, err)
	}
	return l, nil
}

func (s *PebbleStore) Latest(ctx context.Context) (Layout, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: layoutPrefix,
		UpperBound: pebblestore.PrefixUpperBound(layoutPrefix),
	})
	if err != nil {
		return Layout{}, fmt.Errorf("layout latest: %w", err)
	}
	defer iter.Close()
	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return Layout{}, fmt.Errorf("layout latest: %w", err)
		}
		return Layout{}, ErrNotFound
	}
	k := iter.Key()
	return s.Get(ctx, binary.BigEndian.Uint64(k[len(k)-8:]))
}
