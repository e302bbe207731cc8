package layout

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/go-zookeeper/zk"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
	"github.com/stretchr/testify/require"
)

// fakeZK is an in-memory znode tree.
type fakeZK struct {
	mu    sync.Mutex
	nodes map[string][]byte
}

func newFakeZK() *fakeZK { return &fakeZK{nodes: map[string][]byte{"/": nil}} }

func (f *fakeZK) Exists(path string) (bool, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[path]
	return ok, &zk.Stat{}, nil
}

func (f *fakeZK) Create(path string, data []byte, _ int32, _ []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[path]; ok {
		return "", zk.ErrNodeExists
	}
	parent := path[:strings.LastIndex(path, "/")]
	if parent == "" {
		parent = "/"
	}
	if _, ok := f.nodes[parent]; !ok {
		return "", zk.ErrNoNode
	}
	f.nodes[path] = append([]byte(nil), data...)
	return path, nil
}

func (f *fakeZK) Get(path string) ([]byte, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return v, &zk.Stat{}, nil
}

func (f *fakeZK) Children(path string) ([]string, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for p := range f.nodes {
		if strings.HasPrefix(p, path+"/") && !strings.Contains(p[len(path)+1:], "/") {
			out = append(out, p[len(path)+1:])
		}
	}
	return out, &zk.Stat{}, nil
}

func (f *fakeZK) Close() {}

func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("pebble", func(t *testing.T) {
		db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		fn(t, NewPebbleStore(db))
	})
	t.Run("zookeeper", func(t *testing.T) {
		s, err := newZKStoreWithConn(newFakeZK(), "/flolog/layouts")
		require.NoError(t, err)
		fn(t, s)
	})
}

func TestStoreOneLayoutPerEpoch(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.Latest(ctx)
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.Commit(ctx, testLayout(1)))
		require.NoError(t, s.Commit(ctx, testLayout(1)), "identical recommit is idempotent")

		rival := testLayout(1).Successor([]string{"c:9000"})
		rival.Epoch = 1
		require.ErrorIs(t, s.Commit(ctx, rival), ErrEpochTaken)

		got, err := s.Get(ctx, 1)
		require.NoError(t, err)
		require.True(t, got.Equal(testLayout(1)))

		_, err = s.Get(ctx, 2)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreLatest(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, e := range []uint64{1, 12, 3} {
			require.NoError(t, s.Commit(ctx, testLayout(e)))
		}
		l, err := s.Latest(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(12), l.Epoch)
	})
}

func TestStoreConcurrentProposals(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				l := testLayout(7)
				l.ClusterID = string(rune('a' + i))
				if s.Commit(ctx, l) == nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		require.Equal(t, 1, winners)
	})
}

func TestStoreRejectsInvalid(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		require.ErrorIs(t, s.Commit(context.Background(), Layout{Epoch: 1}), ErrInvalid)
	})
}
