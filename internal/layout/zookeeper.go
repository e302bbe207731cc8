package layout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const epochNodePrefix = "epoch-"

// zkConn is the subset of *zk.Conn the store uses.
type zkConn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Children(path string) ([]string, *zk.Stat, error)
	Close()
}

// ZKStore commits layouts as one persistent znode per epoch under root.
// ZooKeeper's create-if-absent makes the per-epoch commit a single winner.
type ZKStore struct {
	conn zkConn
	root string
}

var _ Store = (*ZKStore)(nil)

// NewZKStore connects to servers, e.g. ["zk1:2181", "zk2:2181"].
func NewZKStore(servers []string, root string, sessionTimeout time.Duration) (*ZKStore, error) {
	if sessionTimeout <= 0 {
		sessionTimeout = 5 * time.Second
	}
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	s := &ZKStore{conn: conn, root: strings.TrimRight(root, "/")}
	if err := s.ensurePath(s.root); err != nil {
		conn.Close()
		return nil, fmt.Errorf("zk ensure %s: %w", s.root, err)
	}
	return s, nil
}

func newZKStoreWithConn(conn zkConn, root string) (*ZKStore, error) {
	s := &ZKStore{conn: conn, root: strings.TrimRight(root, "/")}
	return s, s.ensurePath(s.root)
}

func (s *ZKStore) Close() error {
	s.conn.Close()
	return nil
}

func (s *ZKStore) ensurePath(path string) error {
	cur := ""
	for _, p := range strings.Split(path, "/") {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := s.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = s.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && !errors.Is(err, zk.ErrNodeExists) {
				return err
			}
		}
	}
	return nil
}

func (s *ZKStore) epochPath(epoch uint64) string {
	return fmt.Sprintf("%s/%s%020d", s.root, epochNodePrefix, epoch)
}

func (s *ZKStore) Commit(ctx context.Context, l Layout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(l)
	if err != nil {
		return err
	}
	_, err = s.conn.Create(s.epochPath(l.Epoch), val, 0, zk.WorldACL(zk.PermAll))
	if errors.Is(err, zk.ErrNodeExists) {
		return resolveConflict(ctx, s, l)
	}
	if err != nil {
		return fmt.Errorf("zk commit epoch %d: %w", l.Epoch, err)
	}
	return nil
}

func (s *ZKStore) Get(ctx context.Context, epoch uint64) (Layout, error) {
	if err := ctx.Err(); err != nil {
		return Layout{}, err
	}
	val, _, err := s.conn.Get(s.epochPath(epoch))
	if errors.Is(err, zk.ErrNoNode) {
		return Layout{}, ErrNotFound
	}
	if err != nil {
		return Layout{}, fmt.Errorf("zk get epoch %d: %w", epoch, err)
	}
	var l Layout
	if err := json.Unmarshal(val, &l); err != nil {
		return Layout{}, fmt.Errorf("zk decode epoch %d: %w", epoch, err)
	}
	return l, nil
}

func (s *ZKStore) Latest(ctx context.Context) (Layout, error) {
	children, _, err := s.conn.Children(s.root)
	if err != nil {
		return Layout{}, fmt.Errorf("zk children: %w", err)
	}
	var epochs []uint64
	for _, c := range children {
		if !strings.HasPrefix(c, epochNodePrefix) {
			continue
		}
		e, err := strconv.ParseUint(strings.TrimPrefix(c, epochNodePrefix), 10, 64)
		if err != nil {
			continue
		}
		epochs = append(epochs, e)
	}
	if len(epochs) == 0 {
		return Layout{}, ErrNotFound
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })
	return s.Get(ctx, epochs[len(epochs)-1])
}
