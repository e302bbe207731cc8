package stream

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/cluster"
	"github.com/rzbill/flolog/internal/config"
	"github.com/rzbill/flolog/internal/namespace"
	"github.com/rzbill/flolog/internal/sequencer"
)

type announcements struct {
	mu   sync.Mutex
	msgs []cluster.StreamCreated
}

func (a *announcements) announce(_ context.Context, msg cluster.StreamCreated) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
	return nil
}

func TestDirectoryCreateLookupDrop(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seq := sequencer.NewServer(sequencer.Options{})
	if _, err := seq.Next(ctx, 0); err != nil {
		t.Fatalf("next: %v", err)
	}
	logID := uuid.New()
	ann := &announcements{}
	dir := NewDirectory(db, DirectoryOptions{LogID: logID, Sequencer: seq, Announce: ann.announce})

	info, created, err := dir.Create(ctx, "default", "orders")
	if err != nil || !created {
		t.Fatalf("create: %v created=%v", err, created)
	}
	if info.ID != TableID("default", "orders") || info.LogID != logID || info.StartPosition != 1 {
		t.Fatalf("info: %+v", info)
	}
	if len(ann.msgs) != 1 || ann.msgs[0].StreamID != info.ID || ann.msgs[0].StartPosition != 1 {
		t.Fatalf("announcements: %+v", ann.msgs)
	}

	again, created, err := dir.Create(ctx, "default", "orders")
	if err != nil || created || again.ID != info.ID {
		t.Fatalf("recreate: %+v created=%v err=%v", again, created, err)
	}
	if len(ann.msgs) != 1 {
		t.Fatalf("existing table announced again")
	}

	if _, _, err := dir.Create(ctx, "default", "users"); err != nil {
		t.Fatalf("create users: %v", err)
	}
	if _, _, err := dir.Create(ctx, "other", "orders"); err != nil {
		t.Fatalf("create other/orders: %v", err)
	}
	tables, err := dir.List("default")
	if err != nil || len(tables) != 2 || tables[0].Table != "orders" || tables[1].Table != "users" {
		t.Fatalf("list: %+v, %v", tables, err)
	}
	if TableID("other", "orders") == info.ID {
		t.Fatal("table IDs collide across namespaces")
	}

	got, err := dir.Get(info.ID)
	if err != nil || got.Table != "orders" {
		t.Fatalf("get: %+v, %v", got, err)
	}
	if _, err := dir.Drop(ctx, "default", "orders"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := dir.Lookup("default", "orders"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("lookup dropped: %v", err)
	}
	if _, err := dir.Get(info.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get dropped: %v", err)
	}
	if _, err := dir.Drop(ctx, "default", "orders"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("drop twice: %v", err)
	}
}

func TestDirectoryRejectsBadTables(t *testing.T) {
	dir := NewDirectory(openTestDB(t), DirectoryOptions{})
	for _, name := range []string{"", "a/b"} {
		if _, _, err := dir.Create(context.Background(), "default", name); !errors.Is(err, ErrInvalidTable) {
			t.Fatalf("create %q: %v", name, err)
		}
	}
}

func TestDirectoryNamespacePolicy(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cfg := config.Default()
	cfg.AllowAutoCreateNamespaces = false
	cfg.NamespaceDefaults.MaxTables = 1
	reg, err := namespace.NewRegistry(db, cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	dir := NewDirectory(db, DirectoryOptions{Namespaces: reg})

	if _, _, err := dir.Create(ctx, cfg.DefaultNamespaceName, "t1"); err != nil {
		t.Fatalf("create in default: %v", err)
	}
	if _, _, err := dir.Create(ctx, cfg.DefaultNamespaceName, "t2"); !errors.Is(err, ErrTableLimit) {
		t.Fatalf("want table limit, got %v", err)
	}
	if _, _, err := dir.Create(ctx, "unknown", "t1"); !errors.Is(err, namespace.ErrNotFound) {
		t.Fatalf("want namespace not found, got %v", err)
	}
}

func TestDirectoryRecordsAnnouncements(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(openTestDB(t), DirectoryOptions{})
	named := cluster.StreamCreated{StreamID: TableID("ns", "t"), LogID: uuid.New(), StartPosition: 7, Namespace: "ns", Table: "t"}
	anon := cluster.StreamCreated{StreamID: uuid.New(), LogID: uuid.New(), StartPosition: 9}
	for _, msg := range []cluster.StreamCreated{named, anon, named} {
		if err := dir.Record(ctx, msg); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	info, err := dir.Lookup("ns", "t")
	if err != nil || info.StartPosition != 7 {
		t.Fatalf("lookup: %+v, %v", info, err)
	}
	ids, err := dir.IDs()
	if err != nil || len(ids) != 2 {
		t.Fatalf("ids: %v, %v", ids, err)
	}
}

func TestDirectoryLocalIDsSkipAnnounced(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(openTestDB(t), DirectoryOptions{})
	for _, tbl := range []string{"t", "u"} {
		msg := cluster.StreamCreated{StreamID: TableID("ns", tbl), LogID: uuid.New(), Namespace: "ns", Table: tbl}
		if err := dir.Record(ctx, msg); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	local, _, err := dir.Create(ctx, "ns", "v")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ids, err := dir.LocalIDs()
	if err != nil || len(ids) != 1 || ids[0] != local.ID {
		t.Fatalf("local ids: %v, %v", ids, err)
	}

	// Creating an announced table here makes it local.
	claimed, created, err := dir.Create(ctx, "ns", "t")
	if err != nil || created || claimed.Remote {
		t.Fatalf("claim: %+v created=%v err=%v", claimed, created, err)
	}
	ids, err = dir.LocalIDs()
	if err != nil || len(ids) != 2 {
		t.Fatalf("local ids after claim: %v, %v", ids, err)
	}
	all, _ := dir.IDs()
	if len(all) != 3 {
		t.Fatalf("all ids: %v", all)
	}
}
