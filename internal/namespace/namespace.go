// Package namespace stores namespace metadata and enforces the configured
// namespace policy.
package namespace

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/config"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
)

var (
	ErrInvalidName = errors.New("namespace: invalid name")
	ErrNotAllowed  = errors.New("namespace: not allowed")
	ErrNotFound    = errors.New("namespace: not found")
	ErrLimit       = errors.New("namespace: limit reached")
)

// Meta holds namespace metadata and limits.
type Meta struct {
	Name            string    `json:"name"`
	ID              uuid.UUID `json:"id"`
	CreatedAtMs     int64     `json:"createdAtMs"`
	MaxTables       int       `json:"maxTables"`
	PayloadMaxBytes int       `json:"payloadMaxBytes"`
}

// IDFor derives the stable namespace ID that table stream IDs hang off.
func IDFor(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("flolog:namespace:"+name))
}

var nsMetaPrefix = []byte("nsmeta/")

// nsMetaKey builds metadata key for a namespace.
func nsMetaKey(ns string) []byte {
	k := make([]byte, 0, len(nsMetaPrefix)+len(ns))
	k = append(k, nsMetaPrefix...)
	k = append(k, ns...)
	return k
}

// Registry applies the configured policy to namespace creation.
type Registry struct {
	db     *pebblestore.DB
	cfg    config.Config
	nameRe *regexp.Regexp

	mu sync.Mutex
}

// NewRegistry compiles the policy in cfg.
func NewRegistry(db *pebblestore.DB, cfg config.Config) (*Registry, error) {
	re, err := regexp.Compile("^(?:" + cfg.NamespaceNameRegex + ")$")
	if err != nil {
		return nil, fmt.Errorf("namespace regex: %w", err)
	}
	return &Registry{db: db, cfg: cfg, nameRe: re}, nil
}

// Get loads the metadata of an existing namespace.
func (r *Registry) Get(name string) (Meta, error) {
	b, err := r.db.Get(nsMetaKey(name))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Meta{}, ErrNotFound
	}
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, fmt.Errorf("namespace %q: %w", name, err)
	}
	return m, nil
}

// Ensure creates a namespace meta record if absent, returning the effective
// meta. Idempotent: returns existing if already present.
func (r *Registry) Ensure(name string) (Meta, error) {
	if !r.nameRe.MatchString(name) {
		return Meta{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if len(r.cfg.AllowedNamespaces) > 0 && !contains(r.cfg.AllowedNamespaces, name) {
		return Meta{}, fmt.Errorf("%w: %q", ErrNotAllowed, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, err := r.Get(name); err == nil {
		return m, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Meta{}, err
	}
	if !r.cfg.AllowAutoCreateNamespaces && name != r.cfg.DefaultNamespaceName {
		return Meta{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if r.cfg.MaxNamespaces > 0 {
		existing, err := r.List()
		if err != nil {
			return Meta{}, err
		}
		if len(existing) >= r.cfg.MaxNamespaces {
			return Meta{}, fmt.Errorf("%w: %d", ErrLimit, r.cfg.MaxNamespaces)
		}
	}

	m := Meta{
		Name:            name,
		ID:              IDFor(name),
		CreatedAtMs:     time.Now().UnixMilli(),
		MaxTables:       r.cfg.NamespaceDefaults.MaxTables,
		PayloadMaxBytes: r.cfg.NamespaceDefaults.PayloadMaxBytes,
	}
	b, err := json.Marshal(m)
	if err != nil {
		return Meta{}, err
	}
	if err := r.db.Set(nsMetaKey(name), b); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// List returns every namespace in name order.
func (r *Registry) List() ([]Meta, error) {
	it, err := pebblestore.NewEntryIterator(r.db, nsMetaPrefix, pebblestore.StringDecoder,
		func(b []byte) (Meta, error) {
			var m Meta
			err := json.Unmarshal(b, &m)
			return m, err
		})
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []Meta
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

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
