// Package content caches externally authored definitions in hot-reloadable
// registries. A registry holds an immutable snapshot behind an atomic
// pointer: readers never block and never observe a partially applied reload.
package content

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/roguebench/roguebench/internal/platform/errors"
)

// Record is a raw stored document, format-agnostic at this boundary. Data
// carries the JSON-encoded definition body.
type Record struct {
	ID        string
	Name      string
	Kind      string
	Data      []byte
	Version   int64
	UpdatedAt time.Time
}

// Store loads raw records in bulk. Implementations live under
// internal/engine/storage.
type Store interface {
	LoadAll(ctx context.Context) ([]Record, error)
}

// Entry is a decoded record as held by a registry. Entries are replaced
// wholesale on reload, never patched in place.
type Entry[T any] struct {
	ID        string
	Data      T
	Version   int64
	UpdatedAt time.Time
}

// DecodeFunc turns a raw record into a typed definition. Decode failures
// should carry field context via errors.WithMetadata.
type DecodeFunc[T any] func(Record) (T, error)

// Registry is a read-optimized cache of decoded definitions keyed by id.
type Registry[T any] struct {
	name   string
	decode DecodeFunc[T]

	snap     atomic.Pointer[map[string]Entry[T]]
	reloadMu sync.Mutex
}

// NewRegistry creates an empty registry for one content kind.
func NewRegistry[T any](name string, decode DecodeFunc[T]) (*Registry[T], error) {
	if name == "" {
		return nil, fmt.Errorf("registry name is required")
	}
	if decode == nil {
		return nil, fmt.Errorf("decode function is required")
	}
	r := &Registry[T]{name: name, decode: decode}
	empty := map[string]Entry[T]{}
	r.snap.Store(&empty)
	return r, nil
}

// Reload replaces the snapshot with the store's current contents. Reloads
// are single-flight per registry. Any malformed record fails the whole
// reload and the prior snapshot stays live.
func (r *Registry[T]) Reload(ctx context.Context, store Store) error {
	if store == nil {
		return fmt.Errorf("store is required")
	}

	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	ctx, span := otel.Tracer("content").Start(ctx, "registry.reload")
	defer span.End()
	span.SetAttributes(attribute.String("registry", r.name))

	records, err := store.LoadAll(ctx)
	if err != nil {
		return errors.WrapWithMetadata(errors.CodeContentLoadFailed,
			fmt.Sprintf("load %s content", r.name),
			map[string]string{"registry": r.name}, err)
	}

	next := make(map[string]Entry[T], len(records))
	for _, rec := range records {
		if _, exists := next[rec.ID]; exists {
			return errors.WithMetadata(errors.CodeContentDuplicateID,
				fmt.Sprintf("duplicate %s id %q", r.name, rec.ID),
				map[string]string{"registry": r.name, "id": rec.ID})
		}
		data, err := r.decode(rec)
		if err != nil {
			return errors.WrapWithMetadata(errors.CodeContentDecodeFailed,
				fmt.Sprintf("decode %s %q", r.name, rec.ID),
				map[string]string{"registry": r.name, "id": rec.ID, "reason": err.Error()}, err)
		}
		next[rec.ID] = Entry[T]{
			ID:        rec.ID,
			Data:      data,
			Version:   rec.Version,
			UpdatedAt: rec.UpdatedAt,
		}
	}

	r.snap.Store(&next)
	span.SetAttributes(attribute.Int("entries", len(next)))
	return nil
}

// Get returns the entry for id. Missing content is not an error: callers
// decide whether absence is fatal.
func (r *Registry[T]) Get(id string) (Entry[T], bool) {
	snap := *r.snap.Load()
	entry, ok := snap[id]
	return entry, ok
}

// Remove drops one entry from the snapshot, for deletion notices pushed by
// a watcher. Removing an absent id is a no-op.
func (r *Registry[T]) Remove(id string) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	prev := *r.snap.Load()
	if _, ok := prev[id]; !ok {
		return
	}
	next := make(map[string]Entry[T], len(prev)-1)
	for k, v := range prev {
		if k != id {
			next[k] = v
		}
	}
	r.snap.Store(&next)
}

// Len returns the number of cached entries.
func (r *Registry[T]) Len() int {
	return len(*r.snap.Load())
}

// IDs returns the cached ids in sorted order.
func (r *Registry[T]) IDs() []string {
	snap := *r.snap.Load()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns the cached entries sorted by id.
func (r *Registry[T]) All() []Entry[T] {
	snap := *r.snap.Load()
	entries := make([]Entry[T], 0, len(snap))
	for _, entry := range snap {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}
