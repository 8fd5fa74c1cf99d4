package sqlite

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/roguebench/roguebench/internal/engine/content"
	"github.com/roguebench/roguebench/internal/platform/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected missing path error")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	records, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty store, got %d records", len(records))
	}

	goblin := content.Record{ID: "goblin_ai", Name: "Goblin AI", Data: []byte(`{"initial_state":"idle","states":[{"id":"idle"}]}`)}
	if err := store.Upsert(ctx, goblin); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	orc := content.Record{ID: "orc_ai", Name: "Orc AI", Data: []byte(`{"initial_state":"idle","states":[{"id":"idle"}]}`)}
	if err := store.Upsert(ctx, orc); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	records, err = store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "goblin_ai" || records[1].ID != "orc_ai" {
		t.Fatalf("expected records ordered by id, got %q, %q", records[0].ID, records[1].ID)
	}
	if records[0].Version != 1 {
		t.Fatalf("expected initial version 1, got %d", records[0].Version)
	}
	if records[0].Kind != "state_machine" {
		t.Fatalf("expected default kind, got %q", records[0].Kind)
	}

	// Update bumps the version.
	goblin.Name = "Goblin King AI"
	if err := store.Upsert(ctx, goblin); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	updated, err := store.Get(ctx, "goblin_ai")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if updated.Name != "Goblin King AI" {
		t.Fatalf("expected updated name, got %q", updated.Name)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2 after update, got %d", updated.Version)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}

	deleted, err := store.Delete(ctx, "goblin_ai")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to report the row existed")
	}
	deleted, err = store.Delete(ctx, "goblin_ai")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted {
		t.Fatal("expected second delete to report absence")
	}

	records, err = store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(records) != 1 || records[0].ID != "orc_ai" {
		t.Fatalf("expected only orc_ai left, got %+v", records)
	}
}

func TestGetMissingRecord(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), "nonexistent")
	if err == nil {
		t.Fatal("expected not found error")
	}
	var domainErr *errors.Error
	if !stderrors.As(err, &domainErr) || domainErr.Code != errors.CodeNotFound {
		t.Fatalf("expected not found code, got %v", err)
	}
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.db")
	ctx := context.Background()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	rec := content.Record{ID: "goblin_ai", Data: []byte(`{"initial_state":"idle","states":[{"id":"idle"}]}`)}
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	records, err := reopened.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(records) != 1 || records[0].ID != "goblin_ai" {
		t.Fatalf("expected persisted record after reopen, got %+v", records)
	}
}

func TestCloseNilStore(t *testing.T) {
	var store *Store
	if err := store.Close(); err != nil {
		t.Fatalf("expected nil-safe close, got %v", err)
	}
}
