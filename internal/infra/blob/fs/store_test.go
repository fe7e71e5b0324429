package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"zacharie/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStoreIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	opts := core.PutOptions{ContentType: "application/x-ndjson", Metadata: map[string]string{"fei": "ZACH-1"}}
	info, err := store.Put(ctx, "audit/ZACH-1/a.jsonl", bytes.NewReader([]byte("{}\n")), opts)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 3 || info.ETag == "" || info.Metadata["fei"] != "ZACH-1" {
		t.Fatalf("unexpected info %+v", info)
	}
	opts.Metadata["fei"] = "mutated"

	_, err = store.Put(ctx, "audit/ZACH-1/a.jsonl", bytes.NewReader([]byte("{\"x\":1}\n")), core.PutOptions{})
	if !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := store.Get(ctx, "audit/ZACH-1/a.jsonl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(body) != "{}\n" {
		t.Fatalf("first write must survive, got %q", body)
	}
	if got.ETag != info.ETag || got.ContentType != "application/x-ndjson" || got.Metadata["fei"] != "ZACH-1" {
		t.Fatalf("unexpected get info %+v", got)
	}
}

func TestRejectedPutLeavesFirstObjectIntact(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	key := "audit/ZACH-1/b.jsonl"
	if _, err := store.Put(ctx, key, bytes.NewReader([]byte("first")), core.PutOptions{Metadata: map[string]string{"n": "1"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, key, bytes.NewReader([]byte("second")), core.PutOptions{Metadata: map[string]string{"n": "2"}}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(store.Root(), "audit", "ZACH-1"))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 2 || names[0] != "b.jsonl" || names[1] != "b.jsonl"+metaSuffix {
		t.Fatalf("unexpected files %v", names)
	}
	meta, err := readMeta(filepath.Join(store.Root(), "audit", "ZACH-1", "b.jsonl"+metaSuffix))
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	if meta.Metadata["n"] != "1" || meta.Size != int64(len("first")) {
		t.Fatalf("sidecar was overwritten: %+v", meta)
	}

	if err := os.Remove(filepath.Join(store.Root(), "audit", "ZACH-1", "b.jsonl"+metaSuffix)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Get(ctx, key); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("unpublished object must read as missing, got %v", err)
	}
}

func TestStoreListSkipsOrphanSidecars(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"audit/B/2.jsonl", "audit/A/1.jsonl", "other/x"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte(key)), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	orphan := filepath.Join(store.Root(), "audit", "C", "3.jsonl"+metaSuffix)
	if err := os.MkdirAll(filepath.Dir(orphan), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(orphan, []byte(`{"etag":"x"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	list, err := store.List(ctx, "audit/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "audit/A/1.jsonl" || list[1].Key != "audit/B/2.jsonl" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestStoreRejectsInvalidKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"", "  ", "/abs", "../escape", "a/../../b", "x" + metaSuffix} {
		if _, err := store.Put(ctx, key, bytes.NewReader(nil), core.PutOptions{}); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
}
