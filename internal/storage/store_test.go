package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return store
}

func TestStore_PutGet(t *testing.T) {
	store := newTestStore(t)

	namespace := "alice"
	path := "docs/report.txt"
	content := []byte("quarterly numbers")

	if err := store.Put(namespace, path, content); err != nil {
		t.Fatalf("put file: %v", err)
	}

	got, err := store.Get(namespace, path)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}

	if string(got) != string(content) {
		t.Errorf("expected %s, got %s", content, got)
	}
	if !store.Exists(namespace, path) {
		t.Error("expected file to exist")
	}
}

func TestStore_PutFrom(t *testing.T) {
	store := newTestStore(t)

	obj, err := store.PutFrom("alice", "a.txt", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("put file: %v", err)
	}

	sum := sha256.Sum256([]byte("hello"))
	if obj.Size != 5 {
		t.Errorf("expected size 5, got %d", obj.Size)
	}
	if obj.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("unexpected checksum %s", obj.SHA256)
	}

	files, _ := store.List("alice", "")
	if len(files) != 1 {
		t.Errorf("expected no temp files left behind, got %v", files)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)

	if err := store.Put("alice", "docs/test.txt", []byte("x")); err != nil {
		t.Fatalf("put file: %v", err)
	}
	if err := store.Delete("alice", "docs/test.txt"); err != nil {
		t.Fatalf("delete file: %v", err)
	}

	if _, err := store.Get("alice", "docs/test.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_List(t *testing.T) {
	store := newTestStore(t)

	store.Put("alice", "docs/file1.txt", []byte("content1"))
	store.Put("alice", "docs/file2.txt", []byte("content2"))
	store.Put("alice", "docs/sub/file3.txt", []byte("content3"))
	store.Put("alice", "other.txt", []byte("content4"))

	files, err := store.List("alice", "docs/")
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 3 {
		t.Errorf("expected 3 files, got %d", len(files))
	}

	empty, err := store.List("nobody", "")
	if err != nil {
		t.Fatalf("list unknown namespace: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no files, got %v", empty)
	}
}

func TestStore_RejectsTraversal(t *testing.T) {
	store := newTestStore(t)

	if err := store.Put("alice", "../bob/x.txt", []byte("x")); err == nil {
		t.Error("expected traversal in path to be rejected")
	}
	if err := store.Put("../bob", "x.txt", []byte("x")); err == nil {
		t.Error("expected traversal in namespace to be rejected")
	}
	if err := store.Put("alice", "", []byte("x")); err == nil {
		t.Error("expected empty path to be rejected")
	}
}
