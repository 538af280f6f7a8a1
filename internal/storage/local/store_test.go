package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Rifaque/querycraft-backend/internal/storage"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	payload := []byte("id,name\n1,a\n")
	info, err := store.Put(context.Background(), "uploads/date=2025-03-09/f1_orders.csv", bytes.NewReader(payload), int64(len(payload)), "text/csv")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Size != int64(len(payload)) {
		t.Fatalf("Size = %d, want %d", info.Size, len(payload))
	}

	reader, err := store.Get(context.Background(), "uploads/date=2025-03-09/f1_orders.csv")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = reader.Close() }()
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
}

func TestGetMissingObject(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = store.Get(context.Background(), "uploads/missing.csv")
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
}

func TestPutRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = store.Put(context.Background(), "../outside.csv", bytes.NewReader([]byte("x")), 1, "")
	if err == nil {
		t.Fatal("expected traversal rejection")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "outside.csv")); err == nil {
		t.Fatal("file escaped storage root")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.Delete(context.Background(), "uploads/missing.csv"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}
