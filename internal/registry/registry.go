package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("file not found in registry")

// Kind is the inferred content type of a registered file. It decides which
// executor a file-mode query is routed to.
type Kind string

const (
	KindCSV     Kind = "csv"
	KindJSON    Kind = "json"
	KindSQLite  Kind = "sqlite"
	KindSQL     Kind = "sql"
	KindParquet Kind = "parquet"
	KindUnknown Kind = "unknown"
)

// FileMetadata describes one registered upload. Records are immutable after
// registration; re-uploading yields a fresh id.
type FileMetadata struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	StoredPath   string    `json:"stored_path"`
	SizeBytes    int64     `json:"size_bytes"`
	UploadedAt   time.Time `json:"uploaded_at"`
	Extension    string    `json:"extension"`
	Kind         Kind      `json:"kind"`
}

// Upload is what the upload handler hands to Register: where the file ended
// up, what it was called, and the first few bytes for content sniffing. ID is
// optional; the handler sets it when the stored path already embeds one.
type Upload struct {
	ID           string
	StoredPath   string
	OriginalName string
	SizeBytes    int64
	Head         []byte
}

// Store is a durable id→FileMetadata mapping backed by a single JSON file.
// The whole file is read on every lookup and rewritten on every registration;
// writes go through a mutex and a temp-file rename so concurrent uploads
// cannot interleave partial states.
type Store struct {
	path string
	mu   sync.RWMutex
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("registry path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	store := &Store{path: path}
	if _, err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) Register(_ context.Context, upload Upload) (FileMetadata, error) {
	if strings.TrimSpace(upload.StoredPath) == "" {
		return FileMetadata{}, fmt.Errorf("stored path is required")
	}

	id := strings.TrimSpace(upload.ID)
	if id == "" {
		id = uuid.NewString()
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(upload.OriginalName), "."))
	meta := FileMetadata{
		ID:           id,
		OriginalName: upload.OriginalName,
		StoredPath:   upload.StoredPath,
		SizeBytes:    upload.SizeBytes,
		UploadedAt:   time.Now().UTC(),
		Extension:    ext,
		Kind:         InferKind(ext, upload.Head),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return FileMetadata{}, err
	}
	entries[meta.ID] = meta
	if err := s.save(entries); err != nil {
		return FileMetadata{}, err
	}
	return meta, nil
}

func (s *Store) Lookup(_ context.Context, id string) (FileMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.load()
	if err != nil {
		return FileMetadata{}, err
	}
	meta, ok := entries[id]
	if !ok {
		return FileMetadata{}, ErrNotFound
	}
	return meta, nil
}

func (s *Store) List(_ context.Context) ([]FileMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]FileMetadata, 0, len(entries))
	for _, meta := range entries {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out, nil
}

func (s *Store) load() (map[string]FileMetadata, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]FileMetadata{}, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]FileMetadata{}, nil
	}
	entries := map[string]FileMetadata{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return entries, nil
}

func (s *Store) save(entries map[string]FileMetadata) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".registry-*")
	if err != nil {
		return fmt.Errorf("create registry temp file: %w", err)
	}
	_, err = tmp.Write(raw)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

var (
	sqliteMagic  = []byte("SQLite format 3\x00")
	parquetMagic = []byte("PAR1")
)

// InferKind classifies an upload by extension first, then by magic bytes.
// Files it cannot classify stay unknown; the import pipeline sniffs those
// again at query time.
func InferKind(ext string, head []byte) Kind {
	switch ext {
	case "csv", "tsv":
		return KindCSV
	case "json", "ndjson":
		return KindJSON
	case "sqlite", "sqlite3", "db":
		return KindSQLite
	case "sql":
		return KindSQL
	case "parquet":
		return KindParquet
	}
	if bytes.HasPrefix(head, sqliteMagic) {
		return KindSQLite
	}
	if bytes.HasPrefix(head, parquetMagic) {
		return KindParquet
	}
	return KindUnknown
}
