package upload

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/docserver/docserver/internal/db"
)

const manifestNamespace = "docserver/"

var ErrNotFound = errors.New("manifest entry not found")

// Entry records one file stored by StorageUploader.
type Entry struct {
	ID         string    `json:"id"`
	User       string    `json:"user"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	SHA256     string    `json:"sha256"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Manifest indexes stored files by user and path in badger. Uploading the
// same path again replaces the entry.
type Manifest struct {
	store *db.Store
}

func NewManifest(store *db.Store) *Manifest {
	return &Manifest{store: store}
}

func manifestKey(user, path string) string {
	return fmt.Sprintf("uploads/%s/%s", user, path)
}

func (m *Manifest) Record(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal manifest entry: %w", err)
	}
	if err := m.store.Set(manifestNamespace, manifestKey(e.User, e.Path), data); err != nil {
		return fmt.Errorf("store manifest entry: %w", err)
	}
	return nil
}

func (m *Manifest) Get(user, path string) (*Entry, error) {
	rel, err := cleanPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	data, err := m.store.Get(manifestNamespace, manifestKey(user, rel))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, user, path)
		}
		return nil, fmt.Errorf("get manifest entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal manifest entry: %w", err)
	}
	return &e, nil
}

// Remove drops the entry for user and path. Removing an absent entry is not
// an error.
func (m *Manifest) Remove(user, path string) error {
	rel, err := cleanPath(path)
	if err != nil {
		return err
	}
	if err := m.store.Delete(manifestNamespace, manifestKey(user, rel)); err != nil {
		return fmt.Errorf("delete manifest entry: %w", err)
	}
	return nil
}

// List returns the entries of one user ordered by path.
func (m *Manifest) List(user string) ([]*Entry, error) {
	entries := []*Entry{}
	err := m.store.Scan(manifestNamespace, fmt.Sprintf("uploads/%s/", user), func(key string, value []byte) error {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("unmarshal manifest entry %s: %w", key, err)
		}
		entries = append(entries, &e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
