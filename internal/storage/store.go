package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrNotFound = errors.New("file not found")

// Store keeps uploaded files on disk, one directory per user.
type Store struct {
	baseDir string
}

// Object describes a file written by PutFrom.
type Object struct {
	Size   int64
	SHA256 string
}

func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) namespaceDir(namespace string) (string, error) {
	if namespace == "" || strings.ContainsAny(namespace, `/\`) || strings.Contains(namespace, "..") {
		return "", fmt.Errorf("invalid namespace: %q", namespace)
	}
	return filepath.Join(s.baseDir, namespace), nil
}

func (s *Store) filePath(namespace, path string) (string, error) {
	if path == "" || strings.Contains(path, "..") {
		return "", fmt.Errorf("invalid path: %q", path)
	}

	nsDir, err := s.namespaceDir(namespace)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(nsDir, path)

	if !strings.HasPrefix(fullPath, nsDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", path)
	}

	return fullPath, nil
}

func (s *Store) Put(namespace, path string, content []byte) error {
	_, err := s.PutFrom(namespace, path, bytes.NewReader(content))
	return err
}

// PutFrom streams r into namespace/path. The file appears atomically: it is
// written to a temp file first and renamed into place.
func (s *Store) PutFrom(namespace, path string, r io.Reader) (Object, error) {
	fullPath, err := s.filePath(namespace, path)
	if err != nil {
		return Object{}, err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return Object{}, fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		tmp.Close()
		return Object{}, fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return Object{}, fmt.Errorf("rename file: %w", err)
	}

	return Object{Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

func (s *Store) Get(namespace, path string) ([]byte, error) {
	fullPath, err := s.filePath(namespace, path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}

	return content, nil
}

func (s *Store) Delete(namespace, path string) error {
	fullPath, err := s.filePath(namespace, path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("delete file: %w", err)
	}

	return nil
}

// List returns the slash-separated paths stored for namespace, optionally
// filtered by prefix. An unknown namespace has no files.
func (s *Store) List(namespace, prefix string) ([]string, error) {
	nsDir, err := s.namespaceDir(namespace)
	if err != nil {
		return nil, err
	}

	files := []string{}
	err = filepath.WalkDir(nsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == nsDir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}

		relPath, err := filepath.Rel(nsDir, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if prefix == "" || strings.HasPrefix(relPath, prefix) {
			files = append(files, relPath)
		}
		return nil
	})

	return files, err
}

func (s *Store) Exists(namespace, path string) bool {
	fullPath, err := s.filePath(namespace, path)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}
