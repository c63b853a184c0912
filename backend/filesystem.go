package backend

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Filesystem stores blobs as files under a root directory. Writes go
// through a temp file and rename, so a crash never leaves a half-written
// blob behind.
type Filesystem struct {
	root string
}

// OpenFilesystem opens a filesystem backend rooted at dir, creating it if
// needed.
func OpenFilesystem(dir string) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("backend: create root: %w", err)
	}
	return &Filesystem{root: dir}, nil
}

func (f *Filesystem) path(name string) string {
	return filepath.Join(f.root, filepath.FromSlash(name))
}

func (f *Filesystem) Put(ctx context.Context, name string, data []byte) error {
	path := f.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("backend: create dir: %w", err)
	}
	tmp, err := ioutil.TempFile(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("backend: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("backend: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("backend: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("backend: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("backend: rename: %w", err)
	}
	return nil
}

func (f *Filesystem) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := ioutil.ReadFile(f.path(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("backend: read: %w", err)
	}
	return data, nil
}

func (f *Filesystem) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.Walk(f.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backend: list: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Filesystem) Delete(ctx context.Context, name string) error {
	err := os.Remove(f.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("backend: delete: %w", err)
	}
	return nil
}
