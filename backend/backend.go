// Package backend abstracts the blob storage that formal snapshots and
// archive segments are written to. Blobs are immutable once written; the
// lifecycle manager only ever adds, reads and (for expired snapshots)
// deletes whole blobs.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound means the named blob does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is a flat namespace of immutable blobs. Names may contain '/' for
// grouping; List matches by name prefix.
type Store interface {
	// Put writes the blob under the given name, replacing any previous
	// content atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Get reads the whole blob. Fails with ErrNotFound if it is absent.
	Get(ctx context.Context, name string) ([]byte, error)
	// List returns the names of all blobs with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes the blob. Deleting an absent blob is a no-op.
	Delete(ctx context.Context, name string) error
}

// Kind selects a backend implementation.
type Kind string

const (
	KindFilesystem Kind = "filesystem"
	KindS3         Kind = "s3"
)

// Config selects and configures a blob backend.
type Config struct {
	Kind Kind
	// Root is the base directory of the filesystem backend.
	Root string
	S3   S3Config
}

// DefaultConfig returns a filesystem backend rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Kind: KindFilesystem,
		Root: dir,
	}
}

// Open creates the configured backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Kind {
	case KindFilesystem:
		return OpenFilesystem(cfg.Root)
	case KindS3:
		return OpenS3(cfg.S3)
	default:
		return nil, fmt.Errorf("backend: unknown kind %q", cfg.Kind)
	}
}
