package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no object exists at a key
var ErrNotFound = errors.New("object not found")

// Reader provides read access to stored prediction files and tables
type Reader interface {
	// GetReader returns a reader for the content at the given key
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if content exists at the given key
	Exists(ctx context.Context, key string) (bool, error)
}

// Lister is a Reader that can enumerate its keys
type Lister interface {
	Reader

	// List returns the keys matching a glob pattern, sorted
	List(ctx context.Context, pattern string) ([]string, error)
}
