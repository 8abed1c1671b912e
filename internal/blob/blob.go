// Package blob defines the object store holding file bytes.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ListOptions narrows a key listing.
type ListOptions struct {
	Prefix        string
	ExcludePrefix string
}

// Store is the object storage collaborator.
type Store interface {
	// PresignedReadURL returns a time-limited GET URL for key. filename,
	// when set, is sent back as an inline Content-Disposition.
	PresignedReadURL(ctx context.Context, key, filename string) (string, error)
	// ObjectSize returns the size of key or ErrNotFound.
	ObjectSize(ctx context.Context, key string) (int64, error)
	ObjectExists(ctx context.Context, key string) (bool, error)
	// DeleteObject removes key. When permanent is false only the current
	// version is removed and older versions survive in a versioned bucket.
	DeleteObject(ctx context.Context, key string, permanent bool) error
	// ListKeys calls fn for every key in the bucket matching opts, page by
	// page. Returning an error from fn stops the listing.
	ListKeys(ctx context.Context, opts ListOptions, fn func(key string) error) error
}
