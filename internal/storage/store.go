// Package storage provides the bucketed object store and the prefix-scoped
// views handed to agents.
package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned when no object exists for a key.
var ErrObjectNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys that would escape a scoped prefix.
var ErrInvalidKey = errors.New("invalid storage key")

// Object is a stored blob together with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// ObjectStore is the bucketed blob store interface. Implemented by S3Store in
// production and MemoryStore in tests.
type ObjectStore interface {
	// Put stores or replaces the object at key.
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error

	// Get returns the object at key, or ErrObjectNotFound.
	Get(ctx context.Context, bucket, key string) (*Object, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, bucket, key string) error

	// List returns the keys under the given prefix, sorted.
	List(ctx context.Context, bucket, prefix string) ([]string, error)

	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, bucket, key string) (bool, error)
}
