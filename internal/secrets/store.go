// Package secrets stores provider credentials encrypted at rest.
//
// Secrets are addressed by well-known keys; the LLM gateway looks up
// "llm-provider-<slug>-api-key" to decide whether a provider is usable.
package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no secret exists for a key.
var ErrNotFound = errors.New("secret not found")

// Store is the keyed secret store.
type Store interface {
	// Put stores or replaces the value for key.
	Put(ctx context.Context, key, value string) error

	// Get returns the decrypted value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Has reports whether a value exists for key without decrypting it.
	Has(ctx context.Context, key string) (bool, error)

	// Delete removes the value for key, or returns ErrNotFound.
	Delete(ctx context.Context, key string) error

	// List returns all stored keys.
	List(ctx context.Context) ([]string, error)
}

// ProviderKey is the secret key holding an LLM provider's API key.
func ProviderKey(providerSlug string) string {
	return "llm-provider-" + providerSlug + "-api-key"
}
