package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Scoped is a prefix-restricted view over the shared object store. Every key
// argument resolves to prefix+cleanedKey; keys that would escape the prefix
// are rejected with ErrInvalidKey. Scoped views are values constructed per
// turn and never shared between agents.
type Scoped struct {
	store  ObjectStore
	bucket string
	prefix string
}

// ForUser returns the scoped view for a (user, agent) pair.
func ForUser(store ObjectStore, bucket, userID, agentSlug string) Scoped {
	return Scoped{
		store:  store,
		bucket: bucket,
		prefix: fmt.Sprintf("users/%s/agents/%s/", userID, agentSlug),
	}
}

// ForWorkspace returns the scoped view for a (workspace, agent) pair.
func ForWorkspace(store ObjectStore, bucket, workspaceID, agentSlug string) Scoped {
	return Scoped{
		store:  store,
		bucket: bucket,
		prefix: fmt.Sprintf("workspaces/%s/agents/%s/", workspaceID, agentSlug),
	}
}

// Platform returns the platform-wide view for system data (exports, shared
// resources). Never handed to agents.
func Platform(store ObjectStore, bucket string) Scoped {
	return Scoped{store: store, bucket: bucket, prefix: "platform/"}
}

// Prefix returns the view's key prefix.
func (s Scoped) Prefix() string { return s.prefix }

// Put stores data under the scoped key.
func (s Scoped) Put(ctx context.Context, key string, data []byte, contentType string) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, s.bucket, full, data, contentType)
}

// Get returns the object under the scoped key.
func (s Scoped) Get(ctx context.Context, key string) (*Object, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, s.bucket, full)
}

// Delete removes the object under the scoped key.
func (s Scoped) Delete(ctx context.Context, key string) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, s.bucket, full)
}

// List returns keys under the scoped prefix, with the prefix stripped.
func (s Scoped) List(ctx context.Context, keyPrefix string) ([]string, error) {
	full := s.prefix
	if keyPrefix != "" {
		resolved, err := s.resolve(keyPrefix)
		if err != nil {
			return nil, err
		}
		full = resolved
	}
	keys, err := s.store.List(ctx, s.bucket, full)
	if err != nil {
		return nil, err
	}
	stripped := make([]string, 0, len(keys))
	for _, k := range keys {
		stripped = append(stripped, strings.TrimPrefix(k, s.prefix))
	}
	return stripped, nil
}

// Exists reports whether an object exists under the scoped key.
func (s Scoped) Exists(ctx context.Context, key string) (bool, error) {
	full, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	return s.store.Exists(ctx, s.bucket, full)
}

// resolve validates and joins the key onto the view's prefix. Rejection is
// syntactic (any ".." segment or a leading "/") so that no cleaned form of a
// hostile key can reach outside the prefix.
func (s Scoped) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: key must be relative: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: key must not contain '..': %q", ErrInvalidKey, key)
		}
	}
	cleaned := path.Clean(key)
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return s.prefix + cleaned, nil
}
