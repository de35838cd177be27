package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrContainerNotFound indicates a write into a container that was never created.
	ErrContainerNotFound = errors.New("container not found")
	// ErrInvalidName indicates a container name that cannot be addressed safely, or an empty key.
	ErrInvalidName = errors.New("invalid object name")
)

// Store is an opaque key/value blob service grouped into named containers.
// Writes overwrite unconditionally.
type Store interface {
	EnsureContainer(ctx context.Context, container string) error
	Exists(ctx context.Context, container, key string) (bool, error)
	Get(ctx context.Context, container, key string) ([]byte, error)
	Put(ctx context.Context, container, key string, data []byte) error
}

// ValidateKey accepts any non-empty object key. Keys are opaque; backends that
// map them onto paths encode them.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidName)
	}
	return nil
}

// ValidateName rejects empty container names and names that could escape the store root.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case trimmed != name:
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidName, name)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}
