// Package snippet persists named text snippets on top of an object store.
package snippet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"snipbridge/internal/objectstore"
)

const (
	// DefaultContainer holds one object per snippet.
	DefaultContainer = "snippets"
	// NotFound is returned as content when no snippet exists under the requested name.
	NotFound = "Snippet not found"

	objectSuffix = ".json"
)

var (
	ErrNameRequired    = errors.New("snippet name is required")
	ErrContentRequired = errors.New("snippet content is required")
)

// Store reads and writes snippets by name. Writes overwrite unconditionally.
type Store struct {
	objects   objectstore.Store
	container string
}

// NewStore wraps objects; an empty container selects DefaultContainer.
func NewStore(objects objectstore.Store, container string) (*Store, error) {
	if objects == nil {
		return nil, errors.New("snippet store requires an object store")
	}
	container = strings.TrimSpace(container)
	if container == "" {
		container = DefaultContainer
	}
	return &Store{objects: objects, container: container}, nil
}

// Container returns the object store container snippets are written to.
func (s *Store) Container() string { return s.container }

// Fetch returns the stored content, or NotFound when the snippet does not exist.
func (s *Store) Fetch(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", ErrNameRequired
	}

	data, err := s.objects.Get(ctx, s.container, ObjectKey(name))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return NotFound, nil
		}
		return "", fmt.Errorf("fetch snippet %q: %w", name, err)
	}
	return string(data), nil
}

// Save creates the container if needed and overwrites the snippet.
func (s *Store) Save(ctx context.Context, name, content string) error {
	if name == "" {
		return ErrNameRequired
	}
	if content == "" {
		return ErrContentRequired
	}

	if err := s.objects.EnsureContainer(ctx, s.container); err != nil {
		return fmt.Errorf("ensure container %s: %w", s.container, err)
	}
	if err := s.objects.Put(ctx, s.container, ObjectKey(name), []byte(content)); err != nil {
		return fmt.Errorf("save snippet %q: %w", name, err)
	}
	return nil
}

// ObjectKey maps a snippet name to its object key.
func ObjectKey(name string) string {
	return name + objectSuffix
}
