package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrRootRequired indicates a filesystem store without a root directory.
var ErrRootRequired = errors.New("object store root directory is required")

// FS stores each container as a directory and each object as one file whose
// name is the path-escaped key.
type FS struct {
	root string
}

// NewFS constructs a filesystem store rooted at dir. The directory is created lazily.
func NewFS(dir string) (*FS, error) {
	root := strings.TrimSpace(dir)
	if root == "" {
		return nil, ErrRootRequired
	}
	return &FS{root: root}, nil
}

// Root returns the directory holding all containers.
func (s *FS) Root() string { return s.root }

func (s *FS) EnsureContainer(ctx context.Context, container string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateName(container); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.root, container), 0o755); err != nil {
		return fmt.Errorf("create container %s: %w", container, err)
	}
	return nil
}

func (s *FS) Exists(ctx context.Context, container, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := s.objectPath(container, key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s/%s: %w", container, key, err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *FS) Get(ctx context.Context, container, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.objectPath(container, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, container, key)
		}
		return nil, fmt.Errorf("read %s/%s: %w", container, key, err)
	}
	return data, nil
}

// Put writes through a temp file and rename so readers never see a partial object.
func (s *FS) Put(ctx context.Context, container, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.objectPath(container, key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, container)
		}
		return fmt.Errorf("stat container %s: %w", container, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp object for %s/%s: %w", container, key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s/%s: %w", container, key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s/%s: %w", container, key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("commit %s/%s: %w", container, key, err)
	}
	return nil
}

func (s *FS) objectPath(container, key string) (string, error) {
	if err := ValidateName(container); err != nil {
		return "", err
	}
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, container, fileName(key)), nil
}

// fileName maps key onto a single path element. Separators and spaces are
// escaped; the dot-only names "." and ".." are escaped in full.
func fileName(key string) string {
	name := url.PathEscape(key)
	if strings.Trim(name, ".") == "" {
		return strings.ReplaceAll(name, ".", "%2E")
	}
	return name
}
