// Package objectstore persists raw capture bytes outside the database.
package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Store writes and addresses binary blobs.
type Store interface {
	// Put writes the blob at the given relative path.
	Put(ctx context.Context, path string, data []byte, contentType string) error

	// PublicURL returns an address for a previously stored path.
	PublicURL(path string) string
}

// LocalDisk stores blobs under a root directory on the local filesystem.
type LocalDisk struct {
	root    string
	baseURL string
}

// NewLocalDisk creates a disk-backed store rooted at root. baseURL prefixes
// the addresses returned by PublicURL.
func NewLocalDisk(root, baseURL string) (*LocalDisk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create object store root")
	}
	return &LocalDisk{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (d *LocalDisk) Put(ctx context.Context, path string, data []byte, contentType string) error {
	clean, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(clean), 0o755); err != nil {
		return errors.Wrap(err, "failed to create blob directory")
	}
	if err := os.WriteFile(clean, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write blob")
	}
	return nil
}

func (d *LocalDisk) PublicURL(path string) string {
	return d.baseURL + "/" + strings.TrimLeft(path, "/")
}

// resolve joins path under the root and rejects traversal outside it.
func (d *LocalDisk) resolve(path string) (string, error) {
	clean := filepath.Join(d.root, filepath.Clean("/"+path))
	if !strings.HasPrefix(clean, d.root+string(os.PathSeparator)) {
		return "", errors.Errorf("invalid blob path: %s", path)
	}
	return clean, nil
}
