package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrBlobNotFound indicates no blob exists under the stored name.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore persists audio payloads under collision-resistant opaque names.
type BlobStore interface {
	// Save writes the stream durably and returns the generated name
	// (<uuid>.<ext>). Nothing is left behind on a failed write.
	Save(ctx context.Context, ext string, r io.Reader) (string, error)
	// Open returns a read handle for a stored blob. The caller closes it.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Remove deletes a stored blob. Missing blobs are not an error.
	Remove(ctx context.Context, name string) error
}

// DiskStore keeps blobs as flat files under a base directory.
type DiskStore struct {
	basePath string
}

// NewDiskStore creates the base directory if missing.
func NewDiskStore(basePath string) (*DiskStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DiskStore{basePath: basePath}, nil
}

// Save streams the payload to a freshly named file. A partial file from an
// interrupted write is removed so no database row can ever reference it.
func (d *DiskStore) Save(ctx context.Context, ext string, r io.Reader) (string, error) {
	name := newBlobName(ext)
	target := filepath.Join(d.basePath, name)

	out, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	w := bufio.NewWriter(out)
	if _, err := io.Copy(w, r); err == nil {
		err = w.Flush()
	}
	if err != nil {
		out.Close()
		os.Remove(target)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := ctx.Err(); err != nil {
		os.Remove(target)
		return "", err
	}
	return name, nil
}

// Open resolves a stored name to a read handle. Names are validated before
// touching the filesystem so a crafted name cannot escape the base
// directory.
func (d *DiskStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if !validBlobName(name) {
		return nil, fmt.Errorf("%q: %w", name, ErrBlobNotFound)
	}
	f, err := os.Open(filepath.Join(d.basePath, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%q: %w", name, ErrBlobNotFound)
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Remove deletes a stored blob.
func (d *DiskStore) Remove(_ context.Context, name string) error {
	if !validBlobName(name) {
		return nil
	}
	if err := os.Remove(filepath.Join(d.basePath, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// newBlobName generates <uuid>.<ext>. The extension comes from the
// client-supplied filename, so it is stripped of any path content.
func newBlobName(ext string) string {
	ext = filepath.Base(strings.TrimSpace(ext))
	ext = strings.TrimPrefix(ext, ".")
	name := uuid.New().String()
	if ext != "" && ext != "." {
		name += "." + ext
	}
	return name
}

// validBlobName rejects anything that could traverse outside the base
// directory.
func validBlobName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return true
}
