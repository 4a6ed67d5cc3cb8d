package backupstore

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/pkg/errors"
)

// VFS stores objects as files under a local or mounted directory
type VFS struct {
	url  string
	root string
}

func newVFS(_ context.Context, u *url.URL, _ Options) (Driver, error) {
	return NewVFS(u.String(), u.Path)
}

// NewVFS creates a driver rooted at dir, creating it when missing
func NewVFS(target, dir string) (*VFS, error) {
	if dir == "" || !filepath.IsAbs(dir) {
		return nil, errdefs.NewInvalidArgumentError("vfs target %q needs an absolute path", target)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", dir)
	}
	return &VFS{url: target, root: filepath.Clean(dir)}, nil
}

func (v *VFS) Kind() string { return "vfs" }

func (v *VFS) URL() string { return v.url }

func (v *VFS) path(key string) string {
	return filepath.Join(v.root, filepath.FromSlash(key))
}

// Put writes to a temporary file in the target directory and renames it
// into place, so readers never see a partial object
func (v *VFS) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	dst := v.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	return n, os.Rename(tmp.Name(), dst)
}

func (v *VFS) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(v.path(key))
	if os.IsNotExist(err) {
		return nil, errdefs.NewNotFoundError("object %s not found", key)
	}
	return f, err
}

func (v *VFS) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(v.path(prefix))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Name()[0] == '.' {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// Delete removes the file and any directories left empty above it
func (v *VFS) Delete(_ context.Context, key string) error {
	p := v.path(key)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}

	for dir := filepath.Dir(p); dir != v.root && len(dir) > len(v.root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

func (v *VFS) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(v.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
