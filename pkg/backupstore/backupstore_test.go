package backupstore

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/retry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

func newTestStore(t *testing.T) (*Store, string) {
	dir := t.TempDir()
	store, err := New(context.Background(), "vfs://"+dir, Options{Retry: fastRetry})
	require.NoError(t, err)
	return store, dir
}

func TestSupported(t *testing.T) {
	tests := []struct {
		target string
		ok     bool
	}{
		{"vfs:///var/lib/backups", true},
		{"file:///var/lib/backups", true},
		{"s3://bucket@us-east-1/prefix", true},
		{"nfs://server/export", false},
		{"/var/lib/backups", false},
		{"::not a url", false},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			err := Supported(tt.target)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, errdefs.ErrInvalidArgument), "got %v", err)
			}
		})
	}
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		target  string
		want    s3Target
		wantErr bool
	}{
		{"s3://backups@us-west-2/cluster-a", s3Target{Bucket: "backups", Region: "us-west-2", Prefix: "cluster-a"}, false},
		{"s3://backups@eu-central-1/", s3Target{Bucket: "backups", Region: "eu-central-1"}, false},
		{"s3://backups@/a/b", s3Target{Bucket: "backups", Region: defaultRegion, Prefix: "a/b"}, false},
		{"s3://us-west-2/prefix", s3Target{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			u, err := url.Parse(tt.target)
			require.NoError(t, err)

			got, err := parseS3URL(u)
			if tt.wantErr {
				assert.True(t, errors.Is(err, errdefs.ErrInvalidArgument))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVFSRelativePathRejected(t *testing.T) {
	_, err := NewVFS("vfs://relative", "")
	assert.True(t, errors.Is(err, errdefs.ErrInvalidArgument))
}

func TestVFSObjects(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestStore(t)

	n, err := store.Put(ctx, "volumes/vol1/blocks/b1.blk", strings.NewReader("block data"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.FileExists(t, filepath.Join(dir, "volumes", "vol1", "blocks", "b1.blk"))

	rc, err := store.Get(ctx, "volumes/vol1/blocks/b1.blk")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "block data", string(data))

	exists, err := store.Exists(ctx, "volumes/vol1/blocks/b1.blk")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = store.Get(ctx, "volumes/vol1/blocks/missing.blk")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestVFSListAndDelete(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestStore(t)

	for _, key := range []string{"volumes/b/volume.cfg", "volumes/a/volume.cfg", "volumes/a/backups/backup_x.cfg"} {
		_, err := store.Put(ctx, key, strings.NewReader("{}"))
		require.NoError(t, err)
	}

	names, err := store.List(ctx, "volumes")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	names, err = store.List(ctx, "volumes/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"backups", "volume.cfg"}, names)

	names, err = store.List(ctx, "nothing/here")
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, store.Delete(ctx, "volumes/b/volume.cfg"))
	require.NoError(t, store.Delete(ctx, "volumes/b/volume.cfg"), "deleting a missing object succeeds")
	assert.NoDirExists(t, filepath.Join(dir, "volumes", "b"))
	assert.DirExists(t, dir)

	names, err = store.List(ctx, "volumes")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)
}

func TestVFSPutLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestStore(t)

	_, err := store.Put(ctx, "obj", strings.NewReader("first"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "obj", strings.NewReader("second"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "obj", entries[0].Name())
}

func TestJSONRecords(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	type record struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	}

	require.NoError(t, store.PutJSON(ctx, "volumes/vol1/volume.cfg", record{Name: "vol1", Size: 1 << 30}))

	var got record
	require.NoError(t, store.GetJSON(ctx, "volumes/vol1/volume.cfg", &got))
	assert.Equal(t, record{Name: "vol1", Size: 1 << 30}, got)

	err := store.GetJSON(ctx, "volumes/vol2/volume.cfg", &got)
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

// flakyDriver fails the first n calls of List with a transient error
type flakyDriver struct {
	*VFS
	failures int
	calls    int
}

func (f *flakyDriver) List(ctx context.Context, prefix string) ([]string, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return f.VFS.List(ctx, prefix)
}

func TestStoreRetries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	vfs, err := NewVFS("vfs://"+dir, dir)
	require.NoError(t, err)

	driver := &flakyDriver{VFS: vfs, failures: 2}
	store := NewStore(driver, fastRetry)

	_, err = store.List(ctx, "volumes")
	require.NoError(t, err)
	assert.Equal(t, 3, driver.calls)

	driver = &flakyDriver{VFS: vfs, failures: 5}
	store = NewStore(driver, fastRetry)

	_, err = store.List(ctx, "volumes")
	require.Error(t, err)
	assert.Equal(t, 3, driver.calls)
}

func TestStoreDoesNotRetryNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	calls := 0
	store.retryer = retry.New(retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Retryable: func(err error) bool {
			calls++
			return retryable(err)
		},
	})

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
	assert.Equal(t, 1, calls)
}
