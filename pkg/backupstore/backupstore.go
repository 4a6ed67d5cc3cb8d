package backupstore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/retry"
	"github.com/pkg/errors"
)

// Driver is an object store holding backup records and blocks. Keys are
// slash separated and relative to the driver's target URL.
type Driver interface {
	Kind() string
	URL() string

	// Put stores the content of r under key and returns the number of
	// bytes written
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns the names of the immediate children of prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Options configures the drivers created by New
type Options struct {
	S3    S3Options
	Retry retry.Config
}

// S3Options holds the settings of s3:// targets that are not part of the URL
type S3Options struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	PathStyle bool   `yaml:"pathStyle"`
}

type factory func(ctx context.Context, u *url.URL, opts Options) (Driver, error)

var drivers = map[string]factory{
	"vfs":  newVFS,
	"file": newVFS,
	"s3":   newS3,
}

// Kinds returns the URL schemes with a registered driver
func Kinds() []string {
	kinds := make([]string, 0, len(drivers))
	for kind := range drivers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Supported reports whether target parses and names a registered scheme
func Supported(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return errdefs.NewInvalidArgumentError("invalid backup target %q: %v", target, err)
	}
	if _, ok := drivers[u.Scheme]; !ok {
		return errdefs.NewInvalidArgumentError("no backup store driver for %q (supported: %s)",
			target, strings.Join(Kinds(), ", "))
	}
	return nil
}

// Store wraps a Driver with retries and JSON record helpers
type Store struct {
	driver  Driver
	retryer *retry.Retryer
}

// New opens the store named by target
func New(ctx context.Context, target string, opts Options) (*Store, error) {
	if err := Supported(target); err != nil {
		return nil, err
	}
	u, _ := url.Parse(target)

	driver, err := drivers[u.Scheme](ctx, u, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open backup store %s", target)
	}
	return NewStore(driver, opts.Retry), nil
}

// NewStore wraps an already opened driver
func NewStore(driver Driver, cfg retry.Config) *Store {
	logger := log.WithComponent("backupstore")
	cfg.Retryable = retryable
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn().Err(err).
			Str("store", driver.URL()).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Backup store operation failed, retrying")
	}
	return &Store{driver: driver, retryer: retry.New(cfg)}
}

// Driver returns the underlying driver
func (s *Store) Driver() Driver {
	return s.driver
}

// URL returns the target the store was opened with
func (s *Store) URL() string {
	return s.driver.URL()
}

// Put stores an object. The reader is consumed once; a failed put is not
// retried because the stream cannot be rewound.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	n, err := s.driver.Put(ctx, key, r)
	if err != nil {
		return n, errors.Wrapf(err, "failed to put %s", key)
	}
	return n, nil
}

// Get opens an object for reading
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := s.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		rc, err = s.driver.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s", key)
	}
	return rc, nil
}

// List returns the sorted names directly under prefix
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := s.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		names, err = s.driver.List(ctx, prefix)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", prefix)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes an object
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.retryer.Do(ctx, func(ctx context.Context) error {
		return s.driver.Delete(ctx, key)
	})
	return errors.Wrapf(err, "failed to delete %s", key)
}

// Exists reports whether an object is present
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		exists, err = s.driver.Exists(ctx, key)
		return err
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to stat %s", key)
	}
	return exists, nil
}

// PutJSON stores v as a JSON record
func (s *Store) PutJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", key)
	}
	return s.retryer.Do(ctx, func(ctx context.Context) error {
		_, err := s.driver.Put(ctx, key, bytes.NewReader(data))
		return errors.Wrapf(err, "failed to put %s", key)
	})
}

// GetJSON decodes the JSON record at key into v
func (s *Store) GetJSON(ctx context.Context, key string, v interface{}) error {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return errors.Wrapf(err, "failed to decode %s", key)
	}
	return nil
}

func retryable(err error) bool {
	return !errors.Is(err, errdefs.ErrNotFound) &&
		!errors.Is(err, errdefs.ErrInvalidArgument) &&
		!errors.Is(err, context.Canceled)
}
