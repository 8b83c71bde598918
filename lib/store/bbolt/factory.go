package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oldschoolag/Faivr/lib/store"
	"go.etcd.io/bbolt"
)

var (
	ErrMissingPath     = errors.New("bbolt: path is missing from config")
	ErrCantWriteToPath = errors.New("bbolt: can't write to path")
	ErrBadInterval     = errors.New("bbolt: cleanupInterval must be a duration of at least one second")
)

// DefaultCleanupInterval is how often expired challenges are swept from disk.
const DefaultCleanupInterval = 5 * time.Minute

// openTimeout bounds how long Build waits for the file lock held by another
// process before giving up.
const openTimeout = 5 * time.Second

func init() {
	store.Register("bbolt", Factory{})
}

// Factory builds new instances of the bbolt storage backend according to
// configuration passed via a json.RawMessage.
type Factory struct{}

// Build parses and validates the bbolt storage backend Config and creates
// a new instance of it. The database is closed when ctx is done.
func (Factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	var config Config
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	bdb, err := bbolt.Open(config.Path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("can't open bbolt database %s: %w", config.Path, err)
	}

	result := &Store{
		bdb:      bdb,
		interval: config.interval(),
	}

	go result.cleanupThread(ctx)

	return result, nil
}

// Valid parses and validates the bbolt store Config or returns
// an error.
func (Factory) Valid(data json.RawMessage) error {
	var config Config
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return nil
}

// Config is the bbolt storage backend configuration.
type Config struct {
	// Path is the filesystem path of the database. The folder must be writable.
	Path string `json:"path"`

	// CleanupInterval is a Go duration string such as "90s". Defaults to
	// DefaultCleanupInterval.
	CleanupInterval string `json:"cleanupInterval,omitempty"`
}

func (c Config) interval() time.Duration {
	d, err := time.ParseDuration(c.CleanupInterval)
	if err != nil {
		return DefaultCleanupInterval
	}

	return d
}

// Valid validates the configuration including checking if its containing folder is writable.
func (c Config) Valid() error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, ErrMissingPath)
	} else {
		dir := filepath.Dir(c.Path)
		if err := os.WriteFile(filepath.Join(dir, ".test-file"), []byte(""), 0600); err != nil {
			errs = append(errs, ErrCantWriteToPath)
		}
		os.Remove(filepath.Join(dir, ".test-file"))
	}

	if c.CleanupInterval != "" {
		if d, err := time.ParseDuration(c.CleanupInterval); err != nil || d < time.Second {
			errs = append(errs, fmt.Errorf("%w, got: %q", ErrBadInterval, c.CleanupInterval))
		}
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}
