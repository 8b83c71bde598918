package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/oldschoolag/Faivr/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

var (
	ErrNoURL        = errors.New("valkey.Config: no URL defined")
	ErrBadURL       = errors.New("valkey.Config: URL is invalid")
	ErrBadKeyPrefix = errors.New("valkey.Config: keyPrefix must not contain whitespace")
)

// DefaultKeyPrefix namespaces every key so that one valkey database can be
// shared with other applications.
const DefaultKeyPrefix = "faivr:"

func init() {
	store.Register("valkey", Factory{})
}

type Factory struct{}

func (Factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	var config Config

	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	opts, err := valkey.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	rdb := valkey.NewClient(opts)

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("can't ping valkey instance: %w", err)
	}

	go func() {
		<-ctx.Done()
		rdb.Close()
	}()

	return &Store{
		rdb:    rdb,
		prefix: config.keyPrefix(),
	}, nil
}

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

// Config is the valkey storage backend configuration.
type Config struct {
	// URL is a redis:// or rediss:// connection URL, e.g. redis://valkey:6379/0.
	URL string `json:"url"`

	// KeyPrefix is prepended to every key. Defaults to DefaultKeyPrefix; set
	// it to "-" to disable prefixing.
	KeyPrefix string `json:"keyPrefix,omitempty"`
}

func (c Config) keyPrefix() string {
	switch c.KeyPrefix {
	case "":
		return DefaultKeyPrefix
	case "-":
		return ""
	default:
		return c.KeyPrefix
	}
}

func (c Config) Valid() error {
	var errs []error

	if c.URL == "" {
		errs = append(errs, ErrNoURL)
	} else if _, err := valkey.ParseURL(c.URL); err != nil {
		errs = append(errs, ErrBadURL)
	}

	if strings.ContainsFunc(c.KeyPrefix, unicode.IsSpace) {
		errs = append(errs, ErrBadKeyPrefix)
	}

	if len(errs) != 0 {
		return fmt.Errorf("valkey.Config: invalid config: %w", errors.Join(errs...))
	}

	return nil
}
