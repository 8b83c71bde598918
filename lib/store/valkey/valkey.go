package valkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oldschoolag/Faivr/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

// Store implements store.Interface on top of a valkey (or Redis) server. Key
// expiry is delegated to the server, so several service instances can share
// pending challenges.
type Store struct {
	rdb    *valkey.Client
	prefix string
}

func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.rdb.Del(ctx, s.prefix+key).Result()
	if err != nil {
		return fmt.Errorf("can't delete from valkey: %w", err)
	}

	switch n {
	case 0:
		return fmt.Errorf("%w: %d key(s) deleted", store.ErrNotFound, n)
	default:
		return nil
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, fmt.Errorf("%w: %w", store.ErrNotFound, err)
		}

		return nil, fmt.Errorf("can't fetch from valkey: %w", err)
	}

	return result, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	if _, err := s.rdb.Set(ctx, s.prefix+key, value, expiry).Result(); err != nil {
		return fmt.Errorf("can't set %q in valkey: %w", key, err)
	}

	return nil
}

// Take uses GETDEL, so it needs valkey 7.2 or Redis 6.2 and later.
func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	result, err := s.rdb.GetDel(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, fmt.Errorf("%w: %w", store.ErrNotFound, err)
		}

		return nil, fmt.Errorf("can't take from valkey: %w", err)
	}

	return result, nil
}
