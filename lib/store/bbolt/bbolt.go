package bbolt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oldschoolag/Faivr/lib/store"
	"go.etcd.io/bbolt"
)

// ErrNotExists is wrapped alongside store.ErrNotFound when deleting a
// missing key, for admin-visible error messages.
var ErrNotExists = errors.New("bbolt: value does not exist in store")

// Store implements store.Interface backed by bbolt[1].
//
// Every value gets its own top-level bucket holding two keys:
//
// 1. data - The raw data, usually a JSON encoded challenge
// 2. expiry - The expiry time formatted as a time.RFC3339Nano timestamp string
//
// Keeping the expiry in its own key lets the cleanup phase scan expiry times
// without decoding any records.
//
// bbolt holds an exclusive file lock, so only one instance of the service can
// use a given database. For several instances behind a load balancer, use the
// valkey backend.
//
// [1]: https://github.com/etcd-io/bbolt
type Store struct {
	bdb      *bbolt.DB
	interval time.Duration
}

// Delete a key from the datastore. If the key does not exist, return an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(key)) == nil {
			return fmt.Errorf("%w: %w: %q", store.ErrNotFound, ErrNotExists, key)
		}

		return tx.DeleteBucket([]byte(key))
	})
}

// Get a value from the datastore.
//
// Because each value is stored in its own bucket with data and expiry keys,
// two get operations are required:
//
// 1. Get the expiry key, parse as time.RFC3339Nano. If the key has expired, run deletion in the background and return a "key not found" error.
// 2. Get the data key, copy into the result byteslice, return it.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var result []byte

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		itemBucket := tx.Bucket([]byte(key))
		if itemBucket == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		expiryStr := itemBucket.Get([]byte("expiry"))
		if expiryStr == nil {
			return fmt.Errorf("[unexpected] %w: %q (expiry is nil)", store.ErrNotFound, key)
		}

		expiry, err := time.Parse(time.RFC3339Nano, string(expiryStr))
		if err != nil {
			return fmt.Errorf("[unexpected] %w: %w", store.ErrCantDecode, err)
		}

		if time.Now().After(expiry) {
			go s.Delete(context.Background(), key)
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		dataStr := itemBucket.Get([]byte("data"))
		if dataStr == nil {
			return fmt.Errorf("[unexpected] %w: %q (data is nil)", store.ErrNotFound, key)
		}

		// bbolt memory is only valid for the lifetime of the transaction.
		result = make([]byte, len(dataStr))
		copy(result, dataStr)

		return nil
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// Take reads and deletes a value in one read-write transaction. bbolt allows a
// single writer at a time, which makes this atomic.
func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	var result []byte

	if err := s.bdb.Update(func(tx *bbolt.Tx) error {
		itemBucket := tx.Bucket([]byte(key))
		if itemBucket == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		expiry, err := time.Parse(time.RFC3339Nano, string(itemBucket.Get([]byte("expiry"))))
		if err != nil {
			return fmt.Errorf("[unexpected] %w: %w", store.ErrCantDecode, err)
		}

		if data := itemBucket.Get([]byte("data")); data != nil && !time.Now().After(expiry) {
			result = append([]byte(nil), data...)
		}

		if err := tx.DeleteBucket([]byte(key)); err != nil {
			return fmt.Errorf("can't delete bucket %q: %w", key, err)
		}

		if result == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		return nil
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// Set a value into the store with a given expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	expires := time.Now().Add(expiry)

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		valueBkt, err := tx.CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return fmt.Errorf("%w: %w: %q (create bucket)", store.ErrCantEncode, err, key)
		}

		if err := valueBkt.Put([]byte("expiry"), []byte(expires.Format(time.RFC3339Nano))); err != nil {
			return fmt.Errorf("%w: %q (expiry)", store.ErrCantEncode, key)
		}

		if err := valueBkt.Put([]byte("data"), value); err != nil {
			return fmt.Errorf("%w: %q (data)", store.ErrCantEncode, key)
		}

		return nil
	})
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.bdb.Close()
}

func (s *Store) cleanup(ctx context.Context) error {
	now := time.Now()

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		// bbolt does not allow modifying the keyspace while iterating it.
		var expired [][]byte

		if err := tx.ForEach(func(key []byte, valueBkt *bbolt.Bucket) error {
			expiryStr := valueBkt.Get([]byte("expiry"))
			if expiryStr == nil {
				slog.Warn("while running cleanup, expiry is not set somehow, file a bug?", "key", string(key))
				return nil
			}

			expiry, err := time.Parse(time.RFC3339Nano, string(expiryStr))
			if err != nil {
				return fmt.Errorf("[unexpected] %w in bucket %q: %w", store.ErrCantDecode, string(key), err)
			}

			if now.After(expiry) {
				expired = append(expired, append([]byte(nil), key...))
			}

			return nil
		}); err != nil {
			return err
		}

		for _, key := range expired {
			if err := tx.DeleteBucket(key); err != nil {
				return fmt.Errorf("can't delete expired bucket %q: %w", string(key), err)
			}
		}

		if len(expired) != 0 {
			slog.Debug("bbolt cleanup removed expired values", "count", len(expired))
		}

		return nil
	})
}

func (s *Store) cleanupThread(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.Close(); err != nil {
				slog.Error("can't close bbolt database", "err", err)
			}
			return
		case <-t.C:
			if err := s.cleanup(ctx); err != nil {
				slog.Error("error during bbolt cleanup", "err", err)
			}
		}
	}
}
