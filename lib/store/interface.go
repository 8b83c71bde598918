package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the store implementation cannot find the value
	// for a given key, or the value has expired.
	ErrNotFound = errors.New("store: key not found")

	// ErrCantDecode is returned when a store adaptor cannot decode the store format
	// to a value used by the code.
	ErrCantDecode = errors.New("store: can't decode value")

	// ErrCantEncode is returned when a store adaptor cannot encode the value into
	// the format that the store uses.
	ErrCantEncode = errors.New("store: can't encode value")

	// ErrBadConfig is returned when a store adaptor's configuration is invalid.
	ErrBadConfig = errors.New("store: configuration is invalid")
)

// Interface defines the calls the verification service uses to keep pending
// challenges in a local or remote datastore. Implementations exist for memory,
// bbolt and valkey; any of them must make an expired value indistinguishable
// from a missing one.
type Interface interface {
	// Delete removes a value from the store by key. Deleting a missing key
	// returns an error wrapping ErrNotFound.
	Delete(ctx context.Context, key string) error

	// Get returns the value of a key assuming that value exists and has not expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set puts a value into the store that expires according to its expiry,
	// replacing any previous value for the key.
	Set(ctx context.Context, key string, value []byte, expiry time.Duration) error

	// Take atomically removes a live value and returns it. Of several
	// concurrent callers, even across processes sharing a backend, at most one
	// gets the value; the rest get an error wrapping ErrNotFound.
	Take(ctx context.Context, key string) ([]byte, error)
}

func z[T any]() T { return *new(T) }

// JSON is a typed view over an Interface. Values are stored JSON-encoded under
// Prefix+key.
type JSON[T any] struct {
	Underlying Interface
	Prefix     string
}

func (j *JSON[T]) key(key string) string {
	if j.Prefix != "" {
		return j.Prefix + key
	}

	return key
}

func (j *JSON[T]) Delete(ctx context.Context, key string) error {
	return j.Underlying.Delete(ctx, j.key(key))
}

func (j *JSON[T]) Get(ctx context.Context, key string) (T, error) {
	data, err := j.Underlying.Get(ctx, j.key(key))
	if err != nil {
		return z[T](), err
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return z[T](), fmt.Errorf("%w: %w", ErrCantDecode, err)
	}

	return result, nil
}

func (j *JSON[T]) Set(ctx context.Context, key string, value T, expiry time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCantEncode, err)
	}

	if err := j.Underlying.Set(ctx, j.key(key), data, expiry); err != nil {
		return err
	}

	return nil
}

func (j *JSON[T]) Take(ctx context.Context, key string) (T, error) {
	data, err := j.Underlying.Take(ctx, j.key(key))
	if err != nil {
		return z[T](), err
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return z[T](), fmt.Errorf("%w: %w", ErrCantDecode, err)
	}

	return result, nil
}
