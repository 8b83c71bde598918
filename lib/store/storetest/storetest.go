// Package storetest is the conformance suite every store backend runs.
package storetest

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oldschoolag/Faivr/lib/store"
)

func Common(t *testing.T, f store.Factory, config json.RawMessage) {
	if err := f.Valid(config); err != nil {
		t.Fatal(err)
	}

	s, err := f.Build(t.Context(), config)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name string
		doer func(t *testing.T, s store.Interface) error
		err  error
	}{
		{
			name: "basic get set delete",
			doer: func(t *testing.T, s store.Interface) error {
				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", t.Name())
				}

				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 5*time.Minute); err != nil {
					return err
				}

				val, err := s.Get(t.Context(), t.Name())
				if errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to exist in store but it does not: %v", t.Name(), err)
				} else if err != nil {
					t.Error(err)
				}

				if !bytes.Equal(val, []byte(t.Name())) {
					t.Logf("want: %q", t.Name())
					t.Logf("got:  %q", string(val))
					t.Error("wrong value returned")
				}

				if err := s.Delete(t.Context(), t.Name()); err != nil {
					return err
				}

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Error("wanted test to not exist in store but it exists anyways")
				}

				if err := s.Delete(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("key %q does not exist and Delete did not return store.ErrNotFound: %v", t.Name(), err)
				}

				return nil
			},
		},
		{
			name: "set replaces",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte("first"), 5*time.Minute); err != nil {
					return err
				}

				if err := s.Set(t.Context(), t.Name(), []byte("second"), 5*time.Minute); err != nil {
					return err
				}

				val, err := s.Get(t.Context(), t.Name())
				if err != nil {
					return err
				}

				if string(val) != "second" {
					t.Errorf("wanted the second write to win, got %q", string(val))
				}

				return s.Delete(t.Context(), t.Name())
			},
		},
		{
			name: "take consumes",
			doer: func(t *testing.T, s store.Interface) error {
				if _, err := s.Take(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("taking a missing key: wanted store.ErrNotFound, got: %v", err)
				}

				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 5*time.Minute); err != nil {
					return err
				}

				val, err := s.Take(t.Context(), t.Name())
				if err != nil {
					return err
				}

				if !bytes.Equal(val, []byte(t.Name())) {
					t.Errorf("wrong value taken: %q", string(val))
				}

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Error("value still present after Take")
				}

				if _, err := s.Take(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("second Take: wanted store.ErrNotFound, got: %v", err)
				}

				return nil
			},
		},
		{
			name: "concurrent take",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 5*time.Minute); err != nil {
					return err
				}

				var (
					wg  sync.WaitGroup
					won atomic.Int32
				)

				for range 16 {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if _, err := s.Take(t.Context(), t.Name()); err == nil {
							won.Add(1)
						}
					}()
				}
				wg.Wait()

				if n := won.Load(); n != 1 {
					t.Errorf("wanted exactly one Take to win, got: %d", n)
				}

				return nil
			},
		},
		{
			name: "expires",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 150*time.Millisecond); err != nil {
					return err
				}

				//nosleep:bypass XXX: switch to testing/synctest once every backend can run inside a bubble.
				time.Sleep(155 * time.Millisecond)

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", t.Name())
				}

				return nil
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.doer(t, s); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}
