package bbolt

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/oldschoolag/Faivr/lib/store/storetest"
)

func TestImpl(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	t.Log(path)
	data, err := json.Marshal(Config{
		Path: path,
	})
	if err != nil {
		t.Fatal(err)
	}

	storetest.Common(t, Factory{}, json.RawMessage(data))
}

func TestCleanup(t *testing.T) {
	data, err := json.Marshal(Config{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	if err != nil {
		t.Fatal(err)
	}

	st, err := Factory{}.Build(t.Context(), json.RawMessage(data))
	if err != nil {
		t.Fatal(err)
	}
	s := st.(*Store)

	if err := s.Set(t.Context(), "stale", []byte("x"), -time.Second); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(t.Context(), "fresh", []byte("y"), time.Hour); err != nil {
		t.Fatal(err)
	}

	if err := s.cleanup(t.Context()); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	if err := s.Delete(t.Context(), "stale"); err == nil {
		t.Error("stale value survived cleanup")
	}

	if val, err := s.Get(t.Context(), "fresh"); err != nil || string(val) != "y" {
		t.Errorf("fresh value was damaged by cleanup: %q, %v", val, err)
	}
}
