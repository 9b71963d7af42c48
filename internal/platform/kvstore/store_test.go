package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "state", "companion.yaml"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fs,
	}
}

func TestStore_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("Get(missing) = ok %v, err %v; want absent", ok, err)
			}
			if err := s.Set(ctx, "token", "abc"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			v, ok, err := s.Get(ctx, "token")
			if err != nil || !ok || v != "abc" {
				t.Fatalf("Get(token) = %q, %v, %v", v, ok, err)
			}
			if err := s.Remove(ctx, "token"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if _, ok, _ := s.Get(ctx, "token"); ok {
				t.Error("expected token to be removed")
			}
			if err := s.Remove(ctx, "token"); err != nil {
				t.Errorf("removing an absent key should not fail: %v", err)
			}
		})
	}
}

func TestStore_SetMulti(t *testing.T) {
	ctx := context.Background()
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_ = s.Set(ctx, "stale", "x")
			err := s.SetMulti(ctx, map[string]string{
				"a":     "1",
				"b":     "2",
				"stale": "",
			})
			if err != nil {
				t.Fatalf("SetMulti: %v", err)
			}
			for k, want := range map[string]string{"a": "1", "b": "2"} {
				if v, _, _ := s.Get(ctx, k); v != want {
					t.Errorf("Get(%q) = %q, want %q", k, v, want)
				}
			}
			if _, ok, _ := s.Get(ctx, "stale"); ok {
				t.Error("empty value in SetMulti should remove the key")
			}
		})
	}
}

func TestStore_SetEmptyRemoves(t *testing.T) {
	ctx := context.Background()
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set(ctx, "handle", "h1"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set(ctx, "handle", ""); err != nil {
				t.Fatalf("Set(empty): %v", err)
			}
			if v, ok, err := s.Get(ctx, "handle"); err != nil || ok {
				t.Errorf("Get(handle) = %q, %v, %v; want absent", v, ok, err)
			}
		})
	}
}

func TestStore_InvalidKey(t *testing.T) {
	ctx := context.Background()
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set(ctx, " ", "v"); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Set(blank) err = %v, want ErrInvalidKey", err)
			}
			if _, _, err := s.Get(ctx, ""); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Get(empty) err = %v, want ErrInvalidKey", err)
			}
			if err := s.SetMulti(ctx, map[string]string{"": "v"}); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("SetMulti(empty key) err = %v, want ErrInvalidKey", err)
			}
		})
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "companion.yaml")

	first, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := first.Set(ctx, "uioyp-daily-reminder-time", `{"hour":21,"minute":0}`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	second, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	v, ok, err := second.Get(ctx, "uioyp-daily-reminder-time")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok %v, err %v", ok, err)
	}
	if v != `{"hour":21,"minute":0}` {
		t.Errorf("value = %q", v)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "companion.yaml")
	if err := os.WriteFile(path, []byte("::: not yaml [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, _, err := s.Get(context.Background(), "k"); err == nil {
		t.Error("expected error reading a corrupt store")
	}
}

func TestNewFileStore_RequiresPath(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestNewPGStore_TableName(t *testing.T) {
	s, err := NewPGStore(nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.table != DefaultTable {
		t.Errorf("table = %q, want %q", s.table, DefaultTable)
	}
	for _, bad := range []string{"Robert'); DROP TABLE x;--", "has space", "1abc"} {
		if _, err := NewPGStore(nil, bad); err == nil {
			t.Errorf("expected error for table name %q", bad)
		}
	}
}
