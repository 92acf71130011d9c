package kvcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/yellowbus/route-tracker/internal/adapters/contracttest"
	kvcacheport "github.com/yellowbus/route-tracker/internal/ports/out/kvcache"
)

func TestContract_FileKVCache(t *testing.T) {
	contracttest.RunKVCache(t, func(t *testing.T) (kvcacheport.Cache, func()) {
		t.Helper()
		return NewCache(filepath.Join(t.TempDir(), "device", "session.yaml")), nil
	})
}

func TestCache_SurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.yaml")

	first := NewCache(path)
	if err := first.Set(ctx, kvcacheport.KeyUserToken, "tok"); err != nil {
		t.Fatalf("Set() err=%v", err)
	}
	if err := first.Set(ctx, kvcacheport.KeyUserRole, "driver"); err != nil {
		t.Fatalf("Set() err=%v", err)
	}

	second := NewCache(path)
	got, ok, err := second.Get(ctx, kvcacheport.KeyUserRole)
	if err != nil || !ok || got != "driver" {
		t.Fatalf("Get() = %q, %v, %v", got, ok, err)
	}
}

func TestCache_CorruptFileIsAnError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.yaml")
	if err := os.WriteFile(path, []byte("userToken: [unterminated"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, _, err := NewCache(path).Get(context.Background(), kvcacheport.KeyUserToken); err == nil {
		t.Fatalf("Get() expected decode error")
	}
}
