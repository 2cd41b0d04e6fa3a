package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{FrameCacheSizeMB: 8, FrameTTL: time.Minute, HeaderEntries: 4})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestFrameKey(t *testing.T) {
	t.Run("stable", func(t *testing.T) {
		if FrameKey("a", 1, true) != FrameKey("a", 1, true) {
			t.Fatal("expected identical keys for identical inputs")
		}
	})

	t.Run("partBoundaries", func(t *testing.T) {
		if FrameKey("ab", "c") == FrameKey("a", "bc") {
			t.Fatal("expected part boundaries to affect the key")
		}
	})
}

func TestHeaderKey_ChangesWithFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.fits")
	if err := os.WriteFile(p, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	k1 := HeaderKey(p, "PRIMARY")
	if err := os.WriteFile(p, []byte("three"), 0o644); err != nil {
		t.Fatal(err)
	}
	k2 := HeaderKey(p, "PRIMARY")
	if k1 == k2 {
		t.Fatalf("expected key to change after rewrite, got %q", k1)
	}
	if HeaderKey(p, "PRIMARY") == HeaderKey(p, "SCI") {
		t.Fatal("expected extension to affect the key")
	}
}

func TestManager_FramesAndHeaders(t *testing.T) {
	m := newTestManager(t)

	if _, ok := m.GetFrame("k"); ok {
		t.Fatal("expected empty frame cache")
	}
	if err := m.SetFrame("k", []byte{1, 2, 3}); err != nil {
		t.Fatalf("SetFrame: %v", err)
	}
	if b, ok := m.GetFrame("k"); !ok || len(b) != 3 {
		t.Fatalf("expected cached frame, got %v, %v", b, ok)
	}

	m.SetHeader("h", "KEY = 1\n\n")
	if s, ok := m.GetHeader("h"); !ok || s != "KEY = 1\n\n" {
		t.Fatalf("expected cached header, got %q, %v", s, ok)
	}

	if err := m.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, ok := m.GetFrame("k"); ok {
		t.Fatal("expected frame purged")
	}
	if _, ok := m.GetHeader("h"); ok {
		t.Fatal("expected header purged")
	}
}

func TestManager_HeaderEviction(t *testing.T) {
	m := newTestManager(t)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		m.SetHeader(k, k)
	}
	if _, ok := m.GetHeader("a"); ok {
		t.Fatal("expected oldest header evicted")
	}
	if _, ok := m.GetHeader("e"); !ok {
		t.Fatal("expected newest header kept")
	}
}
