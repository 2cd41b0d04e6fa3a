// Package cache holds rendered frames and header text derived from the files of
// the current catalog.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	FrameCacheSizeMB int
	FrameTTL         time.Duration
	HeaderEntries    int
}

// Manager manages the frame and header caches.
type Manager struct {
	frameCache  *bigcache.BigCache
	headerCache *lru.Cache[string, string]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	ttl := cfg.FrameTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	frameCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         ttl,
		CleanWindow:        ttl / 2,
		MaxEntriesInWindow: 1024,
		MaxEntrySize:       512 * 1024, // typical encoded frame
		HardMaxCacheSize:   cfg.FrameCacheSizeMB,
		Verbose:            false,
	}

	frameCache, err := bigcache.New(context.Background(), frameCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame cache: %w", err)
	}

	entries := cfg.HeaderEntries
	if entries <= 0 {
		entries = 256
	}
	headerCache, err := lru.New[string, string](entries)
	if err != nil {
		frameCache.Close()
		return nil, fmt.Errorf("failed to create header cache: %w", err)
	}

	return &Manager{
		frameCache:  frameCache,
		headerCache: headerCache,
	}, nil
}

// GetFrame retrieves an encoded frame.
func (m *Manager) GetFrame(key string) ([]byte, bool) {
	data, err := m.frameCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetFrame stores an encoded frame.
func (m *Manager) SetFrame(key string, data []byte) error {
	return m.frameCache.Set(key, data)
}

// GetHeader retrieves unfiltered header text.
func (m *Manager) GetHeader(key string) (string, bool) {
	return m.headerCache.Get(key)
}

// SetHeader stores unfiltered header text.
func (m *Manager) SetHeader(key, text string) {
	m.headerCache.Add(key, text)
}

// Purge drops every cached frame and header.
func (m *Manager) Purge() error {
	m.headerCache.Purge()
	return m.frameCache.Reset()
}

// FileStamp identifies one version of a file on disk. A file that cannot be
// stat'ed gets an empty stamp, so its entries are never reused once it appears.
func FileStamp(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return path + "@?"
	}
	return fmt.Sprintf("%s@%d:%d", path, info.ModTime().UnixNano(), info.Size())
}

// HeaderKey generates a cache key for the header text of one extension.
func HeaderKey(path, extension string) string {
	return fmt.Sprintf("hdr:%s|%s", FileStamp(path), extension)
}

// FrameKey generates a cache key for a frame from every input that shapes it.
func FrameKey(parts ...interface{}) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%v\x00", p)
	}
	return "frame:" + hex.EncodeToString(h.Sum(nil))[:32]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"frame_cache_len":  m.frameCache.Len(),
		"frame_cache_cap":  m.frameCache.Capacity(),
		"header_cache_len": m.headerCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.frameCache.Close()
}
