package casa

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ReplyCacheConfig sizes the on-disk metadata reply cache.
type ReplyCacheConfig struct {
	Root       string
	MaxEntries int
	MaxBytes   int64
	TTL        time.Duration
}

type replyEntry struct {
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	ExpiresAt  time.Time `json:"expires_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

type replyIndex struct {
	Entries map[string]replyEntry `json:"entries"`
}

// ReplyCache persists gateway replies on disk with TTL expiry and LRU
// eviction. It exists so that resuming a run does not pay a shim round trip
// per measurement set just to rebuild metadata mirrors it already has.
type ReplyCache struct {
	mu sync.Mutex

	dataDir   string
	indexPath string

	maxEntries int
	maxBytes   int64
	ttl        time.Duration

	totalBytes int64
	entries    map[string]replyEntry
}

// NewReplyCache opens (or creates) the cache under cfg.Root, dropping
// expired and orphaned entries up front.
func NewReplyCache(cfg ReplyCacheConfig) (*ReplyCache, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("casa: reply cache root is required")
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 256
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	c := &ReplyCache{
		dataDir:    filepath.Join(cfg.Root, "data"),
		indexPath:  filepath.Join(cfg.Root, "index.json"),
		maxEntries: cfg.MaxEntries,
		maxBytes:   cfg.MaxBytes,
		ttl:        cfg.TTL,
		entries:    map[string]replyEntry{},
	}
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return nil, err
	}
	if err := c.loadIndex(); err != nil {
		return nil, err
	}
	c.evictLocked(time.Now())
	if err := c.persistIndexLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the cached reply body for a key, if present and unexpired.
func (c *ReplyCache) Get(key string) ([]byte, bool, error) {
	if c == nil || key == "" {
		return nil, false, nil
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if now.After(ent.ExpiresAt) {
		c.removeLocked(key, ent)
		_ = c.persistIndexLocked()
		return nil, false, nil
	}
	raw, err := os.ReadFile(filepath.Join(c.dataDir, ent.File))
	if err != nil {
		if os.IsNotExist(err) {
			c.removeLocked(key, ent)
			_ = c.persistIndexLocked()
			return nil, false, nil
		}
		return nil, false, err
	}
	ent.AccessedAt = now
	c.entries[key] = ent
	if err := c.persistIndexLocked(); err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Set stores a reply body under a key, evicting as needed.
func (c *ReplyCache) Set(key string, body []byte) error {
	if c == nil || key == "" {
		return nil
	}
	now := time.Now()
	file := key + ".json"
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.totalBytes -= old.Size
	}
	if err := os.WriteFile(filepath.Join(c.dataDir, file), body, 0o644); err != nil {
		return err
	}
	c.entries[key] = replyEntry{
		File:       file,
		Size:       int64(len(body)),
		ExpiresAt:  now.Add(c.ttl),
		AccessedAt: now,
	}
	c.totalBytes += int64(len(body))
	c.evictLocked(now)
	return c.persistIndexLocked()
}

// Clear drops every entry.
func (c *ReplyCache) Clear() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ent := range c.entries {
		_ = os.Remove(filepath.Join(c.dataDir, ent.File))
	}
	c.entries = map[string]replyEntry{}
	c.totalBytes = 0
	return c.persistIndexLocked()
}

func (c *ReplyCache) loadIndex() error {
	raw, err := os.ReadFile(c.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var idx replyIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return err
	}
	if idx.Entries == nil {
		idx.Entries = map[string]replyEntry{}
	}
	c.entries = idx.Entries
	c.totalBytes = 0
	for _, ent := range c.entries {
		c.totalBytes += ent.Size
	}
	return nil
}

func (c *ReplyCache) evictLocked(now time.Time) {
	for key, ent := range c.entries {
		if now.After(ent.ExpiresAt) {
			c.removeLocked(key, ent)
		}
	}
	for c.overfullLocked() {
		key, ent, ok := c.oldestLocked()
		if !ok {
			break
		}
		c.removeLocked(key, ent)
	}
}

func (c *ReplyCache) overfullLocked() bool {
	if len(c.entries) > c.maxEntries {
		return true
	}
	return c.maxBytes > 0 && c.totalBytes > c.maxBytes
}

func (c *ReplyCache) oldestLocked() (string, replyEntry, bool) {
	if len(c.entries) == 0 {
		return "", replyEntry{}, false
	}
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := c.entries[keys[i]].AccessedAt, c.entries[keys[j]].AccessedAt
		if li.Equal(lj) {
			return keys[i] < keys[j]
		}
		return li.Before(lj)
	})
	k := keys[0]
	return k, c.entries[k], true
}

func (c *ReplyCache) removeLocked(key string, ent replyEntry) {
	delete(c.entries, key)
	c.totalBytes -= ent.Size
	if c.totalBytes < 0 {
		c.totalBytes = 0
	}
	_ = os.Remove(filepath.Join(c.dataDir, ent.File))
}

func (c *ReplyCache) persistIndexLocked() error {
	raw, err := json.MarshalIndent(replyIndex{Entries: c.entries}, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.indexPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.indexPath)
}
