package domain

import (
	"fmt"
	"io/fs"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MetadataCache keeps imported MS metadata in memory so a resume does not
// have to re-query the CASA boundary for measurement sets that have not
// changed on disk. Keys include size and mtime, so a modified MS misses.
type MetadataCache struct {
	cache *lru.Cache[string, MeasurementSet]
}

// NewMetadataCache builds a cache holding up to size entries.
func NewMetadataCache(size int) (*MetadataCache, error) {
	if size <= 0 {
		size = 64
	}
	c, err := lru.New[string, MeasurementSet](size)
	if err != nil {
		return nil, err
	}
	return &MetadataCache{cache: c}, nil
}

// Key derives the cache key for an MS path from its on-disk identity.
func (m *MetadataCache) Key(path string, info fs.FileInfo) string {
	if info == nil {
		return path
	}
	return fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
}

// Get returns the cached metadata for a key.
func (m *MetadataCache) Get(key string) (MeasurementSet, bool) {
	if m == nil || m.cache == nil {
		return MeasurementSet{}, false
	}
	return m.cache.Get(key)
}

// Put stores metadata under a key.
func (m *MetadataCache) Put(key string, ms MeasurementSet) {
	if m == nil || m.cache == nil {
		return
	}
	m.cache.Add(key, ms)
}
