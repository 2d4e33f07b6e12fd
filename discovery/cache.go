package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Cache persists the last successfully parsed manifest to disk so line
// configuration survives a restart even if the manifest file is
// momentarily missing or invalid.
type Cache struct {
	path string
	mu   sync.Mutex
}

// NewCache returns a cache rooted at dataDir.
func NewCache(dataDir string) *Cache {
	return &Cache{path: filepath.Join(dataDir, "manifest-cache.json")}
}

// Load reads the cached manifest from disk. ok is false if no cache
// exists or it failed to parse.
func (c *Cache) Load() (Manifest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("manifest cache: read: %v", err)
		}
		return Manifest{}, false
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warnf("manifest cache: parse: %v", err)
		return Manifest{}, false
	}
	return m, true
}

// Save writes the manifest to disk atomically (tmp file + rename).
func (c *Cache) Save(m Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		log.Warnf("manifest cache: marshal: %v", err)
		return
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Warnf("manifest cache: mkdir: %v", err)
		return
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		log.Warnf("manifest cache: write tmp: %v", err)
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		log.Warnf("manifest cache: rename: %v", err)
		os.Remove(tmp)
	}
}
