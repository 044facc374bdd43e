package hashcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Entry records what we knew about a file the last time we hashed it.
// If the modification stamp still matches, the hash is reusable without
// re-reading the file. Path preserves the original casing; the map key
// is lowercased, and on a case-sensitive filesystem only the original
// path can be stat'ed for eviction.
type Entry struct {
	Path   string `json:"path"`
	MTime  int64  `json:"mtime"`
	SHA256 string `json:"sha256"`
}

// Cache is the persistent path -> (mtime, hash) store backing inventory
// scans. Keys are lowercased absolute paths. All operations serialize
// under one lock; scans are hourly and post-download updates touch a
// single entry, so contention is not a concern.
type Cache struct {
	mu      sync.Mutex
	path    string
	loaded  bool
	entries map[string]Entry
}

func New(path string) *Cache {
	return &Cache{path: path, entries: make(map[string]Entry)}
}

func cacheKey(path string) string {
	return strings.ToLower(filepath.Clean(path))
}

// load reads the backing store once, lazily. A missing or corrupt file
// just means an empty cache; everything gets rehashed on the next scan.
func (c *Cache) load() {
	if c.loaded {
		return
	}
	c.loaded = true

	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Printf("[HashCache] Ignoring corrupt cache file %s: %v", c.path, err)
		return
	}
	c.entries = entries
}

// save rewrites the whole store. Called with the lock held.
func (c *Cache) save() {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		log.Printf("[HashCache] Failed to encode cache: %v", err)
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Printf("[HashCache] Failed to write cache: %v", err)
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		log.Printf("[HashCache] Failed to replace cache: %v", err)
	}
}

// FileHash returns the content hash for path, reusing the cached value
// when the modification stamp is unchanged.
func (c *Cache) FileHash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()
	return c.hashLocked(path, info)
}

func (c *Cache) hashLocked(path string, info fs.FileInfo) (string, error) {
	key := cacheKey(path)
	stamp := info.ModTime().UnixNano()

	if entry, ok := c.entries[key]; ok && entry.MTime == stamp && entry.SHA256 != "" {
		return entry.SHA256, nil
	}

	sum, err := SumFile(path)
	if err != nil {
		return "", err
	}
	c.entries[key] = Entry{Path: filepath.Clean(path), MTime: stamp, SHA256: sum}
	c.save()
	return sum, nil
}

// Record stores a known hash for a freshly installed file, skipping the
// recompute that FileHash would do.
func (c *Cache) Record(path, sum string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()
	c.entries[cacheKey(path)] = Entry{Path: filepath.Clean(path), MTime: info.ModTime().UnixNano(), SHA256: strings.ToLower(sum)}
	c.save()
	return nil
}

// Scan walks every root, hashes model files (reusing cached values),
// evicts entries whose files are gone, and returns the sorted hash set.
func (c *Cache) Scan(ctx context.Context, roots map[string]string, isModelFile func(string) bool) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()

	seen := make(map[string]bool)
	hashSet := make(map[string]bool)

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable subtree, skip
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || !isModelFile(d.Name()) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			seen[cacheKey(path)] = true
			sum, err := c.hashLocked(path, info)
			if err != nil {
				log.Printf("[HashCache] Failed to hash %s: %v", path, err)
				return nil
			}
			hashSet[sum] = true
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	// Evict entries for files no longer on disk. Stat the original-case
	// path: the lowercased key may not exist even when the file does.
	dirty := false
	for key, entry := range c.entries {
		if seen[key] {
			continue
		}
		statPath := entry.Path
		if statPath == "" {
			statPath = key // entry predates path tracking
		}
		if _, err := os.Stat(statPath); os.IsNotExist(err) {
			delete(c.entries, key)
			dirty = true
		}
	}
	if dirty {
		c.save()
	}

	hashes := make([]string, 0, len(hashSet))
	for sum := range hashSet {
		hashes = append(hashes, sum)
	}
	sort.Strings(hashes)
	return hashes, nil
}

// SumFile computes the SHA-256 of a file's contents, hex-encoded.
func SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
