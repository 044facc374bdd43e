package hashcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isModelFile(name string) bool {
	return filepath.Ext(name) == ".safetensors"
}

func TestFileHashCacheHit(t *testing.T) {
	dir := t.TempDir()
	cache := New(filepath.Join(dir, "cache.json"))

	path := filepath.Join(dir, "model.safetensors")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)

	first, err := cache.FileHash(path)
	require.NoError(t, err)

	// Change the contents but restore the modification stamp. A cache
	// hit must return the old hash without re-reading the file.
	require.NoError(t, os.WriteFile(path, []byte("tampered!"), 0o644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	second, err := cache.FileHash(path)
	require.NoError(t, err)
	assert.Equal(t, first, second, "unchanged mtime must reuse the cached hash")

	// Bumping the stamp forces a recompute.
	later := info.ModTime().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	third, err := cache.FileHash(path)
	require.NoError(t, err)
	assert.NotEqual(t, first, third, "changed mtime must recompute")
}

func TestCachePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "cache.json")

	path := filepath.Join(dir, "model.safetensors")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	first := New(store)
	sum, err := first.FileHash(path)
	require.NoError(t, err)
	require.FileExists(t, store)

	// A fresh instance loads lazily and still hits the cache.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("different"), 0o644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	second := New(store)
	sum2, err := second.FileHash(path)
	require.NoError(t, err)
	assert.Equal(t, sum, sum2)
}

func TestRecordSkipsRecompute(t *testing.T) {
	dir := t.TempDir()
	cache := New(filepath.Join(dir, "cache.json"))

	path := filepath.Join(dir, "model.safetensors")
	require.NoError(t, os.WriteFile(path, []byte("installed"), 0o644))

	require.NoError(t, cache.Record(path, "DEADBEEF"))

	// FileHash must return the recorded (lowercased) hash as long as
	// the stamp is unchanged.
	sum, err := cache.FileHash(path)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", sum)
}

func TestScanEvictsMissingFiles(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "loras")
	require.NoError(t, os.MkdirAll(root, 0o755))
	cache := New(filepath.Join(base, "cache.json"))
	roots := map[string]string{"loras": root}

	keep := filepath.Join(root, "keep.safetensors")
	gone := filepath.Join(root, "gone.safetensors")
	require.NoError(t, os.WriteFile(keep, []byte("keep"), 0o644))
	require.NoError(t, os.WriteFile(gone, []byte("gone"), 0o644))

	hashes, err := cache.Scan(context.Background(), roots, isModelFile)
	require.NoError(t, err)
	require.Len(t, hashes, 2)

	require.NoError(t, os.Remove(gone))

	hashes, err = cache.Scan(context.Background(), roots, isModelFile)
	require.NoError(t, err)
	require.Len(t, hashes, 1)

	keepSum, err := SumFile(keep)
	require.NoError(t, err)
	assert.Equal(t, []string{keepSum}, hashes)
}

func TestScanIgnoresNonModelFiles(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "checkpoints")
	require.NoError(t, os.MkdirAll(root, 0o755))
	cache := New(filepath.Join(base, "cache.json"))

	require.NoError(t, os.WriteFile(filepath.Join(root, "model.safetensors"), []byte("m"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.txt"), []byte("r"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "partial.safetensors.part"), []byte("p"), 0o644))

	hashes, err := cache.Scan(context.Background(), map[string]string{"checkpoints": root}, isModelFile)
	require.NoError(t, err)
	assert.Len(t, hashes, 1)
}

func TestScanKeepsUnvisitedMixedCasePaths(t *testing.T) {
	base := t.TempDir()
	cache := New(filepath.Join(base, "cache.json"))

	// A file under a root the scan no longer visits, with uppercase
	// path characters the lowercased cache key cannot stat.
	oldRoot := filepath.Join(base, "LoRAs")
	require.NoError(t, os.MkdirAll(oldRoot, 0o755))
	path := filepath.Join(oldRoot, "MixedCase.safetensors")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)

	first, err := cache.FileHash(path)
	require.NoError(t, err)

	// Scan a different root: the file still exists, so its entry must
	// survive eviction.
	otherRoot := filepath.Join(base, "vae")
	require.NoError(t, os.MkdirAll(otherRoot, 0o755))
	_, err = cache.Scan(context.Background(), map[string]string{"vae": otherRoot}, isModelFile)
	require.NoError(t, err)

	// Cache hit proves the entry is still there: tampered contents with
	// a restored stamp return the old hash without re-reading.
	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	second, err := cache.FileHash(path)
	require.NoError(t, err)
	assert.Equal(t, first, second, "entry for an existing file must not be evicted")
}

func TestScanSurvivesMissingRoot(t *testing.T) {
	base := t.TempDir()
	cache := New(filepath.Join(base, "cache.json"))

	hashes, err := cache.Scan(context.Background(),
		map[string]string{"vae": filepath.Join(base, "does-not-exist")}, isModelFile)
	require.NoError(t, err)
	assert.Empty(t, hashes)
}
