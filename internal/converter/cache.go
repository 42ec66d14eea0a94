package converter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const cacheIndexVersion = 1

type cacheEntry struct {
	InputHash     string   `json:"input_hash"`
	Fingerprint   string   `json:"fingerprint"`
	EngineVersion string   `json:"engine_version"`
	Outputs       []string `json:"outputs"`
	Rows          int      `json:"rows"`
}

type cacheIndex struct {
	Version int                   `json:"version"`
	Entries map[string]cacheEntry `json:"entries"`
}

// outputCache remembers which input produced which symbol files so that an
// unchanged conversion can be skipped.
type outputCache struct {
	dir           string
	engineVersion string
	mu            sync.Mutex
	index         cacheIndex
}

func newOutputCache(dir, engineVersion string) *outputCache {
	return &outputCache{
		dir:           dir,
		engineVersion: engineVersion,
		index: cacheIndex{
			Version: cacheIndexVersion,
			Entries: make(map[string]cacheEntry),
		},
	}
}

func (c *outputCache) indexPath() string {
	return filepath.Join(c.dir, "index.json")
}

func (c *outputCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache index: %w", err)
	}
	var idx cacheIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse cache index: %w", err)
	}
	if idx.Version != cacheIndexVersion {
		// Reset on version mismatch
		c.index = cacheIndex{Version: cacheIndexVersion, Entries: make(map[string]cacheEntry)}
		return nil
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]cacheEntry)
	}
	c.index = idx
	return nil
}

func (c *outputCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeJSONAtomic(c.indexPath(), c.index)
}

// Fresh returns the cached entry for output when it was produced from the
// same input and settings and all of its files still exist.
func (c *outputCache) Fresh(output, inputHash, fingerprint string) (cacheEntry, bool) {
	c.mu.Lock()
	entry, ok := c.index.Entries[output]
	c.mu.Unlock()
	if !ok {
		return cacheEntry{}, false
	}
	if entry.InputHash != inputHash || entry.Fingerprint != fingerprint || entry.EngineVersion != c.engineVersion {
		return cacheEntry{}, false
	}
	for _, p := range entry.Outputs {
		if _, err := os.Stat(p); err != nil {
			return cacheEntry{}, false
		}
	}
	return entry, true
}

func (c *outputCache) Put(output, inputHash, fingerprint string, outputs []string, rows int) {
	c.mu.Lock()
	c.index.Entries[output] = cacheEntry{
		InputHash:     inputHash,
		Fingerprint:   fingerprint,
		EngineVersion: c.engineVersion,
		Outputs:       outputs,
		Rows:          rows,
	}
	c.mu.Unlock()
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache json: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// hashFile returns the hex SHA-256 of a file, or "" for an empty path or a
// missing file.
func hashFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
