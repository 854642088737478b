package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNoSnapshot is returned by LoadLatest when a variant has no snapshot.
var ErrNoSnapshot = errors.New("no snapshot found")

// Cache keeps registry snapshots on disk, one timestamped file per write.
type Cache struct {
	dir      string
	maxFiles int
}

// NewCache creates a Cache that stores files in dir and keeps at most
// maxFiles per variant.
func NewCache(dir string, maxFiles int) *Cache {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Cache{
		dir:      dir,
		maxFiles: maxFiles,
	}
}

// Dir returns the snapshot directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Write saves data as the snapshot of variant taken at ts and prunes the
// variant's oldest files beyond maxFiles. A second write within the same
// second replaces the first.
func (c *Cache) Write(variant string, data []byte, ts time.Time) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	path := filepath.Join(c.dir, fileName(variant, ts))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing snapshot file: %w", err)
	}

	return c.prune(variant)
}

// LoadLatest reads the newest snapshot of variant by the timestamp in its
// file name.
func (c *Cache) LoadLatest(variant string) ([]byte, time.Time, error) {
	files, err := c.listFiles(variant)
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(files) == 0 {
		return nil, time.Time{}, fmt.Errorf("%s: %w", variant, ErrNoSnapshot)
	}

	latest := files[len(files)-1]
	data, err := os.ReadFile(filepath.Join(c.dir, latest.name))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading snapshot file: %w", err)
	}
	return data, latest.ts, nil
}

type snapshotFile struct {
	name string
	ts   time.Time
}

func filePrefix(variant string) string {
	return "registry_" + variant + "_"
}

func fileName(variant string, ts time.Time) string {
	return fmt.Sprintf("%s%d.json", filePrefix(variant), ts.Unix())
}

// listFiles returns the snapshots of variant, oldest first.
func (c *Cache) listFiles(variant string) ([]snapshotFile, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing snapshot dir: %w", err)
	}

	prefix := filePrefix(variant)
	var files []snapshotFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		unix, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json"), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, snapshotFile{name: name, ts: time.Unix(unix, 0)})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ts.Before(files[j].ts)
	})
	return files, nil
}

func (c *Cache) prune(variant string) error {
	files, err := c.listFiles(variant)
	if err != nil {
		return err
	}
	if len(files) <= c.maxFiles {
		return nil
	}

	for _, f := range files[:len(files)-c.maxFiles] {
		if err := os.Remove(filepath.Join(c.dir, f.name)); err != nil {
			return fmt.Errorf("pruning snapshot file %s: %w", f.name, err)
		}
	}
	return nil
}
