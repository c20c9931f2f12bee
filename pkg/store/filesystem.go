package store

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FilesystemEngine stores one file per key under Root. PutIfAbsent is
// implemented with O_CREATE|O_EXCL so it is atomic even across
// processes sharing the same directory, the property spec.md's
// distributed lock protocol depends on for the filesystem backend.
type FilesystemEngine struct {
	root string

	// mu serializes this process's own writers; cross-process exclusion
	// still comes from O_EXCL, mu only avoids redundant racing within
	// one instance.
	mu sync.Mutex
}

var _ Engine = (*FilesystemEngine)(nil)

// NewFilesystemEngine creates (if absent) root and returns an engine
// rooted there.
func NewFilesystemEngine(root string) (*FilesystemEngine, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("store: create root %q: %w", root, err)
	}
	return &FilesystemEngine{root: root}, nil
}

func (f *FilesystemEngine) pathFor(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

func (f *FilesystemEngine) Put(_ context.Context, key string, data []byte) error {
	path := f.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: mkdir for %q: %w", key, err)
	}

	tmp := path + ".tmp-" + randSuffix()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write %q: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store: rename into place %q: %w", key, err)
	}
	return nil
}

func (f *FilesystemEngine) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: read %q: %w", key, err)
	}
	return data, true, nil
}

func (f *FilesystemEngine) Delete(_ context.Context, key string) error {
	err := os.Remove(f.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

func (f *FilesystemEngine) List(_ context.Context, prefix string) (iter.Seq[string], error) {
	var keys []string
	walkRoot := f.root
	err := filepath.WalkDir(walkRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(walkRoot, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasSuffix(key, ".tmp") || strings.Contains(key, ".tmp-") {
			return nil
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list %q: %w", prefix, err)
	}

	return func(yield func(string) bool) {
		for _, k := range keys {
			if !yield(k) {
				return
			}
		}
	}, nil
}

func (f *FilesystemEngine) PutIfAbsent(_ context.Context, key string, data []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("store: mkdir for %q: %w", key, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: create %q: %w", key, err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return false, fmt.Errorf("store: write %q: %w", key, err)
	}
	return true, nil
}

func (f *FilesystemEngine) EstimateSize(_ context.Context) (SizeEstimate, error) {
	var keys, bytes int64
	err := filepath.WalkDir(f.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		keys++
		bytes += info.Size()
		return nil
	})
	if err != nil {
		return SizeEstimate{}, fmt.Errorf("store: estimate size: %w", err)
	}
	return SizeEstimate{Keys: keys, Bytes: bytes, Approximate: false}, nil
}

func (f *FilesystemEngine) Close() error {
	return nil
}

func randSuffix() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
