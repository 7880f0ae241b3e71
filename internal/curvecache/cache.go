// Package curvecache keeps fetched training curves on disk. A curve never
// changes once the backend has produced it, so entries only go away when
// their model is deleted or the file turns out to be unreadable.
package curvecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rasac/internal/curve"
	"github.com/fyrsmithlabs/rasac/internal/logging"
)

const entryExt = ".json.zst"

// maxEntrySize bounds a decompressed entry.
const maxEntrySize = 32 << 20

// entry is the stored form. BaseURL and ModelID guard against hash
// collisions.
type entry struct {
	BaseURL string        `json:"base_url"`
	ModelID string        `json:"model_id"`
	Series  *curve.Series `json:"series"`
}

// Cache is a directory of zstd-compressed curve entries.
type Cache struct {
	dir    string
	logger *logging.Logger

	// EncodeAll and DecodeAll are safe for concurrent use.
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Cache) { c.logger = l.Named("curvecache") }
}

// New opens or creates the cache directory.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxEntrySize),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	c := &Cache{
		dir:    dir,
		logger: logging.NewNop(),
		enc:    enc,
		dec:    dec,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Key returns the file name stem for a backend and model id.
func Key(baseURL, modelID string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(baseURL+"|"+modelID))
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) path(baseURL, modelID string) string {
	return filepath.Join(c.dir, Key(baseURL, modelID)+entryExt)
}

// Get returns the cached curve. Unreadable entries are removed and
// reported as a miss.
func (c *Cache) Get(ctx context.Context, baseURL, modelID string) (*curve.Series, bool) {
	path := c.path(baseURL, modelID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn(ctx, "curve cache read failed", zap.String("path", path), zap.Error(err))
		}
		return nil, false
	}

	e, err := c.decode(data)
	if err == nil {
		err = e.Series.Validate()
	}
	if err != nil {
		c.logger.Warn(ctx, "dropping corrupt curve cache entry", zap.String("path", path), zap.Error(err))
		_ = os.Remove(path)
		return nil, false
	}
	if e.BaseURL != baseURL || e.ModelID != modelID {
		return nil, false
	}
	return e.Series, true
}

// Put stores s for modelID. The write is atomic.
func (c *Cache) Put(ctx context.Context, baseURL, modelID string, s *curve.Series) error {
	if err := s.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(entry{BaseURL: baseURL, ModelID: modelID, Series: s})
	if err != nil {
		return fmt.Errorf("failed to encode curve: %w", err)
	}

	compressed := c.enc.EncodeAll(raw, nil)

	path := c.path(baseURL, modelID)
	tmp, err := os.CreateTemp(c.dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("failed to create cache entry: %w", err)
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}

	c.logger.Trace(ctx, "curve cached",
		zap.String("path", path),
		zap.Int("raw_bytes", len(raw)),
		zap.Int("stored_bytes", len(compressed)))
	return nil
}

// Delete removes the entry for modelID. A missing entry is not an error.
func (c *Cache) Delete(_ context.Context, baseURL, modelID string) error {
	err := os.Remove(c.path(baseURL, modelID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Purge removes every entry and returns how many were deleted.
func (c *Cache) Purge(_ context.Context) (int, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*"+entryExt))
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Stats reports the number of entries and their total size on disk.
func (c *Cache) Stats() (entries int, bytes int64, err error) {
	dirents, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, 0, err
	}
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), entryExt) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		entries++
		bytes += info.Size()
	}
	return entries, bytes, nil
}

// Close releases the codec resources.
func (c *Cache) Close() error {
	c.dec.Close()
	return c.enc.Close()
}

func (c *Cache) decode(data []byte) (*entry, error) {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("invalid entry: %w", err)
	}
	if e.Series == nil {
		return nil, errors.New(`invalid entry: "series" missing`)
	}
	return &e, nil
}
