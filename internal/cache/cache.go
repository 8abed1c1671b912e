// Package cache mirrors favorite private files onto local disk and hands
// out signed, expiring tokens that let the static route serve them.
//
// The cache directory is flat. Each entry is named by the lowercase hex
// SHA-256 of the resource path. Downloads land in a "*.partial" temp file
// and are renamed into place, so a reader never sees a truncated entry.
// Nothing is evicted; entries leave only through DeleteResourceFromCache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/blob"
	"github.com/fruitsalade/nimbus/internal/logging"
	"github.com/fruitsalade/nimbus/internal/metrics"
	"github.com/fruitsalade/nimbus/internal/models"
	"github.com/fruitsalade/nimbus/internal/signer"
	"github.com/fruitsalade/nimbus/internal/workers"
)

// RoutePrefix is where Handler is mounted.
const RoutePrefix = "/static/cache"

const partialSuffix = ".partial"

// Config holds the cache settings.
type Config struct {
	Dir           string
	BaseURL       string
	TokenValidity time.Duration
}

// LocalCache is the disk mirror.
type LocalCache struct {
	dir      string
	baseURL  string
	validity time.Duration

	blobs  blob.Store
	codec  *Codec
	pool   *workers.Pool
	client *http.Client
	now    func() time.Time
}

// New creates the cache directory if needed and removes temp files left
// behind by an interrupted process.
func New(cfg Config, blobs blob.Store, s signer.Signer, pool *workers.Pool) (*LocalCache, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache: empty directory")
	}
	if cfg.TokenValidity <= 0 {
		return nil, fmt.Errorf("cache: token validity must be positive, got %s", cfg.TokenValidity)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &LocalCache{
		dir:      cfg.Dir,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		validity: cfg.TokenValidity,
		blobs:    blobs,
		codec:    NewCodec(s),
		pool:     pool,
		// Large favorites must be allowed to finish, so no timeout.
		client: &http.Client{},
		now:    time.Now,
	}
	c.removePartials()
	return c, nil
}

// WithClock replaces the time source used for token expiry.
func (c *LocalCache) WithClock(now func() time.Time) *LocalCache {
	c.now = now
	c.codec.now = now
	return c
}

// Eligible reports whether r may be mirrored: favorite private files only.
func Eligible(r *models.Resource) bool {
	return r.IsFile() && r.Favorite && r.Visibility == models.VisibilityPrivate
}

// FileName returns the on-disk name for path.
func FileName(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])
}

func (c *LocalCache) location(path string) string {
	return filepath.Join(c.dir, FileName(path))
}

// HasResourceInCache reports whether a completed copy of path is on disk.
func (c *LocalCache) HasResourceInCache(path string) bool {
	info, err := os.Stat(c.location(path))
	return err == nil && info.Mode().IsRegular()
}

// CachedDownloadURL returns a signed URL for the cached copy of r. ok is
// false when r is not cached. No bytes are read.
func (c *LocalCache) CachedDownloadURL(r *models.Resource) (u string, ok bool, err error) {
	hit := c.HasResourceInCache(r.Path)
	metrics.RecordCacheLookup(hit)
	if !hit {
		return "", false, nil
	}

	token, err := c.codec.Encode(Token{Path: r.Path, Expiry: c.now().Add(c.validity)})
	if err != nil {
		return "", false, err
	}
	return fmt.Sprintf("%s%s/%s/%s", c.baseURL, RoutePrefix, token, url.PathEscape(r.Name())), true, nil
}

// DownloadResourceToCache streams the object behind r into the cache.
// Callers check Eligible first.
func (c *LocalCache) DownloadResourceToCache(ctx context.Context, r *models.Resource) (err error) {
	var written int64
	defer func() { metrics.RecordCacheDownload(written, err) }()

	src, err := c.blobs.PresignedReadURL(ctx, r.BlobKey(), r.Name())
	if err != nil {
		return fmt.Errorf("presign %s: %w", r.Path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", r.Path, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", r.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", r.Path, resp.StatusCode)
	}

	dst := c.location(r.Path)
	tmp, err := os.CreateTemp(c.dir, filepath.Base(dst)+"-*"+partialSuffix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	written, err = io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", r.Path, err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}

	logging.Debug("resource cached",
		zap.String("path", r.Path),
		zap.Int64("bytes", written))
	return nil
}

// DownloadResourceToCacheAsync runs DownloadResourceToCache on the cache pool.
func (c *LocalCache) DownloadResourceToCacheAsync(r *models.Resource) {
	snapshot := r.Clone()
	c.submit("download", snapshot.Path, func(ctx context.Context) error {
		return c.DownloadResourceToCache(ctx, snapshot)
	})
}

// DeleteResourceFromCache removes the cached copy of r. Missing entries are
// not an error.
func (c *LocalCache) DeleteResourceFromCache(r *models.Resource) error {
	if err := os.Remove(c.location(r.Path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cached %s: %w", r.Path, err)
	}
	return nil
}

// DeleteResourceFromCacheAsync runs DeleteResourceFromCache on the cache pool.
func (c *LocalCache) DeleteResourceFromCacheAsync(r *models.Resource) {
	snapshot := r.Clone()
	c.submit("delete", snapshot.Path, func(context.Context) error {
		return c.DeleteResourceFromCache(snapshot)
	})
}

func (c *LocalCache) submit(op, path string, fn func(ctx context.Context) error) {
	err := c.pool.Submit(func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			logging.Error("cache operation failed",
				zap.String("op", op), zap.String("path", path), zap.Error(err))
		}
	})
	if err != nil {
		logging.Error("failed to dispatch cache operation",
			zap.String("op", op), zap.String("path", path), zap.Error(err))
	}
}

// ResolveToken verifies token and returns the cached file it grants. The
// reason for a refusal is only logged.
func (c *LocalCache) ResolveToken(token string) (string, bool) {
	t, err := c.codec.Decode(token)
	switch {
	case errors.Is(err, ErrTokenExpired):
		metrics.RecordTokenVerification("expired")
		logging.Debug("rejected expired cache token")
		return "", false
	case err != nil:
		metrics.RecordTokenVerification("invalid")
		logging.Debug("rejected cache token", zap.Error(err))
		return "", false
	}

	if !c.HasResourceInCache(t.Path) {
		metrics.RecordTokenVerification("missing")
		return "", false
	}
	metrics.RecordTokenVerification("ok")
	return c.location(t.Path), true
}

func (c *LocalCache) removePartials() {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*"+partialSuffix))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			logging.Warn("failed to remove stale partial file", zap.String("file", m), zap.Error(err))
		}
	}
	if len(matches) > 0 {
		logging.Info("removed stale partial cache files", zap.Int("count", len(matches)))
	}
}
