// Package service layers the resource rules an API handler needs on top
// of the repository: ownership checks, ancestor creation, the favorite
// delete guard, cache fill and eviction, and object cleanup.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/blob"
	"github.com/fruitsalade/nimbus/internal/cache"
	"github.com/fruitsalade/nimbus/internal/logging"
	"github.com/fruitsalade/nimbus/internal/models"
	"github.com/fruitsalade/nimbus/internal/repository"
	"github.com/fruitsalade/nimbus/internal/search"
	"github.com/fruitsalade/nimbus/internal/tree"
	"github.com/fruitsalade/nimbus/internal/workers"
)

var (
	ErrNotFound       = errors.New("resource not found")
	ErrForbidden      = errors.New("access denied")
	ErrFavorited      = errors.New("resource or a descendant is a favorite")
	ErrParentNotFound = errors.New("parent directory not found")
	ErrExists         = errors.New("resource already exists")
)

// Service is the entry point for resource operations on behalf of a user.
type Service struct {
	repo  *repository.Repository
	blobs blob.Store
	index search.Index
	cache *cache.LocalCache
	pool  *workers.Pool
	now   func() time.Time
}

// New creates a service. c may be nil when the local cache is disabled.
// Object cleanup after deletes runs on pool.
func New(repo *repository.Repository, blobs blob.Store, index search.Index, c *cache.LocalCache, pool *workers.Pool) *Service {
	return &Service{repo: repo, blobs: blobs, index: index, cache: c, pool: pool, now: time.Now}
}

// Get returns the resource at path as seen by user. Private resources of
// other users are ErrForbidden.
func (s *Service) Get(ctx context.Context, user, path string) (*models.Resource, error) {
	r, err := s.repo.GetResourceAtPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if !canRead(user, r) {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, path)
	}
	return r, nil
}

// GetOwned returns the resource at path only if user owns it.
func (s *Service) GetOwned(ctx context.Context, user, path string) (*models.Resource, error) {
	r, err := s.Get(ctx, user, path)
	if err != nil {
		return nil, err
	}
	if r.Owner != user {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, path)
	}
	return r, nil
}

func canRead(user string, r *models.Resource) bool {
	return r.Visibility == models.VisibilityPublic || r.Owner == user
}

// List returns the children of the directory at path visible to user.
func (s *Service) List(ctx context.Context, user, path string, order models.Sort) ([]*models.Resource, error) {
	dir, err := s.Get(ctx, user, path)
	if err != nil {
		return nil, err
	}
	if !dir.IsDirectory() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, path)
	}

	visibility := models.AllVisibilities
	if dir.Owner != user {
		visibility = []models.Visibility{models.VisibilityPublic}
	}
	return s.repo.ListDirectory(ctx, dir, visibility, order)
}

// CreateResource stores r after checking its parent. Missing ancestors
// are created as private directories owned by r.Owner when createParents
// is set; otherwise they are ErrParentNotFound.
func (s *Service) CreateResource(ctx context.Context, r *models.Resource, createParents bool) error {
	existing, err := s.repo.GetResourceAtPath(ctx, r.Path)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrExists, r.Path)
	}

	for _, el := range tree.Elements(r.Parent) {
		anc, err := s.repo.GetResourceAtPath(ctx, el.Path)
		if err != nil {
			return err
		}
		switch {
		case anc == nil && !createParents:
			return fmt.Errorf("%w: %s", ErrParentNotFound, el.Path)
		case anc == nil:
			dir, err := models.NewDirectory(el.Path, r.Owner, models.VisibilityPrivate)
			if err != nil {
				return err
			}
			if err := s.repo.CreateResource(ctx, dir); err != nil {
				return err
			}
			logging.Debug("created missing ancestor", zap.String("path", el.Path))
		case !anc.IsDirectory():
			return fmt.Errorf("%w: %s is a file", ErrParentNotFound, el.Path)
		}
	}

	return s.repo.CreateResource(ctx, r)
}

// DeleteResource removes the resource at path and the objects behind it.
// Nothing is deleted when a favorite lives anywhere in the subtree.
func (s *Service) DeleteResource(ctx context.Context, user, path string) error {
	r, err := s.GetOwned(ctx, user, path)
	if err != nil {
		return err
	}
	if r.IsRoot() || r.Path == tree.Home(r.Owner) {
		return fmt.Errorf("%w: %s cannot be deleted", ErrForbidden, path)
	}

	favorite, err := s.repo.HasFavoriteInSubtree(ctx, r)
	if err != nil {
		return err
	}
	if favorite {
		return fmt.Errorf("%w: %s", ErrFavorited, path)
	}

	if err := s.repo.DeleteResource(ctx, r); err != nil {
		return err
	}
	s.deleteObjectsAsync(r)
	return nil
}

// deleteObjectsAsync removes the current object versions behind r.
func (s *Service) deleteObjectsAsync(r *models.Resource) {
	snapshot := r.Clone()
	err := s.pool.Submit(func(ctx context.Context) {
		if snapshot.IsFile() {
			if s.cache != nil {
				if err := s.cache.DeleteResourceFromCache(snapshot); err != nil {
					logging.Warn("failed to evict deleted resource", zap.String("path", snapshot.Path), zap.Error(err))
				}
			}
			s.deleteObject(ctx, snapshot.BlobKey())
			return
		}

		opts := blob.ListOptions{Prefix: snapshot.BlobKey() + "/"}
		err := s.blobs.ListKeys(ctx, opts, func(key string) error {
			s.deleteObject(ctx, key)
			return nil
		})
		if err != nil {
			logging.Error("failed to list objects of deleted directory",
				zap.String("path", snapshot.Path), zap.Error(err))
		}
	})
	if err != nil {
		logging.Error("failed to dispatch object cleanup", zap.String("path", r.Path), zap.Error(err))
	}
}

func (s *Service) deleteObject(ctx context.Context, key string) {
	if err := s.blobs.DeleteObject(ctx, key, false); err != nil {
		// The reaper picks up whatever is left.
		logging.Warn("failed to delete object", zap.String("key", key), zap.Error(err))
	}
}

// Update applies mutate to the resource at path owned by user and keeps
// the local cache in line with the result.
func (s *Service) Update(ctx context.Context, user, path string, mutate func(r *models.Resource)) (*models.Resource, error) {
	r, err := s.GetOwned(ctx, user, path)
	if err != nil {
		return nil, err
	}
	mutate(r)
	if err := s.repo.UpdateResource(ctx, r); err != nil {
		return nil, err
	}
	s.syncCache(r)
	return r, nil
}

// SetFavorite pins or unpins the resource at path.
func (s *Service) SetFavorite(ctx context.Context, user, path string, favorite bool) (*models.Resource, error) {
	return s.Update(ctx, user, path, func(r *models.Resource) { r.Favorite = favorite })
}

// SetVisibility changes who may read the resource at path.
func (s *Service) SetVisibility(ctx context.Context, user, path string, v models.Visibility) (*models.Resource, error) {
	if v != models.VisibilityPublic && v != models.VisibilityPrivate {
		return nil, fmt.Errorf("invalid visibility %q", v)
	}
	return s.Update(ctx, user, path, func(r *models.Resource) { r.Visibility = v })
}

// syncCache fills the cache for eligible files and evicts everything else.
func (s *Service) syncCache(r *models.Resource) {
	if s.cache == nil || !r.IsFile() {
		return
	}
	if cache.Eligible(r) {
		if !s.cache.HasResourceInCache(r.Path) {
			s.cache.DownloadResourceToCacheAsync(r)
		}
		return
	}
	if s.cache.HasResourceInCache(r.Path) {
		s.cache.DeleteResourceFromCacheAsync(r)
	}
}

// DownloadURL returns where user can fetch the file at path: the local
// cache when the file is a favorite with a cached copy, otherwise a
// presigned object URL. noCache skips the local cache. The access time is
// recorded in the background.
func (s *Service) DownloadURL(ctx context.Context, user, path string, noCache bool) (string, error) {
	r, err := s.Get(ctx, user, path)
	if err != nil {
		return "", err
	}
	if !r.IsFile() {
		return "", fmt.Errorf("%w: %s is not a file", ErrNotFound, path)
	}

	now := s.now().UTC()
	r.LastAccessedAt = &now
	s.repo.UpdateResourceAsync(r)

	if s.cache != nil && r.Favorite && !noCache {
		u, ok, err := s.cache.CachedDownloadURL(r)
		if err != nil {
			logging.Warn("failed to issue cache URL", zap.String("path", path), zap.Error(err))
		}
		if ok {
			return u, nil
		}
		if cache.Eligible(r) {
			s.cache.DownloadResourceToCacheAsync(r)
		}
	}

	u, err := s.blobs.PresignedReadURL(ctx, r.BlobKey(), r.Name())
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", path, err)
	}
	return u, nil
}

// Search returns the resources of user matching query.
func (s *Service) Search(ctx context.Context, user, query string) ([]*models.Resource, error) {
	paths, err := s.index.Search(ctx, user, query)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := make([]*models.Resource, 0, len(paths))
	for _, p := range paths {
		r, err := s.repo.GetResourceAtPath(ctx, p)
		if err != nil {
			return nil, err
		}
		// The index lags behind deletes.
		if r != nil && r.Owner == user {
			out = append(out, r)
		}
	}
	return out, nil
}
