// Package repository implements the resource tree on top of a flat
// document store with a parent index.
//
// Writes are synchronous. Search indexing and ancestor size propagation
// are dispatched to the metadata worker pool, so aggregate sizes become
// visible to readers eventually rather than immediately. The *Async
// variants run the whole operation on the pool and only log failures.
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/docstore"
	"github.com/fruitsalade/nimbus/internal/logging"
	"github.com/fruitsalade/nimbus/internal/metrics"
	"github.com/fruitsalade/nimbus/internal/models"
	"github.com/fruitsalade/nimbus/internal/search"
	"github.com/fruitsalade/nimbus/internal/tree"
	"github.com/fruitsalade/nimbus/internal/workers"
)

// Repository is the resource tree.
type Repository struct {
	store docstore.Store
	index search.Index
	pool  *workers.Pool

	// propagateMu serializes ancestor read-modify-write walks in this process.
	propagateMu sync.Mutex
}

// New creates a repository. index may be search.Noop{}.
func New(store docstore.Store, index search.Index, pool *workers.Pool) *Repository {
	return &Repository{store: store, index: index, pool: pool}
}

// dispatch decides where follow-up work runs.
type dispatch func(ctx context.Context, name string, task workers.Task)

// onPool queues follow-up work on the metadata pool.
func (r *Repository) onPool(_ context.Context, name string, task workers.Task) {
	if err := r.pool.Submit(task); err != nil {
		logging.Error("failed to dispatch follow-up task", zap.String("task", name), zap.Error(err))
	}
}

// inline runs follow-up work on the calling goroutine. Tasks already on
// the pool use it since they may not submit to their own pool.
func inline(ctx context.Context, _ string, task workers.Task) {
	task(ctx)
}

// EnsureRoot creates the root record if it is missing.
func (r *Repository) EnsureRoot(ctx context.Context) error {
	root, err := r.store.Get(ctx, tree.Root)
	if err != nil {
		return fmt.Errorf("get root: %w", err)
	}
	if root != nil {
		return nil
	}
	if err := r.store.Put(ctx, models.NewRoot()); err != nil {
		return fmt.Errorf("create root: %w", err)
	}
	logging.Info("created root resource")
	return nil
}

// GetResourceAtPath returns the record at path, or nil when none exists.
func (r *Repository) GetResourceAtPath(ctx context.Context, path string) (res *models.Resource, err error) {
	defer func(start time.Time) { metrics.RecordRepositoryOp("get", start, err) }(time.Now())

	res, err = r.store.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return res, nil
}

// CreateResource writes res, then indexes it and adds its size to every
// ancestor below the root in the background.
func (r *Repository) CreateResource(ctx context.Context, res *models.Resource) error {
	return r.create(ctx, res, r.onPool)
}

func (r *Repository) create(ctx context.Context, res *models.Resource, d dispatch) (err error) {
	defer func(start time.Time) { metrics.RecordRepositoryOp("create", start, err) }(time.Now())

	if err := r.store.Put(ctx, res); err != nil {
		return fmt.Errorf("create %s: %w", res.Path, err)
	}

	snapshot := res.Clone()
	d(ctx, "index", func(ctx context.Context) { r.indexResource(ctx, snapshot) })
	if snapshot.Size != 0 {
		d(ctx, "propagate", func(ctx context.Context) {
			r.propagateSize(ctx, snapshot.Parent, snapshot.Size)
		})
	}
	return nil
}

// UpdateResource overwrites res and re-indexes it. Size changes are not
// propagated; the sizer reconciles them.
func (r *Repository) UpdateResource(ctx context.Context, res *models.Resource) error {
	return r.update(ctx, res, r.onPool)
}

func (r *Repository) update(ctx context.Context, res *models.Resource, d dispatch) (err error) {
	defer func(start time.Time) { metrics.RecordRepositoryOp("update", start, err) }(time.Now())

	if err := r.store.Put(ctx, res); err != nil {
		return fmt.Errorf("update %s: %w", res.Path, err)
	}
	snapshot := res.Clone()
	d(ctx, "index", func(ctx context.Context) { r.indexResource(ctx, snapshot) })
	return nil
}

// DeleteResource removes res and, for a directory, its whole subtree.
// Ancestors lose res.Size in the background.
func (r *Repository) DeleteResource(ctx context.Context, res *models.Resource) error {
	return r.delete(ctx, res, r.onPool)
}

func (r *Repository) delete(ctx context.Context, res *models.Resource, d dispatch) (err error) {
	defer func(start time.Time) { metrics.RecordRepositoryOp("delete", start, err) }(time.Now())

	var deleted []string
	if res.IsFile() {
		if err := r.store.Delete(ctx, res.Path); err != nil {
			return fmt.Errorf("delete %s: %w", res.Path, err)
		}
		deleted = []string{res.Path}
	} else {
		deleted, err = r.deleteTree(ctx, res)
		if err != nil {
			return err
		}
	}

	d(ctx, "unindex", func(ctx context.Context) { r.unindex(ctx, deleted) })
	if res.Size != 0 {
		parent, size := res.Parent, res.Size
		d(ctx, "propagate", func(ctx context.Context) { r.propagateSize(ctx, parent, -size) })
	}
	return nil
}

// deleteTree removes dir and its descendants depth-first with an explicit
// stack. Each directory record goes first, then its files in batches,
// then its subdirectories in path order.
func (r *Repository) deleteTree(ctx context.Context, dir *models.Resource) ([]string, error) {
	var deleted []string
	stack := []*models.Resource{dir}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := r.store.Delete(ctx, cur.Path); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", cur.Path, err)
		}
		deleted = append(deleted, cur.Path)

		children, err := r.store.QueryByParent(ctx, cur.Path, docstore.Filter{})
		if err != nil {
			return deleted, fmt.Errorf("list children of %s: %w", cur.Path, err)
		}
		dirs, files := partition(children)

		for start := 0; start < len(files); start += docstore.BatchWriteLimit {
			end := min(start+docstore.BatchWriteLimit, len(files))
			batch := make([]string, 0, end-start)
			for _, f := range files[start:end] {
				batch = append(batch, f.Path)
			}

			unprocessed, err := r.store.BatchDelete(ctx, batch)
			if err != nil {
				return deleted, fmt.Errorf("batch delete under %s: %w", cur.Path, err)
			}
			if len(unprocessed) == 0 {
				deleted = append(deleted, batch...)
				continue
			}
			metrics.RecordBatchDeleteUnprocessed(len(unprocessed))
			logging.Error("batch delete left records behind",
				zap.String("directory", cur.Path),
				zap.Strings("unprocessed", unprocessed))
			left := make(map[string]bool, len(unprocessed))
			for _, p := range unprocessed {
				left[p] = true
			}
			for _, p := range batch {
				if !left[p] {
					deleted = append(deleted, p)
				}
			}
		}

		for i := len(dirs) - 1; i >= 0; i-- {
			stack = append(stack, dirs[i])
		}
	}

	logging.Debug("deleted directory tree", zap.String("path", dir.Path), zap.Int("records", len(deleted)))
	return deleted, nil
}

// ListDirectory returns the children of dir matching visibility (all when
// empty), directories first then files, each ordered by path.
func (r *Repository) ListDirectory(ctx context.Context, dir *models.Resource, visibility []models.Visibility, order models.Sort) (out []*models.Resource, err error) {
	defer func(start time.Time) { metrics.RecordRepositoryOp("list_directory", start, err) }(time.Now())

	children, err := r.store.QueryByParent(ctx, dir.Path, docstore.Filter{Visibility: visibility})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir.Path, err)
	}

	dirs, files := partition(children)
	if order == models.SortFavorite {
		return favoritesFirst(dirs, files), nil
	}
	return append(dirs, files...), nil
}

// ListHomeDirectories returns the top-level directories ordered by path.
func (r *Repository) ListHomeDirectories(ctx context.Context) (out []*models.Resource, err error) {
	defer func(start time.Time) { metrics.RecordRepositoryOp("list_home_directories", start, err) }(time.Now())

	children, err := r.store.QueryByParent(ctx, tree.Root, docstore.Filter{Type: models.TypeDirectory})
	if err != nil {
		return nil, fmt.Errorf("list home directories: %w", err)
	}
	dirs, _ := partition(children)
	return dirs, nil
}

// HasFavoriteInSubtree reports whether res or any descendant is a favorite.
func (r *Repository) HasFavoriteInSubtree(ctx context.Context, res *models.Resource) (bool, error) {
	stack := []*models.Resource{res}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur.Favorite {
			return true, nil
		}
		if !cur.IsDirectory() {
			continue
		}
		children, err := r.store.QueryByParent(ctx, cur.Path, docstore.Filter{})
		if err != nil {
			return false, fmt.Errorf("list children of %s: %w", cur.Path, err)
		}
		for _, c := range children {
			if !c.IsRoot() {
				stack = append(stack, c)
			}
		}
	}
	return false, nil
}

// CreateResourceAsync runs CreateResource on the metadata pool.
func (r *Repository) CreateResourceAsync(res *models.Resource) {
	snapshot := res.Clone()
	r.async("create", snapshot.Path, func(ctx context.Context) error { return r.create(ctx, snapshot, inline) })
}

// UpdateResourceAsync runs UpdateResource on the metadata pool.
func (r *Repository) UpdateResourceAsync(res *models.Resource) {
	snapshot := res.Clone()
	r.async("update", snapshot.Path, func(ctx context.Context) error { return r.update(ctx, snapshot, inline) })
}

// DeleteResourceAsync runs DeleteResource on the metadata pool.
func (r *Repository) DeleteResourceAsync(res *models.Resource) {
	snapshot := res.Clone()
	r.async("delete", snapshot.Path, func(ctx context.Context) error { return r.delete(ctx, snapshot, inline) })
}

func (r *Repository) async(op, path string, fn func(ctx context.Context) error) {
	err := r.pool.Submit(func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			logging.Error("async repository operation failed",
				zap.String("op", op), zap.String("path", path), zap.Error(err))
		}
	})
	if err != nil {
		logging.Error("failed to dispatch async repository operation",
			zap.String("op", op), zap.String("path", path), zap.Error(err))
	}
}

// propagateSize adds delta to every ancestor from parent up to, but not
// including, the root. It stops early at a missing ancestor.
func (r *Repository) propagateSize(ctx context.Context, parent string, delta int64) {
	r.propagateMu.Lock()
	defer r.propagateMu.Unlock()

	direction := "up"
	if delta < 0 {
		direction = "down"
	}

	for path := parent; path != tree.Root; {
		ancestor, err := r.store.Get(ctx, path)
		if err != nil {
			logging.Error("size propagation lookup failed", zap.String("path", path), zap.Error(err))
			return
		}
		if ancestor == nil {
			return
		}

		ancestor.Size = max(ancestor.Size+delta, 0)
		if err := r.store.Put(ctx, ancestor); err != nil {
			logging.Error("size propagation write failed", zap.String("path", path), zap.Error(err))
			return
		}
		metrics.RecordPropagationWrite(direction)
		path = ancestor.Parent
	}
}

func (r *Repository) indexResource(ctx context.Context, res *models.Resource) {
	if err := r.index.Index(ctx, res); err != nil {
		logging.Warn("failed to index resource", zap.String("path", res.Path), zap.Error(err))
	}
}

func (r *Repository) unindex(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := r.index.Delete(ctx, p); err != nil {
			logging.Warn("failed to remove resource from index", zap.String("path", p), zap.Error(err))
		}
	}
}

// partition drops the root, sorts by path and splits directories from files.
func partition(rs []*models.Resource) (dirs, files []*models.Resource) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Path < rs[j].Path })
	for _, res := range rs {
		switch {
		case res.IsRoot():
		case res.IsDirectory():
			dirs = append(dirs, res)
		default:
			files = append(files, res)
		}
	}
	return dirs, files
}

func favoritesFirst(dirs, files []*models.Resource) []*models.Resource {
	out := make([]*models.Resource, 0, len(dirs)+len(files))
	for _, group := range [][]*models.Resource{dirs, files} {
		for _, res := range group {
			if res.Favorite {
				out = append(out, res)
			}
		}
	}
	for _, group := range [][]*models.Resource{dirs, files} {
		for _, res := range group {
			if !res.Favorite {
				out = append(out, res)
			}
		}
	}
	return out
}
