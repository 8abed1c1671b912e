// Package jobs holds the background maintenance jobs that reconcile the
// resource tree with the object store and the search index, and the
// scheduler that runs them.
//
// Every store call made by a job is wrapped in retry. A node that fails
// for any other reason is logged and skipped; a spent retry budget fails
// the whole run.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/logging"
	"github.com/fruitsalade/nimbus/internal/metrics"
	"github.com/fruitsalade/nimbus/internal/models"
	"github.com/fruitsalade/nimbus/internal/retry"
)

// Job is a unit the scheduler can run.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Tree is the part of the repository the jobs walk.
type Tree interface {
	GetResourceAtPath(ctx context.Context, path string) (*models.Resource, error)
	UpdateResource(ctx context.Context, r *models.Resource) error
	ListDirectory(ctx context.Context, dir *models.Resource, visibility []models.Visibility, order models.Sort) ([]*models.Resource, error)
	ListHomeDirectories(ctx context.Context) ([]*models.Resource, error)
}

// Execute runs job once with a fresh run id attached to its logger.
func Execute(ctx context.Context, job Job) error {
	name := job.Name()
	ctx = logging.WithFields(ctx, zap.String("job", name), zap.String("run_id", uuid.NewString()))
	log := logging.WithContext(ctx)

	start := time.Now()
	log.Info("job started")
	err := job.Run(ctx)
	metrics.RecordJobRun(name, start, err)
	if err != nil {
		log.Error("job failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}
	log.Info("job finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// fatal reports whether err must end the run rather than skip one node.
func fatal(ctx context.Context, err error) bool {
	return retry.IsExhausted(err) || ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// homes lists the home directories and re-reads each one.
func homes(ctx context.Context, t Tree, p retry.Policy) ([]*models.Resource, error) {
	list, err := retry.DoWithResult(ctx, p, func() ([]*models.Resource, error) {
		return t.ListHomeDirectories(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("list home directories: %w", err)
	}

	out := make([]*models.Resource, 0, len(list))
	for _, h := range list {
		fresh, err := lookup(ctx, t, p, h.Path)
		if err != nil {
			return nil, err
		}
		if fresh != nil {
			out = append(out, fresh)
		}
	}
	return out, nil
}

func lookup(ctx context.Context, t Tree, p retry.Policy, path string) (*models.Resource, error) {
	r, err := retry.DoWithResult(ctx, p, func() (*models.Resource, error) {
		return t.GetResourceAtPath(ctx, path)
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return r, nil
}

func children(ctx context.Context, t Tree, p retry.Policy, dir *models.Resource) ([]*models.Resource, error) {
	list, err := retry.DoWithResult(ctx, p, func() ([]*models.Resource, error) {
		return t.ListDirectory(ctx, dir, models.AllVisibilities, models.SortDefault)
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir.Path, err)
	}
	return list, nil
}

func update(ctx context.Context, t Tree, p retry.Policy, r *models.Resource) error {
	if err := retry.Do(ctx, p, func() error { return t.UpdateResource(ctx, r) }); err != nil {
		return fmt.Errorf("update %s: %w", r.Path, err)
	}
	return nil
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
