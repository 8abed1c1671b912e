package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/blob"
	"github.com/fruitsalade/nimbus/internal/logging"
	"github.com/fruitsalade/nimbus/internal/metrics"
	"github.com/fruitsalade/nimbus/internal/retry"
	"github.com/fruitsalade/nimbus/internal/tree"
)

// ReapSummary totals one Reaper run.
type ReapSummary struct {
	Scanned int
	Deleted int
}

// Reaper deletes objects that no resource record points at. Only the
// current version is removed, so a versioned bucket keeps history.
type Reaper struct {
	tree           Tree
	blobs          blob.Store
	policy         retry.Policy
	throttle       time.Duration
	metadataPrefix string
}

// NewReaper creates a reaper. Keys under metadataPrefix are never touched.
func NewReaper(t Tree, blobs blob.Store, policy retry.Policy, throttle time.Duration, metadataPrefix string) *Reaper {
	return &Reaper{
		tree:           t,
		blobs:          blobs,
		policy:         policy,
		throttle:       throttle,
		metadataPrefix: metadataPrefix,
	}
}

func (r *Reaper) Name() string { return "reaper" }

func (r *Reaper) Run(ctx context.Context) error {
	sum, err := r.Reap(ctx)
	logging.WithContext(ctx).Info("reaper totals",
		zap.Int("scanned", sum.Scanned),
		zap.Int("deleted", sum.Deleted))
	return err
}

// Reap scans every object key once.
func (r *Reaper) Reap(ctx context.Context) (ReapSummary, error) {
	var sum ReapSummary
	log := logging.WithContext(ctx)

	first := true
	err := r.blobs.ListKeys(ctx, blob.ListOptions{ExcludePrefix: r.metadataPrefix}, func(key string) error {
		if !first {
			if err := sleep(ctx, r.throttle); err != nil {
				return err
			}
		}
		first = false
		sum.Scanned++

		// Folder placeholders have no record of their own.
		if strings.HasSuffix(key, "/") {
			return nil
		}

		deleted, err := r.reapKey(ctx, key)
		if err != nil {
			if fatal(ctx, err) {
				return err
			}
			metrics.RecordJobNode(r.Name(), "failed")
			log.Warn("skipping object", zap.String("key", key), zap.Error(err))
			return nil
		}
		if deleted {
			sum.Deleted++
		}
		return nil
	})
	if err != nil {
		return sum, fmt.Errorf("scan objects: %w", err)
	}
	return sum, nil
}

func (r *Reaper) reapKey(ctx context.Context, key string) (bool, error) {
	path := tree.PathForKey(key)
	res, err := lookup(ctx, r.tree, r.policy, path)
	if err != nil {
		return false, err
	}
	if res != nil {
		metrics.RecordJobNode(r.Name(), "tracked")
		return false, nil
	}

	// The record may have gone with an in-flight delete that also took
	// the object.
	exists, err := retry.DoWithResult(ctx, r.policy, func() (bool, error) {
		return r.blobs.ObjectExists(ctx, key)
	})
	if err != nil {
		return false, fmt.Errorf("confirm %s: %w", key, err)
	}
	if !exists {
		metrics.RecordJobNode(r.Name(), "vanished")
		return false, nil
	}

	if err := retry.Do(ctx, r.policy, func() error {
		return r.blobs.DeleteObject(ctx, key, false)
	}); err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	metrics.RecordJobNode(r.Name(), "deleted")
	logging.WithContext(ctx).Info("deleted dangling object", zap.String("key", key))
	return true, nil
}
