package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/blob"
	"github.com/fruitsalade/nimbus/internal/logging"
	"github.com/fruitsalade/nimbus/internal/metrics"
	"github.com/fruitsalade/nimbus/internal/models"
	"github.com/fruitsalade/nimbus/internal/retry"
	"github.com/fruitsalade/nimbus/internal/search"
)

// IndexSummary totals one Indexer run.
type IndexSummary struct {
	Indexed int
	Skipped int
}

// Indexer rebuilds the search index from the tree.
type Indexer struct {
	tree       Tree
	blobs      blob.Store
	index      search.Index
	policy     retry.Policy
	clearFirst bool
}

func NewIndexer(t Tree, blobs blob.Store, index search.Index, policy retry.Policy, clearFirst bool) *Indexer {
	return &Indexer{tree: t, blobs: blobs, index: index, policy: policy, clearFirst: clearFirst}
}

func (ix *Indexer) Name() string { return "indexer" }

func (ix *Indexer) Run(ctx context.Context) error {
	sum, err := ix.Reindex(ctx)
	logging.WithContext(ctx).Info("indexer totals",
		zap.Int("indexed", sum.Indexed),
		zap.Int("skipped", sum.Skipped))
	return err
}

type visit struct {
	res      *models.Resource
	expanded bool
}

// Reindex walks every home directory depth-first, indexing each directory
// after its children.
func (ix *Indexer) Reindex(ctx context.Context) (IndexSummary, error) {
	var sum IndexSummary
	log := logging.WithContext(ctx)

	if ix.clearFirst {
		if err := retry.Do(ctx, ix.policy, func() error { return ix.index.Clear(ctx) }); err != nil {
			return sum, fmt.Errorf("clear index: %w", err)
		}
		log.Info("search index cleared")
	}

	list, err := homes(ctx, ix.tree, ix.policy)
	if err != nil {
		return sum, err
	}

	stack := make([]visit, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		stack = append(stack, visit{res: list[i]})
	}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if v.res.IsDirectory() && !v.expanded {
			kids, err := children(ctx, ix.tree, ix.policy, v.res)
			if err != nil {
				if fatal(ctx, err) {
					return sum, err
				}
				sum.Skipped++
				metrics.RecordJobNode(ix.Name(), "failed")
				log.Warn("skipping directory", zap.String("path", v.res.Path), zap.Error(err))
				continue
			}
			stack = append(stack, visit{res: v.res, expanded: true})
			for i := len(kids) - 1; i >= 0; i-- {
				stack = append(stack, visit{res: kids[i]})
			}
			continue
		}

		indexed, err := ix.indexOne(ctx, v.res)
		if err != nil {
			if fatal(ctx, err) {
				return sum, err
			}
			sum.Skipped++
			metrics.RecordJobNode(ix.Name(), "failed")
			log.Warn("failed to index resource", zap.String("path", v.res.Path), zap.Error(err))
			continue
		}
		if indexed {
			sum.Indexed++
		} else {
			sum.Skipped++
		}
	}
	return sum, nil
}

func (ix *Indexer) indexOne(ctx context.Context, r *models.Resource) (bool, error) {
	if r.IsFile() {
		exists, err := retry.DoWithResult(ctx, ix.policy, func() (bool, error) {
			return ix.blobs.ObjectExists(ctx, r.BlobKey())
		})
		if err != nil {
			return false, fmt.Errorf("check object of %s: %w", r.Path, err)
		}
		if !exists {
			metrics.RecordJobNode(ix.Name(), "missing")
			logging.WithContext(ctx).Warn("file has no object, not indexing", zap.String("path", r.Path))
			return false, nil
		}
	}

	if err := retry.Do(ctx, ix.policy, func() error { return ix.index.Index(ctx, r) }); err != nil {
		return false, fmt.Errorf("index %s: %w", r.Path, err)
	}
	metrics.RecordJobNode(ix.Name(), "indexed")
	return true, nil
}
