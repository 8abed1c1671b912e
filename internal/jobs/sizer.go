package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/blob"
	"github.com/fruitsalade/nimbus/internal/cost"
	"github.com/fruitsalade/nimbus/internal/logging"
	"github.com/fruitsalade/nimbus/internal/metrics"
	"github.com/fruitsalade/nimbus/internal/models"
	"github.com/fruitsalade/nimbus/internal/retry"
	"github.com/fruitsalade/nimbus/internal/tree"
)

// Summary totals one Sizer run.
type Summary struct {
	Resources int
	Size      int64
	Cost      decimal.Decimal
	Writes    int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d resources, %s, %s, %d writes",
		s.Resources, tree.HumanBytes(s.Size), cost.Human(s.Cost), s.Writes)
}

// Sizer recomputes file sizes from the object store and directory
// size and cost bottom-up.
type Sizer struct {
	tree   Tree
	blobs  blob.Store
	model  cost.Model
	policy retry.Policy
}

func NewSizer(t Tree, blobs blob.Store, model cost.Model, policy retry.Policy) *Sizer {
	return &Sizer{tree: t, blobs: blobs, model: model, policy: policy}
}

func (s *Sizer) Name() string { return "sizer" }

func (s *Sizer) Run(ctx context.Context) error {
	sum, err := s.Size(ctx)
	if err != nil {
		return err
	}
	logging.WithContext(ctx).Info("sizer totals",
		zap.Int("resources", sum.Resources),
		zap.String("size", tree.HumanBytes(sum.Size)),
		zap.String("cost", cost.Human(sum.Cost)),
		zap.Int("writes", sum.Writes))
	return nil
}

// Size walks every home directory and returns the run totals.
func (s *Sizer) Size(ctx context.Context) (Summary, error) {
	sum := Summary{Cost: decimal.Zero}

	list, err := homes(ctx, s.tree, s.policy)
	if err != nil {
		return sum, err
	}
	for _, home := range list {
		if err := s.walk(ctx, home, &sum); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// frame is a directory whose children are being summed.
type frame struct {
	dir      *models.Resource
	children []*models.Resource
	next     int
	size     int64
	cost     decimal.Decimal
}

// walk sizes root's subtree in post-order with an explicit stack.
func (s *Sizer) walk(ctx context.Context, root *models.Resource, sum *Summary) error {
	log := logging.WithContext(ctx)

	open := func(dir *models.Resource) (*frame, error) {
		kids, err := children(ctx, s.tree, s.policy, dir)
		if err != nil {
			return nil, err
		}
		return &frame{dir: dir, children: kids, cost: decimal.Zero}, nil
	}

	top, err := open(root)
	if err != nil {
		return err
	}
	stack := []*frame{top}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := stack[len(stack)-1]

		if cur.next < len(cur.children) {
			child := cur.children[cur.next]
			cur.next++

			if child.IsDirectory() {
				f, err := open(child)
				if err != nil {
					if fatal(ctx, err) {
						return err
					}
					metrics.RecordJobNode(s.Name(), "failed")
					log.Warn("skipping directory", zap.String("path", child.Path), zap.Error(err))
					continue
				}
				stack = append(stack, f)
				continue
			}

			size, c, ok, err := s.sizeFile(ctx, child, sum)
			if err != nil {
				if fatal(ctx, err) {
					return err
				}
				metrics.RecordJobNode(s.Name(), "failed")
				log.Warn("skipping file", zap.String("path", child.Path), zap.Error(err))
				continue
			}
			if ok {
				cur.size += size
				cur.cost = cur.cost.Add(c)
			}
			continue
		}

		stack = stack[:len(stack)-1]
		sum.Resources++
		if err := s.store(ctx, cur.dir, cur.size, cur.cost, sum); err != nil {
			if fatal(ctx, err) {
				return err
			}
			metrics.RecordJobNode(s.Name(), "failed")
			log.Warn("failed to write directory totals", zap.String("path", cur.dir.Path), zap.Error(err))
		}

		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			parent.size += cur.size
			parent.cost = parent.cost.Add(cur.cost)
		} else {
			sum.Size += cur.size
			sum.Cost = sum.Cost.Add(cur.cost)
		}
	}
	return nil
}

// sizeFile corrects one file. ok is false when the object is missing and
// the file contributes nothing.
func (s *Sizer) sizeFile(ctx context.Context, r *models.Resource, sum *Summary) (int64, decimal.Decimal, bool, error) {
	size, err := retry.DoWithResult(ctx, s.policy, func() (int64, error) {
		n, err := s.blobs.ObjectSize(ctx, r.BlobKey())
		if errors.Is(err, blob.ErrNotFound) {
			return 0, retry.Permanent(err)
		}
		return n, err
	})
	if errors.Is(err, blob.ErrNotFound) {
		metrics.RecordJobNode(s.Name(), "missing")
		logging.WithContext(ctx).Warn("file has no object, skipping", zap.String("path", r.Path))
		return 0, decimal.Zero, false, nil
	}
	if err != nil {
		return 0, decimal.Zero, false, fmt.Errorf("size of %s: %w", r.Path, err)
	}

	if size != r.Size {
		logging.WithContext(ctx).Info("correcting file size",
			zap.String("path", r.Path),
			zap.Int64("stored", r.Size),
			zap.Int64("actual", size))
	}

	sized := r.Clone()
	sized.Size = size
	c := s.model.ResourceCost(sized)

	sum.Resources++
	if err := s.store(ctx, r, size, c, sum); err != nil {
		if fatal(ctx, err) {
			return 0, decimal.Zero, false, err
		}
		metrics.RecordJobNode(s.Name(), "failed")
		logging.WithContext(ctx).Warn("failed to write file totals", zap.String("path", r.Path), zap.Error(err))
	}
	return size, c, true, nil
}

// store writes size and cost back when either changed.
func (s *Sizer) store(ctx context.Context, r *models.Resource, size int64, c decimal.Decimal, sum *Summary) error {
	if r.Size == size && r.Cost.Equal(c) {
		metrics.RecordJobNode(s.Name(), "unchanged")
		return nil
	}

	updated := r.Clone()
	updated.Size = size
	updated.Cost = c
	if err := update(ctx, s.tree, s.policy, updated); err != nil {
		return err
	}
	sum.Writes++
	metrics.RecordJobNode(s.Name(), "updated")
	return nil
}
