// Package docstoretest holds the behaviour every docstore.Store must share.
package docstoretest

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/nimbus/internal/docstore"
	"github.com/fruitsalade/nimbus/internal/models"
)

// Run exercises a store built by newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) docstore.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		r, err := s.Get(context.Background(), "/nobody")
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	t.Run("PutGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r, err := models.NewFile("/alice/a.txt", "alice", models.VisibilityPrivate, 2048)
		require.NoError(t, err)
		r.Cost = decimal.RequireFromString("0.000043865")
		r.Favorite = true
		r.Description = "notes"
		r.CreatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		accessed := r.CreatedAt.Add(time.Hour)
		r.LastAccessedAt = &accessed

		require.NoError(t, s.Put(ctx, r))

		got, err := s.Get(ctx, "/alice/a.txt")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, r.Path, got.Path)
		assert.Equal(t, "/alice", got.Parent)
		assert.Equal(t, models.TypeFile, got.Type)
		assert.Equal(t, models.VisibilityPrivate, got.Visibility)
		assert.Equal(t, "alice", got.Owner)
		assert.Equal(t, int64(2048), got.Size)
		assert.True(t, r.Cost.Equal(got.Cost), "cost %s != %s", got.Cost, r.Cost)
		assert.True(t, got.Favorite)
		assert.Equal(t, "notes", got.Description)
		assert.True(t, r.CreatedAt.Equal(got.CreatedAt))
		require.NotNil(t, got.LastAccessedAt)
		assert.True(t, accessed.Equal(*got.LastAccessedAt))
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r, _ := models.NewDirectory("/alice", "alice", models.VisibilityPublic)
		require.NoError(t, s.Put(ctx, r))
		r.Size = 99
		require.NoError(t, s.Put(ctx, r))

		got, err := s.Get(ctx, "/alice")
		require.NoError(t, err)
		assert.Equal(t, int64(99), got.Size)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r, _ := models.NewDirectory("/alice", "alice", models.VisibilityPublic)
		require.NoError(t, s.Put(ctx, r))
		require.NoError(t, s.Delete(ctx, "/alice"))
		require.NoError(t, s.Delete(ctx, "/alice"))

		got, err := s.Get(ctx, "/alice")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("QueryByParentFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		put := func(r *models.Resource, err error) {
			require.NoError(t, err)
			require.NoError(t, s.Put(ctx, r))
		}
		put(models.NewDirectory("/alice", "alice", models.VisibilityPrivate))
		put(models.NewDirectory("/alice/pub", "alice", models.VisibilityPublic))
		put(models.NewFile("/alice/a", "alice", models.VisibilityPrivate, 1))
		put(models.NewFile("/alice/b", "alice", models.VisibilityPublic, 1))
		put(models.NewFile("/alice/pub/c", "alice", models.VisibilityPublic, 1))

		all, err := s.QueryByParent(ctx, "/alice", docstore.Filter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"/alice/a", "/alice/b", "/alice/pub"}, paths(all))

		public, err := s.QueryByParent(ctx, "/alice", docstore.Filter{Visibility: []models.Visibility{models.VisibilityPublic}})
		require.NoError(t, err)
		assert.Equal(t, []string{"/alice/b", "/alice/pub"}, paths(public))

		dirs, err := s.QueryByParent(ctx, "/alice", docstore.Filter{Type: models.TypeDirectory})
		require.NoError(t, err)
		assert.Equal(t, []string{"/alice/pub"}, paths(dirs))

		none, err := s.QueryByParent(ctx, "/bob", docstore.Filter{})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("BatchDelete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var batch []string
		for i := 0; i < docstore.BatchWriteLimit; i++ {
			r, _ := models.NewFile(fmt.Sprintf("/alice/f%02d", i), "alice", models.VisibilityPrivate, 1)
			require.NoError(t, s.Put(ctx, r))
			batch = append(batch, r.Path)
		}

		unprocessed, err := s.BatchDelete(ctx, batch)
		require.NoError(t, err)
		assert.Empty(t, unprocessed)

		left, err := s.QueryByParent(ctx, "/alice", docstore.Filter{})
		require.NoError(t, err)
		assert.Empty(t, left)
	})
}

func paths(rs []*models.Resource) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Path
	}
	sort.Strings(out)
	return out
}
