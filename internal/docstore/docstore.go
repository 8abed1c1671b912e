// Package docstore defines the document store holding resource records.
// Records are keyed by path with a secondary index on parent.
package docstore

import (
	"context"

	"github.com/fruitsalade/nimbus/internal/models"
)

// BatchWriteLimit is the most keys a single BatchDelete call accepts.
const BatchWriteLimit = 25

// Filter narrows a parent index query. Empty fields match everything.
type Filter struct {
	Visibility []models.Visibility
	Type       models.Type
}

// Matches reports whether r passes the filter.
func (f Filter) Matches(r *models.Resource) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if len(f.Visibility) == 0 {
		return true
	}
	for _, v := range f.Visibility {
		if r.Visibility == v {
			return true
		}
	}
	return false
}

// Store is the document store collaborator.
type Store interface {
	// Get returns nil, nil when no record exists at path.
	Get(ctx context.Context, path string) (*models.Resource, error)
	// Put creates or overwrites the record at r.Path.
	Put(ctx context.Context, r *models.Resource) error
	// Delete removes the record at path; absent records are not an error.
	Delete(ctx context.Context, path string) error
	// BatchDelete removes up to BatchWriteLimit records and returns the
	// paths the store left unprocessed.
	BatchDelete(ctx context.Context, paths []string) (unprocessed []string, err error)
	// QueryByParent returns the records whose parent is parent, in no
	// particular order.
	QueryByParent(ctx context.Context, parent string, f Filter) ([]*models.Resource, error)
	Close() error
}

// Visibilities returns the string form of vs.
func Visibilities(vs []models.Visibility) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}
