// Package search keeps a lookup index of resource names.
package search

import (
	"context"
	"strings"
	"unicode"

	"github.com/fruitsalade/nimbus/internal/models"
)

// Index is the search collaborator.
type Index interface {
	// Index adds or replaces the entry for r.
	Index(ctx context.Context, r *models.Resource) error
	Delete(ctx context.Context, path string) error
	// Clear drops every entry.
	Clear(ctx context.Context) error
	// Search returns the paths whose name contains every term, limited to owner.
	Search(ctx context.Context, owner, query string) ([]string, error)
}

// Terms splits s into lowercase letter/digit runs.
func Terms(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Noop discards everything.
type Noop struct{}

func (Noop) Index(context.Context, *models.Resource) error { return nil }
func (Noop) Delete(context.Context, string) error          { return nil }
func (Noop) Clear(context.Context) error                   { return nil }
func (Noop) Search(context.Context, string, string) ([]string, error) {
	return nil, nil
}
