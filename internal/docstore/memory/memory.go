// Package memory is an in-process docstore used for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fruitsalade/nimbus/internal/docstore"
	"github.com/fruitsalade/nimbus/internal/metrics"
	"github.com/fruitsalade/nimbus/internal/models"
)

// Store keeps records in maps guarded by a mutex.
type Store struct {
	mu       sync.RWMutex
	records  map[string]*models.Resource
	children map[string]map[string]struct{}

	// Unprocess, when set, decides which batch deletes are left unprocessed.
	Unprocess func(path string) bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records:  make(map[string]*models.Resource),
		children: make(map[string]map[string]struct{}),
	}
}

func (s *Store) Get(ctx context.Context, path string) (*models.Resource, error) {
	defer metrics.RecordDBQuery("memory", "get", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[path].Clone(), nil
}

func (s *Store) Put(ctx context.Context, r *models.Resource) error {
	defer metrics.RecordDBQuery("memory", "put", time.Now())
	if r == nil || r.Path == "" {
		return fmt.Errorf("memory: put: empty record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[r.Path] = r.Clone()
	if r.Path != r.Parent {
		kids, ok := s.children[r.Parent]
		if !ok {
			kids = make(map[string]struct{})
			s.children[r.Parent] = kids
		}
		kids[r.Path] = struct{}{}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	defer metrics.RecordDBQuery("memory", "delete", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(path)
	return nil
}

func (s *Store) deleteLocked(path string) {
	r, ok := s.records[path]
	if !ok {
		return
	}
	delete(s.records, path)
	if kids, ok := s.children[r.Parent]; ok {
		delete(kids, path)
		if len(kids) == 0 {
			delete(s.children, r.Parent)
		}
	}
}

func (s *Store) BatchDelete(ctx context.Context, paths []string) ([]string, error) {
	defer metrics.RecordDBQuery("memory", "batch_delete", time.Now())
	if len(paths) > docstore.BatchWriteLimit {
		return nil, fmt.Errorf("memory: batch of %d exceeds limit %d", len(paths), docstore.BatchWriteLimit)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var unprocessed []string
	for _, p := range paths {
		if s.Unprocess != nil && s.Unprocess(p) {
			unprocessed = append(unprocessed, p)
			continue
		}
		s.deleteLocked(p)
	}
	return unprocessed, nil
}

func (s *Store) QueryByParent(ctx context.Context, parent string, f docstore.Filter) ([]*models.Resource, error) {
	defer metrics.RecordDBQuery("memory", "query_by_parent", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Resource
	for p := range s.children[parent] {
		r := s.records[p]
		if r != nil && f.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Close() error { return nil }
