package search

import (
	"context"
	"sort"
	"sync"

	"github.com/fruitsalade/nimbus/internal/models"
)

type entry struct {
	owner string
	terms []string
}

// Memory is an in-process Index.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry)}
}

func (m *Memory) Index(ctx context.Context, r *models.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[r.Path] = entry{owner: r.Owner, terms: Terms(r.Name() + " " + r.Description)}
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, path)
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]entry)
	return nil
}

func (m *Memory) Search(ctx context.Context, owner, query string) ([]string, error) {
	want := Terms(query)
	if len(want) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for path, e := range m.entries {
		if e.owner == owner && containsAll(e.terms, want) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the number of indexed paths.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Has reports whether path is indexed.
func (m *Memory) Has(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[path]
	return ok
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
