// Package memory is an in-process, versioned blob.Store. Handler serves
// the objects over HTTP so presigned URLs can be fetched in tests.
package memory

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/fruitsalade/nimbus/internal/blob"
)

// Store keeps every version of every object. A non-permanent delete puts
// a delete marker on top of the versions, as a versioned S3 bucket does.
type Store struct {
	mu       sync.RWMutex
	versions map[string][][]byte
	marked   map[string]bool

	// BaseURL prefixes presigned URLs; point it at a server running Handler.
	BaseURL string
}

// New creates an empty store.
func New() *Store {
	return &Store{versions: make(map[string][][]byte), marked: make(map[string]bool)}
}

// Put stores data as the newest version of key.
func (s *Store) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[key] = append(s.versions[key], bytes.Clone(data))
	delete(s.marked, key)
}

// Versions returns how many data versions of key survive, delete marker
// or not.
func (s *Store) Versions(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions[key])
}

func (s *Store) current(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.versions[key]
	if len(vs) == 0 || s.marked[key] {
		return nil, false
	}
	return vs[len(vs)-1], true
}

func (s *Store) PresignedReadURL(ctx context.Context, key, filename string) (string, error) {
	return strings.TrimSuffix(s.BaseURL, "/") + "/" + (&url.URL{Path: key}).EscapedPath(), nil
}

func (s *Store) ObjectSize(ctx context.Context, key string) (int64, error) {
	data, ok := s.current(key)
	if !ok {
		return 0, blob.ErrNotFound
	}
	return int64(len(data)), nil
}

func (s *Store) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, ok := s.current(key)
	return ok, nil
}

func (s *Store) DeleteObject(ctx context.Context, key string, permanent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if permanent {
		delete(s.versions, key)
		delete(s.marked, key)
		return nil
	}
	if len(s.versions[key]) > 0 {
		s.marked[key] = true
	}
	return nil
}

func (s *Store) ListKeys(ctx context.Context, opts blob.ListOptions, fn func(key string) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.versions))
	for k := range s.versions {
		if s.marked[k] || !strings.HasPrefix(k, opts.Prefix) {
			continue
		}
		if opts.ExcludePrefix != "" && strings.HasPrefix(k, opts.ExcludePrefix) {
			continue
		}
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the current version of each object at /<key>.
func (s *Store) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := s.current(strings.TrimPrefix(r.URL.Path, "/"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
	})
}
