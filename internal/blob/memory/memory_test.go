package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/fruitsalade/nimbus/internal/blob"
)

func keys(t *testing.T, s *Store) []string {
	t.Helper()
	var out []string
	if err := s.ListKeys(context.Background(), blob.ListOptions{}, func(k string) error {
		out = append(out, k)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestDeleteLeavesMarker(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put("a", []byte("v1"))
	s.Put("a", []byte("v2"))

	if err := s.DeleteObject(ctx, "a", false); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.ObjectExists(ctx, "a"); ok {
		t.Error("object still current after delete")
	}
	if _, err := s.ObjectSize(ctx, "a"); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("ObjectSize err = %v, want ErrNotFound", err)
	}
	if got := s.Versions("a"); got != 2 {
		t.Errorf("Versions = %d, want 2", got)
	}
	if got := keys(t, s); len(got) != 0 {
		t.Errorf("ListKeys = %v, want none", got)
	}

	// A second delete stacks on the marker and removes nothing.
	if err := s.DeleteObject(ctx, "a", false); err != nil {
		t.Fatal(err)
	}
	if got := s.Versions("a"); got != 2 {
		t.Errorf("Versions after second delete = %d, want 2", got)
	}

	s.Put("a", []byte("v3"))
	size, err := s.ObjectSize(ctx, "a")
	if err != nil || size != 2 {
		t.Errorf("ObjectSize after re-put = %d, %v", size, err)
	}
	if got := s.Versions("a"); got != 3 {
		t.Errorf("Versions after re-put = %d, want 3", got)
	}
}

func TestPermanentDeleteDropsHistory(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put("a", []byte("v1"))
	s.Put("a", []byte("v2"))
	_ = s.DeleteObject(ctx, "a", false)

	if err := s.DeleteObject(ctx, "a", true); err != nil {
		t.Fatal(err)
	}
	if got := s.Versions("a"); got != 0 {
		t.Errorf("Versions = %d, want 0", got)
	}
	s.Put("a", []byte("new"))
	if ok, _ := s.ObjectExists(ctx, "a"); !ok {
		t.Error("re-put after permanent delete not visible")
	}
}

func TestListKeysFilters(t *testing.T) {
	s := New()
	for _, k := range []string{"alice/a", "alice/b", "bob/c", ".nimbus/state"} {
		s.Put(k, []byte(k))
	}
	var got []string
	err := s.ListKeys(context.Background(), blob.ListOptions{Prefix: "alice/"}, func(k string) error {
		got = append(got, k)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "alice/a" || got[1] != "alice/b" {
		t.Errorf("prefix listing = %v", got)
	}
	all := keys(t, s)
	if len(all) != 4 {
		t.Errorf("full listing = %v", all)
	}

	got = got[:0]
	_ = s.ListKeys(context.Background(), blob.ListOptions{ExcludePrefix: ".nimbus/"}, func(k string) error {
		got = append(got, k)
		return nil
	})
	if len(got) != 3 {
		t.Errorf("exclude listing = %v", got)
	}
}
