package memory

import (
	"context"
	"testing"

	"github.com/fruitsalade/nimbus/internal/docstore"
	"github.com/fruitsalade/nimbus/internal/docstore/docstoretest"
	"github.com/fruitsalade/nimbus/internal/models"
)

func TestStore(t *testing.T) {
	docstoretest.Run(t, func(t *testing.T) docstore.Store { return New() })
}

func TestBatchDeleteUnprocessed(t *testing.T) {
	s := New()
	s.Unprocess = func(path string) bool { return path == "/alice/b" }
	ctx := context.Background()

	for _, p := range []string{"/alice/a", "/alice/b"} {
		r, _ := models.NewFile(p, "alice", models.VisibilityPrivate, 1)
		if err := s.Put(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	unprocessed, err := s.BatchDelete(ctx, []string{"/alice/a", "/alice/b"})
	if err != nil {
		t.Fatalf("BatchDelete: %v", err)
	}
	if len(unprocessed) != 1 || unprocessed[0] != "/alice/b" {
		t.Errorf("unprocessed = %v", unprocessed)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestBatchDeleteOverLimit(t *testing.T) {
	s := New()
	paths := make([]string, docstore.BatchWriteLimit+1)
	if _, err := s.BatchDelete(context.Background(), paths); err == nil {
		t.Error("expected error for oversized batch")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	r, _ := models.NewFile("/alice/a", "alice", models.VisibilityPrivate, 1)
	_ = s.Put(ctx, r)

	got, _ := s.Get(ctx, "/alice/a")
	got.Size = 500

	again, _ := s.Get(ctx, "/alice/a")
	if again.Size != 1 {
		t.Errorf("store mutated through returned record: size %d", again.Size)
	}
}
