package search

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"

	"github.com/fruitsalade/nimbus/internal/models"
)

func TestTerms(t *testing.T) {
	got := Terms("Tax-Return_2025.PDF tax")
	want := []string{"tax", "return", "2025", "pdf"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Terms = %v, want %v", got, want)
	}
}

func testIndex(t *testing.T, idx Index) {
	t.Helper()
	ctx := context.Background()

	a, _ := models.NewFile("/alice/tax-2025.pdf", "alice", models.VisibilityPrivate, 1)
	b, _ := models.NewFile("/alice/photos/tax.jpg", "alice", models.VisibilityPrivate, 1)
	c, _ := models.NewFile("/bob/tax-2025.pdf", "bob", models.VisibilityPrivate, 1)
	for _, r := range []*models.Resource{a, b, c} {
		if err := idx.Index(ctx, r); err != nil {
			t.Fatalf("Index(%s): %v", r.Path, err)
		}
	}

	got, err := idx.Search(ctx, "alice", "tax")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"/alice/photos/tax.jpg", "/alice/tax-2025.pdf"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Search(tax) = %v, want %v", got, want)
	}

	got, _ = idx.Search(ctx, "alice", "TAX 2025")
	if want := []string{"/alice/tax-2025.pdf"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Search(TAX 2025) = %v, want %v", got, want)
	}

	if err := idx.Delete(ctx, a.Path); err != nil {
		t.Fatal(err)
	}
	got, _ = idx.Search(ctx, "alice", "2025")
	if len(got) != 0 {
		t.Errorf("deleted entry still found: %v", got)
	}

	if err := idx.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = idx.Search(ctx, "bob", "tax")
	if len(got) != 0 {
		t.Errorf("cleared index still returns %v", got)
	}
}

func TestMemory(t *testing.T) {
	testIndex(t, NewMemory())
}

func TestRedisRejectsEmptyKeyPrefix(t *testing.T) {
	// Checked before dialing, so no server is needed.
	if _, err := NewRedis(context.Background(), "127.0.0.1:1", 0, ""); !errors.Is(err, ErrEmptyKeyPrefix) {
		t.Errorf("NewRedis error = %v, want ErrEmptyKeyPrefix", err)
	}
}

// Set NIMBUS_TEST_REDIS_ADDR to run against a disposable server.
func TestRedis(t *testing.T) {
	addr := os.Getenv("NIMBUS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NIMBUS_TEST_REDIS_ADDR not set")
	}
	idx, err := NewRedis(context.Background(), addr, 0, "nimbus:test:")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if err := idx.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}
	testIndex(t, idx)
}
