package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/fruitsalade/nimbus/internal/docstore"
	"github.com/fruitsalade/nimbus/internal/docstore/docstoretest"
)

// Set NIMBUS_TEST_DATABASE_URL to run against a disposable database.
func TestStore(t *testing.T) {
	url := os.Getenv("NIMBUS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("NIMBUS_TEST_DATABASE_URL not set")
	}

	docstoretest.Run(t, func(t *testing.T) docstore.Store {
		ctx := context.Background()
		s, err := New(ctx, url, 5)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := s.db.ExecContext(ctx, `TRUNCATE resources`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}
