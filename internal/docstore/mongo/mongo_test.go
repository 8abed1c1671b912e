package mongo

import (
	"context"
	"os"
	"testing"

	"github.com/fruitsalade/nimbus/internal/docstore"
	"github.com/fruitsalade/nimbus/internal/docstore/docstoretest"
)

// Set NIMBUS_TEST_MONGO_URI to run against a disposable server.
func TestStore(t *testing.T) {
	uri := os.Getenv("NIMBUS_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("NIMBUS_TEST_MONGO_URI not set")
	}

	docstoretest.Run(t, func(t *testing.T) docstore.Store {
		ctx := context.Background()
		s, err := New(ctx, uri, "nimbus_test")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := s.Drop(ctx); err != nil {
			t.Fatalf("drop: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}
