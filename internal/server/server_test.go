package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	blobmem "github.com/fruitsalade/nimbus/internal/blob/memory"
	"github.com/fruitsalade/nimbus/internal/cache"
	"github.com/fruitsalade/nimbus/internal/models"
	"github.com/fruitsalade/nimbus/internal/signer"
	"github.com/fruitsalade/nimbus/internal/workers"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	for name, h := range map[string]http.Handler{
		"public":  New(nil).Handler(),
		"metrics": MetricsHandler(),
	} {
		rec := get(t, h, "/healthz")
		if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
			t.Errorf("%s /healthz = %d %q", name, rec.Code, rec.Body.String())
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, MetricsHandler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output lacks the default collectors")
	}
}

func TestCacheRouteDisabled(t *testing.T) {
	rec := get(t, New(nil).Handler(), cache.RoutePrefix+"/token/name.txt")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCacheRouteServesCachedFile(t *testing.T) {
	blobs := blobmem.New()
	origin := httptest.NewServer(blobs.Handler())
	defer origin.Close()
	blobs.BaseURL = origin.URL

	mac, err := signer.NewMAC([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	c, err := cache.New(cache.Config{Dir: t.TempDir(), TokenValidity: time.Minute}, blobs, mac, workers.New("cache", 1, 1))
	if err != nil {
		t.Fatal(err)
	}

	r, _ := models.NewFile("/alice/notes.txt", "alice", models.VisibilityPrivate, 5)
	r.Favorite = true
	blobs.Put(r.BlobKey(), []byte("notes"))
	if err := c.DownloadResourceToCache(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	u, ok, err := c.CachedDownloadURL(r)
	if err != nil || !ok {
		t.Fatalf("CachedDownloadURL: %v %v", ok, err)
	}

	rec := get(t, New(c).Handler(), u)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "notes" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "test", NewHTTPServer("127.0.0.1:0", MetricsHandler())) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
