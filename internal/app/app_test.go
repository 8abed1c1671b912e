package app

import (
	"context"
	"reflect"
	"testing"
	"time"

	blobmem "github.com/fruitsalade/nimbus/internal/blob/memory"
	"github.com/fruitsalade/nimbus/internal/config"
	docmem "github.com/fruitsalade/nimbus/internal/docstore/memory"
	"github.com/fruitsalade/nimbus/internal/models"
	"github.com/fruitsalade/nimbus/internal/repository"
	"github.com/fruitsalade/nimbus/internal/search"
	"github.com/fruitsalade/nimbus/internal/workers"
)

func TestS3Endpoint(t *testing.T) {
	tests := []struct {
		cfg  config.S3Config
		want string
	}{
		{config.S3Config{Endpoint: "minio:9000"}, "http://minio:9000"},
		{config.S3Config{Endpoint: "minio:9000", UseSSL: true}, "https://minio:9000"},
		{config.S3Config{Endpoint: "https://s3.example"}, "https://s3.example"},
		{config.S3Config{}, ""},
	}
	for _, tt := range tests {
		if got := s3Endpoint(tt.cfg); got != tt.want {
			t.Errorf("s3Endpoint(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestCostModel(t *testing.T) {
	model, err := costModel(config.CostConfig{Tiers: "hot:0:1.073741824, cold:30:0.5"})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if got := model.TierFor(now).Name; got != "hot" {
		t.Errorf("fresh tier = %q, want hot", got)
	}
	if got := model.TierFor(now.AddDate(0, 0, -45)).Name; got != "cold" {
		t.Errorf("stale tier = %q, want cold", got)
	}
	if got := model.Cost(1<<30, now).String(); got != "1.073741824" {
		t.Errorf("cost of 1 GiB = %s", got)
	}

	if _, err := costModel(config.CostConfig{Tiers: "hot:0:cheap"}); err == nil {
		t.Error("expected error for a bad price")
	}
}

func TestPolicyDefaultsRetries(t *testing.T) {
	p := policy(config.JobConfig{BackoffThrottle: time.Second})
	if p.MaxRetries <= 0 || p.Backoff != time.Second {
		t.Errorf("policy = %+v", p)
	}
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()

	docs, err := openDocStore(ctx, config.DocStoreConfig{Backend: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := docs.(*docmem.Store); !ok {
		t.Errorf("memory backend gave %T", docs)
	}
	if _, err := openDocStore(ctx, config.DocStoreConfig{Backend: "cassandra"}); err == nil {
		t.Error("expected error for unknown docstore backend")
	}

	for backend, want := range map[string]search.Index{
		"none":   search.Noop{},
		"memory": search.NewMemory(),
	} {
		idx, err := openSearch(ctx, config.SearchConfig{Backend: backend})
		if err != nil {
			t.Fatal(err)
		}
		if reflect.TypeOf(idx) != reflect.TypeOf(want) {
			t.Errorf("%s backend gave %T", backend, idx)
		}
	}
	if _, err := openSearch(ctx, config.SearchConfig{Backend: "elastic"}); err == nil {
		t.Error("expected error for unknown search backend")
	}
}

func TestBuildSchedulerRunsJobs(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		S3:      config.S3Config{MetadataPrefix: ".nimbus/"},
		Sizer:   config.JobConfig{RunOnSchedule: true, Cron: "0 3 * * *", BackoffMaxRetries: 1},
		Reaper:  config.ReaperConfig{JobConfig: config.JobConfig{BackoffMaxRetries: 1}},
		Indexer: config.IndexerConfig{JobConfig: config.JobConfig{BackoffMaxRetries: 1}, ClearFirst: true},
	}

	pool := workers.New("metadata", 1, 10)
	pool.Start(ctx)
	defer pool.Stop()
	docs := docmem.New()
	index := search.NewMemory()
	repo := repository.New(docs, index, pool)
	if err := repo.EnsureRoot(ctx); err != nil {
		t.Fatal(err)
	}
	home, _ := models.NewDirectory("/alice", "alice", models.VisibilityPrivate)
	if err := repo.CreateResource(ctx, home); err != nil {
		t.Fatal(err)
	}
	pool.Wait()

	model, err := costModel(config.CostConfig{Tiers: "standard:0:0.023"})
	if err != nil {
		t.Fatal(err)
	}
	blobs := blobmem.New()
	blobs.Put("orphan", []byte("x"))

	s, err := buildScheduler(cfg, repo, blobs, index, model)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := s.Jobs(), []string{"indexer", "reaper", "sizer"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Jobs = %v, want %v", got, want)
	}
	for _, name := range s.Jobs() {
		if err := s.Trigger(ctx, name); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	if ok, _ := blobs.ObjectExists(ctx, "orphan"); ok {
		t.Error("reaper did not remove the orphan object")
	}
	if !index.Has("/alice") {
		t.Error("indexer did not index the home directory")
	}
}
