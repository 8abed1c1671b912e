package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/logging"
	"github.com/fruitsalade/nimbus/internal/models"
)

// Redis keeps one hash per indexed path and one set of paths per
// (owner, term) pair.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

// ErrEmptyKeyPrefix is returned by NewRedis for an empty key prefix, which
// would let Clear wipe the whole database.
var ErrEmptyKeyPrefix = errors.New("redis search key prefix must not be empty")

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr string, db int, keyPrefix string) (*Redis, error) {
	if keyPrefix == "" {
		return nil, ErrEmptyKeyPrefix
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, keyPrefix: keyPrefix}, nil
}

func (r *Redis) docKey(path string) string {
	return r.keyPrefix + "doc:" + path
}

func (r *Redis) termKey(owner, term string) string {
	return r.keyPrefix + "term:" + owner + ":" + term
}

func (r *Redis) Index(ctx context.Context, res *models.Resource) error {
	if err := r.Delete(ctx, res.Path); err != nil {
		return err
	}

	terms := Terms(res.Name() + " " + res.Description)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.docKey(res.Path), map[string]any{
			"owner": res.Owner,
			"type":  string(res.Type),
			"terms": strings.Join(terms, " "),
		})
		for _, t := range terms {
			pipe.SAdd(ctx, r.termKey(res.Owner, t), res.Path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index %s: %w", res.Path, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, path string) error {
	doc, err := r.client.HGetAll(ctx, r.docKey(path)).Result()
	if err != nil {
		return fmt.Errorf("read index entry %s: %w", path, err)
	}
	if len(doc) == 0 {
		return nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range strings.Fields(doc["terms"]) {
			pipe.SRem(ctx, r.termKey(doc["owner"], t), path)
		}
		pipe.Del(ctx, r.docKey(path))
		return nil
	})
	if err != nil {
		return fmt.Errorf("unindex %s: %w", path, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.keyPrefix+"*", 500).Result()
		if err != nil {
			return fmt.Errorf("scan index: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("clear index: %w", err)
			}
			deleted += len(keys)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	logging.Debug("search index cleared", zap.Int("keys", deleted))
	return nil
}

func (r *Redis) Search(ctx context.Context, owner, query string) ([]string, error) {
	terms := Terms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	keys := make([]string, len(terms))
	for i, t := range terms {
		keys[i] = r.termKey(owner, t)
	}

	paths, err := r.client.SInter(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("search: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
