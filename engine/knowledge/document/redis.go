package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "policyrag:documents"

// RedisStore keeps each record as a JSON string and indexes the ids in a
// sorted set scored by upload time.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	limit  int
}

func NewRedisStore(client redis.UniversalClient, prefix string, limit int) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("document redis store: client is required")
	}
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, limit: resolveLimit(limit)}, nil
}

func (s *RedisStore) recordKey(id string) string {
	return s.prefix + ":doc:" + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":index"
}

func (s *RedisStore) Insert(ctx context.Context, doc *knowledge.Document) error {
	if err := Validate(doc); err != nil {
		return err
	}
	record := Normalize(doc)
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("document redis store: encode %s: %w", record.ID, err)
	}
	created, err := s.client.SetNX(ctx, s.recordKey(record.ID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("document redis store: insert %s: %w", record.ID, err)
	}
	if !created {
		return fmt.Errorf("document %s: %w", record.ID, ErrDuplicate)
	}
	member := redis.Z{Score: float64(record.UploadDate.UnixMicro()), Member: record.ID}
	if err := s.client.ZAdd(ctx, s.indexKey(), member).Err(); err != nil {
		s.client.Del(context.WithoutCancel(ctx), s.recordKey(record.ID))
		return fmt.Errorf("document redis store: index %s: %w", record.ID, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]knowledge.Document, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(s.limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("document redis store: list index: %w", err)
	}
	if len(ids) == 0 {
		return []knowledge.Document{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("document redis store: list records: %w", err)
	}
	out := make([]knowledge.Document, 0, len(values))
	for i, raw := range values {
		str, ok := raw.(string)
		if !ok {
			// index entry without a record; skipped until the next reset
			continue
		}
		var doc knowledge.Document
		if err := json.Unmarshal([]byte(str), &doc); err != nil {
			return nil, fmt.Errorf("document redis store: decode %s: %w", ids[i], err)
		}
		out = append(out, doc)
	}
	SortNewestFirst(out)
	return out, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*knowledge.Document, error) {
	raw, err := s.client.Get(ctx, s.recordKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("document redis store: get %s: %w", id, err)
	}
	var doc knowledge.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("document redis store: decode %s: %w", id, err)
	}
	return &doc, nil
}

func (s *RedisStore) DeleteAll(ctx context.Context) (int, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("document redis store: read index: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.recordKey(id))
	}
	var removed *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, keys...)
		pipe.Del(ctx, s.indexKey())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("document redis store: delete all: %w", err)
	}
	return int(removed.Val()), nil
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisStore) Close(context.Context) error {
	return nil
}
