package vectordb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"

	"github.com/compozy/policyrag/engine/core"
)

// redisStore keeps vectors in a Redis vector set (VADD/VSIM). Text and
// metadata live in the element attributes as JSON.
type redisStore struct {
	client    *redis.Client
	setKey    string
	dimension int
	maxTopK   int
}

const (
	redisTextAttrKey      = "text"
	redisMetadataAttrKey  = "_metadata"
	redisMetadataPrefix   = "meta_"
	redisDefaultVectorKey = "policyrag:vectors"
)

func newRedisStore(ctx context.Context, cfg *Config) (Store, error) {
	opt, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("redis vector_db %q: invalid dsn: %w", cfg.ID, err)
	}
	opt.Protocol = 3
	opt.UnstableResp3 = true
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis vector_db %q: ping failed: %w", cfg.ID, err)
	}
	return &redisStore{
		client:    client,
		setKey:    redisVectorKey(cfg),
		dimension: cfg.Dimension,
		maxTopK:   cfg.MaxTopK,
	}, nil
}

func redisVectorKey(cfg *Config) string {
	for _, candidate := range []string{cfg.Table, cfg.Namespace} {
		if key := sanitizeRedisKey(candidate); key != "" {
			return key + ":vectors"
		}
	}
	return redisDefaultVectorKey
}

func sanitizeRedisKey(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ':', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_:-")
}

func (r *redisStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if err := checkDimension("redis", records[i].ID, len(records[i].Embedding), r.dimension); err != nil {
			return err
		}
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := range records {
			rec := &records[i]
			pipe.VAdd(ctx, r.setKey, rec.ID, &redis.VectorValues{Val: float32ToFloat64(rec.Embedding)})
			pipe.VSetAttr(ctx, r.setKey, rec.ID, redisAttributes(rec))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: upsert %d vectors: %w", len(records), err)
	}
	return nil
}

func (r *redisStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkDimension("redis", "", len(query), r.dimension); err != nil {
		return nil, err
	}
	scored, err := r.client.VSimWithArgsWithScores(ctx, r.setKey,
		&redis.VectorValues{Val: float32ToFloat64(query)},
		&redis.VSimArgs{
			Count:  int64(resolveTopK(opts.TopK, r.maxTopK)),
			Filter: redisFilter(opts.Filters),
		},
	).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis: similarity search: %w", err)
	}
	kept := scored[:0]
	for _, item := range scored {
		if item.Score >= opts.MinScore {
			kept = append(kept, item)
		}
	}
	if len(kept) == 0 {
		return nil, nil
	}
	names := make([]string, len(kept))
	for i := range kept {
		names[i] = kept[i].Name
	}
	attrs, err := r.attributes(ctx, names)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(kept))
	for _, item := range kept {
		raw, ok := attrs[item.Name]
		if !ok {
			continue
		}
		text, metadata, err := decodeRedisAttributes(raw)
		if err != nil {
			return nil, fmt.Errorf("redis: attributes of %q: %w", item.Name, err)
		}
		matches = append(matches, Match{ID: item.Name, Score: item.Score, Text: text, Metadata: metadata})
	}
	return matches, nil
}

// attributes fetches the attribute JSON of each element in one round trip.
// Elements removed since the search are absent from the result.
func (r *redisStore) attributes(ctx context.Context, names []string) (map[string]string, error) {
	cmds := make([]*redis.StringCmd, len(names))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, name := range names {
			cmds[i] = pipe.VGetAttr(ctx, r.setKey, name)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: fetch attributes: %w", err)
	}
	out := make(map[string]string, len(names))
	for i, cmd := range cmds {
		raw, err := cmd.Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return nil, fmt.Errorf("redis: attributes of %q: %w", names[i], err)
		case raw != "":
			out[names[i]] = raw
		}
	}
	return out, nil
}

func (r *redisStore) Delete(ctx context.Context, filter Filter) error {
	ids := make(map[string]struct{}, len(filter.IDs))
	for _, id := range filter.IDs {
		if id = strings.TrimSpace(id); id != "" {
			ids[id] = struct{}{}
		}
	}
	if len(filter.Metadata) > 0 {
		matched, err := r.idsMatching(ctx, filter.Metadata)
		if err != nil {
			return err
		}
		for _, id := range matched {
			ids[id] = struct{}{}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for id := range ids {
			pipe.VRem(ctx, r.setKey, id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: remove %d vectors: %w", len(ids), err)
	}
	return nil
}

// idsMatching runs a filtered VSIM over the whole set. The zero query vector
// only serves to satisfy the command; ranking is irrelevant here.
func (r *redisStore) idsMatching(ctx context.Context, metadata map[string]string) ([]string, error) {
	total, err := r.Count(ctx)
	if err != nil || total == 0 {
		return nil, err
	}
	names, err := r.client.VSimWithArgs(ctx, r.setKey,
		&redis.VectorValues{Val: make([]float64, r.dimension)},
		&redis.VSimArgs{Count: int64(total), Filter: redisFilter(metadata)},
	).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis: metadata filter query: %w", err)
	}
	return names, nil
}

// DeleteAll drops the whole vector set key.
func (r *redisStore) DeleteAll(ctx context.Context) (int, error) {
	total, err := r.Count(ctx)
	if err != nil {
		return 0, err
	}
	if err := r.client.Del(ctx, r.setKey).Err(); err != nil {
		return 0, fmt.Errorf("redis: drop %s: %w", r.setKey, err)
	}
	return total, nil
}

func (r *redisStore) Count(ctx context.Context) (int, error) {
	n, err := r.client.VCard(ctx, r.setKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("redis: vcard %s: %w", r.setKey, err)
	}
	return int(n), nil
}

func (r *redisStore) Close(context.Context) error {
	return r.client.Close()
}

func float32ToFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

// redisAttributes is the JSON attribute document stored per element. Filter
// fields are flattened into meta_* keys because VSIM FILTER expressions only
// address top level attributes.
func redisAttributes(record *Record) map[string]any {
	meta := core.CloneMap(record.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	attrs := map[string]any{
		redisTextAttrKey:     record.Text,
		redisMetadataAttrKey: meta,
	}
	for key, value := range meta {
		attrs[filterField(key)] = fmt.Sprint(value)
	}
	return attrs
}

var filterFieldReplacer = strings.NewReplacer(":", "_", "-", "_")

func filterField(key string) string {
	clean := filterFieldReplacer.Replace(sanitizeRedisKey(key))
	if clean == "" {
		return redisMetadataPrefix + "unknown"
	}
	return redisMetadataPrefix + clean
}

var filterValueEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func redisFilter(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	clauses := make([]string, len(keys))
	for i, key := range keys {
		clauses[i] = fmt.Sprintf(`.%s == "%s"`, filterField(key), filterValueEscaper.Replace(filters[key]))
	}
	return strings.Join(clauses, " && ")
}

func decodeRedisAttributes(payload string) (string, map[string]any, error) {
	meta := map[string]any{}
	if strings.TrimSpace(payload) == "" {
		return "", meta, nil
	}
	if !gjson.Valid(payload) {
		return "", nil, errors.New("invalid attribute json")
	}
	doc := gjson.Parse(payload)
	if m, ok := doc.Get(redisMetadataAttrKey).Value().(map[string]any); ok {
		meta = m
	}
	return doc.Get(redisTextAttrKey).String(), meta, nil
}
