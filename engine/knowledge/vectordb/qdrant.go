package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"

	"github.com/compozy/policyrag/engine/core"
)

// qdrantStore talks to the Qdrant REST API. Chunk IDs are uuids, which is
// what Qdrant requires for string point IDs.
type qdrantStore struct {
	client     *http.Client
	endpoint   string
	collection string
	dimension  int
	maxTopK    int
	distance   string
	apiKey     string
	attempts   uint64
}

const (
	qdrantDefaultTimeout = 10 * time.Second
	qdrantTextKey        = "text"
	qdrantAttempts       = 3
	qdrantBackoff        = 100 * time.Millisecond
)

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type qdrantCreateCollection struct {
	Vectors qdrantVectorParams `json:"vectors"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type qdrantMatch struct {
	Key   string `json:"key"`
	Match struct {
		Value string `json:"value"`
	} `json:"match"`
}

type qdrantFilter struct {
	Must []qdrantMatch `json:"must"`
}

type qdrantSearchRequest struct {
	Vector      []float32     `json:"vector"`
	Limit       int           `json:"limit"`
	WithPayload bool          `json:"with_payload"`
	Filter      *qdrantFilter `json:"filter,omitempty"`
}

type qdrantDeleteRequest struct {
	Points []string      `json:"points,omitempty"`
	Filter *qdrantFilter `json:"filter,omitempty"`
}

func newQdrantStore(ctx context.Context, cfg *Config) (Store, error) {
	collection := cfg.Table
	if collection == "" {
		collection = sanitizeIdentifier(cfg.Namespace)
	}
	if collection == "" {
		collection = cfg.ID
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = qdrantDefaultTimeout
	}
	store := &qdrantStore{
		client:     &http.Client{Timeout: timeout},
		endpoint:   strings.TrimRight(cfg.DSN, "/"),
		collection: collection,
		dimension:  cfg.Dimension,
		maxTopK:    cfg.MaxTopK,
		distance:   qdrantDistance(cfg.Metric),
		apiKey:     cfg.APIKey,
		attempts:   qdrantAttempts,
	}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func qdrantDistance(metric string) string {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "euclid", "euclidean", "l2":
		return "Euclid"
	case "dot", "dotproduct", "ip":
		return "Dot"
	default:
		return "Cosine"
	}
}

func (q *qdrantStore) path(suffix string) string {
	return "/collections/" + url.PathEscape(q.collection) + suffix
}

func (q *qdrantStore) ensureCollection(ctx context.Context) error {
	status, _, err := q.call(ctx, http.MethodGet, q.path(""), nil)
	if err == nil {
		return nil
	}
	if status != http.StatusNotFound {
		return err
	}
	_, _, err = q.call(ctx, http.MethodPut, q.path(""), qdrantCreateCollection{
		Vectors: qdrantVectorParams{Size: q.dimension, Distance: q.distance},
	})
	return err
}

func toQdrantFilter(filters map[string]string) *qdrantFilter {
	if len(filters) == 0 {
		return nil
	}
	f := &qdrantFilter{Must: make([]qdrantMatch, 0, len(filters))}
	for key, val := range filters {
		m := qdrantMatch{Key: key}
		m.Match.Value = val
		f.Must = append(f.Must, m)
	}
	return f
}

func (q *qdrantStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]qdrantPoint, 0, len(records))
	for i := range records {
		rec := &records[i]
		if err := checkDimension("qdrant", rec.ID, len(rec.Embedding), q.dimension); err != nil {
			return err
		}
		payload := core.CloneMap(rec.Metadata)
		if payload == nil {
			payload = make(map[string]any, 1)
		}
		payload[qdrantTextKey] = rec.Text
		points = append(points, qdrantPoint{ID: rec.ID, Vector: rec.Embedding, Payload: payload})
	}
	_, _, err := q.call(ctx, http.MethodPut, q.path("/points?wait=true"), map[string]any{"points": points})
	return err
}

func (q *qdrantStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkDimension("qdrant", "", len(query), q.dimension); err != nil {
		return nil, err
	}
	_, body, err := q.call(ctx, http.MethodPost, q.path("/points/search"), qdrantSearchRequest{
		Vector:      query,
		Limit:       resolveTopK(opts.TopK, q.maxTopK),
		WithPayload: true,
		Filter:      toQdrantFilter(opts.Filters),
	})
	if err != nil {
		return nil, err
	}
	hits := gjson.GetBytes(body, "result").Array()
	matches := make([]Match, 0, len(hits))
	for _, hit := range hits {
		score := hit.Get("score").Float()
		if score < opts.MinScore {
			continue
		}
		payload, _ := hit.Get("payload").Value().(map[string]any)
		if payload == nil {
			payload = map[string]any{}
		}
		text, _ := payload[qdrantTextKey].(string)
		delete(payload, qdrantTextKey)
		matches = append(matches, Match{
			ID:       hit.Get("id").String(),
			Score:    score,
			Text:     text,
			Metadata: payload,
		})
	}
	return matches, nil
}

func (q *qdrantStore) Delete(ctx context.Context, filter Filter) error {
	req := qdrantDeleteRequest{Points: filter.IDs, Filter: toQdrantFilter(filter.Metadata)}
	if len(req.Points) == 0 && req.Filter == nil {
		return nil
	}
	_, _, err := q.call(ctx, http.MethodPost, q.path("/points/delete?wait=true"), req)
	return err
}

// DeleteAll drops and recreates the collection.
func (q *qdrantStore) DeleteAll(ctx context.Context) (int, error) {
	total, err := q.Count(ctx)
	if err != nil {
		return 0, err
	}
	if _, _, err := q.call(ctx, http.MethodDelete, q.path(""), nil); err != nil {
		return 0, err
	}
	if err := q.ensureCollection(ctx); err != nil {
		return 0, err
	}
	return total, nil
}

func (q *qdrantStore) Count(ctx context.Context) (int, error) {
	_, body, err := q.call(ctx, http.MethodPost, q.path("/points/count"), map[string]bool{"exact": true})
	if err != nil {
		return 0, err
	}
	return int(gjson.GetBytes(body, "result.count").Int()), nil
}

func (q *qdrantStore) Close(context.Context) error {
	q.client.CloseIdleConnections()
	return nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// call sends one JSON request, retrying transport failures and throttling or
// gateway statuses with exponential backoff.
func (q *qdrantStore) call(ctx context.Context, method, path string, in any) (int, []byte, error) {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return 0, nil, fmt.Errorf("qdrant: marshal request: %w", err)
		}
	}
	var (
		status int
		body   []byte
	)
	backoff := retry.WithMaxRetries(q.attempts-1, retry.NewExponential(qdrantBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		status, body, err = q.send(ctx, method, path, payload)
		if err != nil && (status == 0 || retryableStatus(status)) {
			return retry.RetryableError(err)
		}
		return err
	})
	return status, body, err
}

func (q *qdrantStore) send(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader = http.NoBody
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("qdrant: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if msg := gjson.GetBytes(body, "status.error").String(); msg != "" {
			return resp.StatusCode, body, fmt.Errorf("qdrant: %s %s (%d): %s", method, path, resp.StatusCode, msg)
		}
		return resp.StatusCode, body, fmt.Errorf("qdrant: %s %s failed with status %d", method, path, resp.StatusCode)
	}
	return resp.StatusCode, body, nil
}
