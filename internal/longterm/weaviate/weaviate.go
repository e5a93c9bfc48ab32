// Package weaviate implements the long-term store on a Weaviate search
// index using hybrid (keyword + vector) retrieval.
package weaviate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	filters "github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	gql "github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/companionlabs/companion-memory/internal/embeddings"
	"github.com/companionlabs/companion-memory/internal/longterm"
	"github.com/companionlabs/companion-memory/internal/model"
)

const (
	className = "ConversationRecord"

	// hybridAlpha balances vector similarity against BM25 keyword match.
	hybridAlpha = 0.6

	// deleteBatch bounds how many object ids a single clear pass lists.
	deleteBatch = 500
)

// Store indexes conversation records in Weaviate. Vectors are produced
// by the injected embedding provider at write and query time.
type Store struct {
	client   *weaviate.Client
	embedder embeddings.Provider
	baseURL  string // host:port without scheme
}

var _ longterm.Store = (*Store)(nil)

// New constructs a Store talking to Weaviate at baseURL. baseURL should
// be host:port without scheme, e.g. "localhost:8080".
func New(baseURL string, embedder embeddings.Provider) (*Store, error) {
	cfg := weaviate.Config{Scheme: "http", Host: baseURL}
	cl, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{client: cl, embedder: embedder, baseURL: baseURL}, nil
}

func (s *Store) AddMessage(ctx context.Context, userID string, rec model.MemoryRecord) (string, error) {
	vec, err := s.embedder.Embed(ctx, rec.Content)
	if err != nil {
		return "", fmt.Errorf("embed record: %w", err)
	}

	id := rec.ID
	if _, perr := uuid.Parse(id); perr != nil {
		id = uuid.NewString()
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	payload := map[string]interface{}{
		"recordId":     id,
		"userId":       userID,
		"category":     string(rec.Category),
		"role":         string(rec.Role),
		"content":      rec.Content,
		"creationTime": ts.UTC().Format(time.RFC3339),
	}
	if len(rec.Metadata) > 0 {
		if b, merr := json.Marshal(rec.Metadata); merr == nil {
			payload["metadata"] = string(b)
		}
	}

	_, err = s.client.Data().Creator().
		WithClassName(className).
		WithID(id).
		WithProperties(payload).
		WithVector(vec).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("weaviate upsert: %w", err)
	}
	return id, nil
}

func (s *Store) SearchRelevant(ctx context.Context, userID, query string, category *model.Category, k int) ([]model.SearchHit, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hy := (&gql.HybridArgumentBuilder{}).
		WithQuery(query).
		WithVector(vec).
		WithAlpha(hybridAlpha).
		WithProperties([]string{"content"})

	req := s.client.GraphQL().Get().
		WithClassName(className).
		WithWhere(s.scopeFilter(userID, category)).
		WithHybrid(hy).
		WithLimit(k).
		WithFields(
			gql.Field{Name: "recordId"},
			gql.Field{Name: "category"},
			gql.Field{Name: "content"},
			gql.Field{Name: "_additional", Fields: []gql.Field{{Name: "score"}}},
		)

	resp, err := req.Do(ctx)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("weaviate search failed")
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql: %s", formatGraphQLErrors(resp.Errors))
	}

	getData, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	raw, ok := getData[className].([]interface{})
	if !ok || len(raw) == 0 {
		return []model.SearchHit{}, nil
	}

	out := make([]model.SearchHit, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		hit := model.SearchHit{
			RecordID: safeString(m["recordId"]),
			Category: model.Category(safeString(m["category"])),
			Content:  safeString(m["content"]),
			Score:    extractScore(m),
			Source:   model.SourceLongTerm,
		}
		out = append(out, hit)
	}
	log.Debug().Int("hits", len(out)).Str("userId", userID).Msg("weaviate search completed")
	return out, nil
}

func (s *Store) ClearByType(ctx context.Context, userID string, category *model.Category) (int, error) {
	deleted := 0
	for {
		req := s.client.GraphQL().Get().
			WithClassName(className).
			WithWhere(s.scopeFilter(userID, category)).
			WithLimit(deleteBatch).
			WithFields(gql.Field{Name: "recordId"})
		resp, err := req.Do(ctx)
		if err != nil {
			return deleted, err
		}
		if len(resp.Errors) > 0 {
			return deleted, fmt.Errorf("weaviate graphql: %s", formatGraphQLErrors(resp.Errors))
		}
		getData, ok := resp.Data["Get"].(map[string]interface{})
		if !ok {
			return deleted, nil
		}
		arr, ok := getData[className].([]interface{})
		if !ok || len(arr) == 0 {
			return deleted, nil
		}
		for _, item := range arr {
			id := safeString(item.(map[string]interface{})["recordId"])
			if id == "" {
				continue
			}
			if err := s.client.Data().Deleter().WithClassName(className).WithID(id).Do(ctx); err != nil {
				return deleted, err
			}
			deleted++
		}
		if len(arr) < deleteBatch {
			return deleted, nil
		}
	}
}

// scopeFilter builds the where clause restricting results to one user
// and optionally one category.
func (s *Store) scopeFilter(userID string, category *model.Category) *filters.WhereBuilder {
	user := filters.Where().WithPath([]string{"userId"}).WithOperator(filters.Equal).WithValueText(userID)
	if category == nil {
		return user
	}
	cat := filters.Where().WithPath([]string{"category"}).WithOperator(filters.Equal).WithValueText(string(*category))
	return filters.Where().WithOperator(filters.And).WithOperands([]*filters.WhereBuilder{user, cat})
}

// HealthPing implements health.HealthPinger against GET /v1/meta.
func (s *Store) HealthPing(ctx context.Context) error {
	if s == nil || s.baseURL == "" {
		return fmt.Errorf("weaviate baseURL missing")
	}
	url := s.baseURL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/v1/meta", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("weaviate status %d", resp.StatusCode)
	}
	return nil
}

func safeString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func extractScore(m map[string]interface{}) float64 {
	add, ok := m["_additional"].(map[string]interface{})
	if !ok {
		return 0
	}
	switch v := add["score"].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func formatGraphQLErrors(errs interface{}) string {
	if b, err := json.Marshal(errs); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", errs)
}
