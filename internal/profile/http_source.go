package profile

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPSource fetches profile attributes from an external profile service.
type HTTPSource struct {
	client *resty.Client
}

// NewHTTPSource creates a source for the profile service at baseURL.
// The service is expected to answer GET /v0/users/{id}/profile with a flat
// JSON object of attributes.
func NewHTTPSource(baseURL string) *HTTPSource {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(10 * time.Second)
	return &HTTPSource{client: c}
}

type profileResponse struct {
	Attributes map[string]string `json:"attributes"`
}

func (s *HTTPSource) Fetch(ctx context.Context, userID string) (map[string]string, error) {
	var out profileResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetPathParam("userId", userID).
		Get("/v0/users/{userId}/profile")
	if err != nil {
		return nil, fmt.Errorf("profile request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("profile service status %d", resp.StatusCode())
	}
	if out.Attributes == nil {
		return map[string]string{}, nil
	}
	return out.Attributes, nil
}

// HealthPing checks service reachability.
func (s *HTTPSource) HealthPing(ctx context.Context) error {
	resp, err := s.client.R().SetContext(ctx).Get("/v0/health")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("profile service status %d", resp.StatusCode())
	}
	return nil
}
