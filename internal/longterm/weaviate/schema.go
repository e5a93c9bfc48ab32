package weaviate

import (
	"context"
	"fmt"
	"time"

	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Bootstrap ensures the ConversationRecord class exists. Vectorizer is
// "none" because vectors are computed client-side by the embedding
// provider.
func Bootstrap(ctx context.Context, baseURL string) error {
	cfg := weaviate.Config{Scheme: "http", Host: baseURL}
	cl, err := weaviate.NewClient(cfg)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	desired := &models.Class{
		Class:      className,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "recordId", DataType: []string{"uuid"}},
			{Name: "userId", DataType: []string{"text"}},
			{Name: "category", DataType: []string{"text"}},
			{Name: "role", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "metadata", DataType: []string{"text"}},
			{Name: "creationTime", DataType: []string{"date"}},
		},
	}

	ex, err := cl.Schema().ClassGetter().WithClassName(className).Do(cctx)
	if err == nil && ex != nil {
		return nil
	}
	if err := cl.Schema().ClassCreator().WithClass(desired).Do(cctx); err != nil {
		return fmt.Errorf("create class %s: %w", className, err)
	}
	return nil
}
