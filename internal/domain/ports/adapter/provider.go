package adapter

import (
	"context"

	"subsearch-pipeline/internal/domain/model"
)

// PageQuery asks the provider for one page of results. An empty Keyword walks
// the provider's newest listing instead of searching.
type PageQuery struct {
	Keyword  string
	Cursor   string
	PageSize int
}

// Page is one provider page. NextCursor is empty on the last page.
type Page struct {
	Items      []model.Record
	NextCursor string
}

// Provider is the port for the paginated external listing API.
// Errors are *domain.ProviderError classified as transient or fatal.
type Provider interface {
	Name() string
	FetchPage(ctx context.Context, q PageQuery) (Page, error)
}

// RateLimiter grants calls to the shared provider budget. Acquire blocks until
// at least the configured delay has passed since the previous grant.
type RateLimiter interface {
	Acquire(ctx context.Context) error
}

// WordSource yields a random keyword for idle discovery.
type WordSource interface {
	RandomWord(ctx context.Context) (string, error)
}
