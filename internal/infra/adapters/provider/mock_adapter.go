package provider

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Provider = (*MockAdapter)(nil)

// MockAdapter produces synthetic listings for demos and tests. Output is a
// pure function of (seed, keyword, page) so reruns are deterministic.
type MockAdapter struct {
	seed    int64
	pages   int
	latency time.Duration
	baseURL string
}

type MockAdapterOptions struct {
	Seed    int64         // 0 keeps output stable across processes
	Pages   int           // pages per listing before the cursor runs out
	Latency time.Duration // synthetic per-page latency
}

func NewMockAdapter(opts MockAdapterOptions) *MockAdapter {
	pages := opts.Pages
	if pages <= 0 {
		pages = 5
	}
	return &MockAdapter{
		seed:    opts.Seed,
		pages:   pages,
		latency: opts.Latency,
		baseURL: "https://listing.invalid",
	}
}

func (m *MockAdapter) Name() string { return "mock" }

func (m *MockAdapter) FetchPage(ctx context.Context, q adapter.PageQuery) (adapter.Page, error) {
	page := 0
	if q.Cursor != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(q.Cursor, "p"))
		if err != nil {
			return adapter.Page{}, fmt.Errorf("bad cursor %q", q.Cursor)
		}
		page = n
	}
	if m.latency > 0 {
		t := time.NewTimer(m.latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return adapter.Page{}, ctx.Err()
		case <-t.C:
		}
	}
	size := q.PageSize
	if size <= 0 {
		size = 10
	}
	kw := strings.ToLower(strings.TrimSpace(q.Keyword))
	stem := kw
	if stem == "" {
		stem = "new"
	}

	r := rand.New(rand.NewSource(int64(fnv64(stem+"|"+strconv.Itoa(page))) ^ m.seed))
	out := adapter.Page{Items: make([]model.Record, 0, size)}
	for i := 0; i < size; i++ {
		name := fmt.Sprintf("%s_%d_%d", stem, page, i)
		mods := int(r.Int31n(4))
		last := time.Unix(1_700_000_000+int64(r.Int31n(30_000_000)), 0).UTC()
		rec := model.Record{
			Name:           name,
			Title:          fmt.Sprintf("%s community %d", stem, page*size+i),
			URL:            m.baseURL + "/c/" + name,
			Subscribers:    int64(r.Int31n(100_000)),
			NSFW:           r.Int31n(10) == 0,
			ModCount:       &mods,
			LastActivityAt: &last,
			Source:         m.Name(),
		}
		rec.Normalize()
		out.Items = append(out.Items, rec)
	}
	if page+1 < m.pages {
		out.NextCursor = "p" + strconv.Itoa(page+1)
	}
	return out, nil
}

// fnv64 returns a simple 64-bit hash for deterministic mock data.
func fnv64(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
