// Package provider contains connectors for the external listing API.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/adapter"
	"subsearch-pipeline/internal/infra/metrics"
)

var _ adapter.Provider = (*HTTPAdapter)(nil)

// HTTPAdapter talks to a listing API shaped like
//
//	GET {base}/search?q=...&limit=...&after=...   (keyword given)
//	GET {base}/new?limit=...&after=...            (no keyword)
//	  -> {"data":{"children":[{"data":{...}}],"after":"cursor"}}
type HTTPAdapter struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

type HTTPAdapterOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

func NewHTTPAdapter(opts HTTPAdapterOptions) (*HTTPAdapter, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("BaseURL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}
	to := opts.Timeout
	if to <= 0 {
		to = 20 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "subsearch-pipeline/1.0"
	}
	return &HTTPAdapter{
		baseURL:   strings.TrimRight(base, "/"),
		client:    &http.Client{Timeout: to},
		userAgent: ua,
	}, nil
}

func (a *HTTPAdapter) Name() string { return "http" }

type listingEnvelope struct {
	Data struct {
		Children []struct {
			Data listingItem `json:"data"`
		} `json:"children"`
		After string `json:"after"`
	} `json:"data"`
}

type listingItem struct {
	DisplayName       string   `json:"display_name"`
	Title             string   `json:"title"`
	PublicDescription string   `json:"public_description"`
	URL               string   `json:"url"`
	Subscribers       int64    `json:"subscribers"`
	Over18            bool     `json:"over18"`
	ModCount          *int     `json:"mod_count"`
	LastActivityUTC   *float64 `json:"last_activity_utc"`
}

func (a *HTTPAdapter) FetchPage(ctx context.Context, q adapter.PageQuery) (adapter.Page, error) {
	start := time.Now()
	path := "/new"
	params := url.Values{}
	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		path = "/search"
		params.Set("q", kw)
	}
	if q.PageSize > 0 {
		params.Set("limit", strconv.Itoa(q.PageSize))
	}
	if q.Cursor != "" {
		params.Set("after", q.Cursor)
	}

	body, err := a.doGET(ctx, a.baseURL+path+"?"+params.Encode())
	metrics.ObserveProviderLatency(a.Name(), time.Since(start).Milliseconds())
	if err != nil {
		return adapter.Page{}, err
	}

	var env listingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// a garbled body is usually a proxy error page
		return adapter.Page{}, domain.Transient(http.StatusOK, fmt.Errorf("listing payload parse: %w", err))
	}
	page := adapter.Page{NextCursor: env.Data.After, Items: make([]model.Record, 0, len(env.Data.Children))}
	for _, c := range env.Data.Children {
		if rec, ok := a.toRecord(c.Data); ok {
			page.Items = append(page.Items, rec)
		}
	}
	return page, nil
}

func (a *HTTPAdapter) toRecord(it listingItem) (model.Record, bool) {
	rec := model.Record{
		Name:        it.DisplayName,
		Title:       strings.TrimSpace(it.Title),
		Description: strings.TrimSpace(it.PublicDescription),
		URL:         strings.TrimSpace(it.URL),
		Subscribers: it.Subscribers,
		NSFW:        it.Over18,
		ModCount:    it.ModCount,
		Source:      a.Name(),
	}
	if it.LastActivityUTC != nil {
		t := time.Unix(int64(*it.LastActivityUTC), 0).UTC()
		rec.LastActivityAt = &t
	}
	if rec.URL != "" && strings.HasPrefix(rec.URL, "/") {
		rec.URL = a.baseURL + rec.URL
	}
	return rec, rec.Normalize()
}

func (a *HTTPAdapter) doGET(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, domain.Fatal(0, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()
	b, rerr := io.ReadAll(resp.Body)
	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	if rerr != nil {
		return nil, domain.Transient(resp.StatusCode, fmt.Errorf("read body: %w", rerr))
	}
	return b, nil
}

// classifyStatus maps an HTTP status to nil, a transient or a fatal error.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return domain.Transient(status, fmt.Errorf("http status %d", status))
	default:
		return domain.Fatal(status, fmt.Errorf("http status %d", status))
	}
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.Transient(0, err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return domain.Transient(0, err)
	}
	return domain.Fatal(0, err)
}
