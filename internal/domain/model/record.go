package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Record is a discovered external entity keyed by its natural identifier.
type Record struct {
	Key            string     `json:"key"`
	Name           string     `json:"name"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	URL            string     `json:"url,omitempty"`
	Subscribers    int64      `json:"subscribers"`
	NSFW           bool       `json:"nsfw"`
	Unmoderated    bool       `json:"unmoderated"`
	ModCount       *int       `json:"mod_count,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`

	// Provenance
	Source  string `json:"source,omitempty"`
	Keyword string `json:"keyword,omitempty"`
	JobID   string `json:"job_id,omitempty"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NaturalKey normalises a provider name into the store key.
func NaturalKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Normalize fills derived fields and trims oversized text. It returns false
// when the record has no usable key.
func (r *Record) Normalize() bool {
	r.Name = strings.TrimSpace(r.Name)
	if r.Key == "" {
		r.Key = NaturalKey(r.Name)
	}
	if r.Key == "" {
		return false
	}
	if r.Name == "" {
		r.Name = r.Key
	}
	if r.Title == "" {
		r.Title = r.Name
	}
	if r.ModCount != nil {
		r.Unmoderated = *r.ModCount == 0
	}
	if r.Subscribers < 0 {
		r.Subscribers = 0
	}
	r.Keyword = truncate(r.Keyword, 128)
	r.Source = truncate(r.Source, 64)
	r.Title = truncate(r.Title, 512)
	return true
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// DedupeRecords keeps the last occurrence of every key, preserving the order
// of first appearance.
func DedupeRecords(in []Record) []Record {
	if len(in) < 2 {
		return in
	}
	idx := make(map[string]int, len(in))
	out := make([]Record, 0, len(in))
	for _, r := range in {
		if i, ok := idx[r.Key]; ok {
			out[i] = r
			continue
		}
		idx[r.Key] = len(out)
		out = append(out, r)
	}
	return out
}

// UpsertResult counts what a batch upsert did.
type UpsertResult struct {
	Inserted int
	Updated  int
}

func (u UpsertResult) Total() int { return u.Inserted + u.Updated }

type SortField string

const (
	SortSubscribers SortField = "subscribers"
	SortUpdatedAt   SortField = "updated_at"
	SortFirstSeenAt SortField = "first_seen_at"
	SortName        SortField = "name"
	SortTitle       SortField = "title"
)

// RecordQuery describes a browse request against the store.
type RecordQuery struct {
	Q              string
	Unmoderated    *bool
	NSFW           *bool
	MinSubscribers *int64
	MaxSubscribers *int64

	Sort     SortField
	Desc     bool
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Normalize clamps paging and falls back to the subscriber sort.
func (q *RecordQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	switch q.Sort {
	case SortSubscribers, SortUpdatedAt, SortFirstSeenAt, SortName, SortTitle:
	default:
		q.Sort = SortSubscribers
		q.Desc = true
	}
}

func (q RecordQuery) Offset() int { return (q.Page - 1) * q.PageSize }

type RecordPage struct {
	Rows     []Record `json:"rows"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

type StoreStats struct {
	TotalRecords int        `json:"total_records"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
}
