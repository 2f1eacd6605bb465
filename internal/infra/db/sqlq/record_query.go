// Package sqlq builds the record browse SQL shared by the postgres and
// sqlite repositories.
package sqlq

import (
	"fmt"
	"strings"

	"subsearch-pipeline/internal/domain/model"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect struct {
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Like is the case-insensitive pattern operator.
	Like string
}

var (
	Postgres = Dialect{Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) }, Like: "ILIKE"}
	SQLite   = Dialect{Placeholder: func(int) string { return "?" }, Like: "LIKE"}
)

// RecordColumns is the select list matching ScanRecord implementations.
const RecordColumns = `key, name, title, description, url, subscribers, nsfw, unmoderated, mod_count,
last_activity_at, source, keyword, job_id, first_seen_at, updated_at`

var sortColumns = map[model.SortField]string{
	model.SortSubscribers: "subscribers",
	model.SortUpdatedAt:   "updated_at",
	model.SortFirstSeenAt: "first_seen_at",
	model.SortName:        "name",
	model.SortTitle:       "title",
}

// Builder accumulates WHERE conditions and their arguments.
type Builder struct {
	d     Dialect
	conds []string
	args  []interface{}
}

func New(d Dialect) *Builder { return &Builder{d: d} }

func (b *Builder) arg(v interface{}) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

// Keyword matches name, title or description containing kw.
func (b *Builder) Keyword(kw string) *Builder {
	kw = strings.TrimSpace(kw)
	if kw == "" {
		return b
	}
	pattern := "%" + escapeLike(kw) + "%"
	var parts []string
	for _, col := range []string{"name", "title", "description"} {
		parts = append(parts, fmt.Sprintf(`%s %s %s ESCAPE '\'`, col, b.d.Like, b.arg(pattern)))
	}
	b.conds = append(b.conds, "("+strings.Join(parts, " OR ")+")")
	return b
}

// Filters applies the flag and subscriber bounds of q.
func (b *Builder) Filters(q model.RecordQuery) *Builder {
	if q.Unmoderated != nil {
		b.conds = append(b.conds, "unmoderated = "+b.arg(*q.Unmoderated))
	}
	if q.NSFW != nil {
		b.conds = append(b.conds, "nsfw = "+b.arg(*q.NSFW))
	}
	if q.MinSubscribers != nil {
		b.conds = append(b.conds, "subscribers >= "+b.arg(*q.MinSubscribers))
	}
	if q.MaxSubscribers != nil {
		b.conds = append(b.conds, "subscribers <= "+b.arg(*q.MaxSubscribers))
	}
	return b
}

func (b *Builder) Where() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

func (b *Builder) Args() []interface{} { return b.args }

// Count returns the total-rows statement for the accumulated filter.
func (b *Builder) Count() string {
	return "SELECT count(*) FROM records" + b.Where()
}

// Page returns the paged select for q. q must be normalised. Ties are
// broken by key so pagination is stable.
func (b *Builder) Page(q model.RecordQuery) (string, []interface{}) {
	col, ok := sortColumns[q.Sort]
	if !ok {
		col = "subscribers"
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	sql := fmt.Sprintf("SELECT %s FROM records%s ORDER BY %s %s, key ASC LIMIT %s OFFSET %s",
		RecordColumns, b.Where(), col, dir, b.arg(q.PageSize), b.arg(q.Offset()))
	return sql, b.args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
