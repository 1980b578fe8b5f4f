package core

import (
	"context"

	"github.com/coregx/tabula/internal/builder"
	"github.com/coregx/tabula/internal/mapper"
)

// Page is one offset-paginated slice of a result set.
type Page struct {
	Items   []*mapper.Record `json:"items"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
	Total   int64            `json:"total"`
	Pages   int              `json:"pages"`
}

// CursorOptions control keyset pagination.
type CursorOptions struct {
	// Page is the 1-based page number reported back in the metadata.
	Page int
	// PerPage is the page size.
	PerPage int
	// Cursor is the primary key of the last row already seen; nil
	// starts at the top.
	Cursor any
}

// CursorMeta describes the position of a cursor page.
type CursorMeta struct {
	Page        int   `json:"page"`
	PerPage     int   `json:"per_page"`
	HasNextPage bool  `json:"has_next_page"`
	NextCursor  any   `json:"next_cursor"`
	TotalCount  int64 `json:"total_count"`
}

// CursorPage is one keyset-paginated slice of a result set.
type CursorPage struct {
	Data []*mapper.Record `json:"data"`
	Meta CursorMeta       `json:"meta"`
}

// Paginate returns page (1-based) with perPage rows, ordered by
// primary key. Page and perPage floor at 1; Total counts every visible
// row and Pages rounds up.
func (r *Repository) Paginate(ctx context.Context, page, perPage int) (*Page, error) {
	pk, err := r.entity.primary()
	if err != nil {
		return nil, err
	}
	q, mappings, err := r.selectQuery()
	if err != nil {
		return nil, err
	}
	q.OrderBy(r.qualify(pk.Name), "ASC")
	return r.paginate(ctx, q, mappings, page, perPage)
}

// PaginateWith pages an arbitrary query; its filters and joins shape
// both the rows and the total. The caller owns ordering.
func (r *Repository) PaginateWith(ctx context.Context, q *builder.Query, page, perPage int) (*Page, error) {
	mappings, err := r.mappings()
	if err != nil {
		return nil, err
	}
	return r.paginate(ctx, q.Clone(), mappings, page, perPage)
}

func (r *Repository) paginate(ctx context.Context, q *builder.Query, mappings []mapper.Mapping, page, perPage int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}

	total, err := r.count(ctx, q)
	if err != nil {
		return nil, err
	}

	q.Limit(perPage).Offset((page - 1) * perPage)
	items, err := r.fetch(ctx, q, mappings)
	if err != nil {
		return nil, err
	}

	pages := int((total + int64(perPage) - 1) / int64(perPage))
	return &Page{Items: items, Page: page, PerPage: perPage, Total: total, Pages: pages}, nil
}

// PaginateWithAdvanced pages an arbitrary query by keyset: rows past
// the cursor in primary-key order, one row over the page size to learn
// whether more follow. The total ignores the cursor bound.
func (r *Repository) PaginateWithAdvanced(ctx context.Context, q *builder.Query, opts CursorOptions) (*CursorPage, error) {
	pk, err := r.entity.primary()
	if err != nil {
		return nil, err
	}
	mappings, err := r.mappings()
	if err != nil {
		return nil, err
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PerPage < 1 {
		opts.PerPage = 1
	}

	total, err := r.count(ctx, q)
	if err != nil {
		return nil, err
	}

	window := q.Clone()
	if opts.Cursor != nil {
		window.After(pk.Name, opts.Cursor)
	}
	window.OrderBy(pk.Name, "ASC").Limit(opts.PerPage + 1)

	rows, err := r.fetch(ctx, window, mappings)
	if err != nil {
		return nil, err
	}

	hasNext := len(rows) > opts.PerPage
	if hasNext {
		rows = rows[:opts.PerPage]
	}
	meta := CursorMeta{
		Page:        opts.Page,
		PerPage:     opts.PerPage,
		HasNextPage: hasNext,
		TotalCount:  total,
	}
	if hasNext && len(rows) > 0 {
		meta.NextCursor = cursorValue(rows[len(rows)-1], pk.Name)
	}
	return &CursorPage{Data: rows, Meta: meta}, nil
}

// cursorValue extracts the pageable primary-key value of a record,
// numeric when it parses, raw text otherwise.
func cursorValue(rec *mapper.Record, pk string) any {
	if n, ok := rec.Int(pk); ok {
		return n
	}
	if s, ok := rec.String(pk); ok {
		return s
	}
	return nil
}
