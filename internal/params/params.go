package params

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

// DefaultItemsPerPage is the page size used when none is configured.
const DefaultItemsPerPage = 10

// URL: /api/products?search=pho&page=2&type_id=3
// → ParseListQuery() → ListQuery{Search:"pho", Page:2, Type:TypeFilter{Kind:TypeEquals, ID:3}}
// → Pagination{ItemsPerPage:10, CurrentPage:2}, Offset() == 10
// → SQL: SELECT ... LIMIT 10 OFFSET 10 and SELECT COUNT(*) with the same WHERE
// → ComputeMeta(total) fills TotalItems and TotalPages
// Pagination holds pagination info and computed metadata.
type Pagination struct {
	TotalItems   int `json:"total_items"`    // Total items matching the filter
	ItemsPerPage int `json:"items_per_page"` // Items per page
	CurrentPage  int `json:"current_page"`   // Current page number, 1-based
	TotalPages   int `json:"total_pages"`    // Total pages available
}

// NewPagination normalizes page to >= 1 and itemsPerPage to a positive size.
// Pages past the last representable offset are capped so Offset never wraps.
func NewPagination(page, itemsPerPage int) Pagination {
	if page < 1 {
		page = 1
	}
	if itemsPerPage <= 0 {
		itemsPerPage = DefaultItemsPerPage
	}
	if maxPage := math.MaxInt / itemsPerPage; page > maxPage {
		page = maxPage
	}
	return Pagination{ItemsPerPage: itemsPerPage, CurrentPage: page}
}

// Limit is the SQL LIMIT value.
func (p Pagination) Limit() int {
	return p.ItemsPerPage
}

// Offset is the SQL OFFSET value.
func (p Pagination) Offset() int {
	return (p.CurrentPage - 1) * p.ItemsPerPage
}

// ComputeMeta updates pagination after fetching total count.
func (p *Pagination) ComputeMeta(total int) {
	p.TotalItems = total
	p.TotalPages = (total + p.ItemsPerPage - 1) / p.ItemsPerPage
}

type TypeFilterKind int

const (
	TypeUnspecified TypeFilterKind = iota
	TypeNull
	TypeEquals
)

// TypeFilter restricts products by their product type reference.
type TypeFilter struct {
	Kind TypeFilterKind
	ID   int64
}

// ListQuery is the parsed form of ?search=&page=&type_id=.
type ListQuery struct {
	Search string
	Page   int
	Type   TypeFilter
}

// ParseListQuery parses the list query string. It never fails: a missing or
// unparsable page becomes 1 and an unparsable type_id means no type filter.
// Careful, keys are case sensitive.
func ParseListQuery(q url.Values) ListQuery {
	lq := ListQuery{
		Search: q.Get("search"),
		Page:   1,
	}

	if pageStr := strings.TrimSpace(q.Get("page")); pageStr != "" {
		if page, err := strconv.Atoi(pageStr); err == nil && page > 0 {
			lq.Page = page
		}
	}

	lq.Type = ParseTypeFilter(q.Get("type_id"))
	return lq
}

// ParseTypeFilter maps "" to unspecified, "null" to an explicit null filter and
// an integer to an equality filter. Anything else is treated as unspecified.
func ParseTypeFilter(raw string) TypeFilter {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return TypeFilter{}
	case strings.EqualFold(raw, "null"):
		return TypeFilter{Kind: TypeNull}
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return TypeFilter{}
	}
	return TypeFilter{Kind: TypeEquals, ID: id}
}
