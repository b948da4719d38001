package params

import (
	"math"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseListQuery(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ListQuery
	}{
		{"defaults", "", ListQuery{Page: 1}},
		{"search and page", "search=pho&page=3", ListQuery{Search: "pho", Page: 3}},
		{"page zero normalizes", "page=0", ListQuery{Page: 1}},
		{"negative page normalizes", "page=-4", ListQuery{Page: 1}},
		{"garbage page normalizes", "page=abc", ListQuery{Page: 1}},
		{"page beyond int normalizes", "page=99999999999999999999999", ListQuery{Page: 1}},
		{"type null", "type_id=null", ListQuery{Page: 1, Type: TypeFilter{Kind: TypeNull}}},
		{"type id", "type_id=7", ListQuery{Page: 1, Type: TypeFilter{Kind: TypeEquals, ID: 7}}},
		{"garbage type is unspecified", "type_id=seven", ListQuery{Page: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.raw)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, ParseListQuery(q))
		})
	}
}

func TestPaginationMeta(t *testing.T) {
	p := NewPagination(3, 10)
	assert.Equal(t, 20, p.Offset())
	assert.Equal(t, 10, p.Limit())

	for total, pages := range map[int]int{0: 0, 1: 1, 10: 1, 11: 2, 25: 3, 30: 3} {
		p.ComputeMeta(total)
		assert.Equal(t, total, p.TotalItems)
		assert.Equal(t, pages, p.TotalPages, "total=%d", total)
	}
}

func TestNewPaginationNormalizes(t *testing.T) {
	p := NewPagination(0, 0)
	assert.Equal(t, 1, p.CurrentPage)
	assert.Equal(t, DefaultItemsPerPage, p.ItemsPerPage)
	assert.Equal(t, 0, p.Offset())
}

func TestHugePageOffsetDoesNotWrap(t *testing.T) {
	q, err := url.ParseQuery("page=1844674407370955162")
	assert.NoError(t, err)
	lq := ParseListQuery(q)
	assert.Equal(t, 1844674407370955162, lq.Page)

	for _, size := range []int{1, 3, DefaultItemsPerPage, 1000} {
		p := NewPagination(lq.Page, size)
		assert.Positive(t, p.Offset(), "size=%d", size)
		assert.LessOrEqual(t, p.CurrentPage, math.MaxInt/size)
	}

	p := NewPagination(math.MaxInt, DefaultItemsPerPage)
	assert.Equal(t, math.MaxInt/DefaultItemsPerPage, p.CurrentPage)
	assert.Equal(t, (math.MaxInt/DefaultItemsPerPage-1)*DefaultItemsPerPage, p.Offset())
}
