package types

import "math"

// ResultMode tells callers whether page-based pagination applies to a result
type ResultMode string

const (
	// ModePaginated results come from browse or local filter paths
	ModePaginated ResultMode = "paginated"
	// ModeRankedTopK results are capped top-K lists without a stable cursor
	ModeRankedTopK ResultMode = "ranked-topk"
)

// SearchQuery is the parsed form of a raw query string
type SearchQuery struct {
	RawText        string
	Tokens         []string
	CategoryFilter *string // set when the query used the category: prefix
	Page           int
	PageSize       int
}

// Empty reports whether the query carries no filter at all
func (q SearchQuery) Empty() bool {
	return len(q.Tokens) == 0 && q.CategoryFilter == nil
}

// Offset returns the zero-based offset of the requested page
func (q SearchQuery) Offset() int {
	if q.Page < 1 || q.PageSize <= 0 {
		return 0
	}
	if q.Page-1 > math.MaxInt/q.PageSize {
		return math.MaxInt
	}
	return (q.Page - 1) * q.PageSize
}

// SearchResultPage is one page (or top-K list) of records
type SearchResultPage struct {
	Items      []ReferenceRecord
	TotalCount int
	Mode       ResultMode
}

// HasMore reports whether another page exists after page. Always false for
// ranked results.
func (p *SearchResultPage) HasMore(page, pageSize int) bool {
	if p == nil || p.Mode != ModePaginated || pageSize <= 0 {
		return false
	}
	if page < 1 {
		return p.TotalCount > 0
	}
	return page < (p.TotalCount+pageSize-1)/pageSize
}

// EmptyPage returns an empty page in the given mode
func EmptyPage(mode ResultMode) *SearchResultPage {
	return &SearchResultPage{Items: []ReferenceRecord{}, Mode: mode}
}
