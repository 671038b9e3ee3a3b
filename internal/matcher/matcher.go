package matcher

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dshills/refcache/pkg/types"
)

// CategoryPrefix switches a free-text query into category-filter mode
const CategoryPrefix = "category:"

// Field is a searchable string field of a record
type Field struct {
	Name string
	Get  func(r *types.ReferenceRecord) string
}

// DefaultFields are the fields searched by the query engine
var DefaultFields = []Field{
	{Name: "name", Get: func(r *types.ReferenceRecord) string { return r.Name }},
	{Name: "sku", Get: func(r *types.ReferenceRecord) string { return r.SKU }},
	{Name: "category", Get: func(r *types.ReferenceRecord) string { return r.Category }},
	{Name: "category_full_path", Get: func(r *types.ReferenceRecord) string { return r.CategoryFullPath }},
	{Name: "supplier", Get: func(r *types.ReferenceRecord) string { return r.Supplier }},
}

// folder lowercases text with Unicode-aware rules. A Caser is stateful, so
// each folder must stay on one goroutine; shared callers borrow one from
// the pool.
type folder struct {
	caser cases.Caser
}

func newFolder() *folder {
	return &folder{caser: cases.Lower(language.Und)}
}

func (f *folder) fold(s string) string {
	return f.caser.String(s)
}

var folders = sync.Pool{New: func() interface{} { return newFolder() }}

func getFolder() *folder {
	return folders.Get().(*folder)
}

func putFolder(f *folder) {
	folders.Put(f)
}

// Normalize trims and lowercases a query
func Normalize(q string) string {
	f := getFolder()
	defer putFolder(f)
	return f.fold(strings.TrimSpace(q))
}

// ContainsFold reports whether needle is a case-insensitive substring of s
func ContainsFold(s, needle string) bool {
	if needle == "" {
		return true
	}
	f := getFolder()
	defer putFolder(f)
	return strings.Contains(f.fold(s), f.fold(needle))
}

// Tokenize splits a query into lowercase tokens made of letters and digits only
func Tokenize(q string) []string {
	normalized := Normalize(q)
	if normalized == "" {
		return nil
	}

	words := strings.Fields(normalized)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		t := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, w)
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// ParseQuery derives a SearchQuery from raw input
func ParseQuery(raw string, page, pageSize int) types.SearchQuery {
	q := types.SearchQuery{
		RawText:  raw,
		Page:     page,
		PageSize: pageSize,
	}

	normalized := Normalize(raw)
	if strings.HasPrefix(normalized, CategoryPrefix) {
		category := strings.TrimSpace(strings.TrimPrefix(normalized, CategoryPrefix))
		if category != "" {
			q.CategoryFilter = &category
		}
		return q
	}

	q.Tokens = Tokenize(normalized)
	return q
}

// Candidate is a record with its searchable fields lowercased once
type Candidate struct {
	Record types.ReferenceRecord
	folded []string

	category string // lowercased category
	fullPath string // lowercased category full path
}

// Prepare folds the searchable fields of every record. The result preserves
// the input order.
func Prepare(records []types.ReferenceRecord, fields []Field) []Candidate {
	if fields == nil {
		fields = DefaultFields
	}
	f := newFolder()
	out := make([]Candidate, len(records))
	for i := range records {
		out[i] = prepareOne(f, &records[i], fields)
	}
	return out
}

func prepareOne(f *folder, r *types.ReferenceRecord, fields []Field) Candidate {
	c := Candidate{
		Record:   *r,
		folded:   make([]string, len(fields)),
		category: f.fold(r.Category),
		fullPath: f.fold(r.CategoryFullPath),
	}
	for i, field := range fields {
		c.folded[i] = f.fold(field.Get(r))
	}
	return c
}

// Matches reports whether every token is a substring of at least one field
func (c *Candidate) Matches(tokens []string) bool {
	for _, token := range tokens {
		found := false
		for _, field := range c.folded {
			if strings.Contains(field, token) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MatchesCategory reports whether the record belongs to category. The
// category field must match exactly while the full path only has to contain
// the filter.
func (c *Candidate) MatchesCategory(category string) bool {
	return c.category == category || strings.Contains(c.fullPath, category)
}

// Score computes the relevance of the candidate for tokens. A (token, field)
// pair scores 2 when the field starts with the token and 1 when it only
// contains it. ok is false when some token matches no field.
func (c *Candidate) Score(tokens []string) (score int, ok bool) {
	for _, token := range tokens {
		matched := false
		for _, field := range c.folded {
			if !strings.Contains(field, token) {
				continue
			}
			matched = true
			if strings.HasPrefix(field, token) {
				score += 2
			} else {
				score++
			}
		}
		if !matched {
			return 0, false
		}
	}
	return score, true
}

// Filter returns the records matching q in candidate order
func Filter(candidates []Candidate, q types.SearchQuery) []types.ReferenceRecord {
	out := make([]types.ReferenceRecord, 0)
	for i := range candidates {
		if matchesQuery(&candidates[i], q) {
			out = append(out, candidates[i].Record)
		}
	}
	return out
}

func matchesQuery(c *Candidate, q types.SearchQuery) bool {
	if q.CategoryFilter != nil {
		return c.MatchesCategory(*q.CategoryFilter)
	}
	return c.Matches(q.Tokens)
}

// Scored is a record with its relevance score
type Scored struct {
	Record types.ReferenceRecord
	Score  int
}

// Rank scores every candidate, keeps those matching all tokens and sorts by
// score descending. Ties keep candidate order. limit <= 0 means no limit.
func Rank(candidates []Candidate, tokens []string, limit int) []Scored {
	out := make([]Scored, 0)
	if len(tokens) == 0 {
		return out
	}
	for i := range candidates {
		if score, ok := candidates[i].Score(tokens); ok {
			out = append(out, Scored{Record: candidates[i].Record, Score: score})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MatchRecord evaluates q against a single record without preparing a set
func MatchRecord(r types.ReferenceRecord, q types.SearchQuery, fields []Field) bool {
	if fields == nil {
		fields = DefaultFields
	}
	f := getFolder()
	defer putFolder(f)
	c := prepareOne(f, &r, fields)
	return matchesQuery(&c, q)
}
