package searcher

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dshills/refcache/internal/logging"
	"github.com/dshills/refcache/internal/matcher"
	"github.com/dshills/refcache/internal/metrics"
	"github.com/dshills/refcache/internal/storage"
	"github.com/dshills/refcache/pkg/types"
)

const (
	// DefaultPageSize is used when a caller passes no page size
	DefaultPageSize = 50
	// MaxPageSize caps a single page
	MaxPageSize = 500
	// DefaultLimit caps ranked lists when no limit is given
	DefaultLimit = 50
)

// snapshot is an immutable prepared copy of the replica
type snapshot struct {
	candidates []matcher.Candidate
}

// Engine answers browse, filter and ranked queries
type Engine struct {
	store  storage.Storage
	fields []matcher.Field
	log    *logging.Logger

	snap atomic.Pointer[snapshot]
	// gen is bumped by Invalidate so a build racing with it is not published
	gen     atomic.Uint64
	buildMu sync.Mutex
	builds  atomic.Int64
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithFields replaces the searchable fields
func WithFields(fields []matcher.Field) Option {
	return func(e *Engine) {
		e.fields = fields
	}
}

// New creates an Engine over store. A nil store puts the engine in degraded
// mode where every local query returns an empty result.
func New(store storage.Storage, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		fields: matcher.DefaultFields,
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithComponent("searcher")
	return e
}

// Available reports whether the engine has a store to read from
func (e *Engine) Available() bool {
	return e.store != nil
}

// Query runs the browse path for an empty query and the filter path
// otherwise. Store failures yield an empty page; the returned error is only
// set when ctx is done.
func (e *Engine) Query(ctx context.Context, raw string, page, pageSize int) (*types.SearchResultPage, error) {
	page, pageSize = normalizePage(page, pageSize)
	q := matcher.ParseQuery(raw, page, pageSize)

	if err := ctx.Err(); err != nil {
		return types.EmptyPage(types.ModePaginated), err
	}

	if q.Empty() {
		metrics.SearchRequests.WithLabelValues(metrics.PathBrowse).Inc()
		return e.browse(ctx, q), nil
	}

	metrics.SearchRequests.WithLabelValues(metrics.PathFilter).Inc()
	snap, err := e.snapshot(ctx)
	if err != nil {
		e.log.LogSearch(ctx, metrics.PathFilter, raw, 0, err)
		return types.EmptyPage(types.ModePaginated), nil
	}

	matches := matcher.Filter(snap.candidates, q)
	result := &types.SearchResultPage{
		Items:      slicePage(matches, q.Offset(), pageSize),
		TotalCount: len(matches),
		Mode:       types.ModePaginated,
	}
	e.log.LogSearch(ctx, metrics.PathFilter, raw, result.TotalCount, nil)
	return result, nil
}

// Suggest returns up to limit records ranked by relevance
func (e *Engine) Suggest(ctx context.Context, raw string, limit int) (*types.SearchResultPage, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := ctx.Err(); err != nil {
		return types.EmptyPage(types.ModeRankedTopK), err
	}
	metrics.SearchRequests.WithLabelValues(metrics.PathSuggest).Inc()

	q := matcher.ParseQuery(raw, 1, limit)
	if q.Empty() {
		return types.EmptyPage(types.ModeRankedTopK), nil
	}

	snap, err := e.snapshot(ctx)
	if err != nil {
		e.log.LogSearch(ctx, metrics.PathSuggest, raw, 0, err)
		return types.EmptyPage(types.ModeRankedTopK), nil
	}

	var items []types.ReferenceRecord
	if q.CategoryFilter != nil {
		// Category mode has no tokens to score
		items = capRecords(matcher.Filter(snap.candidates, q), limit)
	} else {
		items = e.exactSKU(ctx, raw)
		ranked := matcher.Rank(snap.candidates, q.Tokens, limit)
		seen := make(map[string]bool, len(items))
		for _, r := range items {
			seen[r.ID] = true
		}
		for _, s := range ranked {
			if !seen[s.Record.ID] {
				items = append(items, s.Record)
			}
		}
		items = capRecords(items, limit)
	}

	e.log.LogSearch(ctx, metrics.PathSuggest, raw, len(items), nil)
	return &types.SearchResultPage{Items: items, TotalCount: len(items), Mode: types.ModeRankedTopK}, nil
}

// exactSKU looks up records whose SKU equals raw. Tokenizing strips the
// separators SKUs usually carry, so a "SKU-12" query never ranks on its own.
func (e *Engine) exactSKU(ctx context.Context, raw string) []types.ReferenceRecord {
	sku := strings.TrimSpace(raw)
	if sku == "" || strings.ContainsAny(sku, " \t") {
		return []types.ReferenceRecord{}
	}
	found, err := e.store.FindBySKU(ctx, sku)
	if err != nil {
		e.log.DebugContext(ctx, "sku lookup failed", "sku", sku, "error", err)
		return []types.ReferenceRecord{}
	}
	return found
}

// Keyword runs the plain filter path capped at limit. Results keep storage
// order and are not paginated.
func (e *Engine) Keyword(ctx context.Context, raw string, limit int) ([]types.ReferenceRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := ctx.Err(); err != nil {
		return []types.ReferenceRecord{}, err
	}

	q := matcher.ParseQuery(raw, 1, limit)
	if q.Empty() {
		return []types.ReferenceRecord{}, nil
	}

	snap, err := e.snapshot(ctx)
	if err != nil {
		e.log.LogSearch(ctx, metrics.PathKeywordFallback, raw, 0, err)
		return []types.ReferenceRecord{}, nil
	}

	items := capRecords(matcher.Filter(snap.candidates, q), limit)
	e.log.LogSearch(ctx, metrics.PathKeywordFallback, raw, len(items), nil)
	return items, nil
}

// Invalidate drops the snapshot. The next filter query rebuilds it.
func (e *Engine) Invalidate() {
	e.gen.Add(1)
	e.snap.Store(nil)
}

// Warm reports whether a snapshot is currently held
func (e *Engine) Warm() bool {
	return e.snap.Load() != nil
}

// Builds returns how many snapshots have been built
func (e *Engine) Builds() int64 {
	return e.builds.Load()
}

func (e *Engine) browse(ctx context.Context, q types.SearchQuery) *types.SearchResultPage {
	if e.store == nil {
		e.log.LogSearch(ctx, metrics.PathBrowse, q.RawText, 0, types.ErrSearch)
		return types.EmptyPage(types.ModePaginated)
	}

	items, err := e.store.ListRecords(ctx, q.Offset(), q.PageSize)
	if err != nil {
		e.log.LogSearch(ctx, metrics.PathBrowse, q.RawText, 0, fmt.Errorf("%w: %v", types.ErrSearch, err))
		return types.EmptyPage(types.ModePaginated)
	}
	total, err := e.store.CountRecords(ctx)
	if err != nil {
		e.log.LogSearch(ctx, metrics.PathBrowse, q.RawText, 0, fmt.Errorf("%w: %v", types.ErrSearch, err))
		return types.EmptyPage(types.ModePaginated)
	}

	e.log.LogSearch(ctx, metrics.PathBrowse, q.RawText, total, nil)
	return &types.SearchResultPage{Items: items, TotalCount: total, Mode: types.ModePaginated}
}

// snapshot returns the current snapshot, building it at most once across
// concurrent callers
func (e *Engine) snapshot(ctx context.Context) (*snapshot, error) {
	if s := e.snap.Load(); s != nil {
		return s, nil
	}
	if e.store == nil {
		return nil, types.ErrSearch
	}

	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	if s := e.snap.Load(); s != nil {
		return s, nil
	}

	gen := e.gen.Load()
	records, err := e.store.ListAllRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load snapshot: %v", types.ErrSearch, err)
	}

	s := &snapshot{candidates: matcher.Prepare(records, e.fields)}
	e.builds.Add(1)
	if e.gen.Load() == gen {
		e.snap.Store(s)
	}
	e.log.DebugContext(ctx, "snapshot built", "records", len(records))
	return s, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	// keeps (page-1)*pageSize + pageSize within int
	if maxPage := math.MaxInt / pageSize; page > maxPage {
		page = maxPage
	}
	return page, pageSize
}

func slicePage(records []types.ReferenceRecord, offset, size int) []types.ReferenceRecord {
	if offset < 0 || size <= 0 || offset >= len(records) {
		return []types.ReferenceRecord{}
	}
	end := len(records)
	if size < end-offset {
		end = offset + size
	}
	out := make([]types.ReferenceRecord, end-offset)
	copy(out, records[offset:end])
	return out
}

func capRecords(records []types.ReferenceRecord, limit int) []types.ReferenceRecord {
	if len(records) > limit {
		return records[:limit]
	}
	return records
}
