package hybrid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dshills/refcache/internal/logging"
	"github.com/dshills/refcache/internal/matcher"
	"github.com/dshills/refcache/internal/metrics"
	"github.com/dshills/refcache/internal/remote"
	"github.com/dshills/refcache/pkg/types"
)

var (
	// ErrStale is returned when a newer request was dispatched for the same
	// surface while this one was in flight. Nothing was written.
	ErrStale = errors.New("stale search response discarded")
	// ErrNoBackend is returned when no backend can serve the request
	ErrNoBackend = errors.New("no search backend configured")
)

// Semantic is the embedding-based search service
type Semantic interface {
	Search(ctx context.Context, query string, limit int) (*remote.SemanticResponse, error)
}

// Keyword is the substring search used when the semantic path fails
type Keyword interface {
	Keyword(ctx context.Context, query string, limit int) ([]types.ReferenceRecord, error)
}

// Browser serves paginated browse pages for the empty query
type Browser interface {
	Query(ctx context.Context, raw string, page, pageSize int) (*types.SearchResultPage, error)
}

// Source names the backend that produced a surface state
type Source string

const (
	SourceNone     Source = ""
	SourceSemantic Source = "semantic"
	SourceKeyword  Source = "keyword"
	SourceBrowse   Source = "browse"
)

// Config tunes the orchestrator
type Config struct {
	SemanticLimit   int
	KeywordLimit    int
	SemanticTimeout time.Duration
	PageSize        int
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		SemanticLimit:   50,
		KeywordLimit:    50,
		SemanticTimeout: 10 * time.Second,
		PageSize:        50,
	}
}

// State is the visible result list of one surface
type State struct {
	Query            string
	Items            []types.ReferenceRecord
	Page             int
	HasMore          bool
	Mode             types.ResultMode
	TotalCount       int
	ExpandedKeywords []string
	Source           Source
}

func (s State) clone() State {
	out := s
	out.Items = append([]types.ReferenceRecord(nil), s.Items...)
	out.ExpandedKeywords = append([]string(nil), s.ExpandedKeywords...)
	return out
}

type surfaceState struct {
	mu    sync.Mutex
	state State
}

// Orchestrator routes queries to the semantic, keyword and browse backends
// and keeps the latest result per surface.
type Orchestrator struct {
	semantic Semantic
	keyword  Keyword
	browser  Browser
	cfg      Config
	log      *logging.Logger

	seq      *Sequencer
	surfaces *xsync.MapOf[string, *surfaceState]
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// New creates an orchestrator. semantic may be nil, in which case every
// non-empty query goes straight to keyword.
func New(semantic Semantic, keyword Keyword, browser Browser, cfg Config, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.SemanticLimit <= 0 {
		cfg.SemanticLimit = def.SemanticLimit
	}
	if cfg.KeywordLimit <= 0 {
		cfg.KeywordLimit = def.KeywordLimit
	}
	if cfg.SemanticTimeout <= 0 {
		cfg.SemanticTimeout = def.SemanticTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}

	o := &Orchestrator{
		semantic: semantic,
		keyword:  keyword,
		browser:  browser,
		cfg:      cfg,
		log:      logging.Noop(),
		seq:      NewSequencer(),
		surfaces: xsync.NewMapOf[string, *surfaceState](),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.WithComponent("hybrid")
	return o
}

func (o *Orchestrator) surface(name string) *surfaceState {
	s, _ := o.surfaces.LoadOrCompute(name, func() *surfaceState {
		return &surfaceState{}
	})
	return s
}

// State returns a copy of the current state of surface
func (o *Orchestrator) State(surface string) State {
	s := o.surface(surface)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Search runs query for surface and replaces its state. A query without a
// filter, blank or a bare "category:", loads the first browse page. On error the previous state is kept; ErrStale means
// a newer Search owns the surface.
func (o *Orchestrator) Search(ctx context.Context, surface, query string) (State, error) {
	seq := o.seq.Next(surface)

	var (
		next State
		err  error
	)
	if isBrowse(query) {
		next, err = o.browseFirst(ctx)
	} else {
		next, err = o.ranked(ctx, strings.TrimSpace(query))
	}

	s := o.surface(surface)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !o.seq.IsLatest(surface, seq) {
		metrics.StaleDiscarded.Inc()
		o.log.DebugContext(ctx, "discarding stale response", "surface", surface, "query", query)
		return State{}, ErrStale
	}
	if err != nil {
		return s.state.clone(), err
	}

	next.Query = query
	s.state = next
	return next.clone(), nil
}

// LoadMore appends the next browse page to surface. It does nothing unless
// the surface shows browse results with more pages available.
func (o *Orchestrator) LoadMore(ctx context.Context, surface string) (State, error) {
	s := o.surface(surface)
	s.mu.Lock()
	current := s.state.clone()
	s.mu.Unlock()

	if current.Source != SourceBrowse || !isBrowse(current.Query) || !current.HasMore {
		return current, nil
	}
	if o.browser == nil {
		return current, ErrNoBackend
	}

	seq := o.seq.Current(surface)
	nextPage := current.Page + 1
	page, err := o.browser.Query(ctx, "", nextPage, o.cfg.PageSize)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !o.seq.IsLatest(surface, seq) || s.state.Source != SourceBrowse || s.state.Page != current.Page {
		metrics.StaleDiscarded.Inc()
		return State{}, ErrStale
	}
	if err != nil {
		o.log.LogSearch(ctx, metrics.PathBrowse, "", 0, err)
		return s.state.clone(), fmt.Errorf("%w: load page %d: %v", types.ErrSearch, nextPage, err)
	}
	metrics.SearchRequests.WithLabelValues(metrics.PathBrowse).Inc()

	if page == nil || len(page.Items) == 0 {
		s.state.HasMore = false
		return s.state.clone(), nil
	}

	s.state.Items = appendUnique(s.state.Items, page.Items)
	s.state.Page = nextPage
	s.state.TotalCount = page.TotalCount
	s.state.HasMore = page.HasMore(nextPage, o.cfg.PageSize)
	return s.state.clone(), nil
}

func (o *Orchestrator) browseFirst(ctx context.Context) (State, error) {
	if o.browser == nil {
		return State{}, ErrNoBackend
	}
	page, err := o.browser.Query(ctx, "", 1, o.cfg.PageSize)
	o.log.LogSearch(ctx, metrics.PathBrowse, "", pageLen(page), err)
	if err != nil {
		return State{}, fmt.Errorf("%w: browse: %v", types.ErrSearch, err)
	}
	metrics.SearchRequests.WithLabelValues(metrics.PathBrowse).Inc()
	if page == nil {
		page = types.EmptyPage(types.ModePaginated)
	}

	return State{
		Items:      appendUnique(nil, page.Items),
		Page:       1,
		HasMore:    len(page.Items) > 0 && page.HasMore(1, o.cfg.PageSize),
		Mode:       types.ModePaginated,
		TotalCount: page.TotalCount,
		Source:     SourceBrowse,
	}, nil
}

// ranked tries the semantic backend and falls back to keyword exactly once
func (o *Orchestrator) ranked(ctx context.Context, query string) (State, error) {
	if o.semantic != nil {
		st, ok := o.trySemantic(ctx, query)
		if ok {
			return st, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return State{}, fmt.Errorf("%w: %v", types.ErrSearch, err)
	}
	if o.keyword == nil {
		return State{}, ErrNoBackend
	}

	items, err := o.keyword.Keyword(ctx, query, o.cfg.KeywordLimit)
	o.log.LogSearch(ctx, metrics.PathKeywordFallback, query, len(items), err)
	if err != nil {
		return State{}, fmt.Errorf("%w: keyword: %v", types.ErrSearch, err)
	}
	metrics.SearchRequests.WithLabelValues(metrics.PathKeywordFallback).Inc()

	items = capRecords(appendUnique(nil, items), o.cfg.KeywordLimit)
	return State{
		Items:      items,
		Page:       1,
		Mode:       types.ModeRankedTopK,
		TotalCount: len(items),
		Source:     SourceKeyword,
	}, nil
}

func (o *Orchestrator) trySemantic(ctx context.Context, query string) (State, bool) {
	sctx, cancel := context.WithTimeout(ctx, o.cfg.SemanticTimeout)
	defer cancel()

	resp, err := o.semantic.Search(sctx, query, o.cfg.SemanticLimit)
	switch {
	case err != nil:
		o.log.WarnContext(ctx, "semantic search failed, using keyword", "query", query, "error", err)
		return State{}, false
	case resp == nil || !resp.Success:
		o.log.WarnContext(ctx, "semantic search unsuccessful, using keyword", "query", query)
		return State{}, false
	}

	items := capRecords(normalizeResults(resp.Results), o.cfg.SemanticLimit)
	if len(items) == 0 {
		o.log.DebugContext(ctx, "semantic search returned nothing, using keyword", "query", query)
		return State{}, false
	}
	metrics.SearchRequests.WithLabelValues(metrics.PathSemantic).Inc()
	o.log.LogSearch(ctx, metrics.PathSemantic, query, len(items), nil)

	return State{
		Items:            items,
		Page:             1,
		Mode:             types.ModeRankedTopK,
		TotalCount:       len(items),
		ExpandedKeywords: append([]string(nil), resp.ExpandedKeywords...),
		Source:           SourceSemantic,
	}, true
}

// isBrowse reports whether query carries no filter, which includes a bare
// category prefix
func isBrowse(query string) bool {
	return matcher.ParseQuery(query, 1, 1).Empty()
}

// appendUnique appends the records of add whose id is not yet in dst
func appendUnique(dst, add []types.ReferenceRecord) []types.ReferenceRecord {
	seen := make(map[string]bool, len(dst)+len(add))
	for _, r := range dst {
		seen[r.ID] = true
	}
	if dst == nil {
		dst = make([]types.ReferenceRecord, 0, len(add))
	}
	for _, r := range add {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		dst = append(dst, r)
	}
	return dst
}

func capRecords(records []types.ReferenceRecord, limit int) []types.ReferenceRecord {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

func pageLen(p *types.SearchResultPage) int {
	if p == nil {
		return 0
	}
	return len(p.Items)
}
