// Package app wires the replica, sync manager, query engine, remote clients,
// orchestrator and reference caches from a config.Config. A replica that
// fails to open does not stop the process: the app runs in degraded mode and
// routes keyword and browse queries to the remote API.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/refcache/internal/config"
	"github.com/dshills/refcache/internal/hybrid"
	"github.com/dshills/refcache/internal/kvstore"
	"github.com/dshills/refcache/internal/logging"
	"github.com/dshills/refcache/internal/metrics"
	"github.com/dshills/refcache/internal/refcache"
	"github.com/dshills/refcache/internal/remote"
	"github.com/dshills/refcache/internal/searcher"
	"github.com/dshills/refcache/internal/storage"
	"github.com/dshills/refcache/internal/syncer"
	"github.com/dshills/refcache/pkg/types"
)

// WorksCacheKey names the persisted works cache entry
const WorksCacheKey = "works_cache"

// ErrNoCatalog is returned when neither the replica nor the remote API is
// available
var ErrNoCatalog = errors.New("no catalog source available")

// App holds the wired components. Store is nil in degraded mode and Remote
// is nil when no API URL is configured.
type App struct {
	Config config.Config
	Log    *logging.Logger

	Store        storage.Storage
	KV           kvstore.Store
	Remote       *remote.Clients
	Engine       *searcher.Engine
	Syncer       *syncer.Manager
	Orchestrator *hybrid.Orchestrator
	Works        *refcache.Cache[types.WorkItem]

	// StoreErr is the replica open failure, nil unless degraded
	StoreErr error
}

// New builds an App. Only a missing catalog source is fatal.
func New(cfg config.Config, log *logging.Logger) (*App, error) {
	if log == nil {
		log = logging.Noop()
	}
	a := &App{Config: cfg, Log: log}

	if cfg.Remote.BaseURL != "" {
		clients, err := remote.New(cfg.RemoteClients())
		if err != nil {
			return nil, fmt.Errorf("failed to create remote clients: %w", err)
		}
		a.Remote = clients
	}

	store, err := openStore(cfg.DBPath)
	if err != nil {
		log.Error("replica unavailable, running degraded", "path", cfg.DBPath, "error", err)
		a.StoreErr = err
	} else {
		a.Store = store
	}
	if a.Store == nil && a.Remote == nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCatalog, a.StoreErr)
	}

	a.Engine = searcher.New(a.Store, searcher.WithLogger(log))

	var fetcher syncer.Fetcher = syncer.FetcherFunc(func(ctx context.Context, max int) ([]types.ReferenceRecord, error) {
		return nil, remote.ErrNoBaseURL
	})
	if a.Remote != nil {
		fetcher = a.Remote.Catalog
	}
	a.Syncer = syncer.New(a.Store, fetcher, cfg.Syncer(),
		syncer.WithLogger(log),
		syncer.OnSynced(a.Engine.Invalidate),
	)

	a.Orchestrator = hybrid.New(a.semantic(), a.keyword(), a.browser(), cfg.Hybrid(), hybrid.WithLogger(log))

	if err := a.openWorks(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func openStore(path string) (storage.Storage, error) {
	if path != ":memory:" {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrStoreInit, err)
		}
		if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
			return nil, fmt.Errorf("%w: failed to create database directory: %v", types.ErrStoreInit, err)
		}
		path = expanded
	}
	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (a *App) openWorks() error {
	opts := kvstore.Options{MaxValueBytes: a.Config.Cache.MaxValueBytes}
	dir := a.Config.KVPath
	if dir == "" {
		opts.InMemory = true
	} else {
		expanded, err := config.ExpandPath(dir)
		if err != nil {
			return err
		}
		dir = expanded
	}
	kv, err := kvstore.Open(dir, opts)
	if err != nil {
		// the cache still works without persistence
		a.Log.Warn("persisted cache unavailable", "path", dir, "error", err)
	} else {
		a.KV = kv
	}

	fetch := func(ctx context.Context) ([]types.WorkItem, error) {
		if a.Remote == nil {
			return nil, remote.ErrNoBaseURL
		}
		return a.Remote.Catalog.ListWorks(ctx)
	}
	works, err := refcache.New(refcache.Options[types.WorkItem]{
		Fetch:  fetch,
		TTL:    a.Config.Cache.WorksTTL,
		Key:    WorksCacheKey,
		Store:  a.KV,
		Logger: a.Log,
	})
	if err != nil {
		return fmt.Errorf("failed to create works cache: %w", err)
	}
	a.Works = works
	return nil
}

func (a *App) semantic() hybrid.Semantic {
	if a.Remote == nil {
		return nil
	}
	return a.Remote.Semantic
}

func (a *App) keyword() hybrid.Keyword {
	if a.Store == nil {
		return a.Remote.Keyword
	}
	return a.Engine
}

func (a *App) browser() hybrid.Browser {
	if a.Store == nil {
		return a.Remote.Catalog
	}
	return a.Engine
}

// Degraded reports whether the local replica is unavailable
func (a *App) Degraded() bool {
	return a.Store == nil
}

// Browse returns one paginated page for raw, locally or from the API
func (a *App) Browse(ctx context.Context, raw string, page, pageSize int) (*types.SearchResultPage, error) {
	return a.browser().Query(ctx, raw, page, pageSize)
}

// Suggest returns a ranked top-K list for raw
func (a *App) Suggest(ctx context.Context, raw string, limit int) (*types.SearchResultPage, error) {
	if a.Store != nil {
		return a.Engine.Suggest(ctx, raw, limit)
	}
	items, err := a.Remote.Keyword.Keyword(ctx, raw, limit)
	metrics.SearchRequests.WithLabelValues(metrics.PathKeywordFallback).Inc()
	if err != nil {
		return types.EmptyPage(types.ModeRankedTopK), fmt.Errorf("%w: %v", types.ErrSearch, err)
	}
	return &types.SearchResultPage{Items: items, TotalCount: len(items), Mode: types.ModeRankedTopK}, nil
}

// ReplicaStatus returns the store statistics, nil in degraded mode
func (a *App) ReplicaStatus(ctx context.Context) (*storage.ReplicaStatus, error) {
	if a.Store == nil {
		return nil, a.StoreErr
	}
	return a.Store.GetStatus(ctx)
}

// Close releases every component
func (a *App) Close() error {
	var errs []error
	if a.Syncer != nil {
		errs = append(errs, a.Syncer.Close())
	}
	if a.KV != nil {
		errs = append(errs, a.KV.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
