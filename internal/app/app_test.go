package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/refcache/internal/config"
	"github.com/dshills/refcache/internal/hybrid"
	"github.com/dshills/refcache/internal/refcache"
	"github.com/dshills/refcache/internal/syncer"
	"github.com/dshills/refcache/internal/testutil"
	"github.com/dshills/refcache/pkg/types"
)

func testConfig(baseURL string) config.Config {
	cfg := config.Default()
	cfg.DBPath = ":memory:"
	cfg.Remote.BaseURL = baseURL
	cfg.Remote.RatePerSecond = 1000
	cfg.Remote.Burst = 100
	cfg.Search.PageSize = 10
	return cfg
}

func setupApp(t *testing.T, catalog *testutil.FakeCatalog) *App {
	t.Helper()
	a, err := New(testConfig(catalog.Start(t)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNew_LocalMode(t *testing.T) {
	catalog := testutil.NewFakeCatalog(testutil.Materials(25), nil)
	a := setupApp(t, catalog)
	ctx := context.Background()

	assert.False(t, a.Degraded())
	assert.True(t, a.Engine.Available())

	res := a.Syncer.Sync(ctx, false)
	require.Equal(t, syncer.OutcomeSynced, res.Outcome, "sync error: %v", res.Err)
	assert.Equal(t, 25, res.Records)

	page, err := a.Browse(ctx, "материал 1", 1, 50)
	require.NoError(t, err)
	// 1, 10..19 and 21
	assert.Equal(t, 12, page.TotalCount)
	assert.Equal(t, types.ModePaginated, page.Mode)

	status, err := a.ReplicaStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, status.RecordCount)
	assert.True(t, status.Health.Synced)
}

func TestNew_SyncInvalidatesEngine(t *testing.T) {
	catalog := testutil.NewFakeCatalog(testutil.Materials(5), nil)
	a := setupApp(t, catalog)
	ctx := context.Background()

	require.Equal(t, syncer.OutcomeSynced, a.Syncer.Sync(ctx, false).Outcome)
	page, err := a.Browse(ctx, "материал", 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalCount)

	catalog.SetMaterials(testutil.Materials(8))
	require.Equal(t, syncer.OutcomeSynced, a.Syncer.ForceSync(ctx).Outcome)

	page, err = a.Browse(ctx, "материал", 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 8, page.TotalCount)
}

func TestOrchestrator_SemanticThenFallback(t *testing.T) {
	catalog := testutil.NewFakeCatalog(testutil.Materials(5), nil)
	a := setupApp(t, catalog)
	ctx := context.Background()
	require.Equal(t, syncer.OutcomeSynced, a.Syncer.Sync(ctx, false).Outcome)

	st, err := a.Orchestrator.Search(ctx, "materials", "материал 3")
	require.NoError(t, err)
	assert.Equal(t, hybrid.SourceSemantic, st.Source)
	require.Len(t, st.Items, 1)
	assert.Equal(t, "m-003", st.Items[0].ID)

	catalog.SemanticDown.Store(true)
	st, err = a.Orchestrator.Search(ctx, "materials", "материал 4")
	require.NoError(t, err)
	assert.Equal(t, hybrid.SourceKeyword, st.Source)
	require.Len(t, st.Items, 1)
	assert.Equal(t, "m-004", st.Items[0].ID)
}

func TestNew_DegradedMode(t *testing.T) {
	catalog := testutil.NewFakeCatalog(testutil.Materials(12), nil)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	cfg := testConfig(catalog.Start(t))
	cfg.DBPath = filepath.Join(blocker, "sub", "replica.db")
	a, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	ctx := context.Background()

	assert.True(t, a.Degraded())
	assert.ErrorIs(t, a.StoreErr, types.ErrStoreInit)
	assert.False(t, a.Engine.Available())

	page, err := a.Browse(ctx, "", 2, 10)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 12, page.TotalCount)

	suggest, err := a.Suggest(ctx, "материал 11", 5)
	require.NoError(t, err)
	assert.Equal(t, types.ModeRankedTopK, suggest.Mode)
	require.Len(t, suggest.Items, 1)

	res := a.Syncer.Sync(ctx, true)
	assert.Equal(t, syncer.OutcomeFailed, res.Outcome)

	_, err = a.ReplicaStatus(ctx)
	assert.ErrorIs(t, err, types.ErrStoreInit)
}

func TestNew_NoCatalog(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	cfg := config.Default()
	cfg.DBPath = filepath.Join(blocker, "replica.db")
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, ErrNoCatalog)
}

func TestWorksCache(t *testing.T) {
	works := []types.WorkItem{
		{ID: "w1", Name: "Демонтаж стяжки", IsGlobal: true},
		{ID: "w2", Name: "Покраска стен"},
	}
	catalog := testutil.NewFakeCatalog(nil, works)
	a := setupApp(t, catalog)
	ctx := context.Background()

	require.NoError(t, a.Works.Load(ctx))
	require.NoError(t, a.Works.Load(ctx))
	assert.Equal(t, int32(1), catalog.WorkCalls.Load())
	assert.Equal(t, refcache.StateReady, a.Works.State())

	a.Works.ApplyFilters(map[string]interface{}{"is_global": true})
	require.Len(t, a.Works.Data(), 1)
	assert.Equal(t, "w1", a.Works.Data()[0].ID)
	assert.Len(t, a.Works.AllData(), 2)
}

func TestWorksCache_PersistedAcrossRestarts(t *testing.T) {
	catalog := testutil.NewFakeCatalog(nil, []types.WorkItem{{ID: "w1", Name: "Штукатурка"}})
	url := catalog.Start(t)
	cfg := testConfig(url)
	cfg.KVPath = filepath.Join(t.TempDir(), "kv")

	first, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, first.Works.Load(context.Background()))
	require.NoError(t, first.Close())

	second, err := New(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	assert.Equal(t, refcache.StateReady, second.Works.State())
	assert.Len(t, second.Works.AllData(), 1)
	assert.Equal(t, int32(1), catalog.WorkCalls.Load())
}
