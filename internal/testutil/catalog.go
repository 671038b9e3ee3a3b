// Package testutil provides test doubles shared by the wiring tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dshills/refcache/internal/matcher"
	"github.com/dshills/refcache/pkg/types"
)

// FakeCatalog is an in-process catalog API with materials, works and
// semantic search endpoints.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeCatalog struct {
	mu        sync.Mutex
	materials []types.ReferenceRecord
	works     []types.WorkItem

	// SemanticDown makes the semantic endpoint answer 500
	SemanticDown atomic.Bool

	MaterialCalls atomic.Int32
	WorkCalls     atomic.Int32
	SemanticCalls atomic.Int32
}

// Materials builds n materials with ids m-000.. and a searchable name
func Materials(n int) []types.ReferenceRecord {
	out := make([]types.ReferenceRecord, n)
	for i := range out {
		out[i] = types.ReferenceRecord{
			ID:       fmt.Sprintf("m-%03d", i),
			Name:     fmt.Sprintf("Материал %d", i),
			SKU:      fmt.Sprintf("SKU-%d", i),
			Unit:     "шт",
			Price:    float64(i),
			Category: "Прочее",
		}
	}
	return out
}

// NewFakeCatalog creates a catalog holding materials and works
func NewFakeCatalog(materials []types.ReferenceRecord, works []types.WorkItem) *FakeCatalog {
	return &FakeCatalog{materials: materials, works: works}
}

// SetMaterials replaces the materials served from now on
func (f *FakeCatalog) SetMaterials(materials []types.ReferenceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.materials = materials
}

// Start serves the catalog until the test ends and returns its URL
func (f *FakeCatalog) Start(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(f.Handler())
	t.Cleanup(server.Close)
	return server.URL
}

// Handler returns the HTTP handler of the catalog
func (f *FakeCatalog) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/materials", f.handleMaterials)
	mux.HandleFunc("/works", f.handleWorks)
	mux.HandleFunc("/search/semantic", f.handleSemantic)
	return mux
}

func (f *FakeCatalog) handleMaterials(w http.ResponseWriter, r *http.Request) {
	f.MaterialCalls.Add(1)
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	search := r.URL.Query().Get("search")
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	matched := f.match(search)
	start := (page - 1) * pageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	writeJSON(w, map[string]interface{}{
		"data":  matched[start:end],
		"total": len(matched),
	})
}

func (f *FakeCatalog) handleWorks(w http.ResponseWriter, r *http.Request) {
	f.WorkCalls.Add(1)
	f.mu.Lock()
	works := append([]types.WorkItem(nil), f.works...)
	f.mu.Unlock()
	writeJSON(w, map[string]interface{}{"data": works})
}

func (f *FakeCatalog) handleSemantic(w http.ResponseWriter, r *http.Request) {
	f.SemanticCalls.Add(1)
	if f.SemanticDown.Load() {
		http.Error(w, "semantic backend down", http.StatusInternalServerError)
		return
	}
	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	results := make([]map[string]interface{}, 0)
	for _, m := range f.match(req.Query) {
		if req.Limit > 0 && len(results) >= req.Limit {
			break
		}
		results = append(results, map[string]interface{}{"_id": m.ID, "title": m.Name, "price": m.Price})
	}
	writeJSON(w, map[string]interface{}{
		"success":          true,
		"results":          results,
		"expandedKeywords": []string{req.Query},
	})
}

func (f *FakeCatalog) match(search string) []types.ReferenceRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if search == "" {
		return append([]types.ReferenceRecord(nil), f.materials...)
	}
	q := matcher.ParseQuery(search, 1, 0)
	out := make([]types.ReferenceRecord, 0)
	for _, m := range f.materials {
		if matcher.MatchRecord(m, q, nil) {
			out = append(out, m)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
