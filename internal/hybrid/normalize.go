package hybrid

import (
	"strconv"

	"github.com/dshills/refcache/pkg/types"
)

// Field aliases used by the different semantic backends
var (
	idKeys       = []string{"id", "_id", "material_id"}
	nameKeys     = []string{"name", "title"}
	skuKeys      = []string{"sku", "code"}
	fullPathKeys = []string{"category_full_path", "categoryFullPath"}
	globalKeys   = []string{"is_global", "isGlobal"}
)

// normalizeResults maps loosely typed semantic hits onto records. Hits
// without an id are dropped and repeated ids keep their first occurrence.
func normalizeResults(results []map[string]interface{}) []types.ReferenceRecord {
	out := make([]types.ReferenceRecord, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, hit := range results {
		id := firstString(hit, idKeys...)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, types.ReferenceRecord{
			ID:               id,
			Name:             firstString(hit, nameKeys...),
			SKU:              firstString(hit, skuKeys...),
			Unit:             firstString(hit, "unit"),
			Price:            firstFloat(hit, "price"),
			Category:         firstString(hit, "category"),
			CategoryFullPath: firstString(hit, fullPathKeys...),
			Supplier:         firstString(hit, "supplier"),
			Image:            firstString(hit, "image"),
			IsGlobal:         firstBool(hit, globalKeys...),
		})
	}
	return out
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		}
	}
	return ""
}

func firstFloat(m map[string]interface{}, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func firstBool(m map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k].(bool); ok {
			return v
		}
	}
	return false
}
