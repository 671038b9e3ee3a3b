package refcache

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/dshills/refcache/internal/matcher"
)

// Match reports whether item satisfies every filter. Booleans must match
// exactly, strings match as case-insensitive substrings and all other values
// must be equal. Numbers compare by value regardless of their Go type. Keys
// are resolved against json tags of struct fields or against map keys. A
// key the item lacks never matches; nil filter values are ignored.
func Match(item interface{}, filters map[string]interface{}) bool {
	for key, want := range filters {
		if want == nil {
			continue
		}
		got, ok := fieldValue(item, key)
		if !ok || !matchValue(got, want) {
			return false
		}
	}
	return true
}

// Apply returns the items matching filters without touching items
func Apply[T any](items []T, filters map[string]interface{}) []T {
	out := make([]T, 0, len(items))
	for i := range items {
		if Match(items[i], filters) {
			out = append(out, items[i])
		}
	}
	return out
}

func matchValue(got, want interface{}) bool {
	switch w := want.(type) {
	case bool:
		b, ok := got.(bool)
		return ok && b == w
	case string:
		s, ok := got.(string)
		if !ok {
			s = fmt.Sprint(got)
		}
		return matcher.ContainsFold(s, w)
	}

	if gf, ok := toFloat(got); ok {
		if wf, ok := toFloat(want); ok {
			return gf == wf
		}
	}
	return reflect.DeepEqual(got, want)
}

func toFloat(v interface{}) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

// fieldIndexes caches json name -> field index per struct type
var fieldIndexes sync.Map // map[reflect.Type]map[string]int

func fieldValue(item interface{}, key string) (interface{}, bool) {
	rv := reflect.ValueOf(item)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Struct:
		idx, ok := structFields(rv.Type())[key]
		if !ok {
			return nil, false
		}
		return rv.Field(idx).Interface(), true
	default:
		return nil, false
	}
}

func structFields(t reflect.Type) map[string]int {
	if cached, ok := fieldIndexes.Load(t); ok {
		return cached.(map[string]int)
	}

	fields := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		fields[name] = i
	}

	fieldIndexes.Store(t, fields)
	return fields
}
