package types

import (
	"strings"
	"time"
)

// ReferenceRecord is a single catalog entry held by the local replica
type ReferenceRecord struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	SKU              string  `json:"sku"`
	Unit             string  `json:"unit"`
	Price            float64 `json:"price"`
	Category         string  `json:"category"`
	CategoryFullPath string  `json:"category_full_path"`
	Supplier         string  `json:"supplier"`
	Image            string  `json:"image,omitempty"`
	IsGlobal         bool    `json:"is_global"`

	// SearchBlob is the lowercase concatenation of the searchable fields
	SearchBlob string `json:"-"`
}

// BuildSearchBlob recomputes SearchBlob from the searchable fields
func (r *ReferenceRecord) BuildSearchBlob() {
	parts := make([]string, 0, 5)
	for _, v := range []string{r.Name, r.SKU, r.Category, r.CategoryFullPath, r.Supplier} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	r.SearchBlob = strings.ToLower(strings.Join(parts, " "))
}

// Validate checks that the record can be stored
func (r *ReferenceRecord) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	if r.Name == "" {
		return ErrMissingName
	}
	return nil
}

// SyncMarker records when the replica was last fully synced
type SyncMarker struct {
	LastSyncedAtMillis int64
}

// NewSyncMarker creates a marker for t
func NewSyncMarker(t time.Time) SyncMarker {
	return SyncMarker{LastSyncedAtMillis: t.UnixMilli()}
}

// Time returns the marker as a time.Time
func (m SyncMarker) Time() time.Time {
	return time.UnixMilli(m.LastSyncedAtMillis)
}

// Fresh reports whether the marker is younger than window at now
func (m SyncMarker) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(m.Time()) < window
}

// SyncState is the observable state of a sync manager
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
	SyncSuccess SyncState = "success"
	SyncFailed  SyncState = "error"
)

// WorkItem is an entry of the works catalog served through the TTL cache
type WorkItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Unit     string  `json:"unit"`
	Price    float64 `json:"price"`
	Category string  `json:"category"`
	IsGlobal bool    `json:"is_global"`
}
