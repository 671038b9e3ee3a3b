package storage

import (
	"context"
	"time"

	"github.com/dshills/refcache/pkg/types"
)

// MarkerKey is the metadata key holding the materials sync marker
const MarkerKey = "materials_last_sync"

// Storage defines the interface of the local replica store
type Storage interface {
	// Record operations
	InsertRecords(ctx context.Context, records []types.ReferenceRecord) error
	DeleteAllRecords(ctx context.Context) error
	GetRecord(ctx context.Context, id string) (*types.ReferenceRecord, error)
	ListRecords(ctx context.Context, offset, limit int) ([]types.ReferenceRecord, error)
	ListAllRecords(ctx context.Context) ([]types.ReferenceRecord, error)
	CountRecords(ctx context.Context) (int, error)

	// Index lookups
	FindByName(ctx context.Context, name string) ([]types.ReferenceRecord, error)
	FindBySKU(ctx context.Context, sku string) ([]types.ReferenceRecord, error)
	FindByCategory(ctx context.Context, category string) ([]types.ReferenceRecord, error)

	// Metadata operations
	GetMarker(ctx context.Context) (*types.SyncMarker, error)
	SetMarker(ctx context.Context, marker types.SyncMarker) error
	ClearMarker(ctx context.Context) error

	// Status operations
	GetStatus(ctx context.Context) (*ReplicaStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// SchemaResetter is implemented by stores that can drop and recreate their
// schema
type SchemaResetter interface {
	ResetSchema(ctx context.Context) error
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// ReplicaStatus contains statistics about the local replica
type ReplicaStatus struct {
	RecordCount  int
	LastSyncedAt time.Time // zero when never synced
	SizeMB       float64
	Health       HealthStatus
}

// HealthStatus represents the health of the replica
type HealthStatus struct {
	DatabaseAccessible bool
	SchemaVersion      string
	Synced             bool
}
