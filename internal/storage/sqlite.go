package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/dshills/refcache/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrNestedTx is returned when BeginTx is called on a transaction
	ErrNestedTx = errors.New("nested transactions not supported")
)

const recordColumns = `id, name, sku, unit, price, category, category_full_path, supplier, image, is_global, search_blob`

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single connection: the sync manager is the only writer and readers
	// wait for a replace transaction to finish instead of seeing it halfway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// NewSQLiteStorage opens the replica at dbPath and applies migrations.
// Failures wrap types.ErrStoreInit.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", types.ErrStoreInit, err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to apply migrations: %v", types.ErrStoreInit, err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// ResetSchema drops every table and recreates the schema from scratch
func (s *SQLiteStorage) ResetSchema(ctx context.Context) error {
	if err := ResetSchema(ctx, s.db); err != nil {
		return fmt.Errorf("failed to reset schema: %w", err)
	}
	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// scanner is implemented by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sc scanner) (types.ReferenceRecord, error) {
	var r types.ReferenceRecord
	var image sql.NullString
	err := sc.Scan(
		&r.ID, &r.Name, &r.SKU, &r.Unit, &r.Price, &r.Category,
		&r.CategoryFullPath, &r.Supplier, &image, &r.IsGlobal, &r.SearchBlob,
	)
	if err != nil {
		return r, err
	}
	if image.Valid {
		r.Image = image.String
	}
	return r, nil
}

func collectRecords(rows *sql.Rows) ([]types.ReferenceRecord, error) {
	defer func() { _ = rows.Close() }()

	records := make([]types.ReferenceRecord, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Record operations

// insertRecordsWithQuerier bulk-inserts records through one prepared
// statement. Positions continue after the current maximum so storage order
// follows insertion order.
func (s *SQLiteStorage) insertRecordsWithQuerier(ctx context.Context, q querier, records []types.ReferenceRecord) error {
	if len(records) == 0 {
		return nil
	}

	var position int64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) FROM materials`).Scan(&position); err != nil {
		return fmt.Errorf("failed to read position: %w", err)
	}

	stmt, err := q.PrepareContext(ctx, `
		INSERT INTO materials (`+recordColumns+`, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range records {
		r := &records[i]
		if err := r.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		blob := r.SearchBlob
		if blob == "" {
			c := *r
			c.BuildSearchBlob()
			blob = c.SearchBlob
		}

		var image interface{}
		if r.Image != "" {
			image = r.Image
		}

		position++
		_, err := stmt.ExecContext(ctx,
			r.ID, r.Name, r.SKU, r.Unit, r.Price, r.Category,
			r.CategoryFullPath, r.Supplier, image, r.IsGlobal, blob,
			position,
		)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", r.ID, err)
		}
	}

	return nil
}

func (s *SQLiteStorage) InsertRecords(ctx context.Context, records []types.ReferenceRecord) error {
	return s.insertRecordsWithQuerier(ctx, s.querier(), records)
}

// deleteAllRecordsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteAllRecordsWithQuerier(ctx context.Context, q querier) error {
	_, err := q.ExecContext(ctx, `DELETE FROM materials`)
	return err
}

func (s *SQLiteStorage) DeleteAllRecords(ctx context.Context) error {
	return s.deleteAllRecordsWithQuerier(ctx, s.querier())
}

// getRecordWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getRecordWithQuerier(ctx context.Context, q querier, id string) (*types.ReferenceRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM materials WHERE id = ?`
	r, err := scanRecord(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStorage) GetRecord(ctx context.Context, id string) (*types.ReferenceRecord, error) {
	return s.getRecordWithQuerier(ctx, s.querier(), id)
}

// listRecordsWithQuerier walks the position cursor with skip/limit
func (s *SQLiteStorage) listRecordsWithQuerier(ctx context.Context, q querier, offset, limit int) ([]types.ReferenceRecord, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return []types.ReferenceRecord{}, nil
	}

	query := `
		SELECT ` + recordColumns + `
		FROM materials
		ORDER BY position
		LIMIT ? OFFSET ?
	`
	rows, err := q.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (s *SQLiteStorage) ListRecords(ctx context.Context, offset, limit int) ([]types.ReferenceRecord, error) {
	return s.listRecordsWithQuerier(ctx, s.querier(), offset, limit)
}

// listAllRecordsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listAllRecordsWithQuerier(ctx context.Context, q querier) ([]types.ReferenceRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+recordColumns+` FROM materials ORDER BY position`)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (s *SQLiteStorage) ListAllRecords(ctx context.Context) ([]types.ReferenceRecord, error) {
	return s.listAllRecordsWithQuerier(ctx, s.querier())
}

// countRecordsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) countRecordsWithQuerier(ctx context.Context, q querier) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM materials`).Scan(&count)
	return count, err
}

func (s *SQLiteStorage) CountRecords(ctx context.Context) (int, error) {
	return s.countRecordsWithQuerier(ctx, s.querier())
}

// findByColumnWithQuerier looks records up through one of the secondary indexes
func (s *SQLiteStorage) findByColumnWithQuerier(ctx context.Context, q querier, column, value string) ([]types.ReferenceRecord, error) {
	switch column {
	case "name", "sku", "category":
	default:
		return nil, fmt.Errorf("no index on column %q", column)
	}

	query := `SELECT ` + recordColumns + ` FROM materials WHERE ` + column + ` = ? ORDER BY position`
	rows, err := q.QueryContext(ctx, query, value)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (s *SQLiteStorage) FindByName(ctx context.Context, name string) ([]types.ReferenceRecord, error) {
	return s.findByColumnWithQuerier(ctx, s.querier(), "name", name)
}

func (s *SQLiteStorage) FindBySKU(ctx context.Context, sku string) ([]types.ReferenceRecord, error) {
	return s.findByColumnWithQuerier(ctx, s.querier(), "sku", sku)
}

func (s *SQLiteStorage) FindByCategory(ctx context.Context, category string) ([]types.ReferenceRecord, error) {
	return s.findByColumnWithQuerier(ctx, s.querier(), "category", category)
}

// Metadata operations

// getMarkerWithQuerier reads the epoch-millisecond marker string
func (s *SQLiteStorage) getMarkerWithQuerier(ctx context.Context, q querier) (*types.SyncMarker, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM sync_metadata WHERE key = ?`, MarkerKey).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	millis, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid sync marker %q: %w", value, err)
	}
	return &types.SyncMarker{LastSyncedAtMillis: millis}, nil
}

func (s *SQLiteStorage) GetMarker(ctx context.Context) (*types.SyncMarker, error) {
	return s.getMarkerWithQuerier(ctx, s.querier())
}

// setMarkerWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) setMarkerWithQuerier(ctx context.Context, q querier, marker types.SyncMarker) error {
	query := `
		INSERT INTO sync_metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := q.ExecContext(ctx, query, MarkerKey, strconv.FormatInt(marker.LastSyncedAtMillis, 10))
	if err != nil {
		return fmt.Errorf("failed to set marker: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) SetMarker(ctx context.Context, marker types.SyncMarker) error {
	return s.setMarkerWithQuerier(ctx, s.querier(), marker)
}

// clearMarkerWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) clearMarkerWithQuerier(ctx context.Context, q querier) error {
	_, err := q.ExecContext(ctx, `DELETE FROM sync_metadata WHERE key = ?`, MarkerKey)
	return err
}

func (s *SQLiteStorage) ClearMarker(ctx context.Context) error {
	return s.clearMarkerWithQuerier(ctx, s.querier())
}

// Status operations

// getStatusWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier) (*ReplicaStatus, error) {
	status := &ReplicaStatus{}

	count, err := s.countRecordsWithQuerier(ctx, q)
	if err != nil {
		return nil, err
	}
	status.RecordCount = count

	marker, err := s.getMarkerWithQuerier(ctx, q)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if marker != nil {
		status.LastSyncedAt = marker.Time()
	}

	// Calculate database size
	var pageCount, pageSize int
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	var version string
	_ = q.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1").Scan(&version)

	status.Health = HealthStatus{
		DatabaseAccessible: true,
		SchemaVersion:      version,
		Synced:             marker != nil,
	}

	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*ReplicaStatus, error) {
	return s.getStatusWithQuerier(ctx, s.querier())
}

// Transaction implementations

func (t *sqliteTx) InsertRecords(ctx context.Context, records []types.ReferenceRecord) error {
	return t.storage.insertRecordsWithQuerier(ctx, t.querier(), records)
}

func (t *sqliteTx) DeleteAllRecords(ctx context.Context) error {
	return t.storage.deleteAllRecordsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) GetRecord(ctx context.Context, id string) (*types.ReferenceRecord, error) {
	return t.storage.getRecordWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) ListRecords(ctx context.Context, offset, limit int) ([]types.ReferenceRecord, error) {
	return t.storage.listRecordsWithQuerier(ctx, t.querier(), offset, limit)
}

func (t *sqliteTx) ListAllRecords(ctx context.Context) ([]types.ReferenceRecord, error) {
	return t.storage.listAllRecordsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) CountRecords(ctx context.Context) (int, error) {
	return t.storage.countRecordsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) FindByName(ctx context.Context, name string) ([]types.ReferenceRecord, error) {
	return t.storage.findByColumnWithQuerier(ctx, t.querier(), "name", name)
}

func (t *sqliteTx) FindBySKU(ctx context.Context, sku string) ([]types.ReferenceRecord, error) {
	return t.storage.findByColumnWithQuerier(ctx, t.querier(), "sku", sku)
}

func (t *sqliteTx) FindByCategory(ctx context.Context, category string) ([]types.ReferenceRecord, error) {
	return t.storage.findByColumnWithQuerier(ctx, t.querier(), "category", category)
}

func (t *sqliteTx) GetMarker(ctx context.Context) (*types.SyncMarker, error) {
	return t.storage.getMarkerWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) SetMarker(ctx context.Context, marker types.SyncMarker) error {
	return t.storage.setMarkerWithQuerier(ctx, t.querier(), marker)
}

func (t *sqliteTx) ClearMarker(ctx context.Context) error {
	return t.storage.clearMarkerWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*ReplicaStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, ErrNestedTx
}
