// Package storage provides the SQLite-backed local replica of the materials
// catalog.
//
// The replica holds:
//   - Catalog records in remote order (position column)
//   - Secondary indexes on name, sku and category
//   - A small metadata table carrying the sync marker
//
// # Database Schema
//
// Tables:
//   - materials: one row per reference record plus its precomputed search blob
//   - sync_metadata: key/value slot, materials_last_sync holds epoch millis
//   - schema_version: applied migrations
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.refcache/replica.db")
//	if err != nil {
//	    // errors.Is(err, types.ErrStoreInit)
//	    return err
//	}
//	defer db.Close()
//
//	page, err := db.ListRecords(ctx, 0, 50)
//
// # Full Replace
//
// The record set is only ever replaced as a whole. ReplaceAll deletes every
// record, inserts the new batch and writes the marker inside one transaction:
//
//	err := storage.ReplaceAll(ctx, db, records, types.NewSyncMarker(time.Now()))
//
// The database runs on a single connection, so a reader either sees the old
// set or the new one, never a mix.
package storage
