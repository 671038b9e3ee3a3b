package storage

import (
	"context"
	"fmt"

	"github.com/dshills/refcache/pkg/types"
)

// ReplaceAll swaps the whole record set and the sync marker in a single
// transaction. On any error the transaction is rolled back and the previous
// record set stays untouched.
func ReplaceAll(ctx context.Context, store Storage, records []types.ReferenceRecord, marker types.SyncMarker) error {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.DeleteAllRecords(ctx); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}

	if err := tx.InsertRecords(ctx, records); err != nil {
		return fmt.Errorf("failed to insert records: %w", err)
	}

	if err := tx.SetMarker(ctx, marker); err != nil {
		return fmt.Errorf("failed to write sync marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Clear removes every record and the sync marker in one transaction
func Clear(ctx context.Context, store Storage) error {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.DeleteAllRecords(ctx); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	if err := tx.ClearMarker(ctx); err != nil {
		return fmt.Errorf("failed to clear sync marker: %w", err)
	}

	return tx.Commit()
}
