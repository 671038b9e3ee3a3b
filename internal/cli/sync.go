package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/refcache/internal/syncer"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Force       bool
	Clear       bool
	ResetSchema bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replace the local replica with the remote catalog",
		Long: `Fetch the whole materials catalog in one bulk call and replace the local
replica atomically. A replica synced within the freshness window is left
alone unless --force is given. --reset-schema drops and recreates the replica
tables first, then syncs.

Example:
  refcache sync
  refcache sync --force
  refcache sync --clear
  refcache sync --reset-schema`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "sync even when the replica is fresh")
	cmd.Flags().BoolVar(&opts.Clear, "clear", false, "delete the replica instead of syncing")
	cmd.Flags().BoolVar(&opts.ResetSchema, "reset-schema", false, "recreate the replica schema, then sync")
	cmd.MarkFlagsMutuallyExclusive("clear", "reset-schema")

	return cmd
}

func runSync(ctx context.Context, opts *SyncOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := opts.openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := &OutputFormatter{Format: opts.Format, Writer: w}

	if opts.Clear {
		if err := a.Syncer.Clear(ctx); err != nil {
			_ = out.Error(err)
			return WrapExitError(ExitFailure, "clear failed", err)
		}
		return out.Success(map[string]interface{}{"cleared": true}, func(w io.Writer) {
			fmt.Fprintln(w, "Replica cleared")
		})
	}

	if opts.ResetSchema {
		if err := a.Syncer.ResetSchema(ctx); err != nil {
			_ = out.Error(err)
			return WrapExitError(ExitFailure, "schema reset failed", err)
		}
	}

	var res *syncer.Result
	if opts.Force || opts.ResetSchema {
		res = a.Syncer.ForceSync(ctx)
	} else {
		res = a.Syncer.Sync(ctx, false)
	}

	if res.Outcome == syncer.OutcomeFailed {
		_ = out.Error(res.Err)
		return WrapExitError(ExitFailure, "sync failed", res.Err)
	}

	data := map[string]interface{}{
		"run_id":      res.RunID,
		"outcome":     res.Outcome,
		"records":     res.Records,
		"duration_ms": res.Duration.Milliseconds(),
	}
	return out.Success(data, func(w io.Writer) {
		switch res.Outcome {
		case syncer.OutcomeSkippedFresh:
			fmt.Fprintln(w, "Replica is fresh, nothing to do (use --force to sync anyway)")
		case syncer.OutcomeSkippedBusy:
			fmt.Fprintln(w, "A sync is already running")
		default:
			fmt.Fprintf(w, "Synced %d records in %s (run %s)\n", res.Records, res.Duration.Round(time.Millisecond), res.RunID)
		}
	})
}
