package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show replica size, freshness and health",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), rootOpts, cmd.OutOrStdout())
		},
	}
	return cmd
}

func runStatus(ctx context.Context, opts *RootOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := opts.openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := &OutputFormatter{Format: opts.Format, Writer: w}

	if a.Degraded() {
		data := map[string]interface{}{"degraded": true, "error": a.StoreErr.Error()}
		return out.Success(data, func(w io.Writer) {
			fmt.Fprintf(w, "Replica unavailable (degraded mode): %v\n", a.StoreErr)
		})
	}

	status, err := a.ReplicaStatus(ctx)
	if err != nil {
		_ = out.Error(err)
		return WrapExitError(ExitFailure, "failed to read replica status", err)
	}
	fresh := status.Health.Synced && time.Since(status.LastSyncedAt) < a.Config.Sync.FreshnessWindow

	data := map[string]interface{}{
		"degraded":       false,
		"record_count":   status.RecordCount,
		"size_mb":        status.SizeMB,
		"schema_version": status.Health.SchemaVersion,
		"synced":         status.Health.Synced,
		"fresh":          fresh,
	}
	if !status.LastSyncedAt.IsZero() {
		data["last_synced_at"] = status.LastSyncedAt.Format(time.RFC3339)
	}
	return out.Success(data, func(w io.Writer) {
		fmt.Fprintf(w, "Records:        %d\n", status.RecordCount)
		fmt.Fprintf(w, "Size:           %.2f MB\n", status.SizeMB)
		fmt.Fprintf(w, "Schema version: %s\n", status.Health.SchemaVersion)
		if status.LastSyncedAt.IsZero() {
			fmt.Fprintln(w, "Last sync:      never")
		} else {
			fmt.Fprintf(w, "Last sync:      %s (fresh: %v)\n", status.LastSyncedAt.Format(time.RFC3339), fresh)
		}
	})
}
