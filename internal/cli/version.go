package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/refcache/internal/storage"
)

var (
	// Version is set at build time with -ldflags
	Version = "dev"
	// BuildTime is set at build time with -ldflags
	BuildTime = "unknown"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			data := map[string]interface{}{
				"version":       Version,
				"build_time":    BuildTime,
				"build_mode":    storage.BuildMode,
				"sqlite_driver": storage.DriverName,
				"native_sqlite": storage.NativeDriver,
			}
			return out.Success(data, func(w io.Writer) {
				fmt.Fprintf(w, "refcache %s\n", Version)
				fmt.Fprintf(w, "Build Time: %s\n", BuildTime)
				fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
				fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
			})
		},
	}
}
