package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/refcache/internal/app"
	"github.com/dshills/refcache/internal/hybrid"
	"github.com/dshills/refcache/pkg/types"
)

// cliSurface is the result list used by the search command
const cliSurface = "cli"

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Page        int
	PageSize    int
	Interactive bool
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the materials catalog",
		Long: `Search the materials catalog.

Without --page the query runs semantic first with keyword fallback and prints
a ranked list. With --page the local replica is filtered and paged; every
token must match. An empty query browses. --interactive reads one query per
line from stdin and prints the result once typing settles.

Example:
  refcache search "штукатурка гипсовая"
  refcache search --page 2 "category:Сухие смеси"
  refcache search -i`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			return runSearch(cmd.Context(), opts, query, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&opts.Page, "page", "p", 0, "page through local filter results")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "records per page (default from config)")
	cmd.Flags().BoolVarP(&opts.Interactive, "interactive", "i", false, "read queries from stdin as you type")

	return cmd
}

func runSearch(ctx context.Context, opts *SearchOptions, query string, in io.Reader, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := opts.openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := &OutputFormatter{Format: opts.Format, Writer: w}

	switch {
	case opts.Interactive:
		return runInteractive(ctx, a, in, out)
	case opts.Page > 0:
		pageSize := opts.PageSize
		if pageSize <= 0 {
			pageSize = a.Config.Search.PageSize
		}
		page, err := a.Browse(ctx, query, opts.Page, pageSize)
		if err != nil {
			_ = out.Error(err)
			return WrapExitError(ExitFailure, "search failed", err)
		}
		data := map[string]interface{}{
			"page":     opts.Page,
			"total":    page.TotalCount,
			"has_more": page.HasMore(opts.Page, pageSize),
			"items":    page.Items,
		}
		return out.Success(data, func(w io.Writer) {
			printRecords(w, page.Items)
			fmt.Fprintf(w, "page %d, %d of %d\n", opts.Page, len(page.Items), page.TotalCount)
		})
	default:
		st, err := a.Orchestrator.Search(ctx, cliSurface, query)
		if err != nil {
			_ = out.Error(err)
			return WrapExitError(ExitFailure, "search failed", err)
		}
		return printState(out, st)
	}
}

// runInteractive feeds stdin lines to a typeahead and prints settled results
// until stdin ends and the last query has been answered.
func runInteractive(ctx context.Context, a *app.App, in io.Reader, out *OutputFormatter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ta := hybrid.NewTypeahead(ctx, a.Orchestrator, cliSurface, a.Config.Search.Debounce)
	defer ta.Stop()

	var (
		mu       sync.Mutex
		last     string
		hasInput bool
	)
	eof := make(chan struct{})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(eof)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			last, hasInput = line, true
			mu.Unlock()
			ta.Input(line)
		}
		return scanner.Err()
	})
	g.Go(func() error {
		var (
			answered  string
			gotAnswer bool
			atEOF     bool
		)
		settled := func() bool {
			mu.Lock()
			defer mu.Unlock()
			return atEOF && (!hasInput || (gotAnswer && answered == last))
		}
		eofCh := eof
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-eofCh:
				eofCh = nil
				atEOF = true
			case u := <-ta.Updates():
				if u.Err != nil {
					_ = out.Error(u.Err)
				} else if err := printState(out, u.State); err != nil {
					return err
				}
				answered, gotAnswer = u.Query, true
			}
			if settled() {
				return nil
			}
		}
	})
	return g.Wait()
}

func printState(out *OutputFormatter, st hybrid.State) error {
	data := map[string]interface{}{
		"query":    st.Query,
		"source":   st.Source,
		"mode":     st.Mode,
		"has_more": st.HasMore,
		"total":    st.TotalCount,
		"items":    st.Items,
	}
	if len(st.ExpandedKeywords) > 0 {
		data["expanded_keywords"] = st.ExpandedKeywords
	}
	return out.Success(data, func(w io.Writer) {
		printRecords(w, st.Items)
		fmt.Fprintf(w, "%d results from %s", len(st.Items), st.Source)
		if len(st.ExpandedKeywords) > 0 {
			fmt.Fprintf(w, " (also: %s)", strings.Join(st.ExpandedKeywords, ", "))
		}
		fmt.Fprintln(w)
	})
}

func printRecords(w io.Writer, records []types.ReferenceRecord) {
	for _, r := range records {
		fmt.Fprintf(w, "%-10s %-50s %8.2f %s\n", r.ID, r.Name, r.Price, r.Unit)
	}
}
