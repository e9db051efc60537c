package cli

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rpattn/formview/internal/auth"
	"github.com/rpattn/formview/internal/domain"
	"github.com/rpattn/formview/internal/httpapi"
	"github.com/rpattn/formview/internal/viewdef"
)

// QueryOptions holds the flags of the query command.
type QueryOptions struct {
	Params       []string
	Viewer       string
	Capabilities string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query <view> [identity]",
		Short: "Render a view page or a single entry",
		Long: `Render one page of a view, or the single entry with the given identity,
using the same filtering, search, sorting and ranking as the HTTP API.

Request parameters are passed as --param key=value, e.g.

  formview query leaderboard --workbook results.xlsx --param search=ada --param pagenum=2`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, rootOpts, opts, args)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "request parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Viewer, "viewer", "", "numeric id of the viewing user")
	cmd.Flags().StringVar(&opts.Capabilities, "capabilities", "", "comma separated viewer capabilities, e.g. moderate")

	return cmd
}

func runQuery(cmd *cobra.Command, rootOpts *RootOptions, opts *QueryOptions, args []string) error {
	out := rootOpts.formatter(cmd)

	query, err := parseParams(opts.Params)
	if err != nil {
		return out.fail(ExitCommandError, ErrCodeQuery, "invalid --param", err)
	}

	cfg, log, err := rootOpts.setup(out)
	if err != nil {
		return err
	}

	ctx := auth.ContextWithViewer(cmd.Context(), auth.ParseViewer(opts.Viewer, opts.Capabilities))

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		if errors.Is(err, errStoreSetup) {
			return out.fail(ExitCommandError, ErrCodeStore, "failed to open record store", err)
		}
		return out.fail(ExitCommandError, ErrCodeConfig, "failed to load views", err)
	}
	defer a.Close()
	out.VerboseLog("Loaded views %v", a.views.IDs())

	viewID := args[0]
	if len(args) == 2 {
		entry, err := a.api.Entry(ctx, viewID, args[1], query)
		if err != nil {
			return queryFailure(out, err)
		}
		return out.Success(entry, func(w io.Writer) {
			printEntries(w, []httpapi.EntryResponse{entry})
		})
	}

	page, err := a.api.List(ctx, viewID, query)
	if err != nil {
		return queryFailure(out, err)
	}
	return out.Success(page, func(w io.Writer) {
		fmt.Fprintf(w, "%s: page %d of %d, %d entries\n", page.View, page.Page, page.Pages, page.Total)
		printEntries(w, page.Entries)
	})
}

func queryFailure(out *OutputFormatter, err error) error {
	switch {
	case errors.Is(err, viewdef.ErrUnknownView):
		return out.fail(ExitFailure, ErrCodeUnknownView, "unknown view", err)
	case errors.Is(err, domain.ErrAccessDenied):
		return out.fail(ExitFailure, ErrCodeAccessDenied, "not allowed", nil)
	default:
		return out.fail(ExitFailure, ErrCodeQuery, "query failed", err)
	}
}

// parseParams turns key=value pairs into query values; repeated keys accumulate.
func parseParams(raw []string) (url.Values, error) {
	values := url.Values{}
	for _, pair := range raw {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		values.Add(strings.TrimSpace(key), value)
	}
	return values, nil
}

func printEntries(w io.Writer, entries []httpapi.EntryResponse) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, entry := range entries {
		rank := "-"
		if entry.Rank != nil {
			rank = fmt.Sprint(*entry.Rank)
		}
		values := entry.Columns
		if len(values) == 0 {
			values = entry.Fields
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", rank, entry.Identity, formatValues(values))
	}
	tw.Flush()
}

func formatValues(values map[string]any) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", key, domain.ValueString(values[key])))
	}
	return strings.Join(parts, " ")
}
