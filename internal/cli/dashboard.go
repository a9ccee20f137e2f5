package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/alertflow/internal/config"
	"github.com/gyaneshwarpardhi/alertflow/internal/dashboard"
)

// NewDashboardCommand creates the dashboard command group.
func NewDashboardCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Rebuild or show dashboard aggregates",
	}
	cmd.AddCommand(newDashboardRefreshCommand(rootOpts))
	cmd.AddCommand(newDashboardShowCommand(rootOpts))
	return cmd
}

// cacheOptions adds the Redis read cache when one is configured. An
// unreachable Redis is reported and skipped.
func cacheOptions(ctx context.Context, cfg *config.AppConfig, out *OutputFormatter, svcOpts []dashboard.Option) ([]dashboard.Option, func()) {
	if cfg.Dashboard.RedisAddr == "" {
		return svcOpts, func() {}
	}
	rdb, err := dashboard.DialRedis(ctx, cfg.Dashboard.RedisAddr, cfg.Dashboard.RedisDB)
	if err != nil {
		out.VerboseLog("dashboard cache disabled: %v", err)
		return svcOpts, func() {}
	}
	ttl := time.Duration(cfg.Dashboard.CacheTTLSec) * time.Second
	return append(svcOpts, dashboard.WithCache(dashboard.NewRedisCache(rdb, ttl))), func() { rdb.Close() }
}

func parseViews(args []string) ([]dashboard.View, error) {
	views := make([]dashboard.View, 0, len(args))
	for _, a := range args {
		if a == "all" {
			return nil, nil
		}
		v, err := dashboard.ParseView(a)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "dashboard", err)
		}
		views = append(views, v)
	}
	return views, nil
}

func newDashboardRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [view...]",
		Short: "Recompute dashboard counts from the by-status view (all views by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			views, err := parseViews(args)
			if err != nil {
				return out.Fail(err)
			}
			st, cfg, err := rootOpts.openStore(cmd.Context())
			if err != nil {
				return out.Fail(err)
			}
			defer st.Close()
			svcOpts, closeCache := cacheOptions(cmd.Context(), cfg, out, nil)
			defer closeCache()

			all, err := dashboard.New(st, svcOpts...).Refresh(cmd.Context(), views...)
			if err != nil {
				return out.Fail(WrapExitError(ExitFailure, "refresh", err))
			}
			data := make(map[dashboard.View][]dashboard.Entry, len(all))
			for v, counts := range all {
				data[v] = dashboard.Sorted(counts)
			}
			return out.Success(data, func(w io.Writer) {
				for _, v := range dashboard.Views {
					if entries, ok := data[v]; ok {
						fmt.Fprintf(w, "[%s]\n", v)
						printEntries(w, entries)
					}
				}
			})
		},
	}
}

func newDashboardShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <view>",
		Short: "Show the stored counts of one view (type, tenant, region, score_range)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			v, err := dashboard.ParseView(args[0])
			if err != nil {
				return out.Fail(WrapExitError(ExitCommandError, "dashboard", err))
			}
			st, cfg, err := rootOpts.openStore(cmd.Context())
			if err != nil {
				return out.Fail(err)
			}
			defer st.Close()
			svcOpts, closeCache := cacheOptions(cmd.Context(), cfg, out, nil)
			defer closeCache()

			counts, err := dashboard.New(st, svcOpts...).Get(cmd.Context(), v)
			if err != nil {
				return out.Fail(WrapExitError(ExitFailure, "show", err))
			}
			entries := dashboard.Sorted(counts)
			return out.Success(entries, func(w io.Writer) { printEntries(w, entries) })
		},
	}
}

func printEntries(w io.Writer, entries []dashboard.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "  (empty)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tw, "  %s\t%d\n", e.Bucket, e.Count)
	}
	tw.Flush()
}
