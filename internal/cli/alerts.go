package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
	"github.com/gyaneshwarpardhi/alertflow/internal/store"
	"github.com/gyaneshwarpardhi/alertflow/internal/transition"
	"github.com/gyaneshwarpardhi/alertflow/internal/txn"
)

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid alert id %q", s), err)
	}
	return id, nil
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <alert-id>",
		Short: "Show one alert from the by-id view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			id, err := parseID(args[0])
			if err != nil {
				return out.Fail(err)
			}
			st, _, err := rootOpts.openStore(cmd.Context())
			if err != nil {
				return out.Fail(err)
			}
			defer st.Close()

			a, err := st.AlertByID(cmd.Context(), id)
			if errors.Is(err, store.ErrNotFound) {
				return out.Fail(WrapExitError(ExitFailure, "show", &transition.NotFoundError{ID: id}))
			}
			if err != nil {
				return out.Fail(WrapExitError(ExitFailure, "show", err))
			}
			return out.Success(a, func(w io.Writer) { printAlert(w, a) })
		},
	}
}

func printAlert(w io.Writer, a *alert.Alert) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", a.ID)
	fmt.Fprintf(tw, "status:\t%s\n", a.Status)
	fmt.Fprintf(tw, "reviewed:\t%t\n", a.Reviewed)
	fmt.Fprintf(tw, "score:\t%d\n", a.Score)
	fmt.Fprintf(tw, "severity:\t%s\n", a.Severity)
	fmt.Fprintf(tw, "type:\t%s\n", a.Type)
	fmt.Fprintf(tw, "tenant:\t%d\n", a.Tenant)
	fmt.Fprintf(tw, "region:\t%s\n", a.Region)
	fmt.Fprintf(tw, "account:\t%s\n", a.AccountNumber)
	fmt.Fprintf(tw, "amount:\t%s\n", a.Amount)
	fmt.Fprintf(tw, "created:\t%s\n", a.CreatedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(tw, "description:\t%s\n", a.Description)
	fmt.Fprintf(tw, "transaction:\t%s\n", a.TransactionKey)
	tw.Flush()
}

type listOptions struct {
	status string
	date   string
	limit  int
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts in one status partition for one day, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			status, err := alert.ParseStatus(opts.status)
			if err != nil {
				return out.Fail(WrapExitError(ExitCommandError, "list", err))
			}
			day := time.Now().UTC()
			if opts.date != "" {
				if day, err = time.Parse(txn.DateLayout, opts.date); err != nil {
					return out.Fail(WrapExitError(ExitCommandError, "invalid --date", err))
				}
			}
			st, _, err := rootOpts.openStore(cmd.Context())
			if err != nil {
				return out.Fail(err)
			}
			defer st.Close()

			out.VerboseLog("scanning %s alerts on %s", status, day.Format(txn.DateLayout))
			alerts, err := st.AlertsByStatus(cmd.Context(), status, day, opts.limit)
			if err != nil {
				return out.Fail(WrapExitError(ExitFailure, "list", err))
			}
			if alerts == nil {
				alerts = []alert.Alert{}
			}
			return out.Success(alerts, func(w io.Writer) { printAlerts(w, alerts) })
		},
	}
	cmd.Flags().StringVar(&opts.status, "status", string(alert.StatusNew), "status partition to scan")
	cmd.Flags().StringVar(&opts.date, "date", "", "alert date YYYY-MM-DD (default today, UTC)")
	cmd.Flags().IntVar(&opts.limit, "limit", 100, "maximum rows (0 for all)")
	return cmd
}

func printAlerts(w io.Writer, alerts []alert.Alert) {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "no alerts")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSCORE\tSEVERITY\tTYPE\tREVIEWED\tACCOUNT")
	for _, a := range alerts {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%t\t%s\n",
			a.ID, a.CreatedAt.Format(time.RFC3339), a.Score, a.Severity, a.Type, a.Reviewed, a.AccountNumber)
	}
	tw.Flush()
}

// NewTransitionCommand creates the transition command.
func NewTransitionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transition <alert-id> <status>",
		Short: "Move an alert to another status",
		Long: `Move an alert to another status, relocating its by-status row.

Moving an alert to the status it already has is a no-op. Use the status
"reviewed" to open the alert and mark it reviewed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			id, err := parseID(args[0])
			if err != nil {
				return out.Fail(err)
			}
			st, cfg, err := rootOpts.openStore(cmd.Context())
			if err != nil {
				return out.Fail(err)
			}
			defer st.Close()

			cl, err := store.ParseConsistency(cfg.Transition.Consistency)
			if err != nil {
				return out.Fail(WrapExitError(ExitCommandError, "transition consistency", err))
			}
			coord := transition.New(st, transition.WithConsistency(cl))

			var res transition.Result
			if args[1] == "reviewed" {
				res, err = coord.MarkReviewed(cmd.Context(), id)
			} else {
				var status alert.Status
				if status, err = alert.ParseStatus(args[1]); err != nil {
					return out.Fail(WrapExitError(ExitCommandError, "transition", err))
				}
				res, err = coord.Transition(cmd.Context(), id, status)
			}
			if err != nil {
				return out.Fail(WrapExitError(ExitFailure, "transition", err))
			}
			return out.Success(res, func(w io.Writer) {
				if !res.Changed {
					fmt.Fprintf(w, "alert %s already %s\n", id, res.Alert.Status)
					return
				}
				fmt.Fprintf(w, "alert %s: %s -> %s (reviewed=%t)\n", id, res.From, res.Alert.Status, res.Alert.Reviewed)
			})
		},
	}
}
