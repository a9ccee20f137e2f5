package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/alertflow/internal/rules"
	"github.com/gyaneshwarpardhi/alertflow/internal/txn"
)

type scoreOptions struct {
	amount  string
	flag    string
	region  string
	account string
	fields  []string
}

// NewScoreCommand creates the score command.
func NewScoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &scoreOptions{}
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Run the configured rules against a synthetic transaction",
		Example: `  alertctl score --amount 49900
  alertctl score --amount 100 --flag fraud
  alertctl score --amount 100 --field field_9=casino --field field_4=12`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return out.Fail(err)
			}
			rs, err := rules.Build(cfg.Rules)
			if err != nil {
				return out.Fail(WrapExitError(ExitCommandError, "build rules", err))
			}
			tx, err := opts.transaction(time.Now().UTC())
			if err != nil {
				return out.Fail(WrapExitError(ExitCommandError, "score", err))
			}
			outcome, err := rules.NewEngine(rs).Score(tx)
			if err != nil {
				return out.Fail(WrapExitError(ExitFailure, "score", err))
			}
			return out.Success(outcome, func(w io.Writer) { printOutcome(w, outcome) })
		},
	}
	cmd.Flags().StringVar(&opts.amount, "amount", "0", "transaction amount")
	cmd.Flags().StringVar(&opts.flag, "flag", "", "value of field_2, the default fraud indicator")
	cmd.Flags().StringVar(&opts.region, "region", "", "value of field_3")
	cmd.Flags().StringVar(&opts.account, "account", "alertctl", "account number")
	cmd.Flags().StringArrayVar(&opts.fields, "field", nil, "generic field as field_N=value (repeatable)")
	return cmd
}

func (o *scoreOptions) transaction(now time.Time) (*txn.Transaction, error) {
	raw := map[string]any{
		"insert_date":     now.Format(txn.DateLayout),
		"insert_time":     now.Format(txn.TimestampLayout),
		"transaction_key": uuid.NewString(),
		"session_id":      uuid.NewString(),
		"account_number":  o.account,
		"first_name":      "alertctl",
		"last_name":       "alertctl",
		"amount":          o.amount,
	}
	if o.flag != "" {
		raw["field_2"] = o.flag
	}
	if o.region != "" {
		raw["field_3"] = o.region
	}
	for _, kv := range o.fields {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, "field_") {
			return nil, fmt.Errorf("--field %q: want field_N=value", kv)
		}
		raw[name] = value
	}
	return txn.Parse(raw)
}

func printOutcome(w io.Writer, o rules.Outcome) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "alert:\t%t\n", o.Alert)
	fmt.Fprintf(tw, "score:\t%d\n", o.Score)
	if o.AmountHit {
		fmt.Fprintf(tw, "amount rule:\t+%d\n", o.AmountScore)
	}
	if o.IndicatorHit {
		fmt.Fprintf(tw, "indicators:\t%s\n", strings.Join(o.Indicators, ", "))
	}
	if o.Alert {
		fmt.Fprintf(tw, "severity:\t%s\n", o.Severity)
		fmt.Fprintf(tw, "type:\t%s\n", o.Type)
		fmt.Fprintf(tw, "description:\t%s\n", o.Description)
	}
	tw.Flush()
}
