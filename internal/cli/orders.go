package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/payoutd/internal/amount"
	"github.com/mbd888/payoutd/internal/payout"
)

func newOrdersCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect and retry payout orders",
	}
	cmd.AddCommand(newOrdersListCommand(opts), newOrdersGetCommand(opts), newOrdersRetryCommand(opts))
	return cmd
}

func newOrdersListCommand(opts *options) *cobra.Command {
	var (
		status string
		cursor string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, next, err := opts.client().ListOrders(cmd.Context(), status, cursor, limit)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"orders": orders, "nextCursor": next})
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tREFERENCE\tTYPE\tAMOUNT\tPAYMENT\tTRANSFER\tRETRIES\tREASON\tCREATED")
			for _, o := range orders {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					o.ID, o.Reference, o.PayType, amount.Format(o.Amount), o.PaymentStatus, o.TransferStatus,
					o.RetryCount, o.LastFailure, o.CreatedAt.Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if next != "" {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "\nmore: --cursor %s\n", next)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by transfer status (pending, processing, completed, failed)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue from a previous page")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	return cmd
}

func newOrdersGetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <order-id>",
		Short: "Show an order with its attempt log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := opts.client().GetOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), d)
			}
			return printOrder(cmd.OutOrStdout(), d.Order, d.Attempts)
		},
	}
}

func newOrdersRetryCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <order-id>",
		Short: "Manually retry a failed order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := opts.client().RetryOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), o)
			}
			return printOrder(cmd.OutOrStdout(), o, nil)
		},
	}
}

func printOrder(w io.Writer, o *payout.Order, attempts []*payout.Attempt) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", o.ID)
	fmt.Fprintf(tw, "reference\t%s\n", o.Reference)
	fmt.Fprintf(tw, "payout\t%s %s -> %s\n", amount.Format(o.Amount), o.PayType, o.Destination)
	fmt.Fprintf(tw, "payment\t%s\n", o.PaymentStatus)
	fmt.Fprintf(tw, "transfer\t%s (retries %d)\n", o.TransferStatus, o.RetryCount)
	if o.AssignedWalletID != "" {
		fmt.Fprintf(tw, "wallet\t%s\n", o.AssignedWalletID)
	}
	if o.TxReference != "" {
		fmt.Fprintf(tw, "tx\t%s\n", o.TxReference)
	}
	if o.LastFailure != "" {
		fmt.Fprintf(tw, "last failure\t%s: %s\n", o.LastFailure, o.LastError)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(attempts) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tWALLET\tOUTCOME\tREASON\tLATENCY\tTX")
	for _, a := range attempts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dms\t%s\n",
			a.CreatedAt.Format(time.RFC3339), a.WalletID, a.Outcome, a.Reason, a.LatencyMS, a.TxRef)
	}
	return tw.Flush()
}
