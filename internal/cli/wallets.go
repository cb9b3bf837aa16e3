package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mbd888/payoutd/internal/amount"
)

func newWalletsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallets",
		Short: "Inspect and refresh payout wallets",
	}
	cmd.AddCommand(newWalletsListCommand(opts), newWalletsRefreshCommand(opts), newWalletsRecommendCommand(opts))
	return cmd
}

func newWalletsListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List wallets with balances and health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := opts.client().ListWallets(cmd.Context())
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), ws)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLABEL\tADDRESS\tPRIORITY\tENABLED\tHEALTH\tTRX\tUSDT\tENERGY\tOK/TOTAL")
			for _, w := range ws {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%s\t%s\t%s\t%d\t%d/%d\n",
					w.ID, w.Label, w.Address, w.Priority, w.Enabled, w.Health,
					amount.Format(w.Balance.Coin), amount.Format(w.Balance.Token),
					w.Resources.EnergyAvailable, w.Stats.SuccessCount, w.Stats.TotalTransactions)
			}
			return tw.Flush()
		},
	}
}

func newWalletsRefreshCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [wallet-id]",
		Short: "Re-read balances and resources from the chain (all wallets without an id)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			if len(args) == 0 {
				sum, err := c.RefreshAll(cmd.Context())
				if err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), sum)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d of %d wallets (%d failed)\n", sum.Refreshed, sum.Total, sum.Failed)
				return err
			}
			w, err := c.RefreshWallet(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), w)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s TRX, %s USDT, %d energy, %s\n",
				w.ID, w.Address, amount.Format(w.Balance.Coin), amount.Format(w.Balance.Token),
				w.Resources.EnergyAvailable, w.Health)
			return err
		},
	}
}

func newWalletsRecommendCommand(opts *options) *cobra.Command {
	var payType, amt string
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Show which wallets would pay a payout, in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Recommend(cmd.Context(), payType, amt)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			if len(res.Wallets) == 0 {
				_, err = fmt.Fprintf(out, "no eligible wallet (disabled %d, unhealthy %d, underfunded %d)\n",
					res.Excluded.Disabled, res.Excluded.Unhealthy, res.Excluded.Underfunded)
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tID\tADDRESS\tPRIORITY\tBUSY")
			for _, r := range res.Wallets {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%t\n", r.Rank, r.Wallet.ID, r.Wallet.Address, r.Wallet.Priority, r.Busy)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&payType, "pay-type", "USDT", "asset to pay (TRX or USDT)")
	cmd.Flags().StringVar(&amt, "amount", "", "payout amount")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
