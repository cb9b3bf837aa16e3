// Package cli implements payoutctl, the operator command line for the
// payoutd admin API.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type options struct {
	baseURL string
	secret  string
	timeout time.Duration
	asJSON  bool
}

func (o *options) client() *Client {
	return NewClient(o.baseURL, o.secret, o.timeout)
}

// NewRootCommand builds the payoutctl command tree.
func NewRootCommand() *cobra.Command {
	_ = godotenv.Load()

	opts := &options{}
	root := &cobra.Command{
		Use:           "payoutctl",
		Short:         "Operate a payoutd instance",
		Long:          `payoutctl inspects wallets and payout orders and triggers retries through the payoutd admin API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.secret == "" {
				return fmt.Errorf("admin secret required: set ADMIN_SECRET or pass --secret")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("PAYOUTD_URL", "http://localhost:8080"), "payoutd base URL")
	root.PersistentFlags().StringVar(&opts.secret, "secret", os.Getenv("ADMIN_SECRET"), "admin secret (defaults to $ADMIN_SECRET)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 90*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print raw JSON")

	root.AddCommand(newWalletsCommand(opts), newOrdersCommand(opts), newDispatchCommand(opts))
	return root
}

// Execute runs payoutctl and exits non-zero on failure.
func Execute() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "error:", err)
		os.Exit(1)
	}
}

func newDispatchCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run one dispatch cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := opts.client().Dispatch(cmd.Context())
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), sum)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"picked %d: completed %d, retried %d, failed %d, deferred %d, skipped %d, errors %d\n",
				sum.Picked, sum.Completed, sum.Retried, sum.Failed, sum.Deferred, sum.Skipped, sum.Errors)
			return err
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
