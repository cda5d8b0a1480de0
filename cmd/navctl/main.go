// Package main is navctl, the operator CLI for the NAV strike engine.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		server  string
		timeout time.Duration
		api     *client
	)

	defaultServer := os.Getenv("NAVCTL_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}

	root := &cobra.Command{
		Use:          "navctl",
		Short:        "Operate a NAV strike engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			api = newClient(server, timeout)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&server, "server", defaultServer, "Engine admin API base URL (env NAVCTL_SERVER)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Request timeout")

	root.AddCommand(
		&cobra.Command{
			Use:   "enqueue <investor> <subscribe|redeem> <amount>",
			Short: "Queue an investor intent for the next strike",
			Long: `Queues a subscription (amount in value units) or a redemption
(amount in shares). The order settles at the NAV fixed by the next strike.`,
			Args: cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				body := map[string]string{"investor": args[0], "kind": args[1], "amount": args[2]}
				data, err := api.do(cmd.Context(), http.MethodPost, "/api/v1/orders", nil, body)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), data)
			},
		},
		&cobra.Command{
			Use:   "strike <nav>",
			Short: "Execute a strike now at the given NAV",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := api.do(cmd.Context(), http.MethodPost, "/api/v1/strikes", nil, map[string]string{"nav": args[0]})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), data)
			},
		},
		&cobra.Command{
			Use:   "state",
			Short: "Show fund NAV, AUM, shares outstanding and next strike",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := api.do(cmd.Context(), http.MethodGet, "/api/v1/fund", nil, nil)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), data)
			},
		},
		&cobra.Command{
			Use:   "pending",
			Short: "List orders awaiting the next strike",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := api.do(cmd.Context(), http.MethodGet, "/api/v1/orders/pending", nil, nil)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), data)
			},
		},
		&cobra.Command{
			Use:   "cancel <order-id>",
			Short: "Withdraw a pending order",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("order id %q is not an integer", args[0])
				}
				if _, err := api.do(cmd.Context(), http.MethodDelete, "/api/v1/orders/"+strconv.FormatInt(id, 10), nil, nil); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "order %d cancelled\n", id)
				return nil
			},
		},
		newReportCmd(&api),
		&cobra.Command{
			Use:   "reconcile",
			Short: "Resolve timed-out settlements against the ledger",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := api.do(cmd.Context(), http.MethodPost, "/api/v1/reconcile", nil, nil)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), data)
			},
		},
		newAccountCmd("freeze", "Block an investor account on the ledger", &api),
		newAccountCmd("thaw", "Unblock an investor account on the ledger", &api),
	)
	return root
}

func newReportCmd(api **client) *cobra.Command {
	var (
		format string
		window time.Duration
		table  string
	)
	cmd := &cobra.Command{
		Use:   "report [strike-id|latest]",
		Short: "Show a strike report, or the fund report when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"format": {format}}
			path := "/api/v1/fund/report"
			if len(args) == 1 {
				path = "/api/v1/strikes/" + url.PathEscape(args[0])
				if table != "" {
					q.Set("table", table)
				}
			} else {
				q.Set("window", window.String())
			}

			data, err := (*api).do(cmd.Context(), http.MethodGet, path, q, nil)
			if err != nil {
				return err
			}
			if format == "json" {
				return printJSON(cmd.OutOrStdout(), data)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "md", "Output format: md, csv or json")
	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "Fund report window")
	cmd.Flags().StringVar(&table, "table", "", "CSV table of a strike report: receipts (default) or failures")
	return cmd
}

func newAccountCmd(action, short string, api **client) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <account>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/accounts/" + url.PathEscape(args[0]) + "/" + action
			if _, err := (*api).do(cmd.Context(), http.MethodPost, path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s: %s done\n", args[0], action)
			return nil
		},
	}
}

// printJSON re-indents a JSON response body.
func printJSON(w io.Writer, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, werr := w.Write(data)
		return werr
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
