package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"DappBridge/sdk/go/bridge"
)

func newStatusCmd(opts *cliOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the wallet session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			snap, err := client.Session(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, snap)
			}
			return printSession(cmd, snap)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw session as JSON")
	return cmd
}

func newConnectCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Ask the wallet for account access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			snap, err := client.Connect(ctx)
			if err != nil {
				return err
			}
			return printSession(cmd, snap)
		},
	}
}

func newDisconnectCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Forget the connected account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			snap, err := client.Disconnect(ctx)
			if err != nil {
				return err
			}
			return printSession(cmd, snap)
		},
	}
}

func newAccountCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Print the authorized account without prompting the wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			acct, err := client.Account(ctx)
			if err != nil {
				return err
			}
			if !acct.Found {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "no authorized account")
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), acct.Account)
			return err
		},
	}
}

func newPendingCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List contract calls still in flight",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			calls, err := client.Pending(ctx)
			if err != nil {
				return err
			}
			for _, call := range calls {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", call.ID, call.Kind, call.Operation, call.IssuedAt.Format("15:04:05"))
			}
			return nil
		},
	}
}

func printSession(cmd *cobra.Command, snap bridge.Session) error {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "session:\t%s\n", snap.ID)
	_, _ = fmt.Fprintf(out, "state:\t%s\n", snap.State)
	if snap.Account != "" {
		_, _ = fmt.Fprintf(out, "account:\t%s\n", snap.Account)
	}
	if snap.ChainID != nil {
		_, _ = fmt.Fprintf(out, "chain:\t%s\n", snap.ChainID)
	}
	if snap.Err != "" {
		_, _ = fmt.Fprintf(out, "error:\t%s (%s)\n", snap.Err, snap.ErrCode)
	}
	return nil
}
