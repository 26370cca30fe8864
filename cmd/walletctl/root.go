package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"DappBridge/sdk/go/bridge"
)

const (
	envURL   = "BRIDGE_URL"
	envToken = "BRIDGE_API_TOKEN"

	defaultURL = "http://127.0.0.1:8080"
)

type cliOptions struct {
	url     string
	token   string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	rootCmd := &cobra.Command{
		Use:           "walletctl",
		Short:         "Drive a DappBridge wallet session from the terminal",
		Long:          "walletctl talks to a running bridged daemon: connect the wallet, inspect the session, call the contract and manage roles.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.url, "url", envOr(envURL, defaultURL), "bridged API base URL (env "+envURL+")")
	flags.StringVar(&opts.token, "token", os.Getenv(envToken), "API bearer token (env "+envToken+")")
	flags.DurationVar(&opts.timeout, "timeout", bridge.DefaultHTTPTimeout, "request timeout; writes wait for confirmation")

	rootCmd.AddCommand(
		newStatusCmd(opts),
		newConnectCmd(opts),
		newDisconnectCmd(opts),
		newAccountCmd(opts),
		newPendingCmd(opts),
		newReadCmd(opts),
		newWriteCmd(opts),
		newCallsCmd(opts),
		newRoleCmd(opts),
	)
	return rootCmd
}

func (o *cliOptions) client() (*bridge.Client, error) {
	client, err := bridge.NewClient(o.url, nil)
	if err != nil {
		return nil, err
	}
	client.SetAccessToken(o.token)
	return client, nil
}

func (o *cliOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
