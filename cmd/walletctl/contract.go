package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"DappBridge/sdk/go/bridge"
)

func newReadCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <operation> [args...]",
		Short: "Call a read-only contract operation",
		Long:  "Arguments that parse as JSON (numbers, booleans, arrays) are sent as such; anything else is sent as a string.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			result, err := client.Read(ctx, args[0], parseArgs(args[1:])...)
			if err != nil {
				return err
			}
			return writeJSON(cmd, result)
		},
	}
}

func newWriteCmd(opts *cliOptions) *cobra.Command {
	var value string
	cmd := &cobra.Command{
		Use:   "write <operation> [args...]",
		Short: "Sign and send a contract operation, then wait for confirmation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			result, err := client.Write(ctx, bridge.CallRequest{
				Operation: args[0],
				Args:      parseArgs(args[1:]),
				Value:     value,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "wei to attach to the transaction, decimal")
	return cmd
}

func newCallsCmd(opts *cliOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Show the latest journaled contract calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			records, err := client.Calls(ctx, limit)
			if err != nil {
				return err
			}
			for _, rec := range records {
				status := rec.Outcome
				if rec.ErrorCode != "" {
					status = fmt.Sprintf("%s:%s", rec.Outcome, rec.ErrorCode)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%dms\t%s\n",
					rec.IssuedAt.Format("2006-01-02 15:04:05"), rec.Kind, rec.Operation, status, rec.DurationMS, rec.TxHash)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of records to show")
	return cmd
}

// parseArgs keeps numbers as json.Number so large integers survive the trip.
func parseArgs(raw []string) []any {
	out := make([]any, 0, len(raw))
	for _, arg := range raw {
		dec := json.NewDecoder(bytes.NewReader([]byte(arg)))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil || dec.More() || v == nil {
			out = append(out, arg)
			continue
		}
		out = append(out, v)
	}
	return out
}
