package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRoleCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Inspect and change the account role",
	}
	cmd.AddCommand(
		newRoleCurrentCmd(opts),
		newRoleSwitchCmd(opts),
		newRoleRegisterCmd(opts),
	)
	return cmd
}

func newRoleCurrentCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Print the cached role of the connected account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			role, err := client.CurrentRole(ctx)
			if err != nil {
				return err
			}
			if !role.Found {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "no role selected")
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), role.Role)
			return err
		},
	}
}

func newRoleSwitchCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <role>",
		Short: "Switch to a role the account already registered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			role, err := client.SwitchRole(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "switched to %s\n", role.Role)
			return err
		},
	}
}

func newRoleRegisterCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <role>",
		Short: "Register a role on the contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			result, err := client.RegisterRole(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd, result)
		},
	}
}
