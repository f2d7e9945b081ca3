package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var activateCmd = &cobra.Command{
	Use:   "activate <device-id> <relay-id>",
	Short: "Trigger a relay (dry contact) of a doorbell",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := setupAccount(cmd.Context())
		if err != nil {
			return err
		}

		ok, err := entry.ActivateRelay(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("relay %s of %s: activation rejected", args[1], args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Relay %s of %s activated\n", args[1], args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(activateCmd)
}
