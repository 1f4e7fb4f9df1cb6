package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NicolasHaas/screenshare/pkg/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the screenshare version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.Full())
			return err
		},
	}
}
