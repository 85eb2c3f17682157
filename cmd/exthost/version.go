package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/exthost/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "exthost %s\n", version.Get().Full())
		},
	}
}
