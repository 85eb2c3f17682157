package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var grantsFormats = []string{"yaml", "json"}

func newGrantsCmd() *cobra.Command {
	opts := DefaultCommonOptions()
	opts.Format = "yaml"

	cmd := &cobra.Command{
		Use:   "grants",
		Short: "Show the capabilities granted to each extension",
		Long: `Show the capability grants saved by the prompter merged with those
listed under capabilities.grants in the host config.`,
		Args: cobra.NoArgs,
		PreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.ValidateFlags(grantsFormats...)
		},
		RunE: withContainer(func(cc *CommandContext, cmd *cobra.Command, _ []string) error {
			grants, err := cc.Container.GrantStore().Load()
			if err != nil {
				return fmt.Errorf("failed to load grants: %w", err)
			}
			return opts.Write(cmd.OutOrStdout(), grants)
		}),
	}
	opts.RegisterFlags(cmd, grantsFormats...)
	return cmd
}
