package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var registrySystem int64

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Manage composite point subscriptions",
}

var registryBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild the subscription registry from composite definitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var scope *int64
		if cmd.Flags().Changed("system") {
			if registrySystem <= 0 {
				return fmt.Errorf("invalid system id %d", registrySystem)
			}
			scope = &registrySystem
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.registry.Build(ctx, scope); err != nil {
				return err
			}
			if scope != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "registry rebuilt for composite system %d\n", *scope)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "registry rebuilt")
			}
			return nil
		})
	},
}

func init() {
	registryBuildCmd.Flags().Int64Var(&registrySystem, "system", 0, "composite system id to rebuild")
	registryCmd.AddCommand(registryBuildCmd)
}
