package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the latest-value cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [systemID]",
	Short: "Clear cached latest values for one system, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var systemID int64
		if len(args) == 1 {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid system id %q", args[0])
			}
			systemID = id
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if systemID > 0 {
				if err := a.latest.Clear(ctx, systemID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared system %d\n", systemID)
				return nil
			}
			n, err := a.latest.ClearAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d systems\n", n)
			return nil
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
}
