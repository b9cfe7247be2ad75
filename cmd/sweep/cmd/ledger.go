package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/G-Research/paramsweep/internal/common/app"
)

func reloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Import existing result files from the output directory into the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			n, err := a.Reload(app.CreateContextWithShutdown())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d results\n", n)
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarise the jobs recorded in the ledger for the run label",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return a.Status(app.CreateContextWithShutdown())
		},
	}
	return cmd
}
