package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/paramsweep/internal/common/app"
)

func gridCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Submit a job for every combination of the declared parameter values",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return a.Grid(app.CreateContextWithShutdown(), wait(cmd.Flags()))
		},
	}
	addRunFlags(cmd.Flags(), true)
	return cmd
}

func randomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "random",
		Short: "Submit sampling.samples jobs with randomly drawn parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return a.Random(app.CreateContextWithShutdown(), wait(cmd.Flags()))
		},
	}
	addRunFlags(cmd.Flags(), true)
	return cmd
}

func sequentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sequential",
		Short: "Evaluate random samples one job at a time",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return a.Sequential(app.CreateContextWithShutdown())
		},
	}
	addRunFlags(cmd.Flags(), false)
	return cmd
}

func cmaesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cmaes",
		Short: "Minimise the job results over the parameters with CMA-ES",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return a.Cmaes(app.CreateContextWithShutdown())
		},
	}
	addRunFlags(cmd.Flags(), false)
	return cmd
}
