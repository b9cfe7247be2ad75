package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/G-Research/paramsweep/internal/common"
	commonconfig "github.com/G-Research/paramsweep/internal/common/config"
	"github.com/G-Research/paramsweep/internal/sweep"
	"github.com/G-Research/paramsweep/internal/sweep/configuration"
)

const (
	CustomConfigLocation string = "config"
	DefaultConfigPath    string = "./config/sweep"
	dryRunFlag           string = "dry-run"
	waitFlag             string = "wait"
)

// RootCmd is the root Cobra command that gets called from the main func.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "sweep",
		SilenceUsage: true,
		Short:        "sweep runs parameter sweeps and optimisations as PBS or Slurm batch jobs.",
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")

	cmd.AddCommand(
		gridCmd(),
		randomCmd(),
		sequentialCmd(),
		cmaesCmd(),
		reloadCmd(),
		statusCmd(),
		versionCmd(),
	)

	return cmd
}

func addRunFlags(flags *pflag.FlagSet, wait bool) {
	flags.Bool(dryRunFlag, false, "Write job scripts without submitting them")
	if wait {
		flags.Bool(waitFlag, false, "Wait for all jobs to finish and report the best result")
	}
}

func loadConfig(flags *pflag.FlagSet) (configuration.SweepConfiguration, error) {
	var config configuration.SweepConfiguration
	userSpecifiedConfigs, err := flags.GetStringSlice(CustomConfigLocation)
	if err != nil {
		return config, err
	}
	if _, err := common.LoadConfig(&config, DefaultConfigPath, userSpecifiedConfigs); err != nil {
		return config, err
	}
	if flags.Lookup(dryRunFlag) != nil && flags.Changed(dryRunFlag) {
		config.DryRun, _ = flags.GetBool(dryRunFlag)
	}

	err = config.Validate()
	if err != nil {
		commonconfig.LogValidationErrors(err)
	}
	return config, err
}

func newApp(cmd *cobra.Command) (*sweep.App, error) {
	config, err := loadConfig(cmd.Flags())
	if err != nil {
		return nil, err
	}
	app := sweep.New(config)
	app.Out = cmd.OutOrStdout()
	return app, nil
}

func wait(flags *pflag.FlagSet) bool {
	w, _ := flags.GetBool(waitFlag)
	return w
}
