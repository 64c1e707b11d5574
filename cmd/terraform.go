package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tfconvoy/tfconvoy/internal/app"
	"github.com/tfconvoy/tfconvoy/internal/run"
)

var (
	flagApply    bool
	flagDestroy  bool
	flagPlanOnly bool
	flagForce    bool
	flagLimit    []string
)

var terraformCmd = &cobra.Command{
	Use:   "terraform <deployment>",
	Short: "Run init and plan (and optionally apply or destroy) across the deployment's definitions.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagApply && flagDestroy {
			return cmd.Help()
		}

		application, err := app.BuildApplicationFromViper(cmd.Context(), viper.GetViper(),
			app.BootstrapOptions{Deployment: args[0]})
		if err != nil {
			return err
		}
		return application.Run(cmd.Context(), run.Options{
			Apply:    flagApply,
			Destroy:  flagDestroy,
			PlanOnly: flagPlanOnly,
			Force:    flagForce,
			Limit:    flagLimit,
		})
	},
}

func init() {
	terraformCmd.Flags().BoolVar(&flagApply, "apply", false, "Apply definitions whose plan carries changes")
	terraformCmd.Flags().BoolVar(&flagDestroy, "destroy", false, "Destroy definitions, in reverse declared order")
	terraformCmd.Flags().BoolVar(&flagPlanOnly, "plan-only", false, "Stop after planning")
	terraformCmd.Flags().BoolVar(&flagForce, "force", false, "Proceed to apply/destroy regardless of change detection")
	terraformCmd.Flags().StringSliceVar(&flagLimit, "limit", nil, "Restrict the run to the named definitions")
	terraformCmd.Flags().Bool("stream-output", false, "Echo terraform output incrementally")
	viper.BindPFlag("settings.stream_output", terraformCmd.Flags().Lookup("stream-output"))

	rootCmd.AddCommand(terraformCmd)
}
