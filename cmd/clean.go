package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tfconvoy/tfconvoy/internal/app"
)

var cleanLimit []string

var cleanCmd = &cobra.Command{
	Use:   "clean <deployment>",
	Short: "Remove a deployment's remote state, refusing to delete any non-empty state.",
	Long: `clean sweeps a deployment's state namespace out of the backend. Every state
object is downloaded and parsed first; any state still tracking resources
aborts the clean. With --limit only the named definitions' objects and lock
rows are removed and the lock table is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := app.BuildApplicationFromViper(cmd.Context(), viper.GetViper(),
			app.BootstrapOptions{Deployment: args[0], CleanOnly: true})
		if err != nil {
			return err
		}
		return application.Clean(cmd.Context(), args[0], cleanLimit)
	},
}

func init() {
	cleanCmd.Flags().StringSliceVar(&cleanLimit, "limit", nil, "Only clean the named definitions")
	rootCmd.AddCommand(cleanCmd)
}
