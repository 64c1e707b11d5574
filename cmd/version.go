package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version is set through -ldflags at release build time.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tfconvoy version.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tfconvoy %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Println("requires terraform >= 1.0.0")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
