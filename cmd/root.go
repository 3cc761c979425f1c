package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "esim",
	Short: "eSIM provisioning service",
	Long:  "Reconciles paid eSIM orders with the vendor: provisioning, profile sync, usage tracking and customer notifications.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
