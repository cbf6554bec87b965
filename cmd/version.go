package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ambassador version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("ambassador %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
