package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build information, set at compile time via ldflags
var (
	Ref     = "unknown"
	BuiltOn = "unknown"
	BuiltBy = "unknown"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print crate build information",
	Long:  "print crate build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "crate\nref: %s\nbuilt on: %s\nbuilt by: %s\n", Ref, BuiltOn, BuiltBy)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
