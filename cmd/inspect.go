package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vinyl-linux/crate/pkgfile"
)

// Flag values
var (
	payloadOnly bool
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info [package]",
	Short: "print installer package metadata",
	Long:  "print the key/value metadata of an existing installer package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		attrs, err := pkgfile.Info(args[0])
		if err != nil {
			return errWrap("inspecting package", err)
		}

		for _, attr := range attrs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", attr.Key, attr.Value)
		}

		return nil
	},
}

// filesCmd represents the files command
var filesCmd = &cobra.Command{
	Use:   "files [package]",
	Short: "list the files inside an installer package",
	Long:  "list the files inside an installer package; --payload limits the listing to the files the package would install",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		cmd.SilenceUsage = true

		var files []string

		if payloadOnly {
			files, err = pkgfile.PayloadFiles(args[0])
		} else {
			files, err = pkgfile.Files(args[0])
		}

		if err != nil {
			return errWrap("listing package", err)
		}

		for _, f := range files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}

		return nil
	},
}

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract [package] [dest]",
	Short: "extract an installer package to a directory",
	Long:  "extract an installer package, including its payload and scripts archives, to an empty directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		err := pkgfile.Extract(args[0], args[1])
		if err != nil {
			return errWrap("extracting package", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Extracted %s to %s\n", args[0], args[1])

		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(extractCmd)

	filesCmd.Flags().BoolVar(&payloadOnly, "payload", false, "list payload files only")
}
